package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/telemetry"
)

const (
	HeaderRequestID = "X-Request-Id"
	unmatchedRoute  = "unmatched"
)

// health-check routes are polled by load balancers and scrapers; they log at debug.
var quietRoutes = map[string]bool{
	"/ping":    true,
	"/health":  true,
	"/metrics": true,
}

// RequestLogger logs one line per request and counts it in the HTTP metrics.
// Upgraded websocket requests log when the socket closes.
func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := requestID(c.GetHeader(HeaderRequestID))
		c.Header(HeaderRequestID, reqID)
		c.Set("request_id", reqID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		telemetry.RecordHTTP(c.Request.Method, route, status)

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       route,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}
		if u := c.GetString("user_id"); u != "" {
			fields["user_id"] = u
		}
		if sid := c.Param("session_id"); sid != "" {
			fields["session_id"] = sid
		}
		entry := l.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		case quietRoutes[route]:
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}

// requestID keeps a caller-supplied id only when it is a UUID, so ids in the
// logs stay bounded and uniform.
func requestID(in string) string {
	if id, err := uuid.Parse(in); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
