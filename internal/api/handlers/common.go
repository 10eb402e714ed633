package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/deepfake-detector/internal/utils"
)

const anonymousUser = "anonymous-user"

// APIError is the body of every non-2xx JSON response.
type APIError struct {
	Code      utils.Code `json:"code"`
	Message   string     `json:"message"`
	RequestID string     `json:"request_id,omitempty"`
}

// writeError answers with the status for err's code. The error is also
// attached to the gin context so the request log carries the cause.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	code := utils.CodeOf(err)
	status := utils.HTTPStatus(err)
	msg := http.StatusText(status)
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" && code != utils.CodeInternal {
		msg = ae.Message
	}
	c.AbortWithStatusJSON(status, APIError{
		Code:      code,
		Message:   msg,
		RequestID: c.GetString("request_id"),
	})
}

// userID is the authenticated subject, or the shared anonymous user when
// auth is disabled.
func userID(c *gin.Context) string {
	if s := c.GetString("user_id"); s != "" {
		return s
	}
	return anonymousUser
}

func requireParam(c *gin.Context, op, name string) (string, bool) {
	v := c.Param(name)
	if v == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing "+name, nil))
		return "", false
	}
	return v, true
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, op, name string, def int64) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, name+" must be a non-negative integer", err))
		return 0, false
	}
	return v, true
}
