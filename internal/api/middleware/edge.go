package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"

	"github.com/yoockh/deepfake-detector/internal/utils"
)

type EdgeConfig struct {
	// AllowedOrigins for CORS; empty allows any origin without credentials.
	AllowedOrigins []string
	// RatePerMinute per client IP; zero disables limiting.
	RatePerMinute int
}

// Edge wraps the whole router with the net/http concerns gin does not own:
// CORS preflight and per-IP rate limiting.
func Edge(next http.Handler, cfg EdgeConfig) http.Handler {
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	allowCredentials := len(origins) > 0
	if !allowCredentials {
		origins = []string{"*"}
	}

	h := next
	if cfg.RatePerMinute > 0 {
		h = httprate.Limit(cfg.RatePerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests),
		)(h)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderRequestID},
		ExposedHeaders:   []string{HeaderRequestID},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	})(h)
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(apiError{Code: utils.CodeUnavailable, Message: "rate limit exceeded"})
}
