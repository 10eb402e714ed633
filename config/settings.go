package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is everything the process reads from the environment.
type Settings struct {
	Port        string
	FrontendURL string
	LogLevel    string

	RedisURL            string
	RedisHealthInterval time.Duration

	MongoURI string
	MongoDB  string

	AIServiceURL       string
	ForensicServiceURL string
	InferenceTimeout   time.Duration

	GCSBucket     string
	AuthJWTSecret string

	FrameWorkers    int
	FrameMaxRetries int64
	MetricsInterval time.Duration
	RateLimit       int // requests per minute per IP
	MaxUploadBytes  int64
}

func Load() Settings {
	return Settings{
		Port:        getenv("PORT", "3001"),
		FrontendURL: getenv("FRONTEND_URL", "http://localhost:3000"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		RedisURL:            firstEnv("REDIS_URL", "REDIS_ADDR", "REDIS_URI"),
		RedisHealthInterval: getDuration("REDIS_HEALTH_INTERVAL", 5*time.Second),

		MongoURI: getenv("MONGO_URI", "mongodb://127.0.0.1:27017"),
		MongoDB:  getenv("MONGO_DB", "deepfake-detector"),

		AIServiceURL:       strings.TrimRight(getenv("AI_SERVICE_URL", "http://localhost:5000"), "/"),
		ForensicServiceURL: strings.TrimRight(getenv("FORENSIC_SERVICE_URL", "http://localhost:5001"), "/"),
		InferenceTimeout:   getDuration("INFERENCE_TIMEOUT", 2*time.Minute),

		GCSBucket:     os.Getenv("GCS_BUCKET"),
		AuthJWTSecret: os.Getenv("AUTH_JWT_SECRET"),

		FrameWorkers:    int(getInt("FRAME_WORKERS", 4)),
		FrameMaxRetries: getInt("FRAME_MAX_RETRIES", 3),
		MetricsInterval: getDuration("METRICS_INTERVAL", time.Minute),
		RateLimit:       int(getInt("RATE_LIMIT_PER_MINUTE", 120)),
		MaxUploadBytes:  getInt("MAX_UPLOAD_BYTES", 50<<20),
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, def int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// getDuration accepts Go durations ("30s") or bare seconds ("30").
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
