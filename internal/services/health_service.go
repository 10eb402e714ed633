package services

import (
	"context"
	"time"

	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/telemetry"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type ComponentHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthReport struct {
	Status      string                     `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Components  map[string]ComponentHealth `json:"components"`
	QueueLength int64                      `json:"queue_length"`
}

// PingFunc checks an optional dependency such as the document store.
type PingFunc func(ctx context.Context) error

type HealthService interface {
	Check(ctx context.Context) HealthReport
}

type healthService struct {
	conn     *state.Connection
	queue    *state.Queue
	optional map[string]PingFunc
	timeout  time.Duration
}

// NewHealthService reports unhealthy when Redis is down and degraded when an
// optional dependency is.
func NewHealthService(conn *state.Connection, queue *state.Queue, optional map[string]PingFunc) HealthService {
	return &healthService{conn: conn, queue: queue, optional: optional, timeout: 2 * time.Second}
}

func (s *healthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rep := HealthReport{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Components: map[string]ComponentHealth{},
	}

	redisHealth := checkComponent(ctx, func(ctx context.Context) error {
		_, err := s.conn.Ping(ctx)
		return err
	})
	rep.Components["redis"] = redisHealth
	telemetry.SetStoreConnected(redisHealth.Status == StatusHealthy)
	if redisHealth.Status != StatusHealthy {
		rep.Status = StatusUnhealthy
	} else if n, err := s.queue.Len(ctx); err == nil {
		rep.QueueLength = n
	}

	for name, ping := range s.optional {
		h := checkComponent(ctx, ping)
		rep.Components[name] = h
		if h.Status != StatusHealthy && rep.Status == StatusHealthy {
			rep.Status = StatusDegraded
		}
	}
	return rep
}

func checkComponent(ctx context.Context, ping PingFunc) ComponentHealth {
	started := time.Now()
	err := ping(ctx)
	h := ComponentHealth{Status: StatusHealthy, LatencyMS: time.Since(started).Milliseconds()}
	if err != nil {
		h.Status = StatusUnhealthy
		h.Error = err.Error()
	}
	return h
}
