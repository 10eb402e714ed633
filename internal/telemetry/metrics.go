// Package telemetry exposes the process Prometheus metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepfake_queue_length",
		Help: "Frames waiting in the processing queue",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepfake_websocket_connections",
		Help: "Open websocket listeners",
	})

	ProcessingSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepfake_processing_frames_per_second",
		Help: "Frames processed per second over the last collection interval",
	})

	MemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepfake_memory_usage_ratio",
		Help: "Go heap in use over memory obtained from the OS",
	})

	ErrorRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepfake_frame_error_rate",
		Help: "Failed frame attempts over all attempts in the last interval",
	})

	StoreConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepfake_store_connected",
		Help: "1 when the Redis connection is live",
	})

	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepfake_frames_processed_total",
		Help: "Frame attempts by outcome",
	}, []string{"outcome"}) // ok|retry|failed

	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepfake_analyses_total",
		Help: "Finished analyses by media type and final status",
	}, []string{"media_type", "status"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deepfake_inference_duration_seconds",
		Help:    "Latency of calls to the inference services",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"service", "outcome"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepfake_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
)

func RecordFrame(outcome string) {
	FramesProcessedTotal.WithLabelValues(outcome).Inc()
}

func RecordAnalysis(mediaType, status string) {
	AnalysesTotal.WithLabelValues(mediaType, status).Inc()
}

func ObserveInference(service string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	InferenceDuration.WithLabelValues(service, outcome).Observe(time.Since(started).Seconds())
}

func RecordHTTP(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func SetStoreConnected(ok bool) {
	if ok {
		StoreConnected.Set(1)
		return
	}
	StoreConnected.Set(0)
}
