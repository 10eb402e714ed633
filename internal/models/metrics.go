package models

import "time"

// MetricsSnapshot is one sample of system load. Fractional fields are in [0,1]
// by producer convention only.
type MetricsSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	ProcessingSpeed   float64   `json:"processing_speed"`
	QueueLength       int64     `json:"queue_length"`
	ActiveConnections int64     `json:"active_connections"`
	MemoryUsage       float64   `json:"memory_usage"`
	CPUUsage          float64   `json:"cpu_usage"`
	ErrorRate         float64   `json:"error_rate"`
	Throughput        float64   `json:"throughput"`
	Latency           float64   `json:"latency"` // ms
}
