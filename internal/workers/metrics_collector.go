package workers

import (
	"context"
	"errors"
	"runtime"
	"runtime/metrics"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/telemetry"
)

// ConnectionCounter reports the number of open websocket listeners.
type ConnectionCounter interface {
	Active() int64
}

const (
	sampleUserCPU   = "/cpu/classes/user:cpu-seconds"
	sampleHeapInUse = "/memory/classes/heap/objects:bytes"
	sampleTotalMem  = "/memory/classes/total:bytes"
)

// MetricsCollector samples system health every Interval into the
// MetricsStore and the Prometheus gauges.
type MetricsCollector struct {
	Store       *state.MetricsStore
	Queue       *state.Queue
	Conn        *state.Connection
	Stats       *FrameStats
	Connections ConnectionCounter

	Interval time.Duration
	Logger   *logrus.Logger

	now      func() time.Time
	lastTick time.Time
	lastCPU  float64
	samples  []metrics.Sample
}

func (c *MetricsCollector) init() error {
	if c.Store == nil || c.Queue == nil || c.Conn == nil {
		return errors.New("MetricsCollector missing dependency: Store/Queue/Conn must be set")
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if c.Stats == nil {
		c.Stats = &FrameStats{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.samples = []metrics.Sample{
		{Name: sampleUserCPU},
		{Name: sampleHeapInUse},
		{Name: sampleTotalMem},
	}
	c.lastTick = c.now()
	c.lastCPU = c.readCPU()
	return nil
}

// Run collects until ctx is done.
func (c *MetricsCollector) Run(ctx context.Context) error {
	if err := c.init(); err != nil {
		return err
	}
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Collect(ctx); err != nil {
				c.Logger.WithError(err).Warn("metrics snapshot not stored")
			}
		}
	}
}

// Collect takes one snapshot. The gauges are updated even when the store
// write fails.
func (c *MetricsCollector) Collect(ctx context.Context) (*models.MetricsSnapshot, error) {
	if c.samples == nil {
		if err := c.init(); err != nil {
			return nil, err
		}
	}

	now := c.now()
	elapsed := now.Sub(c.lastTick).Seconds()
	c.lastTick = now

	ok, retried, failed := c.Stats.Snapshot()
	attempts := ok + retried + failed

	snap := &models.MetricsSnapshot{Timestamp: now.UTC()}
	if elapsed > 0 {
		snap.Throughput = float64(ok+failed) / elapsed
		snap.ProcessingSpeed = float64(ok) / elapsed
	}
	if attempts > 0 {
		snap.ErrorRate = float64(retried+failed) / float64(attempts)
	}
	if c.Connections != nil {
		snap.ActiveConnections = c.Connections.Active()
	}

	cpu := c.readCPU()
	if elapsed > 0 {
		snap.CPUUsage = clampUnit((cpu - c.lastCPU) / (elapsed * float64(runtime.GOMAXPROCS(0))))
	}
	c.lastCPU = cpu
	snap.MemoryUsage = c.memoryRatio()

	pingStarted := time.Now()
	_, pingErr := c.Conn.Ping(ctx)
	snap.Latency = float64(time.Since(pingStarted).Microseconds()) / 1000
	telemetry.SetStoreConnected(pingErr == nil)

	var qerr error
	if pingErr == nil {
		snap.QueueLength, qerr = c.Queue.Len(ctx)
	}

	telemetry.QueueLength.Set(float64(snap.QueueLength))
	telemetry.ActiveConnections.Set(float64(snap.ActiveConnections))
	telemetry.ProcessingSpeed.Set(snap.ProcessingSpeed)
	telemetry.MemoryUsage.Set(snap.MemoryUsage)
	telemetry.ErrorRate.Set(snap.ErrorRate)

	if err := errors.Join(pingErr, qerr); err != nil {
		return snap, err
	}
	if err := c.Store.SetCurrent(ctx, snap); err != nil {
		return snap, err
	}
	c.Logger.WithFields(logrus.Fields{
		"queue_length":       snap.QueueLength,
		"active_connections": snap.ActiveConnections,
		"processing_speed":   snap.ProcessingSpeed,
		"error_rate":         snap.ErrorRate,
	}).Debug("metrics snapshot stored")
	return snap, nil
}

func (c *MetricsCollector) readCPU() float64 {
	metrics.Read(c.samples[:1])
	if c.samples[0].Value.Kind() != metrics.KindFloat64 {
		return 0
	}
	return c.samples[0].Value.Float64()
}

func (c *MetricsCollector) memoryRatio() float64 {
	metrics.Read(c.samples[1:])
	heap, total := c.samples[1].Value, c.samples[2].Value
	if heap.Kind() != metrics.KindUint64 || total.Kind() != metrics.KindUint64 || total.Uint64() == 0 {
		return 0
	}
	return clampUnit(float64(heap.Uint64()) / float64(total.Uint64()))
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
