package workers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/cache"
	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/providers/inference"
	"github.com/yoockh/deepfake-detector/internal/services"
	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/telemetry"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

// FrameWorkerPool drains the frame queue. Each frame goes to the forensic
// engine; failures are re-queued with a lower priority until MaxRetries,
// after which the frame is recorded as failed.
type FrameWorkerPool struct {
	Queue     *state.Queue
	Cache     cache.Cache
	Forensics inference.Forensics
	Analyses  services.AnalysisService
	Stats     *FrameStats

	NumWorkers int
	MaxRetries int64
	// IdleWait is how long a worker sleeps on an empty queue or store error.
	IdleWait time.Duration

	Logger *logrus.Logger

	wg sync.WaitGroup
}

func (p *FrameWorkerPool) Start(ctx context.Context) error {
	if p.Queue == nil || p.Cache == nil || p.Forensics == nil || p.Analyses == nil {
		return errors.New("FrameWorkerPool missing dependency: Queue/Cache/Forensics/Analyses must be set")
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.IdleWait <= 0 {
		p.IdleWait = 500 * time.Millisecond
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
	if p.Stats == nil {
		p.Stats = &FrameStats{}
	}

	for i := 0; i < p.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, "frame-worker-"+strconv.Itoa(i+1))
	}
	return nil
}

// Wait blocks until every worker has returned after ctx is done.
func (p *FrameWorkerPool) Wait() { p.wg.Wait() }

func (p *FrameWorkerPool) run(ctx context.Context, name string) {
	defer p.wg.Done()
	log := p.Logger.WithField("worker", name)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, found, err := p.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if utils.IsCode(err, utils.CodeDataLoss) {
				// the member was already popped; nothing to retry
				log.WithError(err).Error("undecodable queue item discarded")
			} else {
				log.WithError(err).Debug("dequeue failed")
			}
			p.sleep(ctx)
			continue
		}
		if !found {
			p.sleep(ctx)
			continue
		}
		p.handle(ctx, log, item)
	}
}

func (p *FrameWorkerPool) sleep(ctx context.Context) {
	t := time.NewTimer(p.IdleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *FrameWorkerPool) handle(ctx context.Context, log *logrus.Entry, item *models.QueueItem) {
	log = log.WithFields(logrus.Fields{
		"session_id":   item.SessionID,
		"frame_number": item.FrameNumber,
		"retry_count":  item.RetryCount,
	})

	frame, hit, err := p.Cache.Get(ctx, services.FrameKey(item.SessionID, item.FrameNumber))
	if err != nil {
		p.retry(ctx, log, item, err)
		return
	}
	if !hit {
		// the session was abandoned or its frames expired
		log.Warn("frame bytes missing, recording as failed")
		p.record(ctx, log, item.SessionID, models.FrameAnalysis{FrameIndex: item.FrameNumber, Error: "frame expired"})
		return
	}

	started := time.Now()
	report, err := p.Forensics.AnalyzeFrame(ctx, "frame_"+strconv.FormatInt(item.FrameNumber, 10)+".jpg", []byte(frame))
	telemetry.ObserveInference("forensic-engine", started, err)
	if err != nil {
		if !utils.Retryable(err) {
			// the engine rejected the frame itself
			p.Stats.failed()
			telemetry.RecordFrame("failed")
			p.record(ctx, log, item.SessionID, models.FrameAnalysis{FrameIndex: item.FrameNumber, Error: err.Error()})
			return
		}
		p.retry(ctx, log, item, err)
		return
	}

	p.Stats.ok()
	telemetry.RecordFrame("ok")
	p.record(ctx, log, item.SessionID, models.FrameAnalysis{
		FrameIndex:    item.FrameNumber,
		ForensicScore: report.Score(),
		ELAScore:      report.ELAScore,
		MetadataScore: report.MetadataScore,
	})
}

func (p *FrameWorkerPool) retry(ctx context.Context, log *logrus.Entry, item *models.QueueItem, cause error) {
	if item.RetryCount >= p.MaxRetries {
		log.WithError(cause).Error("frame failed after retries")
		p.Stats.failed()
		telemetry.RecordFrame("failed")
		p.record(ctx, log, item.SessionID, models.FrameAnalysis{FrameIndex: item.FrameNumber, Error: cause.Error()})
		return
	}

	p.Stats.retried()
	telemetry.RecordFrame("retry")
	next := *item
	next.RetryCount++
	next.Timestamp = time.Time{}
	// retried frames yield to fresh work of the same priority
	next.Priority = item.Priority - 0.1
	if err := p.Queue.Enqueue(ctx, next); err != nil {
		log.WithError(err).Error("frame could not be re-queued")
		p.record(ctx, log, item.SessionID, models.FrameAnalysis{FrameIndex: item.FrameNumber, Error: cause.Error()})
		return
	}
	log.WithError(cause).Warn("frame re-queued")
}

func (p *FrameWorkerPool) record(ctx context.Context, log *logrus.Entry, sessionID string, fa models.FrameAnalysis) {
	finished, err := p.Analyses.RecordFrame(ctx, sessionID, fa)
	switch {
	case utils.IsCode(err, utils.CodeNotFound):
		log.Debug("analysis no longer pending, frame dropped")
	case utils.IsCode(err, utils.CodeDataLoss):
		log.WithError(err).Error("analysis record corrupted, session failed")
	case err != nil:
		log.WithError(err).Error("frame result not recorded")
	case finished:
		log.Info("analysis finalized")
	}
}

// FrameStats counts frame outcomes between two Snapshot calls.
type FrameStats struct {
	okCount    atomic.Int64
	retryCount atomic.Int64
	failCount  atomic.Int64
}

func (s *FrameStats) ok()      { s.okCount.Add(1) }
func (s *FrameStats) retried() { s.retryCount.Add(1) }
func (s *FrameStats) failed()  { s.failCount.Add(1) }

// Snapshot returns and resets the counters.
func (s *FrameStats) Snapshot() (ok, retried, failed int64) {
	return s.okCount.Swap(0), s.retryCount.Swap(0), s.failCount.Swap(0)
}
