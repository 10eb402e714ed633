package services

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

const (
	EventProgress = "progress"
	EventStatus   = "status"
	EventComplete = "complete"
	EventError    = "error"
)

// ProgressEvent is what websocket listeners receive.
type ProgressEvent struct {
	Type                string                 `json:"type"`
	SessionID           string                 `json:"session_id"`
	Status              models.SessionStatus   `json:"status"`
	CurrentFrame        int64                  `json:"current_frame"`
	TotalFrames         int64                  `json:"total_frames"`
	Progress            float64                `json:"progress"`
	ProcessingSpeed     float64                `json:"processing_speed,omitempty"`
	EstimatedCompletion *time.Time             `json:"estimated_completion,omitempty"`
	Message             string                 `json:"message,omitempty"`
	Result              *models.AnalysisResult `json:"result,omitempty"`
	Timestamp           time.Time              `json:"timestamp"`
}

func ProgressChannel(sessionID string) string { return "session:" + sessionID + ":progress" }

type ProgressService interface {
	// Open creates the live record in the uploading phase.
	Open(ctx context.Context, sessionID string) error
	Begin(ctx context.Context, sessionID string, totalFrames int64) error
	// Advance records that done frames are finished and recomputes speed and ETA.
	Advance(ctx context.Context, sessionID string, done int64) error
	Finish(ctx context.Context, sessionID string, status models.SessionStatus, result *models.AnalysisResult, msg string) error
	State(ctx context.Context, sessionID string) (*models.SessionState, bool, error)

	Join(ctx context.Context, sessionID, socketID string) error
	Leave(ctx context.Context, sessionID, socketID string) error
	// Subscribe streams events for one session until ctx ends or stop is called.
	Subscribe(ctx context.Context, sessionID string) (events <-chan ProgressEvent, stop func(), err error)
}

type progressService struct {
	conn     *state.Connection
	sessions *state.SessionStore
	log      *logrus.Logger
	now      func() time.Time
}

func NewProgressService(conn *state.Connection, sessions *state.SessionStore, log *logrus.Logger) ProgressService {
	if log == nil {
		log = logrus.New()
	}
	return &progressService{conn: conn, sessions: sessions, log: log, now: time.Now}
}

func (s *progressService) Open(ctx context.Context, sessionID string) error {
	const op = "ProgressService.Open"

	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	now := s.now().UTC()
	return s.sessions.Set(ctx, &models.SessionState{
		SessionID:  sessionID,
		Status:     models.StatusUploading,
		StartTime:  now,
		LastUpdate: now,
	})
}

func (s *progressService) Begin(ctx context.Context, sessionID string, totalFrames int64) error {
	if err := s.sessions.StartProcessing(ctx, sessionID, totalFrames); err != nil {
		return err
	}
	s.publish(ctx, ProgressEvent{
		Type:        EventStatus,
		SessionID:   sessionID,
		Status:      models.StatusProcessing,
		TotalFrames: totalFrames,
	})
	return nil
}

func (s *progressService) Advance(ctx context.Context, sessionID string, done int64) error {
	const op = "ProgressService.Advance"

	st, found, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return utils.E(utils.CodeNotFound, op, "session not found", utils.ErrNotFound)
	}
	if st.Status.Terminal() {
		return nil
	}

	done = min(max(done, 0), st.TotalFrames)
	progress := 1.0
	if st.TotalFrames > 0 {
		progress = float64(done) / float64(st.TotalFrames)
	}

	now := s.now()
	var speed float64
	var eta *time.Time
	if elapsed := now.Sub(st.StartTime).Seconds(); elapsed > 0 && done > 0 {
		speed = float64(done) / elapsed
		remaining := time.Duration(float64(st.TotalFrames-done) / speed * float64(time.Second))
		t := now.Add(remaining).UTC()
		eta = &t
	}

	// the store drops the write if the session finished or moved past done
	// since the read above
	applied, err := s.sessions.AdvanceProgress(ctx, sessionID, done, progress, speed, eta)
	if err != nil || !applied {
		return err
	}

	s.publish(ctx, ProgressEvent{
		Type:                EventProgress,
		SessionID:           sessionID,
		Status:              st.Status,
		CurrentFrame:        done,
		TotalFrames:         st.TotalFrames,
		Progress:            progress,
		ProcessingSpeed:     speed,
		EstimatedCompletion: eta,
	})
	return nil
}

func (s *progressService) Finish(ctx context.Context, sessionID string, status models.SessionStatus, result *models.AnalysisResult, msg string) error {
	const op = "ProgressService.Finish"

	if !status.Terminal() {
		return utils.E(utils.CodeInvalidArgument, op, "status must be completed or failed", nil)
	}
	st, found, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return utils.E(utils.CodeNotFound, op, "session not found", utils.ErrNotFound)
	}

	current, progress := st.CurrentFrame, st.Progress
	if status == models.StatusCompleted {
		current, progress = st.TotalFrames, 1
		if err := s.sessions.UpdateProgress(ctx, sessionID, current, progress); err != nil {
			return err
		}
	}
	if err := s.sessions.UpdateStatus(ctx, sessionID, status); err != nil {
		return err
	}

	ev := ProgressEvent{
		Type:         EventComplete,
		SessionID:    sessionID,
		Status:       status,
		CurrentFrame: current,
		TotalFrames:  st.TotalFrames,
		Progress:     progress,
		Message:      msg,
		Result:       result,
	}
	if status == models.StatusFailed {
		ev.Type = EventError
	}
	s.publish(ctx, ev)
	return nil
}

func (s *progressService) State(ctx context.Context, sessionID string) (*models.SessionState, bool, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *progressService) Join(ctx context.Context, sessionID, socketID string) error {
	return s.sessions.AddConnection(ctx, sessionID, socketID)
}

func (s *progressService) Leave(ctx context.Context, sessionID, socketID string) error {
	return s.sessions.RemoveConnection(ctx, sessionID, socketID)
}

func (s *progressService) Subscribe(ctx context.Context, sessionID string) (<-chan ProgressEvent, func(), error) {
	const op = "ProgressService.Subscribe"

	rdb, err := s.conn.Client(op)
	if err != nil {
		return nil, nil, err
	}
	ps := rdb.Subscribe(ctx, ProgressChannel(sessionID))
	// wait for the subscription ack so no event published after return is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, s.conn.Err(op, err)
	}

	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		ch := ps.Channel()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg = m
			}

			var ev ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.WithError(err).WithField("session_id", sessionID).Warn("dropping malformed progress event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() { _ = ps.Close() }
	return out, stop, nil
}

// publish is best effort: listeners can always fall back to polling State.
func (s *progressService) publish(ctx context.Context, ev ProgressEvent) {
	const op = "ProgressService.publish"

	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.WithError(err).Error("encode progress event")
		return
	}
	rdb, err := s.conn.Client(op)
	if err != nil {
		s.log.WithError(err).WithField("session_id", ev.SessionID).Debug("progress event not published")
		return
	}
	if err := rdb.Publish(ctx, ProgressChannel(ev.SessionID), payload).Err(); err != nil {
		s.log.WithError(err).WithField("session_id", ev.SessionID).Warn("publish progress event")
	}
}
