package models

import (
	"errors"
	"time"
)

type SessionStatus string

const (
	StatusUploading  SessionStatus = "uploading"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further progress is expected.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SessionState is the live progress record of one analysis session.
type SessionState struct {
	SessionID            string        `json:"session_id"`
	Status               SessionStatus `json:"status"`
	CurrentFrame         int64         `json:"current_frame"`
	TotalFrames          int64         `json:"total_frames"`
	ProcessingSpeed      float64       `json:"processing_speed"` // frames/sec
	WebsocketConnections []string      `json:"websocket_connections"`
	StartTime            time.Time     `json:"start_time"`
	LastUpdate           time.Time     `json:"last_update"`
	Progress             float64       `json:"progress"` // 0..1
	EstimatedCompletion  *time.Time    `json:"estimated_completion,omitempty"`
}

func (s *SessionState) Validate() error {
	switch {
	case s.SessionID == "":
		return errors.New("session_id is required")
	case !s.Status.Valid():
		return errors.New("status must be one of uploading|processing|completed|failed")
	case s.CurrentFrame < 0 || s.TotalFrames < 0:
		return errors.New("frame counters must be >= 0")
	case s.CurrentFrame > s.TotalFrames:
		return errors.New("current_frame must not exceed total_frames")
	case s.ProcessingSpeed < 0:
		return errors.New("processing_speed must be >= 0")
	case s.Progress < 0 || s.Progress > 1:
		return errors.New("progress must be within [0,1]")
	case s.LastUpdate.Before(s.StartTime):
		return errors.New("last_update must not precede start_time")
	}
	return nil
}
