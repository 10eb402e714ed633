package models

import (
	"errors"
	"time"
)

// QueueItem schedules one frame for processing. Frame bytes live elsewhere.
type QueueItem struct {
	SessionID               string    `json:"session_id"`
	FrameNumber             int64     `json:"frame_number"`
	Priority                float64   `json:"priority"`
	Timestamp               time.Time `json:"timestamp"`
	RetryCount              int64     `json:"retry_count"`
	EstimatedProcessingTime int64     `json:"estimated_processing_time"` // ms
}

func (q *QueueItem) Validate() error {
	switch {
	case q.SessionID == "":
		return errors.New("session_id is required")
	case q.FrameNumber < 0:
		return errors.New("frame_number must be >= 0")
	case q.RetryCount < 0:
		return errors.New("retry_count must be >= 0")
	case q.EstimatedProcessingTime < 0:
		return errors.New("estimated_processing_time must be >= 0")
	}
	return nil
}
