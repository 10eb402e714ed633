package models

import "time"

// PendingAnalysis is the cached context of a video whose frames are still in
// the queue. The worker that finishes the last frame turns it into an
// AnalysisResult.
type PendingAnalysis struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	Filename     string        `json:"filename"`
	TotalFrames  int64         `json:"total_frames"`
	AIFake       bool          `json:"ai_fake"`
	AIConfidence float64       `json:"ai_confidence"`
	ModelVersion string        `json:"model_version,omitempty"`
	Metadata     MediaMetadata `json:"metadata"`
	StartedAt    time.Time     `json:"started_at"`
}
