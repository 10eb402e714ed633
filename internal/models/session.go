package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnalysisSession is the durable record of a finished analysis.
type AnalysisSession struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID string             `bson:"session_id" json:"session_id"`
	UserID    string             `bson:"user_id" json:"user_id"`

	Filename    string        `bson:"filename" json:"filename"`
	FileSize    int64         `bson:"file_size" json:"file_size"`
	MediaType   string        `bson:"media_type" json:"media_type"` // image|video
	StoredPath  string        `bson:"stored_path,omitempty" json:"stored_path,omitempty"`
	Duration    float64       `bson:"duration" json:"duration"`
	TotalFrames int64         `bson:"total_frames" json:"total_frames"`
	Status      SessionStatus `bson:"status" json:"status"`

	Result   *AnalysisResult `bson:"result,omitempty" json:"result,omitempty"`
	Metadata MediaMetadata   `bson:"metadata" json:"metadata"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
}

type AnalysisResult struct {
	Verdict           string          `bson:"verdict" json:"verdict"` // Real|Fake
	OverallConfidence float64         `bson:"overall_confidence" json:"overall_confidence"`
	AIScore           float64         `bson:"ai_score" json:"ai_score"`
	ForensicScore     float64         `bson:"forensic_score" json:"forensic_score"`
	ProcessingTimeMS  int64           `bson:"processing_time_ms" json:"processing_time_ms"`
	Explanation       []string        `bson:"explanation" json:"explanation"`
	ModelVersion      string          `bson:"model_version,omitempty" json:"model_version,omitempty"`
	FrameAnalysis     []FrameAnalysis `bson:"frame_analysis,omitempty" json:"frame_analysis,omitempty"`
}

type FrameAnalysis struct {
	FrameIndex    int64   `bson:"frame_index" json:"frame_index"`
	ForensicScore float64 `bson:"forensic_score" json:"forensic_score"`
	ELAScore      float64 `bson:"ela_score" json:"ela_score"`
	MetadataScore float64 `bson:"metadata_score" json:"metadata_score"`
	Error         string  `bson:"error,omitempty" json:"error,omitempty"`
}

type MediaMetadata struct {
	Width  int     `bson:"width" json:"width"`
	Height int     `bson:"height" json:"height"`
	FPS    float64 `bson:"fps" json:"fps"`
	Codec  string  `bson:"codec,omitempty" json:"codec,omitempty"`
}
