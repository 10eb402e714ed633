package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// Detector is the AI classification service.
type Detector interface {
	AnalyzeImage(ctx context.Context, filename string, image []byte) (*FrameVerdict, error)
	AnalyzeVideo(ctx context.Context, filename string, video []byte) (*VideoAnalysis, error)
}

// Forensics is the forensic verification engine.
type Forensics interface {
	AnalyzeFrame(ctx context.Context, filename string, image []byte) (*ForensicReport, error)
}

type Distribution struct {
	Real float64 `json:"real"`
	Fake float64 `json:"fake"`
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FrameVerdict struct {
	IsFake         bool         `json:"is_fake"`
	Confidence     float64      `json:"confidence"`
	Distribution   Distribution `json:"distribution"`
	ProcessingTime float64      `json:"processingTime"` // ms
	ModelVersion   string       `json:"modelVersion,omitempty"`
}

func (v *FrameVerdict) Verdict() string {
	if v != nil && v.IsFake {
		return "Fake"
	}
	return "Real"
}

type VideoAnalysis struct {
	FrameVerdict
	FramesAnalyzed int64      `json:"framesAnalyzed"`
	Duration       float64    `json:"duration"`
	FPS            float64    `json:"fps"`
	Resolution     Resolution `json:"resolution"`
	// Frames are sampled keyframes as data URLs (data:image/jpeg;base64,...).
	Frames []string `json:"frames"`
}

type ForensicReport struct {
	Status        string   `json:"status"`
	ELAScore      float64  `json:"elaScore"`
	MetadataScore float64  `json:"metadataScore"`
	BlinkScore    float64  `json:"blinkScore"`
	OverallScore  *float64 `json:"overallScore,omitempty"`
	Details       any      `json:"details,omitempty"`
}

// Score collapses a report to [0,1]. Engines that predate overallScore get the
// coarse ELA heuristic.
func (r *ForensicReport) Score() float64 {
	if r == nil {
		return 0
	}
	if r.OverallScore != nil {
		return clamp01(*r.OverallScore)
	}
	if r.ELAScore > 0 {
		return 0.8
	}
	return 0.1
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

var ErrBadFrame = errors.New("frame is not a base64 data url")

// DecodeDataURL returns the raw bytes of a base64 data URL. A bare base64
// payload is accepted too.
func DecodeDataURL(raw string) ([]byte, error) {
	if i := strings.Index(raw, ";base64,"); i >= 0 {
		raw = raw[i+len(";base64,"):]
	}
	if raw == "" {
		return nil, ErrBadFrame
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Join(ErrBadFrame, err)
	}
	return b, nil
}
