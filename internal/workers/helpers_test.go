package workers

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/deepfake-detector/internal/cache"
	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/providers/inference"
	"github.com/yoockh/deepfake-detector/internal/services"
	"github.com/yoockh/deepfake-detector/internal/state"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestConnection(t *testing.T) (*state.Connection, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	conn := state.NewConnection(&redis.Options{
		Addr:         mr.Addr(),
		MaxRetries:   -1,
		DialTimeout:  250 * time.Millisecond,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
	}, quietLogger())
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn, mr
}

type videoDetector struct{ frames int }

func (d videoDetector) AnalyzeImage(context.Context, string, []byte) (*inference.FrameVerdict, error) {
	return &inference.FrameVerdict{}, nil
}

func (d videoDetector) AnalyzeVideo(context.Context, string, []byte) (*inference.VideoAnalysis, error) {
	out := &inference.VideoAnalysis{FrameVerdict: inference.FrameVerdict{IsFake: true, Confidence: 0.9}}
	for i := range d.frames {
		out.Frames = append(out.Frames, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte{byte(i)}))
	}
	return out, nil
}

// flakyForensics fails the first failures calls, then scores every frame.
type flakyForensics struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (f *flakyForensics) AnalyzeFrame(context.Context, string, []byte) (*inference.ForensicReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	score := 0.5
	return &inference.ForensicReport{OverallScore: &score, ELAScore: 0.4}, nil
}

type workerFixture struct {
	conn     *state.Connection
	queue    *state.Queue
	cache    cache.Cache
	sessions *state.SessionStore
	svc      services.AnalysisService
}

func newWorkerFixture(t *testing.T, frames int) *workerFixture {
	t.Helper()

	conn, _ := newTestConnection(t)
	sessions := state.NewSessionStore(conn, 0)
	f := &workerFixture{
		conn:     conn,
		queue:    state.NewQueue(conn),
		cache:    cache.NewRedisCache(conn),
		sessions: sessions,
	}
	svc, err := services.NewAnalysisService(services.AnalysisDeps{
		Detector:  videoDetector{frames: frames},
		Forensics: &flakyForensics{},
		Progress:  services.NewProgressService(conn, sessions, quietLogger()),
		Uploads:   state.NewUploadStore(conn, 0),
		Queue:     f.queue,
		Cache:     f.cache,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *workerFixture) submitVideo(t *testing.T) string {
	t.Helper()
	doc, err := f.svc.Analyze(context.Background(), services.AnalyzeRequest{
		Filename:    "clip.mp4",
		ContentType: "video/mp4",
		Body:        strings.NewReader("video"),
	})
	require.NoError(t, err)
	return doc.SessionID
}

// status is polled from require.Eventually, so it must not fail the test.
func (f *workerFixture) status(sessionID string) models.SessionStatus {
	st, found, err := f.sessions.Get(context.Background(), sessionID)
	if err != nil || !found {
		return ""
	}
	return st.Status
}
