package services

import (
	"context"
	"errors"
	"io"
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
	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/utils"
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

type fakeDetector struct {
	image    *inference.FrameVerdict
	imageErr error
	video    *inference.VideoAnalysis
	videoErr error
}

func (f *fakeDetector) AnalyzeImage(context.Context, string, []byte) (*inference.FrameVerdict, error) {
	return f.image, f.imageErr
}

func (f *fakeDetector) AnalyzeVideo(context.Context, string, []byte) (*inference.VideoAnalysis, error) {
	return f.video, f.videoErr
}

type fakeForensics struct {
	report *inference.ForensicReport
	err    error
}

func (f *fakeForensics) AnalyzeFrame(context.Context, string, []byte) (*inference.ForensicReport, error) {
	return f.report, f.err
}

type fakeRepo struct {
	mu        sync.Mutex
	docs      map[string]*models.AnalysisSession
	completed map[string]*models.AnalysisResult
	failed    map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		docs:      map[string]*models.AnalysisSession{},
		completed: map[string]*models.AnalysisResult{},
		failed:    map[string]string{},
	}
}

func (r *fakeRepo) Create(_ context.Context, s *models.AnalysisSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.docs[s.SessionID] = &cp
	return nil
}

func (r *fakeRepo) GetBySessionID(_ context.Context, id string) (*models.AnalysisSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return d, nil
}

func (r *fakeRepo) ListRecent(_ context.Context, _ string, _ int64) ([]models.AnalysisSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AnalysisSession, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (r *fakeRepo) Complete(_ context.Context, id string, res *models.AnalysisResult, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return utils.ErrNotFound
	}
	r.completed[id] = res
	return nil
}

func (r *fakeRepo) Fail(_ context.Context, id, reason string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return utils.ErrNotFound
	}
	r.failed[id] = reason
	return nil
}

type fixture struct {
	conn      *state.Connection
	mr        *miniredis.Miniredis
	sessions  *state.SessionStore
	uploads   *state.UploadStore
	queue     *state.Queue
	cache     cache.Cache
	progress  ProgressService
	detector  *fakeDetector
	forensics *fakeForensics
	repo      *fakeRepo
	svc       AnalysisService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, mr := newTestConnection(t)
	f := &fixture{
		conn:     conn,
		mr:       mr,
		sessions: state.NewSessionStore(conn, 0),
		uploads:  state.NewUploadStore(conn, 0),
		queue:    state.NewQueue(conn),
		cache:    cache.NewRedisCache(conn),
		detector: &fakeDetector{
			image: &inference.FrameVerdict{IsFake: true, Confidence: 0.87, ModelVersion: "1.0.0"},
		},
		forensics: &fakeForensics{report: &inference.ForensicReport{ELAScore: 0.4, MetadataScore: 0.1}},
		repo:      newFakeRepo(),
	}
	f.progress = NewProgressService(conn, f.sessions, quietLogger())

	svc, err := NewAnalysisService(AnalysisDeps{
		Detector:       f.detector,
		Forensics:      f.forensics,
		Progress:       f.progress,
		Uploads:        f.uploads,
		Queue:          f.queue,
		Cache:          f.cache,
		Repo:           f.repo,
		Logger:         quietLogger(),
		MaxUploadBytes: 1 << 10,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

var errBoom = errors.New("boom")
