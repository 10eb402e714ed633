package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/cache"
	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/providers/inference"
	mongorepo "github.com/yoockh/deepfake-detector/internal/repositories/mongo"
	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/storage"
	"github.com/yoockh/deepfake-detector/internal/telemetry"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

const (
	MediaImage = "image"
	MediaVideo = "video"

	DefaultFramePriority  = 1
	DefaultMaxUploadBytes = 50 << 20
	estimatedFrameMS      = 500
)

type AnalyzeRequest struct {
	UserID      string
	Filename    string
	ContentType string
	Size        int64 // declared length, <= 0 when unknown
	Body        io.Reader
	Priority    float64
}

type AnalysisService interface {
	// Analyze runs images to completion. Videos return once their frames are
	// queued, with status processing.
	Analyze(ctx context.Context, req AnalyzeRequest) (*models.AnalysisSession, error)
	// RecordFrame stores one finished frame. finished is true for the call
	// that completed the session.
	RecordFrame(ctx context.Context, sessionID string, fa models.FrameAnalysis) (finished bool, err error)
	FailSession(ctx context.Context, sessionID, reason string) error

	Get(ctx context.Context, sessionID string) (*models.AnalysisSession, error)
	History(ctx context.Context, userID string, limit int64) ([]models.AnalysisSession, error)
	Upload(ctx context.Context, sessionID string) (*models.UploadState, bool, error)
}

type AnalysisDeps struct {
	Detector  inference.Detector
	Forensics inference.Forensics
	Progress  ProgressService
	Uploads   *state.UploadStore
	Queue     *state.Queue
	Cache     cache.Cache

	// optional
	Repo    mongorepo.AnalysisRepository
	Archive storage.Uploader
	Logger  *logrus.Logger

	MaxUploadBytes int64
}

type analysisService struct {
	AnalysisDeps
	now func() time.Time
}

func NewAnalysisService(d AnalysisDeps) (AnalysisService, error) {
	if d.Detector == nil || d.Forensics == nil || d.Progress == nil || d.Uploads == nil || d.Queue == nil || d.Cache == nil {
		return nil, errors.New("AnalysisService missing dependency: Detector/Forensics/Progress/Uploads/Queue/Cache must be set")
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &analysisService{AnalysisDeps: d, now: time.Now}, nil
}

func (s *analysisService) Analyze(ctx context.Context, req AnalyzeRequest) (*models.AnalysisSession, error) {
	const op = "AnalysisService.Analyze"

	if req.Body == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "no image or video file provided", nil)
	}
	if req.UserID == "" {
		req.UserID = "anonymous-user"
	}
	if req.Priority <= 0 {
		req.Priority = DefaultFramePriority
	}

	sessionID := uuid.NewString()
	log := s.Logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"filename":   req.Filename,
		"user_id":    req.UserID,
	})

	if err := s.Progress.Open(ctx, sessionID); err != nil {
		return nil, err
	}

	tracker := newUploadTracker(ctx, req.Body, s.Uploads, log, sessionID, req.Size, s.now)
	data, err := io.ReadAll(io.LimitReader(tracker, s.MaxUploadBytes+1))
	switch {
	case err != nil:
		tracker.fail("upload interrupted")
		s.abort(ctx, sessionID, "upload interrupted")
		return nil, utils.E(utils.CodeInvalidArgument, op, "failed to read upload", err)
	case int64(len(data)) > s.MaxUploadBytes:
		tracker.fail("file too large")
		s.abort(ctx, sessionID, "file too large")
		return nil, utils.E(utils.CodeTooLarge, op, fmt.Sprintf("file exceeds %d bytes", s.MaxUploadBytes), nil)
	case len(data) == 0:
		tracker.fail("empty file")
		s.abort(ctx, sessionID, "empty file")
		return nil, utils.E(utils.CodeInvalidArgument, op, "file is empty", nil)
	}
	tracker.done()

	mediaType := detectMediaType(req.ContentType, data)
	if mediaType == "" {
		s.abort(ctx, sessionID, "unsupported media type")
		return nil, utils.E(utils.CodeInvalidArgument, op, "file must be an image or a video", nil)
	}
	log = log.WithField("media_type", mediaType)
	log.WithField("bytes", len(data)).Info("analysis started")

	doc := &models.AnalysisSession{
		SessionID: sessionID,
		UserID:    req.UserID,
		Filename:  req.Filename,
		FileSize:  int64(len(data)),
		MediaType: mediaType,
		Status:    models.StatusProcessing,
		CreatedAt: s.now().UTC(),
	}
	doc.StoredPath = s.archive(ctx, log, doc, req.ContentType, data)

	if mediaType == MediaImage {
		return s.analyzeImage(ctx, log, doc, data)
	}
	return s.analyzeVideo(ctx, log, doc, data, req.Priority)
}

func (s *analysisService) analyzeImage(ctx context.Context, log *logrus.Entry, doc *models.AnalysisSession, data []byte) (*models.AnalysisSession, error) {
	const op = "AnalysisService.analyzeImage"

	if err := s.Progress.Begin(ctx, doc.SessionID, 1); err != nil {
		return nil, err
	}
	doc.TotalFrames = 1

	var (
		wg      sync.WaitGroup
		verdict *inference.FrameVerdict
		report  *inference.ForensicReport
		aiErr   error
		forErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		started := time.Now()
		verdict, aiErr = s.Detector.AnalyzeImage(ctx, doc.Filename, data)
		telemetry.ObserveInference("ai-service", started, aiErr)
	}()
	go func() {
		defer wg.Done()
		started := time.Now()
		report, forErr = s.Forensics.AnalyzeFrame(ctx, doc.Filename, data)
		telemetry.ObserveInference("forensic-engine", started, forErr)
	}()
	wg.Wait()

	if aiErr != nil && forErr != nil {
		log.WithError(aiErr).WithField("forensic_error", forErr.Error()).Error("both inference services failed")
		s.failDoc(ctx, doc, "inference services unavailable", false)
		return nil, utils.E(utils.CodeBadGateway, op, "inference services unavailable", errors.Join(aiErr, forErr))
	}

	result := imageResult(verdict, aiErr, report, forErr)
	result.ProcessingTimeMS = s.now().Sub(doc.CreatedAt).Milliseconds()

	if err := s.Progress.Advance(ctx, doc.SessionID, 1); err != nil {
		log.WithError(err).Warn("progress not advanced")
	}
	s.completeDoc(ctx, log, doc, result, false)
	return doc, nil
}

func imageResult(v *inference.FrameVerdict, aiErr error, r *inference.ForensicReport, forErr error) *models.AnalysisResult {
	res := &models.AnalysisResult{
		Verdict:     v.Verdict(),
		Explanation: []string{"Automated Analysis"},
	}
	if aiErr != nil {
		res.Explanation = append(res.Explanation, "AI service failed; verdict based on forensic analysis only")
	} else {
		res.OverallConfidence = v.Confidence
		res.AIScore = v.Confidence
		res.ModelVersion = v.ModelVersion
	}

	frame := models.FrameAnalysis{FrameIndex: 0}
	if forErr != nil {
		res.Explanation = append(res.Explanation, "Forensic engine failed; verdict based on AI analysis only")
		frame.Error = forErr.Error()
	} else {
		res.ForensicScore = r.Score()
		frame.ForensicScore = res.ForensicScore
		frame.ELAScore = r.ELAScore
		frame.MetadataScore = r.MetadataScore
	}
	res.FrameAnalysis = []models.FrameAnalysis{frame}
	return res
}

func (s *analysisService) analyzeVideo(ctx context.Context, log *logrus.Entry, doc *models.AnalysisSession, data []byte, priority float64) (*models.AnalysisSession, error) {
	const op = "AnalysisService.analyzeVideo"

	started := time.Now()
	va, err := s.Detector.AnalyzeVideo(ctx, doc.Filename, data)
	telemetry.ObserveInference("ai-service", started, err)
	if err != nil {
		log.WithError(err).Error("video inference failed")
		s.failDoc(ctx, doc, "video inference failed", false)
		return nil, err
	}

	frames := make([][]byte, 0, len(va.Frames))
	for i, raw := range va.Frames {
		b, err := inference.DecodeDataURL(raw)
		if err != nil {
			log.WithError(err).WithField("frame", i).Warn("skipping undecodable frame")
			continue
		}
		frames = append(frames, b)
	}
	if len(frames) == 0 {
		s.failDoc(ctx, doc, "no frames extracted", false)
		return nil, utils.E(utils.CodeBadGateway, op, "no frames extracted from video", nil)
	}

	total := int64(len(frames))
	doc.TotalFrames = total
	doc.Duration = va.Duration
	doc.Metadata = models.MediaMetadata{
		Width:  va.Resolution.Width,
		Height: va.Resolution.Height,
		FPS:    va.FPS,
		Codec:  "unknown",
	}

	if err := s.Progress.Begin(ctx, doc.SessionID, total); err != nil {
		return nil, err
	}

	pending := models.PendingAnalysis{
		SessionID:    doc.SessionID,
		UserID:       doc.UserID,
		Filename:     doc.Filename,
		TotalFrames:  total,
		AIFake:       va.IsFake,
		AIConfidence: va.Confidence,
		ModelVersion: va.ModelVersion,
		Metadata:     doc.Metadata,
		StartedAt:    doc.CreatedAt,
	}
	if err := s.Cache.SetJSON(ctx, pendingKey(doc.SessionID), pending, FrameTTL); err != nil {
		s.failDoc(ctx, doc, "failed to schedule frames", false)
		return nil, err
	}

	for i, b := range frames {
		n := int64(i)
		if err := s.Cache.Set(ctx, FrameKey(doc.SessionID, n), string(b), FrameTTL); err != nil {
			s.failDoc(ctx, doc, "failed to schedule frames", false)
			return nil, err
		}
		err := s.Queue.Enqueue(ctx, models.QueueItem{
			SessionID:               doc.SessionID,
			FrameNumber:             n,
			Priority:                priority,
			EstimatedProcessingTime: estimatedFrameMS,
		})
		if err != nil {
			s.failDoc(ctx, doc, "failed to schedule frames", false)
			return nil, err
		}
	}

	if s.Repo != nil {
		if err := s.Repo.Create(ctx, doc); err != nil {
			log.WithError(err).Error("failed to save session")
		}
	}
	log.WithField("frames", total).Info("video frames queued")
	return doc, nil
}

func (s *analysisService) RecordFrame(ctx context.Context, sessionID string, fa models.FrameAnalysis) (bool, error) {
	const op = "AnalysisService.RecordFrame"

	var p models.PendingAnalysis
	hit, err := s.Cache.GetJSON(ctx, pendingKey(sessionID), &p)
	if utils.IsCode(err, utils.CodeDataLoss) {
		s.dropCorrupt(ctx, sessionID, err)
		return false, err
	}
	if err != nil {
		return false, err
	}
	if !hit {
		return false, utils.E(utils.CodeNotFound, op, "no pending analysis for session", utils.ErrNotFound)
	}
	if fa.FrameIndex < 0 || fa.FrameIndex >= p.TotalFrames {
		return false, utils.E(utils.CodeInvalidArgument, op, "frame index out of range", nil)
	}

	if err := s.Cache.SetJSON(ctx, frameResultKey(sessionID, fa.FrameIndex), fa, FrameTTL); err != nil {
		return false, err
	}
	if err := s.Cache.Del(ctx, FrameKey(sessionID, fa.FrameIndex)); err != nil {
		s.Logger.WithError(err).WithField("session_id", sessionID).Debug("frame bytes not evicted")
	}

	done, err := s.Cache.Incr(ctx, doneKey(sessionID), FrameTTL)
	if err != nil {
		return false, err
	}
	switch {
	case done < p.TotalFrames:
		if err := s.Progress.Advance(ctx, sessionID, done); err != nil {
			s.Logger.WithError(err).WithField("session_id", sessionID).Warn("progress not advanced")
		}
		return false, nil
	case done > p.TotalFrames:
		return false, nil
	}
	return true, s.finalize(ctx, &p)
}

func (s *analysisService) finalize(ctx context.Context, p *models.PendingAnalysis) error {
	log := s.Logger.WithField("session_id", p.SessionID)

	frames := make([]models.FrameAnalysis, 0, p.TotalFrames)
	keys := []string{pendingKey(p.SessionID), doneKey(p.SessionID)}
	var sum float64
	var failed int64
	for n := range p.TotalFrames {
		key := frameResultKey(p.SessionID, n)
		keys = append(keys, key)

		var fa models.FrameAnalysis
		hit, err := s.Cache.GetJSON(ctx, key, &fa)
		switch {
		case utils.IsCode(err, utils.CodeDataLoss):
			log.WithError(err).WithField("frame", n).Error("frame result corrupted")
			fa = models.FrameAnalysis{FrameIndex: n, Error: "result corrupted"}
		case err != nil:
			return err
		case !hit:
			fa = models.FrameAnalysis{FrameIndex: n, Error: "result expired"}
		}
		if fa.Error != "" {
			failed++
		}
		sum += fa.ForensicScore
		frames = append(frames, fa)
	}

	doc := &models.AnalysisSession{
		SessionID:   p.SessionID,
		UserID:      p.UserID,
		Filename:    p.Filename,
		MediaType:   MediaVideo,
		TotalFrames: p.TotalFrames,
		Metadata:    p.Metadata,
		CreatedAt:   p.StartedAt,
	}

	if failed == p.TotalFrames {
		s.failDoc(ctx, doc, "forensic analysis failed for every frame", true)
	} else {
		verdict := &inference.FrameVerdict{IsFake: p.AIFake}
		res := &models.AnalysisResult{
			Verdict:           verdict.Verdict(),
			OverallConfidence: p.AIConfidence,
			AIScore:           p.AIConfidence,
			ForensicScore:     sum / float64(p.TotalFrames),
			ProcessingTimeMS:  s.now().Sub(p.StartedAt).Milliseconds(),
			Explanation:       []string{"Automated Analysis"},
			ModelVersion:      p.ModelVersion,
			FrameAnalysis:     frames,
		}
		if failed > 0 {
			res.Explanation = append(res.Explanation, fmt.Sprintf("%d of %d frames could not be verified", failed, p.TotalFrames))
		}
		s.completeDoc(ctx, log, doc, res, true)
	}

	if err := s.Cache.Del(ctx, keys...); err != nil {
		log.WithError(err).Debug("analysis scratch keys not evicted")
	}
	return nil
}

// dropCorrupt fails a session whose pending record no longer decodes and
// removes the record, so the frames still queued for it are dropped.
func (s *analysisService) dropCorrupt(ctx context.Context, sessionID string, cause error) {
	log := s.Logger.WithField("session_id", sessionID)
	log.WithError(cause).Error("pending analysis corrupted")
	if err := s.FailSession(ctx, sessionID, "analysis record corrupted"); err != nil {
		log.WithError(err).Warn("live session not failed")
	}
	if err := s.Cache.Del(ctx, pendingKey(sessionID), doneKey(sessionID)); err != nil {
		log.WithError(err).Debug("pending analysis not evicted")
	}
}

func (s *analysisService) FailSession(ctx context.Context, sessionID, reason string) error {
	if err := s.Progress.Finish(ctx, sessionID, models.StatusFailed, nil, reason); err != nil {
		return err
	}
	if s.Repo != nil {
		if err := s.Repo.Fail(ctx, sessionID, reason, s.now()); err != nil && !errors.Is(err, utils.ErrNotFound) {
			s.Logger.WithError(err).WithField("session_id", sessionID).Error("failed to record failure")
		}
	}
	return nil
}

func (s *analysisService) Get(ctx context.Context, sessionID string) (*models.AnalysisSession, error) {
	const op = "AnalysisService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if s.Repo == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "history store not configured", nil)
	}
	out, err := s.Repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "analysis not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get analysis", err)
	}
	return out, nil
}

func (s *analysisService) History(ctx context.Context, userID string, limit int64) ([]models.AnalysisSession, error) {
	const op = "AnalysisService.History"

	if s.Repo == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "history store not configured", nil)
	}
	out, err := s.Repo.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to fetch history", err)
	}
	return out, nil
}

func (s *analysisService) Upload(ctx context.Context, sessionID string) (*models.UploadState, bool, error) {
	return s.Uploads.Get(ctx, sessionID)
}

func (s *analysisService) archive(ctx context.Context, log *logrus.Entry, doc *models.AnalysisSession, contentType string, data []byte) string {
	if s.Archive == nil {
		return ""
	}
	obj := storage.MediaObject(doc.UserID, doc.SessionID, doc.Filename, contentType, data)
	path, err := s.Archive.Upload(ctx, obj, bytes.NewReader(data))
	if err != nil {
		log.WithError(err).Warn("media not archived")
		return ""
	}
	return path
}

// completeDoc publishes the verdict and persists the document, inserting it
// unless it was stored when the frames were queued. Persistence failures are
// logged; the live record already carries the outcome.
func (s *analysisService) completeDoc(ctx context.Context, log *logrus.Entry, doc *models.AnalysisSession, res *models.AnalysisResult, persisted bool) {
	now := s.now().UTC()
	doc.Status = models.StatusCompleted
	doc.Result = res
	doc.CompletedAt = &now

	if err := s.Progress.Finish(ctx, doc.SessionID, models.StatusCompleted, res, ""); err != nil {
		log.WithError(err).Warn("live session not completed")
	}
	if s.Repo != nil {
		var err error
		if persisted {
			err = s.Repo.Complete(ctx, doc.SessionID, res, now)
		} else {
			err = s.Repo.Create(ctx, doc)
		}
		if err != nil {
			log.WithError(err).Error("failed to save session")
		}
	}
	telemetry.RecordAnalysis(doc.MediaType, string(models.StatusCompleted))
	log.WithFields(logrus.Fields{
		"verdict":        res.Verdict,
		"forensic_score": res.ForensicScore,
	}).Info("analysis completed")
}

func (s *analysisService) failDoc(ctx context.Context, doc *models.AnalysisSession, reason string, persisted bool) {
	log := s.Logger.WithField("session_id", doc.SessionID)
	now := s.now().UTC()
	doc.Status = models.StatusFailed
	doc.Error = reason
	doc.CompletedAt = &now

	if err := s.Progress.Finish(ctx, doc.SessionID, models.StatusFailed, nil, reason); err != nil {
		log.WithError(err).Warn("live session not failed")
	}
	if doc.MediaType == MediaVideo && !persisted {
		// frames already queued are dropped by the worker once this is gone
		if err := s.Cache.Del(ctx, pendingKey(doc.SessionID)); err != nil {
			log.WithError(err).Debug("pending analysis not evicted")
		}
	}
	if s.Repo != nil {
		var err error
		if persisted {
			err = s.Repo.Fail(ctx, doc.SessionID, reason, now)
		} else {
			err = s.Repo.Create(ctx, doc)
		}
		if err != nil {
			log.WithError(err).Error("failed to save session")
		}
	}
	telemetry.RecordAnalysis(doc.MediaType, string(models.StatusFailed))
	log.WithField("reason", reason).Warn("analysis failed")
}

// abort closes out a session that never got past the upload.
func (s *analysisService) abort(ctx context.Context, sessionID, reason string) {
	if err := s.Progress.Finish(ctx, sessionID, models.StatusFailed, nil, reason); err != nil {
		s.Logger.WithError(err).WithField("session_id", sessionID).Debug("live session not failed")
	}
}

func detectMediaType(contentType string, data []byte) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	switch {
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo
	case strings.HasPrefix(ct, "image/"):
		return MediaImage
	}
	return ""
}
