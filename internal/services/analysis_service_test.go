package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/providers/inference"
	"github.com/yoockh/deepfake-detector/internal/storage"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n-fake-image-body")

func dataURL(b []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(b)
}

func TestAnalyzeImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc, err := f.svc.Analyze(ctx, AnalyzeRequest{
		Filename: "face.png",
		Size:     int64(len(pngBytes)),
		Body:     bytes.NewReader(pngBytes),
	})
	require.NoError(t, err)
	assert.Equal(t, MediaImage, doc.MediaType)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, "anonymous-user", doc.UserID)
	require.NotNil(t, doc.Result)
	assert.Equal(t, "Fake", doc.Result.Verdict)
	assert.Equal(t, 0.87, doc.Result.AIScore)
	assert.Equal(t, 0.8, doc.Result.ForensicScore)
	require.Len(t, doc.Result.FrameAnalysis, 1)

	saved, err := f.svc.Get(ctx, doc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, saved.Status)

	st, found, err := f.sessions.Get(ctx, doc.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Equal(t, 1.0, st.Progress)

	up, found, err := f.svc.Upload(ctx, doc.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, up.IsUploading)
	assert.Equal(t, 1.0, up.Progress)
	assert.EqualValues(t, len(pngBytes), up.BytesUploaded)
}

func TestAnalyzeImageDegradesWhenOneServiceFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.imageErr = errBoom
	f.detector.image = nil

	doc, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "a.png", Body: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	assert.Equal(t, "Real", doc.Result.Verdict)
	assert.Equal(t, 0.0, doc.Result.AIScore)
	assert.Len(t, doc.Result.Explanation, 2)
}

func TestAnalyzeImageFailsWhenBothServicesFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.imageErr = errBoom
	f.forensics.err = errBoom

	_, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "a.png", Body: bytes.NewReader(pngBytes)})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeBadGateway))

	docs, err := f.svc.History(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].Status)

	st, found, err := f.sessions.Get(ctx, docs[0].SessionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusFailed, st.Status)
}

func TestAnalyzeRejectsBadUploads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "big.png", Body: strings.NewReader(strings.Repeat("x", 2<<10))})
	assert.True(t, utils.IsCode(err, utils.CodeTooLarge))

	_, err = f.svc.Analyze(ctx, AnalyzeRequest{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("hello")})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = f.svc.Analyze(ctx, AnalyzeRequest{Filename: "empty.png", Body: strings.NewReader("")})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = f.svc.Analyze(ctx, AnalyzeRequest{Filename: "none"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestAnalyzeVideoQueuesFramesAndFinalizes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.video = &inference.VideoAnalysis{
		FrameVerdict: inference.FrameVerdict{IsFake: true, Confidence: 0.7, ModelVersion: "1.0.0"},
		Duration:     3,
		FPS:          24,
		Resolution:   inference.Resolution{Width: 320, Height: 240},
		Frames:       []string{dataURL([]byte("f0")), "garbage%%", dataURL([]byte("f1"))},
	}

	doc, err := f.svc.Analyze(ctx, AnalyzeRequest{
		UserID:      "u1",
		Filename:    "clip.mp4",
		ContentType: "video/mp4",
		Body:        strings.NewReader("mp4-bytes"),
		Priority:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.EqualValues(t, 2, doc.TotalFrames)
	assert.Equal(t, 320, doc.Metadata.Width)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	head, found, err := f.queue.Peek(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5.0, head.Priority)

	frame, hit, err := f.cache.Get(ctx, FrameKey(doc.SessionID, 1))
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "f1", frame)

	finished, err := f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 0, ForensicScore: 0.6})
	require.NoError(t, err)
	assert.False(t, finished)

	st, _, err := f.sessions.Get(ctx, doc.SessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.CurrentFrame)
	assert.Equal(t, 0.5, st.Progress)

	finished, err = f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 1, Error: "engine down"})
	require.NoError(t, err)
	assert.True(t, finished)

	res := f.repo.completed[doc.SessionID]
	require.NotNil(t, res)
	assert.Equal(t, "Fake", res.Verdict)
	assert.InDelta(t, 0.3, res.ForensicScore, 1e-9)
	assert.Len(t, res.FrameAnalysis, 2)
	assert.Contains(t, res.Explanation, "1 of 2 frames could not be verified")

	st, _, err = f.sessions.Get(ctx, doc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Status)

	assert.False(t, f.mr.Exists(pendingKey(doc.SessionID)))
	assert.False(t, f.mr.Exists(doneKey(doc.SessionID)))
	assert.False(t, f.mr.Exists(FrameKey(doc.SessionID, 0)))

	_, err = f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 0})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestAnalyzeVideoFailsWhenEveryFrameFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.video = &inference.VideoAnalysis{Frames: []string{dataURL([]byte("only"))}}

	doc, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "c.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	require.NoError(t, err)

	finished, err := f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 0, Error: "engine down"})
	require.NoError(t, err)
	assert.True(t, finished)
	assert.NotEmpty(t, f.repo.failed[doc.SessionID])

	st, _, err := f.sessions.Get(ctx, doc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Status)
}

func TestAnalyzeVideoWithoutFrames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.video = &inference.VideoAnalysis{}

	_, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "c.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	assert.True(t, utils.IsCode(err, utils.CodeBadGateway))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordFrameRejectsOutOfRangeIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.video = &inference.VideoAnalysis{Frames: []string{dataURL([]byte("a"))}}

	doc, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "c.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	require.NoError(t, err)

	_, err = f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 7})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestRecordFrameFailsSessionOnCorruptPendingRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.video = &inference.VideoAnalysis{Frames: []string{dataURL([]byte("a")), dataURL([]byte("b"))}}

	doc, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "c.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	require.NoError(t, err)
	require.NoError(t, f.mr.Set(pendingKey(doc.SessionID), "{not json"))

	_, err = f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 0, ForensicScore: 0.8})
	assert.True(t, utils.IsCode(err, utils.CodeDataLoss), "got %v", err)

	st, found, err := f.sessions.Get(ctx, doc.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusFailed, st.Status)
	assert.Equal(t, "analysis record corrupted", f.repo.failed[doc.SessionID])
	assert.False(t, f.mr.Exists(pendingKey(doc.SessionID)))

	// later frames of the same session are dropped as no longer pending
	_, err = f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 1})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound), "got %v", err)
}

func TestFinalizeCountsCorruptFrameResultAsFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.detector.video = &inference.VideoAnalysis{Frames: []string{dataURL([]byte("a")), dataURL([]byte("b"))}}

	doc, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "c.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	require.NoError(t, err)

	_, err = f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 0, ForensicScore: 0.8})
	require.NoError(t, err)
	require.NoError(t, f.mr.Set(frameResultKey(doc.SessionID, 0), "{broken"))

	finished, err := f.svc.RecordFrame(ctx, doc.SessionID, models.FrameAnalysis{FrameIndex: 1, ForensicScore: 0.6})
	require.NoError(t, err)
	assert.True(t, finished)

	res := f.repo.completed[doc.SessionID]
	require.NotNil(t, res)
	assert.InDelta(t, 0.3, res.ForensicScore, 1e-9)
	require.Len(t, res.FrameAnalysis, 2)
	assert.Equal(t, "result corrupted", res.FrameAnalysis[0].Error)

	st, _, err := f.sessions.Get(ctx, doc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Status)
}

func TestAnalyzeFailsFastWhenStoreIsDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.conn.Disconnect())

	_, err := f.svc.Analyze(ctx, AnalyzeRequest{Filename: "a.png", Body: bytes.NewReader(pngBytes)})
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

func TestDetectMediaType(t *testing.T) {
	assert.Equal(t, MediaVideo, detectMediaType("video/webm", nil))
	assert.Equal(t, MediaImage, detectMediaType("IMAGE/JPEG", nil))
	assert.Equal(t, MediaImage, detectMediaType("application/octet-stream", pngBytes))
	assert.Equal(t, "", detectMediaType("", []byte("plain text")))
}

type memUploader struct {
	objects map[string][]byte
	last    storage.Object
	err     error
}

func (u *memUploader) Upload(_ context.Context, obj storage.Object, r io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.objects[obj.Name] = b
	u.last = obj
	return "mem://" + obj.Name, nil
}

func TestAnalyzeArchivesMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	archive := &memUploader{objects: map[string][]byte{}}

	svc, err := NewAnalysisService(AnalysisDeps{
		Detector:  f.detector,
		Forensics: f.forensics,
		Progress:  f.progress,
		Uploads:   f.uploads,
		Queue:     f.queue,
		Cache:     f.cache,
		Repo:      f.repo,
		Archive:   archive,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)

	doc, err := svc.Analyze(ctx, AnalyzeRequest{UserID: "u1", Filename: "face.png", Body: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	assert.Equal(t, "mem://media/u1/"+doc.SessionID+"/face.png", doc.StoredPath)
	assert.Equal(t, pngBytes, archive.objects["media/u1/"+doc.SessionID+"/face.png"])
	assert.Equal(t, doc.SessionID, archive.last.SessionID)
	assert.Len(t, archive.last.SHA256, 64)

	// archive failures never fail the analysis
	archive.err = utils.E(utils.CodeUnavailable, "GCSUploader.Upload", "archive failed", nil)
	doc, err = svc.Analyze(ctx, AnalyzeRequest{UserID: "u1", Filename: "face.png", Body: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	assert.Empty(t, doc.StoredPath)
	assert.Equal(t, models.StatusCompleted, doc.Status)
}
