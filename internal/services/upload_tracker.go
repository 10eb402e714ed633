package services

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/state"
)

const (
	uploadReportBytes    = 1 << 20
	uploadReportInterval = 250 * time.Millisecond
)

// uploadTracker mirrors read progress into the UploadStore. Writes are
// throttled and best effort.
type uploadTracker struct {
	ctx       context.Context
	r         io.Reader
	store     *state.UploadStore
	log       *logrus.Entry
	sessionID string
	total     int64
	now       func() time.Time

	read       int64
	started    time.Time
	lastReport time.Time
	lastBytes  int64
}

func newUploadTracker(ctx context.Context, r io.Reader, store *state.UploadStore, log *logrus.Entry, sessionID string, total int64, now func() time.Time) *uploadTracker {
	t := &uploadTracker{
		ctx:       ctx,
		r:         r,
		store:     store,
		log:       log,
		sessionID: sessionID,
		total:     total,
		now:       now,
		started:   now(),
	}
	t.report(true, "")
	return t
}

func (t *uploadTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.read += int64(n)
	if t.read-t.lastBytes >= uploadReportBytes || t.now().Sub(t.lastReport) >= uploadReportInterval {
		t.report(true, "")
	}
	return n, err
}

func (t *uploadTracker) done()             { t.report(false, "") }
func (t *uploadTracker) fail(reason string) { t.report(false, reason) }

func (t *uploadTracker) report(uploading bool, reason string) {
	if t.store == nil {
		return
	}
	now := t.now()
	total := t.total
	if total < t.read {
		total = t.read
	}

	var progress float64
	switch {
	case !uploading && reason == "":
		progress = 1
	case total > 0:
		progress = float64(t.read) / float64(total)
	}

	var speed float64
	if elapsed := now.Sub(t.started).Seconds(); elapsed > 0 {
		speed = float64(t.read) / elapsed
	}

	t.lastReport, t.lastBytes = now, t.read
	err := t.store.Set(t.ctx, t.sessionID, &models.UploadState{
		IsUploading:   uploading,
		Progress:      progress,
		Error:         reason,
		BytesUploaded: t.read,
		TotalBytes:    total,
		UploadSpeed:   speed,
	})
	if err != nil {
		t.log.WithError(err).Debug("upload state not recorded")
	}
}
