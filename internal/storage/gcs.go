package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/yoockh/deepfake-detector/internal/utils"
)

// GCSUploader archives media privately in one bucket. Objects are never
// overwritten: a second upload to the same name is a CONFLICT.
type GCSUploader struct {
	client *gcs.Client
	bucket string
}

func NewGCSUploader(ctx context.Context, bucket string) (*GCSUploader, error) {
	if bucket == "" {
		return nil, utils.E(utils.CodeInvalidArgument, "storage.NewGCSUploader", "gcs bucket is required", nil)
	}
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSUploader{client: c, bucket: bucket}, nil
}

func (u *GCSUploader) Close() error { return u.client.Close() }

// Upload returns the gs:// path of the stored object.
func (u *GCSUploader) Upload(ctx context.Context, obj Object, r io.Reader) (string, error) {
	const op = "GCSUploader.Upload"

	handle := u.client.Bucket(u.bucket).Object(obj.Name).If(gcs.Conditions{DoesNotExist: true})
	w := handle.NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.Metadata = objectMetadata(obj)

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", gcsErr(op, err)
	}
	if err := w.Close(); err != nil {
		return "", gcsErr(op, err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, obj.Name), nil
}

func objectMetadata(obj Object) map[string]string {
	md := map[string]string{"source": "deepfake-detector"}
	if obj.SessionID != "" {
		md["session_id"] = obj.SessionID
	}
	if obj.UserID != "" {
		md["user_id"] = obj.UserID
	}
	if obj.SHA256 != "" {
		md["sha256"] = obj.SHA256
	}
	return md
}

func gcsErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusPreconditionFailed:
			return utils.E(utils.CodeConflict, op, "object already archived", err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return utils.E(utils.CodeForbidden, op, "bucket access denied", err)
		case http.StatusNotFound:
			return utils.E(utils.CodeNotFound, op, "bucket not found", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return utils.E(utils.CodeTimeout, op, "archive timed out", err)
	}
	return utils.E(utils.CodeUnavailable, op, "archive failed", err)
}
