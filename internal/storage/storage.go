package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Object describes one archived upload.
type Object struct {
	Name        string
	ContentType string
	SessionID   string
	UserID      string
	SHA256      string // hex digest of the content
}

// Uploader archives uploaded media. It is optional: analysis works without it.
type Uploader interface {
	Upload(ctx context.Context, obj Object, r io.Reader) (storedPath string, err error)
}

// MediaObject builds the archive descriptor for an upload. Objects live under
// media/{userID}/{sessionID}/{filename}.
func MediaObject(userID, sessionID, filename, contentType string, data []byte) Object {
	if userID == "" {
		userID = "anonymous-user"
	}
	sum := sha256.Sum256(data)
	return Object{
		Name:        ObjectName(userID, sessionID, filename),
		ContentType: contentType,
		SessionID:   sessionID,
		UserID:      userID,
		SHA256:      hex.EncodeToString(sum[:]),
	}
}

func ObjectName(userID, sessionID, filename string) string {
	if userID == "" {
		userID = "anonymous-user"
	}
	return "media/" + userID + "/" + sessionID + "/" + sanitize(filename)
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "upload"
	}
	return string(out)
}
