package state

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

// UploadStore tracks byte-level upload progress. Every tick is a full
// rewrite; there is no partial update.
type UploadStore struct {
	conn *Connection
	ttl  time.Duration
}

func NewUploadStore(conn *Connection, ttl time.Duration) *UploadStore {
	if ttl <= 0 {
		ttl = UploadTTL
	}
	return &UploadStore{conn: conn, ttl: ttl}
}

func (s *UploadStore) Set(ctx context.Context, sessionID string, u *models.UploadState) error {
	const op = "UploadStore.Set"

	switch {
	case sessionID == "":
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	case u == nil:
		return utils.E(utils.CodeInvalidArgument, op, "upload state is required", nil)
	case u.BytesUploaded < 0 || u.TotalBytes < 0 || u.UploadSpeed < 0:
		return utils.E(utils.CodeInvalidArgument, op, "byte counters and speed must be >= 0", nil)
	}

	rdb, err := s.conn.Client(op)
	if err != nil {
		return err
	}
	key := UploadKey(sessionID)
	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, encodeUpload(u))
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	return s.conn.Err(op, err)
}

func (s *UploadStore) Get(ctx context.Context, sessionID string) (*models.UploadState, bool, error) {
	const op = "UploadStore.Get"

	rdb, err := s.conn.Client(op)
	if err != nil {
		return nil, false, err
	}
	data, err := rdb.HGetAll(ctx, UploadKey(sessionID)).Result()
	if err != nil {
		return nil, false, s.conn.Err(op, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	u, err := decodeUpload(data)
	if err != nil {
		return nil, false, utils.E(utils.CodeDataLoss, op, "corrupt upload record", err)
	}
	return u, true, nil
}
