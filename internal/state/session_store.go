package state

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

const maxTxAttempts = 25

var errSessionMissing = errors.New("session state does not exist")

// patchSessionScript writes field/value pairs only when the record exists,
// so a partial update can never materialize a half-filled session.
var patchSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// progressScript is patchSessionScript plus the currentFrame <= totalFrames
// bound. ARGV: currentFrame, progress, lastUpdate.
var progressScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local total = tonumber(redis.call('HGET', KEYS[1], 'totalFrames'))
if total ~= nil and tonumber(ARGV[1]) > total then
  return -1
end
redis.call('HSET', KEYS[1], 'currentFrame', ARGV[1], 'progress', ARGV[2], 'lastUpdate', ARGV[3])
return 1
`)

// advanceScript is the pipeline's progress write. It is ignored (2) once the
// session is completed or failed, or when the cursor would move backwards, so
// a late worker can never rewind a finished session.
// ARGV: currentFrame, progress, lastUpdate, processingSpeed, estimatedCompletion.
var advanceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'completed' or status == 'failed' then
  return 2
end
local frame = tonumber(ARGV[1])
local cur = tonumber(redis.call('HGET', KEYS[1], 'currentFrame'))
if cur ~= nil and frame < cur then
  return 2
end
local total = tonumber(redis.call('HGET', KEYS[1], 'totalFrames'))
if total ~= nil and frame > total then
  return -1
end
redis.call('HSET', KEYS[1], 'currentFrame', ARGV[1], 'progress', ARGV[2], 'lastUpdate', ARGV[3],
  'processingSpeed', ARGV[4], 'estimatedCompletion', ARGV[5])
return 1
`)

type SessionStore struct {
	conn *Connection
	ttl  time.Duration
	now  func() time.Time
}

func NewSessionStore(conn *Connection, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &SessionStore{conn: conn, ttl: ttl, now: time.Now}
}

// Set replaces the whole record and refreshes its TTL.
func (s *SessionStore) Set(ctx context.Context, state *models.SessionState) error {
	return s.SetWithTTL(ctx, state, s.ttl)
}

func (s *SessionStore) SetWithTTL(ctx context.Context, state *models.SessionState, ttl time.Duration) error {
	const op = "SessionStore.Set"

	if state == nil {
		return utils.E(utils.CodeInvalidArgument, op, "session state is required", nil)
	}
	if err := state.Validate(); err != nil {
		return utils.E(utils.CodeInvalidArgument, op, err.Error(), err)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	fields, err := encodeSession(state)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode session state", err)
	}

	rdb, err := s.conn.Client(op)
	if err != nil {
		return err
	}
	key := SessionKey(state.SessionID)
	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return s.conn.Err(op, err)
}

// Get returns found=false when the key never existed or has expired.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.SessionState, bool, error) {
	const op = "SessionStore.Get"

	if sessionID == "" {
		return nil, false, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	rdb, err := s.conn.Client(op)
	if err != nil {
		return nil, false, err
	}
	data, err := rdb.HGetAll(ctx, SessionKey(sessionID)).Result()
	if err != nil {
		return nil, false, s.conn.Err(op, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	state, err := decodeSession(data)
	if err != nil {
		return nil, false, utils.E(utils.CodeDataLoss, op, "corrupt session record", err)
	}
	return state, true, nil
}

func (s *SessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	const op = "SessionStore.Exists"

	rdb, err := s.conn.Client(op)
	if err != nil {
		return false, err
	}
	n, err := rdb.Exists(ctx, SessionKey(sessionID)).Result()
	if err != nil {
		return false, s.conn.Err(op, err)
	}
	return n > 0, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	const op = "SessionStore.Delete"

	rdb, err := s.conn.Client(op)
	if err != nil {
		return err
	}
	return s.conn.Err(op, rdb.Del(ctx, SessionKey(sessionID)).Err())
}

// UpdateProgress touches only currentFrame, progress and lastUpdate. The TTL
// is left alone. A missing session is CodeNotFound.
func (s *SessionStore) UpdateProgress(ctx context.Context, sessionID string, currentFrame int64, progress float64) error {
	const op = "SessionStore.UpdateProgress"

	switch {
	case sessionID == "":
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	case currentFrame < 0:
		return utils.E(utils.CodeInvalidArgument, op, "current_frame must be >= 0", nil)
	case progress < 0 || progress > 1:
		return utils.E(utils.CodeInvalidArgument, op, "progress must be within [0,1]", nil)
	}

	rdb, err := s.conn.Client(op)
	if err != nil {
		return err
	}
	res, err := progressScript.Run(ctx, rdb, []string{SessionKey(sessionID)},
		formatInt(currentFrame), formatFloat(progress), formatTime(s.now())).Int()
	if err != nil {
		return s.conn.Err(op, err)
	}
	switch res {
	case 0:
		return utils.E(utils.CodeNotFound, op, "session not found", errSessionMissing)
	case -1:
		return utils.E(utils.CodeInvalidArgument, op, "current_frame exceeds total_frames", nil)
	}
	return nil
}

// AdvanceProgress moves the cursor forward together with speed and ETA in one
// atomic write. applied is false when the session already finished or has
// seen a later frame; UpdateProgress remains the unconditional variant.
func (s *SessionStore) AdvanceProgress(ctx context.Context, sessionID string, currentFrame int64, progress, framesPerSec float64, eta *time.Time) (applied bool, err error) {
	const op = "SessionStore.AdvanceProgress"

	switch {
	case sessionID == "":
		return false, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	case currentFrame < 0:
		return false, utils.E(utils.CodeInvalidArgument, op, "current_frame must be >= 0", nil)
	case progress < 0 || progress > 1:
		return false, utils.E(utils.CodeInvalidArgument, op, "progress must be within [0,1]", nil)
	case framesPerSec < 0:
		return false, utils.E(utils.CodeInvalidArgument, op, "processing_speed must be >= 0", nil)
	}
	etaRaw := ""
	if eta != nil {
		etaRaw = formatTime(*eta)
	}

	rdb, err := s.conn.Client(op)
	if err != nil {
		return false, err
	}
	res, err := advanceScript.Run(ctx, rdb, []string{SessionKey(sessionID)},
		formatInt(currentFrame), formatFloat(progress), formatTime(s.now()),
		formatFloat(framesPerSec), etaRaw).Int()
	if err != nil {
		return false, s.conn.Err(op, err)
	}
	switch res {
	case 0:
		return false, utils.E(utils.CodeNotFound, op, "session not found", errSessionMissing)
	case -1:
		return false, utils.E(utils.CodeInvalidArgument, op, "current_frame exceeds total_frames", nil)
	case 2:
		return false, nil
	}
	return true, nil
}

// UpdateStatus sets status and lastUpdate on an existing session.
func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	const op = "SessionStore.UpdateStatus"

	if !status.Valid() {
		return utils.E(utils.CodeInvalidArgument, op, "invalid status", nil)
	}
	return s.patch(ctx, op, sessionID,
		fieldStatus, string(status),
		fieldLastUpdate, formatTime(s.now()),
	)
}

// StartProcessing moves an existing session into the processing phase with a
// known frame count. Progress counters and the clock restart; listeners are
// kept.
func (s *SessionStore) StartProcessing(ctx context.Context, sessionID string, totalFrames int64) error {
	const op = "SessionStore.StartProcessing"

	if totalFrames < 0 {
		return utils.E(utils.CodeInvalidArgument, op, "total_frames must be >= 0", nil)
	}
	now := formatTime(s.now())
	return s.patch(ctx, op, sessionID,
		fieldStatus, string(models.StatusProcessing),
		fieldTotalFrames, formatInt(totalFrames),
		fieldCurrentFrame, "0",
		fieldProgress, "0",
		fieldStartTime, now,
		fieldLastUpdate, now,
		fieldEstimatedCompletion, "",
	)
}

// UpdateThroughput records the measured speed and completion estimate.
func (s *SessionStore) UpdateThroughput(ctx context.Context, sessionID string, framesPerSec float64, eta *time.Time) error {
	const op = "SessionStore.UpdateThroughput"

	if framesPerSec < 0 {
		return utils.E(utils.CodeInvalidArgument, op, "processing_speed must be >= 0", nil)
	}
	etaRaw := ""
	if eta != nil {
		etaRaw = formatTime(*eta)
	}
	return s.patch(ctx, op, sessionID,
		fieldProcessingSpeed, formatFloat(framesPerSec),
		fieldEstimatedCompletion, etaRaw,
	)
}

func (s *SessionStore) patch(ctx context.Context, op, sessionID string, pairs ...any) error {
	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	rdb, err := s.conn.Client(op)
	if err != nil {
		return err
	}
	res, err := patchSessionScript.Run(ctx, rdb, []string{SessionKey(sessionID)}, pairs...).Int()
	if err != nil {
		return s.conn.Err(op, err)
	}
	if res == 0 {
		return utils.E(utils.CodeNotFound, op, "session not found", errSessionMissing)
	}
	return nil
}

// AddConnection adds socketID to the session's listener set. Adding an id
// that is already present is a no-op. The read-modify-write runs under
// WATCH, so concurrent joins on one session never drop each other.
func (s *SessionStore) AddConnection(ctx context.Context, sessionID, socketID string) error {
	const op = "SessionStore.AddConnection"

	return s.mutateConnections(ctx, op, sessionID, socketID, func(ids []string) ([]string, bool) {
		if slices.Contains(ids, socketID) {
			return ids, false
		}
		return append(ids, socketID), true
	}, true)
}

// RemoveConnection drops socketID from the listener set. It never creates a
// record: removing from an absent session is a no-op.
func (s *SessionStore) RemoveConnection(ctx context.Context, sessionID, socketID string) error {
	const op = "SessionStore.RemoveConnection"

	return s.mutateConnections(ctx, op, sessionID, socketID, func(ids []string) ([]string, bool) {
		if !slices.Contains(ids, socketID) {
			return ids, false
		}
		return slices.DeleteFunc(ids, func(id string) bool { return id == socketID }), true
	}, false)
}

func (s *SessionStore) mutateConnections(
	ctx context.Context,
	op, sessionID, socketID string,
	mutate func([]string) ([]string, bool),
	requireSession bool,
) error {
	if sessionID == "" || socketID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id and socket_id are required", nil)
	}
	rdb, err := s.conn.Client(op)
	if err != nil {
		return err
	}
	key := SessionKey(sessionID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, fieldWebsocketConnections).Result()
		if errors.Is(err, redis.Nil) {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return errSessionMissing
			}
			raw = ""
		} else if err != nil {
			return err
		}

		ids, err := decodeConnections(raw)
		if err != nil {
			return err
		}
		ids, changed := mutate(ids)
		if !changed {
			return nil
		}
		encoded, err := encodeConnections(ids)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, fieldWebsocketConnections, encoded)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = rdb.Watch(ctx, txf, key)
		var decErr *decodeError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, errSessionMissing):
			if requireSession {
				return utils.E(utils.CodeNotFound, op, "session not found", err)
			}
			return nil
		case errors.As(err, &decErr):
			return utils.E(utils.CodeDataLoss, op, "corrupt connection list", err)
		default:
			return s.conn.Err(op, err)
		}
	}
	return utils.E(utils.CodeConflict, op, "too much contention on session connections", err)
}
