package state

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

// MetricsStore keeps the latest snapshot plus a capped per-day history,
// most recent first.
type MetricsStore struct {
	conn       *Connection
	currentTTL time.Duration
	historyTTL time.Duration
	historyCap int64
	now        func() time.Time
}

func NewMetricsStore(conn *Connection) *MetricsStore {
	return &MetricsStore{
		conn:       conn,
		currentTTL: MetricsCurrentTTL,
		historyTTL: MetricsHistoryTTL,
		historyCap: MetricsHistoryCap,
		now:        time.Now,
	}
}

// SetCurrent overwrites metrics:current and pushes a copy onto today's
// history list in one transaction.
func (s *MetricsStore) SetCurrent(ctx context.Context, snap *models.MetricsSnapshot) error {
	const op = "MetricsStore.SetCurrent"

	if snap == nil {
		return utils.E(utils.CodeInvalidArgument, op, "snapshot is required", nil)
	}
	payload, err := encodeMetricsJSON(snap)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode snapshot", err)
	}

	rdb, err := s.conn.Client(op)
	if err != nil {
		return err
	}
	historyKey := MetricsHistoryKey(s.now().UTC().Format(HistoryDateLayout))
	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, MetricsCurrentKey)
		p.HSet(ctx, MetricsCurrentKey, encodeMetricsHash(snap))
		p.Expire(ctx, MetricsCurrentKey, s.currentTTL)
		p.LPush(ctx, historyKey, payload)
		p.LTrim(ctx, historyKey, 0, s.historyCap-1)
		p.Expire(ctx, historyKey, s.historyTTL)
		return nil
	})
	return s.conn.Err(op, err)
}

func (s *MetricsStore) Current(ctx context.Context) (*models.MetricsSnapshot, bool, error) {
	const op = "MetricsStore.Current"

	rdb, err := s.conn.Client(op)
	if err != nil {
		return nil, false, err
	}
	data, err := rdb.HGetAll(ctx, MetricsCurrentKey).Result()
	if err != nil {
		return nil, false, s.conn.Err(op, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	snap, err := decodeMetricsHash(data)
	if err != nil {
		return nil, false, utils.E(utils.CodeDataLoss, op, "corrupt metrics record", err)
	}
	return snap, true, nil
}

// History returns the retained snapshots for a YYYY-MM-DD day, most recent
// first. Unknown days yield an empty slice.
func (s *MetricsStore) History(ctx context.Context, date string) ([]models.MetricsSnapshot, error) {
	const op = "MetricsStore.History"

	if _, err := time.Parse(HistoryDateLayout, date); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "date must be YYYY-MM-DD", err)
	}
	rdb, err := s.conn.Client(op)
	if err != nil {
		return nil, err
	}
	raw, err := rdb.LRange(ctx, MetricsHistoryKey(date), 0, -1).Result()
	if err != nil {
		return nil, s.conn.Err(op, err)
	}

	out := make([]models.MetricsSnapshot, 0, len(raw))
	for _, item := range raw {
		snap, err := decodeMetricsJSON(item)
		if err != nil {
			return nil, utils.E(utils.CodeDataLoss, op, "corrupt metrics history entry", err)
		}
		out = append(out, *snap)
	}
	return out, nil
}
