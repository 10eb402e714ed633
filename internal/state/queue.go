package state

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

// Queue is the global frame work queue: a sorted set scored by priority.
// The member is the encoded item, so two items differing in any field are
// distinct entries. Among equal scores the pop order is whatever Redis picks
// (lexicographically greatest member); callers get no fairness guarantee.
type Queue struct {
	conn *Connection
	key  string
	now  func() time.Time
}

func NewQueue(conn *Connection) *Queue {
	return &Queue{conn: conn, key: QueueKey, now: time.Now}
}

func (q *Queue) Enqueue(ctx context.Context, item models.QueueItem) error {
	const op = "Queue.Enqueue"

	if err := item.Validate(); err != nil {
		return utils.E(utils.CodeInvalidArgument, op, err.Error(), err)
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = q.now()
	}
	member, err := encodeQueueItem(&item)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode queue item", err)
	}

	rdb, err := q.conn.Client(op)
	if err != nil {
		return err
	}
	return q.conn.Err(op, rdb.ZAdd(ctx, q.key, redis.Z{Score: item.Priority, Member: member}).Err())
}

// Dequeue atomically pops the highest-priority item. found is false on an
// empty queue.
func (q *Queue) Dequeue(ctx context.Context) (*models.QueueItem, bool, error) {
	const op = "Queue.Dequeue"

	rdb, err := q.conn.Client(op)
	if err != nil {
		return nil, false, err
	}
	zs, err := rdb.ZPopMax(ctx, q.key, 1).Result()
	if err != nil {
		return nil, false, q.conn.Err(op, err)
	}
	return q.decodeHead(op, zs)
}

// Peek returns the item Dequeue would pop next, without removing it.
func (q *Queue) Peek(ctx context.Context) (*models.QueueItem, bool, error) {
	const op = "Queue.Peek"

	rdb, err := q.conn.Client(op)
	if err != nil {
		return nil, false, err
	}
	zs, err := rdb.ZRevRangeWithScores(ctx, q.key, 0, 0).Result()
	if err != nil {
		return nil, false, q.conn.Err(op, err)
	}
	return q.decodeHead(op, zs)
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	const op = "Queue.Len"

	rdb, err := q.conn.Client(op)
	if err != nil {
		return 0, err
	}
	n, err := rdb.ZCard(ctx, q.key).Result()
	return n, q.conn.Err(op, err)
}

// Clear drops every pending item.
func (q *Queue) Clear(ctx context.Context) error {
	const op = "Queue.Clear"

	rdb, err := q.conn.Client(op)
	if err != nil {
		return err
	}
	return q.conn.Err(op, rdb.Del(ctx, q.key).Err())
}

func (q *Queue) decodeHead(op string, zs []redis.Z) (*models.QueueItem, bool, error) {
	if len(zs) == 0 {
		return nil, false, nil
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return nil, false, utils.E(utils.CodeDataLoss, op, "unexpected queue member type", nil)
	}
	item, err := decodeQueueItem(member, zs[0].Score)
	if err != nil {
		return nil, false, utils.E(utils.CodeDataLoss, op, "corrupt queue item", err)
	}
	return item, true, nil
}
