package cache

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

type RedisCache struct {
	conn *state.Connection
}

func NewRedisCache(conn *state.Connection) *RedisCache {
	return &RedisCache{conn: conn}
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	const op = "Cache.Set"

	if key == "" {
		return utils.E(utils.CodeInvalidArgument, op, "key is required", nil)
	}
	if ttl < 0 {
		ttl = 0
	}
	rdb, err := c.conn.Client(op)
	if err != nil {
		return err
	}
	return c.conn.Err(op, rdb.Set(ctx, key, value, ttl).Err())
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "Cache.Get"

	rdb, err := c.conn.Client(op)
	if err != nil {
		return "", false, err
	}
	s, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, c.conn.Err(op, err)
	}
	return s, true, nil
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	const op = "Cache.Del"

	if len(keys) == 0 {
		return nil
	}
	rdb, err := c.conn.Client(op)
	if err != nil {
		return err
	}
	return c.conn.Err(op, rdb.Del(ctx, keys...).Err())
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	const op = "Cache.Exists"

	rdb, err := c.conn.Client(op)
	if err != nil {
		return false, err
	}
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, c.conn.Err(op, err)
	}
	return n == 1, nil
}

// GetJSON decodes the value at key into dst. A value that does not decode is
// DATA_LOSS and stays in place for inspection.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	const op = "Cache.GetJSON"

	s, hit, err := c.Get(ctx, key)
	if err != nil || !hit {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return false, utils.E(utils.CodeDataLoss, op, "cached value cannot be decoded", err)
	}
	return true, nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return utils.E(utils.CodeInternal, "Cache.SetJSON", "failed to encode value", err)
	}
	return c.Set(ctx, key, string(b), ttl)
}

func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	const op = "Cache.Incr"

	rdb, err := c.conn.Client(op)
	if err != nil {
		return 0, err
	}
	var incr *redis.IntCmd
	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, c.conn.Err(op, err)
	}
	return incr.Val(), nil
}
