package cache

import (
	"context"
	"time"
)

// Cache is a plain key/value facade for ad hoc reuse. A zero ttl means the
// key never expires.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, hit bool, err error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	// Incr bumps an integer counter and (re)applies ttl when it is positive.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
