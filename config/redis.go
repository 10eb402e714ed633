package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/state"
)

// RedisOptions turns REDIS_URL (redis://, rediss:// or host:port) into client
// options with bounded dial/read/write timeouts so no command hangs on a dead
// server.
func RedisOptions(raw string) (*redis.Options, error) {
	if raw == "" {
		return nil, errors.New("REDIS_URL (or REDIS_ADDR/REDIS_URI) environment variable is not set")
	}

	var opt *redis.Options
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		parsed, err := redis.ParseURL(raw)
		if err != nil {
			return nil, err
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: raw}
	}

	opt.DialTimeout = 2 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MinRetryBackoff = state.Backoff(1)
	opt.MaxRetryBackoff = state.Backoff(1 << 10)
	return opt, nil
}

// InitRedis opens the process-wide store connection. The caller owns it and
// must Disconnect on shutdown.
func InitRedis(ctx context.Context, s Settings, log *logrus.Logger) (*state.Connection, error) {
	opt, err := RedisOptions(s.RedisURL)
	if err != nil {
		return nil, err
	}
	conn := state.NewConnection(opt, log, state.WithHealthInterval(s.RedisHealthInterval))

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Connect(cctx); err != nil {
		return nil, err
	}
	return conn, nil
}
