package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "REDIS_URL", "REDIS_ADDR", "REDIS_URI", "FRAME_WORKERS", "METRICS_INTERVAL", "AI_SERVICE_URL"} {
		t.Setenv(k, "")
	}
	s := Load()
	assert.Equal(t, "3001", s.Port)
	assert.Equal(t, "", s.RedisURL)
	assert.Equal(t, 4, s.FrameWorkers)
	assert.Equal(t, time.Minute, s.MetricsInterval)
	assert.Equal(t, "http://localhost:5000", s.AIServiceURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_URL", "")
	t.Setenv("FRAME_WORKERS", "9")
	t.Setenv("METRICS_INTERVAL", "15")
	t.Setenv("REDIS_HEALTH_INTERVAL", "250ms")
	t.Setenv("AI_SERVICE_URL", "http://ai:5000/")
	t.Setenv("FRAME_MAX_RETRIES", "not-a-number")

	s := Load()
	assert.Equal(t, "cache:6379", s.RedisURL)
	assert.Equal(t, 9, s.FrameWorkers)
	assert.Equal(t, 15*time.Second, s.MetricsInterval)
	assert.Equal(t, 250*time.Millisecond, s.RedisHealthInterval)
	assert.Equal(t, "http://ai:5000", s.AIServiceURL)
	assert.EqualValues(t, 3, s.FrameMaxRetries)
}

func TestRedisOptions(t *testing.T) {
	_, err := RedisOptions("")
	require.Error(t, err)

	opt, err := RedisOptions("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
	assert.Equal(t, 50*time.Millisecond, opt.MinRetryBackoff)
	assert.Equal(t, time.Second, opt.MaxRetryBackoff)

	opt, err = RedisOptions("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opt.Addr)
	assert.Equal(t, 2*time.Second, opt.DialTimeout)
}
