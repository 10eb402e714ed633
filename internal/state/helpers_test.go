package state

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testOptions(addr string) *redis.Options {
	return &redis.Options{
		Addr:         addr,
		MaxRetries:   -1,
		DialTimeout:  250 * time.Millisecond,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
	}
}

func newTestConnection(t *testing.T, opts ...ConnectionOption) (*Connection, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	conn := NewConnection(testOptions(mr.Addr()), quietLogger(), opts...)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn, mr
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
