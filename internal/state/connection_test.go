package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/deepfake-detector/internal/utils"
)

func TestConnectionLifecycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, _ := newTestConnection(t)

	require.NoError(t, conn.Connect(ctx))
	assert.True(t, conn.Connected())

	pong, err := conn.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)

	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.Disconnect())
	assert.False(t, conn.Connected())

	_, err = conn.Ping(ctx)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	assert.True(t, errors.Is(err, utils.ErrStoreUnavailable))
}

func TestConnectLogsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	log, hook := logtest.NewNullLogger()
	conn := NewConnection(testOptions(mr.Addr()), log)
	t.Cleanup(func() { _ = conn.Disconnect() })

	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Connect(context.Background()))

	n := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "redis connected" {
			n++
			assert.Equal(t, mr.Addr(), e.Data["addr"])
		}
	}
	assert.Equal(t, 1, n)
}

func TestConnectFailsWhenServerIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	conn := NewConnection(testOptions(addr), quietLogger())
	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	assert.False(t, conn.Connected())
}

func TestConnectionLossAndReconnect(t *testing.T) {
	ctx := context.Background()
	conn, mr := newTestConnection(t,
		WithHealthInterval(20*time.Millisecond),
		WithBackoff(func(int) time.Duration { return 10 * time.Millisecond }),
	)
	sessions := NewSessionStore(conn, 0)
	require.NoError(t, sessions.Set(ctx, sampleSession("s-reconnect")))

	mr.Close()

	// the first command after the loss surfaces it as unavailable
	_, _, err := sessions.Get(ctx, "s-reconnect")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable), "got %v", err)
	require.Eventually(t, func() bool { return !conn.Connected() }, time.Second, 10*time.Millisecond)

	// while down, commands fail fast instead of hanging
	start := time.Now()
	_, err = NewQueue(conn).Len(ctx)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, mr.Restart())
	require.Eventually(t, conn.Connected, 3*time.Second, 20*time.Millisecond)

	// miniredis keeps its data across Restart
	got, found, err := sessions.Get(ctx, "s-reconnect")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "s-reconnect", got.SessionID)
}

func TestErrClassification(t *testing.T) {
	conn := NewConnection(testOptions("127.0.0.1:0"), quietLogger())

	assert.NoError(t, conn.Err("op", nil))
	assert.True(t, utils.IsCode(conn.Err("op", context.DeadlineExceeded), utils.CodeTimeout))
	assert.True(t, utils.IsCode(conn.Err("op", errors.New("WRONGTYPE")), utils.CodeInternal))
}
