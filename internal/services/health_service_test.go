package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/state"
)

func TestHealthReport(t *testing.T) {
	ctx := context.Background()
	conn, _ := newTestConnection(t)
	queue := state.NewQueue(conn)
	require.NoError(t, queue.Enqueue(ctx, models.QueueItem{SessionID: "s", FrameNumber: 1, Priority: 1}))

	rep := NewHealthService(conn, queue, nil).Check(ctx)
	assert.Equal(t, StatusHealthy, rep.Status)
	assert.EqualValues(t, 1, rep.QueueLength)
	assert.Equal(t, StatusHealthy, rep.Components["redis"].Status)

	rep = NewHealthService(conn, queue, map[string]PingFunc{
		"mongo": func(context.Context) error { return errBoom },
	}).Check(ctx)
	assert.Equal(t, StatusDegraded, rep.Status)
	assert.Equal(t, "boom", rep.Components["mongo"].Error)
}

func TestHealthUnhealthyWithoutRedis(t *testing.T) {
	conn, _ := newTestConnection(t)
	queue := state.NewQueue(conn)
	require.NoError(t, conn.Disconnect())

	rep := NewHealthService(conn, queue, map[string]PingFunc{
		"mongo": func(context.Context) error { return nil },
	}).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, rep.Status)
	assert.NotEmpty(t, rep.Components["redis"].Error)
}
