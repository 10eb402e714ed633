package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/deepfake-detector/internal/models"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

func TestUploadStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, mr := newTestConnection(t)
	store := NewUploadStore(conn, 0)

	require.NoError(t, store.Set(ctx, "s1", &models.UploadState{
		IsUploading:   true,
		Progress:      0.4,
		BytesUploaded: 400,
		TotalBytes:    1000,
		UploadSpeed:   10,
	}))

	got, found, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.IsUploading)
	assert.Equal(t, 0.4, got.Progress)
	assert.EqualValues(t, 400, got.BytesUploaded)
	assert.EqualValues(t, 1000, got.TotalBytes)
	assert.Equal(t, 10.0, got.UploadSpeed)
	assert.Empty(t, got.Error)
	assert.Equal(t, UploadTTL, mr.TTL(UploadKey("s1")))
}

func TestUploadStateOverwriteRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	conn, mr := newTestConnection(t)
	store := NewUploadStore(conn, 0)

	require.NoError(t, store.Set(ctx, "s2", &models.UploadState{IsUploading: true, Progress: 0.1}))
	mr.FastForward(30 * time.Minute)
	require.NoError(t, store.Set(ctx, "s2", &models.UploadState{Progress: 1, Error: "client aborted"}))

	got, found, err := store.Get(ctx, "s2")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.IsUploading)
	assert.Equal(t, "client aborted", got.Error)
	assert.Equal(t, UploadTTL, mr.TTL(UploadKey("s2")))

	mr.FastForward(UploadTTL + time.Second)
	_, found, err = store.Get(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUploadStateValidation(t *testing.T) {
	conn, _ := newTestConnection(t)
	store := NewUploadStore(conn, 0)

	err := store.Set(context.Background(), "", &models.UploadState{})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	err = store.Set(context.Background(), "s3", &models.UploadState{BytesUploaded: -1})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}
