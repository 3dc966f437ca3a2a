package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastSyncTimestamp(t *testing.T) {
	ctx := context.Background()
	store, _ := createTestStorage(t)

	// До первой синхронизации - 0
	ts, err := store.GetLastSyncTimestamp(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts)

	now := time.Now().Unix()
	require.NoError(t, store.SaveLastSyncTimestamp(ctx, now))

	ts, err = store.GetLastSyncTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, ts)
}

func TestNodeID(t *testing.T) {
	ctx := context.Background()
	store, _ := createTestStorage(t)

	nodeID, err := store.GetNodeID(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodeID)

	require.NoError(t, store.SaveNodeID(ctx, "node-abc"))

	nodeID, err = store.GetNodeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-abc", nodeID)
}
