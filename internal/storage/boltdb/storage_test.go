package boltdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/casesync/internal/models"
)

// createTestStorage создает временное BoltDB хранилище
func createTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "casesync_test.db")

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, dbPath
}

func testSnapshot(entityType, entityID string, version int64) *models.Snapshot {
	return &models.Snapshot{
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    json.RawMessage(`{"name":"test"}`),
		Version:    version,
		UpdatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store, _ := createTestStorage(t)

	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot(models.EntityTypeContact, "c-1", 1)))
	require.NoError(t, store.SaveAction(ctx, &models.QueuedAction{ActionID: "a-1", UpdateID: "u-1"}))
	require.NoError(t, store.SaveNodeID(ctx, "node-1"))

	require.NoError(t, store.Reset(ctx))

	// Данные синхронизации очищены
	snaps, err := store.ListSnapshots(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, snaps)

	count, err := store.CountActions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Метаданные переживают reset
	nodeID, err := store.GetNodeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-1", nodeID)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "durability_test.db")

	store, err := New(ctx, dbPath)
	require.NoError(t, err)

	snap := testSnapshot(models.EntityTypeCase, "p-7", 3)
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	update := &models.OptimisticUpdate{
		UpdateID:        "u-1",
		EntityType:      models.EntityTypeCase,
		EntityID:        "p-7",
		Operation:       models.OpUpdate,
		Status:          models.StatusPending,
		Payload:         json.RawMessage(`{"name":"changed"}`),
		InverseSnapshot: snap,
		BaseVersion:     3,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.SaveUpdate(ctx, update))

	action := &models.QueuedAction{
		ActionID:    "a-1",
		UpdateID:    "u-1",
		EntityType:  models.EntityTypeCase,
		EntityID:    "p-7",
		Operation:   models.OpUpdate,
		Payload:     update.Payload,
		BaseVersion: 3,
	}
	require.NoError(t, store.SaveAction(ctx, action))
	require.NoError(t, store.Close())

	// Повторное открытие того же файла восстанавливает все состояние
	reopened, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()

	gotSnap, err := reopened.GetSnapshot(ctx, snap.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(3), gotSnap.Version)

	gotUpdate, err := reopened.GetUpdate(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, gotUpdate.InverseSnapshot)
	assert.Equal(t, int64(3), gotUpdate.InverseSnapshot.Version)

	actions, err := reopened.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "a-1", actions[0].ActionID)
	assert.Equal(t, action.Seq, actions[0].Seq)
}
