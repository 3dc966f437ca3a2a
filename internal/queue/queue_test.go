package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage/boltdb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestQueue(t *testing.T, capacity int) *Queue {
	t.Helper()

	ctx := context.Background()
	store, err := boltdb.New(ctx, filepath.Join(t.TempDir(), "queue_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	return New(store, capacity, testLogger())
}

func testAction(actionID, entityID string) *models.QueuedAction {
	return &models.QueuedAction{
		ActionID:    actionID,
		UpdateID:    "u-" + actionID,
		EntityType:  models.EntityTypeContact,
		EntityID:    entityID,
		Operation:   models.OpUpdate,
		Payload:     json.RawMessage(`{"name":"test"}`),
		BaseVersion: 1,
	}
}

func TestEnqueue_FillsDefaults(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, 10)

	action := testAction("a-1", "c-1")
	evicted, err := q.Enqueue(ctx, action)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	got, err := q.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, IdempotencyKey("u-a-1"), got.IdempotencyKey)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.False(t, got.EnqueuedAt.IsZero())
	assert.NotZero(t, got.Seq)
}

func TestEnqueue_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, 10)

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, testAction(fmt.Sprintf("a-%d", i), "c-1"))
		require.NoError(t, err)
	}

	actions, err := q.Actions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 5)
	for i, action := range actions {
		assert.Equal(t, fmt.Sprintf("a-%d", i), action.ActionID)
	}
}

func TestEnqueue_FullWithoutFailed(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, 2)

	_, err := q.Enqueue(ctx, testAction("a-1", "c-1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testAction("a-2", "c-2"))
	require.NoError(t, err)

	// Очередь полна, ни одного failed - синхронная ошибка вызывающему
	_, err = q.Enqueue(ctx, testAction("a-3", "c-3"))
	require.Error(t, err)
	assert.True(t, IsQueueFull(err))

	var qf *QueueFullError
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, 2, qf.Capacity)

	// Ничего не записано
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEnqueue_EvictsOldestFailed(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, 3)

	failedOld := testAction("a-1", "c-1")
	failedOld.Status = models.StatusFailed
	_, err := q.Enqueue(ctx, failedOld)
	require.NoError(t, err)

	failedNew := testAction("a-2", "c-2")
	failedNew.Status = models.StatusFailed
	_, err = q.Enqueue(ctx, failedNew)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, testAction("a-3", "c-3"))
	require.NoError(t, err)

	// Переполнение вытесняет самый старый failed
	evicted, err := q.Enqueue(ctx, testAction("a-4", "c-4"))
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, "a-1", evicted[0].ActionID)

	_, err = q.Get(ctx, "a-1")
	assert.Error(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRemoveByUpdate(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, 10)

	_, err := q.Enqueue(ctx, testAction("a-1", "c-1"))
	require.NoError(t, err)

	removed, err := q.RemoveByUpdate(ctx, "u-a-1")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "a-1", removed.ActionID)

	// Повторный вызов - nil без ошибки
	removed, err = q.RemoveByUpdate(ctx, "u-a-1")
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestRetargetEntity(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t, 10)

	_, err := q.Enqueue(ctx, testAction("a-1", "temp_1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testAction("a-2", "temp_1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testAction("a-3", "c-other"))
	require.NoError(t, err)

	oldKey := models.EntityKey{Type: models.EntityTypeContact, ID: "temp_1"}
	require.NoError(t, q.RetargetEntity(ctx, oldKey, "real_1", 7))

	actions, err := q.Actions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "real_1", actions[0].EntityID)
	assert.Equal(t, int64(7), actions[0].BaseVersion)
	assert.Equal(t, "real_1", actions[1].EntityID)
	assert.Equal(t, int64(7), actions[1].BaseVersion)
	assert.Equal(t, "c-other", actions[2].EntityID)
}

func TestIdempotencyKey_StablePerUpdate(t *testing.T) {
	assert.Equal(t, IdempotencyKey("u-1"), IdempotencyKey("u-1"))
	assert.NotEqual(t, IdempotencyKey("u-1"), IdempotencyKey("u-2"))
}
