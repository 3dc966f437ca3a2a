package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/casesync/internal/bus"
	"github.com/iudanet/casesync/internal/cache"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/queue"
	"github.com/iudanet/casesync/internal/storage"
	"github.com/iudanet/casesync/internal/storage/boltdb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	log   *Log
	cache *cache.Store
	queue *queue.Queue
	store *boltdb.Storage
	bus   *bus.Bus
}

func newFixture(t *testing.T, queueCapacity int) *fixture {
	t.Helper()

	ctx := context.Background()
	store, err := boltdb.New(ctx, filepath.Join(t.TempDir(), "mutation_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	cacheStore, err := cache.New(ctx, store, testLogger())
	require.NoError(t, err)

	eventBus := bus.New("node-test", 0, testLogger())
	t.Cleanup(eventBus.Close)

	q := queue.New(store, queueCapacity, testLogger())

	return &fixture{
		log:   NewLog(cacheStore, store, store, q, eventBus, testLogger()),
		cache: cacheStore,
		queue: q,
		store: store,
		bus:   eventBus,
	}
}

func payload(name string) json.RawMessage {
	return json.RawMessage(`{"name":"` + name + `"}`)
}

func TestApply_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	var events []models.Event
	f.bus.Subscribe(func(e models.Event) { events = append(events, e) })

	handle, err := f.log.Apply(ctx, models.EntityTypeContact, "temp_1", models.OpCreate, payload("Ana"))
	require.NoError(t, err)
	require.NotNil(t, handle)

	// Кэш сразу отражает провизорное состояние с версией 0
	snap, err := f.cache.Get(handle.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.JSONEq(t, `{"name":"Ana"}`, string(snap.Payload))

	// Обновление записано без inverse (до create ничего не было)
	update, err := f.store.GetUpdate(ctx, handle.UpdateID)
	require.NoError(t, err)
	assert.Nil(t, update.InverseSnapshot)
	assert.Equal(t, models.StatusPending, update.Status)

	// Действие в очереди с идемпотентным ключом
	actions, err := f.queue.Actions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, handle.UpdateID, actions[0].UpdateID)
	assert.Equal(t, queue.IdempotencyKey(handle.UpdateID), actions[0].IdempotencyKey)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventQueued, events[0].Type)
}

func TestApply_CreateOverExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	_, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpCreate, payload("Ana"))
	require.NoError(t, err)

	_, err = f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpCreate, payload("Bia"))
	assert.Error(t, err)
}

func TestApply_UpdateRecordsInverse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	// Синхронизированное состояние с сервера
	existing := &models.Snapshot{
		EntityType: models.EntityTypeContact,
		EntityID:   "c-1",
		Payload:    payload("Ana"),
		Version:    3,
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.cache.Put(ctx, existing))

	handle, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpUpdate, payload("Ana Maria"))
	require.NoError(t, err)

	update, err := f.store.GetUpdate(ctx, handle.UpdateID)
	require.NoError(t, err)
	require.NotNil(t, update.InverseSnapshot)
	assert.JSONEq(t, `{"name":"Ana"}`, string(update.InverseSnapshot.Payload))
	assert.Equal(t, int64(3), update.BaseVersion)

	// Провизорный снимок не трогает версию - ее двигает только сервер
	snap, err := f.cache.Get(handle.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
	assert.JSONEq(t, `{"name":"Ana Maria"}`, string(snap.Payload))
}

func TestApply_UpdateMissingEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	_, err := f.log.Apply(ctx, models.EntityTypeContact, "ghost", models.OpUpdate, payload("x"))
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestApply_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	existing := &models.Snapshot{
		EntityType: models.EntityTypeContact,
		EntityID:   "c-1",
		Payload:    payload("Ana"),
		Version:    2,
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.cache.Put(ctx, existing))

	handle, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpDelete, nil)
	require.NoError(t, err)

	snap, err := f.cache.Get(handle.Key)
	require.NoError(t, err)
	assert.True(t, snap.Deleted)

	// List скрывает soft-deleted записи
	assert.Empty(t, f.cache.List(models.EntityTypeContact))
}

func TestApply_BlockedByConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	require.NoError(t, f.cache.Put(ctx, &models.Snapshot{
		EntityType: models.EntityTypeContact,
		EntityID:   "c-1",
		Payload:    payload("Ana"),
		Version:    1,
	}))

	require.NoError(t, f.store.SaveConflict(ctx, &models.ConflictRecord{
		ConflictID: "cf-1",
		UpdateID:   "u-old",
		EntityType: models.EntityTypeContact,
		EntityID:   "c-1",
		Resolution: models.ResolutionUnresolved,
		DetectedAt: time.Now().UTC(),
	}))

	_, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpUpdate, payload("Bia"))
	assert.ErrorIs(t, err, ErrConflictPending)
}

func TestApply_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	// Неизвестный тип сущности
	_, err := f.log.Apply(ctx, "fatura", "c-1", models.OpCreate, payload("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")

	// Недопустимый идентификатор
	_, err = f.log.Apply(ctx, models.EntityTypeContact, "a/b", models.OpCreate, payload("x"))
	require.Error(t, err)

	// Payload не объект
	_, err = f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpCreate, json.RawMessage(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")

	// Ничего не попало ни в очередь, ни в кэш
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApply_UnknownOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	_, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.Operation("merge"), payload("x"))
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestApply_QueueFullRollsBackUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpCreate, payload("Ana"))
	require.NoError(t, err)

	_, err = f.log.Apply(ctx, models.EntityTypeContact, "c-2", models.OpCreate, payload("Bia"))
	require.Error(t, err)
	assert.True(t, queue.IsQueueFull(err))

	// Ни обновления, ни кэш-записи для отклоненной мутации
	updates, err := f.store.ListUpdates(ctx)
	require.NoError(t, err)
	assert.Len(t, updates, 1)

	_, err = f.cache.Get(models.EntityKey{Type: models.EntityTypeContact, ID: "c-2"})
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestRollback_RestoresInverse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	require.NoError(t, f.cache.Put(ctx, &models.Snapshot{
		EntityType: models.EntityTypeContact,
		EntityID:   "c-1",
		Payload:    payload("Ana"),
		Version:    3,
	}))

	handle, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpUpdate, payload("Bia"))
	require.NoError(t, err)

	require.NoError(t, handle.Rollback(ctx))

	// Кэш вернулся к состоянию до мутации
	snap, err := f.cache.Get(handle.Key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana"}`, string(snap.Payload))
	assert.Equal(t, int64(3), snap.Version)

	// Действие убрано из очереди, обновление уничтожено
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.store.GetUpdate(ctx, handle.UpdateID)
	assert.ErrorIs(t, err, storage.ErrUpdateNotFound)

	// Повторный rollback - no-op
	assert.NoError(t, handle.Rollback(ctx))
}

func TestRollback_CreateInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	handle, err := f.log.Apply(ctx, models.EntityTypeContact, "temp_1", models.OpCreate, payload("Ana"))
	require.NoError(t, err)

	require.NoError(t, handle.Rollback(ctx))

	_, err = f.cache.Get(handle.Key)
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestRollback_LastKInReverseOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20)

	require.NoError(t, f.cache.Put(ctx, &models.Snapshot{
		EntityType: models.EntityTypeContact,
		EntityID:   "c-1",
		Payload:    payload("v0"),
		Version:    1,
	}))

	// Применяем N обновлений подряд
	const n = 5
	handles := make([]*Handle, 0, n)
	for i := 1; i <= n; i++ {
		h, err := f.log.Apply(ctx, models.EntityTypeContact, "c-1", models.OpUpdate, payload(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	// Откатываем последние K в обратном порядке
	const k = 3
	for i := n - 1; i >= n-k; i-- {
		require.NoError(t, handles[i].Rollback(ctx))
	}

	// Состояние точно как после N-K обновлений
	snap, err := f.cache.Get(models.EntityKey{Type: models.EntityTypeContact, ID: "c-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"v2"}`, string(snap.Payload))

	pending, err := f.log.PendingUpdates(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, n-k)

	qlen, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, n-k, qlen)
}

func TestRollback_UnknownUpdateIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	assert.NoError(t, f.log.Rollback(ctx, "missing"))
}
