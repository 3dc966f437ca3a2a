// Package mutation implements the optimistic mutation log. Apply installs
// a provisional snapshot in the cache, records the inverse snapshot needed
// to undo it, and enqueues the corresponding durable action - all before
// the server has seen anything. The returned handle can roll the whole
// thing back as long as the update has not synced.
package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/casesync/internal/bus"
	"github.com/iudanet/casesync/internal/cache"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/queue"
	"github.com/iudanet/casesync/internal/storage"
	"github.com/iudanet/casesync/internal/validation"
)

// ErrConflictPending is returned by Apply when the target entity already
// has an unresolved conflict. Queuing a second conflicting write would
// only deepen the divergence, so the caller must resolve first.
var ErrConflictPending = errors.New("entity has an unresolved conflict")

// ErrUnknownOperation is returned for an operation outside create/update/delete
var ErrUnknownOperation = errors.New("unknown operation")

// Log is the optimistic mutation log
type Log struct {
	cache     *cache.Store
	updates   storage.UpdateStorage
	conflicts storage.ConflictStorage
	queue     *queue.Queue
	bus       *bus.Bus
	logger    *slog.Logger
	locks     map[models.EntityKey]*sync.Mutex
	mu        sync.Mutex
}

// NewLog creates a mutation log
func NewLog(
	cacheStore *cache.Store,
	updates storage.UpdateStorage,
	conflicts storage.ConflictStorage,
	q *queue.Queue,
	eventBus *bus.Bus,
	logger *slog.Logger,
) *Log {
	return &Log{
		cache:     cacheStore,
		updates:   updates,
		conflicts: conflicts,
		queue:     q,
		bus:       eventBus,
		logger:    logger,
		locks:     make(map[models.EntityKey]*sync.Mutex),
	}
}

// entityLock returns the mutex serializing mutations of one entity.
// No cross-entity lock is ever held.
func (l *Log) entityLock(key models.EntityKey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// Handle references one applied optimistic update and can roll it back.
type Handle struct {
	log      *Log
	UpdateID string
	Key      models.EntityKey
}

// Apply synchronously computes the new snapshot, captures the previous
// one as the inverse, persists the optimistic update and its queued
// action, and installs the provisional snapshot in the cache. It fails
// fast with ErrConflictPending if the entity is blocked by an unresolved
// conflict, and with *queue.QueueFullError if the queue cannot admit the
// action.
func (l *Log) Apply(ctx context.Context, entityType, entityID string, op models.Operation, payload json.RawMessage) (*Handle, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	if err := validation.ValidateEntityType(entityType); err != nil {
		return nil, err
	}
	if err := validation.ValidateEntityID(entityID); err != nil {
		return nil, err
	}
	if err := validation.ValidatePayload(op, payload); err != nil {
		return nil, err
	}

	key := models.EntityKey{Type: entityType, ID: entityID}
	lock := l.entityLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Заблокированная сущность не принимает новые оптимистичные записи
	if _, err := l.conflicts.GetUnresolvedByEntity(ctx, key); err == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrConflictPending)
	} else if !errors.Is(err, storage.ErrConflictNotFound) {
		return nil, fmt.Errorf("failed to check conflicts: %w", err)
	}

	prev, err := l.cache.Get(key)
	if err != nil && !errors.Is(err, storage.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var baseVersion int64
	var inverse *models.Snapshot
	if prev != nil {
		baseVersion = prev.Version
		inverse = prev // уже клон из кэша
	}

	now := time.Now().UTC()
	next, err := nextSnapshot(key, op, payload, prev, now)
	if err != nil {
		return nil, err
	}

	update := &models.OptimisticUpdate{
		UpdateID:        uuid.New().String(),
		EntityType:      entityType,
		EntityID:        entityID,
		Operation:       op,
		Payload:         payload,
		InverseSnapshot: inverse,
		Status:          models.StatusPending,
		BaseVersion:     baseVersion,
		CreatedAt:       now,
	}

	if err := l.updates.SaveUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to persist update: %w", err)
	}

	action := &models.QueuedAction{
		ActionID:    uuid.New().String(),
		UpdateID:    update.UpdateID,
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		Payload:     payload,
		BaseVersion: baseVersion,
		EnqueuedAt:  now,
	}

	evicted, err := l.queue.Enqueue(ctx, action)
	if err != nil {
		// Ничего не записано в кэш - откатываем сохраненное обновление
		if derr := l.updates.DeleteUpdate(ctx, update.UpdateID); derr != nil {
			l.logger.Warn("failed to remove update after enqueue failure", "update_id", update.UpdateID, "error", derr)
		}
		return nil, err
	}
	for _, victim := range evicted {
		l.dropEvictedUpdate(ctx, victim)
	}

	if err := l.cache.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to write cache: %w", err)
	}

	l.logger.Debug("optimistic update applied",
		"update_id", update.UpdateID, "entity", key.String(), "operation", op)

	l.bus.Publish(ctx, models.Event{
		Type:    models.EventQueued,
		Payload: map[string]any{"update_id": update.UpdateID, "entity": key.String(), "operation": string(op)},
	})

	return &Handle{log: l, UpdateID: update.UpdateID, Key: key}, nil
}

// nextSnapshot computes the provisional snapshot an operation produces.
// The version stays at the base: only the server advances versions.
func nextSnapshot(key models.EntityKey, op models.Operation, payload json.RawMessage, prev *models.Snapshot, now time.Time) (*models.Snapshot, error) {
	switch op {
	case models.OpCreate:
		if prev != nil && !prev.Deleted {
			return nil, fmt.Errorf("entity %s already exists", key)
		}
		return &models.Snapshot{
			EntityType: key.Type,
			EntityID:   key.ID,
			Payload:    payload,
			Version:    0,
			UpdatedAt:  now,
		}, nil

	case models.OpUpdate:
		if prev == nil {
			return nil, fmt.Errorf("entity %s: %w", key, storage.ErrSnapshotNotFound)
		}
		next := prev.Clone()
		next.Payload = payload
		next.UpdatedAt = now
		return next, nil

	case models.OpDelete:
		if prev == nil {
			return nil, fmt.Errorf("entity %s: %w", key, storage.ErrSnapshotNotFound)
		}
		next := prev.Clone()
		next.Deleted = true
		next.UpdatedAt = now
		return next, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
}

// dropEvictedUpdate removes the optimistic update whose action was
// evicted from a full queue and tells subscribers about it.
func (l *Log) dropEvictedUpdate(ctx context.Context, victim *models.QueuedAction) {
	if err := l.updates.DeleteUpdate(ctx, victim.UpdateID); err != nil && !errors.Is(err, storage.ErrUpdateNotFound) {
		l.logger.Warn("failed to drop evicted update", "update_id", victim.UpdateID, "error", err)
	}
	l.bus.Publish(ctx, models.Event{
		Type:    models.EventSyncFailed,
		Payload: map[string]any{"update_id": victim.UpdateID, "entity": victim.Key().String(), "evicted": true},
	})
}

// Rollback restores the inverse snapshot and removes the queued action if
// it is still pending. It is idempotent and a no-op once the update has
// synced (or was rolled back before).
func (h *Handle) Rollback(ctx context.Context) error {
	return h.log.Rollback(ctx, h.UpdateID)
}

// Rollback reverts an optimistic update by id. See Handle.Rollback.
func (l *Log) Rollback(ctx context.Context, updateID string) error {
	update, err := l.updates.GetUpdate(ctx, updateID)
	if err != nil {
		if errors.Is(err, storage.ErrUpdateNotFound) {
			// Уже синхронизировано или откачено
			return nil
		}
		return fmt.Errorf("failed to load update: %w", err)
	}

	key := update.Key()
	lock := l.entityLock(key)
	lock.Lock()
	defer lock.Unlock()

	if update.Status == models.StatusSynced {
		return nil
	}

	if _, err := l.queue.RemoveByUpdate(ctx, updateID); err != nil {
		return fmt.Errorf("failed to remove queued action: %w", err)
	}

	if update.InverseSnapshot != nil {
		if err := l.cache.Put(ctx, update.InverseSnapshot); err != nil {
			return fmt.Errorf("failed to restore inverse snapshot: %w", err)
		}
	} else {
		// Откат create: записи до обновления не существовало
		if err := l.cache.Invalidate(ctx, key); err != nil {
			return fmt.Errorf("failed to invalidate created entity: %w", err)
		}
	}

	if err := l.updates.DeleteUpdate(ctx, updateID); err != nil && !errors.Is(err, storage.ErrUpdateNotFound) {
		return fmt.Errorf("failed to delete update: %w", err)
	}

	l.logger.Debug("optimistic update rolled back", "update_id", updateID, "entity", key.String())

	l.bus.Publish(ctx, models.Event{
		Type:    models.EventRollback,
		Payload: map[string]any{"update_id": updateID, "entity": key.String()},
	})

	return nil
}

// PendingUpdates returns all not-yet-confirmed optimistic updates,
// oldest first.
func (l *Log) PendingUpdates(ctx context.Context) ([]*models.OptimisticUpdate, error) {
	return l.updates.ListUpdates(ctx)
}
