// Package conflict implements the conflict resolver: detection of version
// mismatches between a pending local update and the server's current
// state, and the three resolution policies (server, local, merge).
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/casesync/internal/bus"
	"github.com/iudanet/casesync/internal/cache"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/queue"
	"github.com/iudanet/casesync/internal/storage"
)

// Resolver errors
var (
	// ErrUnsupportedPolicy indicates a resolution policy outside local/server/merged
	ErrUnsupportedPolicy = errors.New("unsupported resolution policy")

	// ErrAlreadyResolved indicates the conflict record no longer exists
	ErrAlreadyResolved = errors.New("conflict already resolved")
)

// Resolver arbitrates between local and server versions
type Resolver struct {
	cache     *cache.Store
	conflicts storage.ConflictStorage
	updates   storage.UpdateStorage
	queue     *queue.Queue
	bus       *bus.Bus
	logger    *slog.Logger
}

// NewResolver creates a conflict resolver
func NewResolver(
	cacheStore *cache.Store,
	conflicts storage.ConflictStorage,
	updates storage.UpdateStorage,
	q *queue.Queue,
	eventBus *bus.Bus,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		cache:     cacheStore,
		conflicts: conflicts,
		updates:   updates,
		queue:     q,
		bus:       eventBus,
		logger:    logger,
	}
}

// Detect checks a server-reported snapshot against the base version a
// pending update assumed. A mismatch creates (and persists) a conflict
// record, marks the update as conflicted, and emits conflict_detected.
// Returns nil when the versions agree. At most one unresolved record
// exists per entity: a repeated detection returns the existing record.
func (r *Resolver) Detect(ctx context.Context, update *models.OptimisticUpdate, remote *models.Snapshot) (*models.ConflictRecord, error) {
	if remote.Version == update.BaseVersion {
		return nil, nil
	}

	key := update.Key()

	if existing, err := r.conflicts.GetUnresolvedByEntity(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrConflictNotFound) {
		return nil, fmt.Errorf("failed to check existing conflict: %w", err)
	}

	record := &models.ConflictRecord{
		ConflictID:     uuid.New().String(),
		UpdateID:       update.UpdateID,
		EntityType:     update.EntityType,
		EntityID:       update.EntityID,
		LocalVersion:   update.BaseVersion,
		RemoteSnapshot: remote.Clone(),
		Resolution:     models.ResolutionUnresolved,
		DetectedAt:     time.Now().UTC(),
	}

	if err := r.conflicts.SaveConflict(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist conflict: %w", err)
	}

	update.Status = models.StatusConflict
	if err := r.updates.SaveUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to mark update conflicted: %w", err)
	}

	r.logger.Info("conflict detected",
		"conflict_id", record.ConflictID,
		"entity", key.String(),
		"local_version", record.LocalVersion,
		"remote_version", remote.Version)

	r.bus.Publish(ctx, models.Event{
		Type: models.EventConflictDetected,
		Payload: map[string]any{
			"conflict_id":    record.ConflictID,
			"entity":         key.String(),
			"local_version":  record.LocalVersion,
			"remote_version": remote.Version,
		},
	})

	return record, nil
}

// Resolve applies a resolution policy to a conflict:
//   - server: discard the local update, the cache takes the remote snapshot
//   - local: re-base the pending update onto the remote version and re-enqueue
//   - merged: apply mergedPayload as the new base and re-enqueue; when the
//     caller supplies none, a shallow field-level merge is used
//
// Resolution removes the record and unblocks the entity's lane.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, policy models.Resolution, mergedPayload json.RawMessage) error {
	record, err := r.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		if errors.Is(err, storage.ErrConflictNotFound) {
			return ErrAlreadyResolved
		}
		return fmt.Errorf("failed to load conflict: %w", err)
	}
	if !record.Unresolved() {
		return ErrAlreadyResolved
	}

	remote := record.RemoteSnapshot

	switch policy {
	case models.ResolutionServer:
		if err := r.discardLocal(ctx, record); err != nil {
			return err
		}
		if err := r.cache.Put(ctx, remote.Clone()); err != nil {
			return fmt.Errorf("failed to install remote snapshot: %w", err)
		}

	case models.ResolutionLocal:
		if err := r.rebase(ctx, record, nil); err != nil {
			return err
		}

	case models.ResolutionMerged:
		if mergedPayload == nil {
			local, err := r.cache.Get(record.Key())
			if err != nil {
				return fmt.Errorf("failed to read local snapshot for merge: %w", err)
			}
			merged, err := cache.MergeFields(local, remote)
			if err != nil {
				return fmt.Errorf("field-level merge failed: %w", err)
			}
			mergedPayload = merged.Payload
		}
		if err := r.rebase(ctx, record, mergedPayload); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPolicy, policy)
	}

	if err := r.conflicts.DeleteConflict(ctx, conflictID); err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}

	r.logger.Info("conflict resolved",
		"conflict_id", conflictID, "entity", record.Key().String(), "policy", policy)

	r.bus.Publish(ctx, models.Event{
		Type: models.EventConflictResolved,
		Payload: map[string]any{
			"conflict_id": conflictID,
			"entity":      record.Key().String(),
			"policy":      string(policy),
		},
	})

	return nil
}

// discardLocal drops the conflicted update and its queued action.
func (r *Resolver) discardLocal(ctx context.Context, record *models.ConflictRecord) error {
	if _, err := r.queue.RemoveByUpdate(ctx, record.UpdateID); err != nil {
		return fmt.Errorf("failed to remove queued action: %w", err)
	}
	if err := r.updates.DeleteUpdate(ctx, record.UpdateID); err != nil && !errors.Is(err, storage.ErrUpdateNotFound) {
		return fmt.Errorf("failed to delete update: %w", err)
	}
	return nil
}

// rebase re-targets the conflicted update at the remote version and
// re-enqueues its action. With a payload the update carries the merged
// document; without one it keeps the local payload (policy=local).
func (r *Resolver) rebase(ctx context.Context, record *models.ConflictRecord, payload json.RawMessage) error {
	update, err := r.updates.GetUpdate(ctx, record.UpdateID)
	if err != nil {
		return fmt.Errorf("failed to load conflicted update: %w", err)
	}

	remote := record.RemoteSnapshot

	if payload != nil {
		update.Payload = payload
	}
	update.BaseVersion = remote.Version
	update.Status = models.StatusPending
	update.RetryCount = 0

	// Создание поверх существующей серверной версии становится обновлением
	if update.Operation == models.OpCreate {
		update.Operation = models.OpUpdate
	}

	if err := r.updates.SaveUpdate(ctx, update); err != nil {
		return fmt.Errorf("failed to rebase update: %w", err)
	}

	// Старое действие устарело - заменяем его новым с той же идемпотентностью
	if _, err := r.queue.RemoveByUpdate(ctx, update.UpdateID); err != nil {
		return fmt.Errorf("failed to drop stale action: %w", err)
	}

	action := &models.QueuedAction{
		ActionID:    uuid.New().String(),
		UpdateID:    update.UpdateID,
		EntityType:  update.EntityType,
		EntityID:    update.EntityID,
		Operation:   update.Operation,
		Payload:     update.Payload,
		BaseVersion: update.BaseVersion,
	}
	if _, err := r.queue.Enqueue(ctx, action); err != nil {
		return fmt.Errorf("failed to re-enqueue rebased action: %w", err)
	}

	// Кэш показывает локальную версию данных поверх новой базы
	next := remote.Clone()
	next.Payload = update.Payload
	next.Deleted = update.Operation == models.OpDelete
	next.UpdatedAt = time.Now().UTC()
	if err := r.cache.Put(ctx, next); err != nil {
		return fmt.Errorf("failed to update cache after rebase: %w", err)
	}

	return nil
}

// Conflicts returns all conflict records, oldest first.
func (r *Resolver) Conflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	return r.conflicts.ListConflicts(ctx)
}

// Blocked reports whether an entity has an unresolved conflict.
func (r *Resolver) Blocked(ctx context.Context, key models.EntityKey) (bool, error) {
	_, err := r.conflicts.GetUnresolvedByEntity(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrConflictNotFound) {
		return false, nil
	}
	return false, err
}
