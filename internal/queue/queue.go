// Package queue implements the durable offline queue: the persisted,
// ordered list of not-yet-confirmed network actions. Order is FIFO per
// entity; the dispatcher may interleave different entities. Every
// enqueue/dequeue is a transactional write through the durable store
// adapter before it is considered committed.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage"
)

// DefaultCapacity bounds the queue when the config does not say otherwise.
const DefaultCapacity = 1000

// QueueFullError is returned synchronously to the caller when the queue
// is at capacity and no failed entry can be evicted to make room.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("offline queue full (capacity %d)", e.Capacity)
}

// Queue is the bounded durable action queue
type Queue struct {
	store    storage.QueueStorage
	logger   *slog.Logger
	capacity int
	mu       sync.Mutex
}

// New creates a queue over the given durable storage
func New(store storage.QueueStorage, capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		store:    store,
		logger:   logger,
		capacity: capacity,
	}
}

// Enqueue persists a new action. The idempotency key is derived from the
// originating update id, so a retried delivery is rejected as a duplicate
// by the transport instead of being double-applied. On overflow the
// oldest failed entry is evicted first; if none exists, a *QueueFullError
// is returned and nothing is persisted. Evicted actions are returned so
// the caller can surface them.
func (q *Queue) Enqueue(ctx context.Context, action *models.QueuedAction) ([]*models.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count, err := q.store.CountActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}

	var evicted []*models.QueuedAction
	if count >= q.capacity {
		victim, err := q.oldestFailed(ctx)
		if err != nil {
			return nil, err
		}
		if victim == nil {
			return nil, &QueueFullError{Capacity: q.capacity}
		}
		if err := q.store.DeleteAction(ctx, victim.ActionID); err != nil {
			return nil, fmt.Errorf("failed to evict action: %w", err)
		}
		q.logger.Warn("evicted failed action from full queue",
			"action_id", victim.ActionID, "entity", victim.Key().String())
		evicted = append(evicted, victim)
	}

	if action.IdempotencyKey == "" {
		action.IdempotencyKey = IdempotencyKey(action.UpdateID)
	}
	if action.Status == "" {
		action.Status = models.StatusPending
	}
	if action.EnqueuedAt.IsZero() {
		action.EnqueuedAt = time.Now().UTC()
	}

	if err := q.store.SaveAction(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to enqueue action: %w", err)
	}

	return evicted, nil
}

// oldestFailed returns the failed action with the lowest seq, or nil.
func (q *Queue) oldestFailed(ctx context.Context) (*models.QueuedAction, error) {
	actions, err := q.store.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	for _, action := range actions {
		if action.Status == models.StatusFailed {
			return action, nil
		}
	}
	return nil, nil
}

// Remove deletes an action once the dispatcher confirms it, or when its
// optimistic update is rolled back while still pending.
func (q *Queue) Remove(ctx context.Context, actionID string) error {
	if err := q.store.DeleteAction(ctx, actionID); err != nil {
		return fmt.Errorf("failed to remove action: %w", err)
	}
	return nil
}

// RemoveByUpdate deletes the action belonging to an optimistic update,
// if one is still queued. Returns the removed action, or nil.
func (q *Queue) RemoveByUpdate(ctx context.Context, updateID string) (*models.QueuedAction, error) {
	actions, err := q.store.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	for _, action := range actions {
		if action.UpdateID == updateID {
			if err := q.store.DeleteAction(ctx, action.ActionID); err != nil {
				return nil, fmt.Errorf("failed to remove action: %w", err)
			}
			return action, nil
		}
	}

	return nil, nil
}

// Actions returns all queued actions in enqueue order
func (q *Queue) Actions(ctx context.Context) ([]*models.QueuedAction, error) {
	return q.store.ListActions(ctx)
}

// Get returns one action by id
func (q *Queue) Get(ctx context.Context, actionID string) (*models.QueuedAction, error) {
	return q.store.GetAction(ctx, actionID)
}

// Len returns the number of queued actions
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.CountActions(ctx)
}

// Update persists dispatcher-side changes to an action (attempts, status).
func (q *Queue) Update(ctx context.Context, action *models.QueuedAction) error {
	if err := q.store.SaveAction(ctx, action); err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	return nil
}

// RetargetEntity rewrites queued actions after the server assigns the
// real id to a created entity. Later actions enqueued against the
// provisional id must follow the entity to its new identity, and their
// base becomes the confirmed version: they were built on an unconfirmed
// create that had no server version at all.
func (q *Queue) RetargetEntity(ctx context.Context, key models.EntityKey, newID string, baseVersion int64) error {
	actions, err := q.store.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}

	for _, action := range actions {
		if action.Key() != key {
			continue
		}
		action.EntityID = newID
		action.BaseVersion = baseVersion
		if err := q.store.SaveAction(ctx, action); err != nil {
			return fmt.Errorf("failed to retarget action %s: %w", action.ActionID, err)
		}
	}

	return nil
}

// Clear drops the whole queue. Used for full resync after corruption.
func (q *Queue) Clear(ctx context.Context) error {
	return q.store.ClearActions(ctx)
}

// IdempotencyKey derives the stable transport-level duplicate-rejection
// key for an update id.
func IdempotencyKey(updateID string) string {
	return "idem-" + updateID
}

// IsQueueFull reports whether err is a *QueueFullError.
func IsQueueFull(err error) bool {
	var qf *QueueFullError
	return errors.As(err, &qf)
}
