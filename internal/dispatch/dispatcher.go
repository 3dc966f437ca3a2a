// Package dispatch implements the network sync dispatcher: it drains the
// durable offline queue against the transport, one ordered lane per
// entity, with a bounded worker pool across lanes. Retries use
// exponential backoff with jitter; a version mismatch is routed to the
// conflict resolver instead of the generic retry path.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iudanet/casesync/internal/bus"
	"github.com/iudanet/casesync/internal/cache"
	"github.com/iudanet/casesync/internal/conflict"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/queue"
	"github.com/iudanet/casesync/internal/storage"
	"github.com/iudanet/casesync/internal/transport"
	"github.com/iudanet/casesync/pkg/api"
)

// Config configures the dispatcher
type Config struct {
	// Workers bounds how many entity lanes drain concurrently
	Workers int

	// MaxAttempts caps deliveries of one action before it is marked failed
	MaxAttempts int

	// InitialBackoff is the first retry delay; jitter is applied on top
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay
	MaxBackoff time.Duration

	// AttemptTimeout bounds each individual network attempt
	AttemptTimeout time.Duration

	// FlushInterval is the periodic drain trigger; 0 disables the timer
	FlushInterval time.Duration
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 15 * time.Second,
		FlushInterval:  30 * time.Second,
	}
}

// Dispatcher replays the offline queue against the transport
type Dispatcher struct {
	cfg       Config
	transport transport.Transport
	queue     *queue.Queue
	updates   storage.UpdateStorage
	cache     *cache.Store
	resolver  *conflict.Resolver
	bus       *bus.Bus
	logger    *slog.Logger

	online  atomic.Bool
	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	// busy guards lanes currently being drained so one lane never runs
	// in two workers at once
	busyMu sync.Mutex
	busy   map[models.EntityKey]bool
}

// New creates a dispatcher
func New(
	cfg Config,
	tr transport.Transport,
	q *queue.Queue,
	updates storage.UpdateStorage,
	cacheStore *cache.Store,
	resolver *conflict.Resolver,
	eventBus *bus.Bus,
	logger *slog.Logger,
) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}

	return &Dispatcher{
		cfg:       cfg,
		transport: tr,
		queue:     q,
		updates:   updates,
		cache:     cacheStore,
		resolver:  resolver,
		bus:       eventBus,
		logger:    logger,
		flushCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the drain loop. It runs until ctx is cancelled or Close
// is called; in-flight attempts are aborted through ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var tick <-chan time.Time
		if d.cfg.FlushInterval > 0 {
			ticker := time.NewTicker(d.cfg.FlushInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.done:
				return
			case <-d.flushCh:
				d.drain(ctx)
			case <-tick:
				d.drain(ctx)
			}
		}
	}()
}

// Close stops the drain loop and waits for workers to settle.
func (d *Dispatcher) Close() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	d.wg.Wait()
}

// SetOnline records the connectivity state. Regaining connectivity
// triggers an immediate drain.
func (d *Dispatcher) SetOnline(online bool) {
	was := d.online.Swap(online)
	if online && !was {
		d.Flush()
	}
}

// Online reports the last known connectivity state.
func (d *Dispatcher) Online() bool {
	return d.online.Load()
}

// Flush requests an immediate drain. Non-blocking; a drain already
// scheduled absorbs the request.
func (d *Dispatcher) Flush() {
	select {
	case d.flushCh <- struct{}{}:
	default:
	}
}

// drain groups queued actions into per-entity lanes and hands each lane
// to the worker pool. A lane sends its actions strictly in enqueue
// order; different lanes proceed in parallel.
func (d *Dispatcher) drain(ctx context.Context) {
	if !d.online.Load() {
		return
	}

	actions, err := d.queue.Actions(ctx)
	if err != nil {
		d.logger.Error("failed to read queue", "error", err)
		return
	}
	if len(actions) == 0 {
		return
	}

	lanes := make(map[models.EntityKey][]*models.QueuedAction)
	order := make([]models.EntityKey, 0)
	for _, action := range actions {
		key := action.Key()
		if _, ok := lanes[key]; !ok {
			order = append(order, key)
		}
		lanes[key] = append(lanes[key], action)
	}

	sem := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup

	for _, key := range order {
		if !d.claimLane(key) {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			d.releaseLane(key)
			return
		}

		wg.Add(1)
		go func(key models.EntityKey, lane []*models.QueuedAction) {
			defer wg.Done()
			defer func() { <-sem }()
			defer d.releaseLane(key)
			d.drainLane(ctx, key, lane)
		}(key, lanes[key])
	}

	wg.Wait()
}

func (d *Dispatcher) claimLane(key models.EntityKey) bool {
	d.busyMu.Lock()
	defer d.busyMu.Unlock()
	if d.busy == nil {
		d.busy = make(map[models.EntityKey]bool)
	}
	if d.busy[key] {
		return false
	}
	d.busy[key] = true
	return true
}

func (d *Dispatcher) releaseLane(key models.EntityKey) {
	d.busyMu.Lock()
	delete(d.busy, key)
	d.busyMu.Unlock()
}

// drainLane advances one entity's lane. The lane only moves to the next
// action after the current one reaches a terminal state; a conflict or a
// failed action halts the lane until the caller intervenes.
func (d *Dispatcher) drainLane(ctx context.Context, key models.EntityKey, lane []*models.QueuedAction) {
	for _, queued := range lane {
		if ctx.Err() != nil || !d.online.Load() {
			return
		}

		// Неразрешенный конфликт останавливает lane
		blocked, err := d.resolver.Blocked(ctx, key)
		if err != nil {
			d.logger.Error("failed to check lane conflicts", "entity", key.String(), "error", err)
			return
		}
		if blocked {
			return
		}

		// Перечитываем действие: подтвержденный create мог переписать
		// id и базовую версию более поздних действий
		action, err := d.queue.Get(ctx, queued.ActionID)
		if err != nil {
			if errors.Is(err, storage.ErrActionNotFound) {
				continue
			}
			d.logger.Error("failed to reload queued action", "action_id", queued.ActionID, "error", err)
			return
		}

		// Проваленное действие ждет явного retry/discard от вызывающего
		if action.Status == models.StatusFailed {
			return
		}

		if !d.sendAction(ctx, action) {
			return
		}
	}
}

// sendAction delivers one action with retry/backoff. Returns true when
// the lane may advance to its next action.
func (d *Dispatcher) sendAction(ctx context.Context, action *models.QueuedAction) bool {
	remaining := d.cfg.MaxAttempts - action.Attempts
	if remaining <= 0 {
		d.markFailed(ctx, action, fmt.Errorf("attempt cap %d reached", d.cfg.MaxAttempts))
		return false
	}

	req := &api.PushRequest{
		ActionID:       action.ActionID,
		IdempotencyKey: action.IdempotencyKey,
		EntityType:     action.EntityType,
		EntityID:       action.EntityID,
		Operation:      string(action.Operation),
		Payload:        action.Payload,
		BaseVersion:    action.BaseVersion,
	}

	var resp *api.PushResponse

	operation := func() error {
		action.Attempts++
		if err := d.queue.Update(ctx, action); err != nil {
			d.logger.Warn("failed to persist attempt count", "action_id", action.ActionID, "error", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		r, err := d.transport.Send(attemptCtx, req)
		if err != nil {
			if !transport.IsTransient(err) {
				return backoff.Permanent(err)
			}
			d.logger.Debug("send attempt failed",
				"action_id", action.ActionID, "attempt", action.Attempts, "error", err)
			if action.Attempts >= d.cfg.MaxAttempts {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return d.handleFailure(ctx, action, err)
	}

	return d.handleSuccess(ctx, action, resp)
}

// handleFailure routes a terminal send error: conflicts go to the
// resolver, validation and exhausted retries mark the action failed.
// Always halts the lane.
func (d *Dispatcher) handleFailure(ctx context.Context, action *models.QueuedAction, err error) bool {
	if ctx.Err() != nil && transport.IsTransient(err) {
		// Остановка процесса, не сбой действия - попробуем в следующий раз
		return false
	}

	if ce, ok := transport.AsConflict(err); ok {
		update, uerr := d.updates.GetUpdate(ctx, action.UpdateID)
		if uerr != nil {
			d.logger.Error("conflicting action has no update record",
				"action_id", action.ActionID, "error", uerr)
			return false
		}
		if _, derr := d.resolver.Detect(ctx, update, ce.Remote); derr != nil {
			d.logger.Error("failed to record conflict", "action_id", action.ActionID, "error", derr)
		}
		return false
	}

	d.markFailed(ctx, action, err)
	return false
}

// markFailed flags the action and its update as failed and surfaces the
// failure. The action stays in the queue for explicit retry or discard.
func (d *Dispatcher) markFailed(ctx context.Context, action *models.QueuedAction, cause error) {
	action.Status = models.StatusFailed
	if err := d.queue.Update(ctx, action); err != nil {
		d.logger.Error("failed to mark action failed", "action_id", action.ActionID, "error", err)
	}

	if update, err := d.updates.GetUpdate(ctx, action.UpdateID); err == nil {
		update.Status = models.StatusFailed
		update.RetryCount = action.Attempts
		if err := d.updates.SaveUpdate(ctx, update); err != nil {
			d.logger.Error("failed to mark update failed", "update_id", update.UpdateID, "error", err)
		}
	}

	d.logger.Warn("action failed permanently",
		"action_id", action.ActionID,
		"entity", action.Key().String(),
		"attempts", action.Attempts,
		"error", cause)

	d.bus.Publish(ctx, models.Event{
		Type: models.EventSyncFailed,
		Payload: map[string]any{
			"action_id": action.ActionID,
			"update_id": action.UpdateID,
			"entity":    action.Key().String(),
			"attempts":  action.Attempts,
			"error":     cause.Error(),
		},
	})
}

// handleSuccess reconciles a confirmed action: the server snapshot
// replaces the provisional one (unless newer local updates still cover
// the entity), the action leaves the queue and the update is destroyed.
func (d *Dispatcher) handleSuccess(ctx context.Context, action *models.QueuedAction, resp *api.PushResponse) bool {
	snap := transport.SnapshotFromAPI(&resp.Snapshot)
	oldKey := action.Key()
	newKey := snap.Key()

	if err := d.queue.Remove(ctx, action.ActionID); err != nil {
		d.logger.Error("failed to dequeue confirmed action", "action_id", action.ActionID, "error", err)
		return false
	}
	if err := d.updates.DeleteUpdate(ctx, action.UpdateID); err != nil && !errors.Is(err, storage.ErrUpdateNotFound) {
		d.logger.Warn("failed to destroy synced update", "update_id", action.UpdateID, "error", err)
	}

	// Сервер присвоил настоящий id созданной сущности
	if newKey != oldKey {
		if err := d.retargetEntity(ctx, oldKey, snap); err != nil {
			d.logger.Error("failed to adopt server id", "entity", oldKey.String(), "error", err)
			return false
		}
	}

	laneKey := newKey
	remaining, err := d.updates.ListUpdatesByEntity(ctx, laneKey)
	if err != nil {
		d.logger.Error("failed to inspect pending updates", "entity", laneKey.String(), "error", err)
		return false
	}

	if len(remaining) == 0 {
		// Никто больше не держит провизорное состояние - кэш берет
		// авторитетный ответ сервера
		if err := d.cache.Put(ctx, snap); err != nil {
			d.logger.Error("failed to install server snapshot", "entity", newKey.String(), "error", err)
			return false
		}
	}

	d.logger.Info("action confirmed",
		"action_id", action.ActionID,
		"entity", newKey.String(),
		"version", snap.Version)

	d.bus.Publish(ctx, models.Event{
		Type: models.EventSynced,
		Payload: map[string]any{
			"action_id": action.ActionID,
			"update_id": action.UpdateID,
			"entity":    newKey.String(),
			"version":   snap.Version,
		},
	})

	return true
}

// retargetEntity moves cache state, queued actions and pending updates
// from the provisional create id to the server-assigned one. Later
// actions were based on the unconfirmed create, so their base version
// becomes the confirmed one.
func (d *Dispatcher) retargetEntity(ctx context.Context, oldKey models.EntityKey, snap *models.Snapshot) error {
	provisional, err := d.cache.Get(oldKey)
	if err != nil && !errors.Is(err, storage.ErrSnapshotNotFound) {
		return fmt.Errorf("failed to read provisional snapshot: %w", err)
	}

	moved := snap
	if provisional != nil {
		// Локальный провизорный payload переезжает под новый id, но
		// базируется на подтвержденной версии
		moved = provisional.Clone()
		moved.EntityID = snap.EntityID
		moved.Version = snap.Version
	}
	if err := d.cache.Rename(ctx, oldKey, moved); err != nil {
		return fmt.Errorf("failed to rename cache entry: %w", err)
	}

	if err := d.queue.RetargetEntity(ctx, oldKey, snap.EntityID, snap.Version); err != nil {
		return fmt.Errorf("failed to retarget queued actions: %w", err)
	}

	pending, err := d.updates.ListUpdatesByEntity(ctx, oldKey)
	if err != nil {
		return fmt.Errorf("failed to list updates for retarget: %w", err)
	}
	for _, update := range pending {
		update.EntityID = snap.EntityID
		update.BaseVersion = snap.Version
		if err := d.updates.SaveUpdate(ctx, update); err != nil {
			return fmt.Errorf("failed to retarget update %s: %w", update.UpdateID, err)
		}
	}

	return nil
}

// RetryAction resets a failed action so the next drain picks it up again.
func (d *Dispatcher) RetryAction(ctx context.Context, actionID string) error {
	action, err := d.queue.Get(ctx, actionID)
	if err != nil {
		return err
	}
	action.Status = models.StatusPending
	action.Attempts = 0
	if err := d.queue.Update(ctx, action); err != nil {
		return err
	}

	if update, err := d.updates.GetUpdate(ctx, action.UpdateID); err == nil {
		update.Status = models.StatusPending
		update.RetryCount = 0
		if err := d.updates.SaveUpdate(ctx, update); err != nil {
			return err
		}
	}

	d.Flush()
	return nil
}

// DiscardAction drops a failed action and rolls its optimistic update
// back, restoring the pre-update snapshot.
func (d *Dispatcher) DiscardAction(ctx context.Context, actionID string, rollback func(ctx context.Context, updateID string) error) error {
	action, err := d.queue.Get(ctx, actionID)
	if err != nil {
		return err
	}
	if err := rollback(ctx, action.UpdateID); err != nil {
		return err
	}
	// Rollback удаляет действие из очереди, если оно еще там
	return nil
}
