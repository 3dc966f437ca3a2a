// Package engine wires the sync components into one facade: optimistic
// writes, routed reads, conflict resolution, and the background sync
// machinery behind a single lifecycle.
package engine

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
	"github.com/iudanet/casesync/internal/config"
	"github.com/iudanet/casesync/internal/conflict"
	"github.com/iudanet/casesync/internal/connectivity"
	"github.com/iudanet/casesync/internal/dispatch"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/mutation"
	"github.com/iudanet/casesync/internal/queue"
	"github.com/iudanet/casesync/internal/router"
	"github.com/iudanet/casesync/internal/storage"
	"github.com/iudanet/casesync/internal/storage/boltdb"
	"github.com/iudanet/casesync/internal/storage/sqlite"
	"github.com/iudanet/casesync/internal/transport"
	"github.com/iudanet/casesync/pkg/api"
)

// Store is the durable adapter the engine runs on. Reset wipes the sync
// tables after corruption so a full resync can rebuild them.
type Store interface {
	storage.Store
	Reset(ctx context.Context) error
}

// OpenStore opens the durable adapter named by the configuration.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return sqlite.New(ctx, cfg.Storage.Path)
	default:
		return boltdb.New(ctx, cfg.Storage.Path)
	}
}

// Options carries the injectable collaborators. Zero values get sensible
// defaults: an HTTP transport from the config, no push channel, and a
// Redis broadcaster only when the config names an address.
type Options struct {
	Transport   transport.Transport
	Push        transport.PushChannel
	Broadcaster bus.Broadcaster
	Logger      *slog.Logger
}

// Engine is the offline-first sync engine facade
type Engine struct {
	cfg    *config.Config
	store  Store
	logger *slog.Logger

	transport transport.Transport
	push      transport.PushChannel
	bus       *bus.Bus
	cache     *cache.Store
	queue     *queue.Queue
	log       *mutation.Log
	resolver  *conflict.Resolver
	dispatch  *dispatch.Dispatcher
	router    *router.Router
	monitor   *connectivity.Monitor

	nodeID string

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsub   func()
	started bool
	mu      sync.Mutex
}

// New assembles an engine over an already opened store. A corrupted
// store is reset and flagged for full resync instead of failing startup.
func New(ctx context.Context, cfg *config.Config, store Store, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nodeID, err := store.GetNodeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read node id: %w", err)
	}
	if nodeID == "" {
		nodeID = uuid.New().String()
		if err := store.SaveNodeID(ctx, nodeID); err != nil {
			return nil, fmt.Errorf("failed to persist node id: %w", err)
		}
	}

	eventBus := bus.New(nodeID, cfg.Bus.Staleness, logger)

	resyncRequired := false
	cacheStore, err := cache.New(ctx, store, logger)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupted) {
			return nil, err
		}
		// Поврежденное хранилище: сбрасываем и помечаем на полный resync
		logger.Warn("durable store corrupted, resetting", "error", err)
		if rerr := store.Reset(ctx); rerr != nil {
			return nil, fmt.Errorf("failed to reset corrupted store: %w", rerr)
		}
		resyncRequired = true
		cacheStore, err = cache.New(ctx, store, logger)
		if err != nil {
			return nil, err
		}
	}

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewHTTPClient(cfg.Server.URL, cfg.Server.Timeout, logger)
	}

	q := queue.New(store, cfg.Queue.Capacity, logger)
	resolver := conflict.NewResolver(cacheStore, store, store, q, eventBus, logger)
	log := mutation.NewLog(cacheStore, store, store, q, eventBus, logger)

	dispatcher := dispatch.New(dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		FlushInterval:  cfg.Dispatch.FlushInterval,
	}, tr, q, store, cacheStore, resolver, eventBus, logger)

	monitor := connectivity.New(tr, eventBus, cfg.Connectivity.ProbeInterval, logger)
	monitor.OnChange(dispatcher.SetOnline)

	rt, err := router.New(cacheStore, tr, eventBus, monitor.Online, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		transport: tr,
		push:      opts.Push,
		bus:       eventBus,
		cache:     cacheStore,
		queue:     q,
		log:       log,
		resolver:  resolver,
		dispatch:  dispatcher,
		router:    rt,
		monitor:   monitor,
		nodeID:    nodeID,
	}

	if opts.Broadcaster != nil {
		eventBus.AttachBroadcaster(opts.Broadcaster)
	} else if cfg.Bus.RedisAddr != "" {
		bc, err := bus.NewRedisBroadcaster(ctx, cfg.Bus.RedisAddr, cfg.Bus.Channel, logger)
		if err != nil {
			// Мост между процессами не критичен для работы движка
			logger.Warn("cross-process event bridge unavailable", "error", err)
		} else {
			eventBus.AttachBroadcaster(bc)
		}
	}

	if resyncRequired {
		eventBus.Publish(ctx, models.Event{Type: models.EventResyncRequired})
	}

	return e, nil
}

// Start launches the background machinery: connectivity probing, the
// dispatcher loop, push channel consumption, and sync bookkeeping.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.unsub = e.bus.Subscribe(func(event models.Event) {
		if event.Type == models.EventSynced && event.Origin == e.nodeID {
			if err := e.store.SaveLastSyncTimestamp(runCtx, time.Now().Unix()); err != nil {
				e.logger.Debug("failed to record sync timestamp", "error", err)
			}
		}
	})

	e.monitor.Start(runCtx)
	e.dispatch.Start(runCtx)

	if e.push != nil {
		e.wg.Add(1)
		go e.consumePush(runCtx)
	}
}

// consumePush merges server-originated changes into the cache
func (e *Engine) consumePush(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-e.push.Events():
			if !ok {
				return
			}
			e.applyRemoteChange(ctx, change.Snapshot)
		}
	}
}

// applyRemoteChange installs an authoritative snapshot pushed by the
// server, unless local pending updates still cover the entity - those
// will reconcile (or conflict) through the normal dispatch path.
func (e *Engine) applyRemoteChange(ctx context.Context, apiSnap api.Snapshot) {
	snap := transport.SnapshotFromAPI(&apiSnap)
	key := snap.Key()

	pending, err := e.store.ListUpdatesByEntity(ctx, key)
	if err != nil {
		e.logger.Error("failed to check pending updates for push", "entity", key.String(), "error", err)
		return
	}
	if len(pending) > 0 {
		e.logger.Debug("deferring pushed change, local updates pending", "entity", key.String())
		return
	}

	cached, err := e.cache.Get(key)
	if err == nil && !snap.IsNewerThan(cached) {
		return
	}

	if err := e.cache.Put(ctx, snap); err != nil {
		e.logger.Error("failed to apply pushed change", "entity", key.String(), "error", err)
		return
	}

	e.bus.Publish(ctx, models.Event{
		Type:    models.EventRemoteChange,
		Payload: map[string]any{"entity": key.String(), "version": snap.Version, "deleted": snap.Deleted},
	})
}

// Apply records an optimistic mutation: the cache reflects it
// immediately and the action is queued for delivery.
func (e *Engine) Apply(ctx context.Context, entityType, entityID string, op models.Operation, payload json.RawMessage) (*mutation.Handle, error) {
	handle, err := e.log.Apply(ctx, entityType, entityID, op, payload)
	if err != nil {
		return nil, err
	}
	if e.monitor.Online() {
		e.dispatch.Flush()
	}
	return handle, nil
}

// Rollback undoes a not-yet-synced optimistic update by id.
func (e *Engine) Rollback(ctx context.Context, updateID string) error {
	return e.log.Rollback(ctx, updateID)
}

// Read serves one entity under a routing strategy.
func (e *Engine) Read(ctx context.Context, key models.EntityKey, strategy router.Strategy) (*router.Result, error) {
	return e.router.Get(ctx, key, strategy)
}

// List returns the cached snapshots of one entity type.
func (e *Engine) List(entityType string) []*models.Snapshot {
	return e.cache.List(entityType)
}

// Subscribe registers an event handler and returns its unsubscribe func.
func (e *Engine) Subscribe(h bus.Handler) func() {
	return e.bus.Subscribe(h)
}

// PendingUpdates returns optimistic updates not yet confirmed.
func (e *Engine) PendingUpdates(ctx context.Context) ([]*models.OptimisticUpdate, error) {
	return e.log.PendingUpdates(ctx)
}

// PendingCount returns the offline queue depth.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.Len(ctx)
}

// Actions returns the queued actions in enqueue order. Action ids are
// what RetryAction and DiscardAction operate on.
func (e *Engine) Actions(ctx context.Context) ([]*models.QueuedAction, error) {
	return e.queue.Actions(ctx)
}

// Conflicts returns all unresolved conflicts.
func (e *Engine) Conflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	return e.resolver.Conflicts(ctx)
}

// ResolveConflict applies a resolution policy and nudges the dispatcher
// so the unblocked lane drains.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, policy models.Resolution, mergedPayload json.RawMessage) error {
	if err := e.resolver.Resolve(ctx, conflictID, policy, mergedPayload); err != nil {
		return err
	}
	e.dispatch.Flush()
	return nil
}

// RetryAction re-arms a failed queued action.
func (e *Engine) RetryAction(ctx context.Context, actionID string) error {
	return e.dispatch.RetryAction(ctx, actionID)
}

// DiscardAction drops a failed queued action and rolls its update back.
func (e *Engine) DiscardAction(ctx context.Context, actionID string) error {
	return e.dispatch.DiscardAction(ctx, actionID, e.log.Rollback)
}

// Flush requests an immediate queue drain.
func (e *Engine) Flush() {
	e.dispatch.Flush()
}

// Online reports current connectivity.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// SetOnline overrides the connectivity state.
func (e *Engine) SetOnline(online bool) {
	e.monitor.SetOnline(online)
}

// LastSync returns the unix timestamp of the last confirmed action, or 0.
func (e *Engine) LastSync(ctx context.Context) (int64, error) {
	return e.store.GetLastSyncTimestamp(ctx)
}

// NodeID returns this process's stable identity on the event bus.
func (e *Engine) NodeID() string {
	return e.nodeID
}

// Close tears the engine down: background loops stop, in-flight network
// calls are aborted, and the store is closed last.
func (e *Engine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if e.unsub != nil {
		e.unsub()
	}
	if e.push != nil {
		if err := e.push.Close(); err != nil {
			e.logger.Debug("push channel close failed", "error", err)
		}
	}

	e.dispatch.Close()
	e.monitor.Close()
	e.router.Close()
	e.wg.Wait()
	e.bus.Close()

	return e.store.Close()
}
