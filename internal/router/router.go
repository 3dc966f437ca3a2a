// Package router implements the cache strategy router: per-read routing
// between the local cache and the network. Strategies are declared per
// resource type by the caller; the router never guesses.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/iudanet/casesync/internal/bus"
	"github.com/iudanet/casesync/internal/cache"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage"
	"github.com/iudanet/casesync/internal/transport"
)

// Strategy selects how a read is served
type Strategy string

// Supported routing strategies
const (
	// StrategyCacheFirst serves from cache and only falls through to the
	// network on a miss
	StrategyCacheFirst Strategy = "cache_first"

	// StrategyNetworkFirst tries the network and falls back to cache
	StrategyNetworkFirst Strategy = "network_first"

	// StrategyStaleWhileRevalidate serves the cached value immediately and
	// refreshes it in the background
	StrategyStaleWhileRevalidate Strategy = "stale_while_revalidate"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyCacheFirst, StrategyNetworkFirst, StrategyStaleWhileRevalidate:
		return true
	}
	return false
}

// Router errors
var (
	// ErrUnknownStrategy indicates a strategy outside the supported set
	ErrUnknownStrategy = errors.New("unknown routing strategy")

	// ErrUnavailable is the offline placeholder: the resource is not
	// cached and the network cannot be reached
	ErrUnavailable = errors.New("resource unavailable offline")
)

// Source tells the caller where a result came from
type Source string

// Result sources
const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Result is a routed read
type Result struct {
	Snapshot *models.Snapshot
	Source   Source

	// Stale marks a stale-while-revalidate hit whose background refresh
	// is still in flight
	Stale bool
}

// refreshTTL suppresses repeated background refreshes of the same
// resource within the window
const refreshTTL = 10 * time.Second

const refreshCacheSize = 512

// Router routes reads between the cache and the transport
type Router struct {
	cache     *cache.Store
	transport transport.Transport
	bus       *bus.Bus
	logger    *slog.Logger
	online    func() bool

	// refreshed throttles stale-while-revalidate refreshes per resource
	refreshed *lru.Cache[models.EntityKey, time.Time]

	wg sync.WaitGroup
}

// New creates a router. online reports current connectivity; when it
// returns false no network path is attempted.
func New(
	cacheStore *cache.Store,
	tr transport.Transport,
	eventBus *bus.Bus,
	online func() bool,
	logger *slog.Logger,
) (*Router, error) {
	refreshed, err := lru.New[models.EntityKey, time.Time](refreshCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh cache: %w", err)
	}

	return &Router{
		cache:     cacheStore,
		transport: tr,
		bus:       eventBus,
		logger:    logger,
		online:    online,
		refreshed: refreshed,
	}, nil
}

// Get serves one read under the given strategy. A routed read never
// blocks on pending sync work; at worst it waits for one network fetch.
func (r *Router) Get(ctx context.Context, key models.EntityKey, strategy Strategy) (*Result, error) {
	switch strategy {
	case StrategyCacheFirst:
		return r.cacheFirst(ctx, key)
	case StrategyNetworkFirst:
		return r.networkFirst(ctx, key)
	case StrategyStaleWhileRevalidate:
		return r.staleWhileRevalidate(ctx, key)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
}

func (r *Router) cacheFirst(ctx context.Context, key models.EntityKey) (*Result, error) {
	snap, err := r.cache.Get(key)
	if err == nil {
		return &Result{Snapshot: snap, Source: SourceCache}, nil
	}
	if !errors.Is(err, storage.ErrSnapshotNotFound) {
		return nil, err
	}

	return r.fetchInto(ctx, key)
}

func (r *Router) networkFirst(ctx context.Context, key models.EntityKey) (*Result, error) {
	result, err := r.fetchInto(ctx, key)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrUnavailable) && !transport.IsTransient(err) {
		return nil, err
	}

	// Сеть недоступна - отдаем что есть в кэше
	snap, cerr := r.cache.Get(key)
	if cerr == nil {
		return &Result{Snapshot: snap, Source: SourceCache, Stale: true}, nil
	}
	if !errors.Is(cerr, storage.ErrSnapshotNotFound) {
		return nil, cerr
	}

	return nil, ErrUnavailable
}

func (r *Router) staleWhileRevalidate(ctx context.Context, key models.EntityKey) (*Result, error) {
	snap, err := r.cache.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil, err
		}
		// Нечего отдать сразу - деградируем до сетевого чтения
		return r.fetchInto(ctx, key)
	}

	refreshing := r.scheduleRefresh(key)
	return &Result{Snapshot: snap, Source: SourceCache, Stale: refreshing}, nil
}

// scheduleRefresh launches a background fetch for the key unless one ran
// within refreshTTL or the device is offline. Reports whether a refresh
// is in flight.
func (r *Router) scheduleRefresh(key models.EntityKey) bool {
	if !r.online() {
		return false
	}
	if at, ok := r.refreshed.Get(key); ok && time.Since(at) < refreshTTL {
		return false
	}
	r.refreshed.Add(key, time.Now())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := r.fetchInto(ctx, key); err != nil {
			r.logger.Debug("background refresh failed", "entity", key.String(), "error", err)
			return
		}

		r.bus.Publish(ctx, models.Event{
			Type:    models.EventCacheRefreshed,
			Payload: map[string]any{"entity": key.String()},
		})
	}()

	return true
}

// fetchInto reads one resource from the server and installs it in the
// cache, unless the cache already holds something at least as new - a
// provisional optimistic snapshot is never clobbered by a read.
func (r *Router) fetchInto(ctx context.Context, key models.EntityKey) (*Result, error) {
	if !r.online() {
		return nil, ErrUnavailable
	}

	resp, err := r.transport.Fetch(ctx, key.String())
	if err != nil {
		if transport.IsTransient(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		return nil, err
	}

	fetched := transport.SnapshotFromAPI(&resp.Snapshot)

	cached, cerr := r.cache.Get(key)
	if cerr == nil && !fetched.IsNewerThan(cached) {
		return &Result{Snapshot: cached, Source: SourceCache}, nil
	}

	if err := r.cache.Put(ctx, fetched); err != nil {
		return nil, fmt.Errorf("failed to cache fetched snapshot: %w", err)
	}

	return &Result{Snapshot: fetched.Clone(), Source: SourceNetwork}, nil
}

// Close waits for background refreshes to settle.
func (r *Router) Close() {
	r.wg.Wait()
}
