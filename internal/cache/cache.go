// Package cache implements the local cache store: an in-memory view of
// entity snapshots backed by the durable store adapter. Reads are served
// from memory and never touch the network; writes go through the durable
// store before the in-memory map is updated. There is no eviction:
// stale-but-present data is preferred over an empty cache when offline.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage"
)

// Store represents the local cache of entity snapshots
type Store struct {
	durable storage.SnapshotStorage
	logger  *slog.Logger
	entries map[models.EntityKey]*models.Snapshot
	mu      sync.RWMutex
}

// New creates a cache store and warms it from the durable adapter, so a
// restarted process starts with its last known snapshots.
func New(ctx context.Context, durable storage.SnapshotStorage, logger *slog.Logger) (*Store, error) {
	snaps, err := durable.ListSnapshots(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	entries := make(map[models.EntityKey]*models.Snapshot, len(snaps))
	for _, snap := range snaps {
		entries[snap.Key()] = snap
	}

	logger.Info("cache loaded", "snapshots", len(entries))

	return &Store{
		durable: durable,
		logger:  logger,
		entries: entries,
	}, nil
}

// Get returns the cached snapshot for an entity.
// Returns storage.ErrSnapshotNotFound if the entity is not cached.
func (s *Store) Get(key models.EntityKey) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.entries[key]
	if !ok {
		return nil, storage.ErrSnapshotNotFound
	}

	return snap.Clone(), nil
}

// Put stores a snapshot. It is the only mutator: both provisional
// optimistic writes and authoritative server responses land here.
func (s *Store) Put(ctx context.Context, snap *models.Snapshot) error {
	if err := s.durable.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}

	s.mu.Lock()
	s.entries[snap.Key()] = snap.Clone()
	s.mu.Unlock()

	return nil
}

// Invalidate removes an entity from the cache. Used for rollback of a
// create and when a remote push reports the entity deleted.
func (s *Store) Invalidate(ctx context.Context, key models.EntityKey) error {
	if err := s.durable.DeleteSnapshot(ctx, key); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	return nil
}

// Rename moves a snapshot to a new entity id. Used when the server
// confirms a create and assigns the real id replacing the provisional one.
func (s *Store) Rename(ctx context.Context, oldKey models.EntityKey, snap *models.Snapshot) error {
	if err := s.Put(ctx, snap); err != nil {
		return err
	}
	if oldKey != snap.Key() {
		if err := s.Invalidate(ctx, oldKey); err != nil {
			return err
		}
	}
	return nil
}

// List returns all cached snapshots of one entity type (all types when
// entityType is empty), excluding soft-deleted entries.
func (s *Store) List(entityType string) []*models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Snapshot, 0, len(s.entries))
	for _, snap := range s.entries {
		if snap.Deleted {
			continue
		}
		if entityType == "" || snap.EntityType == entityType {
			result = append(result, snap.Clone())
		}
	}

	return result
}

// Len returns the number of cached entries, including deleted ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Clear drops the in-memory map and the durable snapshots. Called when
// the durable store is corrupted and a full resync is required.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.durable.ClearSnapshots(ctx); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}

	s.mu.Lock()
	s.entries = make(map[models.EntityKey]*models.Snapshot)
	s.mu.Unlock()

	return nil
}
