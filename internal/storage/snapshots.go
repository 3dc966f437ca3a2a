// Package storage defines the durable store adapter: transactional
// key-value persistence for snapshots, queued actions, optimistic updates
// and conflict records. Implementations live in subpackages (boltdb is the
// default, sqlite the alternative); everything above this package talks to
// these interfaces only.
package storage

import (
	"context"

	"github.com/iudanet/casesync/internal/models"
)

//go:generate moq -out snapshots_mock.go . SnapshotStorage

// SnapshotStorage persists the last known state of each entity.
type SnapshotStorage interface {
	// SaveSnapshot stores or replaces the snapshot for its entity key
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error

	// GetSnapshot retrieves a snapshot by entity key
	// Returns ErrSnapshotNotFound if no snapshot exists
	GetSnapshot(ctx context.Context, key models.EntityKey) (*models.Snapshot, error)

	// DeleteSnapshot removes a snapshot. Deleting a missing key is a no-op.
	DeleteSnapshot(ctx context.Context, key models.EntityKey) error

	// ListSnapshots returns all snapshots of one entity type,
	// or all snapshots when entityType is empty
	ListSnapshots(ctx context.Context, entityType string) ([]*models.Snapshot, error)

	// ClearSnapshots removes all snapshots. Used for full resync.
	ClearSnapshots(ctx context.Context) error
}
