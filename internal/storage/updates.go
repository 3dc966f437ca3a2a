package storage

import (
	"context"

	"github.com/iudanet/casesync/internal/models"
)

//go:generate moq -out updates_mock.go . UpdateStorage

// UpdateStorage persists in-flight optimistic updates together with their
// inverse snapshots, so rollback data survives a restart.
type UpdateStorage interface {
	// SaveUpdate stores or updates an optimistic update
	SaveUpdate(ctx context.Context, update *models.OptimisticUpdate) error

	// GetUpdate retrieves an optimistic update by ID
	// Returns ErrUpdateNotFound if update doesn't exist
	GetUpdate(ctx context.Context, updateID string) (*models.OptimisticUpdate, error)

	// DeleteUpdate removes an optimistic update by ID
	DeleteUpdate(ctx context.Context, updateID string) error

	// ListUpdates returns all optimistic updates ordered by CreatedAt
	ListUpdates(ctx context.Context) ([]*models.OptimisticUpdate, error)

	// ListUpdatesByEntity returns updates targeting one entity,
	// oldest first
	ListUpdatesByEntity(ctx context.Context, key models.EntityKey) ([]*models.OptimisticUpdate, error)

	// ClearUpdates removes all optimistic updates
	ClearUpdates(ctx context.Context) error
}
