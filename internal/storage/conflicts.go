package storage

import (
	"context"

	"github.com/iudanet/casesync/internal/models"
)

//go:generate moq -out conflicts_mock.go . ConflictStorage

// ConflictStorage persists conflict records. At most one unresolved
// record may exist per entity; implementations enforce lookup by entity
// so the mutation log can fail fast on a blocked entity.
type ConflictStorage interface {
	// SaveConflict stores or updates a conflict record
	SaveConflict(ctx context.Context, record *models.ConflictRecord) error

	// GetConflict retrieves a conflict record by ID
	// Returns ErrConflictNotFound if record doesn't exist
	GetConflict(ctx context.Context, conflictID string) (*models.ConflictRecord, error)

	// GetUnresolvedByEntity returns the unresolved conflict blocking an
	// entity, or ErrConflictNotFound if the entity is unblocked
	GetUnresolvedByEntity(ctx context.Context, key models.EntityKey) (*models.ConflictRecord, error)

	// DeleteConflict removes a conflict record by ID
	DeleteConflict(ctx context.Context, conflictID string) error

	// ListConflicts returns all conflict records ordered by DetectedAt
	ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error)
}
