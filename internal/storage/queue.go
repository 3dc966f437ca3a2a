package storage

import (
	"context"

	"github.com/iudanet/casesync/internal/models"
)

//go:generate moq -out queue_mock.go . QueueStorage

// QueueStorage persists the durable offline queue. Every mutation is a
// transactional write: an action is only considered enqueued or removed
// once the underlying transaction commits.
type QueueStorage interface {
	// SaveAction stores or updates a queued action. On first save the
	// implementation assigns a monotonically increasing Seq that defines
	// global enqueue order.
	SaveAction(ctx context.Context, action *models.QueuedAction) error

	// GetAction retrieves a queued action by ID
	// Returns ErrActionNotFound if action doesn't exist
	GetAction(ctx context.Context, actionID string) (*models.QueuedAction, error)

	// DeleteAction removes a queued action by ID
	DeleteAction(ctx context.Context, actionID string) error

	// ListActions returns all queued actions ordered by Seq ascending
	ListActions(ctx context.Context) ([]*models.QueuedAction, error)

	// CountActions returns the number of queued actions
	CountActions(ctx context.Context) (int, error)

	// ClearActions removes all queued actions. Used for full resync.
	ClearActions(ctx context.Context) error
}
