package storage

import "context"

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage stores engine bookkeeping values
type MetadataStorage interface {
	// SaveLastSyncTimestamp saves the timestamp of the last successful sync
	SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error

	// GetLastSyncTimestamp retrieves the timestamp of the last successful sync
	// Returns 0 if no sync has been performed yet
	GetLastSyncTimestamp(ctx context.Context) (int64, error)

	// SaveNodeID persists this client's node id
	SaveNodeID(ctx context.Context, nodeID string) error

	// GetNodeID returns the persisted node id, or empty string if none
	GetNodeID(ctx context.Context) (string, error)
}
