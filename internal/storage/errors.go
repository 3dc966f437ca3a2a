package storage

import "errors"

// Common storage errors
var (
	// ErrSnapshotNotFound indicates that no snapshot exists for the entity
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrActionNotFound indicates that queued action was not found
	ErrActionNotFound = errors.New("queued action not found")

	// ErrUpdateNotFound indicates that optimistic update was not found
	ErrUpdateNotFound = errors.New("optimistic update not found")

	// ErrConflictNotFound indicates that conflict record was not found
	ErrConflictNotFound = errors.New("conflict record not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrCorrupted indicates that a stored entry could not be decoded.
	// The affected subsystem clears its buckets and requests a full resync.
	ErrCorrupted = errors.New("durable store entry corrupted")
)
