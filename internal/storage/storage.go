package storage

// Store aggregates every durable table the engine needs. Concrete
// adapters (boltdb, sqlite) implement the whole set over one database
// file; components depend on the narrow interfaces instead.
type Store interface {
	SnapshotStorage
	QueueStorage
	UpdateStorage
	ConflictStorage
	MetadataStorage

	// Close releases the underlying database
	Close() error
}
