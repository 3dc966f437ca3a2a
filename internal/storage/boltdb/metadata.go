package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/casesync/internal/storage"
)

const (
	keyLastSyncTimestamp = "last_sync_timestamp"
	keyNodeID            = "node_id"
)

// SaveLastSyncTimestamp saves the timestamp of the last successful sync
func (s *Storage) SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)

		// Конвертируем int64 в bytes
		timestampBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(timestampBytes, uint64(timestamp))

		if err := bucket.Put([]byte(keyLastSyncTimestamp), timestampBytes); err != nil {
			return fmt.Errorf("failed to save last sync timestamp: %w", err)
		}
		return nil
	})
}

// GetLastSyncTimestamp retrieves the timestamp of the last successful sync
// Returns 0 if no sync has been performed yet
func (s *Storage) GetLastSyncTimestamp(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var timestamp int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)

		timestampBytes := bucket.Get([]byte(keyLastSyncTimestamp))
		if timestampBytes == nil {
			// Первая синхронизация - возвращаем 0
			timestamp = 0
			return nil
		}

		timestamp = int64(binary.BigEndian.Uint64(timestampBytes))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get last sync timestamp: %w", err)
	}

	return timestamp, nil
}

// SaveNodeID persists this client's node id
func (s *Storage) SaveNodeID(ctx context.Context, nodeID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if err := bucket.Put([]byte(keyNodeID), []byte(nodeID)); err != nil {
			return fmt.Errorf("failed to save node id: %w", err)
		}
		return nil
	})
}

// GetNodeID returns the persisted node id, or empty string if none
func (s *Storage) GetNodeID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var nodeID string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if data := bucket.Get([]byte(keyNodeID)); data != nil {
			nodeID = string(data)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get node id: %w", err)
	}

	return nodeID, nil
}
