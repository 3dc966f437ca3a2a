package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage"
)

// SaveSnapshot stores or replaces the snapshot for its entity key
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		if err := bucket.Put([]byte(snap.Key().String()), data); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetSnapshot retrieves a snapshot by entity key
func (s *Storage) GetSnapshot(ctx context.Context, key models.EntityKey) (*models.Snapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var snap *models.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		if bucket == nil {
			return storage.ErrSnapshotNotFound
		}

		data := bucket.Get([]byte(key.String()))
		if data == nil {
			return storage.ErrSnapshotNotFound
		}

		snap = &models.Snapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("%w: snapshot %s: %v", storage.ErrCorrupted, key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// DeleteSnapshot removes a snapshot. Deleting a missing key is a no-op.
func (s *Storage) DeleteSnapshot(ctx context.Context, key models.EntityKey) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key.String()))
	})
	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}

// ListSnapshots returns all snapshots of one entity type,
// or all snapshots when entityType is empty
func (s *Storage) ListSnapshots(ctx context.Context, entityType string) ([]*models.Snapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var snaps []*models.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var snap models.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("%w: snapshot %s: %v", storage.ErrCorrupted, k, err)
			}
			if entityType == "" || snap.EntityType == entityType {
				snaps = append(snaps, &snap)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return snaps, nil
}

// ClearSnapshots removes all snapshots. Used for full resync.
func (s *Storage) ClearSnapshots(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketSnapshots); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}
		if _, err := tx.CreateBucket(bucketSnapshots); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear transaction failed: %w", err)
	}

	return nil
}
