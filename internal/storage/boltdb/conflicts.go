package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage"
)

// SaveConflict stores or updates a conflict record
func (s *Storage) SaveConflict(ctx context.Context, record *models.ConflictRecord) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if err := bucket.Put([]byte(record.ConflictID), data); err != nil {
			return fmt.Errorf("failed to save conflict: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetConflict retrieves a conflict record by ID
func (s *Storage) GetConflict(ctx context.Context, conflictID string) (*models.ConflictRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.ConflictRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return storage.ErrConflictNotFound
		}

		data := bucket.Get([]byte(conflictID))
		if data == nil {
			return storage.ErrConflictNotFound
		}

		record = &models.ConflictRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("%w: conflict %s: %v", storage.ErrCorrupted, conflictID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// GetUnresolvedByEntity returns the unresolved conflict blocking an entity
func (s *Storage) GetUnresolvedByEntity(ctx context.Context, key models.EntityKey) (*models.ConflictRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var found *models.ConflictRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var record models.ConflictRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("%w: conflict %s: %v", storage.ErrCorrupted, k, err)
			}
			if record.Unresolved() && record.Key() == key {
				found = &record
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, storage.ErrConflictNotFound
	}

	return found, nil
}

// DeleteConflict removes a conflict record by ID
func (s *Storage) DeleteConflict(ctx context.Context, conflictID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(conflictID))
	})
	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}

// ListConflicts returns all conflict records ordered by DetectedAt
func (s *Storage) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.ConflictRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var record models.ConflictRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("%w: conflict %s: %v", storage.ErrCorrupted, k, err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DetectedAt.Before(records[j].DetectedAt)
	})

	return records, nil
}
