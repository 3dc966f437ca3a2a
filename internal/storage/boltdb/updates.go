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

// SaveUpdate stores or updates an optimistic update
func (s *Storage) SaveUpdate(ctx context.Context, update *models.OptimisticUpdate) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUpdates)
		if err := bucket.Put([]byte(update.UpdateID), data); err != nil {
			return fmt.Errorf("failed to save update: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetUpdate retrieves an optimistic update by ID
func (s *Storage) GetUpdate(ctx context.Context, updateID string) (*models.OptimisticUpdate, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var update *models.OptimisticUpdate

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUpdates)
		if bucket == nil {
			return storage.ErrUpdateNotFound
		}

		data := bucket.Get([]byte(updateID))
		if data == nil {
			return storage.ErrUpdateNotFound
		}

		update = &models.OptimisticUpdate{}
		if err := json.Unmarshal(data, update); err != nil {
			return fmt.Errorf("%w: update %s: %v", storage.ErrCorrupted, updateID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return update, nil
}

// DeleteUpdate removes an optimistic update by ID
func (s *Storage) DeleteUpdate(ctx context.Context, updateID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUpdates)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(updateID))
	})
	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}

// ListUpdates returns all optimistic updates ordered by CreatedAt
func (s *Storage) ListUpdates(ctx context.Context) ([]*models.OptimisticUpdate, error) {
	return s.listUpdates(ctx, nil)
}

// ListUpdatesByEntity returns updates targeting one entity, oldest first
func (s *Storage) ListUpdatesByEntity(ctx context.Context, key models.EntityKey) ([]*models.OptimisticUpdate, error) {
	return s.listUpdates(ctx, func(u *models.OptimisticUpdate) bool {
		return u.Key() == key
	})
}

func (s *Storage) listUpdates(ctx context.Context, keep func(*models.OptimisticUpdate) bool) ([]*models.OptimisticUpdate, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var updates []*models.OptimisticUpdate

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUpdates)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var update models.OptimisticUpdate
			if err := json.Unmarshal(v, &update); err != nil {
				return fmt.Errorf("%w: update %s: %v", storage.ErrCorrupted, k, err)
			}
			if keep == nil || keep(&update) {
				updates = append(updates, &update)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(updates, func(i, j int) bool {
		return updates[i].CreatedAt.Before(updates[j].CreatedAt)
	})

	return updates, nil
}

// ClearUpdates removes all optimistic updates
func (s *Storage) ClearUpdates(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketUpdates); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}
		if _, err := tx.CreateBucket(bucketUpdates); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear transaction failed: %w", err)
	}

	return nil
}
