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

// SaveAction stores or updates a queued action. On first save the bucket
// sequence assigns a monotonically increasing Seq defining enqueue order.
func (s *Storage) SaveAction(ctx context.Context, action *models.QueuedAction) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)

		if action.Seq == 0 {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to assign sequence: %w", err)
			}
			action.Seq = seq
		}

		data, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}

		if err := bucket.Put([]byte(action.ActionID), data); err != nil {
			return fmt.Errorf("failed to save action: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetAction retrieves a queued action by ID
func (s *Storage) GetAction(ctx context.Context, actionID string) (*models.QueuedAction, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var action *models.QueuedAction

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return storage.ErrActionNotFound
		}

		data := bucket.Get([]byte(actionID))
		if data == nil {
			return storage.ErrActionNotFound
		}

		action = &models.QueuedAction{}
		if err := json.Unmarshal(data, action); err != nil {
			return fmt.Errorf("%w: action %s: %v", storage.ErrCorrupted, actionID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return action, nil
}

// DeleteAction removes a queued action by ID
func (s *Storage) DeleteAction(ctx context.Context, actionID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(actionID))
	})
	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}

// ListActions returns all queued actions ordered by Seq ascending
func (s *Storage) ListActions(ctx context.Context) ([]*models.QueuedAction, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var actions []*models.QueuedAction

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var action models.QueuedAction
			if err := json.Unmarshal(v, &action); err != nil {
				return fmt.Errorf("%w: action %s: %v", storage.ErrCorrupted, k, err)
			}
			actions = append(actions, &action)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Ключи bolt отсортированы по ActionID, а не по порядку постановки
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Seq < actions[j].Seq
	})

	return actions, nil
}

// CountActions returns the number of queued actions
func (s *Storage) CountActions(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}

	return count, nil
}

// ClearActions removes all queued actions. Used for full resync.
func (s *Storage) ClearActions(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketQueue); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}
		if _, err := tx.CreateBucket(bucketQueue); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear transaction failed: %w", err)
	}

	return nil
}
