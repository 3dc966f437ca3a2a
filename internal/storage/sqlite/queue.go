package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage"
)

// SaveAction stores or updates a queued action. On first save a
// monotonically increasing seq is assigned inside the same transaction.
func (s *Storage) SaveAction(ctx context.Context, action *models.QueuedAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if action.Seq == 0 {
		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM offline_queue").Scan(&maxSeq); err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}
		action.Seq = uint64(maxSeq.Int64) + 1
	}

	query := `
		INSERT INTO offline_queue (
			action_id, seq, update_id, idempotency_key, entity_type, entity_id,
			operation, status, payload, base_version, attempts, enqueued_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			payload = excluded.payload,
			base_version = excluded.base_version
	`

	_, err = tx.ExecContext(ctx, query,
		action.ActionID,
		action.Seq,
		action.UpdateID,
		action.IdempotencyKey,
		action.EntityType,
		action.EntityID,
		string(action.Operation),
		string(action.Status),
		[]byte(action.Payload),
		action.BaseVersion,
		action.Attempts,
		action.EnqueuedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save action: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// GetAction retrieves a queued action by ID
func (s *Storage) GetAction(ctx context.Context, actionID string) (*models.QueuedAction, error) {
	query := selectActions + " WHERE action_id = ?"

	action, err := scanAction(s.db.QueryRowContext(ctx, query, actionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrActionNotFound
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}

	return action, nil
}

// DeleteAction removes a queued action by ID
func (s *Storage) DeleteAction(ctx context.Context, actionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM offline_queue WHERE action_id = ?", actionID); err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}
	return nil
}

// ListActions returns all queued actions ordered by Seq ascending
func (s *Storage) ListActions(ctx context.Context) ([]*models.QueuedAction, error) {
	rows, err := s.db.QueryContext(ctx, selectActions+" ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.QueuedAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return actions, nil
}

// CountActions returns the number of queued actions
func (s *Storage) CountActions(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offline_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return count, nil
}

// ClearActions removes all queued actions. Used for full resync.
func (s *Storage) ClearActions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM offline_queue"); err != nil {
		return fmt.Errorf("failed to clear actions: %w", err)
	}
	return nil
}

const selectActions = `
	SELECT action_id, seq, update_id, idempotency_key, entity_type, entity_id,
	       operation, status, payload, base_version, attempts, enqueued_at
	FROM offline_queue
`

func scanAction(row rowScanner) (*models.QueuedAction, error) {
	var (
		action     models.QueuedAction
		operation  string
		status     string
		payload    []byte
		enqueuedAt int64
	)

	err := row.Scan(
		&action.ActionID,
		&action.Seq,
		&action.UpdateID,
		&action.IdempotencyKey,
		&action.EntityType,
		&action.EntityID,
		&operation,
		&status,
		&payload,
		&action.BaseVersion,
		&action.Attempts,
		&enqueuedAt,
	)
	if err != nil {
		return nil, err
	}

	action.Operation = models.Operation(operation)
	action.Status = models.UpdateStatus(status)
	action.Payload = payload
	action.EnqueuedAt = time.Unix(enqueuedAt, 0).UTC()

	return &action, nil
}
