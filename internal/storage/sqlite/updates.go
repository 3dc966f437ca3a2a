package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/storage"
)

// SaveUpdate stores or updates an optimistic update
func (s *Storage) SaveUpdate(ctx context.Context, update *models.OptimisticUpdate) error {
	var inverse []byte
	if update.InverseSnapshot != nil {
		data, err := json.Marshal(update.InverseSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal inverse snapshot: %w", err)
		}
		inverse = data
	}

	query := `
		INSERT INTO optimistic_updates (
			update_id, entity_type, entity_id, operation, status,
			payload, inverse_snapshot, base_version, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(update_id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			base_version = excluded.base_version,
			retry_count = excluded.retry_count
	`

	_, err := s.db.ExecContext(ctx, query,
		update.UpdateID,
		update.EntityType,
		update.EntityID,
		string(update.Operation),
		string(update.Status),
		[]byte(update.Payload),
		inverse,
		update.BaseVersion,
		update.RetryCount,
		update.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save update: %w", err)
	}

	return nil
}

// GetUpdate retrieves an optimistic update by ID
func (s *Storage) GetUpdate(ctx context.Context, updateID string) (*models.OptimisticUpdate, error) {
	query := selectUpdates + " WHERE update_id = ?"

	update, err := scanUpdate(s.db.QueryRowContext(ctx, query, updateID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUpdateNotFound
		}
		return nil, fmt.Errorf("failed to get update: %w", err)
	}

	return update, nil
}

// DeleteUpdate removes an optimistic update by ID
func (s *Storage) DeleteUpdate(ctx context.Context, updateID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM optimistic_updates WHERE update_id = ?", updateID); err != nil {
		return fmt.Errorf("failed to delete update: %w", err)
	}
	return nil
}

// ListUpdates returns all optimistic updates ordered by CreatedAt
func (s *Storage) ListUpdates(ctx context.Context) ([]*models.OptimisticUpdate, error) {
	return s.queryUpdates(ctx, selectUpdates+" ORDER BY created_at ASC")
}

// ListUpdatesByEntity returns updates targeting one entity, oldest first
func (s *Storage) ListUpdatesByEntity(ctx context.Context, key models.EntityKey) ([]*models.OptimisticUpdate, error) {
	query := selectUpdates + " WHERE entity_type = ? AND entity_id = ? ORDER BY created_at ASC"
	return s.queryUpdates(ctx, query, key.Type, key.ID)
}

func (s *Storage) queryUpdates(ctx context.Context, query string, args ...any) ([]*models.OptimisticUpdate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	var updates []*models.OptimisticUpdate
	for rows.Next() {
		update, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		updates = append(updates, update)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return updates, nil
}

// ClearUpdates removes all optimistic updates
func (s *Storage) ClearUpdates(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM optimistic_updates"); err != nil {
		return fmt.Errorf("failed to clear updates: %w", err)
	}
	return nil
}

const selectUpdates = `
	SELECT update_id, entity_type, entity_id, operation, status,
	       payload, inverse_snapshot, base_version, retry_count, created_at
	FROM optimistic_updates
`

func scanUpdate(row rowScanner) (*models.OptimisticUpdate, error) {
	var (
		update    models.OptimisticUpdate
		operation string
		status    string
		payload   []byte
		inverse   []byte
		createdAt int64
	)

	err := row.Scan(
		&update.UpdateID,
		&update.EntityType,
		&update.EntityID,
		&operation,
		&status,
		&payload,
		&inverse,
		&update.BaseVersion,
		&update.RetryCount,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	update.Operation = models.Operation(operation)
	update.Status = models.UpdateStatus(status)
	update.Payload = payload
	update.CreatedAt = time.Unix(createdAt, 0).UTC()

	if len(inverse) > 0 {
		var snap models.Snapshot
		if err := json.Unmarshal(inverse, &snap); err != nil {
			return nil, fmt.Errorf("%w: inverse snapshot of %s: %v", storage.ErrCorrupted, update.UpdateID, err)
		}
		update.InverseSnapshot = &snap
	}

	return &update, nil
}
