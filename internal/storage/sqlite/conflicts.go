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

// SaveConflict stores or updates a conflict record
func (s *Storage) SaveConflict(ctx context.Context, record *models.ConflictRecord) error {
	var remote []byte
	if record.RemoteSnapshot != nil {
		data, err := json.Marshal(record.RemoteSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal remote snapshot: %w", err)
		}
		remote = data
	}

	query := `
		INSERT INTO conflicts (
			conflict_id, update_id, entity_type, entity_id,
			resolution, remote_snapshot, local_version, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conflict_id) DO UPDATE SET
			resolution = excluded.resolution,
			remote_snapshot = excluded.remote_snapshot
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ConflictID,
		record.UpdateID,
		record.EntityType,
		record.EntityID,
		string(record.Resolution),
		remote,
		record.LocalVersion,
		record.DetectedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}

	return nil
}

// GetConflict retrieves a conflict record by ID
func (s *Storage) GetConflict(ctx context.Context, conflictID string) (*models.ConflictRecord, error) {
	query := selectConflicts + " WHERE conflict_id = ?"

	record, err := scanConflict(s.db.QueryRowContext(ctx, query, conflictID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	return record, nil
}

// GetUnresolvedByEntity returns the unresolved conflict blocking an entity
func (s *Storage) GetUnresolvedByEntity(ctx context.Context, key models.EntityKey) (*models.ConflictRecord, error) {
	query := selectConflicts + " WHERE entity_type = ? AND entity_id = ? AND resolution = 'unresolved'"

	record, err := scanConflict(s.db.QueryRowContext(ctx, query, key.Type, key.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to get unresolved conflict: %w", err)
	}

	return record, nil
}

// DeleteConflict removes a conflict record by ID
func (s *Storage) DeleteConflict(ctx context.Context, conflictID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conflicts WHERE conflict_id = ?", conflictID); err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}
	return nil
}

// ListConflicts returns all conflict records ordered by DetectedAt
func (s *Storage) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectConflicts+" ORDER BY detected_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var records []*models.ConflictRecord
	for rows.Next() {
		record, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return records, nil
}

const selectConflicts = `
	SELECT conflict_id, update_id, entity_type, entity_id,
	       resolution, remote_snapshot, local_version, detected_at
	FROM conflicts
`

func scanConflict(row rowScanner) (*models.ConflictRecord, error) {
	var (
		record     models.ConflictRecord
		resolution string
		remote     []byte
		detectedAt int64
	)

	err := row.Scan(
		&record.ConflictID,
		&record.UpdateID,
		&record.EntityType,
		&record.EntityID,
		&resolution,
		&remote,
		&record.LocalVersion,
		&detectedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Resolution = models.Resolution(resolution)
	record.DetectedAt = time.Unix(detectedAt, 0).UTC()

	if len(remote) > 0 {
		var snap models.Snapshot
		if err := json.Unmarshal(remote, &snap); err != nil {
			return nil, fmt.Errorf("%w: remote snapshot of %s: %v", storage.ErrCorrupted, record.ConflictID, err)
		}
		record.RemoteSnapshot = &snap
	}

	return &record, nil
}
