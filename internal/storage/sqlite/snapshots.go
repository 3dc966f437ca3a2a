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

// SaveSnapshot stores or replaces the snapshot for its entity key
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	query := `
		INSERT INTO snapshots (entity_key, entity_type, entity_id, payload, version, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		snap.Key().String(),
		snap.EntityType,
		snap.EntityID,
		[]byte(snap.Payload),
		snap.Version,
		boolToInt(snap.Deleted),
		snap.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// GetSnapshot retrieves a snapshot by entity key
func (s *Storage) GetSnapshot(ctx context.Context, key models.EntityKey) (*models.Snapshot, error) {
	query := `
		SELECT entity_type, entity_id, payload, version, deleted, updated_at
		FROM snapshots WHERE entity_key = ?
	`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, key.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return snap, nil
}

// DeleteSnapshot removes a snapshot. Deleting a missing key is a no-op.
func (s *Storage) DeleteSnapshot(ctx context.Context, key models.EntityKey) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE entity_key = ?", key.String()); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns all snapshots of one entity type,
// or all snapshots when entityType is empty
func (s *Storage) ListSnapshots(ctx context.Context, entityType string) ([]*models.Snapshot, error) {
	query := `
		SELECT entity_type, entity_id, payload, version, deleted, updated_at
		FROM snapshots
	`
	args := []any{}
	if entityType != "" {
		query += " WHERE entity_type = ?"
		args = append(args, entityType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return snaps, nil
}

// ClearSnapshots removes all snapshots. Used for full resync.
func (s *Storage) ClearSnapshots(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM snapshots"); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var (
		snap      models.Snapshot
		payload   []byte
		deleted   int
		updatedAt int64
	)

	if err := row.Scan(&snap.EntityType, &snap.EntityID, &payload, &snap.Version, &deleted, &updatedAt); err != nil {
		return nil, err
	}

	snap.Payload = payload
	snap.Deleted = deleted != 0
	snap.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &snap, nil
}
