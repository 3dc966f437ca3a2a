package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	keyLastSyncTimestamp = "last_sync_timestamp"
	keyNodeID            = "node_id"
)

func (s *Storage) saveMeta(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to save metadata %s: %w", key, err)
	}
	return nil
}

func (s *Storage) getMeta(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, nil
}

// SaveLastSyncTimestamp saves the timestamp of the last successful sync
func (s *Storage) SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(timestamp))
	return s.saveMeta(ctx, keyLastSyncTimestamp, value)
}

// GetLastSyncTimestamp retrieves the timestamp of the last successful sync
// Returns 0 if no sync has been performed yet
func (s *Storage) GetLastSyncTimestamp(ctx context.Context) (int64, error) {
	value, err := s.getMeta(ctx, keyLastSyncTimestamp)
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

// SaveNodeID persists this client's node id
func (s *Storage) SaveNodeID(ctx context.Context, nodeID string) error {
	return s.saveMeta(ctx, keyNodeID, []byte(nodeID))
}

// GetNodeID returns the persisted node id, or empty string if none
func (s *Storage) GetNodeID(ctx context.Context) (string, error) {
	value, err := s.getMeta(ctx, keyNodeID)
	if err != nil {
		return "", err
	}
	return string(value), nil
}
