package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Snapshot представляет локально известное состояние одной сущности.
// It is replaced wholesale whenever the server confirms a new version;
// optimistic writes install provisional snapshots with the same shape.
type Snapshot struct {
	UpdatedAt  time.Time       `json:"updated_at"`  // UpdatedAt время последнего изменения
	EntityType string          `json:"entity_type"` // EntityType тип сущности: "contato", "processo", "mensagem"
	EntityID   string          `json:"entity_id"`   // EntityID идентификатор сущности
	Payload    json.RawMessage `json:"payload"`     // Payload JSON документ сущности
	Version    int64           `json:"version"`     // Version монотонно растущая серверная версия
	Deleted    bool            `json:"deleted"`     // Deleted флаг soft delete
}

// EntityType constants for the entities the engine currently syncs.
const (
	EntityTypeContact = "contato"
	EntityTypeCase    = "processo"
	EntityTypeMessage = "mensagem"
)

// Key returns the cache key of the snapshot.
func (s *Snapshot) Key() EntityKey {
	return EntityKey{Type: s.EntityType, ID: s.EntityID}
}

// IsNewerThan reports whether s supersedes other. Server versions are
// monotonically increasing per entity, so a plain comparison is enough.
func (s *Snapshot) IsNewerThan(other *Snapshot) bool {
	return s.Version > other.Version
}

// Clone создает глубокую копию snapshot
func (s *Snapshot) Clone() *Snapshot {
	payload := make(json.RawMessage, len(s.Payload))
	copy(payload, s.Payload)

	return &Snapshot{
		EntityType: s.EntityType,
		EntityID:   s.EntityID,
		Payload:    payload,
		Version:    s.Version,
		Deleted:    s.Deleted,
		UpdatedAt:  s.UpdatedAt,
	}
}

// EntityKey identifies one entity across cache, queue and conflict records.
type EntityKey struct {
	Type string
	ID   string
}

// String returns the "type/id" form used as a storage key and lane name.
func (k EntityKey) String() string {
	return k.Type + "/" + k.ID
}

// ParseEntityKey parses the "type/id" form back into an EntityKey.
func ParseEntityKey(s string) (EntityKey, error) {
	idx := strings.Index(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return EntityKey{}, fmt.Errorf("malformed entity key %q", s)
	}
	return EntityKey{Type: s[:idx], ID: s[idx+1:]}, nil
}
