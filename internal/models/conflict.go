package models

import "time"

// Resolution политика разрешения конфликта
type Resolution string

// Conflict resolution states. A record starts unresolved; resolving it
// picks one of the remaining policies and unblocks the entity's lane.
const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionLocal      Resolution = "local"
	ResolutionServer     Resolution = "server"
	ResolutionMerged     Resolution = "merged"
)

// ConflictRecord captures a version mismatch between a pending local
// update and the server's current state. At most one unresolved record
// may exist per entity; it blocks new optimistic writes to that entity
// until resolved.
type ConflictRecord struct {
	DetectedAt     time.Time  `json:"detected_at"`
	ConflictID     string     `json:"conflict_id"`
	UpdateID       string     `json:"update_id"` // обновление, вызвавшее конфликт
	EntityType     string     `json:"entity_type"`
	EntityID       string     `json:"entity_id"`
	Resolution     Resolution `json:"resolution"`
	RemoteSnapshot *Snapshot  `json:"remote_snapshot"`
	LocalVersion   int64      `json:"local_version"`
}

// Key returns the entity the conflict belongs to.
func (c *ConflictRecord) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// Unresolved reports whether the conflict still blocks its entity.
func (c *ConflictRecord) Unresolved() bool {
	return c.Resolution == ResolutionUnresolved
}
