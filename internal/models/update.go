package models

import (
	"encoding/json"
	"time"
)

// Operation тип операции над сущностью
type Operation string

// Supported operations
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// UpdateStatus статус оптимистичного обновления
type UpdateStatus string

// Lifecycle of an optimistic update. A pending update is removed on
// synced; failed and conflict updates stay until the caller retries,
// discards or resolves them.
const (
	StatusPending  UpdateStatus = "pending"
	StatusSynced   UpdateStatus = "synced"
	StatusFailed   UpdateStatus = "failed"
	StatusConflict UpdateStatus = "conflict"
)

// OptimisticUpdate records one in-flight local write together with the
// inverse snapshot needed to roll it back. Created by the mutation log,
// mutated only by the engine, destroyed on synced or explicit resolution.
type OptimisticUpdate struct {
	CreatedAt       time.Time       `json:"created_at"`
	UpdateID        string          `json:"update_id"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Operation       Operation       `json:"operation"`
	Status          UpdateStatus    `json:"status"`
	Payload         json.RawMessage `json:"payload"`
	InverseSnapshot *Snapshot       `json:"inverse_snapshot,omitempty"` // nil для create: откат удаляет запись
	BaseVersion     int64           `json:"base_version"`
	RetryCount      int             `json:"retry_count"`
}

// Key returns the entity the update targets.
func (u *OptimisticUpdate) Key() EntityKey {
	return EntityKey{Type: u.EntityType, ID: u.EntityID}
}

// Clone создает глубокую копию обновления
func (u *OptimisticUpdate) Clone() *OptimisticUpdate {
	payload := make(json.RawMessage, len(u.Payload))
	copy(payload, u.Payload)

	clone := *u
	clone.Payload = payload
	if u.InverseSnapshot != nil {
		clone.InverseSnapshot = u.InverseSnapshot.Clone()
	}
	return &clone
}

// QueuedAction is the durable companion of a pending OptimisticUpdate:
// one not-yet-confirmed network delivery. It survives restarts and is
// deleted only once the dispatcher confirms success.
type QueuedAction struct {
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	ActionID       string          `json:"action_id"`
	UpdateID       string          `json:"update_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Operation      Operation       `json:"operation"`
	Status         UpdateStatus    `json:"status"` // pending или failed
	Payload        json.RawMessage `json:"payload"`
	BaseVersion    int64           `json:"base_version"`
	Attempts       int             `json:"attempts"`
	Seq            uint64          `json:"seq"` // порядковый номер внутри очереди
}

// Key returns the entity the action targets.
func (a *QueuedAction) Key() EntityKey {
	return EntityKey{Type: a.EntityType, ID: a.EntityID}
}
