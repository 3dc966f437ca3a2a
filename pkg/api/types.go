// Package api contains the wire types exchanged between the sync engine
// and the authoritative server. The transport is deliberately opaque: any
// request/response carrier able to move these JSON documents works.
package api

import (
	"encoding/json"
	"time"
)

// Snapshot is the canonical server-side state of one entity at one version.
type Snapshot struct {
	UpdatedAt  time.Time       `json:"updated_at"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Version    int64           `json:"version"`
	Deleted    bool            `json:"deleted"`
}

// PushRequest carries one queued client action to the server.
// IdempotencyKey lets the server reject a duplicate delivery of the same
// logical action instead of applying it twice.
type PushRequest struct {
	ActionID       string          `json:"action_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Operation      string          `json:"operation"` // create, update, delete
	Payload        json.RawMessage `json:"payload"`
	BaseVersion    int64           `json:"base_version"`
}

// PushResponse confirms a successfully applied action. For create
// operations the snapshot carries the server-assigned entity id, which may
// differ from the provisional client id in the request.
type PushResponse struct {
	Snapshot Snapshot `json:"snapshot"`
}

// ConflictResponse is returned instead of a PushResponse when the entity's
// current server version no longer matches the request's base version.
type ConflictResponse struct {
	Remote      Snapshot `json:"remote"`
	BaseVersion int64    `json:"base_version"`
}

// FetchResponse is the server's answer to a read of one resource.
type FetchResponse struct {
	Snapshot Snapshot `json:"snapshot"`
}

// ChangeEvent is an unsolicited server-originated mutation delivered over
// the push channel when another client changes an entity.
type ChangeEvent struct {
	Snapshot   Snapshot  `json:"snapshot"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ErrorResponse represents an error response from the server
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
