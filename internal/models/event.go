package models

import (
	"encoding/json"
	"time"
)

// EventType тип события синхронизации
type EventType string

// Events emitted on the bus. Ephemeral: they are never persisted beyond
// the bus's in-memory ring buffer.
const (
	EventQueued           EventType = "queued"            // действие поставлено в очередь
	EventSynced           EventType = "synced"            // действие подтверждено сервером
	EventRollback         EventType = "rollback"          // оптимистичное обновление откачено
	EventSyncFailed       EventType = "sync_failed"       // исчерпаны попытки отправки
	EventConflictDetected EventType = "conflict_detected" // обнаружен конфликт версий
	EventConflictResolved EventType = "conflict_resolved"
	EventRemoteChange     EventType = "remote_change" // изменение пришло с сервера (push)
	EventCacheRefreshed   EventType = "cache_refreshed"
	EventOnline           EventType = "online"
	EventOffline          EventType = "offline"
	EventResyncRequired   EventType = "resync_required" // локальное хранилище сброшено
)

// Event is one broadcast-only sync notification. Payload must be JSON
// serializable so the event can cross process boundaries.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Origin    string    `json:"origin,omitempty"` // node id отправителя (для cross-process)
	Payload   any       `json:"payload,omitempty"`
}

// MarshalPayload returns the payload as raw JSON, used when an event is
// re-broadcast across processes.
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	if e.Payload == nil {
		return nil, nil
	}
	return json.Marshal(e.Payload)
}
