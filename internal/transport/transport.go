// Package transport defines the opaque request/response channel between
// the engine and the authoritative server, plus the error taxonomy the
// dispatcher routes on. The default implementation speaks JSON over HTTP
// behind a circuit breaker; tests substitute the generated mock.
package transport

import (
	"context"

	"github.com/iudanet/casesync/pkg/api"
)

//go:generate moq -out transport_mock.go . Transport

// Transport delivers queued actions and reads to the server.
type Transport interface {
	// Send delivers one queued action. The server rejects a duplicate
	// idempotency key as already applied and returns the stored result.
	// Returns *ConflictError on a version mismatch, *ValidationError on
	// a permanent rejection, *TransientError otherwise.
	Send(ctx context.Context, req *api.PushRequest) (*api.PushResponse, error)

	// Fetch reads one resource by its "type/id" key
	Fetch(ctx context.Context, resourceKey string) (*api.FetchResponse, error)

	// Ping probes server reachability. Used by the connectivity monitor.
	Ping(ctx context.Context) error
}

//go:generate moq -out pushchannel_mock.go . PushChannel

// PushChannel delivers unsolicited authoritative mutations made by other
// clients. The engine merges them into the cache and emits remote_change
// events.
type PushChannel interface {
	// Events returns the stream of server-originated changes.
	// The channel is closed when the push channel shuts down.
	Events() <-chan api.ChangeEvent

	// Close tears the channel down
	Close() error
}
