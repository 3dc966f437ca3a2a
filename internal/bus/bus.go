// Package bus implements the sync event bus: fan-out of engine events to
// in-process subscribers plus best-effort propagation to other processes
// of the same client through a Broadcaster. Events are ephemeral; only a
// short ring buffer of recent events is kept for late inspection.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/casesync/internal/models"
)

// DefaultStaleness is the cross-process staleness bound: remote events
// older than this are dropped on receipt so a backlogged channel cannot
// replay a storm of outdated notifications.
const DefaultStaleness = 5 * time.Second

const ringSize = 64

// Handler receives published events
type Handler func(models.Event)

//go:generate moq -out broadcaster_mock.go . Broadcaster

// Broadcaster is the cross-process bridge: events published locally are
// forwarded to it, and events received from it are re-delivered to local
// subscribers (subject to the staleness filter).
type Broadcaster interface {
	// Publish forwards a local event to other processes
	Publish(ctx context.Context, event models.Event) error

	// Events returns the stream of events from other processes.
	// The channel is closed when the broadcaster shuts down.
	Events() <-chan models.Event

	// Close tears the bridge down
	Close() error
}

// Bus is the in-process event bus
type Bus struct {
	logger      *slog.Logger
	subs        map[int]Handler
	broadcaster Broadcaster
	done        chan struct{}
	nodeID      string
	ring        []models.Event
	staleness   time.Duration
	nextSubID   int
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closed      bool
}

// New creates an event bus. nodeID identifies this process so its own
// broadcast echoes can be discarded.
func New(nodeID string, staleness time.Duration, logger *slog.Logger) *Bus {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}

	return &Bus{
		logger:    logger,
		nodeID:    nodeID,
		staleness: staleness,
		subs:      make(map[int]Handler),
		done:      make(chan struct{}),
	}
}

// Subscribe registers a handler and returns its unsubscribe function.
// The caller is responsible for invoking unsubscribe on teardown.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish stamps and delivers an event to all local subscribers, then
// forwards it to the broadcaster, if attached. Delivery is at-least-once
// while subscribed; a slow handler delays later events but never loses them.
func (b *Bus) Publish(ctx context.Context, event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Origin == "" {
		event.Origin = b.nodeID
	}

	b.deliver(event)

	b.mu.RLock()
	bc := b.broadcaster
	closed := b.closed
	b.mu.RUnlock()

	if bc != nil && !closed && event.Origin == b.nodeID {
		if err := bc.Publish(ctx, event); err != nil {
			// Cross-process delivery is best-effort
			b.logger.Debug("broadcast publish failed", "type", event.Type, "error", err)
		}
	}
}

func (b *Bus) deliver(event models.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.ring = append(b.ring, event)
	if len(b.ring) > ringSize {
		b.ring = b.ring[len(b.ring)-ringSize:]
	}
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// AttachBroadcaster connects the cross-process bridge and starts
// consuming remote events until the bus is closed.
func (b *Bus) AttachBroadcaster(bc Broadcaster) {
	b.mu.Lock()
	b.broadcaster = bc
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case event, ok := <-bc.Events():
				if !ok {
					return
				}
				b.receiveRemote(event)
			}
		}
	}()
}

// receiveRemote applies the staleness filter and re-delivers a remote
// event locally. Own echoes are dropped.
func (b *Bus) receiveRemote(event models.Event) {
	if event.Origin == b.nodeID {
		return
	}
	if time.Since(event.Timestamp) > b.staleness {
		b.logger.Debug("dropping stale remote event", "type", event.Type, "age", time.Since(event.Timestamp))
		return
	}

	b.deliver(event)
}

// Recent returns the ring buffer contents, oldest first.
func (b *Bus) Recent() []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]models.Event, len(b.ring))
	copy(result, b.ring)
	return result
}

// Close stops remote consumption and drops all subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	bc := b.broadcaster
	b.subs = make(map[int]Handler)
	b.mu.Unlock()

	close(b.done)
	if bc != nil {
		if err := bc.Close(); err != nil {
			b.logger.Debug("broadcaster close failed", "error", err)
		}
	}
	b.wg.Wait()
}
