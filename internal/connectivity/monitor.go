// Package connectivity tracks whether the authoritative server is
// reachable. A periodic probe drives the online/offline state; callers
// can also force a state when they have better information (for example
// a platform network-change signal).
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/casesync/internal/bus"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/transport"
)

// DefaultProbeInterval is the default delay between reachability probes
const DefaultProbeInterval = 15 * time.Second

const probeTimeout = 5 * time.Second

// Listener is notified on every online/offline transition
type Listener func(online bool)

// Monitor probes server reachability and fans out transitions
type Monitor struct {
	transport transport.Transport
	bus       *bus.Bus
	logger    *slog.Logger
	interval  time.Duration

	mu        sync.Mutex
	online    bool
	started   bool
	listeners []Listener

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a monitor. The initial state is offline until the first
// probe (or SetOnline) says otherwise.
func New(tr transport.Transport, eventBus *bus.Bus, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		transport: tr,
		bus:       eventBus,
		logger:    logger,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// OnChange registers a transition listener. Register before Start.
func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Online reports the current state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline forces the state. The probe loop keeps running and may flip
// it back on the next probe, so this is a hint, not a latch.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online)
}

// Start probes immediately and then on every interval tick until ctx is
// cancelled or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := m.transport.Ping(probeCtx)
	m.transition(err == nil)
}

// transition applies a new state and, if it changed, notifies listeners
// and publishes the matching bus event.
func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "online", online)

	for _, l := range listeners {
		l(online)
	}

	eventType := models.EventOffline
	if online {
		eventType = models.EventOnline
	}
	m.bus.Publish(context.Background(), models.Event{Type: eventType})
}

// Close stops the probe loop
func (m *Monitor) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.wg.Wait()
}
