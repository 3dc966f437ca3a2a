package connectivity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/casesync/internal/bus"
	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pingTransport управляет результатом Ping из теста
type pingTransport struct {
	mu sync.Mutex
	up bool
}

func (p *pingTransport) set(up bool) {
	p.mu.Lock()
	p.up = up
	p.mu.Unlock()
}

func (p *pingTransport) mock() *transport.TransportMock {
	return &transport.TransportMock{
		PingFunc: func(ctx context.Context) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.up {
				return nil
			}
			return &transport.TransientError{Err: fmt.Errorf("no route to host")}
		},
	}
}

func TestMonitor_StartsOffline(t *testing.T) {
	eventBus := bus.New("node-test", 0, testLogger())
	defer eventBus.Close()

	m := New(&transport.TransportMock{}, eventBus, time.Hour, testLogger())
	assert.False(t, m.Online())
}

func TestMonitor_ProbeFlipsOnline(t *testing.T) {
	eventBus := bus.New("node-test", 0, testLogger())
	defer eventBus.Close()

	server := &pingTransport{up: true}
	m := New(server.mock(), eventBus, 20*time.Millisecond, testLogger())
	defer m.Close()

	events := make(chan models.Event, 16)
	eventBus.Subscribe(func(e models.Event) { events <- e })

	transitions := make(chan bool, 16)
	m.OnChange(func(online bool) { transitions <- online })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	// Первая проба переводит в online
	select {
	case online := <-transitions:
		assert.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no online transition")
	}
	assert.True(t, m.Online())

	select {
	case e := <-events:
		assert.Equal(t, models.EventOnline, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no online event")
	}

	// Сервер пропадает - следующая проба переводит в offline
	server.set(false)

	select {
	case online := <-transitions:
		assert.False(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no offline transition")
	}
	assert.False(t, m.Online())
}

func TestMonitor_SetOnlineIsHint(t *testing.T) {
	eventBus := bus.New("node-test", 0, testLogger())
	defer eventBus.Close()

	m := New(&transport.TransportMock{}, eventBus, time.Hour, testLogger())

	transitions := make(chan bool, 4)
	m.OnChange(func(online bool) { transitions <- online })

	m.SetOnline(true)
	require.True(t, m.Online())

	select {
	case online := <-transitions:
		assert.True(t, online)
	default:
		t.Fatal("listener was not notified")
	}

	// Повторная установка того же состояния не дергает слушателей
	m.SetOnline(true)
	select {
	case <-transitions:
		t.Fatal("duplicate transition")
	default:
	}

	m.SetOnline(false)
	assert.False(t, m.Online())
}

func TestMonitor_CloseStopsProbing(t *testing.T) {
	eventBus := bus.New("node-test", 0, testLogger())
	defer eventBus.Close()

	var mu sync.Mutex
	calls := 0
	tr := &transport.TransportMock{
		PingFunc: func(ctx context.Context) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	}

	m := New(tr, eventBus, 10*time.Millisecond, testLogger())
	m.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	m.Close()

	mu.Lock()
	after := calls
	mu.Unlock()
	require.Positive(t, after)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, calls)
	mu.Unlock()
}
