package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/casesync/internal/models"
)

func TestRedisBroadcaster_PublishReceive(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sender, err := NewRedisBroadcaster(ctx, mr.Addr(), "casesync:test", testLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sender.Close())
	}()

	receiver, err := NewRedisBroadcaster(ctx, mr.Addr(), "casesync:test", testLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, receiver.Close())
	}()

	event := models.Event{
		Type:      models.EventSynced,
		Origin:    "node-1",
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, sender.Publish(ctx, event))

	select {
	case got := <-receiver.Events():
		assert.Equal(t, models.EventSynced, got.Type)
		assert.Equal(t, "node-1", got.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered across processes")
	}
}

func TestRedisBroadcaster_ChannelIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sender, err := NewRedisBroadcaster(ctx, mr.Addr(), "casesync:a", testLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sender.Close())
	}()

	other, err := NewRedisBroadcaster(ctx, mr.Addr(), "casesync:b", testLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, other.Close())
	}()

	require.NoError(t, sender.Publish(ctx, models.Event{Type: models.EventSynced}))

	// Чужой канал ничего не получает
	select {
	case e := <-other.Events():
		t.Fatalf("unexpected event on foreign channel: %s", e.Type)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewRedisBroadcaster_BadAddr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisBroadcaster(ctx, "127.0.0.1:1", "casesync:test", testLogger())
	assert.Error(t, err)
}

func TestBusOverRedis_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	bcA, err := NewRedisBroadcaster(ctx, mr.Addr(), "casesync:events", testLogger())
	require.NoError(t, err)
	bcB, err := NewRedisBroadcaster(ctx, mr.Addr(), "casesync:events", testLogger())
	require.NoError(t, err)

	busA := New("node-a", time.Minute, testLogger())
	busB := New("node-b", time.Minute, testLogger())
	defer busA.Close()
	defer busB.Close()

	busA.AttachBroadcaster(bcA)
	busB.AttachBroadcaster(bcB)

	received := make(chan models.Event, 1)
	busB.Subscribe(func(e models.Event) { received <- e })

	busA.Publish(ctx, models.Event{
		Type:    models.EventConflictDetected,
		Payload: map[string]any{"entity": "contato/c-1"},
	})

	select {
	case got := <-received:
		assert.Equal(t, models.EventConflictDetected, got.Type)
		assert.Equal(t, "node-a", got.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("event did not cross the bridge")
	}
}
