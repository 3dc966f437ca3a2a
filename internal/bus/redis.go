package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/iudanet/casesync/internal/models"
)

// RedisBroadcaster propagates events between processes of the same client
// over a Redis pub/sub channel. Delivery is best-effort: a process that is
// down misses events, and the bus's staleness filter drops backlog.
type RedisBroadcaster struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	logger  *slog.Logger
	events  chan models.Event
	channel string
	once    sync.Once
	wg      sync.WaitGroup
}

// NewRedisBroadcaster connects to Redis and subscribes to the shared
// channel. The connection is verified with a ping before use.
func NewRedisBroadcaster(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, channel)

	// Дожидаемся подтверждения подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b := &RedisBroadcaster{
		client:  client,
		pubsub:  pubsub,
		logger:  logger,
		channel: channel,
		events:  make(chan models.Event, 16),
	}

	b.wg.Add(1)
	go b.receiveLoop()

	return b, nil
}

// Publish forwards a local event to other processes
func (b *RedisBroadcaster) Publish(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Events returns the stream of events from other processes
func (b *RedisBroadcaster) Events() <-chan models.Event {
	return b.events
}

func (b *RedisBroadcaster) receiveLoop() {
	defer b.wg.Done()

	for msg := range b.pubsub.Channel() {
		var event models.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.Warn("dropping malformed broadcast event", "error", err)
			continue
		}
		b.events <- event
	}

	close(b.events)
}

// Close unsubscribes and releases the Redis connection
func (b *RedisBroadcaster) Close() error {
	var err error
	b.once.Do(func() {
		if cerr := b.pubsub.Close(); cerr != nil {
			err = cerr
		}
		b.wg.Wait()
		if cerr := b.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
