// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package crosstab

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/ManuGH/vegtrace/internal/pipeline/bus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannelName is the pub/sub channel used by RedisChannel.
const DefaultChannelName = "session_sync"

// channelBuffer is the capacity of a subscription's delivery channel.
const channelBuffer = 64

// Channel is a direct broadcast path between tabs. Subscribers may observe
// their own publications; the Synchronizer filters them.
type Channel interface {
	// Name labels the transport in logs and metrics.
	Name() string
	Publish(ctx context.Context, data []byte) error
	// Subscribe delivers payloads until ctx ends, then closes the channel.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// BusChannel carries messages between tabs of one process over the
// in-process bus.
type BusChannel struct {
	bus   bus.Bus
	topic string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	subs   []bus.Subscriber
	wg     sync.WaitGroup
}

var _ Channel = (*BusChannel)(nil)

// NewBusChannel publishes on bus.TopicCrossTab, or on topic when non-empty.
func NewBusChannel(b bus.Bus, topic string) *BusChannel {
	if topic == "" {
		topic = bus.TopicCrossTab
	}
	return &BusChannel{bus: b, topic: topic, done: make(chan struct{})}
}

func (c *BusChannel) Name() string { return "memory" }

func (c *BusChannel) Publish(ctx context.Context, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	// Subscribers keep the slice, so hand each publish its own copy.
	return c.bus.Publish(ctx, c.topic, append([]byte(nil), data...))
}

func (c *BusChannel) Subscribe(ctx context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	sub, err := c.bus.Subscribe(ctx, c.topic)
	if err != nil {
		return nil, fmt.Errorf("crosstab bus channel: %w", err)
	}
	c.subs = append(c.subs, sub)

	out := make(chan []byte, channelBuffer)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				data, ok := msg.([]byte)
				if !ok {
					continue
				}
				select {
				case out <- data:
				case <-ctx.Done():
					return
				case <-c.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Close ends every subscription and waits for the forwarders.
func (c *BusChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	c.wg.Wait()
	return nil
}

// RedisChannel carries messages over Redis pub/sub so tabs on different
// hosts can take part.
type RedisChannel struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

var _ Channel = (*RedisChannel)(nil)

// NewRedisChannel uses client for pub/sub on channel (DefaultChannelName
// when empty). The caller keeps ownership of client.
func NewRedisChannel(client *redis.Client, channel string) *RedisChannel {
	if channel == "" {
		channel = DefaultChannelName
	}
	return &RedisChannel{
		client:  client,
		channel: channel,
		logger:  log.WithComponent("crosstab.redis").With().Str("channel", channel).Logger(),
	}
}

func (r *RedisChannel) Name() string { return "redis" }

func (r *RedisChannel) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RedisChannel) Publish(ctx context.Context, data []byte) error {
	if r.isClosed() {
		return ErrClosed
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		metrics.RecordStorageError("redis", "publish")
		return fmt.Errorf("crosstab redis channel: publish: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription before returning, so publications
// made afterwards are observed.
func (r *RedisChannel) Subscribe(ctx context.Context) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		metrics.RecordStorageError("redis", "subscribe")
		return nil, fmt.Errorf("crosstab redis channel: subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancels = append(r.cancels, cancel)
	out := make(chan []byte, channelBuffer)
	msgs := pubsub.Channel()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					r.logger.Debug().Msg("redis subscription closed")
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops the subscriptions. The client stays open.
func (r *RedisChannel) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancels := r.cancels
	r.cancels = nil
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	r.wg.Wait()
	return nil
}
