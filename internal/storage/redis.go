// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string // Redis server address (host:port)
	Password  string // Redis password (optional)
	DB        int    // Redis database number
	Namespace string // key and channel namespace (default "vegtrace")
}

// redisChange is published on the namespace change channel after each write.
type redisChange struct {
	Writer  string `json:"writer"`
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// RedisStore shares the key space through Redis so tabs on different hosts
// can take part. Change notification uses Redis pub/sub.
type RedisStore struct {
	client    *redis.Client
	ownClient bool
	namespace string
	writer    string
	logger    zerolog.Logger

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

var _ Store = (*RedisStore)(nil)

// OpenRedis dials Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis storage: connection failed: %w", err)
	}
	s := NewRedis(client, cfg.Namespace)
	s.ownClient = true
	s.logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis storage")
	return s, nil
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "vegtrace"
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		writer:    uuid.NewString(),
		logger:    log.WithComponent("storage.redis"),
	}
}

func (r *RedisStore) key(k string) string { return r.namespace + ":kv:" + k }
func (r *RedisStore) channel() string     { return r.namespace + ":changes" }

func (r *RedisStore) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	if r.isClosed() {
		return nil, false, ErrClosed
	}
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordStorageError("redis", "get")
		return nil, false, fmt.Errorf("redis storage: get %q: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) publish(ctx context.Context, pipe redis.Pipeliner, c redisChange) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis storage: encode change: %w", err)
	}
	pipe.Publish(ctx, r.channel(), payload)
	return nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(key), value, 0)
		return r.publish(ctx, pipe, redisChange{Writer: r.writer, Key: key, Value: value})
	})
	if err != nil {
		metrics.RecordStorageError("redis", "set")
		return fmt.Errorf("redis storage: set %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(key))
		return r.publish(ctx, pipe, redisChange{Writer: r.writer, Key: key, Deleted: true})
	})
	if err != nil {
		metrics.RecordStorageError("redis", "delete")
		return fmt.Errorf("redis storage: delete %q: %w", key, err)
	}
	return nil
}

// Watch subscribes to the change channel. The subscription is confirmed
// before Watch returns, so writes made afterwards are observed.
func (r *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	pubsub := r.client.Subscribe(ctx, r.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		metrics.RecordStorageError("redis", "subscribe")
		return nil, fmt.Errorf("redis storage: subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancels = append(r.cancels, cancel)
	out := make(chan Change, WatchBuffer)
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
					return
				}
				var c redisChange
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					metrics.RecordStorageError("redis", "decode")
					r.logger.Debug().Err(err).Msg("skip malformed storage change")
					continue
				}
				if c.Writer == r.writer {
					continue
				}
				select {
				case out <- Change{Key: c.Key, Value: c.Value, Deleted: c.Deleted}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops the watchers. The client is closed only if OpenRedis created it.
func (r *RedisStore) Close() error {
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
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
