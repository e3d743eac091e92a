// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package crosstab keeps the tabs of one origin informed about each other.
// Messages travel through the shared storage space and, optionally, a direct
// channel. Delivery is at-least-once; receivers de-duplicate by message ID.
package crosstab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/cache"
	"github.com/ManuGH/vegtrace/internal/clock"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/rs/zerolog"
)

// Storage keys owned by the synchronizer.
const (
	KeySync           = "sync"
	KeyActiveSessions = "active_sessions"
	KeyHeartbeat      = "heartbeat"
)

const (
	DefaultDedupeTTL         = 10 * time.Minute
	DefaultHeartbeatInterval = 5 * time.Minute
	DefaultMaxDuration       = 30 * time.Minute

	transportStorage = "storage"
)

var (
	ErrClosed          = errors.New("crosstab: closed")
	ErrAlreadyStarted  = errors.New("crosstab: already started")
	ErrBroadcastFailed = errors.New("crosstab: broadcast failed on every transport")
)

// Handler receives each distinct message from another tab exactly once.
// Handlers run one at a time on a synchronizer goroutine and must not call
// Close.
type Handler func(ctx context.Context, msg model.CrossTabMessage)

// Options configures a Synchronizer.
type Options struct {
	Clock clock.Clock
	// Store is the shared space; required.
	Store storage.Store
	// Channel is the optional direct path.
	Channel Channel
	// Seen remembers delivered message IDs. A memory cache is created when nil.
	Seen      cache.Cache
	DedupeTTL time.Duration

	SessionID string
	LogicalID string
	// MaxDuration bounds how long a registry entry survives without activity.
	MaxDuration time.Duration
}

// Synchronizer is one tab's endpoint of the cross-tab protocol.
type Synchronizer struct {
	opts    Options
	logger  zerolog.Logger
	ownSeen *cache.MemoryCache

	mu       sync.Mutex
	handlers []Handler
	started  bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	deliverMu sync.Mutex
}

// New validates opts. Nothing is received until Start.
func New(opts Options) (*Synchronizer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("crosstab: store is required")
	}
	if opts.SessionID == "" {
		return nil, fmt.Errorf("crosstab: session id is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = DefaultDedupeTTL
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	s := &Synchronizer{
		opts: opts,
		logger: log.WithComponent("crosstab").With().
			Str(log.FieldSessionID, opts.SessionID).
			Str(log.FieldLogicalID, opts.LogicalID).
			Logger(),
	}
	if s.opts.Seen == nil {
		s.ownSeen = cache.NewMemoryCache(time.Minute, cache.WithNow(opts.Clock.Now))
		s.opts.Seen = s.ownSeen
	}
	return s, nil
}

// SessionID returns the tab's own session ID.
func (s *Synchronizer) SessionID() string { return s.opts.SessionID }

// OnMessage registers h. Handlers added after Start see later messages only.
func (s *Synchronizer) OnMessage(h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// Start subscribes to the storage space and the direct channel. Both
// subscriptions are confirmed before Start returns.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.started:
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	changes, err := s.opts.Store.Watch(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("crosstab: watch storage: %w", err)
	}
	var direct <-chan []byte
	if s.opts.Channel != nil {
		direct, err = s.opts.Channel.Subscribe(ctx)
		if err != nil {
			cancel()
			return fmt.Errorf("crosstab: subscribe %s channel: %w", s.opts.Channel.Name(), err)
		}
	}
	s.started = true
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchStorage(ctx, changes)
	}()
	if direct != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchChannel(ctx, direct)
		}()
	}
	s.logger.Debug().Str(log.FieldEvent, "crosstab.started").Bool("direct", direct != nil).Msg("cross-tab sync started")
	return nil
}

func (s *Synchronizer) watchStorage(ctx context.Context, changes <-chan storage.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Key != KeySync || c.Deleted {
				continue
			}
			s.receive(ctx, c.Value, transportStorage)
		}
	}
}

func (s *Synchronizer) watchChannel(ctx context.Context, direct <-chan []byte) {
	transport := s.opts.Channel.Name()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-direct:
			if !ok {
				return
			}
			s.receive(ctx, data, transport)
		}
	}
}

func (s *Synchronizer) receive(ctx context.Context, data []byte, transport string) {
	var msg model.CrossTabMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
		metrics.RecordCrossTabReceived("", transport, "invalid")
		s.logger.Debug().Err(err).Str(log.FieldTransport, transport).Msg("skip malformed cross-tab message")
		return
	}
	msgType := string(msg.Type)
	if msg.SessionID == s.opts.SessionID {
		metrics.RecordCrossTabReceived(msgType, transport, "own")
		return
	}
	if !s.opts.Seen.SetIfAbsent(msg.ID, nil, s.opts.DedupeTTL) {
		metrics.RecordCrossTabReceived(msgType, transport, "duplicate")
		return
	}
	metrics.RecordCrossTabReceived(msgType, transport, "delivered")
	s.logger.Debug().
		Str(log.FieldEvent, "crosstab.received").
		Str(log.FieldMsgType, msgType).
		Str(log.FieldMessageID, msg.ID).
		Str(log.FieldTransport, transport).
		Str("from", msg.SessionID).
		Msg("cross-tab message received")

	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers...)
	s.mu.Unlock()

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	for _, h := range handlers {
		h(ctx, msg)
	}
}

// Broadcast stamps msg with the tab's identity, a fresh ID and the current
// time, then sends it on every transport. It fails only when no transport
// accepted the message. Broadcasting keeps working after Close.
func (s *Synchronizer) Broadcast(ctx context.Context, msg model.CrossTabMessage) error {
	msg.ID = model.NewMessageID()
	msg.SessionID = s.opts.SessionID
	if msg.LogicalID == "" {
		msg.LogicalID = s.opts.LogicalID
	}
	msg.Timestamp = s.opts.Clock.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("crosstab: encode message: %w", err)
	}
	// Echoes of our own message are never delivered back.
	s.opts.Seen.SetIfAbsent(msg.ID, nil, s.opts.DedupeTTL)

	msgType := string(msg.Type)
	var errs []error
	sent := 0
	if err := s.opts.Store.Set(ctx, KeySync, data); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
		metrics.RecordCrossTabSent(msgType, transportStorage, "error")
	} else {
		sent++
		metrics.RecordCrossTabSent(msgType, transportStorage, "ok")
	}
	if ch := s.opts.Channel; ch != nil {
		if err := ch.Publish(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("%s channel: %w", ch.Name(), err))
			metrics.RecordCrossTabSent(msgType, ch.Name(), "error")
		} else {
			sent++
			metrics.RecordCrossTabSent(msgType, ch.Name(), "ok")
		}
	}

	evt := s.logger.Debug()
	if len(errs) > 0 {
		evt = s.logger.Warn().Err(errors.Join(errs...))
	}
	evt.Str(log.FieldEvent, "crosstab.broadcast").
		Str(log.FieldMsgType, msgType).
		Str(log.FieldMessageID, msg.ID).
		Str(log.FieldReason, msg.Reason()).
		Int("transports", sent).
		Msg("cross-tab message broadcast")

	if sent == 0 {
		return fmt.Errorf("%w: %w", ErrBroadcastFailed, errors.Join(errs...))
	}
	return nil
}

// Close stops receiving and waits for the receive loops. Broadcast and the
// registry stay usable while the store is open; the store and the channel
// belong to the caller.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if s.ownSeen != nil {
		s.ownSeen.Stop()
	}
	s.logger.Debug().Str(log.FieldEvent, "crosstab.stopped").Msg("cross-tab sync stopped")
	return nil
}
