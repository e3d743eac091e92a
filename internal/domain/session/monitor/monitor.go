// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package monitor drives the session state machine of one tab. All inputs
// are serialized on a single goroutine that also owns the check ticker.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock"
	"github.com/ManuGH/vegtrace/internal/domain/session/lifecycle"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/ManuGH/vegtrace/internal/pipeline/bus"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/rs/zerolog"
)

const (
	DefaultCheckInterval           = time.Second
	DefaultBackgroundCheckInterval = 5 * time.Second

	// publishTimeout bounds how long a slow bus subscriber can hold the loop.
	publishTimeout = time.Second
)

var (
	ErrStopped    = errors.New("monitor: stopped")
	ErrNotStarted = errors.New("monitor: not started")
)

// Observer receives every lifecycle event on the monitor goroutine. It must
// not call back into the Monitor.
type Observer func(model.LifecycleEvent)

// Options configures a Monitor.
type Options struct {
	Clock                   clock.Clock
	Timing                  model.Timing
	CheckInterval           time.Duration
	BackgroundCheckInterval time.Duration

	SessionID string
	LogicalID string

	// Bus receives every event on bus.TopicLifecycle when set.
	Bus bus.Bus
	// Store keeps the resumable state under StateKey when PersistState is set.
	Store        storage.Store
	PersistState bool

	Observers []Observer
}

// Monitor owns one lifecycle.Machine.
type Monitor struct {
	opts   Options
	logger zerolog.Logger

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// owned by the loop goroutine
	machine    *lifecycle.Machine
	ticker     clock.Ticker
	background bool
	ctx        context.Context

	mu      sync.Mutex
	started bool
	last    lifecycle.Snapshot
}

// New validates the options and returns an unstarted monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.BackgroundCheckInterval <= 0 {
		opts.BackgroundCheckInterval = DefaultBackgroundCheckInterval
	}
	if opts.SessionID == "" {
		opts.SessionID = model.NewSessionID()
	}
	if opts.LogicalID == "" {
		opts.LogicalID = model.NewLogicalID()
	}

	m := &Monitor{
		opts:   opts,
		logger: sessionLogger(opts.SessionID, opts.LogicalID),
		cmds:   make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	machine, err := lifecycle.NewMachine(opts.Timing, m.observeTransition)
	if err != nil {
		return nil, err
	}
	m.machine = machine
	return m, nil
}

func sessionLogger(sessionID, logicalID string) zerolog.Logger {
	return log.WithComponent("monitor").With().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldLogicalID, logicalID).
		Logger()
}

// SessionID returns the per-tab session identifier.
func (m *Monitor) SessionID() string { return m.opts.SessionID }

// LogicalID returns the identifier shared by the tabs of one login.
func (m *Monitor) LogicalID() string { return m.opts.LogicalID }

// Start opens the session, restoring persisted state when enabled, and
// starts the check loop. The loop runs until Stop or until ctx ends.
func (m *Monitor) Start(ctx context.Context) error {
	err := ErrStopped
	m.startOnce.Do(func() {
		err = m.start(ctx)
	})
	return err
}

func (m *Monitor) start(ctx context.Context) error {
	select {
	case <-m.quit:
		return ErrStopped
	default:
	}
	m.ctx = log.ContextWithSessionID(context.WithoutCancel(ctx), m.opts.SessionID)

	now := m.opts.Clock.Now()
	var (
		events []model.LifecycleEvent
		err    error
	)
	if restored, ok := m.restoreState(ctx, now); ok {
		events, err = m.machine.Resume(now, restored)
	} else {
		events, err = m.machine.Start(now, m.opts.SessionID, m.opts.LogicalID)
	}
	if err != nil {
		return fmt.Errorf("monitor: start session: %w", err)
	}

	m.ticker = m.opts.Clock.NewTicker(m.opts.CheckInterval)
	metrics.SessionCheckInterval.Set(m.opts.CheckInterval.Seconds())
	metrics.SessionsActive.Inc()

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	m.dispatch(events)
	m.logger.Info().
		Str(log.FieldEvent, "session.started").
		Time(log.FieldDeadline, m.machine.Session().Deadline()).
		Msg("session started")

	go m.loop(ctx)
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	defer func() {
		m.ticker.Stop()
		metrics.SessionsActive.Dec()
	}()

	for {
		select {
		case <-m.quit:
			return
		case <-ctx.Done():
			return
		case fn := <-m.cmds:
			fn()
		case <-m.ticker.C():
			m.evaluate()
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (m *Monitor) do(ctx context.Context, fn func()) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	ran := make(chan struct{})
	cmd := func() {
		defer close(ran)
		fn()
	}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

func (m *Monitor) evaluate() {
	events, err := m.machine.Evaluate(m.opts.Clock.Now())
	if err != nil {
		m.logger.Error().Err(err).Str(log.FieldEvent, "session.evaluate_failed").Msg("evaluation failed")
		return
	}
	m.dispatch(events)
}

// Check evaluates the deadlines at once instead of waiting for the next tick.
func (m *Monitor) Check(ctx context.Context) error {
	return m.do(ctx, m.evaluate)
}

// RecordActivity registers a local activity pulse.
func (m *Monitor) RecordActivity(source string) error {
	at := m.opts.Clock.Now()
	return m.do(context.Background(), func() {
		events, err := m.machine.RecordActivity(m.opts.Clock.Now(), at, source)
		m.handle(events, err)
	})
}

// RecordRemoteActivity registers activity reported by another tab of the same
// login. Timestamps in the future are clamped to now.
func (m *Monitor) RecordRemoteActivity(at time.Time) error {
	return m.do(context.Background(), func() {
		events, err := m.machine.RecordActivity(m.opts.Clock.Now(), at, "remote")
		m.handle(events, err)
	})
}

// Extend lengthens the session by the configured extension.
func (m *Monitor) Extend(ctx context.Context) error {
	var opErr error
	if err := m.do(ctx, func() {
		var events []model.LifecycleEvent
		events, opErr = m.machine.Extend(m.opts.Clock.Now())
		m.dispatch(events)
	}); err != nil {
		return err
	}
	if opErr == nil {
		m.logger.Info().
			Str(log.FieldEvent, "session.extended").
			Time(log.FieldDeadline, m.Snapshot().Deadline).
			Msg("session extended")
	}
	return opErr
}

// Continue dismisses the current warning without extending and counts as
// activity.
func (m *Monitor) Continue(ctx context.Context) error {
	var opErr error
	err := m.do(ctx, func() {
		now := m.opts.Clock.Now()
		var events []model.LifecycleEvent
		if m.machine.State() == model.StateActive {
			events, opErr = m.machine.RecordActivity(now, now, "continue")
		} else {
			events, opErr = m.machine.Acknowledge(now)
		}
		m.dispatch(events)
	})
	if err != nil {
		return err
	}
	return opErr
}

// End terminates the session for reason. It is idempotent. The check loop
// keeps running until Stop.
func (m *Monitor) End(ctx context.Context, reason model.Reason) error {
	var opErr error
	err := m.do(ctx, func() {
		var events []model.LifecycleEvent
		events, opErr = m.machine.Terminate(m.opts.Clock.Now(), reason)
		m.dispatch(events)
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetBackground switches between the foreground and background check
// intervals. Going to background persists the session state; coming back
// counts as activity and re-evaluates at once.
func (m *Monitor) SetBackground(hidden bool) error {
	return m.do(context.Background(), func() {
		if hidden == m.background {
			return
		}
		m.background = hidden

		interval := m.opts.CheckInterval
		if hidden {
			interval = m.opts.BackgroundCheckInterval
		}
		m.ticker.Stop()
		m.ticker = m.opts.Clock.NewTicker(interval)
		metrics.SessionCheckInterval.Set(interval.Seconds())

		m.logger.Debug().
			Str(log.FieldEvent, "session.check_interval").
			Dur(log.FieldInterval, interval).
			Bool("background", hidden).
			Msg("check interval changed")

		now := m.opts.Clock.Now()
		if hidden {
			m.persistState(now)
			return
		}
		events, err := m.machine.RecordActivity(now, now, "foreground")
		m.handle(events, err)
	})
}

// Background reports whether the slower check interval is active.
func (m *Monitor) Background() bool {
	var hidden bool
	if err := m.do(context.Background(), func() { hidden = m.background }); err != nil {
		return false
	}
	return hidden
}

// Snapshot returns the current view. After Stop it returns the last view.
func (m *Monitor) Snapshot() lifecycle.Snapshot {
	var snap lifecycle.Snapshot
	if err := m.do(context.Background(), func() {
		snap = m.machine.Snapshot(m.opts.Clock.Now())
	}); err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.last
	}
	return snap
}

// Subscribe returns a subscription to the lifecycle topic of the bus.
func (m *Monitor) Subscribe(ctx context.Context) (bus.Subscriber, error) {
	if m.opts.Bus == nil {
		return nil, fmt.Errorf("monitor: no bus configured")
	}
	return m.opts.Bus.Subscribe(ctx, bus.TopicLifecycle)
}

// Stop ends the loop and waits for it. A session that has not ended is
// persisted so another start can resume it. Stop is idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			_ = m.do(context.Background(), func() {
				now := m.opts.Clock.Now()
				m.record(m.machine.Snapshot(now))
				if !m.machine.Ended() && m.machine.State() != model.StateExpired {
					m.persistState(now)
				}
			})
		}
		close(m.quit)
		if started {
			<-m.done
		}
		m.logger.Debug().Str(log.FieldEvent, "session.monitor_stopped").Msg("monitor stopped")
	})
}

// Done is closed when the loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

func (m *Monitor) handle(events []model.LifecycleEvent, err error) {
	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldEvent, "session.input_rejected").Msg("input rejected")
	}
	m.dispatch(events)
}

// dispatch publishes events in order and refreshes the cached snapshot.
func (m *Monitor) dispatch(events []model.LifecycleEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		metrics.RecordLifecycleEvent(string(ev.Kind))
		if ev.Kind != model.EventActivity {
			m.logEvent(ev)
		}
		for _, obs := range m.opts.Observers {
			obs(ev)
		}
		if m.opts.Bus != nil {
			ctx, cancel := context.WithTimeout(m.ctx, publishTimeout)
			if err := m.opts.Bus.Publish(ctx, bus.TopicLifecycle, ev); err != nil {
				m.logger.Warn().Err(err).Str(log.FieldEvent, string(ev.Kind)).Msg("lifecycle event not delivered")
			}
			cancel()
		}
	}
	m.record(m.machine.Snapshot(m.opts.Clock.Now()))
}

func (m *Monitor) record(snap lifecycle.Snapshot) {
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
}

func (m *Monitor) logEvent(ev model.LifecycleEvent) {
	e := m.logger.Info()
	if ev.Kind == model.EventWarning || ev.Kind == model.EventExpired {
		e = m.logger.Warn()
	}
	e = e.Str(log.FieldEvent, "session."+string(ev.Kind)).
		Uint64("seq", ev.Seq).
		Str(log.FieldNewState, string(ev.State))
	if ev.Warning != model.WarningNone {
		e = e.Str(log.FieldWarning, string(ev.Warning))
	}
	if ev.Reason != model.ReasonNone {
		e = e.Str(log.FieldReason, string(ev.Reason))
	}
	if !ev.Deadline.IsZero() {
		e = e.Time(log.FieldDeadline, ev.Deadline)
	}
	e.Msg("lifecycle event")
}

func (m *Monitor) observeTransition(tr lifecycle.Transition, _ time.Time) {
	if tr.From == tr.To {
		return
	}
	metrics.RecordTransition(string(tr.From), string(tr.To))
	m.logger.Debug().
		Str(log.FieldOldState, string(tr.From)).
		Str(log.FieldNewState, string(tr.To)).
		Str(log.FieldEvent, tr.Event.String()).
		Msg("state transition")
}
