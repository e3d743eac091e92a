// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package logout tears a session down in a fixed order and sends the user
// back to the login page exactly once.
package logout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock"
	"github.com/ManuGH/vegtrace/internal/crosstab"
	"github.com/ManuGH/vegtrace/internal/domain/session/history"
	"github.com/ManuGH/vegtrace/internal/domain/session/lifecycle"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/ManuGH/vegtrace/internal/notify"
	"github.com/ManuGH/vegtrace/internal/pipeline/fsm"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/ManuGH/vegtrace/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// Storage keys written during teardown.
const (
	KeyCurrent   = "current"
	KeyLastEnded = "last_ended"
)

const (
	DefaultRedirectDelay  = 5 * time.Second
	DefaultBackendTimeout = 10 * time.Second
	countdownStep         = time.Second
)

// State is the orchestrator's progress.
type State string

const (
	StateReady       State = "ready"
	StateTearingDown State = "tearing_down"
	StateConfirming  State = "confirming"
	StateNavigated   State = "navigated"
)

type trigger string

const (
	evBegin    trigger = "begin"
	evConfirm  trigger = "confirm"
	evNavigate trigger = "navigate"
)

// Session is the running session being torn down.
type Session interface {
	SessionID() string
	LogicalID() string
	End(ctx context.Context, reason model.Reason) error
	Stop()
	Snapshot() lifecycle.Snapshot
}

// ActivitySource reports what the sensor observed.
type ActivitySource interface {
	Counts() model.ActivityCounts
	Pulses() int
	Stop()
}

// Broadcaster reaches the other tabs.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg model.CrossTabMessage) error
	Deregister(ctx context.Context) error
	Close() error
}

// BackendNotifier informs the server.
type BackendNotifier interface {
	Logout(ctx context.Context, sessionID string, reason model.Reason) error
}

// Navigator leaves the application.
type Navigator interface {
	NavigateToLogin(ctx context.Context) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context) error

func (f NavigatorFunc) NavigateToLogin(ctx context.Context) error { return f(ctx) }

// Options wires the orchestrator. Only Session and Navigator are required.
type Options struct {
	Clock     clock.Clock
	Session   Session
	Navigator Navigator

	Sensor  ActivitySource
	Sync    Broadcaster
	Store   storage.Store
	History history.Store
	Backend BackendNotifier
	Sink    notify.Sink

	// Stoppers run with the other listeners, before anything is persisted.
	Stoppers []func()

	// RedirectDelay is the countdown before navigation; 0 navigates at once.
	RedirectDelay  time.Duration
	BackendTimeout time.Duration
	LoginURL       string
}

// Orchestrator performs logout at most once.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger
	fsm    *fsm.Machine[State, trigger]

	mu        sync.Mutex
	begun     bool
	reason    model.Reason
	summary   model.Summary
	baseCtx   context.Context
	deadline  time.Time
	countdown clock.Timer

	navOnce sync.Once
	done    chan struct{}
}

// New validates opts.
func New(opts Options) (*Orchestrator, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("logout: session is required")
	}
	if opts.Navigator == nil {
		return nil, fmt.Errorf("logout: navigator is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RedirectDelay < 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = DefaultBackendTimeout
	}
	o := &Orchestrator{
		opts: opts,
		logger: log.WithComponent("logout").With().
			Str(log.FieldSessionID, opts.Session.SessionID()).
			Logger(),
		done: make(chan struct{}),
	}
	machine, err := fsm.New(StateReady, []fsm.Transition[State, trigger]{
		{From: StateReady, Event: evBegin, To: StateTearingDown},
		{From: StateTearingDown, Event: evConfirm, To: StateConfirming},
		{From: StateConfirming, Event: evNavigate, To: StateNavigated},
	})
	if err != nil {
		return nil, err
	}
	o.fsm = machine
	return o, nil
}

// State returns the current step.
func (o *Orchestrator) State() State { return o.fsm.State() }

// Reason returns the reason of the logout in progress.
func (o *Orchestrator) Reason() model.Reason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

// Summary returns the summary persisted during teardown.
func (o *Orchestrator) Summary() model.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// Done is closed once the navigator has been called.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// PerformLogout tears the session down for reason and starts the redirect
// countdown. Only the first call has an effect; later calls return nil.
// Teardown failures are logged and do not stop the sequence.
func (o *Orchestrator) PerformLogout(ctx context.Context, reason model.Reason) error {
	o.mu.Lock()
	if o.begun {
		o.mu.Unlock()
		o.logger.Debug().Str(log.FieldReason, string(reason)).Msg("logout already in progress")
		return nil
	}
	o.begun = true
	o.reason = reason
	o.baseCtx = context.WithoutCancel(ctx)
	o.mu.Unlock()

	ctx, span := telemetry.Tracer("vegtrace.logout").Start(ctx, "vegtrace.logout")
	span.SetAttributes(telemetry.LogoutAttributes(o.opts.Session.SessionID(), string(reason))...)
	defer span.End()

	metrics.RecordLogout(string(reason))
	o.logger.Info().Str(log.FieldEvent, "logout.begin").Str(log.FieldReason, string(reason)).Msg("logging out")

	if _, err := o.fsm.Fire(ctx, evBegin); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("logout: %w", err)
	}
	o.teardown(ctx, reason)

	if _, err := o.fsm.Fire(ctx, evConfirm); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("logout: %w", err)
	}
	o.confirm(ctx, reason)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (o *Orchestrator) stepFailed(step string, err error) {
	metrics.RecordLogoutStepError(step)
	o.logger.Warn().Err(err).Str(log.FieldEvent, "logout."+step+"_failed").Msg("logout step failed")
}

func (o *Orchestrator) teardown(ctx context.Context, reason model.Reason) {
	// 1. Terminate the state machine.
	if err := o.opts.Session.End(ctx, reason); err != nil {
		o.stepFailed("terminate", err)
	}

	// 2. Stop timers and listeners.
	o.opts.Session.Stop()
	if o.opts.Sensor != nil {
		o.opts.Sensor.Stop()
	}
	for _, stop := range o.opts.Stoppers {
		stop()
	}
	if o.opts.Sync != nil {
		if err := o.opts.Sync.Close(); err != nil {
			o.stepFailed("stop_sync", err)
		}
	}
	o.logger.Debug().Str(log.FieldEvent, "logout.listeners_stopped").Msg("timers and listeners stopped")

	// 3. Persist the final summary.
	summary := o.buildSummary(reason)
	o.mu.Lock()
	o.summary = summary
	o.mu.Unlock()
	o.persist(ctx, summary)

	// 4. Tell the other tabs, unless another tab told us.
	if o.opts.Sync != nil && reason != model.ReasonForced {
		err := o.opts.Sync.Broadcast(ctx, model.CrossTabMessage{
			Type:    model.MsgSessionEnded,
			Payload: map[string]string{model.PayloadReason: reason.WireReason()},
		})
		if err != nil {
			o.stepFailed("broadcast", err)
		}
	}

	// 5. Tell the backend.
	if o.opts.Backend != nil {
		bctx, cancel := context.WithTimeout(ctx, o.opts.BackendTimeout)
		err := o.opts.Backend.Logout(bctx, o.opts.Session.SessionID(), reason)
		cancel()
		if err != nil {
			o.stepFailed("backend", err)
		}
	}
}

func (o *Orchestrator) buildSummary(reason model.Reason) model.Summary {
	snap := o.opts.Session.Snapshot()
	now := o.opts.Clock.Now()
	s := model.Summary{
		SessionID:  o.opts.Session.SessionID(),
		LogicalID:  o.opts.Session.LogicalID(),
		StartedAt:  snap.Session.StartTime,
		EndedAt:    now,
		Reason:     reason,
		Extensions: snap.Session.Extensions,
		Pulses:     snap.Session.ActivityCount,
	}
	if !s.StartedAt.IsZero() && now.After(s.StartedAt) {
		s.Duration = now.Sub(s.StartedAt)
	}
	if o.opts.Sensor != nil {
		s.Pulses = o.opts.Sensor.Pulses()
		s.Activities = o.opts.Sensor.Counts()
	}
	return s
}

func (o *Orchestrator) persist(ctx context.Context, summary model.Summary) {
	if o.opts.History != nil {
		if err := o.opts.History.Append(ctx, summary); err != nil {
			o.stepFailed("history", err)
		}
	}
	if st := o.opts.Store; st != nil {
		data, err := json.Marshal(summary)
		if err == nil {
			err = st.Set(ctx, KeyLastEnded, data)
		}
		if err != nil {
			o.stepFailed("persist", err)
		}
		for _, key := range []string{KeyCurrent, crosstab.KeyHeartbeat} {
			if err := st.Delete(ctx, key); err != nil {
				o.stepFailed("clear", err)
			}
		}
	}
	if o.opts.Sync != nil {
		if err := o.opts.Sync.Deregister(ctx); err != nil && !errors.Is(err, storage.ErrClosed) {
			o.stepFailed("deregister", err)
		}
	}
}

// confirm presents the logout notice and arms the redirect countdown.
func (o *Orchestrator) confirm(ctx context.Context, reason model.Reason) {
	now := o.opts.Clock.Now()
	delay := o.opts.RedirectDelay
	o.notify(ctx, notify.Notice{
		Level:     notify.LevelInfo,
		Topic:     notify.TopicLogout,
		Title:     "Signed out",
		Message:   notify.ReasonText(reason),
		At:        now,
		Deadline:  now.Add(delay),
		Remaining: delay,
	})
	if delay <= 0 {
		o.navigate()
		return
	}

	o.mu.Lock()
	o.deadline = now.Add(delay)
	o.countdown = o.opts.Clock.AfterFunc(min(countdownStep, delay), o.tick)
	o.mu.Unlock()
}

func (o *Orchestrator) tick() {
	now := o.opts.Clock.Now()
	o.mu.Lock()
	remaining := o.deadline.Sub(now)
	if remaining <= 0 || o.countdown == nil {
		o.countdown = nil
		o.mu.Unlock()
		o.navigate()
		return
	}
	o.countdown = o.opts.Clock.AfterFunc(min(countdownStep, remaining), o.tick)
	ctx := o.baseCtx
	o.mu.Unlock()

	o.notify(ctx, notify.Notice{
		Level:     notify.LevelInfo,
		Topic:     notify.TopicRedirect,
		Title:     "Redirecting",
		Message:   fmt.Sprintf("Returning to %s.", o.loginTarget()),
		At:        now,
		Deadline:  now.Add(remaining),
		Remaining: remaining.Round(time.Second),
	})
}

func (o *Orchestrator) loginTarget() string {
	if o.opts.LoginURL == "" {
		return "the login page"
	}
	return o.opts.LoginURL
}

// NavigateNow skips the rest of the countdown. It does nothing before the
// confirmation step.
func (o *Orchestrator) NavigateNow() {
	if o.fsm.State() != StateConfirming {
		return
	}
	o.mu.Lock()
	if o.countdown != nil {
		o.countdown.Stop()
		o.countdown = nil
	}
	o.mu.Unlock()
	o.navigate()
}

func (o *Orchestrator) navigate() {
	o.navOnce.Do(func() {
		o.mu.Lock()
		ctx := o.baseCtx
		o.mu.Unlock()
		if _, err := o.fsm.Fire(ctx, evNavigate); err != nil {
			o.logger.Error().Err(err).Msg("navigation out of order")
		}
		if err := o.opts.Navigator.NavigateToLogin(ctx); err != nil {
			o.stepFailed("navigate", err)
		}
		o.logger.Info().Str(log.FieldEvent, "logout.navigated").Str("login_url", o.opts.LoginURL).Msg("returned to login")
		close(o.done)
	})
}

func (o *Orchestrator) notify(ctx context.Context, n notify.Notice) {
	if o.opts.Sink == nil {
		return
	}
	if err := o.opts.Sink.Notify(ctx, n); err != nil {
		o.logger.Debug().Err(err).Msg("notice delivery failed")
	}
}
