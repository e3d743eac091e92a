// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock/clocktest"
	"github.com/ManuGH/vegtrace/internal/domain/session/lifecycle"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/pipeline/bus"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

var scenarioTiming = model.Timing{
	MaxDuration:     10 * time.Second,
	WarningLeadTime: 3 * time.Second,
	IdleTimeout:     6 * time.Second,
	ExtendTime:      5 * time.Second,
}

type recorder struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (r *recorder) observe(ev model.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		if ev.Kind != model.EventActivity {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func (r *recorder) first(kind model.EventKind) (model.LifecycleEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return model.LifecycleEvent{}, false
}

func newTestMonitor(t *testing.T, mutate func(*Options)) (*Monitor, *clocktest.Fake, *recorder) {
	t.Helper()
	clk := clocktest.NewFake(t0)
	rec := &recorder{}
	opts := Options{
		Clock:     clk,
		Timing:    scenarioTiming,
		Observers: []Observer{rec.observe},
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, clk, rec
}

func TestNew_RejectsInvalidTiming(t *testing.T) {
	_, err := New(Options{Timing: model.Timing{MaxDuration: time.Minute, IdleTimeout: time.Minute, WarningLeadTime: 2 * time.Minute}})
	require.ErrorIs(t, err, lifecycle.ErrInvalidTiming)
}

func TestMonitor_NotStarted(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	assert.ErrorIs(t, m.RecordActivity("click"), ErrNotStarted)
	assert.ErrorIs(t, m.Extend(context.Background()), ErrNotStarted)
}

func TestMonitor_IdleScenario(t *testing.T) {
	m, clk, rec := newTestMonitor(t, nil)
	require.NoError(t, m.Start(context.Background()))

	for range 6 {
		clk.Advance(time.Second)
		require.NoError(t, m.Check(context.Background()))
	}

	warning, ok := rec.first(model.EventWarning)
	require.True(t, ok)
	assert.Equal(t, model.WarningIdle, warning.Warning)
	assert.Equal(t, t0.Add(3*time.Second), warning.At)

	expired, ok := rec.first(model.EventExpired)
	require.True(t, ok)
	assert.Equal(t, model.ReasonIdleTimeout, expired.Reason)
	assert.Equal(t, t0.Add(6*time.Second), expired.At)

	assert.Equal(t, []model.EventKind{model.EventStarted, model.EventWarning, model.EventExpired}, rec.kinds())
	assert.Equal(t, model.StateExpired, m.Snapshot().State)
}

func TestMonitor_SessionScenario(t *testing.T) {
	m, clk, rec := newTestMonitor(t, nil)
	require.NoError(t, m.Start(context.Background()))

	for range 10 {
		clk.Advance(time.Second)
		require.NoError(t, m.RecordActivity("pointermove"))
	}

	warning, ok := rec.first(model.EventWarning)
	require.True(t, ok)
	assert.Equal(t, model.WarningSessionExpiring, warning.Warning)
	assert.Equal(t, t0.Add(7*time.Second), warning.At)

	expired, ok := rec.first(model.EventExpired)
	require.True(t, ok)
	assert.Equal(t, model.ReasonSessionExpired, expired.Reason)
	assert.Equal(t, t0.Add(10*time.Second), expired.At)
}

func TestMonitor_TickerDrivesEvaluation(t *testing.T) {
	m, clk, _ := newTestMonitor(t, nil)
	require.NoError(t, m.Start(context.Background()))

	clk.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		return m.Snapshot().State == model.StateWarningIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_ExtendFromSessionWarning(t *testing.T) {
	m, clk, rec := newTestMonitor(t, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	for range 7 {
		clk.Advance(time.Second)
		require.NoError(t, m.RecordActivity("keydown"))
	}
	require.Equal(t, model.StateWarningSessionExpiring, m.Snapshot().State)
	before := m.Snapshot().Deadline

	require.NoError(t, m.Extend(ctx))
	snap := m.Snapshot()
	assert.Equal(t, model.StateActive, snap.State)
	assert.Equal(t, before.Add(scenarioTiming.ExtendTime), snap.Deadline)
	assert.Equal(t, 1, snap.Session.Extensions)

	kinds := rec.kinds()
	assert.Equal(t, []model.EventKind{model.EventExtended, model.EventResumed}, kinds[len(kinds)-2:])
}

func TestMonitor_ContinueDismissesWarning(t *testing.T) {
	m, clk, rec := newTestMonitor(t, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	clk.Advance(4 * time.Second)
	require.NoError(t, m.Check(ctx))
	require.Equal(t, model.StateWarningIdle, m.Snapshot().State)

	require.NoError(t, m.Continue(ctx))
	assert.Equal(t, model.StateActive, m.Snapshot().State)
	_, ok := rec.first(model.EventResumed)
	assert.True(t, ok)

	// Continue without a warning only counts as activity.
	clk.Advance(time.Second)
	require.NoError(t, m.Continue(ctx))
	assert.Equal(t, t0.Add(5*time.Second), m.Snapshot().Session.LastActivity)
}

func TestMonitor_ExtendAfterExpiry(t *testing.T) {
	m, clk, _ := newTestMonitor(t, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	clk.Advance(6 * time.Second)
	assert.ErrorIs(t, m.Extend(ctx), lifecycle.ErrAlreadyExpired)
	assert.Equal(t, model.StateExpired, m.Snapshot().State)
}

func TestMonitor_EndPublishesOnBus(t *testing.T) {
	b := bus.NewMemoryBus()
	m, _, _ := newTestMonitor(t, func(o *Options) { o.Bus = b })
	ctx := context.Background()

	sub, err := m.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.End(ctx, model.ReasonUserInitiated))
	require.NoError(t, m.End(ctx, model.ReasonUserInitiated))

	var kinds []model.EventKind
	for range 3 {
		select {
		case msg := <-sub.C():
			ev, ok := msg.(model.LifecycleEvent)
			require.True(t, ok)
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for lifecycle event")
		}
	}
	assert.Equal(t, []model.EventKind{model.EventStarted, model.EventExpired, model.EventEnded}, kinds)

	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected extra event %v", msg)
	default:
	}

	snap := m.Snapshot()
	assert.True(t, snap.Ended)
	assert.Equal(t, model.ReasonUserInitiated, snap.Reason)
}

func TestMonitor_BackgroundSwapsTickerAndPersists(t *testing.T) {
	store := storage.NewSpace().Open()
	m, clk, _ := newTestMonitor(t, func(o *Options) {
		o.Store = store
		o.PersistState = true
	})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.SetBackground(true))
	assert.True(t, m.Background())
	assert.Equal(t, 1, clk.ActiveTickers())

	data, ok, err := store.Get(ctx, StateKey)
	require.NoError(t, err)
	require.True(t, ok)
	var st persistedState
	require.NoError(t, json.Unmarshal(data, &st))
	assert.True(t, t0.Equal(st.Start))
	assert.NotContains(t, string(data), m.SessionID(), "identifiers stay with the tab")

	// Background never pauses the countdown.
	clk.Advance(4 * time.Second)
	require.NoError(t, m.Check(ctx))
	assert.Equal(t, model.StateWarningIdle, m.Snapshot().State)

	// Foreground counts as activity.
	require.NoError(t, m.SetBackground(false))
	snap := m.Snapshot()
	assert.Equal(t, model.StateActive, snap.State)
	assert.Equal(t, t0.Add(4*time.Second), snap.Session.LastActivity)
	assert.Equal(t, 1, clk.ActiveTickers())
}

func TestMonitor_RestoresPersistedState(t *testing.T) {
	space := storage.NewSpace()
	ctx := context.Background()

	first, clk, _ := newTestMonitor(t, func(o *Options) {
		o.Store = space.Open()
		o.PersistState = true
	})
	require.NoError(t, first.Start(ctx))
	clk.Advance(2 * time.Second)
	require.NoError(t, first.RecordActivity("click"))
	first.Stop()

	second, err := New(Options{
		Clock:        clk,
		Timing:       scenarioTiming,
		SessionID:    "sess_second",
		LogicalID:    "login_second",
		Store:        space.Open(),
		PersistState: true,
	})
	require.NoError(t, err)
	defer second.Stop()
	require.NoError(t, second.Start(ctx))

	snap := second.Snapshot()
	assert.Equal(t, "sess_second", second.SessionID())
	assert.Equal(t, "login_second", second.LogicalID())
	assert.Equal(t, "sess_second", snap.Session.SessionID)
	assert.Equal(t, "login_second", snap.Session.LogicalID)
	assert.Equal(t, t0, snap.Session.StartTime)
	assert.Equal(t, t0.Add(2*time.Second), snap.Session.LastActivity)

	_, ok, err := space.Open().Get(ctx, StateKey)
	require.NoError(t, err)
	assert.False(t, ok, "restored state is consumed")
}

func TestMonitor_DiscardsStaleState(t *testing.T) {
	space := storage.NewSpace()
	ctx := context.Background()
	stale, err := json.Marshal(persistedState{
		Start:       t0.Add(-time.Hour),
		MaxDuration: scenarioTiming.MaxDuration,
		Timestamp:   t0.Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, space.Open().Set(ctx, StateKey, stale))

	m, _, _ := newTestMonitor(t, func(o *Options) {
		o.Store = space.Open()
		o.PersistState = true
	})
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, t0, m.Snapshot().Session.StartTime)
	assert.Equal(t, model.StateActive, m.Snapshot().State)
}

func TestMonitor_StopIsIdempotentAndReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clocktest.NewFake(t0)
	m, err := New(Options{Clock: clk, Timing: scenarioTiming})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.RecordActivity("click"))

	m.Stop()
	m.Stop()
	<-m.Done()

	assert.ErrorIs(t, m.RecordActivity("click"), ErrStopped)
	assert.ErrorIs(t, m.Start(context.Background()), ErrStopped)
	assert.Equal(t, model.StateActive, m.Snapshot().State, "last snapshot stays readable")
	assert.Equal(t, 0, clk.ActiveTickers())
}

func TestMonitor_RemoteActivityClampsFuture(t *testing.T) {
	m, clk, _ := newTestMonitor(t, nil)
	require.NoError(t, m.Start(context.Background()))

	clk.Advance(2 * time.Second)
	require.NoError(t, m.RecordRemoteActivity(t0.Add(time.Hour)))
	assert.Equal(t, t0.Add(2*time.Second), m.Snapshot().Session.LastActivity)
}
