// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package logout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock/clocktest"
	"github.com/ManuGH/vegtrace/internal/crosstab"
	"github.com/ManuGH/vegtrace/internal/domain/session/history"
	"github.com/ManuGH/vegtrace/internal/domain/session/lifecycle"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/notify"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type steps struct {
	mu  sync.Mutex
	log []string
}

func (s *steps) add(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, step)
}

func (s *steps) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

type fakeSession struct {
	steps  *steps
	ended  []model.Reason
	endErr error
}

func (f *fakeSession) SessionID() string { return "sess_a" }
func (f *fakeSession) LogicalID() string { return "login_1" }
func (f *fakeSession) End(_ context.Context, r model.Reason) error {
	f.steps.add("end")
	f.ended = append(f.ended, r)
	return f.endErr
}
func (f *fakeSession) Stop() { f.steps.add("stop_monitor") }
func (f *fakeSession) Snapshot() lifecycle.Snapshot {
	return lifecycle.Snapshot{Session: model.Session{
		SessionID:     "sess_a",
		StartTime:     t0.Add(-10 * time.Minute),
		Extensions:    1,
		ActivityCount: 40,
	}}
}

type fakeSensor struct{ steps *steps }

func (f *fakeSensor) Counts() model.ActivityCounts { return model.ActivityCounts{Pointer: 3, Key: 2} }
func (f *fakeSensor) Pulses() int                  { return 5 }
func (f *fakeSensor) Stop()                        { f.steps.add("stop_sensor") }

type fakeSync struct {
	steps        *steps
	broadcasts   []model.CrossTabMessage
	broadcastErr error
}

func (f *fakeSync) Broadcast(_ context.Context, msg model.CrossTabMessage) error {
	f.steps.add("broadcast")
	f.broadcasts = append(f.broadcasts, msg)
	return f.broadcastErr
}
func (f *fakeSync) Deregister(context.Context) error { f.steps.add("deregister"); return nil }
func (f *fakeSync) Close() error                     { f.steps.add("stop_sync"); return nil }

type fakeBackend struct {
	steps   *steps
	reasons []model.Reason
	err     error
}

func (f *fakeBackend) Logout(_ context.Context, sessionID string, r model.Reason) error {
	f.steps.add("backend")
	f.reasons = append(f.reasons, r)
	return f.err
}

type recordingHistory struct {
	history.Store
	steps *steps
}

func (h recordingHistory) Append(ctx context.Context, s model.Summary) error {
	h.steps.add("history")
	return h.Store.Append(ctx, s)
}

type fixture struct {
	steps    *steps
	clock    *clocktest.Fake
	session  *fakeSession
	sync     *fakeSync
	backend  *fakeBackend
	store    storage.Store
	history  history.Store
	sink     *notify.Recorder
	navCount int
	navMu    sync.Mutex
	orch     *Orchestrator
}

func (f *fixture) navigations() int {
	f.navMu.Lock()
	defer f.navMu.Unlock()
	return f.navCount
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()
	st := &steps{}
	f := &fixture{
		steps:   st,
		clock:   clocktest.NewFake(t0),
		session: &fakeSession{steps: st},
		sync:    &fakeSync{steps: st},
		backend: &fakeBackend{steps: st},
		store:   storage.NewSpace().Open(),
		history: history.NewMemoryStore(),
		sink:    &notify.Recorder{},
	}
	t.Cleanup(func() { _ = f.store.Close() })

	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, KeyCurrent, []byte(`{"sessionId":"sess_a"}`)))
	require.NoError(t, f.store.Set(ctx, crosstab.KeyHeartbeat, []byte(`{}`)))

	orch, err := New(Options{
		Clock:   f.clock,
		Session: f.session,
		Navigator: NavigatorFunc(func(context.Context) error {
			st.add("navigate")
			f.navMu.Lock()
			f.navCount++
			f.navMu.Unlock()
			return nil
		}),
		Sensor:        &fakeSensor{steps: st},
		Sync:          f.sync,
		Store:         f.store,
		History:       recordingHistory{Store: f.history, steps: st},
		Backend:       f.backend,
		Sink:          f.sink,
		Stoppers:      []func(){func() { st.add("stop_heartbeat") }},
		RedirectDelay: delay,
		LoginURL:      "login.html",
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func TestNew_RequiresSessionAndNavigator(t *testing.T) {
	_, err := New(Options{Navigator: NavigatorFunc(func(context.Context) error { return nil })})
	require.Error(t, err)
	_, err = New(Options{Session: &fakeSession{steps: &steps{}}})
	require.Error(t, err)
}

func TestPerformLogout_RunsStepsInOrder(t *testing.T) {
	f := newFixture(t, 0)

	require.NoError(t, f.orch.PerformLogout(context.Background(), model.ReasonUserInitiated))

	assert.Equal(t, []string{
		"end",
		"stop_monitor", "stop_sensor", "stop_heartbeat", "stop_sync",
		"history", "deregister",
		"broadcast",
		"backend",
		"navigate",
	}, f.steps.all())
	assert.Equal(t, StateNavigated, f.orch.State())
	assert.Equal(t, []State{StateReady, StateTearingDown, StateConfirming, StateNavigated}, f.orch.fsm.History())

	select {
	case <-f.orch.Done():
	default:
		t.Fatal("Done not closed after navigation")
	}
}

func TestPerformLogout_IsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.orch.PerformLogout(ctx, model.ReasonIdleTimeout))
	require.NoError(t, f.orch.PerformLogout(ctx, model.ReasonUserInitiated))
	f.orch.NavigateNow()

	assert.Equal(t, 1, f.navigations())
	assert.Equal(t, []model.Reason{model.ReasonIdleTimeout}, f.session.ended)
	assert.Len(t, f.sync.broadcasts, 1)
	assert.Equal(t, model.ReasonIdleTimeout, f.orch.Reason())
}

func TestPerformLogout_BroadcastReasons(t *testing.T) {
	tests := []struct {
		reason   model.Reason
		wantWire string
		wantSent bool
	}{
		{model.ReasonUserInitiated, "logout", true},
		{model.ReasonIdleTimeout, "idle_timeout", true},
		{model.ReasonSessionExpired, "session_expired", true},
		{model.ReasonError, "error", true},
		{model.ReasonForced, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			f := newFixture(t, 0)
			require.NoError(t, f.orch.PerformLogout(context.Background(), tt.reason))
			if !tt.wantSent {
				assert.Empty(t, f.sync.broadcasts)
				return
			}
			require.Len(t, f.sync.broadcasts, 1)
			msg := f.sync.broadcasts[0]
			assert.Equal(t, model.MsgSessionEnded, msg.Type)
			assert.Equal(t, tt.wantWire, msg.Reason())
			assert.Equal(t, []model.Reason{tt.reason}, f.backend.reasons)
		})
	}
}

func TestPerformLogout_PersistsSummary(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.orch.PerformLogout(ctx, model.ReasonSessionExpired))

	want := model.Summary{
		SessionID:  "sess_a",
		LogicalID:  "login_1",
		StartedAt:  t0.Add(-10 * time.Minute),
		EndedAt:    t0,
		Duration:   10 * time.Minute,
		Reason:     model.ReasonSessionExpired,
		Extensions: 1,
		Pulses:     5,
		Activities: model.ActivityCounts{Pointer: 3, Key: 2},
	}
	assert.Equal(t, want, f.orch.Summary())

	got, ok, err := f.history.Get(ctx, "sess_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Reason, got.Reason)
	assert.Equal(t, want.Pulses, got.Pulses)

	raw, ok, err := f.store.Get(ctx, KeyLastEnded)
	require.NoError(t, err)
	require.True(t, ok)
	var stored model.Summary
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "sess_a", stored.SessionID)

	for _, key := range []string{KeyCurrent, crosstab.KeyHeartbeat} {
		_, ok, err := f.store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "%s cleared", key)
	}
}

func TestPerformLogout_StepFailuresDoNotStopTeardown(t *testing.T) {
	f := newFixture(t, 0)
	f.session.endErr = errors.New("already stopped")
	f.sync.broadcastErr = errors.New("storage gone")
	f.backend.err = errors.New("backend down")

	require.NoError(t, f.orch.PerformLogout(context.Background(), model.ReasonUserInitiated))
	assert.Equal(t, 1, f.navigations())
	assert.Contains(t, f.steps.all(), "backend")
}

func TestPerformLogout_RedirectCountdown(t *testing.T) {
	f := newFixture(t, 3*time.Second)

	require.NoError(t, f.orch.PerformLogout(context.Background(), model.ReasonIdleTimeout))
	assert.Equal(t, StateConfirming, f.orch.State())
	assert.Zero(t, f.navigations())

	first, ok := f.sink.Last()
	require.True(t, ok)
	assert.Equal(t, notify.TopicLogout, first.Topic)
	assert.Equal(t, 3*time.Second, first.Remaining)

	f.clock.Advance(time.Second)
	last, _ := f.sink.Last()
	assert.Equal(t, notify.TopicRedirect, last.Topic)
	assert.Equal(t, 2*time.Second, last.Remaining)
	assert.Contains(t, last.Message, "login.html")
	assert.Zero(t, f.navigations())

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, f.navigations())
	assert.Equal(t, StateNavigated, f.orch.State())
	assert.Zero(t, f.clock.PendingTimers())

	var remaining []time.Duration
	for _, n := range f.sink.Notices() {
		remaining = append(remaining, n.Remaining)
	}
	assert.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second, time.Second}, remaining)
}

func TestNavigateNow_SkipsCountdown(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	f.orch.NavigateNow()
	assert.Zero(t, f.navigations(), "no navigation before logout")

	require.NoError(t, f.orch.PerformLogout(context.Background(), model.ReasonUserInitiated))
	f.orch.NavigateNow()
	assert.Equal(t, 1, f.navigations())
	assert.Zero(t, f.clock.PendingTimers())

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, f.navigations())
}
