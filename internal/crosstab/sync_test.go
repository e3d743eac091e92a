// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package crosstab

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock/clocktest"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/pipeline/bus"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type inbox struct {
	mu   sync.Mutex
	msgs []model.CrossTabMessage
}

func (i *inbox) handle(_ context.Context, msg model.CrossTabMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
}

func (i *inbox) all() []model.CrossTabMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]model.CrossTabMessage(nil), i.msgs...)
}

func (i *inbox) len() int { return len(i.all()) }

type tab struct {
	sync  *Synchronizer
	store storage.Store
	inbox *inbox
}

func newTab(t *testing.T, space *storage.Space, ch Channel, clk *clocktest.Fake, sessionID string) *tab {
	t.Helper()
	store := storage.WithPrefix(space.Open(), "session_")
	s, err := New(Options{
		Clock:       clk,
		Store:       store,
		Channel:     ch,
		SessionID:   sessionID,
		LogicalID:   "login_1",
		MaxDuration: 30 * time.Minute,
	})
	require.NoError(t, err)
	in := &inbox{}
	s.OnMessage(in.handle)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = store.Close()
	})
	return &tab{sync: s, store: store, inbox: in}
}

func TestNew_RequiresStoreAndSession(t *testing.T) {
	_, err := New(Options{SessionID: "sess_a"})
	require.Error(t, err)

	_, err = New(Options{Store: storage.NewSpace().Open()})
	require.Error(t, err)
}

func TestBroadcast_DeliveredToOtherTabsOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clk := clocktest.NewFake(t0)
	space := storage.NewSpace()
	a := newTab(t, space, nil, clk, "sess_a")
	b := newTab(t, space, nil, clk, "sess_b")

	err := a.sync.Broadcast(context.Background(), model.CrossTabMessage{
		Type:    model.MsgSessionEnded,
		Payload: map[string]string{model.PayloadReason: model.WireReasonLogout},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.inbox.len() == 1 }, time.Second, 5*time.Millisecond)
	got := b.inbox.all()[0]
	assert.Equal(t, model.MsgSessionEnded, got.Type)
	assert.Equal(t, "sess_a", got.SessionID)
	assert.Equal(t, "login_1", got.LogicalID)
	assert.Equal(t, model.WireReasonLogout, got.Reason())
	assert.NotEmpty(t, got.ID)
	assert.True(t, t0.Equal(got.Timestamp))
	assert.Zero(t, a.inbox.len())

	require.NoError(t, a.sync.Close())
	require.NoError(t, b.sync.Close())
}

func TestBroadcast_BothTransportsDeliverOnce(t *testing.T) {
	clk := clocktest.NewFake(t0)
	space := storage.NewSpace()
	b := bus.NewMemoryBus()
	chA, chB := NewBusChannel(b, ""), NewBusChannel(b, "")
	t.Cleanup(func() { _ = chA.Close(); _ = chB.Close() })

	a := newTab(t, space, chA, clk, "sess_a")
	rx := newTab(t, space, chB, clk, "sess_b")

	for range 3 {
		require.NoError(t, a.sync.Broadcast(context.Background(), model.CrossTabMessage{Type: model.MsgForceLogout}))
	}

	require.Eventually(t, func() bool { return rx.inbox.len() >= 3 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return rx.inbox.len() > 3 }, 100*time.Millisecond, 10*time.Millisecond)

	ids := map[string]bool{}
	for _, m := range rx.inbox.all() {
		assert.False(t, ids[m.ID], "duplicate delivery of %s", m.ID)
		ids[m.ID] = true
	}
}

func TestReceive_IgnoresOwnSessionID(t *testing.T) {
	clk := clocktest.NewFake(t0)
	space := storage.NewSpace()
	a := newTab(t, space, nil, clk, "sess_a")
	twin := newTab(t, space, nil, clk, "sess_a")
	other := newTab(t, space, nil, clk, "sess_b")

	require.NoError(t, a.sync.Broadcast(context.Background(), model.CrossTabMessage{Type: model.MsgForceLogout}))

	require.Eventually(t, func() bool { return other.inbox.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, twin.inbox.len())
}

func TestReceive_SkipsMalformedPayload(t *testing.T) {
	clk := clocktest.NewFake(t0)
	space := storage.NewSpace()
	rx := newTab(t, space, nil, clk, "sess_b")
	writer := storage.WithPrefix(space.Open(), "session_")
	t.Cleanup(func() { _ = writer.Close() })

	require.NoError(t, writer.Set(context.Background(), KeySync, []byte("{not json")))
	valid, err := json.Marshal(model.CrossTabMessage{ID: "m1", Type: model.MsgForceLogout, SessionID: "sess_x"})
	require.NoError(t, err)
	require.NoError(t, writer.Set(context.Background(), KeySync, valid))

	require.Eventually(t, func() bool { return rx.inbox.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "m1", rx.inbox.all()[0].ID)
}

func TestBroadcast_FailsOnlyWhenEveryTransportFails(t *testing.T) {
	clk := clocktest.NewFake(t0)
	store := storage.NewSpace().Open()
	b := bus.NewMemoryBus()
	ch := NewBusChannel(b, "")
	t.Cleanup(func() { _ = ch.Close() })

	s, err := New(Options{Clock: clk, Store: store, Channel: ch, SessionID: "sess_a"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, store.Close())
	require.NoError(t, s.Broadcast(context.Background(), model.CrossTabMessage{Type: model.MsgForceLogout}))

	require.NoError(t, ch.Close())
	err = s.Broadcast(context.Background(), model.CrossTabMessage{Type: model.MsgForceLogout})
	require.ErrorIs(t, err, ErrBroadcastFailed)
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestSynchronizer_StartAndCloseLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := storage.NewSpace().Open()
	defer store.Close()
	s, err := New(Options{Store: store, SessionID: "sess_a"})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	require.NoError(t, s.Broadcast(context.Background(), model.CrossTabMessage{Type: model.MsgSessionEnded}))
}

// stuckStore never closes its watch channel.
type stuckStore struct {
	storage.Store
	changes chan storage.Change
}

func (s *stuckStore) Watch(context.Context) (<-chan storage.Change, error) {
	return s.changes, nil
}

func TestSynchronizer_CloseDoesNotWaitForWatchChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	inner := storage.NewSpace().Open()
	defer inner.Close()
	store := &stuckStore{Store: inner, changes: make(chan storage.Change)}
	s, err := New(Options{Clock: clocktest.NewFake(t0), Store: store, SessionID: "sess_a", LogicalID: "login_1"})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an open watch channel")
	}
}

func TestRedisChannel_DeliversAcrossHosts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clocktest.NewFake(t0)
	chA := NewRedisChannel(client, "")
	chB := NewRedisChannel(client, "")
	t.Cleanup(func() { _ = chA.Close(); _ = chB.Close() })

	// Separate spaces: only the redis channel connects the tabs.
	a := newTab(t, storage.NewSpace(), chA, clk, "sess_a")
	rx := newTab(t, storage.NewSpace(), chB, clk, "sess_b")

	require.NoError(t, a.sync.Broadcast(context.Background(), model.CrossTabMessage{
		Type:    model.MsgActivityUpdate,
		Payload: map[string]string{model.PayloadSource: "pointer"},
	}))

	require.Eventually(t, func() bool { return rx.inbox.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "pointer", rx.inbox.all()[0].Payload[model.PayloadSource])
	assert.Zero(t, a.inbox.len())
}

func TestRedisChannel_ClosedRejectsUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ch := NewRedisChannel(client, "custom")
	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.Publish(context.Background(), []byte("x")), ErrClosed)
	_, err := ch.Subscribe(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestActivityPublisher_RateLimited(t *testing.T) {
	clk := clocktest.NewFake(t0)
	space := storage.NewSpace()
	a := newTab(t, space, nil, clk, "sess_a")
	rx := newTab(t, space, nil, clk, "sess_b")

	pub := NewActivityPublisher(a.sync, 5*time.Second)
	ctx := context.Background()

	assert.True(t, pub.Publish(ctx, "pointer"))
	assert.False(t, pub.Publish(ctx, "key"))
	clk.Advance(4 * time.Second)
	assert.False(t, pub.Publish(ctx, "key"))
	clk.Advance(time.Second)
	assert.True(t, pub.Publish(ctx, "scroll"))

	require.Eventually(t, func() bool { return rx.inbox.len() == 2 }, time.Second, 5*time.Millisecond)
	for _, m := range rx.inbox.all() {
		assert.Equal(t, model.MsgActivityUpdate, m.Type)
	}
}
