// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestMemoryBusPublishContextTimeoutIncrementsDropMetrics(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	// Fill subscriber channel to capacity so next publish blocks.
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", "msg"))
	}

	initialReasoned := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "timeout"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, "topic", "blocked")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	finalReasoned := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "timeout"))
	require.Greater(t, finalReasoned, initialReasoned)
}

func TestMemoryBusPublishRejectsNilContext(t *testing.T) {
	b := NewMemoryBus()
	err := b.Publish(nil, "topic", "msg") //nolint:staticcheck
	require.Error(t, err)
	require.Contains(t, err.Error(), "context is nil")
}

func TestMemoryBusFanOutInOrder(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	s1, err := b.Subscribe(ctx, TopicLifecycle)
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, TopicLifecycle)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, TopicCrossTab)
	require.NoError(t, err)
	defer s1.Close()
	defer s2.Close()
	defer other.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, TopicLifecycle, i))
	}
	for _, s := range []Subscriber{s1, s2} {
		for i := 0; i < 3; i++ {
			require.Equal(t, i, <-s.C())
		}
	}
	require.Len(t, other.C(), 0)
}

func TestMemoryBusCloseReleasesBlockedPublisher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	for i := 0; i < DefaultBuffer; i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", i))
	}

	done := make(chan error, 1)
	go func() { done <- b.Publish(context.Background(), "topic", "late") }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "Close is idempotent")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Close")
	}
	require.Equal(t, 0, b.Subscribers("topic"))

	n := 0
	for range sub.C() {
		n++
	}
	require.Equal(t, DefaultBuffer, n)
}
