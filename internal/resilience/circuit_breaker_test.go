// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock/clocktest"
	"github.com/ManuGH/vegtrace/internal/metrics"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote down")

func fail(context.Context) error { return errRemote }
func ok(context.Context) error   { return nil }

func newTestBreaker(t *testing.T, opts ...Option) (*CircuitBreaker, *clocktest.Fake) {
	t.Helper()
	clk := clocktest.NewFake(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clk)}, opts...)
	return NewCircuitBreaker(t.Name(), 3, 10*time.Second, opts...), clk
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t)
	ctx := context.Background()

	for range 2 {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	}
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	m := &dto.Metric{}
	require.NoError(t, metrics.CircuitBreakerTrips.WithLabelValues(t.Name(), "threshold_exceeded").Write(m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(t)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, 0, cb.Failures())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clk := newTestBreaker(t)
	ctx := context.Background()
	for range 3 {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	clk.Advance(9 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clk.Advance(time.Second)
	// A concurrent caller is rejected while the probe is in flight.
	err := cb.Execute(ctx, func(context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(t)
	ctx := context.Background()
	for range 3 {
		_ = cb.Execute(ctx, fail)
	}
	clk.Advance(10 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestCircuitBreaker_FailureFilter(t *testing.T) {
	errClient := errors.New("bad request")
	cb, _ := newTestBreaker(t, WithFailureFilter(func(err error) bool {
		return !errors.Is(err, errClient)
	}))
	ctx := context.Background()

	for range 5 {
		_ = cb.Execute(ctx, func(context.Context) error { return errClient })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_CallerCancellationNotCounted(t *testing.T) {
	cb, _ := newTestBreaker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for range 5 {
		_ = cb.Execute(ctx, func(context.Context) error {
			cancel()
			return context.Canceled
		})
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), context.Canceled)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb, _ := newTestBreaker(t, WithPanicRecovery(true))

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, 1, cb.Failures())
}
