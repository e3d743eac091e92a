// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState is 0 while closed, 1 while half-open and 2 while open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vegtrace_breaker_state",
		Help: "Circuit breaker position per guarded dependency (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_breaker_trips_total",
		Help: "Times a breaker opened, by cause",
	}, []string{"name", "reason"})
)

var breakerLevels = map[string]float64{"closed": 0, "half-open": 1, "open": 2}

// SetCircuitBreakerState publishes the position of breaker name.
func SetCircuitBreakerState(name, state string) {
	if v, ok := breakerLevels[state]; ok {
		BreakerState.WithLabelValues(name).Set(v)
	}
}

// RecordCircuitBreakerTrip counts a transition to open.
func RecordCircuitBreakerTrip(name, reason string) {
	CircuitBreakerTrips.WithLabelValues(name, reason).Inc()
}
