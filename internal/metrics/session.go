// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_session_transitions_total",
		Help: "Applied session state transitions by source and target state",
	}, []string{"from", "to"})

	SessionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_session_events_total",
		Help: "Emitted lifecycle events by kind",
	}, []string{"kind"})

	LogoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_logouts_total",
		Help: "Completed logouts by reason",
	}, []string{"reason"})

	LogoutStepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_logout_step_errors_total",
		Help: "Best-effort logout steps that failed",
	}, []string{"step"})

	ActivityPulsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_activity_pulses_total",
		Help: "Throttled activity pulses by edge (leading|trailing)",
	}, []string{"edge"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vegtrace_sessions_active",
		Help: "Sessions currently running in this process",
	})

	SessionCheckInterval = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vegtrace_session_check_interval_seconds",
		Help: "Current wall-clock check interval of the session monitor",
	})
)

// RecordTransition counts one state transition.
func RecordTransition(from, to string) {
	SessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordLifecycleEvent counts one emitted lifecycle event.
func RecordLifecycleEvent(kind string) {
	SessionEventsTotal.WithLabelValues(kind).Inc()
}

// RecordLogout counts one completed logout.
func RecordLogout(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	LogoutsTotal.WithLabelValues(reason).Inc()
}

// RecordLogoutStepError counts a failed best-effort teardown step.
func RecordLogoutStepError(step string) {
	LogoutStepErrorsTotal.WithLabelValues(step).Inc()
}

// RecordPulse counts one activity pulse.
func RecordPulse(edge string) {
	ActivityPulsesTotal.WithLabelValues(edge).Inc()
}
