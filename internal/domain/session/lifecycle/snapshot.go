// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// Snapshot is a read-only view of the machine at a point in time.
type Snapshot struct {
	Session          model.Session      `json:"session"`
	State            model.SessionState `json:"state"`
	Warning          model.WarningKind  `json:"warning,omitempty"`
	Reason           model.Reason       `json:"reason,omitempty"`
	Ended            bool               `json:"ended"`
	At               time.Time          `json:"at"`
	Deadline         time.Time          `json:"deadline"`
	IdleDeadline     time.Time          `json:"idleDeadline"`
	SessionRemaining time.Duration      `json:"sessionRemaining"`
	IdleRemaining    time.Duration      `json:"idleRemaining"`
}

// Snapshot reports the current state without applying transitions. Remaining
// durations never go below zero.
func (m *Machine) Snapshot(now time.Time) Snapshot {
	if !m.started {
		return Snapshot{At: now}
	}
	now = m.clamp(now)
	deadline := m.session.Deadline()
	idleDeadline := m.session.LastActivity.Add(m.timing.IdleTimeout)
	return Snapshot{
		Session:          m.session,
		State:            m.state,
		Warning:          WarningFor(m.state),
		Reason:           m.reason,
		Ended:            m.ended,
		At:               now,
		Deadline:         deadline,
		IdleDeadline:     idleDeadline,
		SessionRemaining: nonNegative(deadline.Sub(now)),
		IdleRemaining:    nonNegative(idleDeadline.Sub(now)),
	}
}

// State returns the current state.
func (m *Machine) State() model.SessionState { return m.state }

// Session returns a copy of the session record.
func (m *Machine) Session() model.Session { return m.session }

// Started reports whether Start or Resume succeeded.
func (m *Machine) Started() bool { return m.started }

// Ended reports whether Terminate ran.
func (m *Machine) Ended() bool { return m.ended }

// Timing returns the configured durations.
func (m *Machine) Timing() model.Timing { return m.timing }

// NextCheck returns the earliest future instant at which Evaluate could
// change the state. Callers may use it to schedule wakeups; a zero time
// means nothing is pending.
func (m *Machine) NextCheck() time.Time {
	if !m.started || m.state == model.StateExpired {
		return time.Time{}
	}
	window := m.timing.IdleWindow()
	candidates := []time.Time{
		m.session.Deadline(),
		m.session.LastActivity.Add(window.IdleTimeout),
	}
	if m.state != model.StateWarningSessionExpiring && !m.ackDeadline.Equal(m.session.Deadline()) {
		candidates = append(candidates, m.session.WarningAt())
	}
	if m.state == model.StateActive {
		candidates = append(candidates, m.session.LastActivity.Add(window.WarningAfter()))
	}
	var next time.Time
	for _, c := range candidates {
		if !c.After(m.lastNow) {
			continue
		}
		if next.IsZero() || c.Before(next) {
			next = c
		}
	}
	return next
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
