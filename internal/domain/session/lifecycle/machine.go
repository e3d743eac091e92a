// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"fmt"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// Observer is told about every applied transition, including self-loops.
type Observer func(tr Transition, at time.Time)

// Machine is the idle/session state machine of one tab. It holds no timers:
// callers pass the current time and the machine recomputes every deadline
// from the stored timestamps. A Machine is not safe for concurrent use.
type Machine struct {
	timing   model.Timing
	observer Observer

	session model.Session
	state   model.SessionState
	reason  model.Reason
	started bool
	ended   bool
	seq     uint64

	// lastNow is the largest time observed; earlier readings are clamped to it.
	lastNow time.Time
	// ackDeadline is the session deadline whose warning the user acknowledged.
	ackDeadline time.Time
}

// NewMachine validates timing and returns an unstarted machine.
func NewMachine(timing model.Timing, observer Observer) (*Machine, error) {
	if err := ValidateTiming(timing); err != nil {
		return nil, err
	}
	return &Machine{timing: timing, observer: observer}, nil
}

// ValidateTiming checks the relations between the configured durations.
func ValidateTiming(t model.Timing) error {
	switch {
	case t.MaxDuration <= 0:
		return fmt.Errorf("%w: max duration must be positive", ErrInvalidTiming)
	case t.IdleTimeout <= 0:
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalidTiming)
	case t.WarningLeadTime < 0:
		return fmt.Errorf("%w: warning lead time cannot be negative", ErrInvalidTiming)
	case t.WarningLeadTime >= t.IdleTimeout:
		return fmt.Errorf("%w: warning lead time must be shorter than idle timeout", ErrInvalidTiming)
	case t.WarningLeadTime >= t.MaxDuration:
		return fmt.Errorf("%w: warning lead time must be shorter than max duration", ErrInvalidTiming)
	case t.ExtendTime < 0:
		return fmt.Errorf("%w: extend time cannot be negative", ErrInvalidTiming)
	}
	return nil
}

// Start opens a new session at now and emits Started.
func (m *Machine) Start(now time.Time, sessionID, logicalID string) ([]model.LifecycleEvent, error) {
	return m.Resume(now, model.Session{
		SessionID:    sessionID,
		LogicalID:    logicalID,
		StartTime:    now,
		LastActivity: now,
	})
}

// Resume opens a session from previously persisted timestamps. Deadlines
// that already passed are observed immediately, so the result may end in
// Expired.
func (m *Machine) Resume(now time.Time, s model.Session) ([]model.LifecycleEvent, error) {
	if m.started {
		return nil, ErrAlreadyStarted
	}
	if s.SessionID == "" {
		s.SessionID = model.NewSessionID()
	}
	if s.StartTime.IsZero() || s.StartTime.After(now) {
		s.StartTime = now
	}
	if s.LastActivity.IsZero() || s.LastActivity.Before(s.StartTime) {
		s.LastActivity = s.StartTime
	}
	if s.LastActivity.After(now) {
		s.LastActivity = now
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = m.timing.MaxDuration
	}
	s.WarningLeadTime = m.timing.WarningLeadTime

	m.session = s
	m.state = model.StateActive
	m.started = true
	m.lastNow = now

	events := []model.LifecycleEvent{m.emit(model.EventStarted, now, func(e *model.LifecycleEvent) {
		e.Deadline = m.session.Deadline()
	})}
	more, err := m.Evaluate(now)
	return append(events, more...), err
}

// Evaluate recomputes both countdowns at now and applies at most one
// transition. Session expiry wins over idle expiry when both are due.
func (m *Machine) Evaluate(now time.Time) ([]model.LifecycleEvent, error) {
	if !m.started {
		return nil, ErrNotStarted
	}
	if m.state == model.StateExpired {
		return nil, nil
	}
	now = m.clamp(now)
	elapsed := now.Sub(m.session.StartTime)
	idle := now.Sub(m.session.LastActivity)
	window := m.timing.IdleWindow()

	switch {
	case elapsed >= m.session.MaxDuration:
		return m.apply(Event{Kind: EvSessionTimeout}, now)
	case idle >= window.IdleTimeout:
		return m.apply(Event{Kind: EvIdleTimeout}, now)
	case elapsed >= m.session.MaxDuration-m.session.WarningLeadTime &&
		m.state != model.StateWarningSessionExpiring &&
		!m.ackDeadline.Equal(m.session.Deadline()):
		return m.apply(Event{Kind: EvSessionWarningDue}, now)
	case idle >= window.WarningAfter() && m.state == model.StateActive:
		return m.apply(Event{Kind: EvIdleWarningDue}, now)
	}
	return nil, nil
}

// RecordActivity registers a pulse observed at at (clamped to now). Overdue
// deadlines are evaluated first so a late pulse cannot revive an expired
// session. Pulses after expiry are ignored.
func (m *Machine) RecordActivity(now, at time.Time, source string) ([]model.LifecycleEvent, error) {
	events, err := m.Evaluate(now)
	if err != nil || m.state == model.StateExpired {
		return events, err
	}
	now = m.clamp(now)
	if at.IsZero() || at.After(now) {
		at = now
	}
	if at.Before(m.session.LastActivity) {
		return events, nil
	}
	m.session.LastActivity = at
	m.session.ActivityCount++
	more, err := m.apply(Event{Kind: EvActivity}, now, withSource(source))
	return append(events, more...), err
}

// Extend adds the configured extension to the session length and returns
// the machine to Active. It also counts as activity.
func (m *Machine) Extend(now time.Time) ([]model.LifecycleEvent, error) {
	events, err := m.Evaluate(now)
	if err != nil {
		return events, err
	}
	if m.state == model.StateExpired {
		return events, ErrAlreadyExpired
	}
	now = m.clamp(now)
	m.session.MaxDuration += m.timing.ExtendTime
	m.session.Extensions++
	m.session.LastActivity = now
	m.ackDeadline = time.Time{}
	more, err := m.apply(Event{Kind: EvExtend}, now)
	return append(events, more...), err
}

// Acknowledge dismisses the active warning without extending. For the
// session warning the current deadline stays in force and is not warned
// about again. It counts as activity. Without a warning it does nothing.
func (m *Machine) Acknowledge(now time.Time) ([]model.LifecycleEvent, error) {
	events, err := m.Evaluate(now)
	if err != nil {
		return events, err
	}
	switch m.state {
	case model.StateExpired:
		return events, ErrAlreadyExpired
	case model.StateActive:
		return events, nil
	case model.StateWarningSessionExpiring:
		m.ackDeadline = m.session.Deadline()
	}
	now = m.clamp(now)
	m.session.LastActivity = now
	more, err := m.apply(Event{Kind: EvAcknowledge}, now)
	return append(events, more...), err
}

// Terminate ends the session for reason. It emits Expired(reason) unless the
// machine already expired, then Ended(reason). Calling it again is a no-op.
func (m *Machine) Terminate(now time.Time, reason model.Reason) ([]model.LifecycleEvent, error) {
	if !m.started {
		return nil, ErrNotStarted
	}
	if m.ended {
		return nil, nil
	}
	now = m.clamp(now)
	var events []model.LifecycleEvent
	if m.state != model.StateExpired {
		more, err := m.apply(Event{Kind: EvTerminate, Reason: reason}, now)
		if err != nil {
			return nil, err
		}
		events = append(events, more...)
	}
	m.ended = true
	events = append(events, m.emit(model.EventEnded, now, func(e *model.LifecycleEvent) {
		e.Reason = reason
	}))
	return events, nil
}

type eventOpt func(*model.LifecycleEvent)

func withSource(source string) eventOpt {
	return func(e *model.LifecycleEvent) { e.Source = source }
}

func (m *Machine) apply(ev Event, now time.Time, opts ...eventOpt) ([]model.LifecycleEvent, error) {
	from := m.state
	tr, err := Dispatch(from, ev)
	if err != nil {
		return nil, err
	}
	m.state = tr.To
	if tr.To == model.StateExpired {
		m.reason = tr.Reason
	}
	if m.observer != nil {
		m.observer(tr, now)
	}

	var events []model.LifecycleEvent
	switch {
	case ev.Kind == EvActivity:
		events = append(events, m.emit(model.EventActivity, now, opts...))
	case ev.Kind == EvExtend:
		events = append(events, m.emit(model.EventExtended, now, func(e *model.LifecycleEvent) {
			e.Deadline = m.session.Deadline()
		}))
	case tr.To.IsWarning() && from != tr.To:
		events = append(events, m.emit(model.EventWarning, now, func(e *model.LifecycleEvent) {
			e.Warning = WarningFor(tr.To)
			e.Deadline = m.countdownDeadline(tr.To)
		}))
	case tr.To == model.StateExpired:
		events = append(events, m.emit(model.EventExpired, now, func(e *model.LifecycleEvent) {
			e.Reason = tr.Reason
		}))
	}
	if from.IsWarning() && tr.To == model.StateActive {
		events = append(events, m.emit(model.EventResumed, now, func(e *model.LifecycleEvent) {
			e.Warning = WarningFor(from)
		}))
	}
	return events, nil
}

func (m *Machine) countdownDeadline(state model.SessionState) time.Time {
	if state == model.StateWarningIdle {
		return m.session.LastActivity.Add(m.timing.IdleTimeout)
	}
	return m.session.Deadline()
}

func (m *Machine) emit(kind model.EventKind, at time.Time, opts ...eventOpt) model.LifecycleEvent {
	m.seq++
	e := model.LifecycleEvent{
		Seq:       m.seq,
		Kind:      kind,
		SessionID: m.session.SessionID,
		At:        at,
		State:     m.state,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (m *Machine) clamp(now time.Time) time.Time {
	if now.Before(m.lastNow) {
		return m.lastNow
	}
	m.lastNow = now
	return now
}
