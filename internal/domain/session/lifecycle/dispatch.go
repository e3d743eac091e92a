// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import "github.com/ManuGH/vegtrace/internal/domain/session/model"

// Dispatch resolves the transition for ev from state using the decision and
// transition tables. It never mutates anything.
func Dispatch(state model.SessionState, ev Event) (Transition, error) {
	decision, ok := DecisionFor(state, ev.Kind)
	if !ok {
		return Transition{}, &IllegalTransitionError{From: state, Event: ev.Kind, Reason: "undefined"}
	}
	if !decision.Allowed {
		return Transition{}, &IllegalTransitionError{From: state, Event: ev.Kind, Reason: decision.Reason}
	}
	tr, ok := TransitionFor(state, ev.Kind)
	if !ok {
		return Transition{}, &IllegalTransitionError{From: state, Event: ev.Kind, Reason: "missing_edge"}
	}
	if ev.Reason != model.ReasonNone {
		tr.Reason = ev.Reason
	}
	return tr, nil
}

// WarningFor maps a warning state to its warning kind.
func WarningFor(state model.SessionState) model.WarningKind {
	switch state {
	case model.StateWarningIdle:
		return model.WarningIdle
	case model.StateWarningSessionExpiring:
		return model.WarningSessionExpiring
	}
	return model.WarningNone
}
