// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import "github.com/ManuGH/vegtrace/internal/domain/session/model"

// Transition is a single allowed edge in the lifecycle state machine.
type Transition struct {
	From   model.SessionState
	To     model.SessionState
	Event  EventKind
	Reason model.Reason
}

// Decision records whether a transition is allowed and why it is forbidden.
type Decision struct {
	Allowed bool
	Reason  string
}

var transitionsTable = []Transition{
	// Activity keeps the machine where it is, except that it clears the idle warning.
	{From: model.StateActive, To: model.StateActive, Event: EvActivity},
	{From: model.StateWarningIdle, To: model.StateActive, Event: EvActivity},
	{From: model.StateWarningSessionExpiring, To: model.StateWarningSessionExpiring, Event: EvActivity},

	// Warnings
	{From: model.StateActive, To: model.StateWarningIdle, Event: EvIdleWarningDue},
	{From: model.StateActive, To: model.StateWarningSessionExpiring, Event: EvSessionWarningDue},
	{From: model.StateWarningIdle, To: model.StateWarningSessionExpiring, Event: EvSessionWarningDue},

	// User decisions
	{From: model.StateActive, To: model.StateActive, Event: EvExtend},
	{From: model.StateWarningIdle, To: model.StateActive, Event: EvExtend},
	{From: model.StateWarningSessionExpiring, To: model.StateActive, Event: EvExtend},
	{From: model.StateWarningIdle, To: model.StateActive, Event: EvAcknowledge},
	{From: model.StateWarningSessionExpiring, To: model.StateActive, Event: EvAcknowledge},

	// Expiry
	{From: model.StateActive, To: model.StateExpired, Event: EvIdleTimeout, Reason: model.ReasonIdleTimeout},
	{From: model.StateWarningIdle, To: model.StateExpired, Event: EvIdleTimeout, Reason: model.ReasonIdleTimeout},
	{From: model.StateWarningSessionExpiring, To: model.StateExpired, Event: EvIdleTimeout, Reason: model.ReasonIdleTimeout},
	{From: model.StateActive, To: model.StateExpired, Event: EvSessionTimeout, Reason: model.ReasonSessionExpired},
	{From: model.StateWarningIdle, To: model.StateExpired, Event: EvSessionTimeout, Reason: model.ReasonSessionExpired},
	{From: model.StateWarningSessionExpiring, To: model.StateExpired, Event: EvSessionTimeout, Reason: model.ReasonSessionExpired},

	// Logout path; the reason comes from the event.
	{From: model.StateActive, To: model.StateExpired, Event: EvTerminate},
	{From: model.StateWarningIdle, To: model.StateExpired, Event: EvTerminate},
	{From: model.StateWarningSessionExpiring, To: model.StateExpired, Event: EvTerminate},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from model.SessionState, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
