// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import "github.com/ManuGH/vegtrace/internal/domain/session/model"

const (
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenAlreadyInState    = "already_in_state"
	ForbiddenSuperseded        = "superseded_by_session_warning"
	ForbiddenNoWarning         = "no_warning_active"
)

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

// decisionTable defines an explicit decision for every State×Event combination.
var decisionTable = map[model.SessionState]map[EventKind]Decision{
	model.StateActive: {
		EvActivity:          allowed(),
		EvIdleWarningDue:    allowed(),
		EvSessionWarningDue: allowed(),
		EvIdleTimeout:       allowed(),
		EvSessionTimeout:    allowed(),
		EvExtend:            allowed(),
		EvAcknowledge:       forbid(ForbiddenNoWarning),
		EvTerminate:         allowed(),
	},
	model.StateWarningIdle: {
		EvActivity:          allowed(),
		EvIdleWarningDue:    forbid(ForbiddenAlreadyInState),
		EvSessionWarningDue: allowed(),
		EvIdleTimeout:       allowed(),
		EvSessionTimeout:    allowed(),
		EvExtend:            allowed(),
		EvAcknowledge:       allowed(),
		EvTerminate:         allowed(),
	},
	model.StateWarningSessionExpiring: {
		EvActivity:          allowed(),
		EvIdleWarningDue:    forbid(ForbiddenSuperseded),
		EvSessionWarningDue: forbid(ForbiddenAlreadyInState),
		EvIdleTimeout:       allowed(),
		EvSessionTimeout:    allowed(),
		EvExtend:            allowed(),
		EvAcknowledge:       allowed(),
		EvTerminate:         allowed(),
	},
	model.StateExpired: {
		EvActivity:          forbid(ForbiddenTerminalAbsorbing),
		EvIdleWarningDue:    forbid(ForbiddenTerminalAbsorbing),
		EvSessionWarningDue: forbid(ForbiddenTerminalAbsorbing),
		EvIdleTimeout:       forbid(ForbiddenTerminalAbsorbing),
		EvSessionTimeout:    forbid(ForbiddenTerminalAbsorbing),
		EvExtend:            forbid(ForbiddenTerminalAbsorbing),
		EvAcknowledge:       forbid(ForbiddenTerminalAbsorbing),
		EvTerminate:         forbid(ForbiddenTerminalAbsorbing),
	},
}

// DecisionFor returns the explicit decision for a state+event pair.
func DecisionFor(state model.SessionState, ev EventKind) (Decision, bool) {
	events, ok := decisionTable[state]
	if !ok {
		return Decision{}, false
	}
	d, ok := events[ev]
	return d, ok
}
