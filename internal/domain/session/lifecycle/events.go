// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import "github.com/ManuGH/vegtrace/internal/domain/session/model"

// EventKind is an input to the idle/session state machine.
type EventKind int

const (
	EvUnknown EventKind = iota
	EvActivity
	EvIdleWarningDue
	EvSessionWarningDue
	EvIdleTimeout
	EvSessionTimeout
	EvExtend
	EvAcknowledge
	EvTerminate
)

var eventNames = map[EventKind]string{
	EvUnknown:           "unknown",
	EvActivity:          "activity",
	EvIdleWarningDue:    "idle_warning_due",
	EvSessionWarningDue: "session_warning_due",
	EvIdleTimeout:       "idle_timeout",
	EvSessionTimeout:    "session_timeout",
	EvExtend:            "extend",
	EvAcknowledge:       "acknowledge",
	EvTerminate:         "terminate",
}

func (e EventKind) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

// Event carries optional domain metadata for a transition.
type Event struct {
	Kind   EventKind
	Reason model.Reason
}

// AllEvents lists every input kind, for exhaustive table checks.
var AllEvents = []EventKind{
	EvActivity,
	EvIdleWarningDue,
	EvSessionWarningDue,
	EvIdleTimeout,
	EvSessionTimeout,
	EvExtend,
	EvAcknowledge,
	EvTerminate,
}

// AllStates lists every machine state.
var AllStates = []model.SessionState{
	model.StateActive,
	model.StateWarningIdle,
	model.StateWarningSessionExpiring,
	model.StateExpired,
}
