// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"
	"testing"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable_Coverage(t *testing.T) {
	allowedEdges := map[model.SessionState]map[EventKind]struct{}{}
	for _, tr := range transitionsTable {
		if _, ok := allowedEdges[tr.From]; !ok {
			allowedEdges[tr.From] = map[EventKind]struct{}{}
		}
		if _, exists := allowedEdges[tr.From][tr.Event]; exists {
			t.Fatalf("duplicate transition: %s + %v", tr.From, tr.Event)
		}
		allowedEdges[tr.From][tr.Event] = struct{}{}
	}

	for _, state := range AllStates {
		for _, ev := range AllEvents {
			decision, ok := DecisionFor(state, ev)
			require.True(t, ok, "missing decision for %s + %v", state, ev)
			if _, ok := allowedEdges[state][ev]; ok {
				require.True(t, decision.Allowed, "allowed transition must be marked allowed for %s + %v", state, ev)
				continue
			}
			require.False(t, decision.Allowed, "decision allows %s + %v but no edge exists", state, ev)
			require.NotEmpty(t, decision.Reason)
		}
	}
}

func TestTransitionTable_ExpiredIsAbsorbing(t *testing.T) {
	for _, ev := range AllEvents {
		_, err := Dispatch(model.StateExpired, Event{Kind: ev})
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrAlreadyExpired), "event %v", ev)
	}
}

func TestTransitionTable_ExpiryReasons(t *testing.T) {
	for _, from := range []model.SessionState{model.StateActive, model.StateWarningIdle, model.StateWarningSessionExpiring} {
		tr, err := Dispatch(from, Event{Kind: EvIdleTimeout})
		require.NoError(t, err)
		require.Equal(t, model.ReasonIdleTimeout, tr.Reason)

		tr, err = Dispatch(from, Event{Kind: EvSessionTimeout})
		require.NoError(t, err)
		require.Equal(t, model.ReasonSessionExpired, tr.Reason)

		tr, err = Dispatch(from, Event{Kind: EvTerminate, Reason: model.ReasonForced})
		require.NoError(t, err)
		require.Equal(t, model.StateExpired, tr.To)
		require.Equal(t, model.ReasonForced, tr.Reason)
	}
}

func TestTransitionTable_ActivityDoesNotClearSessionWarning(t *testing.T) {
	tr, err := Dispatch(model.StateWarningSessionExpiring, Event{Kind: EvActivity})
	require.NoError(t, err)
	require.Equal(t, model.StateWarningSessionExpiring, tr.To)

	tr, err = Dispatch(model.StateWarningIdle, Event{Kind: EvActivity})
	require.NoError(t, err)
	require.Equal(t, model.StateActive, tr.To)
}

func TestDispatch_IllegalTransitionError(t *testing.T) {
	_, err := Dispatch(model.StateActive, Event{Kind: EvAcknowledge})
	require.ErrorIs(t, err, ErrIllegalTransition)
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	require.Equal(t, ForbiddenNoWarning, ite.Reason)

	_, err = Dispatch(model.SessionState("BOGUS"), Event{Kind: EvActivity})
	require.ErrorIs(t, err, ErrIllegalTransition)
}
