// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm is a small generic finite state machine used for ordered
// multi-step procedures such as logout.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned by Fire for an undefined state+event pair.
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the FSM.
// Guard may reject the transition; Action performs side-effects.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// Machine is a small, test-friendly FSM runner.
// It is intentionally strict: unknown transitions are errors.
type Machine[S ~string, E ~string] struct {
	mu      sync.Mutex
	state   S
	firing  bool
	index   map[string]Transition[S, E]
	history []S
}

func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx, history: []S{initial}}, nil
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event is defined for the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(m.state, event)]
	return ok && !m.firing
}

// History returns every state the machine has been in, oldest first.
func (m *Machine[S, E]) History() []S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]S(nil), m.history...)
}

// Fire attempts to apply an event. Only one Fire runs at a time; a
// concurrent Fire is rejected rather than queued.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	if m.firing {
		m.mu.Unlock()
		return from, fmt.Errorf("concurrent transition in progress: state=%s event=%s", from, event)
	}
	t, ok := m.index[key(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	m.firing = true
	to := t.To
	m.mu.Unlock()

	// Guard + Action are executed outside the critical section to avoid blocking the world.
	err := func() error {
		if t.Guard != nil {
			if err := t.Guard(ctx, from, event); err != nil {
				return err
			}
		}
		if t.Action != nil {
			return t.Action(ctx, from, to, event)
		}
		return nil
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.firing = false
	if err != nil {
		return from, err
	}
	m.state = to
	m.history = append(m.history, to)
	return to, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
