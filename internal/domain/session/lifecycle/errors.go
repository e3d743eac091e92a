// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

var (
	ErrAlreadyExpired    = errors.New("session already expired")
	ErrNotStarted        = errors.New("session not started")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrInvalidTiming     = errors.New("invalid session timing")
)

// IllegalTransitionError describes a rejected state+event pair.
type IllegalTransitionError struct {
	From   model.SessionState
	Event  EventKind
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s + %s (%s)", e.From, e.Event, e.Reason)
}

func (e *IllegalTransitionError) Unwrap() error {
	if e.From == model.StateExpired {
		return ErrAlreadyExpired
	}
	return ErrIllegalTransition
}
