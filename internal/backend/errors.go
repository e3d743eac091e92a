// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"errors"
	"fmt"
)

// Error kinds carried by CallError.
var (
	ErrUnavailable = errors.New("backend unavailable")
	ErrTimeout     = errors.New("backend timeout")
	ErrServer      = errors.New("backend server error")
	ErrClient      = errors.New("backend rejected request")
	ErrBadResponse = errors.New("backend bad response")
)

// ErrDisabled is returned when no base URL is configured.
var ErrDisabled = errors.New("backend disabled")

// CallError describes a failed call after the last attempt.
type CallError struct {
	Endpoint string
	// Status is the HTTP status of the last response, 0 without one.
	Status   int
	Attempts int
	Kind     error
	Err      error

	retryable bool
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Endpoint, e.Kind)
	if e.Status > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether another attempt could succeed.
func (e *CallError) Retryable() bool { return e.retryable }

// remoteFault reports whether err says something about the backend's health:
// transport failures, timeouts, 5xx and 429. Rejected requests, application
// errors and caller cancellation do not.
func remoteFault(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.retryable
}
