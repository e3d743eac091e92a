// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify turns session events into user-facing notices and delivers
// them to sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice topics.
const (
	TopicSession  = "session"
	TopicWarning  = "warning"
	TopicExpired  = "expired"
	TopicLogout   = "logout"
	TopicRedirect = "redirect"
)

// Notice is one message for the user.
type Notice struct {
	Level   Level     `json:"level"`
	Topic   string    `json:"topic"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
	// Deadline is when the announced countdown ends, if any.
	Deadline time.Time `json:"deadline,omitzero"`
	// Remaining is set on redirect countdown notices.
	Remaining time.Duration `json:"remaining,omitempty"`
}

// Sink delivers notices.
type Sink interface {
	Notify(ctx context.Context, n Notice) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notice) error

func (f SinkFunc) Notify(ctx context.Context, n Notice) error { return f(ctx, n) }

// Present maps a lifecycle event to a notice. Events the user need not see
// (activity) report false.
func Present(e model.LifecycleEvent) (Notice, bool) {
	n := Notice{At: e.At, Deadline: e.Deadline}
	switch e.Kind {
	case model.EventStarted:
		n.Level, n.Topic = LevelInfo, TopicSession
		n.Title = "Session started"
		n.Message = fmt.Sprintf("Signed in until %s.", clockTime(e.Deadline))
	case model.EventWarning:
		n.Level, n.Topic = LevelWarning, TopicWarning
		if e.Warning == model.WarningIdle {
			n.Title = "Are you still there?"
			n.Message = fmt.Sprintf("You will be signed out for inactivity in %s.", remaining(e.At, e.Deadline))
		} else {
			n.Title = "Session ending soon"
			n.Message = fmt.Sprintf("Your session ends in %s. Extend it to keep working.", remaining(e.At, e.Deadline))
		}
	case model.EventResumed:
		n.Level, n.Topic = LevelInfo, TopicSession
		n.Title = "Session continued"
		n.Message = "Welcome back."
	case model.EventExtended:
		n.Level, n.Topic = LevelInfo, TopicSession
		n.Title = "Session extended"
		n.Message = fmt.Sprintf("Your session now ends at %s.", clockTime(e.Deadline))
	case model.EventExpired:
		n.Level, n.Topic = LevelWarning, TopicExpired
		n.Title = "Session expired"
		n.Message = ReasonText(e.Reason)
	case model.EventEnded:
		n.Level, n.Topic = LevelInfo, TopicLogout
		n.Title = "Signed out"
		n.Message = ReasonText(e.Reason)
	default:
		return Notice{}, false
	}
	return n, true
}

// ReasonText explains why a session ended.
func ReasonText(r model.Reason) string {
	switch r {
	case model.ReasonUserInitiated:
		return "You signed out."
	case model.ReasonIdleTimeout:
		return "You were signed out after a period of inactivity."
	case model.ReasonSessionExpired:
		return "Your session reached its maximum length."
	case model.ReasonForced:
		return "You were signed out from another window."
	case model.ReasonError:
		return "You were signed out because of an error."
	default:
		return "Your session ended."
	}
}

func remaining(from, to time.Time) time.Duration {
	if to.IsZero() || !to.After(from) {
		return 0
	}
	return to.Sub(from).Round(time.Second)
}

func clockTime(t time.Time) string {
	if t.IsZero() {
		return "further notice"
	}
	return t.Format("15:04:05")
}

// Multi delivers to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notice; it is meant for tests and the control API.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

// Notices returns a copy of everything recorded.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the latest notice.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}
