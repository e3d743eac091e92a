// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// SessionState is the idle/session lifecycle state of one tab's session.
type SessionState string

const (
	StateActive                 SessionState = "ACTIVE"
	StateWarningIdle            SessionState = "WARNING_IDLE"
	StateWarningSessionExpiring SessionState = "WARNING_SESSION_EXPIRING"
	StateExpired                SessionState = "EXPIRED"
)

// IsTerminal returns true if the state is a final state.
func (s SessionState) IsTerminal() bool {
	return s == StateExpired
}

// IsWarning reports whether a warning is currently shown.
func (s SessionState) IsWarning() bool {
	return s == StateWarningIdle || s == StateWarningSessionExpiring
}

// WarningKind distinguishes the two countdowns.
type WarningKind string

const (
	WarningNone            WarningKind = ""
	WarningIdle            WarningKind = "idle"
	WarningSessionExpiring WarningKind = "session_expiring"
)

// Reason is why a session expired or ended.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonUserInitiated  Reason = "user_initiated"
	ReasonIdleTimeout    Reason = "idle_timeout"
	ReasonSessionExpired Reason = "session_expired"
	ReasonForced         Reason = "forced"
	ReasonError          Reason = "error"
)

// WireReasonLogout is the reason carried by SessionEnded messages for an
// explicit user logout. Receivers follow it with their own logout.
const WireReasonLogout = "logout"

// WireReason is the reason string used on the cross-tab wire.
func (r Reason) WireReason() string {
	if r == ReasonUserInitiated {
		return WireReasonLogout
	}
	return string(r)
}

// ParseReason maps a wire or config string back to a Reason.
func ParseReason(s string) (Reason, bool) {
	switch s {
	case WireReasonLogout, string(ReasonUserInitiated), "user":
		return ReasonUserInitiated, true
	case string(ReasonIdleTimeout):
		return ReasonIdleTimeout, true
	case string(ReasonSessionExpired):
		return ReasonSessionExpired, true
	case string(ReasonForced):
		return ReasonForced, true
	case string(ReasonError):
		return ReasonError, true
	}
	return ReasonNone, false
}

// Session is the authoritative per-tab session record.
type Session struct {
	SessionID       string        `json:"sessionId"`
	LogicalID       string        `json:"logicalId"`
	StartTime       time.Time     `json:"startTime"`
	LastActivity    time.Time     `json:"lastActivity"`
	MaxDuration     time.Duration `json:"maxDuration"`
	WarningLeadTime time.Duration `json:"warningLeadTime"`
	Extensions      int           `json:"extensions"`
	ActivityCount   int           `json:"activityCount"`
}

// Deadline is the absolute session expiry.
func (s Session) Deadline() time.Time {
	return s.StartTime.Add(s.MaxDuration)
}

// WarningAt is when the session-expiring warning becomes due.
func (s Session) WarningAt() time.Time {
	return s.Deadline().Add(-s.WarningLeadTime)
}

// IdleWindow tracks only time since the last activity.
type IdleWindow struct {
	IdleTimeout     time.Duration `json:"idleTimeout"`
	WarningLeadTime time.Duration `json:"warningLeadTime"`
}

// WarningAfter is the idle duration at which the idle warning becomes due.
func (w IdleWindow) WarningAfter() time.Duration {
	return w.IdleTimeout - w.WarningLeadTime
}

// Timing bundles the configured durations of one session.
type Timing struct {
	MaxDuration     time.Duration
	WarningLeadTime time.Duration
	IdleTimeout     time.Duration
	ExtendTime      time.Duration
}

// IdleWindow derives the idle window from the timing.
func (t Timing) IdleWindow() IdleWindow {
	return IdleWindow{IdleTimeout: t.IdleTimeout, WarningLeadTime: t.WarningLeadTime}
}

// Capabilities are device flags passed through configuration.
type Capabilities struct {
	Mobile          bool `json:"mobile" yaml:"mobile"`
	MotionDetection bool `json:"motionDetection" yaml:"motion_detection"`
	Visibility      bool `json:"visibility" yaml:"visibility"`
	Focus           bool `json:"focus" yaml:"focus"`
}
