// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// EventKind tags a LifecycleEvent.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventActivity EventKind = "activity"
	EventWarning  EventKind = "warning"
	EventExpired  EventKind = "expired"
	EventResumed  EventKind = "resumed"
	EventExtended EventKind = "extended"
	EventEnded    EventKind = "ended"
)

// LifecycleEvent is emitted by the session state machine. Seq is strictly
// increasing per session, so events are totally ordered by emission.
type LifecycleEvent struct {
	Seq       uint64       `json:"seq"`
	Kind      EventKind    `json:"kind"`
	SessionID string       `json:"sessionId"`
	At        time.Time    `json:"at"`
	State     SessionState `json:"state"`
	Warning   WarningKind  `json:"warning,omitempty"`
	Reason    Reason       `json:"reason,omitempty"`
	// Deadline is the moment the pending countdown reaches zero: the idle or
	// session expiry for Warning, the new session expiry for Extended.
	Deadline time.Time `json:"deadline,omitzero"`
	Source   string    `json:"source,omitempty"`
}

// MessageType is the kind of a cross-tab message.
type MessageType string

const (
	MsgSessionEnded   MessageType = "session_ended"
	MsgForceLogout    MessageType = "force_logout"
	MsgActivityUpdate MessageType = "activity_update"
)

// Payload keys used by cross-tab messages.
const (
	PayloadReason = "reason"
	PayloadSource = "source"
)

// CrossTabMessage is broadcast to every tab sharing the storage space.
type CrossTabMessage struct {
	ID        string            `json:"id"`
	Type      MessageType       `json:"type"`
	SessionID string            `json:"sessionId"`
	LogicalID string            `json:"logicalId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Reason returns the payload reason, if any.
func (m CrossTabMessage) Reason() string {
	if m.Payload == nil {
		return ""
	}
	return m.Payload[PayloadReason]
}

// SessionEntry is one tab's advisory presence record.
type SessionEntry struct {
	SessionID    string    `json:"sessionId"`
	LogicalID    string    `json:"logicalId,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Label        string    `json:"label,omitempty"`
}
