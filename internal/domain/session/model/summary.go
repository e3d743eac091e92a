// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// ActivityCounts tallies observed input by category.
type ActivityCounts struct {
	Pointer     int `json:"pointer"`
	Key         int `json:"key"`
	Scroll      int `json:"scroll"`
	Touch       int `json:"touch"`
	Gesture     int `json:"gesture"`
	Orientation int `json:"orientation"`
	Motion      int `json:"motion"`
	Focus       int `json:"focus"`
}

// Total sums every category.
func (c ActivityCounts) Total() int {
	return c.Pointer + c.Key + c.Scroll + c.Touch + c.Gesture + c.Orientation + c.Motion + c.Focus
}

// Summary is persisted when a session ends.
type Summary struct {
	SessionID  string         `json:"sessionId"`
	LogicalID  string         `json:"logicalId,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	EndedAt    time.Time      `json:"endedAt"`
	Duration   time.Duration  `json:"duration"`
	Reason     Reason         `json:"reason"`
	Extensions int            `json:"extensions"`
	Pulses     int            `json:"pulses"`
	Activities ActivityCounts `json:"activities"`
}
