// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"strings"

	"github.com/google/uuid"
)

const (
	sessionIDPrefix = "sess_"
	logicalIDPrefix = "login_"
)

// NewSessionID returns a fresh per-tab session identifier.
func NewSessionID() string {
	return sessionIDPrefix + uuid.NewString()
}

// NewLogicalID returns a fresh identifier for a logical (shared) login.
func NewLogicalID() string {
	return logicalIDPrefix + uuid.NewString()
}

// NewMessageID returns a fresh cross-tab message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// IsSessionID reports whether s looks like an ID minted by NewSessionID.
func IsSessionID(s string) bool {
	rest, ok := strings.CutPrefix(s, sessionIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
