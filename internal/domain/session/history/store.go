// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history keeps the summaries of ended sessions.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// ErrInvalidSummary is returned for summaries without a session ID.
var ErrInvalidSummary = errors.New("history: summary has no session id")

// Store persists session summaries. Appending the same session ID again
// replaces the earlier summary.
type Store interface {
	Append(ctx context.Context, s model.Summary) error
	// Recent returns up to limit summaries, newest EndedAt first.
	Recent(ctx context.Context, limit int) ([]model.Summary, error)
	// Get returns the summary of one session.
	Get(ctx context.Context, sessionID string) (model.Summary, bool, error)
	Close() error
}

// Backends accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open creates a Store based on the backend configuration.
func Open(ctx context.Context, backend, path string) (Store, error) {
	if backend == "" {
		backend = BackendSQLite
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", backend)
	}
}
