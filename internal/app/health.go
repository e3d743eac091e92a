// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"errors"

	"github.com/ManuGH/vegtrace/internal/health"
	"github.com/ManuGH/vegtrace/internal/logout"
)

// HealthCheckers reports on the session, the shared space and, when
// configured, the backend. An unreachable backend only degrades the tab:
// the session keeps running locally.
func (s *Shell) HealthCheckers() []health.Checker {
	checks := []health.Checker{
		health.CheckerFunc("session", func(context.Context) health.CheckResult {
			snap := s.monitor.Snapshot()
			if snap.Ended {
				return health.CheckResult{Status: health.StatusUnhealthy, Message: "session ended: " + string(snap.Reason)}
			}
			return health.CheckResult{Status: health.StatusHealthy, Message: string(snap.State)}
		}),
		health.CheckerFunc("storage", func(ctx context.Context) health.CheckResult {
			_, _, err := s.store.Get(ctx, logout.KeyCurrent)
			return health.Failed(err, "shared space readable")
		}),
	}
	if s.backend != nil {
		checks = append(checks, health.CheckerFunc("backend", func(ctx context.Context) health.CheckResult {
			err := s.backend.Health(ctx)
			if err == nil {
				return health.CheckResult{Status: health.StatusHealthy, Message: s.backend.BaseURL()}
			}
			if errors.Is(err, context.Canceled) {
				return health.Failed(err, "")
			}
			return health.CheckResult{Status: health.StatusDegraded, Error: err.Error()}
		}))
	}
	return checks
}
