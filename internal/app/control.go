// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"errors"

	"github.com/ManuGH/vegtrace/internal/control"
	"github.com/ManuGH/vegtrace/internal/domain/session/activity"
	"github.com/ManuGH/vegtrace/internal/domain/session/lifecycle"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// ErrCrossTabDisabled is returned by the directory operations when the tab
// runs without cross-tab synchronization.
var ErrCrossTabDisabled = errors.New("app: cross-tab synchronization disabled")

var (
	_ control.Tab       = (*Shell)(nil)
	_ control.Directory = (*Shell)(nil)
)

func (s *Shell) Snapshot() lifecycle.Snapshot { return s.monitor.Snapshot() }

func (s *Shell) Observe(ev activity.RawEvent) { s.sensor.Observe(ev) }

func (s *Shell) RecordActivity(source string) error { return s.monitor.RecordActivity(source) }

func (s *Shell) Extend(ctx context.Context) error { return s.monitor.Extend(ctx) }

func (s *Shell) Continue(ctx context.Context) error { return s.monitor.Continue(ctx) }

func (s *Shell) SetBackground(hidden bool) error { return s.monitor.SetBackground(hidden) }

// Logout ends the session on behalf of the user. The teardown does not
// depend on the caller staying connected.
func (s *Shell) Logout(ctx context.Context) error {
	return s.logout.PerformLogout(context.WithoutCancel(ctx), model.ReasonUserInitiated)
}

// ActiveSessions lists the tabs registered in the shared space.
func (s *Shell) ActiveSessions(ctx context.Context) ([]model.SessionEntry, error) {
	if s.sync == nil {
		return nil, ErrCrossTabDisabled
	}
	return s.sync.ActiveSessions(ctx)
}

// ForceLogout tells every other tab to log out, then logs this one out.
func (s *Shell) ForceLogout(ctx context.Context) error {
	if s.sync == nil {
		return ErrCrossTabDisabled
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.sync.Broadcast(ctx, model.CrossTabMessage{Type: model.MsgForceLogout}); err != nil {
		return err
	}
	return s.logout.PerformLogout(ctx, model.ReasonForced)
}
