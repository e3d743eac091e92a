// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"fmt"

	"github.com/ManuGH/vegtrace/internal/clock"
	"github.com/ManuGH/vegtrace/internal/config"
	"github.com/ManuGH/vegtrace/internal/domain/session/history"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/pipeline/bus"
)

// Admin inspects the shared space without being a tab itself. It backs the
// operator commands of the CLI.
type Admin struct {
	shell *Shell
}

// OpenAdmin connects to the storage, history and cross-tab channel named by
// cfg. Nothing is registered and no session is started.
func OpenAdmin(ctx context.Context, cfg config.AppConfig, deps Deps) (a *Admin, err error) {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	s := &Shell{
		cfg:    cfg,
		deps:   deps,
		clock:  deps.Clock,
		logger: log.WithComponent("admin"),
		events: bus.NewMemoryBus(),
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if err := s.openRedis(ctx); err != nil {
		return nil, err
	}
	if err := s.openStorage(ctx); err != nil {
		return nil, err
	}
	hist, err := history.Open(ctx, cfg.History.Backend, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("app: open history: %w", err)
	}
	s.history = hist
	s.closers = append(s.closers, hist.Close)

	id := "admin-" + model.NewSessionID()
	if cfg.CrossTab.Enabled {
		if err := s.buildCrossTab(id, ""); err != nil {
			return nil, err
		}
	}
	return &Admin{shell: s}, nil
}

// ActiveSessions lists the registered tabs.
func (a *Admin) ActiveSessions(ctx context.Context) ([]model.SessionEntry, error) {
	if a.shell.sync == nil {
		return nil, ErrCrossTabDisabled
	}
	return a.shell.sync.ActiveSessions(ctx)
}

// ForceLogout asks every tab to log out.
func (a *Admin) ForceLogout(ctx context.Context) error {
	if a.shell.sync == nil {
		return ErrCrossTabDisabled
	}
	return a.shell.sync.Broadcast(ctx, model.CrossTabMessage{
		Type:    model.MsgForceLogout,
		Payload: map[string]string{model.PayloadSource: "admin"},
	})
}

// History returns up to limit summaries, newest first.
func (a *Admin) History(ctx context.Context, limit int) ([]model.Summary, error) {
	return a.shell.history.Recent(ctx, limit)
}

// Close releases every connection.
func (a *Admin) Close() error {
	return a.shell.Close()
}
