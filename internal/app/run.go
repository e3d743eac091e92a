// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/vegtrace/internal/config"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/domain/session/monitor"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/logout"
	"github.com/ManuGH/vegtrace/internal/notify"
	"golang.org/x/sync/errgroup"
)

const (
	healthCheckTimeout = 5 * time.Second
	suspendTimeout     = 2 * time.Second
)

// remoteSource marks activity relayed from another tab; it is never
// broadcast again.
const remoteSource = "remote"

// Run starts the session and serves it until the logout redirect happened
// or ctx ends. Without a logout the session state is kept for resumption.
func (s *Shell) Run(ctx context.Context) error {
	sub, err := s.monitor.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	if s.sync != nil {
		if err := s.sync.Start(ctx); err != nil {
			return fmt.Errorf("app: start cross-tab sync: %w", err)
		}
	}
	// The monitor outlives ctx so that suspend can persist its state.
	if err := s.monitor.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	s.writeCurrent(ctx)
	s.startHeartbeat(ctx)
	if s.deps.Holder != nil {
		s.deps.Holder.OnReload(s.applyReload)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.backend != nil {
		g.Go(func() error {
			s.checkBackend(gctx)
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-s.logout.Done():
				return nil
			case msg, ok := <-sub.C():
				if !ok {
					return nil
				}
				ev, isEvent := msg.(model.LifecycleEvent)
				if isEvent && ev.SessionID == s.SessionID() {
					s.onLifecycle(gctx, ev)
				}
			case msg := <-s.remote:
				s.onCrossTab(gctx, msg)
			}
		}
	})
	err = g.Wait()

	select {
	case <-s.logout.Done():
	default:
		s.suspend()
	}
	return err
}

// Done is closed once the tab navigated to the login page.
func (s *Shell) Done() <-chan struct{} { return s.logout.Done() }

// suspend stops a session that did not log out; the monitor persists its
// state on Stop. The tab leaves the registry: a resuming tab registers
// under its own ID.
func (s *Shell) suspend() {
	s.stopHeartbeat()
	s.sensor.Stop()
	s.monitor.Stop()
	if s.sync != nil {
		ctx, cancel := context.WithTimeout(context.Background(), suspendTimeout)
		if err := s.sync.Deregister(ctx); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "crosstab.deregister_failed").Msg("could not leave session registry")
		}
		cancel()
		_ = s.sync.Close()
	}
	s.logger.Info().Str(log.FieldEvent, "session.suspended").Str(log.FieldSessionID, s.SessionID()).Msg("session suspended")
}

func (s *Shell) entry() model.SessionEntry {
	snap := s.monitor.Snapshot()
	return model.SessionEntry{
		SessionID:    s.SessionID(),
		LogicalID:    s.LogicalID(),
		StartedAt:    snap.Session.StartTime,
		LastActivity: snap.Session.LastActivity,
		Label:        s.label,
	}
}

func (s *Shell) writeCurrent(ctx context.Context) {
	data, err := json.Marshal(s.entry())
	if err == nil {
		err = s.store.Set(ctx, logout.KeyCurrent, data)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldKey, logout.KeyCurrent).Msg("could not record current session")
	}
}

func (s *Shell) startHeartbeat(ctx context.Context) {
	if s.sync == nil {
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.heartbeatStop = cancel
	s.heartbeatDone = done
	go func() {
		defer close(done)
		_ = s.sync.RunHeartbeat(hbCtx, s.cfg.Session.HeartbeatInterval, s.entry)
	}()
}

// stopHeartbeat cancels the heartbeat and waits for its last write.
func (s *Shell) stopHeartbeat() {
	if s.heartbeatStop == nil {
		return
	}
	s.heartbeatStop()
	<-s.heartbeatDone
}

func (s *Shell) checkBackend(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	err := s.backend.Health(ctx)
	switch {
	case err == nil:
		s.logger.Info().Str(log.FieldBaseURL, s.backend.BaseURL()).Msg("backend reachable")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Warn().Err(err).Str(log.FieldEvent, "backend.unreachable").Str(log.FieldBaseURL, s.backend.BaseURL()).Msg("backend health check failed")
	}
}

func (s *Shell) applyReload(old, updated config.AppConfig) {
	if old.CrossTab.ShareActivity != updated.CrossTab.ShareActivity {
		s.shareActivity.Store(updated.CrossTab.ShareActivity)
		s.logger.Info().Bool("share_activity", updated.CrossTab.ShareActivity).Msg("activity sharing changed")
	}
	if old.Session.Timing() != updated.Session.Timing() {
		s.logger.Info().Str(log.FieldEvent, "config.timing_deferred").Msg("new session timings apply to the next session")
	}
}

// forwardRemote hands messages off the synchronizer goroutine; handling
// them may close the synchronizer.
func (s *Shell) forwardRemote(ctx context.Context, msg model.CrossTabMessage) {
	select {
	case s.remote <- msg:
	case <-ctx.Done():
	}
}

func (s *Shell) onLifecycle(ctx context.Context, ev model.LifecycleEvent) {
	if n, ok := notify.Present(ev); ok {
		if err := s.sink.Notify(ctx, n); err != nil {
			s.logger.Debug().Err(err).Msg("notice delivery failed")
		}
	}
	switch ev.Kind {
	case model.EventActivity:
		if s.publisher != nil && s.shareActivity.Load() && ev.Source != remoteSource {
			s.publisher.Publish(ctx, ev.Source)
		}
	case model.EventExpired:
		reason := ev.Reason
		if reason == model.ReasonNone {
			reason = model.ReasonSessionExpired
		}
		s.performLogout(ctx, reason)
	}
}

func (s *Shell) onCrossTab(ctx context.Context, msg model.CrossTabMessage) {
	switch msg.Type {
	case model.MsgSessionEnded:
		if msg.Reason() != model.WireReasonLogout {
			return
		}
		s.logger.Info().Str(log.FieldEvent, "crosstab.logout").Str("from", msg.SessionID).Msg("another tab logged out")
		s.performLogout(ctx, model.ReasonForced)
	case model.MsgForceLogout:
		s.logger.Warn().Str(log.FieldEvent, "crosstab.force_logout").Str("from", msg.SessionID).Msg("forced logout received")
		s.performLogout(ctx, model.ReasonForced)
	case model.MsgActivityUpdate:
		if !s.shareActivity.Load() || msg.LogicalID == "" || msg.LogicalID != s.LogicalID() {
			return
		}
		if err := s.monitor.RecordRemoteActivity(msg.Timestamp); err != nil && !errors.Is(err, monitor.ErrStopped) {
			s.logger.Debug().Err(err).Msg("remote activity not recorded")
		}
	}
}

func (s *Shell) performLogout(ctx context.Context, reason model.Reason) {
	if err := s.logout.PerformLogout(context.WithoutCancel(ctx), reason); err != nil {
		s.logger.Error().Err(err).Str(log.FieldReason, string(reason)).Msg("logout failed")
	}
}

func (s *Shell) onPulse(source string) {
	if err := s.monitor.RecordActivity(source); err != nil && !errors.Is(err, monitor.ErrStopped) {
		s.logger.Debug().Err(err).Str(log.FieldSource, source).Msg("activity not recorded")
	}
}

func (s *Shell) onVisibility(hidden bool) {
	if err := s.monitor.SetBackground(hidden); err != nil && !errors.Is(err, monitor.ErrStopped) {
		s.logger.Debug().Err(err).Bool("hidden", hidden).Msg("visibility change not applied")
	}
}
