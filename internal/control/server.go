// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package control serves the local HTTP surface of a running tab: session
// inspection, synthetic input and the operator actions of the shared
// session space.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/vegtrace/internal/control/middleware"
	"github.com/ManuGH/vegtrace/internal/domain/session/activity"
	"github.com/ManuGH/vegtrace/internal/domain/session/lifecycle"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/domain/session/monitor"
	"github.com/ManuGH/vegtrace/internal/health"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	DefaultListen     = "127.0.0.1:8089"
	maxBodyBytes      = 4 << 10
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Tab is the running session the server controls.
type Tab interface {
	Snapshot() lifecycle.Snapshot
	Observe(ev activity.RawEvent)
	RecordActivity(source string) error
	Extend(ctx context.Context) error
	Continue(ctx context.Context) error
	Logout(ctx context.Context) error
	SetBackground(hidden bool) error
}

// Directory lists and addresses every tab sharing the storage space.
type Directory interface {
	ActiveSessions(ctx context.Context) ([]model.SessionEntry, error)
	ForceLogout(ctx context.Context) error
}

// Options configures a Server. Tab and Directory are both optional; routes
// without a backing implementation answer 503.
type Options struct {
	Listen    string
	Tab       Tab
	Directory Directory
	Stack     middleware.StackConfig
	Version   string

	// Health backs /readyz; without it the tab always reports ready.
	Health *health.Manager
}

// Server is the control HTTP server.
type Server struct {
	opts   Options
	router *chi.Mux
	logger zerolog.Logger
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	if opts.Health == nil {
		opts.Health = health.NewManager(opts.Version)
	}
	s := &Server{
		opts:   opts,
		router: middleware.NewRouter(opts.Stack),
		logger: log.WithComponent("control"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.opts.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Post("/input", s.handleInput)
		r.Post("/activity", s.handleActivity)
		r.Post("/extend", s.tabAction((Tab).Extend))
		r.Post("/continue", s.tabAction((Tab).Continue))
		r.Post("/logout", s.handleLogout)
		r.Post("/background", s.handleBackground)
	})
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessions)
		r.Post("/force-logout", s.handleForceLogout)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the configured address until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str(log.FieldEvent, "control.listening").Str("addr", ln.Addr().String()).Msg("control server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}
	return <-errCh
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind string, err error) {
	body := middleware.ErrorBody{Error: kind, RequestID: log.RequestIDFromContext(r.Context())}
	if err != nil {
		body.Detail = err.Error()
	}
	middleware.WriteJSON(w, code, body)
}

// statusFor maps session errors to HTTP codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyExpired):
		return http.StatusConflict, "session_expired"
	case errors.Is(err, monitor.ErrStopped), errors.Is(err, monitor.ErrNotStarted),
		errors.Is(err, lifecycle.ErrNotStarted):
		return http.StatusConflict, "session_inactive"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.opts.Version != "" {
		body["version"] = s.opts.Version
	}
	if s.opts.Tab != nil {
		snap := s.opts.Tab.Snapshot()
		body["state"] = snap.State
		body["ended"] = snap.Ended
	}
	middleware.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) tab(w http.ResponseWriter, r *http.Request) (Tab, bool) {
	if s.opts.Tab == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no_session", nil)
		return nil, false
	}
	return s.opts.Tab, true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.tab(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tab.Snapshot())
}

type inputRequest struct {
	Kind      string  `json:"kind"`
	Touches   int     `json:"touches,omitempty"`
	Magnitude float64 `json:"magnitude,omitempty"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.tab(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	kind, err := activity.ParseKind(req.Kind)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	tab.Observe(activity.RawEvent{Kind: kind, Touches: req.Touches, Magnitude: req.Magnitude})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.tab(w, r)
	if !ok {
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "control"
	}
	if err := tab.RecordActivity(source); err != nil {
		code, kind := statusFor(err)
		writeError(w, r, code, kind, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// tabAction serves the actions that answer with the resulting snapshot.
func (s *Server) tabAction(action func(Tab, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab, ok := s.tab(w, r)
		if !ok {
			return
		}
		if err := action(tab, r.Context()); err != nil {
			code, kind := statusFor(err)
			writeError(w, r, code, kind, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, tab.Snapshot())
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.tab(w, r)
	if !ok {
		return
	}
	if err := tab.Logout(r.Context()); err != nil {
		code, kind := statusFor(err)
		writeError(w, r, code, kind, err)
		return
	}
	s.logger.Info().Str(log.FieldEvent, "control.logout").Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).Msg("logout requested")
	w.WriteHeader(http.StatusAccepted)
}

type backgroundRequest struct {
	Hidden bool `json:"hidden"`
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.tab(w, r)
	if !ok {
		return
	}
	var req backgroundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := tab.SetBackground(req.Hidden); err != nil {
		code, kind := statusFor(err)
		writeError(w, r, code, kind, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Directory == nil {
		writeError(w, r, http.StatusServiceUnavailable, "crosstab_disabled", nil)
		return
	}
	entries, err := s.opts.Directory.ActiveSessions(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "storage_error", err)
		return
	}
	if entries == nil {
		entries = []model.SessionEntry{}
	}
	middleware.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	if s.opts.Directory == nil {
		writeError(w, r, http.StatusServiceUnavailable, "crosstab_disabled", nil)
		return
	}
	if err := s.opts.Directory.ForceLogout(r.Context()); err != nil {
		writeError(w, r, http.StatusBadGateway, "broadcast_failed", err)
		return
	}
	s.logger.Warn().Str(log.FieldEvent, "control.force_logout").Msg("force logout broadcast")
	w.WriteHeader(http.StatusAccepted)
}
