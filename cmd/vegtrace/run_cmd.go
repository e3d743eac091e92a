// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/vegtrace/internal/app"
	"github.com/ManuGH/vegtrace/internal/config"
	"github.com/ManuGH/vegtrace/internal/control"
	"github.com/ManuGH/vegtrace/internal/control/middleware"
	"github.com/ManuGH/vegtrace/internal/domain/session/activity"
	"github.com/ManuGH/vegtrace/internal/health"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/notify"
	"github.com/ManuGH/vegtrace/internal/telemetry"
	"github.com/ManuGH/vegtrace/internal/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	listen    string
	noControl bool
	label     string
	logicalID string
	input     string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a session tab and serve its control API",
		Long: `Start a session tab. The session ends on idle timeout, on reaching its
maximum length, on logout through the control API or when another tab logs
out. Interrupting the process suspends the session so the next run resumes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loader, cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			var input io.Reader
			switch opts.input {
			case "":
			case "-":
				input = cmd.InOrStdin()
			default:
				f, err := os.Open(opts.input)
				if err != nil {
					return exitError{code: 2, err: fmt.Errorf("open input: %w", err)}
				}
				defer f.Close()
				input = f
			}
			return runTab(ctx, loader, cfg, opts, input, cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.listen, "listen", "", "control API address (overrides control.listen)")
	f.BoolVar(&opts.noControl, "no-control", false, "do not serve the control API")
	f.StringVar(&opts.label, "label", "", "label shown in the session registry (defaults to hostname)")
	f.StringVar(&opts.logicalID, "join", "", "join an existing login by its logical ID")
	f.StringVar(&opts.input, "input", "", `read input events line by line from a file, or "-" for stdin`)
	return cmd
}

func runTab(ctx context.Context, loader *config.Loader, cfg config.AppConfig, opts *runOptions, input io.Reader, stderr io.Writer) error {
	logger := log.WithComponent("cli")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: version.Version,
		Environment:    os.Getenv("VEGTRACE_ENV"),
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	holder := config.NewConfigHolder(cfg, loader)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_failed").Msg("config hot reload unavailable")
	}
	defer holder.Stop()

	shell, err := app.New(ctx, cfg, app.Deps{
		Holder:    holder,
		Sinks:     []notify.Sink{notify.NewTerminalSink(stderr)},
		LogicalID: opts.logicalID,
		Label:     opts.label,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shell.Close(); err != nil {
			logger.Warn().Err(err).Msg("close session resources")
		}
	}()
	logger.Info().
		Str(log.FieldEvent, "session.open").
		Str(log.FieldSessionID, shell.SessionID()).
		Str(log.FieldLogicalID, shell.LogicalID()).
		Msg("session tab opened")

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	// The tab drives the process: once it navigated away everything stops.
	g.Go(func() error {
		defer cancel()
		return shell.Run(runCtx)
	})

	if !opts.noControl {
		srv := control.New(controlOptions(cfg, opts, shell))
		g.Go(func() error { return srv.Run(runCtx) })
	}

	if input != nil {
		g.Go(func() error {
			feedInput(runCtx, shell, input)
			return nil
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-hup:
				logger.Info().Str(log.FieldEvent, "config.reload_signal").Msg("received SIGHUP, reloading config")
				if err := holder.Reload(runCtx); err != nil {
					logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func controlOptions(cfg config.AppConfig, opts *runOptions, shell *app.Shell) control.Options {
	listen := opts.listen
	if listen == "" {
		listen = cfg.Control.Listen
	}
	stack := middleware.StackConfig{
		EnableMetrics:      true,
		EnableLogging:      true,
		RateLimitPerMinute: cfg.Control.RateLimit,
	}
	if cfg.Telemetry.Enabled {
		stack.TracingService = cfg.Log.Service
	}
	ready := health.NewManager(version.Version)
	ready.Register(shell.HealthCheckers()...)
	co := control.Options{
		Listen:  listen,
		Tab:     shell,
		Stack:   stack,
		Version: version.Version,
		Health:  ready,
	}
	if cfg.CrossTab.Enabled {
		co.Directory = shell
	}
	return co
}

// feedInput reads one event per line: the event kind, optionally followed
// by the touch count or the motion magnitude. Blank lines and lines starting
// with # are skipped.
func feedInput(ctx context.Context, shell *app.Shell, r io.Reader) {
	logger := log.WithComponent("cli.input")
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		ev, ok, err := parseInputLine(sc.Text())
		if err != nil {
			logger.Warn().Err(err).Msg("ignoring input line")
			continue
		}
		if ok {
			shell.Observe(ev)
		}
	}
	if err := sc.Err(); err != nil {
		logger.Warn().Err(err).Msg("input stream failed")
	}
}

func parseInputLine(line string) (activity.RawEvent, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return activity.RawEvent{}, false, nil
	}
	kind, err := activity.ParseKind(fields[0])
	if err != nil {
		return activity.RawEvent{}, false, err
	}
	ev := activity.RawEvent{Kind: kind}
	if len(fields) > 1 {
		switch kind {
		case activity.KindTouchStart, activity.KindTouchMove, activity.KindTouchEnd:
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return activity.RawEvent{}, false, fmt.Errorf("touch count %q: %w", fields[1], err)
			}
			ev.Touches = n
		case activity.KindMotion:
			m, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return activity.RawEvent{}, false, fmt.Errorf("motion magnitude %q: %w", fields[1], err)
			}
			ev.Magnitude = m
		}
	}
	return ev, true, nil
}
