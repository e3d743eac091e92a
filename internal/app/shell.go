// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package app assembles one tab: the session monitor and its activity
// sensor, cross-tab synchronization, the backend client and the logout
// orchestrator, all built from an AppConfig.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/ManuGH/vegtrace/internal/backend"
	"github.com/ManuGH/vegtrace/internal/cache"
	"github.com/ManuGH/vegtrace/internal/clock"
	"github.com/ManuGH/vegtrace/internal/config"
	"github.com/ManuGH/vegtrace/internal/crosstab"
	"github.com/ManuGH/vegtrace/internal/domain/session/activity"
	"github.com/ManuGH/vegtrace/internal/domain/session/history"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/domain/session/monitor"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/logout"
	"github.com/ManuGH/vegtrace/internal/notify"
	"github.com/ManuGH/vegtrace/internal/pipeline/bus"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// redisNamespace prefixes every redis key and channel of the application.
const redisNamespace = "vegtrace"

// Deps carries what the configuration cannot express. Every field is
// optional.
type Deps struct {
	Clock clock.Clock
	// Space is shared by the tabs of one process when storage.backend is
	// memory.
	Space *storage.Space
	// Bus carries the memory cross-tab channel; tabs sharing it see each
	// other's direct messages.
	Bus bus.Bus
	// Navigator defaults to logging the login URL.
	Navigator logout.Navigator
	Sinks     []notify.Sink
	// HTTPClient overrides the backend transport.
	HTTPClient *http.Client
	// Holder delivers configuration reloads.
	Holder *config.ConfigHolder
	// LogicalID joins an existing login instead of discovering one.
	LogicalID string
	Label     string
}

// Shell is one running tab.
type Shell struct {
	cfg    config.AppConfig
	deps   Deps
	clock  clock.Clock
	logger zerolog.Logger

	redis   *redis.Client
	store   storage.Store
	events  *bus.MemoryBus
	channel crosstab.Channel

	monitor   *monitor.Monitor
	sensor    *activity.Sensor
	sync      *crosstab.Synchronizer
	publisher *crosstab.ActivityPublisher
	backend   *backend.Client
	history   history.Store
	sink      notify.Sink
	logout    *logout.Orchestrator

	shareActivity atomic.Bool
	remote        chan model.CrossTabMessage
	label         string

	heartbeatStop context.CancelFunc
	heartbeatDone chan struct{}

	closers []func() error
}

// New builds every component of a tab. Nothing runs until Run. On error
// the partially built shell is closed.
func New(ctx context.Context, cfg config.AppConfig, deps Deps) (s *Shell, err error) {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	s = &Shell{
		cfg:    cfg,
		deps:   deps,
		clock:  deps.Clock,
		logger: log.WithComponent("app"),
		events: bus.NewMemoryBus(),
		remote: make(chan model.CrossTabMessage, bus.DefaultBuffer),
		label:  deps.Label,
	}
	s.shareActivity.Store(cfg.CrossTab.ShareActivity)
	defer func() {
		if err != nil {
			_ = s.Close()
			s = nil
		}
	}()

	if err := s.openRedis(ctx); err != nil {
		return s, err
	}
	if err := s.openStorage(ctx); err != nil {
		return s, err
	}

	hist, err := history.Open(ctx, cfg.History.Backend, cfg.History.Path)
	if err != nil {
		return s, fmt.Errorf("app: open history: %w", err)
	}
	s.history = hist
	s.closers = append(s.closers, hist.Close)

	sinks := append([]notify.Sink{notify.NewLogSink()}, deps.Sinks...)
	s.sink = notify.Multi(sinks)

	sessionID := model.NewSessionID()
	logicalID := deps.LogicalID
	if logicalID == "" {
		logicalID = s.discoverLogicalID(ctx)
	}
	if s.label == "" {
		s.label, _ = os.Hostname()
	}

	mon, err := monitor.New(monitor.Options{
		Clock:                   s.clock,
		Timing:                  cfg.Session.Timing(),
		CheckInterval:           cfg.Session.CheckInterval,
		BackgroundCheckInterval: cfg.Session.BackgroundCheckInterval,
		SessionID:               sessionID,
		LogicalID:               logicalID,
		Bus:                     s.events,
		Store:                   s.store,
		PersistState:            cfg.Session.PersistState,
	})
	if err != nil {
		return s, fmt.Errorf("app: session monitor: %w", err)
	}
	s.monitor = mon

	s.sensor = activity.NewSensor(activity.Options{
		Clock:        s.clock,
		Throttle:     cfg.Session.ThrottleInterval,
		Capabilities: cfg.Capabilities,
		Pulse:        s.onPulse,
		Visibility:   s.onVisibility,
	})

	if cfg.CrossTab.Enabled {
		if err := s.buildCrossTab(sessionID, logicalID); err != nil {
			return s, err
		}
	}
	if cfg.Backend.Enabled() {
		if err := s.buildBackend(); err != nil {
			return s, err
		}
	}
	if err := s.buildLogout(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Shell) needsRedis() bool {
	c := s.cfg
	return c.Storage.Backend == config.StorageRedis ||
		(c.CrossTab.Enabled && c.CrossTab.Channel == config.ChannelRedis) ||
		(c.Backend.Enabled() && c.Backend.CacheBackend == config.CacheRedis)
}

// openRedis dials one client shared by storage, channel and cache.
func (s *Shell) openRedis(ctx context.Context) error {
	if !s.needsRedis() {
		return nil
	}
	rc := s.cfg.Storage.Redis
	client := redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("app: redis %s: %w", rc.Addr, err)
	}
	s.redis = client
	s.logger.Info().Str("addr", rc.Addr).Int("db", rc.DB).Msg("connected to redis")
	return nil
}

func (s *Shell) openStorage(ctx context.Context) error {
	var (
		inner storage.Store
		err   error
	)
	if s.cfg.Storage.Backend == config.StorageRedis {
		inner = storage.NewRedis(s.redis, redisNamespace)
	} else {
		inner, err = storage.Open(ctx, storage.Options{
			Backend: s.cfg.Storage.Backend,
			Path:    s.cfg.Storage.Path,
			Space:   s.deps.Space,
		})
		if err != nil {
			return fmt.Errorf("app: open storage: %w", err)
		}
	}
	s.store = storage.WithPrefix(inner, s.cfg.Storage.Prefix)
	s.closers = append(s.closers, s.store.Close)
	return nil
}

// discoverLogicalID joins the login of the tab that last wrote "current",
// unless that session already ended.
func (s *Shell) discoverLogicalID(ctx context.Context) string {
	data, ok, err := s.store.Get(ctx, logout.KeyCurrent)
	if err != nil || !ok {
		return model.NewLogicalID()
	}
	var cur model.SessionEntry
	if err := json.Unmarshal(data, &cur); err != nil || cur.LogicalID == "" {
		return model.NewLogicalID()
	}
	if s.clock.Now().Sub(cur.LastActivity) > s.cfg.Session.MaxDuration {
		return model.NewLogicalID()
	}
	s.logger.Debug().Str(log.FieldLogicalID, cur.LogicalID).Msg("joining existing login")
	return cur.LogicalID
}

func (s *Shell) buildCrossTab(sessionID, logicalID string) error {
	ct := s.cfg.CrossTab
	switch ct.Channel {
	case config.ChannelMemory:
		b := s.deps.Bus
		if b == nil {
			b = bus.NewMemoryBus()
		}
		ch := crosstab.NewBusChannel(b, bus.TopicCrossTab+"."+ct.ChannelName)
		s.channel = ch
		s.closers = append(s.closers, ch.Close)
	case config.ChannelRedis:
		ch := crosstab.NewRedisChannel(s.redis, redisNamespace+":"+ct.ChannelName)
		s.channel = ch
		s.closers = append(s.closers, ch.Close)
	}

	var seen cache.Cache
	if s.redis != nil {
		seen = cache.NewRedisCacheFromClient(s.redis, redisNamespace+":seen:"+sessionID, log.WithComponent("crosstab.seen"))
	}
	syncer, err := crosstab.New(crosstab.Options{
		Clock:       s.clock,
		Store:       s.store,
		Channel:     s.channel,
		Seen:        seen,
		SessionID:   sessionID,
		LogicalID:   logicalID,
		MaxDuration: s.cfg.Session.MaxDuration,
	})
	if err != nil {
		return fmt.Errorf("app: cross-tab sync: %w", err)
	}
	s.sync = syncer
	s.closers = append(s.closers, syncer.Close)
	if s.monitor != nil {
		s.publisher = crosstab.NewActivityPublisher(syncer, ct.ActivityInterval)
		syncer.OnMessage(s.forwardRemote)
	}
	return nil
}

func (s *Shell) buildBackend() error {
	bc := s.cfg.Backend
	var apiCache cache.Cache
	switch bc.CacheBackend {
	case config.CacheRedis:
		apiCache = cache.NewRedisCacheFromClient(s.redis, redisNamespace+":api", log.WithComponent("backend.cache"))
	default:
		mc := cache.NewMemoryCache(time.Minute, cache.WithNow(s.clock.Now))
		s.closers = append(s.closers, func() error { mc.Stop(); return nil })
		apiCache = mc
	}

	client, err := backend.New(backend.Options{
		BaseURL:          bc.BaseURL,
		Timeout:          bc.Timeout,
		MaxAttempts:      bc.MaxRetries,
		BackoffBase:      bc.BackoffBase,
		BackoffMax:       bc.BackoffMax,
		RateLimit:        rate.Limit(bc.RateLimit),
		RateBurst:        bc.RateBurst,
		Cache:            apiCache,
		CacheTTL:         bc.CacheTTL,
		CacheEndpoints:   bc.CacheEndpoints,
		JSONEndpoints:    bc.JSONEndpoints,
		BreakerThreshold: bc.BreakerThreshold,
		BreakerReset:     bc.BreakerReset,
		HTTPClient:       s.deps.HTTPClient,
		Clock:            s.clock,
		UserAgent:        "vegtrace/" + s.cfg.Version,
	})
	if err != nil {
		return fmt.Errorf("app: backend client: %w", err)
	}
	s.backend = client
	return nil
}

func (s *Shell) buildLogout() error {
	nav := s.deps.Navigator
	if nav == nil {
		nav = LogNavigator(s.cfg.LoginURL)
	}
	opts := logout.Options{
		Clock:         s.clock,
		Session:       s.monitor,
		Navigator:     nav,
		Sensor:        s.sensor,
		Store:         s.store,
		History:       s.history,
		Sink:          s.sink,
		Stoppers:      []func(){s.stopHeartbeat},
		RedirectDelay: s.cfg.Session.RedirectDelay,
		LoginURL:      s.cfg.LoginURL,
	}
	if s.sync != nil {
		opts.Sync = s.sync
	}
	if s.backend != nil {
		opts.Backend = s.backend
	}
	orch, err := logout.New(opts)
	if err != nil {
		return fmt.Errorf("app: logout: %w", err)
	}
	s.logout = orch
	return nil
}

// LogNavigator records the redirect instead of performing one.
func LogNavigator(loginURL string) logout.Navigator {
	return logout.NavigatorFunc(func(ctx context.Context) error {
		logger := log.WithComponentFromContext(ctx, "navigator")
		logger.Info().
			Str(log.FieldEvent, "navigate.login").
			Str("login_url", loginURL).
			Msg("navigating to login")
		return nil
	})
}

// SessionID returns the tab's session ID.
func (s *Shell) SessionID() string { return s.monitor.SessionID() }

// LogicalID returns the login the tab belongs to.
func (s *Shell) LogicalID() string { return s.monitor.LogicalID() }

// Orchestrator exposes the logout orchestrator, mainly for tests.
func (s *Shell) Orchestrator() *logout.Orchestrator { return s.logout }

// Close releases storage, channels and connections in reverse order of
// creation. Call it after Run returned.
func (s *Shell) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
		s.redis = nil
	}
	return errors.Join(errs...)
}
