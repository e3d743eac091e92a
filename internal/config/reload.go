// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDebounce coalesces the burst of events editors produce on save.
const DefaultReloadDebounce = 500 * time.Millisecond

// Listener is called after a successful reload with the old and new config.
type Listener func(old, updated AppConfig)

// ConfigHolder holds configuration with atomic reloading capability.
// Session timings of a reloaded config apply to the next session.
type ConfigHolder struct {
	mu       sync.RWMutex
	current  AppConfig
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	listenersMu sync.RWMutex
	listeners   []Listener

	watchMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConfigHolder creates a new configuration holder with initial config.
func NewConfigHolder(initial AppConfig, loader *Loader) *ConfigHolder {
	return &ConfigHolder{
		current:  initial,
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: DefaultReloadDebounce,
	}
}

// Get returns the current configuration (thread-safe read).
func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates the configuration again. On failure the old
// configuration stays in place.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		metrics.RecordConfigReload("failure")
		h.logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	metrics.RecordConfigReload("success")
	h.logChanges(oldCfg, newCfg)
	h.notifyListeners(oldCfg, newCfg)

	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the config file for changes until ctx ends or Stop
// is called. Without a config file this is a no-op.
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(log.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace the file by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.watchMu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.watchMu.Unlock()

	h.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str(log.FieldPath, path).
		Msg("watching config file for changes")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() { _ = watcher.Close() }()
		h.watchLoop(ctx, watcher, filepath.Clean(path))
	}()
	return nil
}

func (h *ConfigHolder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().
				Str(log.FieldEvent, "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")

			if debounce == nil {
				debounce = time.NewTimer(h.debounce)
			} else {
				debounce.Reset(h.debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str(log.FieldEvent, "config.auto_reload_failed").
					Msg("automatic config reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running) and waits for it to exit.
func (h *ConfigHolder) Stop() {
	h.watchMu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.watchMu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// OnReload registers a listener for successful reloads.
func (h *ConfigHolder) OnReload(fn Listener) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *ConfigHolder) notifyListeners(old, updated AppConfig) {
	h.listenersMu.RLock()
	listeners := append([]Listener(nil), h.listeners...)
	h.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(old, updated)
	}
}

// logChanges logs the session settings that differ after a reload.
func (h *ConfigHolder) logChanges(old, updated AppConfig) {
	durations := []struct {
		name     string
		old, new time.Duration
	}{
		{"session.max_duration", old.Session.MaxDuration, updated.Session.MaxDuration},
		{"session.warning_lead_time", old.Session.WarningLeadTime, updated.Session.WarningLeadTime},
		{"session.idle_timeout", old.Session.IdleTimeout, updated.Session.IdleTimeout},
		{"session.extend_time", old.Session.ExtendTime, updated.Session.ExtendTime},
		{"session.redirect_delay", old.Session.RedirectDelay, updated.Session.RedirectDelay},
	}
	for _, d := range durations {
		if d.old != d.new {
			h.logger.Info().
				Dur("old", d.old).
				Dur("new", d.new).
				Msgf("config changed: %s", d.name)
		}
	}
	if old.Backend.BaseURL != updated.Backend.BaseURL {
		h.logger.Info().
			Str("old", maskURL(old.Backend.BaseURL)).
			Str("new", maskURL(updated.Backend.BaseURL)).
			Msg("config changed: backend.base_url")
	}
}

// maskURL hides the query string, which may carry deployment keys.
func maskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i] + "?***"
	}
	return rawURL
}
