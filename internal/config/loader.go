// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the client configuration from defaults, a YAML file
// and VEGTRACE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Path returns the config file path, empty for env-only configuration.
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	resolvePaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with strict parsing.
// Unknown fields are an error to catch misspelled keys.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString("VEGTRACE_DATA", cfg.DataDir)
	cfg.LoginURL = l.envString("VEGTRACE_LOGIN_URL", cfg.LoginURL)

	s := &cfg.Session
	s.MaxDuration = l.envDuration("VEGTRACE_SESSION_MAX_DURATION", s.MaxDuration)
	s.WarningLeadTime = l.envDuration("VEGTRACE_SESSION_WARNING_LEAD_TIME", s.WarningLeadTime)
	s.IdleTimeout = l.envDuration("VEGTRACE_SESSION_IDLE_TIMEOUT", s.IdleTimeout)
	s.ExtendTime = l.envDuration("VEGTRACE_SESSION_EXTEND_TIME", s.ExtendTime)
	s.ThrottleInterval = l.envDuration("VEGTRACE_SESSION_THROTTLE_INTERVAL", s.ThrottleInterval)
	s.CheckInterval = l.envDuration("VEGTRACE_SESSION_CHECK_INTERVAL", s.CheckInterval)
	s.BackgroundCheckInterval = l.envDuration("VEGTRACE_SESSION_BACKGROUND_CHECK_INTERVAL", s.BackgroundCheckInterval)
	s.RedirectDelay = l.envDuration("VEGTRACE_SESSION_REDIRECT_DELAY", s.RedirectDelay)
	s.HeartbeatInterval = l.envDuration("VEGTRACE_SESSION_HEARTBEAT_INTERVAL", s.HeartbeatInterval)
	s.PersistState = l.envBool("VEGTRACE_SESSION_PERSIST_STATE", s.PersistState)

	c := &cfg.Capabilities
	c.Mobile = l.envBool("VEGTRACE_CAP_MOBILE", c.Mobile)
	c.MotionDetection = l.envBool("VEGTRACE_CAP_MOTION_DETECTION", c.MotionDetection)
	c.Visibility = l.envBool("VEGTRACE_CAP_VISIBILITY", c.Visibility)
	c.Focus = l.envBool("VEGTRACE_CAP_FOCUS", c.Focus)

	st := &cfg.Storage
	st.Backend = l.envString("VEGTRACE_STORAGE_BACKEND", st.Backend)
	st.Path = l.envString("VEGTRACE_STORAGE_PATH", st.Path)
	st.Prefix = l.envString("VEGTRACE_STORAGE_PREFIX", st.Prefix)
	st.Redis.Addr = l.envString("VEGTRACE_REDIS_ADDR", st.Redis.Addr)
	st.Redis.Password = l.envString("VEGTRACE_REDIS_PASSWORD", st.Redis.Password)
	st.Redis.DB = l.envInt("VEGTRACE_REDIS_DB", st.Redis.DB)

	x := &cfg.CrossTab
	x.Enabled = l.envBool("VEGTRACE_CROSSTAB_ENABLED", x.Enabled)
	x.Channel = l.envString("VEGTRACE_CROSSTAB_CHANNEL", x.Channel)
	x.ChannelName = l.envString("VEGTRACE_CROSSTAB_CHANNEL_NAME", x.ChannelName)
	x.ShareActivity = l.envBool("VEGTRACE_CROSSTAB_SHARE_ACTIVITY", x.ShareActivity)
	x.ActivityInterval = l.envDuration("VEGTRACE_CROSSTAB_ACTIVITY_INTERVAL", x.ActivityInterval)

	b := &cfg.Backend
	b.BaseURL = l.envString("VEGTRACE_API_BASE_URL", b.BaseURL)
	b.Timeout = l.envDuration("VEGTRACE_API_TIMEOUT", b.Timeout)
	b.MaxRetries = l.envInt("VEGTRACE_API_MAX_RETRIES", b.MaxRetries)
	b.BackoffBase = l.envDuration("VEGTRACE_API_BACKOFF_BASE", b.BackoffBase)
	b.BackoffMax = l.envDuration("VEGTRACE_API_BACKOFF_MAX", b.BackoffMax)
	b.RateLimit = l.envFloat("VEGTRACE_API_RATE_LIMIT", b.RateLimit)
	b.RateBurst = l.envInt("VEGTRACE_API_RATE_BURST", b.RateBurst)
	b.CacheTTL = l.envDuration("VEGTRACE_API_CACHE_TTL", b.CacheTTL)
	b.CacheBackend = l.envString("VEGTRACE_API_CACHE_BACKEND", b.CacheBackend)
	b.BreakerThreshold = l.envInt("VEGTRACE_API_BREAKER_THRESHOLD", b.BreakerThreshold)
	b.BreakerReset = l.envDuration("VEGTRACE_API_BREAKER_RESET", b.BreakerReset)
	b.JSONEndpoints = l.envList("VEGTRACE_API_JSON_ENDPOINTS", b.JSONEndpoints)
	b.CacheEndpoints = l.envList("VEGTRACE_API_CACHE_ENDPOINTS", b.CacheEndpoints)

	cfg.History.Backend = l.envString("VEGTRACE_HISTORY_BACKEND", cfg.History.Backend)
	cfg.History.Path = l.envString("VEGTRACE_HISTORY_PATH", cfg.History.Path)

	cfg.Control.Listen = l.envString("VEGTRACE_CONTROL_LISTEN", cfg.Control.Listen)
	cfg.Control.RateLimit = l.envInt("VEGTRACE_CONTROL_RATE_LIMIT", cfg.Control.RateLimit)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = l.envString("LOG_SERVICE", cfg.Log.Service)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("VEGTRACE_OTEL_ENABLED", t.Enabled)
	t.Exporter = l.envString("VEGTRACE_OTEL_EXPORTER", t.Exporter)
	t.Endpoint = l.envString("VEGTRACE_OTEL_ENDPOINT", t.Endpoint)
	t.SamplingRate = l.envFloat("VEGTRACE_OTEL_SAMPLING_RATE", t.SamplingRate)
}
