// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// AppConfig is the resolved configuration of one client shell.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir  string `yaml:"data_dir"`
	LoginURL string `yaml:"login_url"`

	Session      SessionConfig      `yaml:"session"`
	Capabilities model.Capabilities `yaml:"capabilities"`
	Storage      StorageConfig      `yaml:"storage"`
	CrossTab     CrossTabConfig     `yaml:"crosstab"`
	Backend      BackendConfig      `yaml:"backend"`
	History      HistoryConfig      `yaml:"history"`
	Control      ControlConfig      `yaml:"control"`
	Log          LogConfig          `yaml:"log"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// SessionConfig holds the session lifetime settings.
type SessionConfig struct {
	MaxDuration             time.Duration `yaml:"max_duration"`
	WarningLeadTime         time.Duration `yaml:"warning_lead_time"`
	IdleTimeout             time.Duration `yaml:"idle_timeout"`
	ExtendTime              time.Duration `yaml:"extend_time"`
	ThrottleInterval        time.Duration `yaml:"throttle_interval"`
	CheckInterval           time.Duration `yaml:"check_interval"`
	BackgroundCheckInterval time.Duration `yaml:"background_check_interval"`
	RedirectDelay           time.Duration `yaml:"redirect_delay"`
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	PersistState            bool          `yaml:"persist_state"`
}

// Timing extracts the state machine durations.
func (s SessionConfig) Timing() model.Timing {
	return model.Timing{
		MaxDuration:     s.MaxDuration,
		WarningLeadTime: s.WarningLeadTime,
		IdleTimeout:     s.IdleTimeout,
		ExtendTime:      s.ExtendTime,
	}
}

// StorageConfig selects the shared key-value space.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Prefix  string      `yaml:"prefix"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig is used by the redis storage backend and the redis channel.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CrossTabConfig controls cross-tab synchronization.
type CrossTabConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Channel          string        `yaml:"channel"`
	ChannelName      string        `yaml:"channel_name"`
	ShareActivity    bool          `yaml:"share_activity"`
	ActivityInterval time.Duration `yaml:"activity_interval"`
}

// BackendConfig configures the remote API client.
type BackendConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	RateLimit        float64       `yaml:"rate_limit"`
	RateBurst        int           `yaml:"rate_burst"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	CacheBackend     string        `yaml:"cache_backend"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
	JSONEndpoints    []string      `yaml:"json_endpoints"`
	CacheEndpoints   []string      `yaml:"cache_endpoints"`
}

// Enabled reports whether a backend is configured.
func (b BackendConfig) Enabled() bool { return b.BaseURL != "" }

// HistoryConfig selects where ended session summaries are kept.
type HistoryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ControlConfig configures the local HTTP control surface.
type ControlConfig struct {
	Listen    string `yaml:"listen"`
	RateLimit int    `yaml:"rate_limit"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}
