// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"

	"github.com/ManuGH/vegtrace/internal/validate"
	"github.com/rs/zerolog"
)

var errNegativeRate = errors.New("rate cannot be negative")

// Validate checks the whole configuration and reports every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	s := cfg.Session
	v.PositiveDuration("session.max_duration", s.MaxDuration)
	v.PositiveDuration("session.idle_timeout", s.IdleTimeout)
	v.NonNegativeDuration("session.warning_lead_time", s.WarningLeadTime)
	v.NonNegativeDuration("session.extend_time", s.ExtendTime)
	v.DurationBelow("session.warning_lead_time", s.WarningLeadTime, "session.idle_timeout", s.IdleTimeout)
	v.DurationBelow("session.warning_lead_time", s.WarningLeadTime, "session.max_duration", s.MaxDuration)
	v.PositiveDuration("session.throttle_interval", s.ThrottleInterval)
	v.PositiveDuration("session.check_interval", s.CheckInterval)
	v.PositiveDuration("session.background_check_interval", s.BackgroundCheckInterval)
	v.NonNegativeDuration("session.redirect_delay", s.RedirectDelay)
	v.PositiveDuration("session.heartbeat_interval", s.HeartbeatInterval)

	v.OneOf("storage.backend", cfg.Storage.Backend, []string{StorageMemory, StorageFile, StorageRedis})
	if cfg.Storage.Backend == StorageRedis || cfg.CrossTab.Channel == ChannelRedis || cfg.Backend.CacheBackend == CacheRedis {
		v.NotEmpty("storage.redis.addr", cfg.Storage.Redis.Addr)
		v.NonNegative("storage.redis.db", cfg.Storage.Redis.DB)
	}

	v.OneOf("crosstab.channel", cfg.CrossTab.Channel, []string{ChannelNone, ChannelMemory, ChannelRedis})
	if cfg.CrossTab.Channel != ChannelNone {
		v.NotEmpty("crosstab.channel_name", cfg.CrossTab.ChannelName)
	}
	v.PositiveDuration("crosstab.activity_interval", cfg.CrossTab.ActivityInterval)

	b := cfg.Backend
	if b.Enabled() {
		v.URL("backend.base_url", b.BaseURL, []string{"http", "https"})
	}
	v.PositiveDuration("backend.timeout", b.Timeout)
	v.Range("backend.max_retries", b.MaxRetries, 0, 10)
	v.PositiveDuration("backend.backoff_base", b.BackoffBase)
	v.PositiveDuration("backend.backoff_max", b.BackoffMax)
	if b.BackoffBase > b.BackoffMax {
		v.AddError("backend.backoff_base", "must not exceed backend.backoff_max", b.BackoffBase.String())
	}
	v.Custom("backend.rate_limit", b.RateLimit, func(any) error {
		if b.RateLimit < 0 {
			return errNegativeRate
		}
		return nil
	})
	v.NonNegative("backend.rate_burst", b.RateBurst)
	v.NonNegativeDuration("backend.cache_ttl", b.CacheTTL)
	v.OneOf("backend.cache_backend", b.CacheBackend, []string{CacheMemory, CacheRedis})
	v.Positive("backend.breaker_threshold", b.BreakerThreshold)
	v.PositiveDuration("backend.breaker_reset", b.BreakerReset)

	v.OneOf("history.backend", cfg.History.Backend, []string{HistoryMemory, HistorySQLite})

	if cfg.Control.Listen != "" {
		v.ListenAddr("control.listen", cfg.Control.Listen)
	}
	v.NonNegative("control.rate_limit", cfg.Control.RateLimit)

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		v.AddError("log.level", "unknown log level", cfg.Log.Level)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}

	return v.Err()
}
