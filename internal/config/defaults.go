// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// Storage, history and channel choices.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"

	HistoryMemory = "memory"
	HistorySQLite = "sqlite"

	ChannelNone   = "none"
	ChannelMemory = "memory"
	ChannelRedis  = "redis"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// DefaultDataDir is used when VEGTRACE_DATA and data_dir are unset.
func DefaultDataDir() string {
	return filepath.Join(os.TempDir(), "vegtrace")
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  DefaultDataDir(),
		LoginURL: "login.html",
		Session: SessionConfig{
			MaxDuration:             30 * time.Minute,
			WarningLeadTime:         5 * time.Minute,
			IdleTimeout:             15 * time.Minute,
			ExtendTime:              30 * time.Minute,
			ThrottleInterval:        100 * time.Millisecond,
			CheckInterval:           time.Second,
			BackgroundCheckInterval: 5 * time.Second,
			RedirectDelay:           5 * time.Second,
			HeartbeatInterval:       5 * time.Minute,
			PersistState:            true,
		},
		Capabilities: model.Capabilities{Visibility: true, Focus: true},
		Storage: StorageConfig{
			Backend: StorageFile,
			Prefix:  "session_",
			Redis:   RedisConfig{Addr: "127.0.0.1:6379"},
		},
		CrossTab: CrossTabConfig{
			Enabled:          true,
			Channel:          ChannelNone,
			ChannelName:      "session_sync",
			ShareActivity:    true,
			ActivityInterval: 5 * time.Second,
		},
		Backend: BackendConfig{
			Timeout:          15 * time.Second,
			MaxRetries:       2,
			BackoffBase:      time.Second,
			BackoffMax:       5 * time.Second,
			RateLimit:        5,
			RateBurst:        10,
			CacheTTL:         5 * time.Minute,
			CacheBackend:     CacheMemory,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			JSONEndpoints:    []string{"updateProductionData", "createProductionCycle"},
		},
		History: HistoryConfig{Backend: HistorySQLite},
		Control: ControlConfig{Listen: "127.0.0.1:8089", RateLimit: 120},
		Log:     LogConfig{Level: "info", Service: "vegtrace"},
		Telemetry: TelemetryConfig{
			Exporter:     "http",
			Endpoint:     "localhost:4318",
			SamplingRate: 1.0,
		},
	}
}

// resolvePaths fills paths derived from the data directory.
func resolvePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(cfg.DataDir, "shared")
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.DataDir, "history.db")
	}
}
