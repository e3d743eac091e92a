// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VEGTRACE_DATA", t.TempDir())

	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, 30*time.Minute, cfg.Session.MaxDuration)
	assert.Equal(t, 5*time.Minute, cfg.Session.WarningLeadTime)
	assert.Equal(t, 15*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Session.ExtendTime)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.ThrottleInterval)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.Equal(t, "session_", cfg.Storage.Prefix)
	assert.Equal(t, filepath.Join(cfg.DataDir, "shared"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "history.db"), cfg.History.Path)
	assert.True(t, cfg.Capabilities.Visibility)
	assert.False(t, cfg.Capabilities.Mobile)
	assert.False(t, cfg.Backend.Enabled())
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	path := writeConfig(t, `
session:
  max_duration: 10s
  idle_timeout: 6s
  warning_lead_time: 3s
storage:
  backend: memory
capabilities:
  mobile: true
backend:
  base_url: https://api.example.org/exec
  json_endpoints: [updateProductionData]
`)
	t.Setenv("VEGTRACE_DATA", t.TempDir())
	t.Setenv("VEGTRACE_SESSION_IDLE_TIMEOUT", "8s")
	t.Setenv("VEGTRACE_API_CACHE_ENDPOINTS", "getProducts, getFarms")

	l := NewLoader(path, "")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Session.MaxDuration)
	assert.Equal(t, 8*time.Second, cfg.Session.IdleTimeout, "env wins over file")
	assert.Equal(t, 3*time.Second, cfg.Session.WarningLeadTime)
	assert.Equal(t, 30*time.Minute, cfg.Session.ExtendTime, "default kept")
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.True(t, cfg.Capabilities.Mobile)
	assert.True(t, cfg.Capabilities.Focus, "unset file keys keep defaults")
	assert.Equal(t, []string{"updateProductionData"}, cfg.Backend.JSONEndpoints)
	assert.Equal(t, []string{"getProducts", "getFarms"}, cfg.Backend.CacheEndpoints)
	assert.Contains(t, l.ConsumedEnvKeys, "VEGTRACE_SESSION_IDLE_TIMEOUT")
}

func TestLoad_StrictFile(t *testing.T) {
	t.Setenv("VEGTRACE_DATA", t.TempDir())

	_, err := NewLoader(writeConfig(t, "session:\n  idle_timout: 5m\n"), "").Load()
	assert.ErrorContains(t, err, "strict config parse error")

	_, err = NewLoader(writeConfig(t, "login_url: a\n---\nlogin_url: b\n"), "").Load()
	assert.ErrorContains(t, err, "multiple documents")

	_, err = NewLoader(filepath.Join(t.TempDir(), "config.json"), "").Load()
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Setenv("VEGTRACE_DATA", t.TempDir())
	cfg, err := NewLoader(writeConfig(t, ""), "").Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Session.MaxDuration)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("VEGTRACE_DATA", t.TempDir())
	t.Setenv("VEGTRACE_SESSION_MAX_DURATION", "half an hour")
	t.Setenv("VEGTRACE_CAP_MOBILE", "maybe")

	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Session.MaxDuration)
	assert.False(t, cfg.Capabilities.Mobile)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Session.WarningLeadTime = 20 * time.Minute
	cfg.Storage.Backend = "floppy"
	cfg.Backend.BaseURL = "ftp://example.org"
	cfg.Backend.MaxRetries = 11
	cfg.Backend.BackoffBase = 10 * time.Second
	cfg.Log.Level = "loud"

	err := Validate(cfg)
	require.Error(t, err)

	var verr validate.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make(map[string]bool)
	for _, e := range verr.Errors() {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"session.warning_lead_time",
		"storage.backend",
		"backend.base_url",
		"backend.max_retries",
		"backend.backoff_base",
		"log.level",
	} {
		assert.True(t, fields[f], "expected error for %s", f)
	}
}

func TestValidate_RedisNeedsAddress(t *testing.T) {
	cfg := Defaults()
	cfg.CrossTab.Channel = ChannelRedis
	cfg.Storage.Redis.Addr = ""
	assert.ErrorContains(t, Validate(cfg), "storage.redis.addr")
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{"yes": true, "1": true, "TRUE": true, "no": false, "0": false} {
		t.Setenv("VEGTRACE_TEST_BOOL", in)
		assert.Equal(t, want, ParseBool("VEGTRACE_TEST_BOOL", !want), in)
	}
	t.Setenv("VEGTRACE_TEST_BOOL", "")
	assert.True(t, ParseBool("VEGTRACE_TEST_BOOL", true))
}

func TestSessionConfig_Timing(t *testing.T) {
	tm := Defaults().Session.Timing()
	assert.Equal(t, 30*time.Minute, tm.MaxDuration)
	assert.Equal(t, 15*time.Minute, tm.IdleTimeout)
}
