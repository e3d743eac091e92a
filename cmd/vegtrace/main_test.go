// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/crosstab"
	"github.com/ManuGH/vegtrace/internal/domain/session/activity"
	"github.com/ManuGH/vegtrace/internal/domain/session/history"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/storage"
	"github.com/ManuGH/vegtrace/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee exitError
	require.True(t, errors.As(err, &ee), "expected exitError, got %v", err)
	return ee.code
}

// writeConfig creates a data directory with a file-backed session space and
// a sqlite history, and points VEGTRACE_DATA at it.
func writeConfig(t *testing.T, extra string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("VEGTRACE_DATA", dir)
	path = filepath.Join(dir, "config.yaml")
	body := "data_dir: " + dir + "\n" +
		"storage:\n  backend: file\n" +
		"history:\n  backend: sqlite\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return dir, path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestConfigValidate(t *testing.T) {
	_, path := writeConfig(t, "")
	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path+" is valid")
}

func TestConfigValidateRejectsUnknownKeys(t *testing.T) {
	_, path := writeConfig(t, "sesion:\n  idle_timeout: 1m\n")
	_, err := execute(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(t, err))
}

func TestConfigDumpRedactsSecrets(t *testing.T) {
	_, path := writeConfig(t, "")
	t.Setenv("VEGTRACE_REDIS_PASSWORD", "hunter2")

	out, err := execute(t, "config", "dump", "--config", path, "--format", "json")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, redacted)

	_, err = execute(t, "config", "dump", "--config", path, "--format", "toml")
	assert.Equal(t, 2, exitCode(t, err))
}

func TestSessionsListsRegistry(t *testing.T) {
	dir, path := writeConfig(t, "")

	fs, err := storage.OpenFile(filepath.Join(dir, "shared"))
	require.NoError(t, err)
	store := storage.WithPrefix(fs, "session_")
	sync, err := crosstab.New(crosstab.Options{Store: store, SessionID: "sess_a", LogicalID: "login_a"})
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, sync.Register(context.Background(), model.SessionEntry{
		StartedAt:    now.Add(-time.Minute),
		LastActivity: now,
		Label:        "packing-station",
	}))
	require.NoError(t, sync.Close())
	require.NoError(t, fs.Close())

	out, err := execute(t, "sessions", "--config", path, "--json")
	require.NoError(t, err)
	var entries []model.SessionEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "sess_a", entries[0].SessionID)
	assert.Equal(t, "login_a", entries[0].LogicalID)

	out, err = execute(t, "sessions", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sess_a")
	assert.Contains(t, out, "packing-station")
}

func TestForceLogoutNeedsCrossTab(t *testing.T) {
	_, path := writeConfig(t, "crosstab:\n  enabled: false\n")
	_, err := execute(t, "force-logout", "--config", path)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(t, err))
}

func TestForceLogoutBroadcasts(t *testing.T) {
	dir, path := writeConfig(t, "")
	out, err := execute(t, "force-logout", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "forced logout")

	fs, err := storage.OpenFile(filepath.Join(dir, "shared"))
	require.NoError(t, err)
	defer fs.Close()
	data, ok, err := storage.WithPrefix(fs, "session_").Get(context.Background(), crosstab.KeySync)
	require.NoError(t, err)
	require.True(t, ok)
	var msg model.CrossTabMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, model.MsgForceLogout, msg.Type)
}

func TestHistoryListsAndVerifies(t *testing.T) {
	dir, path := writeConfig(t, "")

	ctx := context.Background()
	hist, err := history.OpenSQLite(ctx, filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, hist.Append(ctx, model.Summary{
		SessionID: "sess_done",
		LogicalID: "login_a",
		StartedAt: start,
		EndedAt:   start.Add(15 * time.Minute),
		Duration:  15 * time.Minute,
		Reason:    model.ReasonIdleTimeout,
	}))
	require.NoError(t, hist.Close())

	out, err := execute(t, "history", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sess_done")
	assert.Contains(t, out, string(model.ReasonIdleTimeout))
	assert.Contains(t, out, "15m0s")

	out, err = execute(t, "history", "--config", path, "--verify", "quick")
	require.NoError(t, err)
	assert.Contains(t, out, "passed quick check")

	_, err = execute(t, "history", "--config", path, "--verify", "deep")
	assert.Equal(t, 2, exitCode(t, err))
}

func TestParseInputLine(t *testing.T) {
	tests := []struct {
		line    string
		want    activity.RawEvent
		ok      bool
		wantErr bool
	}{
		{line: "click", want: activity.RawEvent{Kind: activity.KindClick}, ok: true},
		{line: "  KeyDown ", want: activity.RawEvent{Kind: activity.KindKeyDown}, ok: true},
		{line: "touchstart 2", want: activity.RawEvent{Kind: activity.KindTouchStart, Touches: 2}, ok: true},
		{line: "devicemotion 3.5", want: activity.RawEvent{Kind: activity.KindMotion, Magnitude: 3.5}, ok: true},
		{line: ""},
		{line: "# comment"},
		{line: "doubletap", wantErr: true},
		{line: "touchstart two", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok, err := parseInputLine(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
