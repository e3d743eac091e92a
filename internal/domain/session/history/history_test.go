// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryAt(id string, ended time.Time, reason model.Reason) model.Summary {
	start := ended.Add(-20 * time.Minute)
	return model.Summary{
		SessionID:  id,
		LogicalID:  "login_1",
		StartedAt:  start,
		EndedAt:    ended,
		Duration:   ended.Sub(start),
		Reason:     reason,
		Extensions: 1,
		Pulses:     42,
		Activities: model.ActivityCounts{Pointer: 30, Key: 10, Touch: 2},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	require.ErrorIs(t, s.Append(ctx, model.Summary{}), ErrInvalidSummary)

	first := summaryAt("sess_a", base, model.ReasonIdleTimeout)
	second := summaryAt("sess_b", base.Add(time.Hour), model.ReasonUserInitiated)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	got, ok, err := s.Get(ctx, "sess_a")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = s.Get(ctx, "sess_missing")
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "sess_b", recent[0].SessionID)
	assert.Equal(t, "sess_a", recent[1].SessionID)

	recent, err = s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	// Appending again replaces.
	first.Reason = model.ReasonForced
	require.NoError(t, s.Append(ctx, first))
	got, _, err = s.Get(ctx, "sess_a")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonForced, got.Reason)

	recent, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, summaryAt("sess_a", time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), model.ReasonSessionExpired)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.DB.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 2, version)

	_, ok, err := s.Get(ctx, "sess_a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, "", filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "bolt", "")
	assert.ErrorContains(t, err, "unknown history backend")
}
