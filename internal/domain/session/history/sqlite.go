// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/persistence/sqlite"
)

var migrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS session_summaries (
		session_id TEXT PRIMARY KEY,
		logical_id TEXT NOT NULL DEFAULT '',
		started_at_ms INTEGER NOT NULL,
		ended_at_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		reason TEXT NOT NULL,
		extensions INTEGER NOT NULL DEFAULT 0,
		pulses INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_ended ON session_summaries(ended_at_ms);
	`},
	{Version: 2, SQL: `ALTER TABLE session_summaries ADD COLUMN activities_json TEXT NOT NULL DEFAULT '{}';`},
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	DB *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and migrates) the history database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, err := sqlite.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history store: migration failed: %w", err)
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sum model.Summary) error {
	if sum.SessionID == "" {
		return ErrInvalidSummary
	}
	activities, err := json.Marshal(sum.Activities)
	if err != nil {
		return fmt.Errorf("history store: encode activities: %w", err)
	}
	query := `
	INSERT INTO session_summaries (session_id, logical_id, started_at_ms, ended_at_ms, duration_ms, reason, extensions, pulses, activities_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		logical_id = excluded.logical_id,
		started_at_ms = excluded.started_at_ms,
		ended_at_ms = excluded.ended_at_ms,
		duration_ms = excluded.duration_ms,
		reason = excluded.reason,
		extensions = excluded.extensions,
		pulses = excluded.pulses,
		activities_json = excluded.activities_json
	`
	_, err = s.DB.ExecContext(ctx, query,
		sum.SessionID, sum.LogicalID, sum.StartedAt.UnixMilli(), sum.EndedAt.UnixMilli(),
		sum.Duration.Milliseconds(), string(sum.Reason), sum.Extensions, sum.Pulses, string(activities),
	)
	if err != nil {
		return fmt.Errorf("history store: append %s: %w", sum.SessionID, err)
	}
	return nil
}

const selectColumns = `session_id, logical_id, started_at_ms, ended_at_ms, duration_ms, reason, extensions, pulses, activities_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(r rowScanner) (model.Summary, error) {
	var (
		sum                       model.Summary
		startMS, endMS, durMS     int64
		reason, activitiesPayload string
	)
	if err := r.Scan(&sum.SessionID, &sum.LogicalID, &startMS, &endMS, &durMS, &reason,
		&sum.Extensions, &sum.Pulses, &activitiesPayload); err != nil {
		return model.Summary{}, err
	}
	sum.StartedAt = time.UnixMilli(startMS).UTC()
	sum.EndedAt = time.UnixMilli(endMS).UTC()
	sum.Duration = time.Duration(durMS) * time.Millisecond
	sum.Reason = model.Reason(reason)
	if err := json.Unmarshal([]byte(activitiesPayload), &sum.Activities); err != nil {
		return model.Summary{}, fmt.Errorf("decode activities: %w", err)
	}
	return sum, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]model.Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM session_summaries ORDER BY ended_at_ms DESC, session_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: query: %w", err)
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("history store: scan: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (model.Summary, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM session_summaries WHERE session_id = ?`, sessionID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Summary{}, false, nil
	}
	if err != nil {
		return model.Summary{}, false, fmt.Errorf("history store: get %s: %w", sessionID, err)
	}
	return sum, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}
