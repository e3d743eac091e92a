// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
)

// StateKey is the storage key of the resumable session state.
const StateKey = "state"

// persistedState is what a backgrounded or closed tab leaves behind. It
// carries timing only: the key is shared by every tab, so a resuming tab
// keeps its own identifiers.
type persistedState struct {
	Start         time.Time     `json:"sessionStartTime"`
	LastActivity  time.Time     `json:"lastActivityTime"`
	MaxDuration   time.Duration `json:"maxDuration"`
	Extensions    int           `json:"extensions"`
	ActivityCount int           `json:"activityCount"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (m *Monitor) persistState(now time.Time) {
	if !m.opts.PersistState || m.opts.Store == nil {
		return
	}
	s := m.machine.Session()
	data, err := json.Marshal(persistedState{
		Start:         s.StartTime,
		LastActivity:  s.LastActivity,
		MaxDuration:   s.MaxDuration,
		Extensions:    s.Extensions,
		ActivityCount: s.ActivityCount,
		Timestamp:     now,
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not encode session state")
		return
	}
	if err := m.opts.Store.Set(m.ctx, StateKey, data); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldKey, StateKey).Msg("could not store session state")
		return
	}
	m.logger.Debug().Str(log.FieldEvent, "session.state_stored").Msg("session state stored")
}

// restoreState loads and removes the persisted state. States older than the
// session length are discarded.
func (m *Monitor) restoreState(ctx context.Context, now time.Time) (model.Session, bool) {
	if !m.opts.PersistState || m.opts.Store == nil {
		return model.Session{}, false
	}
	data, ok, err := m.opts.Store.Get(ctx, StateKey)
	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldKey, StateKey).Msg("could not read session state")
		return model.Session{}, false
	}
	if !ok {
		return model.Session{}, false
	}
	if err := m.opts.Store.Delete(ctx, StateKey); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldKey, StateKey).Msg("could not clear session state")
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		m.logger.Warn().Err(err).Msg("discarding unreadable session state")
		return model.Session{}, false
	}
	maxDuration := st.MaxDuration
	if maxDuration <= 0 {
		maxDuration = m.opts.Timing.MaxDuration
	}
	if now.Sub(st.Timestamp) >= maxDuration {
		m.logger.Info().Str(log.FieldEvent, "session.state_stale").Msg("discarding stale session state")
		return model.Session{}, false
	}

	m.logger.Info().Str(log.FieldEvent, "session.state_restored").Msg("session state restored")

	return model.Session{
		SessionID:     m.opts.SessionID,
		LogicalID:     m.opts.LogicalID,
		StartTime:     st.Start,
		LastActivity:  st.LastActivity,
		MaxDuration:   maxDuration,
		Extensions:    st.Extensions,
		ActivityCount: st.ActivityCount,
	}, true
}
