// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package crosstab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
)

// Heartbeat is the liveness record written under KeyHeartbeat.
type Heartbeat struct {
	SessionID string    `json:"sessionId"`
	LogicalID string    `json:"logicalId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// readRegistry tolerates a missing or corrupt list; both read as empty.
func (s *Synchronizer) readRegistry(ctx context.Context) ([]model.SessionEntry, error) {
	data, ok, err := s.opts.Store.Get(ctx, KeyActiveSessions)
	if err != nil {
		return nil, fmt.Errorf("crosstab: read registry: %w", err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}
	var entries []model.SessionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldKey, KeyActiveSessions).Msg("discarding unreadable session registry")
		return nil, nil
	}
	return entries, nil
}

func (s *Synchronizer) writeRegistry(ctx context.Context, entries []model.SessionEntry) error {
	if entries == nil {
		entries = []model.SessionEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("crosstab: encode registry: %w", err)
	}
	if err := s.opts.Store.Set(ctx, KeyActiveSessions, data); err != nil {
		return fmt.Errorf("crosstab: write registry: %w", err)
	}
	return nil
}

// prune drops entries without activity for longer than MaxDuration.
func (s *Synchronizer) prune(entries []model.SessionEntry, now time.Time) ([]model.SessionEntry, int) {
	kept := entries[:0:0]
	for _, e := range entries {
		if now.Sub(e.LastActivity) > s.opts.MaxDuration {
			continue
		}
		kept = append(kept, e)
	}
	return kept, len(entries) - len(kept)
}

// Register adds or replaces entry in the advisory registry. An empty
// SessionID means the tab's own.
func (s *Synchronizer) Register(ctx context.Context, entry model.SessionEntry) error {
	if entry.SessionID == "" {
		entry.SessionID = s.opts.SessionID
	}
	if entry.LogicalID == "" && entry.SessionID == s.opts.SessionID {
		entry.LogicalID = s.opts.LogicalID
	}
	entries, err := s.readRegistry(ctx)
	if err != nil {
		return err
	}
	entries, pruned := s.prune(entries, s.opts.Clock.Now())
	metrics.CrossTabRegistryPrunedTotal.Add(float64(pruned))

	out := make([]model.SessionEntry, 0, len(entries)+1)
	for _, e := range entries {
		if e.SessionID != entry.SessionID {
			out = append(out, e)
		}
	}
	out = append(out, entry)
	return s.writeRegistry(ctx, out)
}

// ActiveSessions returns the registry without stale entries. When anything
// was pruned the shorter list is written back.
func (s *Synchronizer) ActiveSessions(ctx context.Context) ([]model.SessionEntry, error) {
	entries, err := s.readRegistry(ctx)
	if err != nil {
		return nil, err
	}
	entries, pruned := s.prune(entries, s.opts.Clock.Now())
	if pruned > 0 {
		metrics.CrossTabRegistryPrunedTotal.Add(float64(pruned))
		s.logger.Debug().Str(log.FieldEvent, "crosstab.registry_pruned").Int("pruned", pruned).Msg("pruned stale sessions")
		if err := s.writeRegistry(ctx, entries); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

// Deregister removes the tab's own entry.
func (s *Synchronizer) Deregister(ctx context.Context) error {
	entries, err := s.readRegistry(ctx)
	if err != nil {
		return err
	}
	out := make([]model.SessionEntry, 0, len(entries))
	for _, e := range entries {
		if e.SessionID != s.opts.SessionID {
			out = append(out, e)
		}
	}
	if len(out) == len(entries) {
		return nil
	}
	return s.writeRegistry(ctx, out)
}

// RunHeartbeat writes KeyHeartbeat and refreshes the registry entry from
// snapshot immediately and then every interval, until ctx ends.
func (s *Synchronizer) RunHeartbeat(ctx context.Context, interval time.Duration, snapshot func() model.SessionEntry) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := s.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	s.beat(ctx, snapshot)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.beat(ctx, snapshot)
		}
	}
}

func (s *Synchronizer) beat(ctx context.Context, snapshot func() model.SessionEntry) {
	hb := Heartbeat{SessionID: s.opts.SessionID, LogicalID: s.opts.LogicalID, Timestamp: s.opts.Clock.Now()}
	data, err := json.Marshal(hb)
	if err == nil {
		err = s.opts.Store.Set(ctx, KeyHeartbeat, data)
	}
	if err == nil && snapshot != nil {
		err = s.Register(ctx, snapshot())
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "crosstab.heartbeat_failed").Msg("heartbeat write failed")
	}
}
