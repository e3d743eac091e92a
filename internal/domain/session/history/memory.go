// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"slices"
	"sync"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]model.Summary
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]model.Summary)}
}

func (m *MemoryStore) Append(_ context.Context, s model.Summary) error {
	if s.SessionID == "" {
		return ErrInvalidSummary
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.SessionID] = s
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]model.Summary, error) {
	m.mu.RLock()
	out := make([]model.Summary, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Summary) int {
		if c := b.EndedAt.Compare(a.EndedAt); c != 0 {
			return c
		}
		return compareStrings(a.SessionID, b.SessionID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (model.Summary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[sessionID]
	return s, ok, nil
}

func (m *MemoryStore) Close() error { return nil }

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
