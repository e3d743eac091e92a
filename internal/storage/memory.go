// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"sync"

	"github.com/ManuGH/vegtrace/internal/metrics"
)

// Space is an in-process shared key space. Every Open returns a separate
// handle, which plays the role of one tab.
type Space struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[*memWatcher]struct{}
	nextID   int
}

// NewSpace returns an empty space.
func NewSpace() *Space {
	return &Space{data: make(map[string][]byte), watchers: make(map[*memWatcher]struct{})}
}

// Open returns a new handle on the space.
func (s *Space) Open() *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return &MemoryStore{space: s, id: s.nextID}
}

type memWatcher struct {
	owner int
	ch    chan Change
}

// MemoryStore is a handle on a Space.
type MemoryStore struct {
	space  *Space
	id     int
	mu     sync.Mutex
	closed bool
	stops  []func() bool
	mine   []*memWatcher
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.isClosed() {
		return nil, false, ErrClosed
	}
	m.space.mu.Lock()
	defer m.space.mu.Unlock()
	v, ok := m.space.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if m.isClosed() {
		return ErrClosed
	}
	v := append([]byte(nil), value...)
	m.space.mu.Lock()
	defer m.space.mu.Unlock()
	m.space.data[key] = v
	m.space.notifyLocked(m.id, Change{Key: key, Value: v})
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if m.isClosed() {
		return ErrClosed
	}
	m.space.mu.Lock()
	defer m.space.mu.Unlock()
	if _, ok := m.space.data[key]; !ok {
		return nil
	}
	delete(m.space.data, key)
	m.space.notifyLocked(m.id, Change{Key: key, Deleted: true})
	return nil
}

func (s *Space) notifyLocked(writer int, c Change) {
	for w := range s.watchers {
		if w.owner == writer {
			continue
		}
		select {
		case w.ch <- c:
		default:
			metrics.RecordStorageError("memory", "watch_overflow")
		}
	}
}

func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	w := &memWatcher{owner: m.id, ch: make(chan Change, WatchBuffer)}
	m.space.mu.Lock()
	m.space.watchers[w] = struct{}{}
	m.space.mu.Unlock()

	m.mine = append(m.mine, w)
	m.stops = append(m.stops, context.AfterFunc(ctx, func() { m.space.removeWatcher(w) }))
	return w.ch, nil
}

func (s *Space) removeWatcher(w *memWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[w]; !ok {
		return
	}
	delete(s.watchers, w)
	close(w.ch)
}

// Close detaches the handle and closes its watch channels.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stops, mine := m.stops, m.mine
	m.stops, m.mine = nil, nil
	m.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	for _, w := range mine {
		m.space.removeWatcher(w)
	}
	return nil
}
