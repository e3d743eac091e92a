// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage is the key-value space shared by every tab of one origin.
// Writes made through one handle are announced to the watchers of every
// other handle, never to the writer itself.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("storage closed")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrUnsupportedBackend is returned by Open for unknown backends.
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
)

// Change describes a write observed through Watch.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Store is one tab's handle on the shared space. Reads then writes are not
// atomic; concurrent writers resolve last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Watch delivers changes made by other handles until ctx ends or the
	// store is closed, then closes the channel. Sends never block past the
	// end of ctx, so consumers may stop reading as soon as ctx is done.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

// WatchBuffer is the per-watcher channel capacity.
const WatchBuffer = 128

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	return nil
}
