// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"strings"
)

// Prefixed namespaces every key of an underlying store.
type Prefixed struct {
	inner  Store
	prefix string
}

var _ Store = (*Prefixed)(nil)

// WithPrefix wraps s so that key k is stored as prefix+k. Watch only reports
// keys under the prefix, with the prefix removed.
func WithPrefix(s Store, prefix string) *Prefixed {
	return &Prefixed{inner: s, prefix: prefix}
}

// Prefix returns the namespace prefix.
func (p *Prefixed) Prefix() string { return p.prefix }

func (p *Prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *Prefixed) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *Prefixed) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *Prefixed) Watch(ctx context.Context) (<-chan Change, error) {
	in, err := p.inner.Watch(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan Change, WatchBuffer)
	go func() {
		defer close(out)
		for c := range in {
			key, ok := strings.CutPrefix(c.Key, p.prefix)
			if !ok {
				continue
			}
			c.Key = key
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Prefixed) Close() error { return p.inner.Close() }
