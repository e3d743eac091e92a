// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const fileSuffix = ".json"

// envelope is the on-disk record. Deletions are written as tombstones so
// that watchers can tell which handle removed a key.
type envelope struct {
	Writer  string `json:"writer"`
	Deleted bool   `json:"deleted,omitempty"`
	Value   []byte `json:"value,omitempty"`
}

// FileStore keeps one file per key in a directory shared by several
// processes. Writes are atomic and durable; fsnotify provides change
// notification.
type FileStore struct {
	dir    string
	writer string
	logger zerolog.Logger

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

var _ Store = (*FileStore)(nil)

// OpenFile opens (creating if needed) a file-backed store in dir.
func OpenFile(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage: empty directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("file storage: create %s: %w", dir, err)
	}
	return &FileStore{
		dir:    dir,
		writer: uuid.NewString(),
		logger: log.WithComponent("storage.file").With().Str(log.FieldPath, dir).Logger(),
	}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileSuffix)
}

func keyFromName(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

func (f *FileStore) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FileStore) read(key string) (envelope, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return envelope{}, false, nil
	}
	if err != nil {
		metrics.RecordStorageError("file", "read")
		return envelope{}, false, fmt.Errorf("file storage: read %q: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.RecordStorageError("file", "decode")
		return envelope{}, false, fmt.Errorf("file storage: decode %q: %w", key, err)
	}
	return env, true, nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	if f.isClosed() {
		return nil, false, ErrClosed
	}
	env, ok, err := f.read(key)
	if err != nil || !ok || env.Deleted {
		return nil, false, err
	}
	return env.Value, true, nil
}

func (f *FileStore) write(key string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("file storage: encode %q: %w", key, err)
	}

	// renameio handles: temp file creation, fsync, atomic rename, cleanup on error
	pendingFile, err := renameio.NewPendingFile(f.path(key), renameio.WithTempDir(f.dir), renameio.WithPermissions(0o600))
	if err != nil {
		metrics.RecordStorageError("file", "write")
		return fmt.Errorf("file storage: create pending %q: %w", key, err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			f.logger.Debug().Err(err).Str(log.FieldKey, key).Msg("cleanup pending storage file")
		}
	}()
	if _, err := pendingFile.Write(data); err != nil {
		metrics.RecordStorageError("file", "write")
		return fmt.Errorf("file storage: write %q: %w", key, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		metrics.RecordStorageError("file", "write")
		return fmt.Errorf("file storage: replace %q: %w", key, err)
	}
	return nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if f.isClosed() {
		return ErrClosed
	}
	return f.write(key, envelope{Writer: f.writer, Value: value})
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if f.isClosed() {
		return ErrClosed
	}
	env, ok, err := f.read(key)
	if err != nil {
		return err
	}
	if !ok || env.Deleted {
		return nil
	}
	return f.write(key, envelope{Writer: f.writer, Deleted: true})
}

// Watch observes the directory and reports writes of other handles.
func (f *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file storage: create watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("file storage: watch %s: %w", f.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancels = append(f.cancels, cancel)
	out := make(chan Change, WatchBuffer)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(out)
		defer func() { _ = watcher.Close() }()
		f.watchLoop(ctx, watcher, out)
	}()
	return out, nil
}

func (f *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, out chan<- Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			key, ok := keyFromName(event.Name)
			if !ok {
				continue
			}
			env, found, err := f.read(key)
			if err != nil {
				f.logger.Debug().Err(err).Str(log.FieldKey, key).Msg("skip unreadable storage change")
				continue
			}
			if !found || env.Writer == f.writer {
				continue
			}
			select {
			case out <- Change{Key: key, Value: env.Value, Deleted: env.Deleted}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			metrics.RecordStorageError("file", "watch")
			f.logger.Warn().Err(err).Str(log.FieldEvent, "storage.watch_error").Msg("file storage watcher error")
		}
	}
}

// Close stops all watchers and waits for them to exit.
func (f *FileStore) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	cancels := f.cancels
	f.cancels = nil
	f.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	f.wg.Wait()
	return nil
}
