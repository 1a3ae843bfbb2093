package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"guichet/pkg/logging"
)

// DefaultFileName is the name of the document written by the file backend.
const DefaultFileName = "session.json"

// lockRetryDelay is how often a writer retries a lock held by another
// process.
const lockRetryDelay = 20 * time.Millisecond

// File stores every key in one JSON document.
//
// SECURITY: the directory is created 0700 and the file 0600. Each write goes
// to a temporary file that is renamed over the document, so a concurrent
// reader sees either the old or the new content. Writers also take an
// exclusive lock on a sibling lock file, so processes sharing the directory
// (the CLI and a running server) never lose each other's updates.
type File struct {
	mu   sync.Mutex
	dir  string
	path string
	lock *flock.Flock
}

// NewFile creates a file store in dir.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("storage: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &File{
		dir:  dir,
		path: filepath.Join(dir, DefaultFileName),
		lock: flock.New(filepath.Join(dir, "."+DefaultFileName+".lock")),
	}, nil
}

// Path returns the location of the JSON document.
func (f *File) Path() string {
	return f.path
}

// Get implements Store.
func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.readLocked()
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (f *File) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := f.lockFile(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := f.readLocked()
	if err != nil {
		return err
	}
	data[key] = value
	return f.writeLocked(data)
}

// Delete implements Store.
func (f *File) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := f.lockFile(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := f.readLocked()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return f.writeLocked(data)
}

// Keys implements Store.
func (f *File) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	return sortedKeys(data), nil
}

// lockFile takes the inter-process write lock, waiting until ctx is done.
// REQUIRES: f.mu held.
func (f *File) lockFile(ctx context.Context) (unlock func(), err error) {
	locked, err := f.lock.TryLock()
	if err == nil && !locked {
		locked, err = f.lock.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock storage file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock storage file: %w", ctx.Err())
	}
	return func() {
		if err := f.lock.Unlock(); err != nil {
			logging.Warn("Storage", "Failed to unlock %s: %v", f.lock.Path(), err)
		}
	}, nil
}

// readLocked loads the document. A missing file is an empty store.
// REQUIRES: f.mu held.
func (f *File) readLocked() (map[string]string, error) {
	data := make(map[string]string)

	// #nosec G304 -- path is built from the configured storage directory
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse storage file %s: %w", f.path, err)
	}
	return data, nil
}

// writeLocked atomically replaces the document.
// REQUIRES: f.mu held.
func (f *File) writeLocked(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage file: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+DefaultFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary storage file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict storage file permissions: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync storage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close storage file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}
