package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"guichet/pkg/logging"
)

// DefaultDebounceInterval is how long Watch waits after the last change
// before calling onChange.
const DefaultDebounceInterval = 200 * time.Millisecond

// Watch implements Watcher using fsnotify on the storage directory.
// The directory is watched rather than the file because every write replaces
// the file through a rename.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", f.dir, err)
	}

	logging.Debug("StorageWatcher", "Watching %s for changes", f.path)

	go f.processEvents(ctx, watcher, onChange)
	return nil
}

func (f *File) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func()) {
	defer watcher.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(DefaultDebounceInterval, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	name := filepath.Base(f.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logging.Debug("StorageWatcher", "Storage file changed: %s", event.Op)
			trigger()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("StorageWatcher", err, "fsnotify error")
		}
	}
}
