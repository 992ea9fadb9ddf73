package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of writes from editors and atomic
// renames into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// Watch calls onChange with the reloaded configuration, or the load error,
// each time path changes. The parent directory is watched so replacing the
// file by rename is seen. Files pulled in by $include are not watched.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config, error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{watcher: fw, cancel: cancel}
	w.wg.Add(1)
	go w.loop(watchCtx, absPath, debounce, onChange)
	return w, nil
}

// Close stops watching and waits for the event loop to exit. A reload
// already scheduled may still run.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop(ctx context.Context, path string, debounce time.Duration, onChange func(*Config, error)) {
	defer w.wg.Done()

	schedule := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timer = time.AfterFunc(debounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange(Load(path))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			onChange(nil, fmt.Errorf("watch config: %w", err))
		}
	}
}
