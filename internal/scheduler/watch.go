package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the schedule whenever the task file changes on disk, so
// tasks added with the CLI take effect without a signal. It watches the
// file's directory because the store replaces the file by rename. Watch
// returns once the watcher is running; it stops when ctx is done.
func (s *Scheduler) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(s.store.Path())
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	go s.watchLoop(ctx, watcher, debounce)
	return nil
}

func (s *Scheduler) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer watcher.Close()
	target := filepath.Clean(s.store.Path())

	var mu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			changed, err := s.ReloadIfChanged()
			if err != nil {
				slog.Warn("task reload failed", "path", target, "error", err)
				return
			}
			if changed {
				slog.Info("tasks reloaded", "path", target, "scheduled", len(s.Scheduled()))
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("task watch error", "error", err)
		}
	}
}
