package store

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"slurmsage/internal/logging"
)

// StoreWatcher watches the rule store file and invokes a callback after it
// changes. Rapid successive writes (editor saves, atomic rename dances) are
// debounced so the callback fires once per burst.
type StoreWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	onChange    func(path string)
	debounceDur time.Duration
	pendingAt   time.Time
	pending     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats StoreWatcherStats
}

// StoreWatcherStats tracks watcher activity for debugging.
type StoreWatcherStats struct {
	Events        int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventOp   string
}

// NewStoreWatcher creates a watcher for the given store file. onChange runs
// on the watcher goroutine; keep it short or hand off.
func NewStoreWatcher(path string, onChange func(path string)) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &StoreWatcher{
		watcher:     watcher,
		path:        path,
		onChange:    onChange,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
// The parent directory is watched, not the file, because atomic writes
// replace the file inode.
func (w *StoreWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	logging.Store("StoreWatcher: watching %s", dir)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *StoreWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryStore).Error("StoreWatcher: error closing watcher: %v", err)
	}
	logging.Store("StoreWatcher: stopped")
}

// Stats returns a copy of the activity counters.
func (w *StoreWatcher) Stats() StoreWatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *StoreWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryStore).Error("StoreWatcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.firePending()
		}
	}
}

func (w *StoreWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	logging.StoreDebug("StoreWatcher: %s event for %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventOp = event.Op.String()
	w.pending = true
	w.pendingAt = time.Now()
	w.mu.Unlock()
}

func (w *StoreWatcher) firePending() {
	w.mu.Lock()
	if !w.pending || time.Since(w.pendingAt) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.stats.Reloads++
	cb := w.onChange
	w.mu.Unlock()

	if cb != nil {
		cb(w.path)
	}
}
