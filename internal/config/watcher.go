package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	WatcherComponent = "config_watcher"
	defaultDebounce  = 250 * time.Millisecond
	watchDirMode     = 0o700
)

type WatcherStats struct {
	Events  int    `json:"events"`
	Reloads int    `json:"reloads"`
	Errors  int    `json:"errors"`
	File    string `json:"file"`
}

type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher reloads the Store when the config file changes on disk and then
// calls onChange. It watches the parent directory so editors that replace
// the file by rename are seen.
type Watcher struct {
	store    *Store
	onChange func(ctx context.Context) error
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	pending time.Time
	stats   WatcherStats
}

func NewWatcher(store *Store, onChange func(ctx context.Context) error, logger *zap.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Watcher{
		store:    store,
		onChange: onChange,
		logger:   logger.Named(WatcherComponent),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.stats.File = store.path
	return w
}

func (w *Watcher) Name() string {
	return WatcherComponent
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	dir := filepath.Dir(w.store.path)
	if err := os.MkdirAll(dir, watchDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(context.WithoutCancel(ctx), watcher, w.stopCh, w.doneCh)

	w.logger.Debug("watching config file", zap.String("path", w.store.path))
	return nil
}

func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	watcher, stopCh, doneCh := w.watcher, w.stopCh, w.doneCh
	w.watcher = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}

	close(stopCh)
	var err error
	select {
	case <-doneCh:
	case <-ctx.Done():
		err = fmt.Errorf("wait for config watcher: %w", ctx.Err())
	}

	return errors.Join(err, watcher.Close())
}

// ReloadNow reloads the Store and notifies onChange without waiting for a
// file event.
func (w *Watcher) ReloadNow(ctx context.Context) error {
	if _, err := w.store.Reload(); err != nil {
		w.count(func(s *WatcherStats) { s.Errors++ })
		return fmt.Errorf("reload config: %w", err)
	}
	w.count(func(s *WatcherStats) { s.Reloads++ })

	if w.onChange == nil {
		return nil
	}
	return w.onChange(ctx)
}

func (w *Watcher) Stats(context.Context) (any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats, nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	target := filepath.Clean(w.store.path)
	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.stats.Events++
			w.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
			w.count(func(s *WatcherStats) { s.Errors++ })
		case <-ticker.C:
			if !w.settled() {
				continue
			}
			if err := w.ReloadNow(ctx); err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", target))
		}
	}
}

func (w *Watcher) settled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		return false
	}
	w.pending = time.Time{}
	return true
}

func (w *Watcher) count(fn func(*WatcherStats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}
