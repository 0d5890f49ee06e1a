package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// QuotaCallback receives every successfully loaded quota file.
type QuotaCallback func(*QuotaFile)

// ErrorCallback receives reload failures.
type ErrorCallback func(error)

// QuotaWatcher reloads the quota file when it changes on disk. A file that
// fails to load or validate is ignored and the previous quotas stay in
// effect.
type QuotaWatcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      QuotaCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration

	mu        sync.RWMutex
	last      *QuotaFile
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WatcherOption configures a QuotaWatcher.
type WatcherOption func(*QuotaWatcher)

// WithDebounceDelay sets how long to wait for writes to settle.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *QuotaWatcher) { w.debounceDelay = delay }
}

// WithLogger sets the watcher logger.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *QuotaWatcher) { w.logger = logger }
}

// WithErrorCallback sets the reload failure callback.
func WithErrorCallback(cb ErrorCallback) WatcherOption {
	return func(w *QuotaWatcher) { w.errorCallback = cb }
}

// NewQuotaWatcher creates a watcher for path.
func NewQuotaWatcher(path string, callback QuotaCallback, opts ...WatcherOption) (*QuotaWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &QuotaWatcher{
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads the file once, hands it to the callback and then watches
// for changes until ctx is done or Stop is called. An initial load
// failure is returned. Start is meant to be called once.
func (w *QuotaWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	f, err := LoadQuotaFile(w.path)
	if err != nil {
		w.markStopped()
		return err
	}
	w.apply(f)

	// Editors and config-map mounts replace the file, so watch the
	// directory rather than the inode.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.markStopped()
		return err
	}

	w.logger.Info("watching quota file", observability.String("path", w.path))
	go w.watch(ctx)
	return nil
}

func (w *QuotaWatcher) markStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	close(w.stoppedCh)
}

// Stop ends watching and releases the underlying watcher.
func (w *QuotaWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh
	return w.watcher.Close()
}

// Last returns the quotas currently in effect.
func (w *QuotaWatcher) Last() *QuotaFile {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

func (w *QuotaWatcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

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
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.debounceDelay)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fail("quota watcher error", err)
		}
	}
}

// Reload loads the file now, outside the event loop.
func (w *QuotaWatcher) Reload() error {
	f, err := LoadQuotaFile(w.path)
	if err != nil {
		return err
	}
	w.apply(f)
	return nil
}

func (w *QuotaWatcher) reload() {
	f, err := LoadQuotaFile(w.path)
	if err != nil {
		w.fail("quota reload rejected, keeping previous quotas", err)
		return
	}
	w.apply(f)
	w.logger.Info("quotas reloaded", observability.Int("scopes", len(f.Quotas)))
}

func (w *QuotaWatcher) apply(f *QuotaFile) {
	w.mu.Lock()
	w.last = f
	w.mu.Unlock()
	if w.callback != nil {
		w.callback(f)
	}
}

func (w *QuotaWatcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.String("path", w.path), observability.Error(err))
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}
