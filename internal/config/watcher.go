package config

import (
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/dshills/enginebridge/internal/timing"
)

// DefaultReloadDelay is how long the watcher waits for file events to
// settle before reloading.
const DefaultReloadDelay = 100 * time.Millisecond

// ReloadHandler receives the reloaded configuration, or the error that
// prevented loading it.
type ReloadHandler func(cfg *Config, err error)

// Watcher reloads a config file when it changes.
type Watcher struct {
	path    string
	handler ReloadHandler
	load    func(path string) (*Config, error)
	logger  *log.Logger
	delay   time.Duration
	clock   timing.Clock

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	debouncer *timing.Debouncer
	closed    bool
	done      chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay sets the quiet period before a reload.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.delay = d
		}
	}
}

// WithWatcherClock sets the clock driving the reload delay.
func WithWatcherClock(c timing.Clock) WatcherOption {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger *log.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for the config file at path. handler runs
// once per settled burst of changes.
func NewWatcher(path string, handler ReloadHandler, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:    path,
		handler: handler,
		load:    Load,
		logger:  log.New(io.Discard),
		delay:   DefaultReloadDelay,
	}

	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = timing.NewDebouncer(w.clock, w.delay, w.reload)

	return w
}

// Start begins watching. The file's directory is watched rather than the
// file itself so that atomic replacement by rename is noticed.
func (w *Watcher) Start() error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.fsw != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return err
	}

	w.path = abs
	w.fsw = fsw
	w.done = make(chan struct{})
	go w.processLoop(fsw, w.done)

	w.logger.Debug("watching config", "path", abs)
	return nil
}

// Close stops watching and drops any pending reload.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	fsw, done := w.fsw, w.done
	w.mu.Unlock()

	if w.debouncer.IsPending() {
		w.logger.Debug("dropping pending reload", "path", w.path)
	}
	w.debouncer.Cancel()
	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

// Reload loads the file now instead of waiting for a change. A change still
// settling is folded into this reload rather than applied twice.
func (w *Watcher) Reload() {
	if w.debouncer.IsPending() {
		w.debouncer.Flush()
		return
	}
	w.reload()
}

func (w *Watcher) processLoop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("config changed", "op", ev.Op.String())
	w.debouncer.Call()
}

func (w *Watcher) reload() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Error("config reload failed", "path", w.path, "err", err)
	} else {
		w.logger.Info("config reloaded", "path", w.path)
	}
	if w.handler != nil {
		w.handler(cfg, err)
	}
}
