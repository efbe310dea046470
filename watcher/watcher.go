// Package watcher watches the manifest and its content files for changes
// and triggers reload callbacks. Rapid sequences of writes collapse into a
// single reload through a debounce window.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/weavel-fastllm/fastllm/errors"
)

const (
	debouncePeriod = 500 * time.Millisecond

	// One write produces several events (truncate, then write), so
	// own-write suppression covers a window rather than a single event.
	ownWriteWindow = time.Second
)

// ReloadCallback runs after the debounce window closes. An error keeps the
// watcher alive; the previous state stays in effect.
type ReloadCallback func() error

// Watcher monitors a set of files. The parent directories are what fsnotify
// actually watches, so editors that replace files on save (write to temp,
// rename over the original) still produce events for the tracked paths.
type Watcher struct {
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	paths          map[string]bool
	dirs           map[string]bool
	debounceTimer  *time.Timer
	debouncePeriod time.Duration

	// Suppression deadline to prevent reload loops when the engine itself
	// writes a watched file.
	ownWriteUntil  time.Time
	ownWriteWindow time.Duration
	ownWriteMu     sync.Mutex
}

// New creates a watcher with an empty watch set. Call SetPaths before Start.
func New(logger *zap.SugaredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Watcher{
		watcher:        fsw,
		logger:         logger,
		paths:          make(map[string]bool),
		dirs:           make(map[string]bool),
		debouncePeriod: debouncePeriod,
		ownWriteWindow: ownWriteWindow,
	}, nil
}

// SetPaths replaces the watch set. The engine calls this at startup and
// again after every successful reload, because a reload can change which
// content files the manifest includes.
func (w *Watcher) SetPaths(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	newPaths := make(map[string]bool, len(paths))
	newDirs := make(map[string]bool, len(paths))
	for _, p := range paths {
		clean := filepath.Clean(p)
		newPaths[clean] = true
		newDirs[filepath.Dir(clean)] = true
	}

	for dir := range newDirs {
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return errors.Wrapf(err, "failed to watch directory %s", dir)
		}
	}
	for dir := range w.dirs {
		if newDirs[dir] {
			continue
		}
		if err := w.watcher.Remove(dir); err != nil {
			w.logger.Warnw("Failed to unwatch directory", "dir", dir, "error", err)
		}
	}

	w.paths = newPaths
	w.dirs = newDirs
	return nil
}

// OnReload registers a callback to run when a watched file changes.
func (w *Watcher) OnReload(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// MarkOwnWrite marks upcoming writes as coming from us, so persisting the
// project version or branch state does not trigger a reload.
func (w *Watcher) MarkOwnWrite() {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	w.ownWriteUntil = time.Now().Add(w.ownWriteWindow)
}

func (w *Watcher) ownWriteActive() bool {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	return time.Now().Before(w.ownWriteUntil)
}

// Start begins delivering events. Stop releases the underlying watcher.
func (w *Watcher) Start() {
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Write == 0 && event.Op&fsnotify.Create == 0 {
				continue
			}
			// Directory events for untracked names (backup rotations,
			// editor temp files) fall outside the watch set.
			if !w.watchedFile(event.Name) {
				continue
			}
			if w.ownWriteActive() {
				w.logger.Debugw("Ignoring own write", "file", event.Name)
				continue
			}

			w.logger.Infow("Source change detected",
				"file", event.Name,
				"op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) watchedFile(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[filepath.Clean(name)]
}

// scheduleReload debounces rapid file changes before running callbacks.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.reload)
}

// reload runs every registered callback. A failing callback is logged and
// the rest still run; the watcher keeps watching either way.
func (w *Watcher) reload() {
	w.mu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(); err != nil {
			w.logger.Errorw("Reload failed, previous state kept", "error", err)
		}
	}
}

// Stop cancels any pending reload and closes the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}
