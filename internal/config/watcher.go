package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize config watcher")

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// ChangeFunc is called after a successful reload with the previous and the
// new configuration.
type ChangeFunc func(prev, next *Config)

// Watcher reloads the config file when it changes on disk.
//
// The directory is watched rather than the file so editors that replace
// the file on save are still seen. A reload that fails to parse or
// validate is logged and the previous configuration stays current.
type Watcher struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeFunc
}

// NewWatcher creates a watcher for path starting from initial.
func NewWatcher(path string, initial *Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		logger:   logger.Named("config"),
		debounce: DefaultDebounce,
		current:  initial,
	}
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload reads the file and, if it is valid, makes it current and runs
// the change handlers.
func (w *Watcher) Reload() error {
	next, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = next
	handlers := append([]ChangeFunc(nil), w.handlers...)
	w.mu.Unlock()

	for _, fn := range handlers {
		fn(old, next)
	}
	return nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("%w: watching %s: %v", ErrWatcherFailed, filepath.Dir(w.path), err)
	}
	w.logger.Info("watching config file", zap.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload rejected, keeping previous configuration",
					zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// BackendChanged reports whether the backend section differs between two
// configurations after defaults are applied.
func BackendChanged(prev, next *Config) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return prev.VectorStore() != next.VectorStore()
}

// EmbeddingsChanged reports whether the embedding provider settings differ.
func EmbeddingsChanged(prev, next *Config) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return prev.EmbeddingProvider() != next.EmbeddingProvider()
}
