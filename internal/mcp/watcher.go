package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize registry watcher")

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads a Registry when its backing file changes. A file that
// fails to parse leaves the registry untouched.
type Watcher struct {
	path     string
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	reloaded chan struct{}
	stop     chan struct{}
}

// NewWatcher creates a watcher for path feeding reg.
func NewWatcher(path string, reg *Registry, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		registry: reg,
		watcher:  fw,
		logger:   logger,
		reloaded: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory so that atomic renames by editors
// are observed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching registry dir: %w", err)
	}
	go w.run(ctx)
	return nil
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Reloaded signals after every successful reload.
func (w *Watcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

func (w *Watcher) run(ctx context.Context) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("registry watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	ds, err := LoadRegistryFile(w.path)
	if err != nil {
		w.logger.Warn("registry reload failed, keeping previous entries",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	if err := w.registry.Replace(ds); err != nil {
		w.logger.Warn("registry reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("registry reloaded", zap.String("path", w.path), zap.Int("workers", len(ds)))

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
