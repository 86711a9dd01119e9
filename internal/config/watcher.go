package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shellpanel/shellpanel/internal/logging"
)

var configLog = logging.ForComponent(logging.CompConfig)

// Watcher re-reads the config file when it changes, so edits like
// flipping auto_reconnect apply without restarting the daemon.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *UserConfig

	ctx    context.Context
	cancel context.CancelFunc

	// onChange is called with the freshly loaded config.
	onChange func(*UserConfig)
}

// NewWatcher loads the config at path and starts watching its
// directory (editors replace files, so watching the file itself would
// lose the watch on save).
func NewWatcher(path string, onChange func(*UserConfig)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		watcher:  fsw,
		current:  cfg,
		ctx:      ctx,
		cancel:   cancel,
		onChange: onChange,
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *UserConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

func (w *Watcher) loop() {
	// Coalesce bursts of write events from editors into one reload.
	var pending <-chan time.Time
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(100 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			configLog.Warn("watch_error", slog.String("error", err.Error()))
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		configLog.Warn("reload_failed", slog.String("error", err.Error()))
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	configLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
