package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const reloadDebounce = 100 * time.Millisecond

// SettingsWatcher holds the proctoring settings applied to assessments
// that have no settings of their own. The values come from a TOML, YAML or
// JSON file layered over the built-in defaults and are reloaded when the
// file changes. A bad edit keeps the previous values.
type SettingsWatcher struct {
	path string

	mu       sync.RWMutex
	current  types.Settings
	onChange []func(types.Settings)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	errChan chan error
}

// NewSettingsWatcher loads path once. An empty path serves the built-in
// defaults and never reloads.
func NewSettingsWatcher(path string) (*SettingsWatcher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &SettingsWatcher{
		path:    path,
		current: types.DefaultSettings(),
		ctx:     ctx,
		cancel:  cancel,
		errChan: make(chan error, 1),
	}
	if path == "" {
		return w, nil
	}
	st, err := loadSettings(path)
	if err != nil {
		cancel()
		return nil, err
	}
	w.current = st
	return w, nil
}

func loadSettings(path string) (types.Settings, error) {
	st := types.DefaultSettings()
	if err := decodeFile(path, &st); err != nil {
		return types.Settings{}, fmt.Errorf("settings file %s: %w", path, err)
	}
	if st.MinConfidenceThreshold < 0 || st.MinConfidenceThreshold > 1 {
		return types.Settings{}, fmt.Errorf("settings file %s: min_confidence_threshold %v outside [0,1]", path, st.MinConfidenceThreshold)
	}
	return st.Normalize(), nil
}

// Current returns the settings in effect. It is safe to pass as a
// func() types.Settings.
func (w *SettingsWatcher) Current() types.Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload.
func (w *SettingsWatcher) OnChange(cb func(types.Settings)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, cb)
	w.mu.Unlock()
}

// Errors reports reload and watch failures. Only the latest is buffered.
func (w *SettingsWatcher) Errors() <-chan error {
	return w.errChan
}

// Watch starts following the file. Editors often replace files instead of
// writing them in place, so the directory is watched rather than the file.
func (w *SettingsWatcher) Watch() error {
	if w.path == "" {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	w.watcher = fw

	go w.loop()
	return nil
}

func (w *SettingsWatcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case <-w.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *SettingsWatcher) reload() {
	st, err := loadSettings(w.path)
	if err != nil {
		w.report(err)
		return
	}

	w.mu.Lock()
	w.current = st
	cbs := append(([]func(types.Settings))(nil), w.onChange...)
	w.mu.Unlock()

	for _, cb := range cbs {
		cb(st)
	}
}

func (w *SettingsWatcher) report(err error) {
	select {
	case w.errChan <- err:
	default:
	}
}

// Close stops watching.
func (w *SettingsWatcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
