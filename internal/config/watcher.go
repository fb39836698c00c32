// Copyright 2025 Shan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a registry when its configuration changes on disk.
// Reload failures keep the previous document active, so a half-saved
// file never takes down running calls.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	registry  *Registry
	logger    *slog.Logger

	debounceDelay time.Duration

	mu      sync.Mutex
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures a configuration watcher.
type WatcherConfig struct {
	// Registry is the registry to reload on changes.
	Registry *Registry

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay is the quiet period before reloading after a change
	// (defaults to 200ms).
	DebounceDelay time.Duration
}

// NewWatcher starts watching the registry's configuration path. Editors
// that replace files via rename are handled by watching the parent
// directory rather than the file itself.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Registry.path == "" {
		return nil, fmt.Errorf("registry has no configuration path to watch")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	absPath, err := filepath.Abs(cfg.Registry.path)
	if err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Registry.path, err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", absPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		registry:      cfg.Registry,
		logger:        logger,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents(absPath)

	return w, nil
}

// processEvents drains filesystem events and schedules debounced
// reloads for relevant changes.
func (w *Watcher) processEvents(watchedPath string) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.relevant(event.Name, watchedPath) {
				continue
			}
			w.logger.Debug("configuration file changed", "file", event.Name)
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// relevant reports whether a change under the watched directory affects
// the configuration: either the path itself, or a YAML file inside it
// when the path is a directory.
func (w *Watcher) relevant(changed, watchedPath string) bool {
	abs, err := filepath.Abs(changed)
	if err != nil {
		return false
	}
	if abs == watchedPath {
		return true
	}
	if filepath.Dir(abs) != watchedPath {
		return false
	}
	ext := filepath.Ext(abs)
	return ext == ".yaml" || ext == ".yml"
}

// scheduleReload schedules a debounced reload, resetting any pending
// timer so bursts of writes collapse into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload applies the pending reload.
func (w *Watcher) reload() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()

	if err := w.registry.Reload(); err != nil {
		w.logger.Error("configuration reload failed, keeping previous configuration", "error", err)
		return
	}
	w.logger.Info("configuration reloaded after file change")
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}
