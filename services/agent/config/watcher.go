// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the tuning file on change and notifies subscribers.
// The executor's graph builder subscribes so a config change rebuilds
// the compiled graph on the next turn.
//
// Thread Safety: Safe for concurrent use. Start should only be called
// once.
type Watcher struct {
	path     string
	holder   *Holder
	watcher  *fsnotify.Watcher
	onReload []func(Tuning)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the given config file. Callbacks
// run after each successful reload, in registration order.
func NewWatcher(path string, holder *Holder, logger *slog.Logger, onReload ...func(Tuning)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		holder:   holder,
		watcher:  fsw,
		onReload: onReload,
		logger:   logger,
	}, nil
}

// Start begins watching. Blocks until the context is cancelled;
// run in a goroutine.
//
// The parent directory is watched rather than the file itself so
// atomic replace (write temp, rename over) keeps working.
func (w *Watcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("failed to watch config directory",
			"dir", dir,
			"error", err)
		return
	}
	w.logger.Debug("watching config file", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload re-reads the file. A malformed file keeps the previous
// snapshot active.
func (w *Watcher) reload() {
	t, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous tuning",
			"path", w.path,
			"error", err)
		return
	}
	w.holder.Replace(t)
	w.logger.Info("config reloaded", "path", w.path)
	for _, fn := range w.onReload {
		fn(t)
	}
}
