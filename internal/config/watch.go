// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes the new
// config to onChange. Files that fail to load are logged and skipped. The
// directory is watched rather than the file so atomic renames are seen.
// Watch returns once the watcher is set up; it stops when ctx is done.
func Watch(ctx context.Context, path string, log logrus.FieldLogger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"component": "config", "path": path})

	go watchLoop(ctx, w, path, DefaultDebounce, log, onChange)
	return nil
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, debounce time.Duration, log logrus.FieldLogger, onChange func(*Config)) {
	defer w.Close()

	target := filepath.Clean(path)
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			cfg, err := LoadFromPath(path)
			if err != nil {
				log.WithField("event", "CONFIG_RELOAD_FAILED").WithError(err).Warn("keeping previous config")
				continue
			}
			log.WithField("event", "CONFIG_RELOADED").Info("config reloaded")
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.WithField("event", "CONFIG_WATCH_ERROR").WithError(err).Warn("watch error")
		}
	}
}
