// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// watchDebounce coalesces the burst of events editors emit on save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the config file at path whenever it changes and hands the
// new value to fn. Invalid files are logged and skipped; the previous
// config stays in effect. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so that editors
// which save by rename keep triggering reloads.
func Watch(ctx context.Context, path string, log logr.Logger, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := LoadFromPath(abs)
			if err != nil {
				log.Error(err, "CONFIG_RELOAD_FAILED", "path", abs)
				continue
			}
			log.Info("CONFIG_RELOADED", "path", abs)
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "CONFIG_WATCH_ERROR", "path", abs)
		}
	}
}
