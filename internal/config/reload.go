// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"path/filepath"
	"sync/atomic"

	xglog "github.com/stalkerhls/portalproxy/internal/log"
	"github.com/fsnotify/fsnotify"
)

// Holder serves an atomically-swapped AppConfig and, when backed by a file,
// watches that file for changes so callers of Get see the reloaded
// portal/MAC/token table without restarting the process.
type Holder struct {
	loader   *Loader
	path     string
	snapshot atomic.Pointer[AppConfig]
	watcher  *fsnotify.Watcher
}

// NewHolder wraps an already-loaded AppConfig in a Holder.
func NewHolder(initial AppConfig, loader *Loader, path string) *Holder {
	h := &Holder{loader: loader, path: path}
	h.snapshot.Store(&initial)
	return h
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	return *h.snapshot.Load()
}

// Reload re-reads the config file and atomically swaps it in. A failed
// reload leaves the previous configuration in place.
func (h *Holder) Reload() error {
	cfg, err := h.loader.Load()
	if err != nil {
		return err
	}
	h.snapshot.Store(&cfg)
	return nil
}

// Watch starts an fsnotify watch on the config file's directory and calls
// Reload on every write/create event that touches it. It blocks until ctx
// is done. If no file path was configured, Watch is a no-op.
func (h *Holder) Watch(ctx context.Context) error {
	logger := xglog.WithComponent("config")
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	h.watcher = watcher
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Base(h.path)
	logger.Info().Str("path", h.path).Msg("watching config file for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := h.Reload(); err != nil {
				logger.Warn().Err(err).Msg("config reload failed; keeping previous configuration")
				continue
			}
			logger.Info().Msg("configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
