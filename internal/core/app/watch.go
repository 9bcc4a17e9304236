package app

import (
	"context"
	"time"

	"ilview/internal/core/config"
	"ilview/internal/core/watcher"
)

type rootWatcher interface {
	Close() error
}

// watchSearchRoots (re)starts the watcher that drops cached reference paths
// when assembly files under the search roots change.
func (a *App) watchSearchRoots() error {
	a.stopRootWatcher()
	if a.refStore == nil {
		return nil
	}

	a.mu.Lock()
	debounce := a.cfg.Watch.Debounce
	roots := make([]watcher.Root, 0, len(a.paths.SearchRoots))
	for _, r := range a.paths.SearchRoots {
		roots = append(roots, watcher.Root{Path: r.Path, Recursive: r.Recursive})
	}
	a.mu.Unlock()
	if len(roots) == 0 {
		return nil
	}

	w, err := watcher.NewWatcher(debounce, a.search.Excluded, a.invalidatePaths)
	if err != nil {
		return err
	}
	if err := w.Watch(roots); err != nil {
		_ = w.Close()
		return err
	}

	a.mu.Lock()
	a.rootWatcher = w
	a.mu.Unlock()
	a.logger.Info("watching search roots", "roots", len(roots), "debounce", debounce)
	return nil
}

func (a *App) stopRootWatcher() {
	a.mu.Lock()
	w := a.rootWatcher
	a.rootWatcher = nil
	a.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			a.logger.Warn("failed to stop search root watcher", "error", err)
		}
	}
}

func (a *App) invalidatePaths(paths []string) {
	store := a.refStore
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, path := range paths {
		n, err := store.DeletePath(ctx, path)
		if err != nil {
			a.logger.Warn("failed to drop cached reference path", "path", path, "error", err)
			continue
		}
		if n > 0 {
			a.logger.Debug("dropped cached reference path", "path", path, "entries", n)
		}
	}
}

// WatchConfig applies every valid rewrite of the config file at path.
func (a *App) WatchConfig(ctx context.Context, path string) (*config.Watcher, error) {
	w := config.NewWatcher(path, func(cfg *config.Config) {
		if err := a.ApplyConfig(cfg); err != nil {
			a.logger.Warn("reloaded config not applied", "path", path, "error", err)
		}
	}, a.logger)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
