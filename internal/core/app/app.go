// Package app wires the assembly cache, the resolver chain and the
// disassembler around a single foreground goroutine.
package app

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"ilview/internal/core/config"
	"ilview/internal/core/errors"
	"ilview/internal/data/assemblies"
	"ilview/internal/data/refpaths"
	"ilview/internal/engine/highlight"
	"ilview/internal/engine/metadata"
	"ilview/internal/engine/repository"
	"ilview/internal/engine/resolver"
)

type Options struct {
	// Strict turns a concurrent disassembly request into a panic.
	Strict bool
	Logger *slog.Logger
}

// App owns the loaded assemblies. Open, Unload and Wait belong to the
// foreground goroutine; the disassembler worker only reads the cache.
type App struct {
	Cache        *assemblies.Cache
	Chain        *resolver.Chain
	Highlighter  *highlight.Highlighter
	Disassembler *Disassembler

	search      *resolver.SearchPathStrategy
	interactive *resolver.InteractiveStrategy
	client      *repository.Client
	refStore    *refpaths.Store
	dispatch    *dispatcher
	logger      *slog.Logger

	mu          sync.Mutex
	cfg         *config.Config
	paths       config.ResolvedPaths
	rootWatcher rootWatcher
}

func New(cfg *config.Config, paths config.ResolvedPaths, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		Cache:       assemblies.NewCache(),
		Highlighter: highlight.NewHighlighter(highlight.DefaultRepository()),
		dispatch:    newDispatcher(),
		logger:      logger,
		cfg:         cfg,
		paths:       paths,
	}

	var store resolver.PathStore
	if cfg.DB.Enabled {
		if err := os.MkdirAll(paths.DatabaseDir, 0o755); err != nil {
			return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "failed to create database directory"),
				errors.CtxPath, paths.DatabaseDir)
		}
		refStore, err := refpaths.Open(paths.DBPath, cfg.DB.BusyTimeout)
		if err != nil {
			return nil, err
		}
		a.refStore = refStore
		store = refStore
	}

	search, err := resolver.NewSearchPathStrategy(searchRoots(paths.SearchRoots), store, logger)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.search = search

	compare, err := repository.ParseVersionCompare(cfg.Resolver.VersionCompare)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	strategies := []resolver.Strategy{
		resolver.CacheStrategy{Cache: a.Cache},
		resolver.RelaxedStrategy{Cache: a.Cache, Compare: compare},
		search,
	}

	a.client = repository.NewClient(repository.ClientOptions{
		Timeout:           cfg.Resolver.Timeout,
		RequestsPerSecond: cfg.Resolver.RateLimit.RequestsPerSecond,
		Burst:             cfg.Resolver.RateLimit.Burst,
		Logger:            logger,
	})
	if cfg.Resolver.IsInteractive() {
		a.interactive = resolver.NewInteractiveStrategy(a.client, cfg.Resolver.RepositoryAddresses(), logger)
		strategies = append(strategies, a.interactive)
	}

	a.Chain = resolver.NewChain(a.publish, logger, strategies...)
	a.Cache.Subscribe(a.onCacheEvent)

	a.Disassembler, err = NewDisassembler(a.Chain, a.Highlighter, DisassemblerOptions{
		Language:  cfg.Render.Language,
		Full:      cfg.Render.Full,
		CacheSize: cfg.Render.CacheSize,
		Strict:    opts.Strict,
		Logger:    logger,
	})
	if err != nil {
		a.client.Close()
		a.closeStore()
		return nil, err
	}

	if cfg.Watch.Enabled {
		if err := a.watchSearchRoots(); err != nil {
			logger.Warn("search root watcher disabled", "error", err)
		}
	}
	return a, nil
}

func searchRoots(roots []config.SearchRoot) []resolver.SearchRoot {
	out := make([]resolver.SearchRoot, 0, len(roots))
	for _, r := range roots {
		out = append(out, resolver.SearchRoot{Path: r.Path, Recursive: r.Recursive, Exclude: r.Exclude})
	}
	return out
}

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Interactive returns the interactive strategy, nil when disabled.
func (a *App) Interactive() *resolver.InteractiveStrategy { return a.interactive }

// Open loads src and adds it to the cache.
func (a *App) Open(src assemblies.Source) (*metadata.Assembly, error) {
	asm, err := assemblies.Load(src)
	if err != nil {
		return nil, err
	}
	a.Cache.Add(asm)
	a.logger.Info("assembly loaded", "assembly", asm.FullName(), "source", src.Name())
	return asm, nil
}

func (a *App) OpenFile(path string) (*metadata.Assembly, error) {
	return a.Open(assemblies.FileSource{Path: path})
}

// Unload removes asm from the cache.
func (a *App) Unload(asm *metadata.Assembly) bool {
	return a.Cache.Remove(asm)
}

// Post queues fn for the foreground goroutine.
func (a *App) Post(fn func()) { a.dispatch.Post(fn) }

// Pending fires when posted work is waiting; RunPending runs it.
func (a *App) Pending() <-chan struct{} { return a.dispatch.Ready() }

func (a *App) RunPending() int { return a.dispatch.Drain() }

// Disassemble starts req and pumps the foreground until it completes.
func (a *App) Disassemble(ctx context.Context, req Request, chooser Chooser) (Result, error) {
	out, err := a.Disassembler.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return a.Wait(ctx, out, chooser)
}

// Wait runs posted work and answers interactive requests until out delivers.
// A nil chooser cancels every interactive request.
func (a *App) Wait(ctx context.Context, out <-chan Outcome, chooser Chooser) (Result, error) {
	var requests <-chan resolver.Request
	if a.interactive != nil {
		requests = a.interactive.Requests()
	}
	for {
		select {
		case o := <-out:
			a.dispatch.Drain()
			return o.Result, o.Err
		case <-a.dispatch.Ready():
			a.dispatch.Drain()
		case req := <-requests:
			resp := resolver.ResponseCancelled()
			if chooser != nil {
				resp = chooser.Choose(ctx, req)
			}
			req.Reply <- resp
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// publish runs on the worker and hands the assembly to the foreground.
func (a *App) publish(asm *metadata.Assembly) {
	a.dispatch.Post(func() { a.Cache.Add(asm) })
}

func (a *App) onCacheEvent(kind assemblies.EventKind, asm *metadata.Assembly) {
	a.Disassembler.Purge()
	if kind == assemblies.Removed {
		a.Chain.Forget(asm)
	}
	a.logger.Debug("assembly cache changed", "event", kind.String(), "assembly", asm.FullName())
}

// ApplyConfig swaps the search roots and repositories of a reloaded config.
func (a *App) ApplyConfig(cfg *config.Config) error {
	a.mu.Lock()
	base := a.paths.BaseDir
	a.mu.Unlock()

	paths, err := config.ResolvePaths(cfg, base)
	if err != nil {
		return err
	}
	if err := a.search.SetRoots(searchRoots(paths.SearchRoots)); err != nil {
		return err
	}
	if a.interactive != nil {
		a.interactive.SetRepositories(cfg.Resolver.RepositoryAddresses())
	}

	a.mu.Lock()
	a.cfg = cfg
	a.paths.SearchRoots = paths.SearchRoots
	a.mu.Unlock()

	if cfg.Watch.Enabled {
		if err := a.watchSearchRoots(); err != nil {
			a.logger.Warn("search root watcher disabled", "error", err)
		}
	} else {
		a.stopRootWatcher()
	}
	a.logger.Info("config applied", "search_roots", len(paths.SearchRoots), "repositories", len(cfg.Resolver.Repositories))
	return nil
}

// Close stops the worker, the watchers and the path store.
func (a *App) Close(ctx context.Context) error {
	err := a.Disassembler.Close(ctx)
	a.stopRootWatcher()
	a.client.Close()
	if cerr := a.closeStore(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) closeStore() error {
	if a.refStore == nil {
		return nil
	}
	err := a.refStore.Close()
	a.refStore = nil
	return err
}
