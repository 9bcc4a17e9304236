package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	coreapp "ilview/internal/core/app"
	"ilview/internal/core/config"
	"ilview/internal/engine/repository"
	"ilview/internal/shared/observability"
	"ilview/internal/shared/util"
	"ilview/internal/ui/chooser"
	"ilview/internal/ui/format"
)

func Run(args []string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return 2
	}
	if opts.version {
		fmt.Fprintf(stdout, "ilview v%s\n", versionString)
		return 0
	}
	if err := validateOptions(opts); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}

	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "failed to detect working directory: %v\n", err)
		return 1
	}
	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	paths, err := config.ResolvePaths(cfg, projectRoot(cfgPath, cwd))
	if err != nil {
		fmt.Fprintf(stderr, "failed to resolve runtime paths: %v\n", err)
		return 1
	}
	if err := applyOptions(opts, cfg); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}

	cleanupLogs := configureLogging(opts.ui, opts.verbose, paths.LogPath, stderr)
	defer cleanupLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.SetupTracing(ctx, cfg.Observability.OTLPEndpoint)
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	if opts.serveRepository {
		if err := runRepositoryServer(ctx, cfg, paths); err != nil {
			slog.Error("repository server failed", "error", err)
			return 1
		}
		return 0
	}

	if err := runDisassemble(ctx, opts, cfg, cfgPath, paths, stdout); err != nil {
		slog.Error("disassembly failed", "error", err)
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

func loadConfig(path, cwd string) (*config.Config, string, error) {
	if strings.TrimSpace(path) != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		return cfg, abs, nil
	}
	found, ok := config.FindConfigFile(cwd)
	if !ok {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(found)
	if err != nil {
		return nil, "", err
	}
	return cfg, found, nil
}

// projectRoot anchors relative config paths: the directory holding the
// config file, or the one above data/config.
func projectRoot(cfgPath, cwd string) string {
	if cfgPath == "" {
		return cwd
	}
	dir := filepath.Dir(cfgPath)
	if filepath.Base(dir) == "config" && filepath.Base(filepath.Dir(dir)) == "data" {
		return filepath.Dir(filepath.Dir(dir))
	}
	return dir
}

func applyOptions(opts cliOptions, cfg *config.Config) error {
	if opts.language != "" {
		cfg.Render.Language = opts.language
	}
	if opts.full || opts.header {
		full := opts.full
		cfg.Render.Full = &full
	}
	if opts.format != "" {
		cfg.Highlight.Format = opts.format
	}
	if !opts.ui {
		// Without a terminal to ask on, only the automatic strategies run.
		interactive := false
		cfg.Resolver.Interactive = &interactive
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func runDisassemble(ctx context.Context, opts cliOptions, cfg *config.Config, cfgPath string, paths config.ResolvedPaths, stdout io.Writer) error {
	app, err := coreapp.New(cfg, paths, coreapp.Options{Strict: opts.strict, Logger: slog.Default()})
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(cctx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()

	if cfg.Observability.Enabled {
		server := NewObservabilityServer(cfg.Observability.Address, coreapp.NewHealthService(app))
		if err := server.Start(ctx); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(sctx)
		}()
	}
	if cfg.Watch.Enabled && cfgPath != "" {
		w, err := app.WatchConfig(ctx, cfgPath)
		if err != nil {
			slog.Warn("config watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	asm, err := app.OpenFile(opts.args[0])
	if err != nil {
		return err
	}
	slog.Debug("memory after load", "heap_mb", util.ReadMemoryStats().HeapAllocMB)

	if opts.list {
		return writeOutput(opts.out, stdout, listAssembly(asm))
	}

	selector := ""
	if len(opts.args) > 1 {
		selector = opts.args[1]
	}
	entity, err := selectEntity(app.Cache.All(), asm, opts.uri, selector)
	if err != nil {
		return err
	}

	var ask coreapp.Chooser
	if opts.ui {
		ask = chooser.New(app.Cache.All, slog.Default())
	}
	res, err := app.Disassemble(ctx, coreapp.Request{Entity: entity}, ask)
	if err != nil {
		return err
	}
	if len(res.Unresolved) > 0 {
		slog.Warn("output has unresolved references", "count", len(res.Unresolved), "references", res.Unresolved)
	}
	if res.SkippedAttributes > 0 {
		slog.Warn("inconsistent custom attributes skipped", "count", res.SkippedAttributes)
	}

	var target io.Writer = stdout
	if opts.out != "" {
		target = nil
	}
	f, err := format.New(cfg.Highlight.Format, target)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, res.Text, res.Scopes); err != nil {
		return err
	}
	return writeOutput(opts.out, stdout, buf.String())
}

func writeOutput(path string, stdout io.Writer, content string) error {
	if path == "" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	if err := util.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return err
	}
	slog.Info("output written", "path", path, "bytes", len(content))
	return nil
}

func runRepositoryServer(ctx context.Context, cfg *config.Config, paths config.ResolvedPaths) error {
	if paths.RepositoryRoot == "" {
		return errors.New("repository_server.root is not configured")
	}
	compare, err := repository.ParseVersionCompare(cfg.RepositoryServer.VersionCompare)
	if err != nil {
		return err
	}
	srv, err := repository.NewServer(paths.RepositoryRoot, compare, slog.Default())
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.RepositoryServer.Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("repository server starting", "addr", server.Addr, "root", paths.RepositoryRoot)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(sctx)
}

func configureLogging(uiMode, verbose bool, logPath string, stderr io.Writer) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	output := stderr
	closeFn := func() {}
	if uiMode && logPath != "" {
		// Keep the chooser screen free of log lines.
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			fmt.Fprintf(stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
			fmt.Fprintf(stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
		} else {
			f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err == nil {
				output = f
				closeFn = func() { _ = f.Close() }
			} else {
				fmt.Fprintf(stderr, "warning: failed to open log file %s: %v\n", logPath, err)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}
