package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
[db]
enabled = true
busy_timeout = "3s"

[resolver]
version_compare = "textual"
interactive = false
timeout = "10s"

[[resolver.search_roots]]
path = "libs"
recursive = true
exclude = ["obj", "**/bin/*.dll"]

[[resolver.search_roots]]
path = "/opt/assemblies"

[[resolver.repositories]]
address = "http://repo.example.com/repository"

[resolver.rate_limit]
requests_per_second = 2.5
burst = 3

[render]
language = "csharp"
full = true
cache_size = 16

[highlight]
format = "html"

[watch]
enabled = true
debounce = "1s"

[observability]
enabled = true
enable_tracing = true
otlp_endpoint = "collector:4317"

[repository_server]
root = "repo"
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !cfg.DB.Enabled || cfg.DB.BusyTimeout != 3*time.Second {
		t.Errorf("unexpected db section: %+v", cfg.DB)
	}
	if cfg.DB.Path != "refpaths.db" {
		t.Errorf("expected default db path, got %q", cfg.DB.Path)
	}
	r := cfg.Resolver
	if r.VersionCompare != "textual" || r.IsInteractive() || r.Timeout != 10*time.Second {
		t.Errorf("unexpected resolver section: %+v", r)
	}
	if len(r.SearchRoots) != 2 || !r.SearchRoots[0].Recursive || r.SearchRoots[1].Recursive {
		t.Fatalf("unexpected search roots: %+v", r.SearchRoots)
	}
	if got := r.RepositoryAddresses(); len(got) != 1 || got[0] != "http://repo.example.com/repository" {
		t.Errorf("unexpected repositories: %v", got)
	}
	if r.RateLimit.RequestsPerSecond != 2.5 || r.RateLimit.Burst != 3 {
		t.Errorf("unexpected rate limit: %+v", r.RateLimit)
	}
	if cfg.Render.Language != "csharp" || cfg.Render.Full == nil || !*cfg.Render.Full || cfg.Render.CacheSize != 16 {
		t.Errorf("unexpected render section: %+v", cfg.Render)
	}
	if cfg.Highlight.Format != "html" {
		t.Errorf("expected html format, got %q", cfg.Highlight.Format)
	}
	if !cfg.Watch.Enabled || cfg.Watch.Debounce != time.Second {
		t.Errorf("unexpected watch section: %+v", cfg.Watch)
	}
	if cfg.Observability.Address != "127.0.0.1:9464" || cfg.Observability.OTLPEndpoint != "collector:4317" {
		t.Errorf("unexpected observability section: %+v", cfg.Observability)
	}
	if cfg.RepositoryServer.VersionCompare != "textual" {
		t.Errorf("expected textual server compare by default, got %q", cfg.RepositoryServer.VersionCompare)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Resolver.VersionCompare != "numeric" {
		t.Errorf("expected numeric resolver compare, got %q", cfg.Resolver.VersionCompare)
	}
	if !cfg.Resolver.IsInteractive() {
		t.Error("interactive resolution should default to on")
	}
	if cfg.Render.Language != "il" || cfg.Render.Full != nil {
		t.Errorf("unexpected render defaults: %+v", cfg.Render)
	}
	if cfg.Highlight.Format != "ansi" {
		t.Errorf("expected ansi, got %q", cfg.Highlight.Format)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("defaults should validate, got %v", errs)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"version": "version = 3",
		"empty root": `
[[resolver.search_roots]]
path = " "`,
		"bad glob": `
[[resolver.search_roots]]
path = "libs"
exclude = ["[oops"]`,
		"bad repository": `
[[resolver.repositories]]
address = "ftp://repo"`,
		"duplicate repository": `
[[resolver.repositories]]
address = "http://repo"
[[resolver.repositories]]
address = "http://repo"`,
		"compare":   "[resolver]\nversion_compare = \"semver\"",
		"format":    "[highlight]\nformat = \"rtf\"",
		"cache":     "[render]\ncache_size = -1",
		"rate":      "[resolver.rate_limit]\nburst = -2",
		"bad toml":  "[render\n",
		"srv order": "[repository_server]\nversion_compare = \"random\"",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(content); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ILVIEW_RENDER_LANGUAGE", "csharp")
	t.Setenv("ILVIEW_RENDER_FULL", "false")
	t.Setenv("ILVIEW_RESOLVER_INTERACTIVE", "no-such-bool")
	t.Setenv("ILVIEW_RESOLVER_REPOSITORIES", "http://a.example, ,http://b.example")
	t.Setenv("ILVIEW_DB_BUSY_TIMEOUT", "750ms")
	t.Setenv("ILVIEW_RESOLVER_RATE_LIMIT_REQUESTS_PER_SECOND", "9")

	cfg := Default()
	if cfg.Render.Language != "csharp" {
		t.Errorf("expected env language, got %q", cfg.Render.Language)
	}
	if cfg.Render.Full == nil || *cfg.Render.Full {
		t.Errorf("expected full=false from env, got %v", cfg.Render.Full)
	}
	if !cfg.Resolver.IsInteractive() {
		t.Error("an unparsable bool must leave the default in place")
	}
	if got := cfg.Resolver.RepositoryAddresses(); strings.Join(got, "|") != "http://a.example|http://b.example" {
		t.Errorf("unexpected repositories: %v", got)
	}
	if cfg.DB.BusyTimeout != 750*time.Millisecond {
		t.Errorf("unexpected busy timeout %v", cfg.DB.BusyTimeout)
	}
	if cfg.Resolver.RateLimit.RequestsPerSecond != 9 {
		t.Errorf("unexpected rate %v", cfg.Resolver.RateLimit.RequestsPerSecond)
	}
}

func TestResolvePaths(t *testing.T) {
	base := t.TempDir()
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ResolvePaths(cfg, base)
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath != filepath.Join(base, "data", "database", "refpaths.db") {
		t.Errorf("unexpected db path: %q", got.DBPath)
	}
	if got.LogPath != filepath.Join(base, "data", "state", "ilview.log") {
		t.Errorf("unexpected log path: %q", got.LogPath)
	}
	if got.RepositoryRoot != filepath.Join(base, "repo") {
		t.Errorf("unexpected repository root: %q", got.RepositoryRoot)
	}
	if len(got.SearchRoots) != 2 ||
		got.SearchRoots[0].Path != filepath.Join(base, "libs") ||
		got.SearchRoots[1].Path != filepath.Clean("/opt/assemblies") {
		t.Errorf("unexpected search roots: %+v", got.SearchRoots)
	}
	if cfg.Resolver.SearchRoots[0].Path != "libs" {
		t.Error("ResolvePaths must not modify the config")
	}

	cfg.DB.Path = filepath.Join(base, "custom", "refs.db")
	got, err = ResolvePaths(cfg, base)
	if err != nil {
		t.Fatal(err)
	}
	if got.DBPath != cfg.DB.Path {
		t.Errorf("absolute db path should win, got %q", got.DBPath)
	}

	if _, err := ResolvePaths(cfg, " "); err == nil {
		t.Error("expected empty base to be rejected")
	}
}

func TestFindConfigFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, ok := FindConfigFile(nested); ok {
		t.Fatal("expected no config yet")
	}

	want := filepath.Join(root, "data", "config", DefaultFileName)
	if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	got, ok := FindConfigFile(nested)
	if !ok || got != want {
		t.Fatalf("expected %q, got %q (%v)", want, got, ok)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte("[render]\nlanguage = \"il\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// An invalid edit is ignored.
	if err := os.WriteFile(path, []byte("[highlight]\nformat = \"rtf\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[render]\nlanguage = \"csharp\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Render.Language == "csharp" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
