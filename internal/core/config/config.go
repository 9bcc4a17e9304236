package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFileName is looked up next to the working directory when no
// config path is given.
const DefaultFileName = "ilview.toml"

type Config struct {
	Version          int              `toml:"version"`
	Paths            Paths            `toml:"paths"`
	DB               Database         `toml:"db"`
	Resolver         Resolver         `toml:"resolver"`
	Render           Render           `toml:"render"`
	Highlight        Highlight        `toml:"highlight"`
	Watch            Watch            `toml:"watch"`
	Observability    Observability    `toml:"observability"`
	RepositoryServer RepositoryServer `toml:"repository_server"`
}

type Paths struct {
	StateDir    string `toml:"state_dir"`
	CacheDir    string `toml:"cache_dir"`
	DatabaseDir string `toml:"database_dir"`
}

type Database struct {
	Enabled     bool          `toml:"enabled"`
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type Resolver struct {
	SearchRoots    []SearchRoot  `toml:"search_roots"`
	Repositories   []Repository  `toml:"repositories"`
	VersionCompare string        `toml:"version_compare"`
	Interactive    *bool         `toml:"interactive"`
	RateLimit      RateLimit     `toml:"rate_limit"`
	Timeout        time.Duration `toml:"timeout"`
}

type SearchRoot struct {
	Path      string   `toml:"path"`
	Recursive bool     `toml:"recursive"`
	Exclude   []string `toml:"exclude"`
}

type Repository struct {
	Address string `toml:"address"`
}

type RateLimit struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type Render struct {
	Language string `toml:"language"`
	// Full forces full or header-only output; unset keeps the per-entity default.
	Full      *bool `toml:"full"`
	CacheSize int   `toml:"cache_size"`
}

type Highlight struct {
	Format string `toml:"format"`
}

type Watch struct {
	Enabled  bool          `toml:"enabled"`
	Debounce time.Duration `toml:"debounce"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled"`
	Address       string `toml:"address"`
	EnableTracing bool   `toml:"enable_tracing"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
}

type RepositoryServer struct {
	Root           string `toml:"root"`
	Address        string `toml:"address"`
	VersionCompare string `toml:"version_compare"`
}

// IsInteractive defaults to true.
func (r Resolver) IsInteractive() bool {
	if r.Interactive == nil {
		return true
	}
	return *r.Interactive
}

// RepositoryAddresses lists the configured repositories in order.
func (r Resolver) RepositoryAddresses() []string {
	out := make([]string, 0, len(r.Repositories))
	for _, repo := range r.Repositories {
		out = append(out, strings.TrimSpace(repo.Address))
	}
	return out
}

// Load reads, defaults, overrides from the environment and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse is Load without the file read.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errs[0]
	}
	return &cfg, nil
}

// Default is the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Paths.StateDir) == "" {
		cfg.Paths.StateDir = "data/state"
	}
	if strings.TrimSpace(cfg.Paths.CacheDir) == "" {
		cfg.Paths.CacheDir = "data/cache"
	}
	if strings.TrimSpace(cfg.Paths.DatabaseDir) == "" {
		cfg.Paths.DatabaseDir = "data/database"
	}

	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = "refpaths.db"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 2 * time.Second
	}

	if strings.TrimSpace(cfg.Resolver.VersionCompare) == "" {
		cfg.Resolver.VersionCompare = "numeric"
	}
	if cfg.Resolver.RateLimit.RequestsPerSecond == 0 {
		cfg.Resolver.RateLimit.RequestsPerSecond = 4
	}
	if cfg.Resolver.RateLimit.Burst == 0 {
		cfg.Resolver.RateLimit.Burst = 4
	}
	if cfg.Resolver.Timeout <= 0 {
		cfg.Resolver.Timeout = 30 * time.Second
	}

	if strings.TrimSpace(cfg.Render.Language) == "" {
		cfg.Render.Language = "il"
	}
	if cfg.Render.CacheSize == 0 {
		cfg.Render.CacheSize = 128
	}

	if strings.TrimSpace(cfg.Highlight.Format) == "" {
		cfg.Highlight.Format = "ansi"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9464"
	}

	if strings.TrimSpace(cfg.RepositoryServer.Address) == "" {
		cfg.RepositoryServer.Address = "127.0.0.1:8080"
	}
	if strings.TrimSpace(cfg.RepositoryServer.VersionCompare) == "" {
		cfg.RepositoryServer.VersionCompare = "textual"
	}
}
