package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: ILVIEW_[SECTION]_[KEY] (e.g., ILVIEW_OBSERVABILITY_ADDRESS).
func ApplyEnvOverrides(cfg *Config) {
	// Paths
	setEnvString(&cfg.Paths.StateDir, "ILVIEW_PATHS_STATE_DIR")
	setEnvString(&cfg.Paths.CacheDir, "ILVIEW_PATHS_CACHE_DIR")
	setEnvString(&cfg.Paths.DatabaseDir, "ILVIEW_PATHS_DATABASE_DIR")

	// Database
	setEnvBool(&cfg.DB.Enabled, "ILVIEW_DB_ENABLED")
	setEnvString(&cfg.DB.Path, "ILVIEW_DB_PATH")
	setEnvDuration(&cfg.DB.BusyTimeout, "ILVIEW_DB_BUSY_TIMEOUT")

	// Resolver
	setEnvString(&cfg.Resolver.VersionCompare, "ILVIEW_RESOLVER_VERSION_COMPARE")
	setEnvBoolPtr(&cfg.Resolver.Interactive, "ILVIEW_RESOLVER_INTERACTIVE")
	setEnvDuration(&cfg.Resolver.Timeout, "ILVIEW_RESOLVER_TIMEOUT")
	setEnvFloat64(&cfg.Resolver.RateLimit.RequestsPerSecond, "ILVIEW_RESOLVER_RATE_LIMIT_REQUESTS_PER_SECOND")
	setEnvInt(&cfg.Resolver.RateLimit.Burst, "ILVIEW_RESOLVER_RATE_LIMIT_BURST")
	if val, ok := os.LookupEnv("ILVIEW_RESOLVER_REPOSITORIES"); ok {
		slog.Debug("applying env override", "key", "ILVIEW_RESOLVER_REPOSITORIES", "value", val)
		cfg.Resolver.Repositories = nil
		for _, address := range strings.Split(val, ",") {
			if address = strings.TrimSpace(address); address != "" {
				cfg.Resolver.Repositories = append(cfg.Resolver.Repositories, Repository{Address: address})
			}
		}
	}

	// Render
	setEnvString(&cfg.Render.Language, "ILVIEW_RENDER_LANGUAGE")
	setEnvBoolPtr(&cfg.Render.Full, "ILVIEW_RENDER_FULL")
	setEnvInt(&cfg.Render.CacheSize, "ILVIEW_RENDER_CACHE_SIZE")

	// Highlight
	setEnvString(&cfg.Highlight.Format, "ILVIEW_HIGHLIGHT_FORMAT")

	// Watch
	setEnvBool(&cfg.Watch.Enabled, "ILVIEW_WATCH_ENABLED")
	setEnvDuration(&cfg.Watch.Debounce, "ILVIEW_WATCH_DEBOUNCE")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "ILVIEW_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.Address, "ILVIEW_OBSERVABILITY_ADDRESS")
	setEnvBool(&cfg.Observability.EnableTracing, "ILVIEW_OBSERVABILITY_ENABLE_TRACING")
	setEnvString(&cfg.Observability.OTLPEndpoint, "ILVIEW_OBSERVABILITY_OTLP_ENDPOINT")

	// Repository server
	setEnvString(&cfg.RepositoryServer.Root, "ILVIEW_REPOSITORY_SERVER_ROOT")
	setEnvString(&cfg.RepositoryServer.Address, "ILVIEW_REPOSITORY_SERVER_ADDRESS")
	setEnvString(&cfg.RepositoryServer.VersionCompare, "ILVIEW_REPOSITORY_SERVER_VERSION_COMPARE")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = &b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
