package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Validate returns every problem found, in section order.
func Validate(cfg *Config) []error {
	var errs []error

	if err := validateVersion(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateDatabase(cfg); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateResolver(cfg)...)
	if err := validateRender(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateHighlight(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateRepositoryServer(cfg); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if cfg.DB.Enabled && strings.TrimSpace(cfg.DB.Path) == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	return nil
}

func validateResolver(cfg *Config) []error {
	var errs []error
	r := cfg.Resolver

	for i, root := range r.SearchRoots {
		ref := fmt.Sprintf("resolver.search_roots[%d]", i)
		if strings.TrimSpace(root.Path) == "" {
			errs = append(errs, fmt.Errorf("%s.path must not be empty", ref))
		}
		for _, pattern := range root.Exclude {
			if _, err := glob.Compile(pattern, '/'); err != nil {
				errs = append(errs, fmt.Errorf("%s.exclude pattern %q: %w", ref, pattern, err))
			}
		}
	}

	seen := make(map[string]bool, len(r.Repositories))
	for i, repo := range r.Repositories {
		ref := fmt.Sprintf("resolver.repositories[%d]", i)
		address := strings.TrimSpace(repo.Address)
		u, err := url.Parse(address)
		if address == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.address must be an http(s) URL, got %q", ref, repo.Address))
			continue
		}
		if seen[address] {
			errs = append(errs, fmt.Errorf("duplicate repository address %q", address))
		}
		seen[address] = true
	}

	if err := validateVersionCompare("resolver.version_compare", r.VersionCompare); err != nil {
		errs = append(errs, err)
	}
	if r.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("resolver.rate_limit.requests_per_second must be >= 0"))
	}
	if r.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("resolver.rate_limit.burst must be >= 0"))
	}
	return errs
}

func validateRender(cfg *Config) error {
	if cfg.Render.CacheSize < 0 {
		return fmt.Errorf("render.cache_size must be >= 0, got %d", cfg.Render.CacheSize)
	}
	return nil
}

func validateHighlight(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Highlight.Format)) {
	case "none", "ansi", "html":
		return nil
	}
	return fmt.Errorf("highlight.format must be one of: none, ansi, html")
}

func validateRepositoryServer(cfg *Config) error {
	return validateVersionCompare("repository_server.version_compare", cfg.RepositoryServer.VersionCompare)
}

func validateVersionCompare(key, value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "numeric", "textual":
		return nil
	}
	return fmt.Errorf("%s must be one of: numeric, textual", key)
}
