package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ResolvedPaths struct {
	BaseDir        string
	StateDir       string
	CacheDir       string
	DatabaseDir    string
	DBPath         string
	LogPath        string
	RepositoryRoot string
	SearchRoots    []SearchRoot
}

// ResolvePaths anchors every relative path at base, normally the directory
// holding the config file.
func ResolvePaths(cfg *Config, base string) (ResolvedPaths, error) {
	if strings.TrimSpace(base) == "" {
		return ResolvedPaths{}, fmt.Errorf("base directory must not be empty")
	}
	base = filepath.Clean(base)

	stateDir := ResolveRelative(base, cfg.Paths.StateDir)
	cacheDir := ResolveRelative(base, cfg.Paths.CacheDir)
	databaseDir := ResolveRelative(base, cfg.Paths.DatabaseDir)

	dbPath := strings.TrimSpace(cfg.DB.Path)
	if filepath.IsAbs(dbPath) {
		dbPath = filepath.Clean(dbPath)
	} else {
		dbPath = filepath.Join(databaseDir, dbPath)
	}

	resolved := ResolvedPaths{
		BaseDir:     base,
		StateDir:    stateDir,
		CacheDir:    cacheDir,
		DatabaseDir: databaseDir,
		DBPath:      filepath.Clean(dbPath),
		LogPath:     filepath.Join(stateDir, "ilview.log"),
	}
	if root := strings.TrimSpace(cfg.RepositoryServer.Root); root != "" {
		resolved.RepositoryRoot = ResolveRelative(base, root)
	}
	for _, root := range cfg.Resolver.SearchRoots {
		root.Path = ResolveRelative(base, root.Path)
		resolved.SearchRoots = append(resolved.SearchRoots, root)
	}
	return resolved, nil
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}

// FindConfigFile walks up from start looking for ilview.toml, directly or
// under data/config. It reports false when none exists.
func FindConfigFile(start string) (string, bool) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	markers := []string{
		DefaultFileName,
		filepath.Join("data", "config", DefaultFileName),
	}
	for dir := abs; ; {
		for _, marker := range markers {
			candidate := filepath.Join(dir, marker)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
