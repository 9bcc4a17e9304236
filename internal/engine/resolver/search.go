package resolver

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"ilview/internal/core/errors"
	"ilview/internal/data/assemblies"
	"ilview/internal/data/refpaths"
	"ilview/internal/engine/metadata"
	"ilview/internal/shared/util"
)

// SearchRoot is a directory probed for "<Name>.dll" files.
type SearchRoot struct {
	Path      string
	Recursive bool
	// Exclude globs are matched against the root-relative slash path and
	// against each of its elements.
	Exclude []string
}

// PathStore remembers where a reference was found last time.
type PathStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, path string) error
	Delete(ctx context.Context, key string) error
}

type compiledRoot struct {
	SearchRoot
	excludes []glob.Glob
}

// SearchPathStrategy looks for the reference on disk.
type SearchPathStrategy struct {
	store  PathStore
	logger *slog.Logger

	mu    sync.RWMutex
	roots []compiledRoot
}

// NewSearchPathStrategy compiles the root excludes. store may be nil.
func NewSearchPathStrategy(roots []SearchRoot, store PathStore, logger *slog.Logger) (*SearchPathStrategy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SearchPathStrategy{store: store, logger: logger}
	if err := s.SetRoots(roots); err != nil {
		return nil, err
	}
	return s, nil
}

func (*SearchPathStrategy) Name() string { return "search_path" }

// SetRoots replaces the roots, for example after a config reload.
func (s *SearchPathStrategy) SetRoots(roots []SearchRoot) error {
	compiled, err := compileRoots(roots)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.roots = compiled
	s.mu.Unlock()
	return nil
}

func compileRoots(roots []SearchRoot) ([]compiledRoot, error) {
	out := make([]compiledRoot, 0, len(roots))
	for _, r := range roots {
		cr := compiledRoot{SearchRoot: r}
		for _, pattern := range r.Exclude {
			g, err := glob.Compile(pattern, '/')
			if err != nil {
				werr := errors.Wrap(err, errors.CodeValidationError, "invalid exclude pattern "+pattern)
				return nil, errors.AddContext(werr, errors.CtxPath, r.Path)
			}
			cr.excludes = append(cr.excludes, g)
		}
		out = append(out, cr)
	}
	return out, nil
}

// Roots returns the configured roots.
func (s *SearchPathStrategy) Roots() []SearchRoot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SearchRoot, len(s.roots))
	for i, r := range s.roots {
		out[i] = r.SearchRoot
	}
	return out
}

// Excluded reports whether path falls under a root that excludes it.
func (s *SearchPathStrategy) Excluded(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roots {
		if r.contains(path) && r.excluded(path) {
			return true
		}
	}
	return false
}

func (r compiledRoot) contains(path string) bool {
	return util.WithinDir(filepath.ToSlash(path), filepath.ToSlash(r.Path))
}

func (r compiledRoot) excluded(path string) bool {
	rel, err := filepath.Rel(r.Path, path)
	if err != nil {
		rel = path
	}
	rel = util.SlashPath(filepath.ToSlash(rel))
	for _, g := range r.excludes {
		if g.Match(rel) {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if g.Match(part) {
				return true
			}
		}
	}
	return false
}

func (s *SearchPathStrategy) Resolve(ctx context.Context, _ *metadata.Assembly, ref *metadata.AssemblyName) (*metadata.Assembly, error) {
	fullName := ref.FullName()
	key := refpaths.Key(fullName)

	if s.store != nil {
		path, ok, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.Warn("ref path lookup failed", "reference", fullName, "error", err)
		} else if ok {
			if asm := s.tryLoad(path, fullName); asm != nil {
				return asm, nil
			}
			if err := s.store.Delete(ctx, key); err != nil {
				s.logger.Warn("drop stale ref path failed", "reference", fullName, "error", err)
			}
		}
	}

	s.mu.RLock()
	roots := s.roots
	s.mu.RUnlock()

	fileName := ref.Name + ".dll"
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var found *metadata.Assembly
		path := root.find(ctx, fileName, s.logger, func(candidate string) bool {
			found = s.tryLoad(candidate, fullName)
			return found != nil
		})
		if found == nil {
			continue
		}
		if s.store != nil {
			if err := s.store.Put(ctx, key, path); err != nil {
				s.logger.Warn("store ref path failed", "reference", fullName, "path", path, "error", err)
			}
		}
		return found, nil
	}
	return nil, nil
}

// find offers each file named fileName (case-insensitively) under the root
// to accept, and stops at the first one accepted. It returns that path, or
// "" when nothing was accepted.
func (r compiledRoot) find(ctx context.Context, fileName string, logger *slog.Logger, accept func(path string) bool) string {
	if !r.Recursive {
		path := filepath.Join(r.Path, fileName)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && !r.excluded(path) && accept(path) {
			return path
		}
		return ""
	}

	var hit string
	err := filepath.WalkDir(r.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.Path {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if path != r.Path && r.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.EqualFold(d.Name(), fileName) && accept(path) {
			hit = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		logger.Warn("search root unreadable", "root", r.Path, "error", err)
	}
	return hit
}

func (s *SearchPathStrategy) tryLoad(path, fullName string) *metadata.Assembly {
	asm, err := assemblies.Load(assemblies.FileSource{Path: path})
	if err != nil {
		s.logger.Debug("skip search candidate", "path", path, "error", err)
		return nil
	}
	if asm.FullName() != fullName {
		return nil
	}
	return asm
}
