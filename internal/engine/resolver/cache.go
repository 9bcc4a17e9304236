package resolver

import (
	"context"
	"strings"

	"ilview/internal/data/assemblies"
	"ilview/internal/engine/metadata"
	"ilview/internal/engine/repository"
)

// CacheStrategy answers with an already loaded assembly of exactly the
// requested full name.
type CacheStrategy struct {
	Cache *assemblies.Cache
}

func (CacheStrategy) Name() string { return "cache" }
func (CacheStrategy) fromCache()   {}

func (s CacheStrategy) Resolve(_ context.Context, _ *metadata.Assembly, ref *metadata.AssemblyName) (*metadata.Assembly, error) {
	return s.Cache.Find(ref.FullName()), nil
}

// RelaxedStrategy accepts a loaded assembly of any version when name,
// culture and public key token agree. The greatest version wins.
type RelaxedStrategy struct {
	Cache   *assemblies.Cache
	Compare repository.VersionCompare
}

func (RelaxedStrategy) Name() string { return "relaxed" }
func (RelaxedStrategy) fromCache()   {}

func (s RelaxedStrategy) Resolve(_ context.Context, _ *metadata.Assembly, ref *metadata.AssemblyName) (*metadata.Assembly, error) {
	compare := s.Compare
	if compare == "" {
		compare = repository.CompareNumeric
	}

	var (
		best   *metadata.Assembly
		bestID string
	)
	for _, asm := range s.Cache.FindByName(ref.Name) {
		if !strings.EqualFold(asm.Name.CultureString(), ref.CultureString()) {
			continue
		}
		if !asm.Name.SameToken(ref) {
			continue
		}
		id := repository.Identity(asm.Name)
		if best == nil || compare.Compare(id, bestID) > 0 {
			best, bestID = asm, id
		}
	}
	return best, nil
}
