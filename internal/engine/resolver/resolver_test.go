package resolver

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/core/errors"
	"ilview/internal/data/assemblies"
	"ilview/internal/data/refpaths"
	"ilview/internal/engine/metadata"
	mdt "ilview/internal/engine/metadata/metadatatest"
	"ilview/internal/engine/repository"
)

func image(name, version string, key []byte) []byte {
	b := mdt.New(name, version)
	if key != nil {
		b.SetPublicKey(key)
	}
	b.DefineType(name, "Thing", metadata.TypePublic, b.CorlibType("Object"))
	return b.Bytes()
}

func loadImage(t *testing.T, name, version string) *metadata.Assembly {
	t.Helper()
	asm, err := assemblies.Load(assemblies.MemorySource{Label: name, Data: image(name, version, nil)})
	require.NoError(t, err)
	return asm
}

func refTo(t *testing.T, fullName string) *metadata.AssemblyName {
	t.Helper()
	n, err := metadata.ParseAssemblyName(fullName)
	require.NoError(t, err)
	return n
}

func writeImage(t *testing.T, dir, name, version string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name+".dll")
	require.NoError(t, os.WriteFile(path, image(name, version, nil), 0o644))
	return path
}

type countingStrategy struct {
	name   string
	answer *metadata.Assembly
	err    error
	calls  int
	cached bool
}

func (s *countingStrategy) Name() string { return s.name }

func (s *countingStrategy) Resolve(context.Context, *metadata.Assembly, *metadata.AssemblyName) (*metadata.Assembly, error) {
	s.calls++
	return s.answer, s.err
}

type cachedCounting struct{ *countingStrategy }

func (cachedCounting) fromCache() {}

func TestChainRunsStrategiesInOrder(t *testing.T) {
	lib := loadImage(t, "Lib", "1.0.0.0")
	ref := lib.Name

	cache := &countingStrategy{name: "cache"}
	relaxed := &countingStrategy{name: "relaxed"}
	search := &countingStrategy{name: "search_path", err: errors.New(errors.CodeInternal, "disk on fire")}
	interactive := &countingStrategy{name: "interactive", answer: lib}
	never := &countingStrategy{name: "never", answer: lib}

	var published []*metadata.Assembly
	chain := NewChain(func(a *metadata.Assembly) { published = append(published, a) }, nil,
		cachedCounting{cache}, cachedCounting{relaxed}, search, interactive, never)
	assert.Equal(t, []string{"cache", "relaxed", "search_path", "interactive", "never"}, chain.Strategies())

	got, err := chain.Resolve(context.Background(), nil, ref)
	require.NoError(t, err)
	assert.Same(t, lib, got)
	assert.Equal(t, []int{1, 1, 1, 1, 0}, []int{cache.calls, relaxed.calls, search.calls, interactive.calls, never.calls})
	require.Len(t, published, 1)
	assert.Same(t, lib, published[0])

	// Found assemblies are remembered until forgotten.
	got, err = chain.Resolve(context.Background(), nil, ref)
	require.NoError(t, err)
	assert.Same(t, lib, got)
	assert.Equal(t, 1, cache.calls)

	chain.Forget(lib)
	_, err = chain.Resolve(context.Background(), nil, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.calls)
}

func TestChainCacheHitsAreNotPublished(t *testing.T) {
	lib := loadImage(t, "Lib", "1.0.0.0")
	cache := &countingStrategy{name: "cache", answer: lib}
	later := &countingStrategy{name: "later"}

	published := 0
	chain := NewChain(func(*metadata.Assembly) { published++ }, nil, cachedCounting{cache}, later)
	got, err := chain.Resolve(context.Background(), nil, lib.Name)
	require.NoError(t, err)
	assert.Same(t, lib, got)
	assert.Zero(t, published)
	assert.Zero(t, later.calls)
}

func TestChainFailureIsUnresolved(t *testing.T) {
	chain := NewChain(nil, nil, &countingStrategy{name: "a"}, &countingStrategy{name: "b"})
	ref := refTo(t, "Missing, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null")

	_, err := chain.For(nil).ResolveAssembly(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnresolvedReference))
	var de *errors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ref.FullName(), de.Context[errors.CtxReference])
	assert.Nil(t, de.Context[errors.CtxCancelled])
}

func TestChainStopsOnCancel(t *testing.T) {
	cancel := &countingStrategy{name: "interactive", err: errResolutionCancelled}
	after := &countingStrategy{name: "after"}
	chain := NewChain(nil, nil, cancel, after)

	_, err := chain.Resolve(context.Background(), nil, refTo(t, "Lib, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null"))
	require.True(t, errors.IsCode(err, errors.CodeUnresolvedReference))
	var de *errors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, true, de.Context[errors.CtxCancelled])
	assert.Zero(t, after.calls)
}

func TestCacheAndRelaxedStrategies(t *testing.T) {
	cache := assemblies.NewCache()
	v1 := loadImage(t, "Lib", "1.0.0.0")
	v9 := loadImage(t, "Lib", "9.0.0.0")
	v10 := loadImage(t, "Lib", "10.0.0.0")
	for _, a := range []*metadata.Assembly{v1, v9, v10} {
		cache.Add(a)
	}
	signed, err := assemblies.Load(assemblies.MemorySource{Label: "Lib", Data: image("Lib", "11.0.0.0", []byte{0, 0x24, 0xab})})
	require.NoError(t, err)
	cache.Add(signed)

	ctx := context.Background()
	exact, err := CacheStrategy{Cache: cache}.Resolve(ctx, nil, v9.Name)
	require.NoError(t, err)
	assert.Same(t, v9, exact)

	ref := refTo(t, "lib, Version=3.0.0.0, Culture=neutral, PublicKeyToken=null")
	miss, err := CacheStrategy{Cache: cache}.Resolve(ctx, nil, ref)
	require.NoError(t, err)
	assert.Nil(t, miss)

	numeric, err := RelaxedStrategy{Cache: cache}.Resolve(ctx, nil, ref)
	require.NoError(t, err)
	assert.Same(t, v10, numeric)

	textual, err := RelaxedStrategy{Cache: cache, Compare: repository.CompareTextual}.Resolve(ctx, nil, ref)
	require.NoError(t, err)
	assert.Same(t, v9, textual)

	other := refTo(t, "Lib, Version=3.0.0.0, Culture=de-DE, PublicKeyToken=null")
	none, err := RelaxedStrategy{Cache: cache}.Resolve(ctx, nil, other)
	require.NoError(t, err)
	assert.Nil(t, none)

	tokened := &metadata.AssemblyName{Name: "Lib", PublicKeyToken: signed.Name.PublicKeyToken}
	found, err := RelaxedStrategy{Cache: cache}.Resolve(ctx, nil, tokened)
	require.NoError(t, err)
	assert.Same(t, signed, found)
}

func TestSearchRootStopsAtFirstAcceptedFile(t *testing.T) {
	root := t.TempDir()
	first := writeImage(t, filepath.Join(root, "a"), "Lib", "1.0.0.0")
	writeImage(t, filepath.Join(root, "b"), "Lib", "1.0.0.0")
	writeImage(t, filepath.Join(root, "c", "d"), "Lib", "1.0.0.0")

	s, err := NewSearchPathStrategy([]SearchRoot{{Path: root, Recursive: true}}, nil, nil)
	require.NoError(t, err)
	r := s.roots[0]
	ctx := context.Background()

	var offered []string
	got := r.find(ctx, "lib.DLL", s.logger, func(path string) bool {
		offered = append(offered, path)
		return true
	})
	assert.Equal(t, first, got)
	assert.Equal(t, []string{first}, offered)

	offered = nil
	got = r.find(ctx, "Lib.dll", s.logger, func(path string) bool {
		offered = append(offered, path)
		return false
	})
	assert.Empty(t, got)
	assert.Len(t, offered, 3)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	offered = nil
	assert.Empty(t, r.find(cancelled, "Lib.dll", s.logger, func(path string) bool {
		offered = append(offered, path)
		return false
	}))
	assert.Empty(t, offered)
}

func TestRelaxedStrategyKeepsTokenPresence(t *testing.T) {
	cases := []struct {
		name       string
		defined    []byte
		referenced []byte
		match      bool
	}{
		{"absent both", nil, nil, true},
		{"zero length both", []byte{}, []byte{}, true},
		{"absent reference, zero length definition", []byte{}, nil, false},
		{"zero length reference, absent definition", nil, []byte{}, false},
		{"token vs absent", []byte{1, 2, 3, 4, 5, 6, 7, 8}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := assemblies.NewCache()
			def := &metadata.Assembly{Name: &metadata.AssemblyName{
				Name: "Lib", Version: metadata.Version{Major: 2}, PublicKeyToken: tc.defined,
			}}
			cache.Add(def)

			ref := &metadata.AssemblyName{Name: "Lib", Version: metadata.Version{Major: 1}, PublicKeyToken: tc.referenced}
			got, err := RelaxedStrategy{Cache: cache}.Resolve(context.Background(), nil, ref)
			require.NoError(t, err)
			if tc.match {
				assert.Same(t, def, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestSearchPathStrategy(t *testing.T) {
	root := t.TempDir()
	nested := writeImage(t, filepath.Join(root, "sub", "deeper"), "Lib", "1.0.0.0")
	writeImage(t, filepath.Join(root, "obj"), "Lib", "1.0.0.0")
	writeImage(t, filepath.Join(root, "old"), "Lib", "0.9.0.0")
	ref := refTo(t, "Lib, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null")
	ctx := context.Background()

	flat, err := NewSearchPathStrategy([]SearchRoot{{Path: root}}, nil, nil)
	require.NoError(t, err)
	asm, err := flat.Resolve(ctx, nil, ref)
	require.NoError(t, err)
	assert.Nil(t, asm, "non-recursive roots only probe the top level")

	store, err := refpaths.Open(filepath.Join(t.TempDir(), "refs.db"), 0)
	require.NoError(t, err)
	defer store.Close()

	deep, err := NewSearchPathStrategy([]SearchRoot{{Path: root, Recursive: true, Exclude: []string{"obj"}}}, store, nil)
	require.NoError(t, err)
	asm, err = deep.Resolve(ctx, nil, ref)
	require.NoError(t, err)
	require.NotNil(t, asm)
	assert.Equal(t, nested, asm.Location)
	assert.True(t, deep.Excluded(filepath.Join(root, "obj", "Lib.dll")))
	assert.False(t, deep.Excluded(nested))

	path, ok, err := store.Get(ctx, refpaths.Key(ref.FullName()))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, nested, path)

	// The stored path answers even with no roots configured.
	require.NoError(t, deep.SetRoots(nil))
	asm, err = deep.Resolve(ctx, nil, ref)
	require.NoError(t, err)
	require.NotNil(t, asm)
	assert.Equal(t, nested, asm.Location)

	// A stale entry is dropped.
	require.NoError(t, os.Remove(nested))
	asm, err = deep.Resolve(ctx, nil, ref)
	require.NoError(t, err)
	assert.Nil(t, asm)
	_, ok, err = store.Get(ctx, refpaths.Key(ref.FullName()))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = NewSearchPathStrategy([]SearchRoot{{Path: root, Exclude: []string{"[unclosed"}}}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

// answer plays the chooser: it replies to the next request with resp.
func answer(t *testing.T, s *InteractiveStrategy, resp Response) <-chan Request {
	t.Helper()
	seen := make(chan Request, 1)
	go func() {
		req := <-s.Requests()
		seen <- req
		req.Reply <- resp
	}()
	return seen
}

func TestInteractiveStrategyAnswers(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "Lib", "1.0.0.0")
	calling := loadImage(t, "App", "1.0.0.0")
	ref := refTo(t, "Lib, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null")
	ctx := context.Background()

	s := NewInteractiveStrategy(nil, nil, nil)

	seen := answer(t, s, ResponseFile(path))
	asm, err := s.Resolve(ctx, calling, ref)
	require.NoError(t, err)
	assert.Equal(t, path, asm.Location)
	req := <-seen
	assert.Same(t, ref, req.Reference)
	assert.Same(t, calling, req.Calling)
	assert.Empty(t, req.Repository)

	given := loadImage(t, "Lib", "1.0.0.0")
	answer(t, s, ResponseAssembly(given))
	asm, err = s.Resolve(ctx, calling, ref)
	require.NoError(t, err)
	assert.Same(t, given, asm)

	answer(t, s, ResponseCancelled())
	_, err = s.Resolve(ctx, calling, ref)
	assert.ErrorIs(t, err, errResolutionCancelled)

	answer(t, s, ResponseFile(filepath.Join(dir, "missing.dll")))
	_, err = s.Resolve(ctx, calling, ref)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestInteractiveStrategyFetchesFromRepository(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "I386", "Net_4_0", "Lib", "1.0.0.0__null"), "Lib", "1.0.0.0")
	srv, err := repository.NewServer(root, repository.CompareTextual, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := repository.NewClient(repository.ClientOptions{})
	defer client.Close()

	calling := loadImage(t, "App", "1.0.0.0")
	ref := refTo(t, "Lib, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null")
	s := NewInteractiveStrategy(client, []string{ts.URL}, nil)

	var (
		mu      sync.Mutex
		offered string
	)
	go func() {
		req := <-s.Requests()
		mu.Lock()
		offered = req.Repository
		mu.Unlock()
		req.Reply <- ResponseFetch(req.Repository)
	}()

	asm, err := s.Resolve(context.Background(), calling, ref)
	require.NoError(t, err)
	assert.Equal(t, ref.FullName(), asm.FullName())
	mu.Lock()
	assert.Equal(t, ts.URL, offered)
	mu.Unlock()
}

func TestInteractiveStrategyHonoursContext(t *testing.T) {
	s := NewInteractiveStrategy(nil, nil, nil)
	chain := NewChain(nil, nil, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := chain.Resolve(ctx, nil, refTo(t, "Lib, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnresolvedReference))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
