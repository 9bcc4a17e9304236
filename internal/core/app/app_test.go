package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/core/config"
	"ilview/internal/core/errors"
	"ilview/internal/data/assemblies"
	"ilview/internal/data/refpaths"
	"ilview/internal/engine/metadata"
	mdt "ilview/internal/engine/metadata/metadatatest"
	"ilview/internal/engine/resolver"
)

const libFullName = "Lib, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null"

const taggedLine = "  .custom instance System.Void App.TagAttribute::.ctor(System.String,Lib.Color) = { String('hi') Color(1) }\n"

// taggedImage applies App.TagAttribute("hi", Lib.Color(1)) to App.Widget,
// so rendering Widget has to resolve Lib.
func taggedImage() []byte {
	b := mdt.New("App", "1.0.0.0")
	color := b.TypeRef(b.AssemblyRef("Lib", "1.0.0.0", nil), "Lib", "Color")
	b.DefineType("App", "TagAttribute", metadata.TypePublic, b.CorlibType("Attribute"))
	ctor := b.DefineMethod(".ctor", metadata.MethodPublic|metadata.MethodSpecialName|metadata.MethodRTSpecialName,
		mdt.MethodSig(true, mdt.Void, mdt.String, mdt.ValueType(color)), "label", "color")
	widget := b.DefineType("App", "Widget", metadata.TypePublic, b.CorlibType("Object"))
	b.CustomAttribute(widget, ctor, mdt.NewAttrBlob().Text("hi").Int32(1).Bytes())

	run := b.DefineMethod("Run", metadata.MethodPublic|metadata.MethodStatic, mdt.MethodSig(false, mdt.I4))
	b.SetBody(run, mdt.Body{Code: b.IL().Op("ldc.i4.1").Op("ret").Bytes()})
	return b.Bytes()
}

func libImage() []byte {
	b := mdt.New("Lib", "1.0.0.0")
	b.DefineType("Lib", "Color", metadata.TypePublic|metadata.TypeSealed, b.CorlibType("Enum"))
	b.DefineField("value__", metadata.FieldPublic|metadata.FieldSpecialName|metadata.FieldRTSpecialName, mdt.FieldSig(mdt.I4))
	return b.Bytes()
}

func writeLib(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "Lib.dll")
	require.NoError(t, os.WriteFile(path, libImage(), 0o644))
	return path
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.DB.Enabled = false
	cfg.Watch.Enabled = false
	cfg.Resolver.Repositories = nil
	cfg.Resolver.SearchRoots = nil
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, paths config.ResolvedPaths, strict bool) *App {
	t.Helper()
	if paths.BaseDir == "" {
		paths.BaseDir = t.TempDir()
	}
	a, err := New(cfg, paths, Options{Strict: strict})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func openWidget(t *testing.T, a *App) *metadata.TypeDefinition {
	t.Helper()
	asm, err := a.Open(assemblies.MemorySource{Label: "App.dll", Data: taggedImage()})
	require.NoError(t, err)
	widget := asm.FindType("App.Widget")
	require.NotNil(t, widget)
	return widget
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDisassembleMethodIsFullAndHighlighted(t *testing.T) {
	a := newTestApp(t, testConfig(), config.ResolvedPaths{}, false)
	widget := openWidget(t, a)

	res, err := a.Disassemble(testContext(t), Request{Entity: widget.Method("Run")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "il", res.SourceLanguage)
	assert.Contains(t, res.Text, ".method public static int32 Run")
	assert.Contains(t, res.Text, "IL_0000: ldc.i4.1")
	require.NotEmpty(t, res.Scopes)
	for _, s := range res.Scopes {
		assert.LessOrEqual(t, s.End(), len(res.Text))
	}

	res, err = a.Disassemble(testContext(t), Request{Entity: widget.Module.Assembly}, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Text, ".assembly App")
	assert.NotContains(t, res.Text, ".method")
}

func TestDisassembleResolvesThroughChooser(t *testing.T) {
	dir := t.TempDir()
	libPath := writeLib(t, filepath.Join(dir, "picked"))

	a := newTestApp(t, testConfig(), config.ResolvedPaths{}, false)
	widget := openWidget(t, a)

	var asked atomic.Int32
	chooser := ChooserFunc(func(_ context.Context, req resolver.Request) resolver.Response {
		asked.Add(1)
		assert.Equal(t, "Lib", req.Reference.Name)
		assert.Equal(t, "App", req.Calling.Name.Name)
		return resolver.ResponseFile(libPath)
	})

	res, err := a.Disassemble(testContext(t), Request{Entity: widget}, chooser)
	require.NoError(t, err)
	assert.Contains(t, res.Text, taggedLine)
	assert.Empty(t, res.Unresolved)
	assert.EqualValues(t, 1, asked.Load())

	// The chosen assembly reached the cache through the foreground.
	lib := a.Cache.Find(libFullName)
	require.NotNil(t, lib)
	assert.Equal(t, libPath, lib.Location)

	res, err = a.Disassemble(testContext(t), Request{Entity: widget}, chooser)
	require.NoError(t, err)
	assert.Contains(t, res.Text, taggedLine)
	assert.EqualValues(t, 1, asked.Load())

	// Unloading forgets the earlier answer.
	require.True(t, a.Unload(lib))
	_, err = a.Disassemble(testContext(t), Request{Entity: widget}, chooser)
	require.NoError(t, err)
	assert.EqualValues(t, 2, asked.Load())
}

func TestDisassembleCancelledChoiceLeavesPlaceholder(t *testing.T) {
	a := newTestApp(t, testConfig(), config.ResolvedPaths{}, false)
	widget := openWidget(t, a)

	res, err := a.Disassemble(testContext(t), Request{Entity: widget}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{libFullName}, res.Unresolved)
	assert.Contains(t, res.Text, "// unresolved: "+libFullName)
	assert.Nil(t, a.Cache.Find(libFullName))
}

func TestDisassembleFindsReferenceOnSearchPath(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "refs")
	libPath := writeLib(t, filepath.Join(root, "nested"))

	cfg := testConfig()
	cfg.DB.Enabled = true
	interactive := false
	cfg.Resolver.Interactive = &interactive
	paths := config.ResolvedPaths{
		BaseDir:     dir,
		DatabaseDir: filepath.Join(dir, "db"),
		DBPath:      filepath.Join(dir, "db", "refpaths.db"),
		SearchRoots: []config.SearchRoot{{Path: root, Recursive: true}},
	}
	a := newTestApp(t, cfg, paths, false)
	assert.Nil(t, a.Interactive())
	assert.Equal(t, []string{"cache", "relaxed", "search_path"}, a.Chain.Strategies())
	widget := openWidget(t, a)

	res, err := a.Disassemble(testContext(t), Request{Entity: widget}, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Text, taggedLine)

	got, ok, err := a.refStore.Get(context.Background(), refpaths.Key(libFullName))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, libPath, got)

	// A change to the file drops the remembered location.
	a.invalidatePaths([]string{libPath})
	_, ok, err = a.refStore.Get(context.Background(), refpaths.Key(libFullName))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisassemblerRejectsConcurrentRequest(t *testing.T) {
	for _, strict := range []bool{false, true} {
		a := newTestApp(t, testConfig(), config.ResolvedPaths{}, strict)
		widget := openWidget(t, a)
		ctx := testContext(t)

		out, err := a.Disassembler.Start(ctx, Request{Entity: widget})
		require.NoError(t, err)

		// The worker is parked at the chooser rendezvous.
		var req resolver.Request
		select {
		case req = <-a.Interactive().Requests():
		case <-ctx.Done():
			t.Fatal("timed out waiting for the interactive request")
		}
		assert.True(t, a.Disassembler.Busy())

		second := func() { _, err = a.Disassembler.Start(ctx, Request{Entity: widget}) }
		if strict {
			assert.Panics(t, second)
		} else {
			second()
			assert.True(t, errors.IsCode(err, errors.CodeConcurrentRequest))
		}

		req.Reply <- resolver.ResponseCancelled()
		o := <-out
		require.NoError(t, o.Err)
		assert.Equal(t, []string{libFullName}, o.Result.Unresolved)
		assert.False(t, a.Disassembler.Busy())
	}
}

func TestDisassemblerCachesCompleteRenders(t *testing.T) {
	a := newTestApp(t, testConfig(), config.ResolvedPaths{}, false)
	widget := openWidget(t, a)
	run := widget.Method("Run")

	first, err := a.Disassemble(testContext(t), Request{Entity: run}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Disassembler.cache.Len())
	again, err := a.Disassemble(testContext(t), Request{Entity: run}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Text, again.Text)

	// Renders with placeholders are retried rather than cached.
	_, err = a.Disassemble(testContext(t), Request{Entity: widget}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Disassembler.cache.Len())

	_, err = a.Open(assemblies.MemorySource{Label: "Lib.dll", Data: libImage()})
	require.NoError(t, err)
	assert.Zero(t, a.Disassembler.cache.Len())

	cfg := testConfig()
	cfg.Render.CacheSize = 0
	uncached := newTestApp(t, cfg, config.ResolvedPaths{}, false)
	assert.Nil(t, uncached.Disassembler.cache)
}

func TestDisassembleHonoursRequestOptions(t *testing.T) {
	a := newTestApp(t, testConfig(), config.ResolvedPaths{}, false)
	widget := openWidget(t, a)

	header := false
	res, err := a.Disassemble(testContext(t), Request{Entity: widget.Method("Run"), Full: &header}, nil)
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "IL_0000")

	res, err = a.Disassemble(testContext(t), Request{Entity: widget.Method("Run"), Language: "csharp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "csharp", res.SourceLanguage)
	assert.True(t, strings.HasPrefix(res.Text, "// App.Widget.Run\n"), res.Text)

	_, err = a.Disassemble(testContext(t), Request{Entity: "nope"}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeNotSupported))
	assert.False(t, a.Disassembler.Busy())
}

func TestApplyConfigSwapsSearchRoots(t *testing.T) {
	dir := t.TempDir()
	a := newTestApp(t, testConfig(), config.ResolvedPaths{BaseDir: dir}, false)
	assert.Empty(t, a.search.Roots())

	cfg := testConfig()
	cfg.Resolver.SearchRoots = []config.SearchRoot{{Path: "refs", Exclude: []string{"obj"}}}
	require.NoError(t, a.ApplyConfig(cfg))

	roots := a.search.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, filepath.Join(dir, "refs"), roots[0].Path)
	assert.Same(t, cfg, a.Config())

	bad := testConfig()
	bad.Resolver.SearchRoots = []config.SearchRoot{{Path: "refs", Exclude: []string{"[oops"}}}
	assert.Error(t, a.ApplyConfig(bad))
	assert.Same(t, cfg, a.Config())
}

func TestDispatcherRunsInOrder(t *testing.T) {
	d := newDispatcher()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		d.Post(func() { got = append(got, i) })
	}
	select {
	case <-d.Ready():
	default:
		t.Fatal("dispatcher not signalled")
	}
	assert.Equal(t, 3, d.Drain())
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Zero(t, d.Drain())
}

func TestHealthReportsComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.DB.Enabled = true
	a := newTestApp(t, cfg, config.ResolvedPaths{
		BaseDir:     dir,
		DatabaseDir: dir,
		DBPath:      filepath.Join(dir, "refpaths.db"),
	}, false)
	openWidget(t, a)

	status := NewHealthService(a).Check(context.Background())
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "ok (1 loaded)", status.Components["assemblies"])
	assert.Equal(t, "cache > relaxed > search_path > interactive", status.Components["resolver"])
	assert.Equal(t, "idle", status.Components["disassembler"])
	assert.Equal(t, "ok", status.Components["refpaths"])
	assert.Positive(t, status.Memory.Goroutines)
}
