package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"ilview/internal/core/errors"
	"ilview/internal/engine/highlight"
	"ilview/internal/engine/metadata"
	"ilview/internal/engine/render"
	"ilview/internal/engine/resolver"
	"ilview/internal/shared/observability"
)

// Request names the entity to disassemble. Empty Language and nil Full fall
// back to the disassembler defaults.
type Request struct {
	Entity   interface{}
	Language string
	Full     *bool
}

type Result struct {
	Text              string
	SourceLanguage    string
	Scopes            []*highlight.Scope
	Definitions       []render.Definition
	SkippedAttributes int
	Unresolved        []string
}

// Outcome is delivered once per accepted request.
type Outcome struct {
	Result Result
	Err    error
}

type DisassemblerOptions struct {
	Language string
	// Full overrides the per-entity default when set.
	Full      *bool
	CacheSize int
	Strict    bool
	Logger    *slog.Logger
}

type cacheKey struct {
	entity   interface{}
	language string
	full     bool
}

// Disassembler renders one request at a time on its own goroutine.
type Disassembler struct {
	chain       *resolver.Chain
	highlighter *highlight.Highlighter
	opts        DisassemblerOptions
	logger      *slog.Logger
	cache       *lru.Cache[cacheKey, Result]

	busy         atomic.Bool
	workerCtx    context.Context
	workerCancel context.CancelFunc
	workers      sync.WaitGroup
}

func NewDisassembler(chain *resolver.Chain, highlighter *highlight.Highlighter, opts DisassemblerOptions) (*Disassembler, error) {
	if highlighter == nil {
		highlighter = highlight.NewHighlighter(highlight.DefaultRepository())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if _, err := render.LookupLanguage(opts.Language); err != nil {
		return nil, err
	}

	d := &Disassembler{
		chain:       chain,
		highlighter: highlighter,
		opts:        opts,
		logger:      opts.Logger,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[cacheKey, Result](opts.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to create render cache")
		}
		d.cache = cache
	}
	d.workerCtx, d.workerCancel = context.WithCancel(context.Background())
	return d, nil
}

// Busy reports whether a request is in flight.
func (d *Disassembler) Busy() bool { return d.busy.Load() }

// Start hands req to the worker. The outcome channel receives exactly one
// value. A request made while another is in flight is a caller bug: it fails
// with CONCURRENT_REQUEST, or panics in strict mode.
func (d *Disassembler) Start(ctx context.Context, req Request) (<-chan Outcome, error) {
	if !d.busy.CompareAndSwap(false, true) {
		observability.ConcurrentRequestsTotal.Inc()
		err := errors.New(errors.CodeConcurrentRequest, "a disassembly request is already in flight")
		if d.opts.Strict {
			panic(err)
		}
		return nil, err
	}

	// Close cancels the rendezvous of an in-flight request.
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(d.workerCtx, cancel)

	out := make(chan Outcome, 1)
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		defer cancel()
		defer stop()

		res, err := d.run(ctx, req)
		d.busy.Store(false)
		out <- Outcome{Result: res, Err: err}
	}()
	return out, nil
}

// Disassemble runs req and waits for it. It is meant for callers without an
// interactive chooser.
func (d *Disassembler) Disassemble(ctx context.Context, req Request) (Result, error) {
	out, err := d.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	o := <-out
	return o.Result, o.Err
}

// Purge drops every cached render.
func (d *Disassembler) Purge() {
	if d.cache != nil {
		d.cache.Purge()
	}
}

// Close cancels a pending rendezvous and waits for the worker.
func (d *Disassembler) Close(ctx context.Context) error {
	d.workerCancel()
	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Disassembler) run(ctx context.Context, req Request) (Result, error) {
	language := req.Language
	if language == "" {
		language = d.opts.Language
	}
	full := render.DefaultFull(req.Entity)
	if d.opts.Full != nil {
		full = *d.opts.Full
	}
	if req.Full != nil {
		full = *req.Full
	}

	calling := OwningAssembly(req.Entity)
	key := cacheKey{entity: req.Entity, language: language, full: full}
	if d.cache != nil && calling != nil {
		if res, ok := d.cache.Get(key); ok {
			observability.RenderCacheHitsTotal.Inc()
			return res, nil
		}
	}

	ctx, span := observability.Tracer.Start(ctx, "disassemble")
	span.SetAttributes(attribute.String("disassemble.language", language))
	defer span.End()

	opts := render.Options{
		FullDecompilation: full,
		Language:          language,
		Logger:            d.logger,
	}
	if d.chain != nil && calling != nil {
		opts.Resolver = d.chain.For(calling)
	}
	rendered, err := render.Render(ctx, req.Entity, opts)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	scopes, err := d.highlighter.Highlight(rendered.Text, rendered.Language)
	if err != nil {
		d.logger.Warn("highlighting failed", "language", rendered.Language, "error", err)
	}
	res := Result{
		Text:              rendered.Text,
		SourceLanguage:    rendered.Language,
		Scopes:            scopes,
		Definitions:       rendered.Definitions,
		SkippedAttributes: rendered.SkippedAttributes,
		Unresolved:        rendered.Unresolved,
	}
	// Placeholders are retried on the next request.
	if d.cache != nil && calling != nil && len(res.Unresolved) == 0 {
		d.cache.Add(key, res)
	}
	return res, nil
}

// OwningAssembly returns the assembly entity belongs to, or nil for values
// the renderer does not accept.
func OwningAssembly(entity interface{}) *metadata.Assembly {
	switch e := entity.(type) {
	case *metadata.Assembly:
		return e
	case *metadata.Module:
		return e.Assembly
	case *metadata.Namespace:
		return e.Assembly
	case *metadata.TypeDefinition:
		return typeAssembly(e)
	case *metadata.MethodDefinition:
		return typeAssembly(e.DeclaringType)
	case *metadata.FieldDefinition:
		return typeAssembly(e.DeclaringType)
	case *metadata.PropertyDefinition:
		return typeAssembly(e.DeclaringType)
	case *metadata.EventDefinition:
		return typeAssembly(e.DeclaringType)
	}
	return nil
}

func typeAssembly(t *metadata.TypeDefinition) *metadata.Assembly {
	if t == nil || t.Module == nil {
		return nil
	}
	return t.Module.Assembly
}
