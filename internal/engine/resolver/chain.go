// Package resolver finds the assembly behind a reference by asking a fixed
// sequence of strategies.
package resolver

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	"ilview/internal/shared/observability"
)

// errResolutionCancelled is returned by a strategy when the user declined
// to pick an assembly. The chain stops without trying later steps.
var errResolutionCancelled = stderrors.New("resolution cancelled")

// Strategy is one step of the chain. A miss is (nil, nil); an error is
// logged and the chain moves on.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, calling *metadata.Assembly, ref *metadata.AssemblyName) (*metadata.Assembly, error)
}

// cacheBacked marks strategies that answer from the assembly cache, whose
// results need no publishing.
type cacheBacked interface {
	fromCache()
}

// Publisher receives assemblies found outside the cache.
type Publisher func(*metadata.Assembly)

// Chain runs its strategies in order until one answers.
type Chain struct {
	strategies []Strategy
	publish    Publisher
	logger     *slog.Logger

	// found remembers published assemblies until the cache forgets them,
	// so a reference resolved twice in one render is not searched twice.
	mu    sync.Mutex
	found map[string]*metadata.Assembly
}

func NewChain(publish Publisher, logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		strategies: strategies,
		publish:    publish,
		logger:     logger,
		found:      make(map[string]*metadata.Assembly),
	}
}

// Strategies lists the step names in the order they run.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve finds ref for the calling assembly. Failure is always an
// UNRESOLVED_REFERENCE error carrying the reference full name.
func (c *Chain) Resolve(ctx context.Context, calling *metadata.Assembly, ref *metadata.AssemblyName) (*metadata.Assembly, error) {
	start := time.Now()
	defer func() { observability.ResolveDuration.Observe(time.Since(start).Seconds()) }()

	fullName := ref.FullName()
	ctx, span := observability.Tracer.Start(ctx, "resolve")
	defer span.End()
	span.SetAttributes(attribute.String("assembly.reference", fullName))

	if asm := c.remembered(fullName); asm != nil {
		observability.ResolveTotal.WithLabelValues("session").Inc()
		return asm, nil
	}

	for _, s := range c.strategies {
		asm, err := s.Resolve(ctx, calling, ref)
		if stderrors.Is(err, errResolutionCancelled) {
			observability.ResolveTotal.WithLabelValues("none").Inc()
			span.SetStatus(codes.Error, "cancelled")
			unresolved := errors.AddContext(unresolvedError(fullName), errors.CtxCancelled, true)
			return nil, unresolved
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				observability.ResolveTotal.WithLabelValues("none").Inc()
				span.SetStatus(codes.Error, ctxErr.Error())
				return nil, errors.AddContext(errors.Wrap(ctxErr, errors.CodeUnresolvedReference, "resolution interrupted"), errors.CtxReference, fullName)
			}
			c.logger.Warn("resolver strategy failed", "strategy", s.Name(), "reference", fullName, "error", err)
			continue
		}
		if asm == nil {
			continue
		}

		observability.ResolveTotal.WithLabelValues(s.Name()).Inc()
		span.SetAttributes(attribute.String("resolve.strategy", s.Name()))
		c.logger.Debug("reference resolved", "strategy", s.Name(), "reference", fullName, "assembly", asm.FullName())
		if _, cached := s.(cacheBacked); !cached {
			c.remember(fullName, asm)
			if c.publish != nil {
				c.publish(asm)
			}
		}
		return asm, nil
	}

	observability.ResolveTotal.WithLabelValues("none").Inc()
	span.SetStatus(codes.Error, "unresolved")
	return nil, unresolvedError(fullName)
}

// Forget drops a remembered assembly, typically after the cache removed it.
func (c *Chain) Forget(asm *metadata.Assembly) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, a := range c.found {
		if a == asm {
			delete(c.found, key)
		}
	}
}

// For adapts the chain to the metadata decoder, resolving on behalf of
// calling.
func (c *Chain) For(calling *metadata.Assembly) metadata.AssemblyResolver {
	return boundResolver{chain: c, calling: calling}
}

type boundResolver struct {
	chain   *Chain
	calling *metadata.Assembly
}

func (b boundResolver) ResolveAssembly(ctx context.Context, ref *metadata.AssemblyName) (*metadata.Assembly, error) {
	return b.chain.Resolve(ctx, b.calling, ref)
}

func (c *Chain) remembered(fullName string) *metadata.Assembly {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.found[fullName]
}

func (c *Chain) remember(fullName string, asm *metadata.Assembly) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.found[fullName] = asm
}

func unresolvedError(fullName string) error {
	err := errors.Newf(errors.CodeUnresolvedReference, "cannot resolve assembly %s", fullName)
	return errors.AddContext(err, errors.CtxReference, fullName)
}
