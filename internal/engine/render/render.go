// Package render turns the metadata model into IL listing text.
package render

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	"ilview/internal/shared/observability"
)

type Options struct {
	// FullDecompilation renders contained members recursively.
	FullDecompilation bool
	// Language selects the strategy; empty means "il".
	Language string
	// Resolver is consulted when attribute arguments need another assembly.
	Resolver metadata.AssemblyResolver
	Logger   *slog.Logger
}

// Result is the rendered text and what happened while producing it.
type Result struct {
	Text string
	// Language is the highlighter language id for Text.
	Language          string
	Definitions       []Definition
	SkippedAttributes int
	Unresolved        []string
}

// Language is one output strategy, a writer function per entity kind.
type Language struct {
	ID        string
	Name      string
	Highlight string

	Assembly  func(*Writer, *metadata.Assembly)
	Module    func(*Writer, *metadata.Module)
	Namespace func(*Writer, *metadata.Namespace)
	Type      func(*Writer, *metadata.TypeDefinition)
	Method    func(*Writer, *metadata.MethodDefinition)
	Property  func(*Writer, *metadata.PropertyDefinition)
	Field     func(*Writer, *metadata.FieldDefinition)
	Event     func(*Writer, *metadata.EventDefinition)
}

// Languages holds the registered strategies by id.
var Languages = map[string]Language{
	ilLanguage.ID:     ilLanguage,
	csharpLanguage.ID: csharpLanguage,
}

// LookupLanguage returns the strategy for id; "" selects IL.
func LookupLanguage(id string) (Language, error) {
	if id == "" {
		id = ilLanguage.ID
	}
	lang, ok := Languages[id]
	if !ok {
		return Language{}, errors.AddContext(errors.Newf(errors.CodeNotFound, "unknown render language %q", id),
			errors.CtxLanguage, id)
	}
	return lang, nil
}

// LanguageIDs lists the registered strategy ids in order.
func LanguageIDs() []string {
	ids := make([]string, 0, len(Languages))
	for id := range Languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultFull reports the recursion an interactive view uses for entity:
// types and methods are rendered in full, everything else as a header.
func DefaultFull(entity interface{}) bool {
	switch entity.(type) {
	case *metadata.TypeDefinition, *metadata.MethodDefinition:
		return true
	}
	return false
}

// Render writes entity with the strategy opts.Language selects.
func Render(ctx context.Context, entity interface{}, opts Options) (Result, error) {
	lang, err := LookupLanguage(opts.Language)
	if err != nil {
		return Result{}, err
	}

	kind := kindOf(entity)
	ctx, span := observability.Tracer.Start(ctx, "render")
	span.SetAttributes(
		attribute.String("render.language", lang.ID),
		attribute.String("render.kind", kind),
		attribute.Bool("render.full", opts.FullDecompilation),
	)
	defer span.End()
	start := time.Now()

	w := newWriter(ctx, opts)
	switch e := entity.(type) {
	case *metadata.Assembly:
		lang.Assembly(w, e)
	case *metadata.Module:
		lang.Module(w, e)
	case *metadata.Namespace:
		lang.Namespace(w, e)
	case *metadata.TypeDefinition:
		lang.Type(w, e)
	case *metadata.MethodDefinition:
		lang.Method(w, e)
	case *metadata.PropertyDefinition:
		lang.Property(w, e)
	case *metadata.FieldDefinition:
		lang.Field(w, e)
	case *metadata.EventDefinition:
		lang.Event(w, e)
	default:
		err := errors.Newf(errors.CodeNotSupported, "cannot render %T", entity)
		span.RecordError(err)
		return Result{}, err
	}

	observability.RenderDuration.WithLabelValues(lang.ID, kind).Observe(time.Since(start).Seconds())
	res := w.result(lang)
	span.SetAttributes(
		attribute.Int("render.skipped_attributes", res.SkippedAttributes),
		attribute.Int("render.unresolved", len(res.Unresolved)),
	)
	return res, nil
}

func kindOf(entity interface{}) string {
	switch entity.(type) {
	case *metadata.Assembly:
		return "assembly"
	case *metadata.Module:
		return "module"
	case *metadata.Namespace:
		return "namespace"
	case *metadata.TypeDefinition:
		return "type"
	case *metadata.MethodDefinition:
		return "method"
	case *metadata.PropertyDefinition:
		return "property"
	case *metadata.FieldDefinition:
		return "field"
	case *metadata.EventDefinition:
		return "event"
	}
	return "unknown"
}
