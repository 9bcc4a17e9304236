package render

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	"ilview/internal/shared/observability"
)

const indentUnit = "  "

// Definition marks where an entity's declaration starts in the rendered text.
type Definition struct {
	Offset   int
	FullName string
	// CodeURI is set for methods.
	CodeURI string
}

// Writer accumulates rendered text for one Render call. Language strategies
// write through it; it tracks indentation and definition offsets.
type Writer struct {
	ctx    context.Context
	opts   Options
	logger *slog.Logger

	b         strings.Builder
	indent    int
	lineStart bool

	definitions []Definition
	skipped     int
	unresolved  []string
}

func newWriter(ctx context.Context, opts Options) *Writer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{ctx: ctx, opts: opts, logger: logger, lineStart: true}
}

// Full reports whether contained members are rendered recursively.
func (w *Writer) Full() bool { return w.opts.FullDecompilation }

func (w *Writer) Write(s string) {
	if s == "" {
		return
	}
	if w.lineStart {
		w.b.WriteString(strings.Repeat(indentUnit, w.indent))
		w.lineStart = false
	}
	w.b.WriteString(s)
}

func (w *Writer) Writef(format string, args ...interface{}) {
	w.Write(fmt.Sprintf(format, args...))
}

// WriteLine writes s and ends the line.
func (w *Writer) WriteLine(s string) {
	w.Write(s)
	w.b.WriteByte('\n')
	w.lineStart = true
}

func (w *Writer) Indent() { w.indent++ }

func (w *Writer) Unindent() {
	if w.indent > 0 {
		w.indent--
	}
}

// WriteDefinition writes the declaration keyword of entity and records the
// offset it starts at.
func (w *Writer) WriteDefinition(keyword string, entity interface{}) {
	if w.lineStart {
		w.b.WriteString(strings.Repeat(indentUnit, w.indent))
		w.lineStart = false
	}
	def := Definition{Offset: w.b.Len()}
	switch e := entity.(type) {
	case *metadata.MethodDefinition:
		def.FullName = e.FullName()
		def.CodeURI = BuildCodeURI(e)
	case interface{ FullName() string }:
		def.FullName = e.FullName()
	case fmt.Stringer:
		def.FullName = e.String()
	}
	w.definitions = append(w.definitions, def)
	w.Write(keyword)
}

func (w *Writer) openBlock() {
	w.WriteLine("")
	w.WriteLine("{")
	w.Indent()
}

func (w *Writer) closeBlock() {
	w.Unindent()
	w.WriteLine("}")
}

// decodeAttribute prepares ca for emission. It returns false when the
// attribute must be left out; an unresolved reference leaves a placeholder
// comment behind.
func (w *Writer) decodeAttribute(ca *metadata.CustomAttribute) bool {
	err := ca.Decode(w.ctx, w.opts.Resolver)
	if err == nil {
		err = ca.CheckConsistency()
	}
	if err == nil {
		return true
	}
	if errors.IsCode(err, errors.CodeUnresolvedReference) {
		ref := ca.Constructor.FullName()
		var de *errors.DomainError
		if stderrors.As(err, &de) {
			if r, ok := de.Context[errors.CtxReference].(string); ok {
				ref = r
			}
		}
		w.unresolved = append(w.unresolved, ref)
		observability.UnresolvedPlaceholdersTotal.Inc()
		w.logger.Warn("unresolved reference in custom attribute", "attribute", ca.Constructor.FullName(), "reference", ref)
		w.WriteLine("// unresolved: " + ref)
		return false
	}
	w.skipped++
	observability.AttributesSkippedTotal.Inc()
	w.logger.Warn("skipping custom attribute", "attribute", ca.Constructor.FullName(), "error", err)
	return false
}

func (w *Writer) result(lang Language) Result {
	return Result{
		Text:              w.b.String(),
		Language:          lang.Highlight,
		Definitions:       w.definitions,
		SkippedAttributes: w.skipped,
		Unresolved:        w.unresolved,
	}
}
