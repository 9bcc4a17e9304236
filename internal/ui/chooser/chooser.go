// Package chooser asks the user, in a small TUI, where an unresolved
// assembly reference can be found.
package chooser

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"ilview/internal/engine/metadata"
	"ilview/internal/engine/resolver"
)

// Chooser runs one TUI session per request. It must be called from the
// foreground goroutine.
type Chooser struct {
	loaded  func() []*metadata.Assembly
	options []tea.ProgramOption
	logger  *slog.Logger
}

// New offers the assemblies returned by loaded alongside the file and
// repository choices. loaded may be nil.
func New(loaded func() []*metadata.Assembly, logger *slog.Logger, options ...tea.ProgramOption) *Chooser {
	if loaded == nil {
		loaded = func() []*metadata.Assembly { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chooser{loaded: loaded, options: options, logger: logger}
}

func (c *Chooser) Choose(ctx context.Context, req resolver.Request) resolver.Response {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, c.options...)
	final, err := tea.NewProgram(newModel(req, c.loaded()), opts...).Run()
	if err != nil {
		c.logger.Warn("reference chooser failed", "reference", req.Reference.FullName(), "error", err)
		return resolver.ResponseCancelled()
	}
	m, ok := final.(model)
	if !ok || !m.done {
		return resolver.ResponseCancelled()
	}
	c.logger.Info("reference chosen", "reference", req.Reference.FullName(), "response", m.response.Kind)
	return m.response
}
