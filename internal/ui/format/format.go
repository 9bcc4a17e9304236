// Package format turns highlighted text into terminal or HTML output.
package format

import (
	"html"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"ilview/internal/core/errors"
	"ilview/internal/engine/highlight"
)

const (
	None = "none"
	ANSI = "ansi"
	HTML = "html"
)

var palette = map[string]lipgloss.Color{
	highlight.ScopeComment:             lipgloss.Color("#64748B"),
	highlight.ScopeXMLDocTag:           lipgloss.Color("#94A3B8"),
	highlight.ScopeXMLDocComment:       lipgloss.Color("#64748B"),
	highlight.ScopeString:              lipgloss.Color("#F59E0B"),
	highlight.ScopeStringVerbatim:      lipgloss.Color("#F59E0B"),
	highlight.ScopeKeyword:             lipgloss.Color("#3B82F6"),
	highlight.ScopePreprocessorKeyword: lipgloss.Color("#A855F7"),
	highlight.ScopeInstruction:         lipgloss.Color("#10B981"),
	highlight.ScopeDirective:           lipgloss.Color("#8B5CF6"),
	highlight.ScopeSecurity:            lipgloss.Color("#F87171"),
	highlight.ScopeXMLName:             lipgloss.Color("#F87171"),
	highlight.ScopeXMLAttribute:        lipgloss.Color("#FBBF24"),
	highlight.ScopeXMLAttributeValue:   lipgloss.Color("#3B82F6"),
	highlight.ScopeXMLDelimiter:        lipgloss.Color("#3B82F6"),
	highlight.ScopeXMLCDataSection:     lipgloss.Color("#64748B"),
}

// Formatter renders segments for one output kind.
type Formatter struct {
	kind   string
	styles map[string]lipgloss.Style
}

// New returns a formatter for kind. ANSI colours are chosen for the terminal
// behind w; a nil w uses stdout.
func New(kind string, w io.Writer) (*Formatter, error) {
	switch kind {
	case "", None:
		return &Formatter{kind: None}, nil
	case HTML:
		return &Formatter{kind: HTML}, nil
	case ANSI:
		r := lipgloss.DefaultRenderer()
		if w != nil {
			r = lipgloss.NewRenderer(w)
		}
		return newANSI(r), nil
	}
	return nil, errors.AddContext(errors.Newf(errors.CodeValidationError, "unknown output format %q", kind),
		errors.CtxOperation, "format")
}

// NewANSIProfile forces a colour profile, for output that is not a terminal.
func NewANSIProfile(profile termenv.Profile) *Formatter {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(profile)
	return newANSI(r)
}

func newANSI(r *lipgloss.Renderer) *Formatter {
	styles := make(map[string]lipgloss.Style, len(palette))
	for name, color := range palette {
		s := r.NewStyle().Foreground(color).TabWidth(lipgloss.NoTabConversion)
		if name == highlight.ScopeKeyword || name == highlight.ScopeDirective {
			s = s.Bold(true)
		}
		styles[name] = s
	}
	return &Formatter{kind: ANSI, styles: styles}
}

func (f *Formatter) Kind() string { return f.kind }

// Format writes text with its scopes applied.
func (f *Formatter) Format(w io.Writer, text string, scopes []*highlight.Scope) error {
	if f.kind == None {
		_, err := io.WriteString(w, text)
		return err
	}

	var b strings.Builder
	if f.kind == HTML {
		b.WriteString("<pre class=\"ilview\">")
	}
	for _, seg := range highlight.Segments(text, scopes) {
		switch f.kind {
		case HTML:
			writeHTML(&b, seg)
		default:
			f.writeANSI(&b, seg)
		}
	}
	if f.kind == HTML {
		b.WriteString("</pre>\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// writeANSI styles each line on its own; lipgloss pads multi-line blocks.
func (f *Formatter) writeANSI(b *strings.Builder, seg highlight.Segment) {
	style, ok := f.styles[seg.Name]
	if !ok {
		b.WriteString(seg.Text)
		return
	}
	for i, line := range strings.Split(seg.Text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if line != "" {
			b.WriteString(style.Render(line))
		}
	}
}

func writeHTML(b *strings.Builder, seg highlight.Segment) {
	if seg.Name == "" || seg.Name == highlight.ScopePlainText {
		b.WriteString(html.EscapeString(seg.Text))
		return
	}
	b.WriteString(`<span class="`)
	b.WriteString(ClassName(seg.Name))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(seg.Text))
	b.WriteString("</span>")
}

// ClassName maps a scope name to a CSS class, e.g. "XML Doc Tag" to
// "hl-xml-doc-tag".
func ClassName(scope string) string {
	var b strings.Builder
	b.WriteString("hl")
	dash := true
	for _, r := range strings.ToLower(scope) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash {
				b.WriteByte('-')
				dash = false
			}
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}
