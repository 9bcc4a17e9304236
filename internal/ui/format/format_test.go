package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/engine/highlight"
)

func highlighted(t *testing.T, text string) []*highlight.Scope {
	t.Helper()
	scopes, err := highlight.NewHighlighter(highlight.DefaultRepository()).Highlight(text, highlight.LanguageIL)
	require.NoError(t, err)
	return scopes
}

func TestNone(t *testing.T) {
	f, err := New(None, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, "ret\n", nil))
	assert.Equal(t, "ret\n", buf.String())
}

func TestHTMLEscapesAndTags(t *testing.T) {
	text := "// a < b\nIL_0000: ldstr \"<x>\"\n"
	f, err := New(HTML, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, text, highlighted(t, text)))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, `<pre class="ilview">`))
	assert.Contains(t, out, `<span class="hl-comment">// a &lt; b</span>`)
	assert.Contains(t, out, `&#34;&lt;x&gt;&#34;`)
	assert.NotContains(t, out, "<x>")
}

func TestANSIKeepsText(t *testing.T) {
	text := ".method public static int32 Add() cil managed\n{\n  IL_0000: ret\n}\n"
	f := NewANSIProfile(termenv.ANSI256)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, text, highlighted(t, text)))
	out := buf.String()
	assert.Contains(t, out, "\x1b[")
	assert.Equal(t, text, stripANSI(out))
	assert.Equal(t, strings.Count(text, "\n"), strings.Count(out, "\n"))
}

func TestUnknownFormat(t *testing.T) {
	_, err := New("rtf", nil)
	assert.Error(t, err)
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "hl-xml-doc-tag", ClassName(highlight.ScopeXMLDocTag))
	assert.Equal(t, "hl-string-c-verbatim", ClassName(highlight.ScopeStringVerbatim))
}

func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
