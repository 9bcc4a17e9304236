package highlight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/core/errors"
)

// flatten lists scopes depth first as "Name:text".
func flatten(text string, scopes []*Scope) []string {
	var out []string
	for _, s := range scopes {
		out = append(out, s.Name+":"+text[s.Index:s.End()])
		out = append(out, flatten(text, s.Children)...)
	}
	return out
}

func checkScopes(t *testing.T, text string, scopes []*Scope, lo, hi int) {
	t.Helper()
	prev := lo
	for _, s := range scopes {
		if s.Length <= 0 || s.Index < prev || s.End() > hi {
			t.Fatalf("scope %q [%d,%d) outside [%d,%d) or overlapping", s.Name, s.Index, s.End(), prev, hi)
		}
		checkScopes(t, text, s.Children, s.Index, s.End())
		prev = s.End()
	}
}

func TestTokenizeIL(t *testing.T) {
	text := "IL_0000: ldarg.0\nIL_0001: add // sum\n"
	scopes, err := Tokenize(text, ilLanguage())
	require.NoError(t, err)
	assert.Equal(t, []string{"Instruction:ldarg.0", "Instruction:add", "Comment:// sum"}, flatten(text, scopes))
	assert.Equal(t, 9, scopes[0].Index)
	assert.Equal(t, 26, scopes[1].Index)
}

func TestTokenizeILDeclaration(t *testing.T) {
	text := ".method public hidebysig specialname rtspecialname instance void .ctor() cil managed"
	scopes, err := Tokenize(text, ilLanguage())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Directive:.method", "Keyword:public", "Keyword:hidebysig", "Keyword:specialname",
		"Keyword:rtspecialname", "Keyword:instance", "Keyword:void", "Keyword:.ctor",
		"Keyword:cil", "Keyword:managed",
	}, flatten(text, scopes))
}

func TestTokenizeILPriority(t *testing.T) {
	// The comment rule is declared first, so keywords inside it are not scopes.
	text := "/* class add */ class"
	scopes, err := Tokenize(text, ilLanguage())
	require.NoError(t, err)
	assert.Equal(t, []string{"Comment:/* class add */", "Keyword:class"}, flatten(text, scopes))

	text = "ldc.i4.s 10\nadd.ovf.un\n"
	scopes, err = Tokenize(text, ilLanguage())
	require.NoError(t, err)
	assert.Equal(t, []string{"Instruction:ldc.i4.s", "Instruction:add.ovf.un"}, flatten(text, scopes))
}

func TestTokenizeDocComment(t *testing.T) {
	text := "/// <summary>hi\n"
	scopes, err := Tokenize(text, csharpLanguage())
	require.NoError(t, err)
	assert.Equal(t, []string{"XML Doc Tag:///", "XML Doc Tag:<summary>", "XML Doc Comment:hi"}, flatten(text, scopes))
}

func TestTokenizeLanguages(t *testing.T) {
	cases := []struct {
		name string
		lang *Language
		text string
		want []string
	}{
		{"cpp", cppLanguage(), `int x = 1; // "c"`, []string{"Keyword:int", `Comment:// "c"`}},
		{"cpp string", cppLanguage(), `char* s = "a\"b";`, []string{"Keyword:char", `String:"a\"b"`}},
		{"csharp", csharpLanguage(), "#region R\nstring s = @\"x\"\"y\";", []string{
			"Preprocessor Keyword:#region", "Keyword:string", `String (C# @ Verbatim):@"x""y"`,
		}},
		{"csharp attribute", csharpLanguage(), `[assembly: Title("x")]`, []string{"Keyword:assembly", `String:"x"`}},
		{"xml", xmlLanguage(), `<a href="x">t</a>`, []string{
			"XML Delimiter:<", "XML Name:a", "XML Attribute:href", "XML Delimiter:=",
			`XML Attribute Value:"x"`, "XML Delimiter:>", "XML Delimiter:</", "XML Name:a", "XML Delimiter:>",
		}},
		{"xml comment", xmlLanguage(), "<!-- a\nb -->", []string{"Comment:<!-- a\nb -->"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scopes, err := Tokenize(tc.text, tc.lang)
			require.NoError(t, err)
			assert.Equal(t, tc.want, flatten(tc.text, scopes))
		})
	}
}

func TestFirstDeclaredRuleWins(t *testing.T) {
	lang := &Language{ID: "t", Rules: []Rule{
		{Pattern: `ab`, Captures: map[int]string{0: "first"}},
		{Pattern: `abc`, Captures: map[int]string{0: "second"}},
	}}
	scopes, err := Tokenize("abc", lang)
	require.NoError(t, err)
	assert.Equal(t, []string{"first:ab"}, flatten("abc", scopes))

	// An earlier position beats declaration order.
	lang = &Language{ID: "t", Rules: []Rule{
		{Pattern: `c`, Captures: map[int]string{0: "late"}},
		{Pattern: `b`, Captures: map[int]string{0: "early"}},
	}}
	scopes, err = Tokenize("abc", lang)
	require.NoError(t, err)
	assert.Equal(t, []string{"early:b", "late:c"}, flatten("abc", scopes))
}

func TestCapturesNestAndScanAdvancesPastMatch(t *testing.T) {
	lang := &Language{ID: "t", Rules: []Rule{
		{Pattern: `(a(b))c`, Captures: map[int]string{0: "whole", 1: "outer", 2: "inner"}},
	}}
	scopes, err := Tokenize("abc", lang)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "whole", scopes[0].Name)
	require.Len(t, scopes[0].Children, 1)
	assert.Equal(t, "outer", scopes[0].Children[0].Name)
	require.Len(t, scopes[0].Children[0].Children, 1)
	assert.Equal(t, 1, scopes[0].Children[0].Children[0].Index)

	lang = &Language{ID: "t", Rules: []Rule{{Pattern: `(x)yy`, Captures: map[int]string{1: "x"}}}}
	scopes, err = Tokenize("xyyxyy", lang)
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	assert.Equal(t, 0, scopes[0].Index)
	assert.Equal(t, 3, scopes[1].Index)
}

func TestTokenizeRejectsBadRules(t *testing.T) {
	_, err := Tokenize("x", &Language{ID: "bad", Rules: []Rule{{Pattern: `(`}}})
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))

	_, err = Tokenize("x", &Language{ID: "bad", Rules: []Rule{{Pattern: `x`, Captures: map[int]string{1: "n"}}}})
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))

	_, err = Tokenize("x", nil)
	assert.Error(t, err)
}

func TestSegmentsPreserveText(t *testing.T) {
	text := "// head\r\n.maxstack 8\r\n\tIL_0000: ret\r\n"
	scopes, err := Tokenize(text, ilLanguage())
	require.NoError(t, err)
	segs := Segments(text, scopes)

	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	assert.Equal(t, text, b.String())
	assert.Equal(t, "Comment", segs[0].Name)
	assert.Equal(t, "// head", segs[0].Text)
	assert.Equal(t, "\r\n", segs[1].Text)
	assert.Equal(t, "", segs[1].Name)
}

func TestSegmentsNestedAndInvalid(t *testing.T) {
	text := "abcdef"
	scopes := []*Scope{
		{Name: "outer", Index: 1, Length: 4, Children: []*Scope{{Name: "inner", Index: 2, Length: 1}}},
		{Name: "stray", Index: 3, Length: 10},
	}
	segs := Segments(text, scopes)
	var names []string
	var b strings.Builder
	for _, s := range segs {
		names = append(names, s.Name+":"+s.Text)
		b.WriteString(s.Text)
	}
	assert.Equal(t, text, b.String())
	assert.Equal(t, []string{":a", "outer:b", "inner:c", "outer:de", "stray:f"}, names)
}

func TestRepository(t *testing.T) {
	repo := DefaultRepository()
	var ids []string
	for _, l := range repo.All() {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"cpp", "csharp", "il", "xml"}, ids)
	assert.Nil(t, repo.FindByID("fortran"))
	assert.Equal(t, "IL", repo.FindByID("il").Name)

	err := repo.Load(&Language{Name: "nameless"})
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
	assert.Error(t, repo.Load(nil))

	_, err = NewRepository(&Language{})
	assert.Error(t, err)
}

func TestHighlighterCachesAndRecompiles(t *testing.T) {
	repo, err := NewRepository(&Language{ID: "t", Rules: []Rule{{Pattern: `a`, Captures: map[int]string{0: "A"}}}})
	require.NoError(t, err)
	h := NewHighlighter(repo)

	scopes, err := h.Highlight("ab", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"A:a"}, flatten("ab", scopes))
	first := h.cache["t"]

	_, err = h.Highlight("ab", "t")
	require.NoError(t, err)
	assert.Same(t, first, h.cache["t"])

	require.NoError(t, repo.Load(&Language{ID: "t", Rules: []Rule{{Pattern: `b`, Captures: map[int]string{0: "B"}}}}))
	scopes, err = h.Highlight("ab", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"B:b"}, flatten("ab", scopes))

	_, err = h.Highlight("ab", "nope")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestCoverageAcrossLanguages(t *testing.T) {
	inputs := []string{
		"",
		"\r\n\r\n",
		".assembly Demo\n{\n  .ver 1:0:0:0\n}\n",
		"/* open comment\nnever closed",
		"<root a='1'><![CDATA[x < y]]></root>",
		"#if DEBUG\r\nConsole.WriteLine(\"x\\\\\"); // done\r\n#endif",
	}
	for _, lang := range DefaultLanguages() {
		for _, in := range inputs {
			scopes, err := Tokenize(in, lang)
			require.NoError(t, err)
			checkScopes(t, in, scopes, 0, len(in))
			var b strings.Builder
			for _, s := range Segments(in, scopes) {
				b.WriteString(s.Text)
			}
			assert.Equal(t, in, b.String(), "language %s", lang.ID)
		}
	}
}

func FuzzTokenizeCoverage(f *testing.F) {
	f.Add(".method public static int32 Add(int32 a, int32 b) cil managed\n{\n  .maxstack 2\n  IL_0000: ldarg.0\n}\n")
	f.Add("/// <param name=\"x\">doc</param>\r\nint y = 0;")
	f.Add("<a b=\"c\"/>")
	f.Add("\xff\xfe/*\x00*/")
	langs := DefaultLanguages()
	f.Fuzz(func(t *testing.T, text string) {
		for _, lang := range langs {
			scopes, err := Tokenize(text, lang)
			if err != nil {
				t.Fatal(err)
			}
			checkScopes(t, text, scopes, 0, len(text))
			var b strings.Builder
			for _, s := range Segments(text, scopes) {
				b.WriteString(s.Text)
			}
			if b.String() != text {
				t.Fatalf("%s: segments do not reproduce the input", lang.ID)
			}
		}
	})
}
