package highlight

import (
	"regexp"
	"sort"
	"strings"
)

// Scope names shared by the built-in languages and the formatters.
const (
	ScopePlainText           = "Plain Text"
	ScopeComment             = "Comment"
	ScopeXMLDocTag           = "XML Doc Tag"
	ScopeXMLDocComment       = "XML Doc Comment"
	ScopeString              = "String"
	ScopeStringVerbatim      = "String (C# @ Verbatim)"
	ScopeKeyword             = "Keyword"
	ScopePreprocessorKeyword = "Preprocessor Keyword"
	ScopeInstruction         = "Instruction"
	ScopeDirective           = "Directive"
	ScopeSecurity            = "Security"
	ScopeXMLName             = "XML Name"
	ScopeXMLAttribute        = "XML Attribute"
	ScopeXMLAttributeValue   = "XML Attribute Value"
	ScopeXMLDelimiter        = "XML Delimiter"
	ScopeXMLCDataSection     = "XML CData Section"
)

// Built-in language identifiers.
const (
	LanguageIL     = "il"
	LanguageCpp    = "cpp"
	LanguageCSharp = "csharp"
	LanguageXML    = "xml"
)

// Rule is one pattern of a language. Captures maps a capture group index to
// the scope name recorded for it; index 0 is the whole match.
type Rule struct {
	Pattern  string
	Captures map[int]string
}

// Language is an ordered rule set. Order is significant: at a given position
// the first rule that matches wins.
type Language struct {
	ID    string
	Name  string
	Rules []Rule
}

func (l *Language) clone() *Language {
	out := &Language{ID: l.ID, Name: l.Name, Rules: make([]Rule, len(l.Rules))}
	for i, r := range l.Rules {
		caps := make(map[int]string, len(r.Captures))
		for k, v := range r.Captures {
			caps[k] = v
		}
		out.Rules[i] = Rule{Pattern: r.Pattern, Captures: caps}
	}
	return out
}

// words builds an alternation of literal words, longest first so that a
// dotted mnemonic is not cut short by its own prefix.
func words(list ...string) string {
	seen := make(map[string]bool, len(list))
	uniq := make([]string, 0, len(list))
	for _, w := range list {
		if !seen[w] {
			seen[w] = true
			uniq = append(uniq, w)
		}
	}
	sort.SliceStable(uniq, func(i, j int) bool { return len(uniq[i]) > len(uniq[j]) })
	for i, w := range uniq {
		uniq[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(uniq, "|")
}
