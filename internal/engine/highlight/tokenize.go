package highlight

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"ilview/internal/core/errors"
	"ilview/internal/shared/observability"
)

type capture struct {
	group int
	name  string
}

type compiledRule struct {
	group    int
	captures []capture
}

// compiled joins every rule of a language into one alternation. Go's
// leftmost-first matching then gives the earliest position, and among rules
// matching there the one declared first.
type compiled struct {
	lang  *Language
	re    *regexp.Regexp
	rules []compiledRule
}

func compile(lang *Language) (*compiled, error) {
	if lang == nil {
		return nil, errors.New(errors.CodeValidationError, "language must not be nil")
	}
	c := &compiled{lang: lang, rules: make([]compiledRule, 0, len(lang.Rules))}
	parts := make([]string, 0, len(lang.Rules))
	group := 1
	for i, rule := range lang.Rules {
		rx, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, errors.AddContext(
				errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("rule %d does not compile", i)),
				errors.CtxLanguage, lang.ID)
		}
		cr := compiledRule{group: group}
		for idx, name := range rule.Captures {
			if idx < 0 || idx > rx.NumSubexp() {
				return nil, errors.AddContext(
					errors.Newf(errors.CodeValidationError, "rule %d captures group %d of %d", i, idx, rx.NumSubexp()),
					errors.CtxLanguage, lang.ID)
			}
			cr.captures = append(cr.captures, capture{group: group + idx, name: name})
		}
		sort.Slice(cr.captures, func(a, b int) bool { return cr.captures[a].group < cr.captures[b].group })
		c.rules = append(c.rules, cr)
		parts = append(parts, "("+rule.Pattern+")")
		group += rx.NumSubexp() + 1
	}
	if len(parts) == 0 {
		return c, nil
	}
	re, err := regexp.Compile("(?m)" + strings.Join(parts, "|"))
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "rule set does not compile"),
			errors.CtxLanguage, lang.ID)
	}
	c.re = re
	return c, nil
}

func (c *compiled) tokenize(text string) []*Scope {
	if c.re == nil || text == "" {
		return nil
	}
	var out []*Scope
	for _, loc := range c.re.FindAllStringSubmatchIndex(text, -1) {
		rule := c.matched(loc)
		if rule == nil {
			continue
		}
		var flat []*Scope
		for _, cp := range rule.captures {
			start, end := loc[2*cp.group], loc[2*cp.group+1]
			if start < 0 || end <= start {
				continue
			}
			flat = append(flat, &Scope{Name: cp.name, Index: start, Length: end - start})
		}
		out = append(out, nest(flat)...)
	}
	return out
}

func (c *compiled) matched(loc []int) *compiledRule {
	for i := range c.rules {
		if loc[2*c.rules[i].group] >= 0 {
			return &c.rules[i]
		}
	}
	return nil
}

// nest turns the scopes of one match into a tree. A scope that only partly
// overlaps an earlier sibling is dropped.
func nest(flat []*Scope) []*Scope {
	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].Index != flat[j].Index {
			return flat[i].Index < flat[j].Index
		}
		return flat[i].Length > flat[j].Length
	})
	var roots, stack []*Scope
	for _, s := range flat {
		for len(stack) > 0 && !stack[len(stack)-1].contains(s) {
			stack = stack[:len(stack)-1]
		}
		siblings := &roots
		if len(stack) > 0 {
			siblings = &stack[len(stack)-1].Children
		}
		if n := len(*siblings); n > 0 && s.Index < (*siblings)[n-1].End() {
			continue
		}
		*siblings = append(*siblings, s)
		stack = append(stack, s)
	}
	return roots
}

// Tokenize scans text once against lang and returns the top-level scopes in
// ascending, non-overlapping order.
func Tokenize(text string, lang *Language) ([]*Scope, error) {
	c, err := compile(lang)
	if err != nil {
		return nil, err
	}
	return c.tokenize(text), nil
}

// Highlighter tokenizes text by language id, keeping compiled rule sets for
// reuse. It is safe for concurrent use.
type Highlighter struct {
	repo  *Repository
	mu    sync.Mutex
	cache map[string]*compiled
}

func NewHighlighter(repo *Repository) *Highlighter {
	if repo == nil {
		repo = DefaultRepository()
	}
	return &Highlighter{repo: repo, cache: make(map[string]*compiled)}
}

// Repository returns the language repository backing the highlighter.
func (h *Highlighter) Repository() *Repository { return h.repo }

// Highlight tokenizes text with the language registered under languageID.
func (h *Highlighter) Highlight(text, languageID string) ([]*Scope, error) {
	c, err := h.compiled(languageID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	scopes := c.tokenize(text)
	observability.TokenizeDuration.WithLabelValues(languageID).Observe(time.Since(start).Seconds())
	return scopes, nil
}

func (h *Highlighter) compiled(id string) (*compiled, error) {
	lang := h.repo.FindByID(id)
	if lang == nil {
		return nil, errors.AddContext(errors.Newf(errors.CodeNotFound, "unknown language %q", id),
			errors.CtxLanguage, id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	// A language replaced in the repository gets recompiled.
	if c, ok := h.cache[id]; ok && c.lang == lang {
		return c, nil
	}
	c, err := compile(lang)
	if err != nil {
		return nil, err
	}
	h.cache[id] = c
	return c, nil
}
