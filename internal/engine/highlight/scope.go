package highlight

// Scope is a tagged span of text. Children lie inside their parent and do not
// overlap each other; text outside every scope is plain.
type Scope struct {
	Name     string
	Index    int
	Length   int
	Children []*Scope
}

// End is the offset just past the scope.
func (s *Scope) End() int { return s.Index + s.Length }

func (s *Scope) contains(o *Scope) bool {
	return o.Index >= s.Index && o.End() <= s.End()
}

// Segment is a run of text tagged with the innermost covering scope name.
// Plain text has an empty Name.
type Segment struct {
	Start int
	Text  string
	Name  string
}

// Segments flattens scopes into runs that cover text exactly once, in order.
// Concatenating the Text of every segment reproduces the input.
func Segments(text string, scopes []*Scope) []Segment {
	var out []Segment
	appendSegments(&out, text, 0, len(text), "", scopes)
	return out
}

func appendSegments(out *[]Segment, text string, from, to int, name string, scopes []*Scope) {
	pos := from
	for _, s := range scopes {
		start := clamp(s.Index, pos, to)
		stop := clamp(s.End(), pos, to)
		if start > pos {
			emit(out, text, pos, start, name)
		}
		if stop > start {
			appendSegments(out, text, start, stop, s.Name, s.Children)
			pos = stop
		}
	}
	if pos < to {
		emit(out, text, pos, to, name)
	}
}

// emit merges adjacent runs that carry the same name.
func emit(out *[]Segment, text string, from, to int, name string) {
	if n := len(*out); n > 0 {
		last := &(*out)[n-1]
		if last.Name == name && last.Start+len(last.Text) == from {
			last.Text = text[last.Start:to]
			return
		}
	}
	*out = append(*out, Segment{Start: from, Text: text[from:to], Name: name})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
