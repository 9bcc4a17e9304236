package metadata

import "sort"

// Namespace groups the top-level types of one assembly sharing a namespace
// string. It is not stored in metadata and is rebuilt on demand.
type Namespace struct {
	Name     string
	Assembly *Assembly
	Types    []*TypeDefinition
}

func (n *Namespace) String() string { return n.Name }

// BuildNamespaces groups the types of every module of asm, sorted by name.
// The global namespace has the empty name.
func BuildNamespaces(asm *Assembly) []*Namespace {
	byName := make(map[string]*Namespace)
	for _, m := range asm.Modules {
		for _, t := range m.Types {
			ns, ok := byName[t.Namespace]
			if !ok {
				ns = &Namespace{Name: t.Namespace, Assembly: asm}
				byName[t.Namespace] = ns
			}
			ns.Types = append(ns.Types, t)
		}
	}
	out := make([]*Namespace, 0, len(byName))
	for _, ns := range byName {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NamespaceOf returns the namespace of t's outermost declaring type.
func NamespaceOf(t *TypeDefinition) string {
	for t.DeclaringType != nil {
		t = t.DeclaringType
	}
	return t.Namespace
}
