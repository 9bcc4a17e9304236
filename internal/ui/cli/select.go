package cli

import (
	"fmt"
	"strings"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	"ilview/internal/engine/render"
	"ilview/internal/shared/util"
)

// selectEntity maps the command line to what gets rendered:
//
//	""                   the assembly
//	module[:Name]        the main module, or the module named Name
//	ns:Name              a namespace ("ns:" alone is the global one)
//	Ns.Type              a type; nested types use "/"
//	Ns.Type::Member      a method, field, property or event of the type
func selectEntity(loaded []*metadata.Assembly, asm *metadata.Assembly, uri, selector string) (interface{}, error) {
	if uri != "" {
		return render.FindMethod(loaded, uri)
	}
	selector = strings.TrimSpace(selector)
	switch {
	case selector == "":
		return asm, nil
	case selector == "module":
		return asm.MainModule(), nil
	case strings.HasPrefix(selector, "module:"):
		name := strings.TrimPrefix(selector, "module:")
		for _, m := range asm.Modules {
			if strings.EqualFold(m.Name, name) {
				return m, nil
			}
		}
		return nil, notFound("module", name)
	case strings.HasPrefix(selector, "ns:"):
		name := strings.TrimPrefix(selector, "ns:")
		for _, ns := range metadata.BuildNamespaces(asm) {
			if ns.Name == name {
				return ns, nil
			}
		}
		return nil, notFound("namespace", name)
	}

	typeName, member, hasMember := strings.Cut(selector, "::")
	t := asm.FindType(typeName)
	if t == nil {
		return nil, notFound("type", typeName)
	}
	if !hasMember {
		return t, nil
	}
	if m := t.Method(member); m != nil {
		return m, nil
	}
	if f := t.Field(member); f != nil {
		return f, nil
	}
	for _, p := range t.Properties {
		if p.Name == member {
			return p, nil
		}
	}
	for _, e := range t.Events {
		if e.Name == member {
			return e, nil
		}
	}
	return nil, notFound("member", selector)
}

func notFound(kind, name string) error {
	return errors.AddContext(errors.Newf(errors.CodeNotFound, "no %s %q", kind, name),
		errors.CtxReference, name)
}

// listAssembly prints every type grouped by namespace, with the code URI of
// each method.
func listAssembly(asm *metadata.Assembly) string {
	byNamespace := make(map[string][]*metadata.TypeDefinition)
	for _, m := range asm.Modules {
		for _, t := range m.AllTypes() {
			ns := metadata.NamespaceOf(t)
			byNamespace[ns] = append(byNamespace[ns], t)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", asm.FullName())
	for _, ns := range util.SortedKeys(byNamespace) {
		label := ns
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(&b, "\n%s\n", label)
		for _, t := range byNamespace[ns] {
			fmt.Fprintf(&b, "  %s\n", t.FullName())
			for _, m := range t.Methods {
				fmt.Fprintf(&b, "    %s\n", render.BuildCodeURI(m))
			}
		}
	}
	return b.String()
}
