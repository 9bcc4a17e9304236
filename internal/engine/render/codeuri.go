package render

import (
	"fmt"
	"strings"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
)

const codeScheme = "code://"

// CodeURI addresses a method as assembly, type and method code parts.
type CodeURI struct {
	Assembly string
	Type     string
	Method   string
}

func (u CodeURI) String() string {
	return codeScheme + u.Assembly + "/" + u.Type + "/" + u.Method
}

// AssemblyCodePart is "name:version" followed by ":token" for strong-named
// assemblies.
func AssemblyCodePart(n *metadata.AssemblyName) string {
	s := n.Name + ":" + n.Version.String()
	if len(n.PublicKeyToken) > 0 {
		s += ":" + n.TokenString()
	}
	return s
}

// TypeCodePart is the namespace and arity-free name with an arity
// placeholder such as <,>. Nested types follow their declaring type's part
// after a "+": N.Outer+Inner.
func TypeCodePart(t *metadata.TypeDefinition) string {
	name := t.Name
	if n := len(t.GenericParameters); n > 0 {
		name = metadata.StripArity(name) + arityPlaceholder(n)
	}
	if t.DeclaringType != nil {
		return TypeCodePart(t.DeclaringType) + "+" + name
	}
	return t.Namespace + "." + name
}

// MethodCodePart is the name, arity placeholder and parameter type names.
// A parameter typed by one of the method's own generic parameters is
// written <!!i>, i being the parameter position.
func MethodCodePart(m *metadata.MethodDefinition) string {
	var b strings.Builder
	b.WriteString(m.Name)
	if n := len(m.GenericParameters); n > 0 {
		b.WriteString(arityPlaceholder(n))
	}
	b.WriteByte('(')
	for i, p := range m.Parameters {
		if i > 0 {
			b.WriteByte(',')
		}
		if g, ok := p.ParameterType.(*metadata.GenericParameter); ok && g.IsMethod {
			fmt.Fprintf(&b, "<!!%d>", p.Index)
			continue
		}
		b.WriteString(p.ParameterType.TypeName())
	}
	b.WriteByte(')')
	return b.String()
}

func arityPlaceholder(n int) string {
	return "<" + strings.Repeat(",", n-1) + ">"
}

// BuildCodeURI returns the code URI of m, or "" when m is detached from an
// assembly.
func BuildCodeURI(m *metadata.MethodDefinition) string {
	t := m.DeclaringType
	if t == nil || t.Module == nil || t.Module.Assembly == nil || t.Module.Assembly.Name == nil {
		return ""
	}
	return CodeURI{
		Assembly: AssemblyCodePart(t.Module.Assembly.Name),
		Type:     TypeCodePart(t),
		Method:   MethodCodePart(m),
	}.String()
}

func ParseCodeURI(s string) (CodeURI, error) {
	if !strings.HasPrefix(s, codeScheme) {
		return CodeURI{}, errors.AddContext(errors.New(errors.CodeValidationError, "code URI must start with code://"),
			errors.CtxReference, s)
	}
	parts := strings.SplitN(strings.TrimPrefix(s, codeScheme), "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return CodeURI{}, errors.AddContext(errors.New(errors.CodeValidationError, "code URI needs assembly, type and method parts"),
			errors.CtxReference, s)
	}
	return CodeURI{Assembly: parts[0], Type: parts[1], Method: parts[2]}, nil
}

// FindMethod locates the method uri points at. The assembly, type and
// method parts are matched in that order, each case-sensitively; the first
// match at each level wins.
func FindMethod(assemblies []*metadata.Assembly, uri string) (*metadata.MethodDefinition, error) {
	u, err := ParseCodeURI(uri)
	if err != nil {
		return nil, err
	}
	for _, asm := range assemblies {
		if asm == nil || asm.Name == nil || AssemblyCodePart(asm.Name) != u.Assembly {
			continue
		}
		for _, mod := range asm.Modules {
			for _, t := range mod.AllTypes() {
				if TypeCodePart(t) != u.Type {
					continue
				}
				for _, m := range t.Methods {
					if MethodCodePart(m) == u.Method {
						return m, nil
					}
				}
			}
		}
	}
	return nil, errors.AddContext(errors.Newf(errors.CodeNotFound, "no method at %s", uri), errors.CtxReference, uri)
}
