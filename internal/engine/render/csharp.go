package render

import (
	"strings"

	"ilview/internal/engine/metadata"
)

// csharpLanguage writes declaration headers only; there is no body
// decompilation behind it.
var csharpLanguage = Language{
	ID:        "csharp",
	Name:      "C#",
	Highlight: "csharp",
	Assembly:  writeCSAssembly,
	Module:    writeCSModule,
	Namespace: writeCSNamespace,
	Type:      writeCSType,
	Method:    writeCSMethod,
	Property:  writeCSProperty,
	Field:     writeCSField,
	Event:     writeCSEvent,
}

var csharpAliases = map[string]string{
	"System.SByte":   "sbyte",
	"System.Int16":   "short",
	"System.Int32":   "int",
	"System.Int64":   "long",
	"System.Byte":    "byte",
	"System.UInt16":  "ushort",
	"System.UInt32":  "uint",
	"System.UInt64":  "ulong",
	"System.Single":  "float",
	"System.Double":  "double",
	"System.Void":    "void",
	"System.Boolean": "bool",
	"System.String":  "string",
	"System.Char":    "char",
	"System.Object":  "object",
	"System.Decimal": "decimal",
}

func csharpTypeName(t metadata.Type) string {
	switch v := t.(type) {
	case nil:
		return ""
	case *metadata.ArrayType:
		return csharpTypeName(v.Element) + "[]"
	case *metadata.ByReferenceType:
		return "ref " + csharpTypeName(v.Element)
	case *metadata.PointerType:
		return csharpTypeName(v.Element) + "*"
	case *metadata.GenericInstanceType:
		args := make([]string, len(v.Arguments))
		for i, a := range v.Arguments {
			args[i] = csharpTypeName(a)
		}
		return metadata.StripArity(v.Generic.TypeName()) + "<" + strings.Join(args, ", ") + ">"
	}
	if alias, ok := csharpAliases[t.FullName()]; ok {
		return alias
	}
	return metadata.ShortTypeName(t)
}

func writeCSComment(w *Writer, s string) {
	w.WriteLine("// " + s)
}

func writeCSAssembly(w *Writer, a *metadata.Assembly) {
	w.WriteDefinition("", a)
	if a.Location != "" {
		writeCSComment(w, a.Location)
	}
	writeCSComment(w, a.FullName())
}

func writeCSModule(w *Writer, m *metadata.Module) {
	w.WriteDefinition("", m)
	writeCSComment(w, m.Name)
}

func writeCSNamespace(w *Writer, ns *metadata.Namespace) {
	w.WriteDefinition("", ns)
	writeCSComment(w, ns.Name)
}

func writeCSType(w *Writer, t *metadata.TypeDefinition) {
	writeCSComment(w, t.FullName())
	w.WriteDefinition("", t)
	var parts []string
	switch {
	case t.IsPublic() || t.IsNestedPublic():
		parts = append(parts, "public")
	case t.IsNestedFamily():
		parts = append(parts, "protected")
	case t.IsNestedPrivate():
		parts = append(parts, "private")
	default:
		parts = append(parts, "internal")
	}
	switch {
	case t.IsInterface():
		parts = append(parts, "interface")
	case t.IsEnum():
		parts = append(parts, "enum")
	case t.IsValueType():
		parts = append(parts, "struct")
	default:
		if t.IsAbstract() && t.IsSealed() {
			parts = append(parts, "static")
		} else if t.IsAbstract() {
			parts = append(parts, "abstract")
		} else if t.IsSealed() {
			parts = append(parts, "sealed")
		}
		parts = append(parts, "class")
	}
	parts = append(parts, metadata.ShortTypeName(t))
	w.WriteLine(strings.Join(parts, " "))
}

func csharpAccess(public, family, assembly, private bool) string {
	switch {
	case public:
		return "public"
	case family:
		return "protected"
	case assembly:
		return "internal"
	case private:
		return "private"
	}
	return ""
}

func writeCSMethod(w *Writer, m *metadata.MethodDefinition) {
	writeCSComment(w, m.DeclaringType.FullName()+"."+m.Name)
	w.WriteDefinition("", m)
	var parts []string
	if a := csharpAccess(m.IsPublic(), m.IsFamily(), m.IsAssembly(), m.IsPrivate()); a != "" {
		parts = append(parts, a)
	}
	if m.IsStatic() {
		parts = append(parts, "static")
	} else if m.IsAbstract() {
		parts = append(parts, "abstract")
	} else if m.IsVirtual() && m.IsNewSlot() {
		parts = append(parts, "virtual")
	} else if m.IsVirtual() {
		parts = append(parts, "override")
	}
	params := make([]string, len(m.Parameters))
	for i, p := range m.Parameters {
		params[i] = csharpTypeName(p.ParameterType) + " " + p.String()
	}
	if !m.IsConstructor() {
		parts = append(parts, csharpTypeName(m.ReturnType))
	}
	w.WriteLine(strings.Join(parts, " ") + " " + csharpMethodName(m) + "(" + strings.Join(params, ", ") + ");")
}

func csharpMethodName(m *metadata.MethodDefinition) string {
	if m.IsConstructor() {
		return metadata.StripArity(m.DeclaringType.Name)
	}
	return methodName(m)
}

func writeCSProperty(w *Writer, p *metadata.PropertyDefinition) {
	writeCSComment(w, p.DeclaringType.FullName()+"."+p.Name)
	w.WriteDefinition("", p)
	var accessors []string
	if p.GetMethod != nil {
		accessors = append(accessors, "get;")
	}
	if p.SetMethod != nil {
		accessors = append(accessors, "set;")
	}
	w.WriteLine(csharpTypeName(p.PropertyType) + " " + p.Name + " { " + strings.Join(accessors, " ") + " }")
}

func writeCSField(w *Writer, f *metadata.FieldDefinition) {
	writeCSComment(w, f.DeclaringType.FullName()+"."+f.Name)
	w.WriteDefinition("", f)
	var parts []string
	if a := csharpAccess(f.IsPublic(), f.IsFamily(), f.IsAssembly(), f.IsPrivate()); a != "" {
		parts = append(parts, a)
	}
	switch {
	case f.IsLiteral():
		parts = append(parts, "const")
	case f.IsStatic():
		parts = append(parts, "static")
	}
	if f.IsInitOnly() {
		parts = append(parts, "readonly")
	}
	parts = append(parts, csharpTypeName(f.FieldType), f.Name)
	line := strings.Join(parts, " ")
	if f.Constant != nil {
		line += " = " + csharpConstant(f.Constant, f.FieldType)
	}
	w.WriteLine(line + ";")
}

func csharpConstant(c *metadata.Constant, t metadata.Type) string {
	switch v := c.Value.(type) {
	case string:
		return `"` + v + `"`
	case metadata.Char:
		return "'" + string(rune(v)) + "'"
	}
	return strings.Trim(constantText(c, t), "'")
}

func writeCSEvent(w *Writer, e *metadata.EventDefinition) {
	writeCSComment(w, e.DeclaringType.FullName()+"."+e.Name)
	w.WriteDefinition("", e)
	w.WriteLine("event " + csharpTypeName(e.EventType) + " " + e.Name + ";")
}
