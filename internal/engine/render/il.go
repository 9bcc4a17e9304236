package render

import (
	"fmt"
	"sort"
	"strings"

	"ilview/internal/engine/metadata"
)

var ilLanguage = Language{
	ID:        "il",
	Name:      "IL",
	Highlight: "il",
	Assembly:  writeILAssembly,
	Module:    writeILModule,
	Namespace: writeILNamespace,
	Type:      writeILType,
	Method:    writeILMethod,
	Property:  writeILProperty,
	Field:     writeILField,
	Event:     writeILEvent,
}

func writeILAssembly(w *Writer, a *metadata.Assembly) {
	name := a.Name
	w.WriteDefinition(".assembly ", a)
	w.Write(name.Name)
	w.openBlock()

	w.WriteLine(".ver " + strings.ReplaceAll(name.Version.String(), ".", ":"))
	if name.HashAlgorithm != metadata.HashNone {
		w.Writef(".hash algorithm 0x%08X", uint32(name.HashAlgorithm))
		if name.HashAlgorithm == metadata.HashSHA1 {
			w.Write(" // SHA1")
		}
		w.WriteLine("")
	}
	if name.HasPublicKey() {
		w.WriteLine(".publickey = (" + hexBytes(name.PublicKey) + ")")
	}
	writeILCustomAttributes(w, a.CustomAttributes)
	w.closeBlock()

	if !w.Full() {
		return
	}
	for _, m := range a.Modules {
		w.WriteLine("")
		writeILModule(w, m)
	}
	for _, ns := range metadata.BuildNamespaces(a) {
		w.WriteLine("")
		writeILNamespace(w, ns)
	}
}

func writeILModule(w *Writer, m *metadata.Module) {
	w.WriteDefinition(".module ", m)
	w.WriteLine(m.Name)
	w.WriteLine("// MVID: {" + m.Mvid.String() + "}")
	w.WriteLine("// Target Runtime Version: " + m.RuntimeVersion)
	w.WriteLine("// Architecture: " + m.Architecture.String())
	if !w.Full() {
		return
	}
	for _, r := range m.Resources {
		writeILResource(w, r)
	}
}

func writeILResource(w *Writer, r *metadata.Resource) {
	visibility := "private"
	if r.IsPublic() {
		visibility = "public"
	}
	w.Write(".mresource " + visibility + " " + r.Name)
	w.openBlock()
	switch r.Kind {
	case metadata.ResourceLinked:
		w.WriteLine(".file " + r.File)
	case metadata.ResourceAssemblyLinked:
		if r.Assembly != nil {
			w.WriteLine(".assembly extern " + r.Assembly.Name)
		}
	default:
		data, err := r.Data()
		if err != nil {
			w.logger.Warn("resource payload unavailable", "resource", r.Name, "error", err)
			w.WriteLine("// payload unavailable: " + err.Error())
		} else {
			w.Writef("// Length: 0x%08x", len(data))
			w.WriteLine("")
		}
	}
	w.closeBlock()
}

func writeILNamespace(w *Writer, ns *metadata.Namespace) {
	w.WriteDefinition(".namespace ", ns)
	w.Write(ns.Name)
	w.openBlock()
	types := append([]*metadata.TypeDefinition(nil), ns.Types...)
	sort.SliceStable(types, func(i, j int) bool { return types[i].Name < types[j].Name })

	// A namespace lists type headers only.
	full := w.opts.FullDecompilation
	w.opts.FullDecompilation = false
	for _, t := range types {
		writeILType(w, t)
		w.WriteLine("")
	}
	w.opts.FullDecompilation = full
	w.closeBlock()
}

func writeILType(w *Writer, t *metadata.TypeDefinition) {
	w.WriteDefinition(".class ", t)
	var mods []string
	if t.IsPublic() || t.IsNestedPublic() {
		mods = append(mods, "public")
	}
	if t.IsNotPublic() || t.IsNestedPrivate() {
		mods = append(mods, "private")
	}
	if t.IsInterface() {
		mods = append(mods, "interface")
	}
	if t.IsAbstract() {
		mods = append(mods, "abstract")
	}
	if t.IsSequentialLayout() {
		mods = append(mods, "sequential")
	}
	if t.IsAutoLayout() {
		mods = append(mods, "auto")
	}
	if t.IsAnsiClass() {
		mods = append(mods, "ansi")
	}
	if t.IsSealed() {
		mods = append(mods, "sealed")
	}
	if t.IsNested() {
		mods = append(mods, "nested")
	}
	if t.IsNestedFamily() {
		mods = append(mods, "family")
	}
	if t.IsBeforeFieldInit() {
		mods = append(mods, "beforefieldinit")
	}
	for _, m := range mods {
		w.Write(m + " ")
	}
	w.Write(metadata.ShortTypeName(t))

	if t.BaseType != nil {
		w.WriteLine("")
		w.Indent()
		w.Write("extends " + metadata.ShortTypeName(t.BaseType))
		w.Unindent()
	}
	if len(t.Interfaces) > 0 {
		names := make([]string, len(t.Interfaces))
		for i, iface := range t.Interfaces {
			names[i] = iface.FullName()
		}
		w.WriteLine("")
		w.Indent()
		w.Write("implements " + strings.Join(names, ", "))
		w.Unindent()
	}

	w.openBlock()
	if len(t.CustomAttributes) > 0 {
		writeILCustomAttributes(w, t.CustomAttributes)
		w.WriteLine("")
	}
	if w.Full() {
		writeILMembers(w, t)
	}
	w.closeBlock()
}

// writeILMembers emits each member category sorted by name so the listing
// does not depend on table order. Accessors appear under their property or
// event only.
func writeILMembers(w *Writer, t *metadata.TypeDefinition) {
	nested := append([]*metadata.TypeDefinition(nil), t.NestedTypes...)
	sort.SliceStable(nested, func(i, j int) bool { return nested[i].Name < nested[j].Name })
	for _, n := range nested {
		writeILType(w, n)
		w.WriteLine("")
	}

	var methods []*metadata.MethodDefinition
	for _, m := range t.Methods {
		if !m.IsAccessor() {
			methods = append(methods, m)
		}
	}
	sort.SliceStable(methods, func(i, j int) bool { return methods[i].Name < methods[j].Name })
	for _, m := range methods {
		writeILMethod(w, m)
		w.WriteLine("")
	}

	props := append([]*metadata.PropertyDefinition(nil), t.Properties...)
	sort.SliceStable(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	for _, p := range props {
		writeILProperty(w, p)
		w.WriteLine("")
	}

	events := append([]*metadata.EventDefinition(nil), t.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Name < events[j].Name })
	for _, e := range events {
		writeILEvent(w, e)
		w.WriteLine("")
	}

	fields := append([]*metadata.FieldDefinition(nil), t.Fields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	for _, f := range fields {
		writeILField(w, f)
		w.WriteLine("")
	}
}

// MethodHeader is the .method declaration line of m without the keyword.
func MethodHeader(m *metadata.MethodDefinition) string {
	var parts []string
	switch {
	case m.IsAssembly():
		parts = append(parts, "assembly")
	case m.IsFamily():
		parts = append(parts, "family")
	case m.IsPublic():
		parts = append(parts, "public")
	case m.IsPrivate():
		parts = append(parts, "private")
	}
	if m.IsHideBySig() {
		parts = append(parts, "hidebysig")
	}
	if m.IsSpecialName() {
		parts = append(parts, "specialname")
	}
	if m.IsNewSlot() {
		parts = append(parts, "newslot")
	}
	if m.IsVirtual() {
		parts = append(parts, "virtual")
	}
	if m.IsFinal() {
		parts = append(parts, "final")
	}
	if m.IsRuntimeSpecialName() {
		parts = append(parts, "rtspecialname")
	}
	if m.IsStatic() {
		parts = append(parts, "static")
	} else {
		parts = append(parts, "instance")
	}
	parts = append(parts, metadata.ShortTypeName(m.ReturnType))

	params := make([]string, len(m.Parameters))
	for i, p := range m.Parameters {
		params[i] = metadata.ShortTypeName(p.ParameterType) + " " + p.String()
	}
	parts = append(parts, methodName(m)+"("+strings.Join(params, ", ")+")")

	if m.IsIL() {
		parts = append(parts, "cil")
	}
	if m.IsRuntime() {
		parts = append(parts, "runtime")
	}
	if m.IsManaged() {
		parts = append(parts, "managed")
	}
	return strings.Join(parts, " ")
}

func methodName(m *metadata.MethodDefinition) string {
	if len(m.GenericParameters) == 0 {
		return m.Name
	}
	names := make([]string, len(m.GenericParameters))
	for i, g := range m.GenericParameters {
		names[i] = g.Name
	}
	return m.Name + "<" + strings.Join(names, ", ") + ">"
}

func writeILMethod(w *Writer, m *metadata.MethodDefinition) {
	w.WriteDefinition(".method ", m)
	w.Write(MethodHeader(m))
	w.openBlock()
	writeILCustomAttributes(w, m.CustomAttributes)
	if w.Full() && m.HasBody() {
		writeILBody(w, m)
	}
	w.closeBlock()
}

func writeILBody(w *Writer, m *metadata.MethodDefinition) {
	body, err := m.Body()
	if err != nil {
		w.logger.Warn("method body unavailable", "method", m.FullName(), "error", err)
		w.WriteLine("// method body unavailable: " + err.Error())
		return
	}
	if body == nil {
		return
	}
	if mod := m.DeclaringType.Module; mod != nil && mod.EntryPoint == m {
		w.WriteLine(".entrypoint")
	}
	w.Writef(".maxstack %d", body.MaxStack)
	w.WriteLine("")
	writeILLocals(w, body)
	for _, ins := range body.Instructions {
		w.WriteLine(ins.String())
	}
}

func writeILLocals(w *Writer, body *metadata.MethodBody) {
	if len(body.Variables) == 0 {
		return
	}
	if body.InitLocals {
		w.WriteLine(".locals init (")
	} else {
		w.WriteLine(".locals (")
	}
	w.Indent()
	for i, v := range body.Variables {
		if i > 0 {
			w.WriteLine(",")
		}
		w.Writef("[%d] %s %s", v.Index, metadata.ShortTypeName(v.VariableType), v.String())
	}
	w.WriteLine(")")
	w.Unindent()
}

func writeILProperty(w *Writer, p *metadata.PropertyDefinition) {
	w.WriteDefinition(".property ", p)
	if p.HasThis {
		w.Write("instance ")
	} else {
		w.Write("class ")
	}
	if needsValueType(p.PropertyType) {
		w.Write("valuetype ")
	}
	w.Write(metadata.ShortTypeName(p.PropertyType) + " " + p.Name)
	w.openBlock()
	writeILCustomAttributes(w, p.CustomAttributes)
	if g := p.GetMethod; g != nil {
		w.Write(".get ")
		if g.HasThis {
			w.Write("instance ")
		}
		if needsValueType(g.ReturnType) {
			w.Write("valuetype ")
		}
		w.WriteLine(g.FullName())
	}
	if s := p.SetMethod; s != nil {
		w.Write(".set ")
		if s.HasThis {
			w.Write("instance ")
		}
		w.WriteLine(s.FullName())
	}
	w.closeBlock()
}

func writeILEvent(w *Writer, e *metadata.EventDefinition) {
	w.WriteDefinition(".event ", e)
	w.Write(metadata.ShortTypeName(e.EventType) + " " + e.Name)
	w.openBlock()
	writeILCustomAttributes(w, e.CustomAttributes)
	if m := e.AddMethod; m != nil {
		w.WriteLine(".addon " + accessorSignature(m))
	}
	if m := e.RemoveMethod; m != nil {
		w.WriteLine(".removeon " + accessorSignature(m))
	}
	w.closeBlock()
}

// accessorSignature is "[instance] ret Decl::name(ShortParam,...)".
func accessorSignature(m *metadata.MethodDefinition) string {
	var b strings.Builder
	if m.HasThis {
		b.WriteString("instance ")
	}
	if alias := metadata.PrimitiveAlias(m.ReturnType.FullName()); alias != "" {
		b.WriteString(alias)
	} else {
		b.WriteString(m.ReturnType.FullName())
	}
	b.WriteString(" " + m.DeclaringType.FullName() + "::" + m.Name + "(")
	for i, p := range m.Parameters {
		if i > 0 {
			b.WriteByte(',')
		}
		if _, ok := p.ParameterType.(*metadata.SentinelType); ok {
			b.WriteString("...,")
		}
		b.WriteString(metadata.ShortTypeName(p.ParameterType))
	}
	b.WriteByte(')')
	return b.String()
}

func writeILField(w *Writer, f *metadata.FieldDefinition) {
	w.WriteDefinition(".field ", f)
	var mods []string
	if f.IsAssembly() {
		mods = append(mods, "assembly")
	}
	if f.IsFamily() {
		mods = append(mods, "family")
	}
	if f.IsPrivate() {
		mods = append(mods, "private")
	}
	if f.IsPublic() {
		mods = append(mods, "public")
	}
	if f.IsStatic() {
		mods = append(mods, "static")
	}
	if needsValueType(f.FieldType) {
		mods = append(mods, "valuetype")
	}
	if f.IsSpecialName() {
		mods = append(mods, "specialname")
	}
	if f.IsRuntimeSpecialName() {
		mods = append(mods, "rtspecialname")
	}
	if f.IsLiteral() {
		mods = append(mods, "literal")
	}
	if f.IsInitOnly() {
		mods = append(mods, "initonly")
	}
	mods = append(mods, metadata.ShortTypeName(f.FieldType), f.Name)
	w.Write(strings.Join(mods, " "))

	if f.Constant != nil {
		w.Write(" = " + f.FieldType.FullName() + "(" + constantText(f.Constant, f.FieldType) + ")")
	}
	if len(f.CustomAttributes) > 0 {
		w.openBlock()
		writeILCustomAttributes(w, f.CustomAttributes)
		w.closeBlock()
		return
	}
	w.WriteLine("")
}

func writeILCustomAttributes(w *Writer, attrs []*metadata.CustomAttribute) {
	for _, ca := range attrs {
		if !w.decodeAttribute(ca) {
			continue
		}
		w.Write(".custom ")
		if ca.Constructor.IsInstance() {
			w.Write("instance ")
		}
		w.Write(ca.Constructor.FullName())

		var values []string
		for _, arg := range ca.Arguments {
			values = append(values, arg.String())
		}
		for _, named := range ca.Properties {
			if strings.TrimSpace(named.Name) != "" {
				values = append(values, named.Name+"="+named.Argument.String())
			}
		}
		for _, named := range ca.Fields {
			if strings.TrimSpace(named.Name) != "" {
				values = append(values, named.Name+"="+named.Argument.String())
			}
		}
		if len(values) == 0 {
			w.WriteLine(" = { }")
			continue
		}
		w.WriteLine(" = { " + strings.Join(values, " ") + " }")
	}
}

// needsValueType reports whether a signature position gets the valuetype
// keyword: value types other than the primitives.
func needsValueType(t metadata.Type) bool {
	return t != nil && t.IsValueType() && !metadata.IsPrimitive(t) && t.ElementType() != metadata.ElementVoid
}

func constantText(c *metadata.Constant, fieldType metadata.Type) string {
	var s string
	switch v := c.Value.(type) {
	case nil:
		return "null"
	case bool:
		s = fmt.Sprint(v)
	case metadata.Char:
		s = string(rune(v))
	case float32, float64:
		s = metadata.FormatOperand(v)
	default:
		s = fmt.Sprint(v)
	}
	if fieldType != nil && fieldType.FullName() == "System.String" {
		return "'" + s + "'"
	}
	return s
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}
