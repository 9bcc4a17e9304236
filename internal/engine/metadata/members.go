package metadata

import (
	"strconv"
	"strings"
	"sync"
)

// MethodRef is any method a signature or instruction can point at.
type MethodRef interface {
	MethodName() string
	FullName() string
	Declaring() Type
	Return() Type
	Params() []*ParameterDefinition
	IsInstance() bool
}

// TypeDefinition is a type defined in a module.
type TypeDefinition struct {
	Namespace     string
	Name          string
	Attributes    TypeAttributes
	BaseType      Type
	DeclaringType *TypeDefinition
	Module        *Module

	Interfaces        []Type
	NestedTypes       []*TypeDefinition
	Methods           []*MethodDefinition
	Fields            []*FieldDefinition
	Properties        []*PropertyDefinition
	Events            []*EventDefinition
	GenericParameters []*GenericParameter
	CustomAttributes  []*CustomAttribute

	PackingSize uint16
	ClassSize   uint32
	Token       Token
}

func (t *TypeDefinition) TypeName() string { return t.Name }

func (t *TypeDefinition) TypeNamespace() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.TypeNamespace()
	}
	return t.Namespace
}

func (t *TypeDefinition) FullName() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "/" + t.Name
	}
	return joinNamespace(t.Namespace, t.Name)
}

func (t *TypeDefinition) String() string { return t.FullName() }

func (t *TypeDefinition) IsValueType() bool {
	if t.BaseType == nil {
		return false
	}
	switch t.BaseType.FullName() {
	case "System.Enum":
		return true
	case "System.ValueType":
		return t.FullName() != "System.Enum"
	}
	return false
}

func (t *TypeDefinition) ElementType() ElementType {
	if et, ok := primitiveByName[t.FullName()]; ok && t.DeclaringType == nil {
		return et
	}
	if t.IsValueType() {
		return ElementValueType
	}
	return ElementClass
}

func (t *TypeDefinition) IsEnum() bool {
	return t.BaseType != nil && t.BaseType.FullName() == "System.Enum"
}

// EnumUnderlyingType is the type of the instance value__ field of an enum.
func (t *TypeDefinition) EnumUnderlyingType() Type {
	for _, f := range t.Fields {
		if !f.IsStatic() {
			return f.FieldType
		}
	}
	return nil
}

func (t *TypeDefinition) visibility() TypeAttributes { return t.Attributes.visibility() }

func (t *TypeDefinition) IsNotPublic() bool       { return t.visibility() == TypeNotPublic }
func (t *TypeDefinition) IsPublic() bool          { return t.visibility() == TypePublic }
func (t *TypeDefinition) IsNestedPublic() bool    { return t.visibility() == TypeNestedPublic }
func (t *TypeDefinition) IsNestedPrivate() bool   { return t.visibility() == TypeNestedPrivate }
func (t *TypeDefinition) IsNestedFamily() bool    { return t.visibility() == TypeNestedFamily }
func (t *TypeDefinition) IsNestedAssembly() bool  { return t.visibility() == TypeNestedAssembly }
func (t *TypeDefinition) IsNested() bool          { return t.DeclaringType != nil }
func (t *TypeDefinition) IsInterface() bool       { return t.Attributes&TypeInterface != 0 }
func (t *TypeDefinition) IsAbstract() bool        { return t.Attributes&TypeAbstract != 0 }
func (t *TypeDefinition) IsSealed() bool          { return t.Attributes&TypeSealed != 0 }
func (t *TypeDefinition) IsBeforeFieldInit() bool { return t.Attributes&TypeBeforeFieldInit != 0 }
func (t *TypeDefinition) IsSerializable() bool    { return t.Attributes&TypeSerializable != 0 }
func (t *TypeDefinition) IsSpecialName() bool     { return t.Attributes&TypeSpecialName != 0 }

func (t *TypeDefinition) IsAutoLayout() bool {
	return t.Attributes&TypeLayoutMask == TypeAutoLayout
}

func (t *TypeDefinition) IsSequentialLayout() bool {
	return t.Attributes&TypeLayoutMask == TypeSequentialLayout
}

func (t *TypeDefinition) IsExplicitLayout() bool {
	return t.Attributes&TypeLayoutMask == TypeExplicitLayout
}

func (t *TypeDefinition) IsAnsiClass() bool {
	return t.Attributes&TypeStringFormatMask == TypeAnsiClass
}

// Method returns the first method with the given name.
func (t *TypeDefinition) Method(name string) *MethodDefinition {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name.
func (t *TypeDefinition) Field(name string) *FieldDefinition {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Nested returns the nested type with the given name.
func (t *TypeDefinition) Nested(name string) *TypeDefinition {
	for _, n := range t.NestedTypes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// ParameterDefinition is a method parameter. Index is the zero-based position
// in the signature; this has Index -1.
type ParameterDefinition struct {
	Name             string
	Index            int
	Sequence         uint16
	ParameterType    Type
	Attributes       ParameterAttributes
	Constant         *Constant
	CustomAttributes []*CustomAttribute
	Token            Token
}

func (p *ParameterDefinition) String() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Index < 0 {
		return "this"
	}
	return "A_" + strconv.Itoa(p.Index)
}

// MethodDefinition is a method defined on a type.
type MethodDefinition struct {
	Name                string
	DeclaringType       *TypeDefinition
	Attributes          MethodAttributes
	ImplAttributes      MethodImplAttributes
	SemanticsAttributes MethodSemanticsAttributes
	HasThis             bool
	ExplicitThis        bool
	CallingConvention   MethodCallingConvention
	ReturnType          Type
	Parameters          []*ParameterDefinition
	GenericParameters   []*GenericParameter
	CustomAttributes    []*CustomAttribute
	ReturnAttributes    []*CustomAttribute
	RVA                 uint32
	Token               Token

	thisParam *ParameterDefinition
	bodyOnce  sync.Once
	bodyLoad  func() (*MethodBody, error)
	body      *MethodBody
	bodyErr   error
}

func (m *MethodDefinition) MethodName() string             { return m.Name }
func (m *MethodDefinition) Return() Type                   { return m.ReturnType }
func (m *MethodDefinition) Params() []*ParameterDefinition { return m.Parameters }
func (m *MethodDefinition) IsInstance() bool               { return m.HasThis }
func (m *MethodDefinition) String() string                 { return m.FullName() }

func (m *MethodDefinition) Declaring() Type {
	if m.DeclaringType == nil {
		return nil
	}
	return m.DeclaringType
}

func (m *MethodDefinition) FullName() string {
	return methodFullName(m.ReturnType, m.Declaring(), m.Name, nil, m.Parameters)
}

func (m *MethodDefinition) access() MethodAttributes { return m.Attributes & MethodMemberAccessMask }

func (m *MethodDefinition) IsPrivate() bool     { return m.access() == MethodPrivate }
func (m *MethodDefinition) IsFamily() bool      { return m.access() == MethodFamily }
func (m *MethodDefinition) IsAssembly() bool    { return m.access() == MethodAssembly }
func (m *MethodDefinition) IsPublic() bool      { return m.access() == MethodPublic }
func (m *MethodDefinition) IsStatic() bool      { return m.Attributes&MethodStatic != 0 }
func (m *MethodDefinition) IsFinal() bool       { return m.Attributes&MethodFinal != 0 }
func (m *MethodDefinition) IsVirtual() bool     { return m.Attributes&MethodVirtual != 0 }
func (m *MethodDefinition) IsHideBySig() bool   { return m.Attributes&MethodHideBySig != 0 }
func (m *MethodDefinition) IsNewSlot() bool     { return m.Attributes&MethodNewSlot != 0 }
func (m *MethodDefinition) IsAbstract() bool    { return m.Attributes&MethodAbstract != 0 }
func (m *MethodDefinition) IsSpecialName() bool { return m.Attributes&MethodSpecialName != 0 }

func (m *MethodDefinition) IsRuntimeSpecialName() bool {
	return m.Attributes&MethodRTSpecialName != 0
}

func (m *MethodDefinition) IsPInvokeImpl() bool { return m.Attributes&MethodPInvokeImpl != 0 }

func (m *MethodDefinition) IsIL() bool {
	return m.ImplAttributes&MethodImplCodeTypeMask == MethodImplIL
}

func (m *MethodDefinition) IsRuntime() bool {
	return m.ImplAttributes&MethodImplCodeTypeMask == MethodImplRuntime
}

func (m *MethodDefinition) IsManaged() bool {
	return m.ImplAttributes&MethodImplManagedMask == MethodImplManaged
}

func (m *MethodDefinition) IsGetter() bool   { return m.SemanticsAttributes&SemanticsGetter != 0 }
func (m *MethodDefinition) IsSetter() bool   { return m.SemanticsAttributes&SemanticsSetter != 0 }
func (m *MethodDefinition) IsAddOn() bool    { return m.SemanticsAttributes&SemanticsAddOn != 0 }
func (m *MethodDefinition) IsRemoveOn() bool { return m.SemanticsAttributes&SemanticsRemoveOn != 0 }

// IsAccessor reports whether the method is owned by a property or event.
func (m *MethodDefinition) IsAccessor() bool {
	return m.IsGetter() || m.IsSetter() || m.IsAddOn() || m.IsRemoveOn()
}

func (m *MethodDefinition) IsConstructor() bool {
	return m.IsRuntimeSpecialName() && (m.Name == ".ctor" || m.Name == ".cctor")
}

// HasBody reports whether the method has IL to decode.
func (m *MethodDefinition) HasBody() bool {
	return m.RVA != 0 && m.IsIL() && !m.IsAbstract() && !m.IsPInvokeImpl() && !m.IsRuntime()
}

// Body decodes the method body on first access. It returns nil, nil for
// methods without IL.
func (m *MethodDefinition) Body() (*MethodBody, error) {
	m.bodyOnce.Do(func() {
		if m.bodyLoad != nil {
			m.body, m.bodyErr = m.bodyLoad()
			m.bodyLoad = nil
		}
	})
	return m.body, m.bodyErr
}

// ThisParameter is the implicit first argument of instance methods.
func (m *MethodDefinition) ThisParameter() *ParameterDefinition {
	if !m.HasThis {
		return nil
	}
	if m.thisParam == nil {
		m.thisParam = &ParameterDefinition{Name: "this", Index: -1, ParameterType: m.DeclaringType}
	}
	return m.thisParam
}

// MethodReference is a MemberRef pointing at a method.
type MethodReference struct {
	Name              string
	DeclaringType     Type
	HasThis           bool
	ExplicitThis      bool
	CallingConvention MethodCallingConvention
	ReturnType        Type
	Parameters        []*ParameterDefinition
	GenericArity      int
	Token             Token
}

func (m *MethodReference) MethodName() string             { return m.Name }
func (m *MethodReference) Declaring() Type                { return m.DeclaringType }
func (m *MethodReference) Return() Type                   { return m.ReturnType }
func (m *MethodReference) Params() []*ParameterDefinition { return m.Parameters }
func (m *MethodReference) IsInstance() bool               { return m.HasThis }
func (m *MethodReference) String() string                 { return m.FullName() }

func (m *MethodReference) FullName() string {
	return methodFullName(m.ReturnType, m.DeclaringType, m.Name, nil, m.Parameters)
}

// GenericInstanceMethod is a MethodSpec: a generic method with arguments.
type GenericInstanceMethod struct {
	Method    MethodRef
	Arguments []Type
	Token     Token
}

func (m *GenericInstanceMethod) MethodName() string             { return m.Method.MethodName() }
func (m *GenericInstanceMethod) Declaring() Type                { return m.Method.Declaring() }
func (m *GenericInstanceMethod) Return() Type                   { return m.Method.Return() }
func (m *GenericInstanceMethod) Params() []*ParameterDefinition { return m.Method.Params() }
func (m *GenericInstanceMethod) IsInstance() bool               { return m.Method.IsInstance() }
func (m *GenericInstanceMethod) String() string                 { return m.FullName() }

func (m *GenericInstanceMethod) FullName() string {
	return methodFullName(m.Return(), m.Declaring(), m.MethodName(), m.Arguments, m.Params())
}

// CallSite is a standalone method signature used by calli and function pointers.
type CallSite struct {
	HasThis           bool
	ExplicitThis      bool
	CallingConvention MethodCallingConvention
	ReturnType        Type
	Parameters        []*ParameterDefinition
}

func (c *CallSite) FullName() string {
	return fullNameOf(c.ReturnType) + " " + signatureFullName(c.Parameters)
}

func (c *CallSite) String() string { return c.FullName() }

func methodFullName(ret, declaring Type, name string, genericArgs []Type, params []*ParameterDefinition) string {
	var b strings.Builder
	b.WriteString(fullNameOf(ret))
	b.WriteByte(' ')
	if declaring != nil {
		b.WriteString(declaring.FullName())
	} else {
		b.WriteString("<Module>")
	}
	b.WriteString("::")
	b.WriteString(name)
	if len(genericArgs) > 0 {
		b.WriteByte('<')
		for i, a := range genericArgs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(fullNameOf(a))
		}
		b.WriteByte('>')
	}
	b.WriteString(signatureFullName(params))
	return b.String()
}

func signatureFullName(params []*ParameterDefinition) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		if _, ok := p.ParameterType.(*SentinelType); ok {
			b.WriteString("...,")
		}
		b.WriteString(fullNameOf(p.ParameterType))
	}
	b.WriteByte(')')
	return b.String()
}

// FieldDefinition is a field defined on a type.
type FieldDefinition struct {
	Name             string
	DeclaringType    *TypeDefinition
	Attributes       FieldAttributes
	FieldType        Type
	Constant         *Constant
	CustomAttributes []*CustomAttribute
	RVA              uint32
	Offset           int32
	HasOffset        bool
	Token            Token
}

func (f *FieldDefinition) FullName() string {
	return fullNameOf(f.FieldType) + " " + f.DeclaringType.FullName() + "::" + f.Name
}

func (f *FieldDefinition) String() string { return f.FullName() }

func (f *FieldDefinition) access() FieldAttributes { return f.Attributes & FieldAccessMask }

func (f *FieldDefinition) IsPrivate() bool     { return f.access() == FieldPrivate }
func (f *FieldDefinition) IsFamily() bool      { return f.access() == FieldFamily }
func (f *FieldDefinition) IsAssembly() bool    { return f.access() == FieldAssembly }
func (f *FieldDefinition) IsPublic() bool      { return f.access() == FieldPublic }
func (f *FieldDefinition) IsStatic() bool      { return f.Attributes&FieldStatic != 0 }
func (f *FieldDefinition) IsInitOnly() bool    { return f.Attributes&FieldInitOnly != 0 }
func (f *FieldDefinition) IsLiteral() bool     { return f.Attributes&FieldLiteral != 0 }
func (f *FieldDefinition) IsSpecialName() bool { return f.Attributes&FieldSpecialName != 0 }

func (f *FieldDefinition) IsRuntimeSpecialName() bool {
	return f.Attributes&FieldRTSpecialName != 0
}

// FieldReference is a MemberRef pointing at a field.
type FieldReference struct {
	Name          string
	DeclaringType Type
	FieldType     Type
	Token         Token
}

func (f *FieldReference) FullName() string {
	return fullNameOf(f.FieldType) + " " + fullNameOf(f.DeclaringType) + "::" + f.Name
}

func (f *FieldReference) String() string { return f.FullName() }

// PropertyDefinition is a property with its accessor methods.
type PropertyDefinition struct {
	Name             string
	DeclaringType    *TypeDefinition
	Attributes       PropertyAttributes
	HasThis          bool
	PropertyType     Type
	Parameters       []*ParameterDefinition
	GetMethod        *MethodDefinition
	SetMethod        *MethodDefinition
	OtherMethods     []*MethodDefinition
	Constant         *Constant
	CustomAttributes []*CustomAttribute
	Token            Token
}

func (p *PropertyDefinition) FullName() string {
	return fullNameOf(p.PropertyType) + " " + p.DeclaringType.FullName() + "::" + p.Name +
		signatureFullName(p.Parameters)
}

func (p *PropertyDefinition) String() string { return p.FullName() }

// EventDefinition is an event with its accessor methods.
type EventDefinition struct {
	Name             string
	DeclaringType    *TypeDefinition
	Attributes       EventAttributes
	EventType        Type
	AddMethod        *MethodDefinition
	RemoveMethod     *MethodDefinition
	InvokeMethod     *MethodDefinition
	OtherMethods     []*MethodDefinition
	CustomAttributes []*CustomAttribute
	Token            Token
}

func (e *EventDefinition) FullName() string {
	return fullNameOf(e.EventType) + " " + e.DeclaringType.FullName() + "::" + e.Name
}

func (e *EventDefinition) String() string { return e.FullName() }

// Char is a UTF-16 code unit constant.
type Char uint16

// Constant is a compile-time default value. Value is nil for a null reference.
type Constant struct {
	Type  ElementType
	Value interface{}
}
