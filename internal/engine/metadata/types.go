package metadata

import (
	"fmt"
	"strings"
)

// ElementType is the signature element type code (ECMA-335 II.23.1.16).
type ElementType byte

const (
	ElementEnd         ElementType = 0x00
	ElementVoid        ElementType = 0x01
	ElementBoolean     ElementType = 0x02
	ElementChar        ElementType = 0x03
	ElementI1          ElementType = 0x04
	ElementU1          ElementType = 0x05
	ElementI2          ElementType = 0x06
	ElementU2          ElementType = 0x07
	ElementI4          ElementType = 0x08
	ElementU4          ElementType = 0x09
	ElementI8          ElementType = 0x0a
	ElementU8          ElementType = 0x0b
	ElementR4          ElementType = 0x0c
	ElementR8          ElementType = 0x0d
	ElementString      ElementType = 0x0e
	ElementPtr         ElementType = 0x0f
	ElementByRef       ElementType = 0x10
	ElementValueType   ElementType = 0x11
	ElementClass       ElementType = 0x12
	ElementVar         ElementType = 0x13
	ElementArray       ElementType = 0x14
	ElementGenericInst ElementType = 0x15
	ElementTypedByRef  ElementType = 0x16
	ElementI           ElementType = 0x18
	ElementU           ElementType = 0x19
	ElementFnPtr       ElementType = 0x1b
	ElementObject      ElementType = 0x1c
	ElementSzArray     ElementType = 0x1d
	ElementMVar        ElementType = 0x1e
	ElementCModReqd    ElementType = 0x1f
	ElementCModOpt     ElementType = 0x20
	ElementInternal    ElementType = 0x21
	ElementModifier    ElementType = 0x40
	ElementSentinel    ElementType = 0x41
	ElementPinned      ElementType = 0x45
	ElementSystemType  ElementType = 0x50
	ElementBoxed       ElementType = 0x51
	ElementEnum        ElementType = 0x55
)

// Type is anything that can appear where a signature expects a type.
type Type interface {
	TypeName() string
	TypeNamespace() string
	FullName() string
	IsValueType() bool
	ElementType() ElementType
}

// ResolutionScope is where a TypeReference points: an assembly reference,
// a module reference, or the referencing module itself.
type ResolutionScope interface {
	ScopeName() string
}

type primitiveInfo struct {
	name      string
	valueType bool
}

var primitives = map[ElementType]primitiveInfo{
	ElementVoid:       {"Void", true},
	ElementBoolean:    {"Boolean", true},
	ElementChar:       {"Char", true},
	ElementI1:         {"SByte", true},
	ElementU1:         {"Byte", true},
	ElementI2:         {"Int16", true},
	ElementU2:         {"UInt16", true},
	ElementI4:         {"Int32", true},
	ElementU4:         {"UInt32", true},
	ElementI8:         {"Int64", true},
	ElementU8:         {"UInt64", true},
	ElementR4:         {"Single", true},
	ElementR8:         {"Double", true},
	ElementString:     {"String", false},
	ElementTypedByRef: {"TypedReference", true},
	ElementI:          {"IntPtr", true},
	ElementU:          {"UIntPtr", true},
	ElementObject:     {"Object", false},
}

var primitiveByName = func() map[string]ElementType {
	m := make(map[string]ElementType, len(primitives))
	for et, p := range primitives {
		m["System."+p.name] = et
	}
	return m
}()

// IsPrimitive reports whether t is one of the CLI primitive value types.
func IsPrimitive(t Type) bool {
	if t == nil {
		return false
	}
	switch t.ElementType() {
	case ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8, ElementI, ElementU:
		return true
	}
	return false
}

// TypeReference names a type defined elsewhere, or a primitive.
type TypeReference struct {
	Namespace     string
	Name          string
	Scope         ResolutionScope
	DeclaringType *TypeReference
	Module        *Module
	ValueType     bool
	Etype         ElementType
	Token         Token
}

func (t *TypeReference) TypeName() string      { return t.Name }
func (t *TypeReference) TypeNamespace() string { return t.Namespace }
func (t *TypeReference) IsValueType() bool     { return t.ValueType }

func (t *TypeReference) ElementType() ElementType {
	if t.Etype != 0 {
		return t.Etype
	}
	if t.ValueType {
		return ElementValueType
	}
	return ElementClass
}

func (t *TypeReference) FullName() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "/" + t.Name
	}
	return joinNamespace(t.Namespace, t.Name)
}

func (t *TypeReference) String() string { return t.FullName() }

// GenericInstanceType is a closed generic type such as List`1<System.Int32>.
type GenericInstanceType struct {
	Generic   Type
	Arguments []Type
	ValueType bool
}

func (t *GenericInstanceType) TypeName() string         { return t.Generic.TypeName() }
func (t *GenericInstanceType) TypeNamespace() string    { return t.Generic.TypeNamespace() }
func (t *GenericInstanceType) IsValueType() bool        { return t.ValueType }
func (t *GenericInstanceType) ElementType() ElementType { return ElementGenericInst }

func (t *GenericInstanceType) FullName() string {
	args := make([]string, len(t.Arguments))
	for i, a := range t.Arguments {
		args[i] = fullNameOf(a)
	}
	return t.Generic.FullName() + "<" + strings.Join(args, ",") + ">"
}

// GenericParameter is a type or method generic parameter. Owner is nil
// when the signature had no context to bind it to.
type GenericParameter struct {
	Name             string
	Position         int
	Attributes       GenericParameterAttributes
	Owner            interface{}
	IsMethod         bool
	Constraints      []Type
	CustomAttributes []*CustomAttribute
	Token            Token
}

func (g *GenericParameter) TypeName() string      { return g.Name }
func (g *GenericParameter) TypeNamespace() string { return "" }
func (g *GenericParameter) FullName() string      { return g.Name }
func (g *GenericParameter) IsValueType() bool     { return false }

func (g *GenericParameter) ElementType() ElementType {
	if g.IsMethod {
		return ElementMVar
	}
	return ElementVar
}

// ArrayDimension is one bound of a general array. Nil fields are unspecified.
type ArrayDimension struct {
	LowerBound *int32
	UpperBound *int32
}

func (d ArrayDimension) String() string {
	if d.LowerBound == nil && d.UpperBound == nil {
		return ""
	}
	lo, hi := "", ""
	if d.LowerBound != nil {
		lo = fmt.Sprint(*d.LowerBound)
	}
	if d.UpperBound != nil {
		hi = fmt.Sprint(*d.UpperBound)
	}
	return lo + "..." + hi
}

// ArrayType is a single-dimensional zero-based vector when Rank is 1 and
// Dimensions is empty, otherwise a general array.
type ArrayType struct {
	Element    Type
	Rank       int
	Dimensions []ArrayDimension
}

func (t *ArrayType) IsVector() bool { return t.Rank <= 1 && len(t.Dimensions) == 0 }

func (t *ArrayType) suffix() string {
	if t.IsVector() {
		return "[]"
	}
	parts := make([]string, t.Rank)
	for i := range parts {
		if i < len(t.Dimensions) {
			parts[i] = t.Dimensions[i].String()
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (t *ArrayType) TypeName() string      { return t.Element.TypeName() + t.suffix() }
func (t *ArrayType) TypeNamespace() string { return t.Element.TypeNamespace() }
func (t *ArrayType) FullName() string      { return fullNameOf(t.Element) + t.suffix() }
func (t *ArrayType) IsValueType() bool     { return false }

func (t *ArrayType) ElementType() ElementType {
	if t.IsVector() {
		return ElementSzArray
	}
	return ElementArray
}

type PointerType struct{ Element Type }

func (t *PointerType) TypeName() string         { return t.Element.TypeName() + "*" }
func (t *PointerType) TypeNamespace() string    { return t.Element.TypeNamespace() }
func (t *PointerType) FullName() string         { return fullNameOf(t.Element) + "*" }
func (t *PointerType) IsValueType() bool        { return false }
func (t *PointerType) ElementType() ElementType { return ElementPtr }

type ByReferenceType struct{ Element Type }

func (t *ByReferenceType) TypeName() string         { return t.Element.TypeName() + "&" }
func (t *ByReferenceType) TypeNamespace() string    { return t.Element.TypeNamespace() }
func (t *ByReferenceType) FullName() string         { return fullNameOf(t.Element) + "&" }
func (t *ByReferenceType) IsValueType() bool        { return false }
func (t *ByReferenceType) ElementType() ElementType { return ElementByRef }

// PinnedType marks a pinned local variable.
type PinnedType struct{ Element Type }

func (t *PinnedType) TypeName() string         { return t.Element.TypeName() + " pinned" }
func (t *PinnedType) TypeNamespace() string    { return t.Element.TypeNamespace() }
func (t *PinnedType) FullName() string         { return fullNameOf(t.Element) + " pinned" }
func (t *PinnedType) IsValueType() bool        { return t.Element.IsValueType() }
func (t *PinnedType) ElementType() ElementType { return ElementPinned }

// SentinelType marks the first variable argument of a vararg call site.
type SentinelType struct{ Element Type }

func (t *SentinelType) TypeName() string         { return t.Element.TypeName() }
func (t *SentinelType) TypeNamespace() string    { return t.Element.TypeNamespace() }
func (t *SentinelType) FullName() string         { return fullNameOf(t.Element) }
func (t *SentinelType) IsValueType() bool        { return t.Element.IsValueType() }
func (t *SentinelType) ElementType() ElementType { return ElementSentinel }

// ModifiedType carries a modreq/modopt custom modifier.
type ModifiedType struct {
	Modifier Type
	Element  Type
	Required bool
}

func (t *ModifiedType) keyword() string {
	if t.Required {
		return "modreq"
	}
	return "modopt"
}

func (t *ModifiedType) TypeName() string {
	return t.Element.TypeName() + " " + t.keyword() + "(" + fullNameOf(t.Modifier) + ")"
}
func (t *ModifiedType) TypeNamespace() string { return t.Element.TypeNamespace() }
func (t *ModifiedType) FullName() string {
	return fullNameOf(t.Element) + " " + t.keyword() + "(" + fullNameOf(t.Modifier) + ")"
}
func (t *ModifiedType) IsValueType() bool { return t.Element.IsValueType() }

func (t *ModifiedType) ElementType() ElementType {
	if t.Required {
		return ElementCModReqd
	}
	return ElementCModOpt
}

// FunctionPointerType is a method pointer signature.
type FunctionPointerType struct {
	Signature *CallSite
}

func (t *FunctionPointerType) TypeName() string         { return "method " + t.Signature.FullName() }
func (t *FunctionPointerType) TypeNamespace() string    { return "" }
func (t *FunctionPointerType) FullName() string         { return t.TypeName() }
func (t *FunctionPointerType) IsValueType() bool        { return false }
func (t *FunctionPointerType) ElementType() ElementType { return ElementFnPtr }

func joinNamespace(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

func fullNameOf(t Type) string {
	if t == nil {
		return ""
	}
	return t.FullName()
}
