package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ilview/internal/core/errors"
)

// AssemblyResolver finds the assembly an AssemblyName reference points at.
// Decoding attribute arguments of enum type calls back into it.
type AssemblyResolver interface {
	ResolveAssembly(ctx context.Context, ref *AssemblyName) (*Assembly, error)
}

// CustomAttributeArgument is a decoded attribute value. Arrays hold a
// []CustomAttributeArgument; boxed values hold a CustomAttributeArgument.
type CustomAttributeArgument struct {
	Type  Type
	Value interface{}
}

type CustomAttributeNamedArgument struct {
	Name     string
	Argument CustomAttributeArgument
}

// CustomAttribute is an attribute instance. The blob is decoded on the first
// call to Decode because enum arguments need the resolver.
type CustomAttribute struct {
	Constructor MethodRef
	Blob        []byte

	module *Module

	mu         sync.Mutex
	decoded    bool
	err        error
	Arguments  []CustomAttributeArgument
	Fields     []CustomAttributeNamedArgument
	Properties []CustomAttributeNamedArgument
}

// NewCustomAttribute builds an attribute from its constructor and raw blob.
func NewCustomAttribute(ctor MethodRef, blob []byte, module *Module) *CustomAttribute {
	return &CustomAttribute{Constructor: ctor, Blob: blob, module: module}
}

// AttributeType is the type declaring the constructor.
func (a *CustomAttribute) AttributeType() Type { return a.Constructor.Declaring() }

// Decode parses the blob. The result is kept unless an enum argument had to
// be resolved through another assembly: that assembly can be unloaded, so
// such attributes resolve again on every call. Failure to resolve returns an
// UNRESOLVED_REFERENCE error.
func (a *CustomAttribute) Decode(ctx context.Context, resolver AssemblyResolver) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.decoded {
		return a.err
	}
	d := &attrDecoder{ctx: ctx, module: a.module}
	var rec *recordingResolver
	if resolver != nil {
		rec = &recordingResolver{inner: resolver}
		d.resolver = rec
	}
	args, fields, props, err := d.decode(a.Constructor, a.Blob)
	if errors.IsCode(err, errors.CodeUnresolvedReference) {
		return err
	}
	a.Arguments, a.Fields, a.Properties = args, fields, props
	a.decoded = rec == nil || !rec.used
	a.err = err
	return err
}

type recordingResolver struct {
	inner AssemblyResolver
	used  bool
}

func (r *recordingResolver) ResolveAssembly(ctx context.Context, ref *AssemblyName) (*Assembly, error) {
	r.used = true
	return r.inner.ResolveAssembly(ctx, ref)
}

// CheckConsistency verifies the decoded arguments against the constructor
// signature: same count and each value assignable to its parameter.
func (a *CustomAttribute) CheckConsistency() error {
	params := a.Constructor.Params()
	if len(a.Arguments) != len(params) {
		err := errors.Newf(errors.CodeAttributeInconsistency, "%d arguments for %d parameters", len(a.Arguments), len(params))
		return errors.AddContext(err, errors.CtxReference, a.Constructor.FullName())
	}
	for i, p := range params {
		if !assignable(a.Arguments[i].Type, p.ParameterType) {
			err := errors.Newf(errors.CodeAttributeInconsistency, "argument %d of type %s is not assignable to %s",
				i, fullNameOf(a.Arguments[i].Type), fullNameOf(p.ParameterType))
			return errors.AddContext(err, errors.CtxReference, a.Constructor.FullName())
		}
	}
	return nil
}

func assignable(arg, param Type) bool {
	if arg == nil || param == nil {
		return false
	}
	if param.FullName() == "System.Object" || arg.FullName() == param.FullName() {
		return true
	}
	pa, ok1 := param.(*ArrayType)
	aa, ok2 := arg.(*ArrayType)
	if ok1 && ok2 {
		return assignable(aa.Element, pa.Element)
	}
	return false
}

// String renders the argument as Type(value) with strings single-quoted.
func (c CustomAttributeArgument) String() string {
	return c.Type.TypeName() + "(" + c.valueString() + ")"
}

func (c CustomAttributeArgument) valueString() string {
	switch v := c.Value.(type) {
	case nil:
		return "null"
	case string:
		if c.Type.FullName() == "System.String" {
			return "'" + v + "'"
		}
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case Char:
		return string(rune(v))
	case Type:
		return v.FullName()
	case CustomAttributeArgument:
		return v.String()
	case []CustomAttributeArgument:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = e.valueString()
		}
		return strings.Join(parts, " ")
	case float32, float64:
		return FormatOperand(v)
	}
	return fmt.Sprint(c.Value)
}

type attrDecoder struct {
	ctx      context.Context
	resolver AssemblyResolver
	module   *Module
	br       *blobReader
}

func (d *attrDecoder) decode(ctor MethodRef, blob []byte) ([]CustomAttributeArgument, []CustomAttributeNamedArgument, []CustomAttributeNamedArgument, error) {
	d.br = newBlobReader(nil, blob, genericContext{})
	if len(blob) < 2 || d.br.u16() != 0x0001 {
		return nil, nil, nil, nil
	}
	var args []CustomAttributeArgument
	for _, p := range ctor.Params() {
		if d.br.remaining() == 0 {
			break
		}
		arg, err := d.fixedArg(p.ParameterType)
		if err != nil {
			return nil, nil, nil, err
		}
		args = append(args, arg)
	}
	if d.br.err != nil {
		return args, nil, nil, d.br.err
	}
	var fields, props []CustomAttributeNamedArgument
	if d.br.remaining() < 2 {
		return args, nil, nil, nil
	}
	n := int(d.br.u16())
	for i := 0; i < n && d.br.err == nil; i++ {
		kind := d.br.byte()
		t, err := d.fieldOrPropType()
		if err != nil {
			return nil, nil, nil, err
		}
		name := d.serString()
		arg, err := d.fixedArg(t)
		if err != nil {
			return nil, nil, nil, err
		}
		na := CustomAttributeNamedArgument{Name: name, Argument: arg}
		switch kind {
		case 0x53:
			fields = append(fields, na)
		case 0x54:
			props = append(props, na)
		default:
			return nil, nil, nil, formatErr("bad named argument kind 0x%02x", kind)
		}
	}
	return args, fields, props, d.br.err
}

func (d *attrDecoder) fixedArg(t Type) (CustomAttributeArgument, error) {
	if arr, ok := t.(*ArrayType); ok {
		n := d.br.u32()
		if d.br.err != nil {
			return CustomAttributeArgument{}, d.br.err
		}
		if n == 0xffffffff {
			return CustomAttributeArgument{Type: t}, nil
		}
		if uint64(n) > uint64(d.br.remaining()) {
			return CustomAttributeArgument{}, formatErr("attribute array of %d elements exceeds blob", n)
		}
		elems := make([]CustomAttributeArgument, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := d.elem(arr.Element)
			if err != nil {
				return CustomAttributeArgument{}, err
			}
			elems = append(elems, e)
		}
		return CustomAttributeArgument{Type: t, Value: elems}, d.br.err
	}
	return d.elem(t)
}

func (d *attrDecoder) elem(t Type) (CustomAttributeArgument, error) {
	if t == nil {
		return CustomAttributeArgument{}, formatErr("attribute argument without type")
	}
	switch t.FullName() {
	case "System.Object":
		bt, err := d.fieldOrPropType()
		if err != nil {
			return CustomAttributeArgument{}, err
		}
		inner, err := d.fixedArg(bt)
		if err != nil {
			return CustomAttributeArgument{}, err
		}
		return CustomAttributeArgument{Type: t, Value: inner}, nil
	case "System.Type":
		s, null := d.serStringOrNull()
		if null {
			return CustomAttributeArgument{Type: t}, d.br.err
		}
		return CustomAttributeArgument{Type: t, Value: s}, d.br.err
	}
	et := t.ElementType()
	if _, ok := primitives[et]; ok && et != ElementVoid {
		v := d.primitiveValue(et)
		return CustomAttributeArgument{Type: t, Value: v}, d.br.err
	}
	underlying, err := d.enumUnderlying(t)
	if err != nil {
		return CustomAttributeArgument{}, err
	}
	v := d.primitiveValue(underlying.ElementType())
	return CustomAttributeArgument{Type: t, Value: v}, d.br.err
}

func (d *attrDecoder) primitiveValue(et ElementType) interface{} {
	br := d.br
	switch et {
	case ElementBoolean:
		return br.byte() != 0
	case ElementChar:
		return Char(br.u16())
	case ElementI1:
		return int8(br.byte())
	case ElementU1:
		return br.byte()
	case ElementI2:
		return int16(br.u16())
	case ElementU2:
		return br.u16()
	case ElementI4:
		return int32(br.u32())
	case ElementU4:
		return br.u32()
	case ElementI8:
		return int64(br.u64())
	case ElementU8:
		return br.u64()
	case ElementR4:
		return br.f32()
	case ElementR8:
		return br.f64()
	case ElementString:
		s, null := d.serStringOrNull()
		if null {
			return nil
		}
		return s
	}
	br.fail("unsupported attribute element type 0x%02x", byte(et))
	return nil
}

// enumUnderlying resolves an enum type, loading its assembly if needed.
func (d *attrDecoder) enumUnderlying(t Type) (Type, error) {
	def, err := ResolveType(d.ctx, t, d.module, d.resolver)
	if err != nil {
		return nil, err
	}
	if !def.IsEnum() {
		return nil, formatErr("attribute argument type %s is neither primitive nor enum", t.FullName())
	}
	u := def.EnumUnderlyingType()
	if u == nil {
		return nil, formatErr("enum %s has no value field", def.FullName())
	}
	return u, nil
}

// fieldOrPropType reads a FieldOrPropType production.
func (d *attrDecoder) fieldOrPropType() (Type, error) {
	et := ElementType(d.br.byte())
	if d.br.err != nil {
		return nil, d.br.err
	}
	switch et {
	case ElementBoxed:
		return d.corlibType("Object"), nil
	case ElementSystemType:
		return d.corlibType("Type"), nil
	case ElementSzArray:
		elem, err := d.fieldOrPropType()
		if err != nil {
			return nil, err
		}
		return &ArrayType{Element: elem, Rank: 1}, nil
	case ElementEnum:
		name, _ := d.serStringOrNull()
		if d.br.err != nil {
			return nil, d.br.err
		}
		return ParseTypeName(name, d.module)
	}
	if p, ok := primitives[et]; ok {
		return &TypeReference{Namespace: "System", Name: p.name, ValueType: p.valueType, Etype: et, Module: d.module, Scope: corlibScope(d.module)}, nil
	}
	return nil, formatErr("bad attribute element type 0x%02x", byte(et))
}

func (d *attrDecoder) corlibType(name string) Type {
	return &TypeReference{Namespace: "System", Name: name, Module: d.module, Scope: corlibScope(d.module)}
}

func (d *attrDecoder) serString() string {
	s, _ := d.serStringOrNull()
	return s
}

func (d *attrDecoder) serStringOrNull() (string, bool) {
	if d.br.peek() == 0xff && d.br.err == nil && d.br.remaining() > 0 {
		d.br.pos++
		return "", true
	}
	n := d.br.compressed()
	b := d.br.bytes(int(n))
	return string(b), false
}

func corlibScope(m *Module) ResolutionScope {
	if m == nil {
		return nil
	}
	if ref := m.CorlibReference(); ref != nil {
		return ref
	}
	return m
}

// ParseTypeName parses a serialized type name such as
// "Ns.Outer+Inner, Assembly, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null".
// Without an assembly part the type is scoped to module.
func ParseTypeName(name string, module *Module) (Type, error) {
	typePart, asmPart := name, ""
	if i := strings.Index(name, ","); i >= 0 {
		typePart, asmPart = strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
	}
	if typePart == "" {
		return nil, formatErr("empty type name %q", name)
	}
	var scope ResolutionScope = module
	if asmPart != "" {
		an, err := ParseAssemblyName(asmPart)
		if err != nil {
			return nil, err
		}
		scope = an
	} else if module != nil {
		scope = module
	}
	parts := strings.Split(typePart, "+")
	var ref *TypeReference
	for i, p := range parts {
		next := &TypeReference{Name: p, Scope: scope, Module: module, DeclaringType: ref}
		if i == 0 {
			if dot := strings.LastIndexByte(p, '.'); dot >= 0 {
				next.Namespace, next.Name = p[:dot], p[dot+1:]
			}
		}
		ref = next
	}
	return ref, nil
}

// ResolveType finds the definition of t, asking resolver for the assembly of
// an external reference. Types scoped to a module resolve within from.
func ResolveType(ctx context.Context, t Type, from *Module, resolver AssemblyResolver) (*TypeDefinition, error) {
	switch v := t.(type) {
	case *TypeDefinition:
		return v, nil
	case *GenericInstanceType:
		return ResolveType(ctx, v.Generic, from, resolver)
	case *TypeReference:
		return resolveReference(ctx, v, from, resolver)
	}
	return nil, errors.Newf(errors.CodeNotSupported, "cannot resolve %s", fullNameOf(t))
}

func resolveReference(ctx context.Context, ref *TypeReference, from *Module, resolver AssemblyResolver) (*TypeDefinition, error) {
	if ref.DeclaringType != nil {
		outer, err := resolveReference(ctx, ref.DeclaringType, from, resolver)
		if err != nil {
			return nil, err
		}
		if n := outer.Nested(ref.Name); n != nil {
			return n, nil
		}
		return nil, errors.Newf(errors.CodeNotFound, "type %s not found", ref.FullName())
	}
	if ref.Module != nil {
		from = ref.Module
	}
	switch scope := ref.Scope.(type) {
	case *AssemblyName:
		if from != nil && from.Assembly != nil && strings.EqualFold(from.Assembly.Name.Name, scope.Name) {
			if td := from.Assembly.FindType(ref.FullName()); td != nil {
				return td, nil
			}
		}
		if resolver == nil {
			return nil, unresolved(scope, nil)
		}
		asm, err := resolver.ResolveAssembly(ctx, scope)
		if err != nil {
			return nil, unresolved(scope, err)
		}
		if td := asm.FindType(ref.FullName()); td != nil {
			return td, nil
		}
		return nil, errors.Newf(errors.CodeNotFound, "type %s not found in %s", ref.FullName(), asm.FullName())
	case *Module, *ModuleReference, nil:
		if from != nil {
			if from.Assembly != nil {
				if td := from.Assembly.FindType(ref.FullName()); td != nil {
					return td, nil
				}
			} else if td := from.FindType(ref.FullName()); td != nil {
				return td, nil
			}
		}
	}
	return nil, errors.Newf(errors.CodeNotFound, "type %s not found", ref.FullName())
}

func unresolved(ref *AssemblyName, cause error) error {
	if errors.IsCode(cause, errors.CodeUnresolvedReference) {
		return cause
	}
	var err error
	if cause != nil {
		err = errors.Wrap(cause, errors.CodeUnresolvedReference, "unresolved assembly reference")
	} else {
		err = errors.New(errors.CodeUnresolvedReference, "unresolved assembly reference")
	}
	return errors.AddContext(err, errors.CtxReference, ref.FullName())
}
