package metadata

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"ilview/internal/core/errors"
)

// LoadMode selects when method bodies and resource payloads are read.
type LoadMode int

const (
	// ModeImmediate reads the whole stream and decodes everything before
	// returning; the stream may be closed afterwards.
	ModeImmediate LoadMode = iota
	// ModeLazy keeps the io.ReaderAt and decodes bodies and resources on
	// first access.
	ModeLazy
)

func (m LoadMode) String() string {
	if m == ModeLazy {
		return "lazy"
	}
	return "immediate"
}

type loadConfig struct {
	mode     LoadMode
	location string
}

type LoadOption func(*loadConfig)

func WithMode(m LoadMode) LoadOption { return func(c *loadConfig) { c.mode = m } }

// WithLocation records the file path on the loaded assembly.
func WithLocation(path string) LoadOption { return func(c *loadConfig) { c.location = path } }

// Load parses an assembly image. Malformed input fails with FORMAT_ERROR.
func Load(r io.Reader, opts ...LoadOption) (asm *Assembly, err error) {
	cfg := loadConfig{mode: ModeImmediate}
	for _, o := range opts {
		o(&cfg)
	}

	var ra io.ReaderAt
	if cfg.mode == ModeLazy {
		ra, _ = r.(io.ReaderAt)
	}
	if ra == nil {
		cfg.mode = ModeImmediate
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeFormat, "read assembly stream")
		}
		ra = bytes.NewReader(data)
	}

	defer func() {
		if p := recover(); p != nil {
			asm, err = nil, formatErr("malformed image: %v", p)
		}
	}()

	img, err := openImage(ra)
	if err != nil {
		return nil, err
	}
	mr := &moduleReader{img: img, mode: cfg.mode}
	asm, err = mr.read()
	if err != nil {
		return nil, err
	}
	asm.Location = cfg.location
	return asm, nil
}

// LoadFile reads the assembly at path in immediate mode.
func LoadFile(path string, opts ...LoadOption) (*Assembly, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "open assembly"), errors.CtxPath, path)
	}
	defer f.Close()
	opts = append([]LoadOption{WithLocation(path)}, opts...)
	opts = append(opts, WithMode(ModeImmediate))
	asm, err := Load(f, opts...)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxPath, path)
	}
	return asm, nil
}

type memberRange struct{ start, end uint32 }

// moduleReader turns the tables of one image into the object graph.
type moduleReader struct {
	img  *image
	mode LoadMode
	mod  *Module

	asmRefs       []*AssemblyName
	modRefs       []*ModuleReference
	typeRefs      []*TypeReference
	typeDefs      []*TypeDefinition
	fields        []*FieldDefinition
	methods       []*MethodDefinition
	params        []*ParameterDefinition
	properties    []*PropertyDefinition
	events        []*EventDefinition
	memberRefs    []interface{}
	genericParams []*GenericParameter

	mu        sync.Mutex
	prims     map[ElementType]*TypeReference
	specDepth int
}

func (r *moduleReader) read() (*Assembly, error) {
	img := r.img
	r.mod = &Module{
		RuntimeVersion: img.version,
		Runtime:        runtimeOf(img.version),
		Attributes:     ModuleAttributes(img.cli.Flags),
		Architecture:   architectureOf(img.file.Machine),
		Kind:           moduleKindOf(img),
		tokens:         make(map[Token]interface{}),
	}
	r.prims = make(map[ElementType]*TypeReference)

	steps := []func() error{
		r.readModuleRow,
		r.readReferences,
		r.readTypeRefs,
		r.readTypeDefs,
		r.readNesting,
		r.readGenericParams,
		r.readTypeHeaders,
		r.readMemberRefs,
		r.readSignatures,
		r.readConstraints,
		r.readPropertiesAndEvents,
		r.readConstants,
		r.readSemantics,
		r.readLayouts,
		r.readResources,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	asm, err := r.readAssemblyRow()
	if err != nil {
		return nil, err
	}
	if err := r.readCustomAttributes(); err != nil {
		return nil, err
	}
	if tok := Token(img.cli.EntryPointToken); tok.Table() == TableMethod {
		if m, ok := r.mod.tokens[tok].(*MethodDefinition); ok {
			r.mod.EntryPoint = m
		}
	}
	if r.mode == ModeImmediate {
		if err := r.materialize(); err != nil {
			return nil, err
		}
	}
	return asm, nil
}

func moduleKindOf(img *image) ModuleKind {
	if img.file.Characteristics&pe.IMAGE_FILE_DLL != 0 {
		return ModuleDll
	}
	var subsystem uint16
	switch h := img.file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		subsystem = h.Subsystem
	case *pe.OptionalHeader64:
		subsystem = h.Subsystem
	}
	if subsystem == pe.IMAGE_SUBSYSTEM_WINDOWS_GUI {
		return ModuleWindows
	}
	return ModuleConsole
}

func (r *moduleReader) register(t TableID, rid uint32, v interface{}) {
	r.mod.tokens[NewToken(t, rid)] = v
}

func (r *moduleReader) str(t TableID, rid uint32, col int) (string, error) {
	return r.img.str(r.img.table(t).get(rid, col))
}

func (r *moduleReader) blob(t TableID, rid uint32, col int) ([]byte, error) {
	return r.img.blob(r.img.table(t).get(rid, col))
}

func (r *moduleReader) readModuleRow() error {
	if r.img.rowCount(TableModule) == 0 {
		return formatErr("image has no module row")
	}
	name, err := r.str(TableModule, 1, 1)
	if err != nil {
		return err
	}
	g, err := r.img.guid(r.img.table(TableModule).get(1, 2))
	if err != nil {
		return err
	}
	r.mod.Name = name
	r.mod.Mvid = mvidOf(g)
	r.register(TableModule, 1, r.mod)
	return nil
}

func (r *moduleReader) readReferences() error {
	t := r.img.table(TableAssemblyRef)
	for rid := uint32(1); rid <= r.img.rowCount(TableAssemblyRef); rid++ {
		n := &AssemblyName{
			Version: Version{
				Major:    uint16(t.get(rid, 0)),
				Minor:    uint16(t.get(rid, 1)),
				Build:    uint16(t.get(rid, 2)),
				Revision: uint16(t.get(rid, 3)),
			},
			Flags: AssemblyFlags(t.get(rid, 4)),
		}
		key, err := r.blob(TableAssemblyRef, rid, 5)
		if err != nil {
			return err
		}
		if n.Flags&AssemblyPublicKey != 0 {
			n.PublicKey = key
			n.PublicKeyToken = PublicKeyTokenOf(key)
		} else {
			n.PublicKeyToken = key
		}
		if n.Name, err = r.str(TableAssemblyRef, rid, 6); err != nil {
			return err
		}
		if n.Culture, err = r.str(TableAssemblyRef, rid, 7); err != nil {
			return err
		}
		if n.Hash, err = r.blob(TableAssemblyRef, rid, 8); err != nil {
			return err
		}
		r.asmRefs = append(r.asmRefs, n)
		r.register(TableAssemblyRef, rid, n)
	}
	r.mod.AssemblyReferences = r.asmRefs

	for rid := uint32(1); rid <= r.img.rowCount(TableModuleRef); rid++ {
		name, err := r.str(TableModuleRef, rid, 0)
		if err != nil {
			return err
		}
		ref := &ModuleReference{Name: name, Token: NewToken(TableModuleRef, rid)}
		r.modRefs = append(r.modRefs, ref)
		r.register(TableModuleRef, rid, ref)
	}
	r.mod.ModuleReferences = r.modRefs
	return nil
}

func (r *moduleReader) readTypeRefs() error {
	n := r.img.rowCount(TableTypeRef)
	r.typeRefs = make([]*TypeReference, n)
	for rid := uint32(1); rid <= n; rid++ {
		ref := &TypeReference{Module: r.mod, Token: NewToken(TableTypeRef, rid)}
		var err error
		if ref.Name, err = r.str(TableTypeRef, rid, 1); err != nil {
			return err
		}
		if ref.Namespace, err = r.str(TableTypeRef, rid, 2); err != nil {
			return err
		}
		r.typeRefs[rid-1] = ref
		r.register(TableTypeRef, rid, ref)
	}
	t := r.img.table(TableTypeRef)
	for rid := uint32(1); rid <= n; rid++ {
		ref := r.typeRefs[rid-1]
		raw := t.get(rid, 0)
		if raw == 0 {
			continue
		}
		table, srid, ok := codedResolutionScope.decode(raw)
		if !ok {
			return formatErr("type reference %d has a bad resolution scope", rid)
		}
		switch table {
		case TableModule:
			ref.Scope = r.mod
		case TableModuleRef:
			if srid == 0 || int(srid) > len(r.modRefs) {
				return formatErr("type reference %d scope out of range", rid)
			}
			ref.Scope = r.modRefs[srid-1]
		case TableAssemblyRef:
			if srid == 0 || int(srid) > len(r.asmRefs) {
				return formatErr("type reference %d scope out of range", rid)
			}
			ref.Scope = r.asmRefs[srid-1]
		case TableTypeRef:
			if srid == 0 || srid > n || srid == rid {
				return formatErr("type reference %d scope out of range", rid)
			}
			ref.DeclaringType = r.typeRefs[srid-1]
		}
	}
	// Nested references take the scope of their outermost declaring type.
	for _, ref := range r.typeRefs {
		outer, depth := ref, 0
		for outer.DeclaringType != nil && depth < len(r.typeRefs) {
			outer = outer.DeclaringType
			depth++
		}
		if ref.Scope == nil {
			ref.Scope = outer.Scope
		}
	}
	return nil
}

func (r *moduleReader) rangeOf(t TableID, rid uint32, col int, target TableID) memberRange {
	tab := r.img.table(t)
	total := r.img.rowCount(target)
	start := tab.get(rid, col)
	end := total + 1
	if rid < r.img.rowCount(t) {
		end = tab.get(rid+1, col)
	}
	if start == 0 {
		start = 1
	}
	if start > total+1 {
		start = total + 1
	}
	if end > total+1 {
		end = total + 1
	}
	if end < start {
		end = start
	}
	return memberRange{start, end}
}

func (r *moduleReader) readTypeDefs() error {
	img := r.img
	nTypes := img.rowCount(TableTypeDef)
	r.typeDefs = make([]*TypeDefinition, nTypes)

	r.fields = make([]*FieldDefinition, img.rowCount(TableField))
	for rid := uint32(1); rid <= img.rowCount(TableField); rid++ {
		f := &FieldDefinition{
			Attributes: FieldAttributes(img.table(TableField).get(rid, 0)),
			Token:      NewToken(TableField, rid),
		}
		var err error
		if f.Name, err = r.str(TableField, rid, 1); err != nil {
			return err
		}
		r.fields[rid-1] = f
		r.register(TableField, rid, f)
	}

	r.params = make([]*ParameterDefinition, img.rowCount(TableParam))
	for rid := uint32(1); rid <= img.rowCount(TableParam); rid++ {
		p := &ParameterDefinition{
			Attributes: ParameterAttributes(img.table(TableParam).get(rid, 0)),
			Sequence:   uint16(img.table(TableParam).get(rid, 1)),
			Token:      NewToken(TableParam, rid),
		}
		var err error
		if p.Name, err = r.str(TableParam, rid, 2); err != nil {
			return err
		}
		r.params[rid-1] = p
		r.register(TableParam, rid, p)
	}

	r.methods = make([]*MethodDefinition, img.rowCount(TableMethod))
	mt := img.table(TableMethod)
	for rid := uint32(1); rid <= img.rowCount(TableMethod); rid++ {
		m := &MethodDefinition{
			RVA:            mt.get(rid, 0),
			ImplAttributes: MethodImplAttributes(mt.get(rid, 1)),
			Attributes:     MethodAttributes(mt.get(rid, 2)),
			Token:          NewToken(TableMethod, rid),
		}
		var err error
		if m.Name, err = r.str(TableMethod, rid, 3); err != nil {
			return err
		}
		r.methods[rid-1] = m
		r.register(TableMethod, rid, m)
	}

	tt := img.table(TableTypeDef)
	for rid := uint32(1); rid <= nTypes; rid++ {
		t := &TypeDefinition{
			Attributes: TypeAttributes(tt.get(rid, 0)),
			Module:     r.mod,
			Token:      NewToken(TableTypeDef, rid),
		}
		var err error
		if t.Name, err = r.str(TableTypeDef, rid, 1); err != nil {
			return err
		}
		if t.Namespace, err = r.str(TableTypeDef, rid, 2); err != nil {
			return err
		}
		fr := r.rangeOf(TableTypeDef, rid, 4, TableField)
		for i := fr.start; i < fr.end; i++ {
			f := r.fields[i-1]
			f.DeclaringType = t
			t.Fields = append(t.Fields, f)
		}
		mr := r.rangeOf(TableTypeDef, rid, 5, TableMethod)
		for i := mr.start; i < mr.end; i++ {
			m := r.methods[i-1]
			m.DeclaringType = t
			t.Methods = append(t.Methods, m)
		}
		r.typeDefs[rid-1] = t
		r.register(TableTypeDef, rid, t)
	}
	return nil
}

func (r *moduleReader) readNesting() error {
	nested := make(map[uint32]bool)
	t := r.img.table(TableNestedClass)
	for rid := uint32(1); rid <= r.img.rowCount(TableNestedClass); rid++ {
		inner, outer := t.get(rid, 0), t.get(rid, 1)
		if inner == 0 || outer == 0 || int(inner) > len(r.typeDefs) || int(outer) > len(r.typeDefs) || inner == outer {
			return formatErr("nested class row %d out of range", rid)
		}
		in, out := r.typeDefs[inner-1], r.typeDefs[outer-1]
		in.DeclaringType = out
		out.NestedTypes = append(out.NestedTypes, in)
		nested[inner] = true
	}
	for i, td := range r.typeDefs {
		if !nested[uint32(i+1)] {
			r.mod.Types = append(r.mod.Types, td)
		}
	}
	// A nesting cycle would make FullName recurse forever.
	for _, td := range r.typeDefs {
		depth := 0
		for o := td.DeclaringType; o != nil; o = o.DeclaringType {
			if depth++; depth > len(r.typeDefs) {
				return formatErr("nesting cycle at type %s", td.Name)
			}
		}
	}
	return nil
}

func (r *moduleReader) readGenericParams() error {
	t := r.img.table(TableGenericParam)
	n := r.img.rowCount(TableGenericParam)
	r.genericParams = make([]*GenericParameter, n)
	for rid := uint32(1); rid <= n; rid++ {
		gp := &GenericParameter{
			Position:   int(t.get(rid, 0)),
			Attributes: GenericParameterAttributes(t.get(rid, 1)),
			Token:      NewToken(TableGenericParam, rid),
		}
		var err error
		if gp.Name, err = r.str(TableGenericParam, rid, 3); err != nil {
			return err
		}
		table, orid, ok := codedTypeOrMethodDef.decode(t.get(rid, 2))
		if !ok {
			return formatErr("generic parameter %d has a bad owner", rid)
		}
		switch {
		case table == TableTypeDef && orid >= 1 && int(orid) <= len(r.typeDefs):
			owner := r.typeDefs[orid-1]
			gp.Owner = owner
			owner.GenericParameters = append(owner.GenericParameters, gp)
		case table == TableMethod && orid >= 1 && int(orid) <= len(r.methods):
			owner := r.methods[orid-1]
			gp.Owner = owner
			gp.IsMethod = true
			owner.GenericParameters = append(owner.GenericParameters, gp)
		default:
			return formatErr("generic parameter %d owner out of range", rid)
		}
		r.genericParams[rid-1] = gp
		r.register(TableGenericParam, rid, gp)
	}
	sortParams := func(ps []*GenericParameter) {
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Position < ps[j].Position })
	}
	for _, td := range r.typeDefs {
		sortParams(td.GenericParameters)
	}
	for _, m := range r.methods {
		sortParams(m.GenericParameters)
	}
	return nil
}

func (r *moduleReader) typeContext(t *TypeDefinition) genericContext {
	var ctx genericContext
	for o := t; o != nil; o = o.DeclaringType {
		if len(o.GenericParameters) > 0 {
			ctx.typeParams = o.GenericParameters
			break
		}
	}
	return ctx
}

func (r *moduleReader) methodContext(m *MethodDefinition) genericContext {
	ctx := genericContext{methodParams: m.GenericParameters}
	if m.DeclaringType != nil {
		ctx.typeParams = r.typeContext(m.DeclaringType).typeParams
	}
	return ctx
}

func (r *moduleReader) readTypeHeaders() error {
	tt := r.img.table(TableTypeDef)
	for i, td := range r.typeDefs {
		raw := tt.get(uint32(i+1), 3)
		if raw == 0 {
			continue
		}
		table, rid, ok := codedTypeDefOrRef.decode(raw)
		if !ok {
			return formatErr("type %s has a bad extends index", td.Name)
		}
		base, err := r.typeFromToken(NewToken(table, rid), r.typeContext(td))
		if err != nil {
			return err
		}
		td.BaseType = base
	}
	it := r.img.table(TableInterfaceImpl)
	for rid := uint32(1); rid <= r.img.rowCount(TableInterfaceImpl); rid++ {
		owner := it.get(rid, 0)
		if owner == 0 || int(owner) > len(r.typeDefs) {
			return formatErr("interface implementation %d out of range", rid)
		}
		td := r.typeDefs[owner-1]
		table, irid, ok := codedTypeDefOrRef.decode(it.get(rid, 1))
		if !ok {
			return formatErr("interface implementation %d has a bad index", rid)
		}
		iface, err := r.typeFromToken(NewToken(table, irid), r.typeContext(td))
		if err != nil {
			return err
		}
		td.Interfaces = append(td.Interfaces, iface)
	}
	return nil
}

// primitive returns the shared reference for a primitive element type.
func (r *moduleReader) primitive(et ElementType) Type {
	if p, ok := r.prims[et]; ok {
		return p
	}
	info := primitives[et]
	var scope ResolutionScope = r.mod
	if ref := r.mod.CorlibReference(); ref != nil {
		scope = ref
	}
	p := &TypeReference{Namespace: "System", Name: info.name, ValueType: info.valueType, Etype: et, Module: r.mod, Scope: scope}
	r.prims[et] = p
	return p
}

func (r *moduleReader) typeFromToken(tok Token, ctx genericContext) (Type, error) {
	rid := tok.RID()
	switch tok.Table() {
	case TableTypeDef:
		if rid >= 1 && int(rid) <= len(r.typeDefs) {
			return r.typeDefs[rid-1], nil
		}
	case TableTypeRef:
		if rid >= 1 && int(rid) <= len(r.typeRefs) {
			return r.typeRefs[rid-1], nil
		}
	case TableTypeSpec:
		if rid >= 1 && rid <= r.img.rowCount(TableTypeSpec) {
			return r.typeSpec(rid, ctx)
		}
	default:
		return nil, formatErr("token %s is not a type", tok)
	}
	return nil, formatErr("type token %s out of range", tok)
}

func (r *moduleReader) typeSpec(rid uint32, ctx genericContext) (Type, error) {
	if r.specDepth > 64 {
		return nil, formatErr("type spec %d recurses too deeply", rid)
	}
	r.specDepth++
	defer func() { r.specDepth-- }()
	b, err := r.blob(TableTypeSpec, rid, 0)
	if err != nil {
		return nil, err
	}
	br := newBlobReader(r, b, ctx)
	t := br.readType()
	if br.err != nil {
		return nil, br.err
	}
	return t, nil
}

func (r *moduleReader) readMemberRefs() error {
	t := r.img.table(TableMemberRef)
	n := r.img.rowCount(TableMemberRef)
	r.memberRefs = make([]interface{}, n)
	for rid := uint32(1); rid <= n; rid++ {
		name, err := r.str(TableMemberRef, rid, 1)
		if err != nil {
			return err
		}
		sig, err := r.blob(TableMemberRef, rid, 2)
		if err != nil {
			return err
		}
		if len(sig) == 0 {
			return formatErr("member reference %s has an empty signature", name)
		}
		var declaring Type
		table, prid, ok := codedMemberRefParent.decode(t.get(rid, 0))
		if !ok {
			return formatErr("member reference %s has a bad parent", name)
		}
		switch table {
		case TableTypeDef, TableTypeRef, TableTypeSpec:
			if declaring, err = r.typeFromToken(NewToken(table, prid), genericContext{}); err != nil {
				return err
			}
		case TableMethod:
			if prid >= 1 && int(prid) <= len(r.methods) && r.methods[prid-1].DeclaringType != nil {
				declaring = r.methods[prid-1].DeclaringType
			}
		}
		tok := NewToken(TableMemberRef, rid)
		br := newBlobReader(r, sig, genericContext{})
		if sig[0] == sigField {
			ft := br.readFieldSig()
			if br.err != nil {
				return br.err
			}
			ref := &FieldReference{Name: name, DeclaringType: declaring, FieldType: ft, Token: tok}
			r.memberRefs[rid-1] = ref
			r.register(TableMemberRef, rid, ref)
			continue
		}
		ms := br.readMethodSig()
		if br.err != nil {
			return br.err
		}
		ref := &MethodReference{
			Name:              name,
			DeclaringType:     declaring,
			HasThis:           ms.hasThis,
			ExplicitThis:      ms.explicitThis,
			CallingConvention: ms.conv,
			ReturnType:        ms.ret,
			GenericArity:      ms.genericArity,
			Token:             tok,
		}
		for i, p := range ms.params {
			ref.Parameters = append(ref.Parameters, &ParameterDefinition{Index: i, ParameterType: p})
		}
		r.memberRefs[rid-1] = ref
		r.register(TableMemberRef, rid, ref)
	}
	return nil
}

func (r *moduleReader) readSignatures() error {
	for i, f := range r.fields {
		b, err := r.blob(TableField, uint32(i+1), 2)
		if err != nil {
			return err
		}
		var ctx genericContext
		if f.DeclaringType != nil {
			ctx = r.typeContext(f.DeclaringType)
		}
		br := newBlobReader(r, b, ctx)
		f.FieldType = br.readFieldSig()
		if br.err != nil {
			return errors.AddContext(br.err, errors.CtxToken, f.Token.String())
		}
	}

	mt := r.img.table(TableMethod)
	nMethods := r.img.rowCount(TableMethod)
	for i, m := range r.methods {
		rid := uint32(i + 1)
		b, err := r.blob(TableMethod, rid, 4)
		if err != nil {
			return err
		}
		br := newBlobReader(r, b, r.methodContext(m))
		ms := br.readMethodSig()
		if br.err != nil {
			return errors.AddContext(br.err, errors.CtxToken, m.Token.String())
		}
		m.HasThis, m.ExplicitThis, m.CallingConvention = ms.hasThis, ms.explicitThis, ms.conv
		m.ReturnType = ms.ret
		m.Parameters = make([]*ParameterDefinition, len(ms.params))
		for j, pt := range ms.params {
			m.Parameters[j] = &ParameterDefinition{Index: j, Sequence: uint16(j + 1), ParameterType: pt}
		}

		start := mt.get(rid, 5)
		end := r.img.rowCount(TableParam) + 1
		if rid < nMethods {
			end = mt.get(rid+1, 5)
		}
		for prid := start; prid < end && prid >= 1 && int(prid) <= len(r.params); prid++ {
			row := r.params[prid-1]
			if row.Sequence == 0 {
				continue
			}
			idx := int(row.Sequence) - 1
			if idx >= len(m.Parameters) {
				continue
			}
			row.Index = idx
			row.ParameterType = m.Parameters[idx].ParameterType
			m.Parameters[idx] = row
		}
	}
	return nil
}

func (r *moduleReader) readConstraints() error {
	t := r.img.table(TableGenericParamConstraint)
	for rid := uint32(1); rid <= r.img.rowCount(TableGenericParamConstraint); rid++ {
		owner := t.get(rid, 0)
		if owner == 0 || int(owner) > len(r.genericParams) {
			return formatErr("generic constraint %d out of range", rid)
		}
		gp := r.genericParams[owner-1]
		table, crid, ok := codedTypeDefOrRef.decode(t.get(rid, 1))
		if !ok {
			return formatErr("generic constraint %d has a bad index", rid)
		}
		var ctx genericContext
		switch o := gp.Owner.(type) {
		case *TypeDefinition:
			ctx = r.typeContext(o)
		case *MethodDefinition:
			ctx = r.methodContext(o)
		}
		c, err := r.typeFromToken(NewToken(table, crid), ctx)
		if err != nil {
			return err
		}
		gp.Constraints = append(gp.Constraints, c)
	}
	return nil
}

func (r *moduleReader) readConstants() error {
	t := r.img.table(TableConstant)
	for rid := uint32(1); rid <= r.img.rowCount(TableConstant); rid++ {
		et := ElementType(t.get(rid, 0) & 0xff)
		b, err := r.blob(TableConstant, rid, 2)
		if err != nil {
			return err
		}
		value, err := constantValue(et, b)
		if err != nil {
			return err
		}
		c := &Constant{Type: et, Value: value}
		table, prid, ok := codedHasConstant.decode(t.get(rid, 1))
		if !ok {
			return formatErr("constant %d has a bad parent", rid)
		}
		switch owner := r.mod.tokens[NewToken(table, prid)].(type) {
		case *FieldDefinition:
			owner.Constant = c
		case *ParameterDefinition:
			owner.Constant = c
		case *PropertyDefinition:
			owner.Constant = c
		default:
			return formatErr("constant %d parent out of range", rid)
		}
	}
	return nil
}

func constantValue(et ElementType, b []byte) (interface{}, error) {
	need := map[ElementType]int{
		ElementBoolean: 1, ElementI1: 1, ElementU1: 1, ElementChar: 2, ElementI2: 2, ElementU2: 2,
		ElementI4: 4, ElementU4: 4, ElementR4: 4, ElementI8: 8, ElementU8: 8, ElementR8: 8,
	}
	if n, ok := need[et]; ok && len(b) < n {
		return nil, formatErr("constant of type 0x%02x has %d bytes", byte(et), len(b))
	}
	le := binary.LittleEndian
	switch et {
	case ElementBoolean:
		return b[0] != 0, nil
	case ElementChar:
		return Char(le.Uint16(b)), nil
	case ElementI1:
		return int8(b[0]), nil
	case ElementU1:
		return b[0], nil
	case ElementI2:
		return int16(le.Uint16(b)), nil
	case ElementU2:
		return le.Uint16(b), nil
	case ElementI4:
		return int32(le.Uint32(b)), nil
	case ElementU4:
		return le.Uint32(b), nil
	case ElementI8:
		return int64(le.Uint64(b)), nil
	case ElementU8:
		return le.Uint64(b), nil
	case ElementR4:
		br := newBlobReader(nil, b, genericContext{})
		return br.f32(), nil
	case ElementR8:
		br := newBlobReader(nil, b, genericContext{})
		return br.f64(), nil
	case ElementString:
		if b == nil {
			return nil, nil
		}
		return decodeUTF16(b), nil
	case ElementClass:
		return nil, nil
	}
	return nil, formatErr("unsupported constant type 0x%02x", byte(et))
}

func (r *moduleReader) readPropertiesAndEvents() error {
	pm := r.img.table(TablePropertyMap)
	nProps := r.img.rowCount(TableProperty)
	r.properties = make([]*PropertyDefinition, nProps)
	for rid := uint32(1); rid <= nProps; rid++ {
		p := &PropertyDefinition{
			Attributes: PropertyAttributes(r.img.table(TableProperty).get(rid, 0)),
			Token:      NewToken(TableProperty, rid),
		}
		var err error
		if p.Name, err = r.str(TableProperty, rid, 1); err != nil {
			return err
		}
		r.properties[rid-1] = p
		r.register(TableProperty, rid, p)
	}
	for rid := uint32(1); rid <= r.img.rowCount(TablePropertyMap); rid++ {
		owner := pm.get(rid, 0)
		if owner == 0 || int(owner) > len(r.typeDefs) {
			return formatErr("property map %d out of range", rid)
		}
		td := r.typeDefs[owner-1]
		rg := r.rangeOf(TablePropertyMap, rid, 1, TableProperty)
		for i := rg.start; i < rg.end; i++ {
			p := r.properties[i-1]
			p.DeclaringType = td
			td.Properties = append(td.Properties, p)
		}
	}
	for i, p := range r.properties {
		b, err := r.blob(TableProperty, uint32(i+1), 2)
		if err != nil {
			return err
		}
		var ctx genericContext
		if p.DeclaringType != nil {
			ctx = r.typeContext(p.DeclaringType)
		}
		br := newBlobReader(r, b, ctx)
		hasThis, pt, params := br.readPropertySig()
		if br.err != nil {
			return br.err
		}
		p.HasThis, p.PropertyType = hasThis, pt
		for j, t := range params {
			p.Parameters = append(p.Parameters, &ParameterDefinition{Index: j, ParameterType: t})
		}
	}

	em := r.img.table(TableEventMap)
	et := r.img.table(TableEvent)
	nEvents := r.img.rowCount(TableEvent)
	r.events = make([]*EventDefinition, nEvents)
	for rid := uint32(1); rid <= nEvents; rid++ {
		e := &EventDefinition{
			Attributes: EventAttributes(et.get(rid, 0)),
			Token:      NewToken(TableEvent, rid),
		}
		var err error
		if e.Name, err = r.str(TableEvent, rid, 1); err != nil {
			return err
		}
		r.events[rid-1] = e
		r.register(TableEvent, rid, e)
	}
	for rid := uint32(1); rid <= r.img.rowCount(TableEventMap); rid++ {
		owner := em.get(rid, 0)
		if owner == 0 || int(owner) > len(r.typeDefs) {
			return formatErr("event map %d out of range", rid)
		}
		td := r.typeDefs[owner-1]
		rg := r.rangeOf(TableEventMap, rid, 1, TableEvent)
		for i := rg.start; i < rg.end; i++ {
			e := r.events[i-1]
			e.DeclaringType = td
			td.Events = append(td.Events, e)
		}
	}
	for i, e := range r.events {
		raw := et.get(uint32(i+1), 2)
		if raw == 0 {
			continue
		}
		table, trid, ok := codedTypeDefOrRef.decode(raw)
		if !ok {
			return formatErr("event %s has a bad type index", e.Name)
		}
		var ctx genericContext
		if e.DeclaringType != nil {
			ctx = r.typeContext(e.DeclaringType)
		}
		t, err := r.typeFromToken(NewToken(table, trid), ctx)
		if err != nil {
			return err
		}
		e.EventType = t
	}
	return nil
}

func (r *moduleReader) readSemantics() error {
	t := r.img.table(TableMethodSemantics)
	for rid := uint32(1); rid <= r.img.rowCount(TableMethodSemantics); rid++ {
		sem := MethodSemanticsAttributes(t.get(rid, 0))
		mrid := t.get(rid, 1)
		if mrid == 0 || int(mrid) > len(r.methods) {
			return formatErr("method semantics %d out of range", rid)
		}
		m := r.methods[mrid-1]
		m.SemanticsAttributes |= sem
		table, arid, ok := codedHasSemantics.decode(t.get(rid, 2))
		if !ok {
			return formatErr("method semantics %d has a bad association", rid)
		}
		switch assoc := r.mod.tokens[NewToken(table, arid)].(type) {
		case *PropertyDefinition:
			switch {
			case sem&SemanticsGetter != 0:
				assoc.GetMethod = m
			case sem&SemanticsSetter != 0:
				assoc.SetMethod = m
			default:
				assoc.OtherMethods = append(assoc.OtherMethods, m)
			}
		case *EventDefinition:
			switch {
			case sem&SemanticsAddOn != 0:
				assoc.AddMethod = m
			case sem&SemanticsRemoveOn != 0:
				assoc.RemoveMethod = m
			case sem&SemanticsFire != 0:
				assoc.InvokeMethod = m
			default:
				assoc.OtherMethods = append(assoc.OtherMethods, m)
			}
		default:
			return formatErr("method semantics %d association out of range", rid)
		}
	}
	return nil
}

func (r *moduleReader) readLayouts() error {
	cl := r.img.table(TableClassLayout)
	for rid := uint32(1); rid <= r.img.rowCount(TableClassLayout); rid++ {
		owner := cl.get(rid, 2)
		if owner == 0 || int(owner) > len(r.typeDefs) {
			return formatErr("class layout %d out of range", rid)
		}
		td := r.typeDefs[owner-1]
		td.PackingSize = uint16(cl.get(rid, 0))
		td.ClassSize = cl.get(rid, 1)
	}
	fl := r.img.table(TableFieldLayout)
	for rid := uint32(1); rid <= r.img.rowCount(TableFieldLayout); rid++ {
		owner := fl.get(rid, 1)
		if owner == 0 || int(owner) > len(r.fields) {
			return formatErr("field layout %d out of range", rid)
		}
		f := r.fields[owner-1]
		f.Offset = int32(fl.get(rid, 0))
		f.HasOffset = true
	}
	fr := r.img.table(TableFieldRVA)
	for rid := uint32(1); rid <= r.img.rowCount(TableFieldRVA); rid++ {
		owner := fr.get(rid, 1)
		if owner == 0 || int(owner) > len(r.fields) {
			return formatErr("field RVA %d out of range", rid)
		}
		r.fields[owner-1].RVA = fr.get(rid, 0)
	}
	for _, m := range r.methods {
		if !m.HasBody() {
			continue
		}
		m.bodyLoad = func() (body *MethodBody, err error) {
			err = r.guard(func() error {
				body, err = r.readBody(m)
				return err
			})
			return body, err
		}
	}
	return nil
}

// guard serializes deferred decoding and turns a panic on a malformed
// image into FORMAT_ERROR.
func (r *moduleReader) guard(fn func() error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = formatErr("malformed image: %v", p)
		}
	}()
	return fn()
}

func (r *moduleReader) readResources() error {
	t := r.img.table(TableManifestResource)
	for rid := uint32(1); rid <= r.img.rowCount(TableManifestResource); rid++ {
		res := &Resource{Attributes: ManifestResourceAttributes(t.get(rid, 1))}
		var err error
		if res.Name, err = r.str(TableManifestResource, rid, 2); err != nil {
			return err
		}
		offset := t.get(rid, 0)
		impl := t.get(rid, 3)
		if impl == 0 {
			res.Kind = ResourceEmbedded
			res.load = func() (data []byte, err error) {
				err = r.guard(func() error {
					data, err = r.resourceData(offset)
					return err
				})
				return data, err
			}
		} else {
			table, irid, ok := codedImplementation.decode(impl)
			if !ok {
				return formatErr("resource %s has a bad implementation", res.Name)
			}
			switch table {
			case TableFile:
				res.Kind = ResourceLinked
				if res.File, err = r.str(TableFile, irid, 1); err != nil {
					return err
				}
			case TableAssemblyRef:
				res.Kind = ResourceAssemblyLinked
				if irid >= 1 && int(irid) <= len(r.asmRefs) {
					res.Assembly = r.asmRefs[irid-1]
				}
			}
		}
		r.mod.Resources = append(r.mod.Resources, res)
		r.register(TableManifestResource, rid, res)
	}
	return nil
}

func (r *moduleReader) resourceData(offset uint32) ([]byte, error) {
	dir := r.img.cli.Resources
	if dir.VirtualAddress == 0 || offset+4 > dir.Size {
		return nil, formatErr("resource offset 0x%x outside the resource directory", offset)
	}
	head, err := r.img.readRVA(dir.VirtualAddress+offset, 4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(head)
	if uint64(offset)+4+uint64(n) > uint64(dir.Size) {
		return nil, formatErr("resource at 0x%x exceeds the resource directory", offset)
	}
	return r.img.readRVA(dir.VirtualAddress+offset+4, n)
}

func (r *moduleReader) readAssemblyRow() (*Assembly, error) {
	if r.img.rowCount(TableAssembly) == 0 {
		return nil, formatErr("image has no assembly manifest")
	}
	t := r.img.table(TableAssembly)
	n := &AssemblyName{
		HashAlgorithm: HashAlgorithm(t.get(1, 0)),
		Version: Version{
			Major:    uint16(t.get(1, 1)),
			Minor:    uint16(t.get(1, 2)),
			Build:    uint16(t.get(1, 3)),
			Revision: uint16(t.get(1, 4)),
		},
		Flags: AssemblyFlags(t.get(1, 5)),
	}
	var err error
	if n.PublicKey, err = r.blob(TableAssembly, 1, 6); err != nil {
		return nil, err
	}
	if len(n.PublicKey) > 0 {
		n.PublicKeyToken = PublicKeyTokenOf(n.PublicKey)
	}
	if n.Name, err = r.str(TableAssembly, 1, 7); err != nil {
		return nil, err
	}
	if n.Culture, err = r.str(TableAssembly, 1, 8); err != nil {
		return nil, err
	}
	asm := &Assembly{Name: n, Modules: []*Module{r.mod}}
	r.mod.Assembly = asm
	r.register(TableAssembly, 1, asm)
	return asm, nil
}

func (r *moduleReader) readCustomAttributes() error {
	t := r.img.table(TableCustomAttribute)
	for rid := uint32(1); rid <= r.img.rowCount(TableCustomAttribute); rid++ {
		ptable, prid, ok := codedHasCustomAttribute.decode(t.get(rid, 0))
		if !ok {
			return formatErr("custom attribute %d has a bad parent", rid)
		}
		ctable, crid, ok := codedCustomAttributeType.decode(t.get(rid, 1))
		if !ok {
			return formatErr("custom attribute %d has a bad constructor", rid)
		}
		ctor, ok := r.mod.tokens[NewToken(ctable, crid)].(MethodRef)
		if !ok {
			return formatErr("custom attribute %d constructor out of range", rid)
		}
		b, err := r.blob(TableCustomAttribute, rid, 2)
		if err != nil {
			return err
		}
		ca := NewCustomAttribute(ctor, b, r.mod)
		switch owner := r.mod.tokens[NewToken(ptable, prid)].(type) {
		case *Assembly:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *Module:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *TypeDefinition:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *MethodDefinition:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *FieldDefinition:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *ParameterDefinition:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *PropertyDefinition:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *EventDefinition:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		case *GenericParameter:
			owner.CustomAttributes = append(owner.CustomAttributes, ca)
		}
	}
	return nil
}

// memberFromToken resolves an instruction operand token.
func (r *moduleReader) memberFromToken(tok Token, ctx genericContext) (interface{}, error) {
	switch tok.Table() {
	case TableTypeDef, TableTypeRef, TableTypeSpec:
		return r.typeFromToken(tok, ctx)
	case TableMethod, TableField, TableMemberRef:
		if v, ok := r.mod.tokens[tok]; ok {
			return v, nil
		}
	case TableMethodSpec:
		return r.methodSpec(tok.RID(), ctx)
	default:
		return nil, formatErr("token %s is not a member", tok)
	}
	return nil, formatErr("member token %s out of range", tok)
}

func (r *moduleReader) methodSpec(rid uint32, ctx genericContext) (interface{}, error) {
	if rid == 0 || rid > r.img.rowCount(TableMethodSpec) {
		return nil, formatErr("method spec %d out of range", rid)
	}
	t := r.img.table(TableMethodSpec)
	table, mrid, ok := codedMethodDefOrRef.decode(t.get(rid, 0))
	if !ok {
		return nil, formatErr("method spec %d has a bad method", rid)
	}
	m, ok := r.mod.tokens[NewToken(table, mrid)].(MethodRef)
	if !ok {
		return nil, formatErr("method spec %d method out of range", rid)
	}
	b, err := r.blob(TableMethodSpec, rid, 1)
	if err != nil {
		return nil, err
	}
	br := newBlobReader(r, b, ctx)
	args := br.readMethodSpec()
	if br.err != nil {
		return nil, br.err
	}
	return &GenericInstanceMethod{Method: m, Arguments: args, Token: NewToken(TableMethodSpec, rid)}, nil
}

func (r *moduleReader) callSite(tok Token, ctx genericContext) (*CallSite, error) {
	if tok.Table() != TableStandAloneSig || tok.RID() == 0 || tok.RID() > r.img.rowCount(TableStandAloneSig) {
		return nil, formatErr("call site token %s out of range", tok)
	}
	b, err := r.blob(TableStandAloneSig, tok.RID(), 0)
	if err != nil {
		return nil, err
	}
	br := newBlobReader(r, b, ctx)
	cs := br.readCallSite()
	if br.err != nil {
		return nil, br.err
	}
	return cs, nil
}

// materialize decodes every body and resource payload up front.
func (r *moduleReader) materialize() error {
	for _, m := range r.methods {
		if _, err := m.Body(); err != nil {
			return fmt.Errorf("decode body of %s: %w", m.Name, err)
		}
	}
	for _, res := range r.mod.Resources {
		if _, err := res.Data(); err != nil {
			return fmt.Errorf("read resource %s: %w", res.Name, err)
		}
	}
	return nil
}
