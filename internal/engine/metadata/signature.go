package metadata

import (
	"encoding/binary"
	"math"
	"strconv"
)

// genericContext binds VAR and MVAR indices in a signature.
type genericContext struct {
	typeParams   []*GenericParameter
	methodParams []*GenericParameter
}

// blobReader decodes signature, attribute and IL blobs. The first error is
// sticky and all later reads return zero values.
type blobReader struct {
	r   *moduleReader
	b   []byte
	pos int
	ctx genericContext
	err error
}

func newBlobReader(r *moduleReader, b []byte, ctx genericContext) *blobReader {
	return &blobReader{r: r, b: b, ctx: ctx}
}

func (s *blobReader) fail(format string, args ...interface{}) {
	if s.err == nil {
		s.err = formatErr(format, args...)
	}
}

func (s *blobReader) remaining() int { return len(s.b) - s.pos }

func (s *blobReader) byte() byte {
	if s.err != nil {
		return 0
	}
	if s.pos >= len(s.b) {
		s.fail("truncated signature")
		return 0
	}
	v := s.b[s.pos]
	s.pos++
	return v
}

func (s *blobReader) peek() byte {
	if s.err != nil || s.pos >= len(s.b) {
		return 0
	}
	return s.b[s.pos]
}

func (s *blobReader) bytes(n int) []byte {
	if s.err != nil {
		return nil
	}
	if n < 0 || s.pos+n > len(s.b) {
		s.fail("truncated signature")
		return nil
	}
	v := s.b[s.pos : s.pos+n]
	s.pos += n
	return v
}

func (s *blobReader) u16() uint16 {
	b := s.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (s *blobReader) u32() uint32 {
	b := s.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (s *blobReader) u64() uint64 {
	b := s.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (s *blobReader) f32() float32 { return math.Float32frombits(s.u32()) }
func (s *blobReader) f64() float64 { return math.Float64frombits(s.u64()) }

func (s *blobReader) compressed() uint32 {
	if s.err != nil {
		return 0
	}
	v, n, err := readCompressed(s.b[s.pos:])
	if err != nil {
		s.err = err
		return 0
	}
	s.pos += n
	return v
}

// compressedSigned decodes a compressed signed integer (array lower bounds).
func (s *blobReader) compressedSigned() int32 {
	if s.err != nil || s.pos >= len(s.b) {
		s.fail("truncated signature")
		return 0
	}
	first := s.b[s.pos]
	raw := s.compressed()
	if s.err != nil {
		return 0
	}
	var bits uint
	switch {
	case first&0x80 == 0:
		bits = 7
	case first&0xC0 == 0x80:
		bits = 14
	default:
		bits = 29
	}
	v := int32(raw >> 1)
	if raw&1 != 0 {
		v -= int32(1) << (bits - 1)
	}
	return v
}

// typeDefOrRef reads a TypeDefOrRefOrSpecEncoded token.
func (s *blobReader) typeDefOrRef() Type {
	v := s.compressed()
	if s.err != nil {
		return nil
	}
	table, rid, ok := codedTypeDefOrRef.decode(v)
	if !ok {
		s.fail("bad TypeDefOrRef tag in signature")
		return nil
	}
	t, err := s.r.typeFromToken(NewToken(table, rid), s.ctx)
	if err != nil {
		s.err = err
		return nil
	}
	return t
}

// readType decodes one Type production (ECMA-335 II.23.2.12).
func (s *blobReader) readType() Type {
	et := ElementType(s.byte())
	if s.err != nil {
		return nil
	}
	switch et {
	case ElementVoid, ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8, ElementString,
		ElementTypedByRef, ElementI, ElementU, ElementObject:
		return s.r.primitive(et)
	case ElementPtr:
		return &PointerType{Element: s.readType()}
	case ElementByRef:
		return &ByReferenceType{Element: s.readType()}
	case ElementPinned:
		return &PinnedType{Element: s.readType()}
	case ElementSentinel:
		return &SentinelType{Element: s.readType()}
	case ElementValueType:
		t := s.typeDefOrRef()
		if ref, ok := t.(*TypeReference); ok {
			ref.ValueType = true
		}
		return t
	case ElementClass:
		return s.typeDefOrRef()
	case ElementVar:
		return s.genericParam(int(s.compressed()), false)
	case ElementMVar:
		return s.genericParam(int(s.compressed()), true)
	case ElementSzArray:
		return &ArrayType{Element: s.readType(), Rank: 1}
	case ElementArray:
		return s.readArray()
	case ElementGenericInst:
		return s.readGenericInst()
	case ElementFnPtr:
		return &FunctionPointerType{Signature: s.readCallSite()}
	case ElementCModReqd, ElementCModOpt:
		mod := s.typeDefOrRef()
		return &ModifiedType{Modifier: mod, Element: s.readType(), Required: et == ElementCModReqd}
	}
	s.fail("unexpected element type 0x%02x in signature", byte(et))
	return nil
}

func (s *blobReader) readArray() Type {
	elem := s.readType()
	rank := int(s.compressed())
	if s.err != nil {
		return nil
	}
	if rank == 0 || rank > 32 {
		s.fail("invalid array rank %d", rank)
		return nil
	}
	dims := make([]ArrayDimension, rank)
	numSizes := int(s.compressed())
	if numSizes > rank {
		s.fail("array has more sizes than rank")
		return nil
	}
	sizes := make([]uint32, numSizes)
	for i := range sizes {
		sizes[i] = s.compressed()
	}
	numLo := int(s.compressed())
	if numLo > rank {
		s.fail("array has more lower bounds than rank")
		return nil
	}
	for i := 0; i < numLo; i++ {
		lo := s.compressedSigned()
		dims[i].LowerBound = &lo
	}
	for i, sz := range sizes {
		lo := int32(0)
		if dims[i].LowerBound != nil {
			lo = *dims[i].LowerBound
		} else {
			dims[i].LowerBound = &lo
		}
		hi := lo + int32(sz) - 1
		dims[i].UpperBound = &hi
	}
	return &ArrayType{Element: elem, Rank: rank, Dimensions: dims}
}

func (s *blobReader) readGenericInst() Type {
	kind := ElementType(s.byte())
	generic := s.typeDefOrRef()
	n := int(s.compressed())
	if s.err != nil {
		return nil
	}
	if n > s.remaining() {
		s.fail("generic argument count %d exceeds signature", n)
		return nil
	}
	if ref, ok := generic.(*TypeReference); ok && kind == ElementValueType {
		ref.ValueType = true
	}
	inst := &GenericInstanceType{Generic: generic, ValueType: kind == ElementValueType}
	for i := 0; i < n && s.err == nil; i++ {
		inst.Arguments = append(inst.Arguments, s.readType())
	}
	return inst
}

func (s *blobReader) genericParam(pos int, method bool) Type {
	params := s.ctx.typeParams
	prefix := "!"
	if method {
		params = s.ctx.methodParams
		prefix = "!!"
	}
	if pos < len(params) {
		return params[pos]
	}
	return &GenericParameter{Name: prefix + strconv.Itoa(pos), Position: pos, IsMethod: method}
}

// methodSig is a decoded MethodDefSig, MethodRefSig or StandAloneMethodSig.
type methodSig struct {
	hasThis      bool
	explicitThis bool
	conv         MethodCallingConvention
	genericArity int
	ret          Type
	params       []Type
}

func (s *blobReader) readMethodSig() methodSig {
	var m methodSig
	first := s.byte()
	m.hasThis = first&sigHasThis != 0
	m.explicitThis = first&sigExplicitThis != 0
	m.conv = MethodCallingConvention(first & 0x1f)
	if m.conv&CallGeneric != 0 {
		m.genericArity = int(s.compressed())
		m.conv &^= CallGeneric
	}
	count := int(s.compressed())
	if s.err != nil {
		return m
	}
	if count > s.remaining() {
		s.fail("parameter count %d exceeds signature", count)
		return m
	}
	m.ret = s.readType()
	for i := 0; i < count && s.err == nil; i++ {
		if s.peek() == byte(ElementSentinel) {
			s.pos++
			m.params = append(m.params, &SentinelType{Element: s.readType()})
			continue
		}
		m.params = append(m.params, s.readType())
	}
	return m
}

func (s *blobReader) readCallSite() *CallSite {
	m := s.readMethodSig()
	cs := &CallSite{HasThis: m.hasThis, ExplicitThis: m.explicitThis, CallingConvention: m.conv, ReturnType: m.ret}
	for i, p := range m.params {
		cs.Parameters = append(cs.Parameters, &ParameterDefinition{Index: i, ParameterType: p})
	}
	return cs
}

func (s *blobReader) readFieldSig() Type {
	if b := s.byte(); b != sigField && s.err == nil {
		s.fail("bad field signature prolog 0x%02x", b)
		return nil
	}
	return s.readType()
}

// readPropertySig decodes a PropertySig: the property type plus index parameters.
func (s *blobReader) readPropertySig() (bool, Type, []Type) {
	first := s.byte()
	if first&0x0f != sigProperty && s.err == nil {
		s.fail("bad property signature prolog 0x%02x", first)
		return false, nil, nil
	}
	count := int(s.compressed())
	if count > s.remaining() {
		s.fail("parameter count %d exceeds signature", count)
		return false, nil, nil
	}
	t := s.readType()
	var params []Type
	for i := 0; i < count && s.err == nil; i++ {
		params = append(params, s.readType())
	}
	return first&sigHasThis != 0, t, params
}

func (s *blobReader) readLocalsSig() []Type {
	if b := s.byte(); b != sigLocal && s.err == nil {
		s.fail("bad locals signature prolog 0x%02x", b)
		return nil
	}
	count := int(s.compressed())
	if count > s.remaining() {
		s.fail("local count %d exceeds signature", count)
		return nil
	}
	out := make([]Type, 0, count)
	for i := 0; i < count && s.err == nil; i++ {
		if s.peek() == byte(ElementTypedByRef) {
			s.pos++
			out = append(out, s.r.primitive(ElementTypedByRef))
			continue
		}
		out = append(out, s.readType())
	}
	return out
}

func (s *blobReader) readMethodSpec() []Type {
	if b := s.byte(); b != sigMethodSpec && s.err == nil {
		s.fail("bad method spec prolog 0x%02x", b)
		return nil
	}
	count := int(s.compressed())
	if count > s.remaining() {
		s.fail("generic argument count %d exceeds signature", count)
		return nil
	}
	out := make([]Type, 0, count)
	for i := 0; i < count && s.err == nil; i++ {
		out = append(out, s.readType())
	}
	return out
}
