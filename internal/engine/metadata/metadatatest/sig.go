package metadatatest

import (
	"encoding/binary"
	"math"

	"ilview/internal/engine/metadata"
)

// Compressed encodes v as an ECMA-335 compressed unsigned integer.
func Compressed(v uint32) []byte {
	switch {
	case v < 0x80:
		return []byte{byte(v)}
	case v < 0x4000:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		return []byte{byte(v>>24) | 0xC0, byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func elem(et metadata.ElementType) []byte { return []byte{byte(et)} }

// Primitive element type signatures.
var (
	Void    = elem(metadata.ElementVoid)
	Bool    = elem(metadata.ElementBoolean)
	Char    = elem(metadata.ElementChar)
	I1      = elem(metadata.ElementI1)
	U1      = elem(metadata.ElementU1)
	I2      = elem(metadata.ElementI2)
	U2      = elem(metadata.ElementU2)
	I4      = elem(metadata.ElementI4)
	U4      = elem(metadata.ElementU4)
	I8      = elem(metadata.ElementI8)
	U8      = elem(metadata.ElementU8)
	R4      = elem(metadata.ElementR4)
	R8      = elem(metadata.ElementR8)
	String  = elem(metadata.ElementString)
	Object  = elem(metadata.ElementObject)
	IntPtr  = elem(metadata.ElementI)
	UIntPtr = elem(metadata.ElementU)
)

// TypeToken encodes a TypeDefOrRefOrSpec token.
func TypeToken(tok uint32) []byte { return Compressed(typeDefOrRef.encode(tok)) }

func Class(tok uint32) []byte     { return concat(elem(metadata.ElementClass), TypeToken(tok)) }
func ValueType(tok uint32) []byte { return concat(elem(metadata.ElementValueType), TypeToken(tok)) }
func SZArray(e []byte) []byte     { return concat(elem(metadata.ElementSzArray), e) }
func ByRef(e []byte) []byte       { return concat(elem(metadata.ElementByRef), e) }
func Ptr(e []byte) []byte         { return concat(elem(metadata.ElementPtr), e) }
func Var(n int) []byte            { return concat(elem(metadata.ElementVar), Compressed(uint32(n))) }
func MVar(n int) []byte           { return concat(elem(metadata.ElementMVar), Compressed(uint32(n))) }

// Array encodes a general array of the given rank with no bounds.
func Array(e []byte, rank int) []byte {
	return concat(elem(metadata.ElementArray), e, Compressed(uint32(rank)), []byte{0, 0})
}

// GenericInst instantiates the generic class or value type tok.
func GenericInst(tok uint32, valueType bool, args ...[]byte) []byte {
	kind := metadata.ElementClass
	if valueType {
		kind = metadata.ElementValueType
	}
	out := concat(elem(metadata.ElementGenericInst), elem(kind), TypeToken(tok), Compressed(uint32(len(args))))
	return concat(append([][]byte{out}, args...)...)
}

// MethodSig encodes a default calling convention method signature.
func MethodSig(hasThis bool, ret []byte, params ...[]byte) []byte {
	return GenericMethodSig(hasThis, 0, ret, params...)
}

// GenericMethodSig encodes a method signature with arity generic parameters.
func GenericMethodSig(hasThis bool, arity int, ret []byte, params ...[]byte) []byte {
	var first byte
	if hasThis {
		first |= 0x20
	}
	out := []byte{first}
	if arity > 0 {
		out[0] |= byte(metadata.CallGeneric)
		out = append(out, Compressed(uint32(arity))...)
	}
	out = append(out, Compressed(uint32(len(params)))...)
	out = append(out, ret...)
	for _, p := range params {
		out = append(out, p...)
	}
	return out
}

func FieldSig(t []byte) []byte { return concat([]byte{0x06}, t) }

func PropertySig(hasThis bool, t []byte, params ...[]byte) []byte {
	first := byte(0x08)
	if hasThis {
		first |= 0x20
	}
	return concat(append([][]byte{{first}, Compressed(uint32(len(params))), t}, params...)...)
}

func LocalsSig(types ...[]byte) []byte {
	return concat(append([][]byte{{0x07}, Compressed(uint32(len(types)))}, types...)...)
}

func MethodSpecSig(args ...[]byte) []byte {
	return concat(append([][]byte{{0x0a}, Compressed(uint32(len(args)))}, args...)...)
}

// AttrBlob builds a custom attribute value blob.
type AttrBlob struct {
	fixed []byte
	named [][]byte
}

func NewAttrBlob() *AttrBlob { return &AttrBlob{} }

func (a *AttrBlob) Raw(b ...byte) *AttrBlob {
	a.fixed = append(a.fixed, b...)
	return a
}

func (a *AttrBlob) Int32(v int32) *AttrBlob {
	a.fixed = binary.LittleEndian.AppendUint32(a.fixed, uint32(v))
	return a
}

func (a *AttrBlob) Bool(v bool) *AttrBlob {
	if v {
		return a.Raw(1)
	}
	return a.Raw(0)
}

func (a *AttrBlob) Float64(v float64) *AttrBlob {
	a.fixed = binary.LittleEndian.AppendUint64(a.fixed, math.Float64bits(v))
	return a
}

func (a *AttrBlob) Text(s string) *AttrBlob {
	a.fixed = append(a.fixed, SerString(s)...)
	return a
}

// NullString writes the 0xFF null marker.
func (a *AttrBlob) NullString() *AttrBlob { return a.Raw(0xff) }

// Named appends a named argument. kind is the FieldOrPropType encoding and
// value its already serialized payload.
func (a *AttrBlob) Named(property bool, kind []byte, name string, value []byte) *AttrBlob {
	tag := byte(0x53)
	if property {
		tag = 0x54
	}
	a.named = append(a.named, concat([]byte{tag}, kind, SerString(name), value))
	return a
}

func (a *AttrBlob) Bytes() []byte {
	out := concat([]byte{0x01, 0x00}, a.fixed)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(a.named)))
	for _, n := range a.named {
		out = append(out, n...)
	}
	return out
}

// SerString encodes a length-prefixed UTF-8 string.
func SerString(s string) []byte { return concat(Compressed(uint32(len(s))), []byte(s)) }

// Int32Bytes is a little-endian helper for constants and named values.
func Int32Bytes(v int32) []byte { return binary.LittleEndian.AppendUint32(nil, uint32(v)) }
