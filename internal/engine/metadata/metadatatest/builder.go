// Package metadatatest assembles small managed PE images in memory for tests.
//
// Members attach to the most recently defined type and parameters to the most
// recently defined method, mirroring the ordering the metadata tables require.
// All heaps and indices are two bytes wide, so images must stay small.
package metadatatest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"ilview/internal/engine/metadata"
)

const (
	textRVA     = 0x2000
	textOffset  = 0x200
	cliSize     = 72
	codeRVA     = textRVA + cliSize
	fileAlign   = 0x200
	peHeaderPos = 0x80
)

const none = metadata.TableID(0xff)

type codedIndex struct {
	bits   uint
	tables []metadata.TableID
}

func (c codedIndex) encode(tok uint32) uint32 {
	if tok == 0 {
		return 0
	}
	table := metadata.Token(tok).Table()
	for i, t := range c.tables {
		if t == table {
			return metadata.Token(tok).RID()<<c.bits | uint32(i)
		}
	}
	panic(fmt.Sprintf("metadatatest: token %08x not valid for coded index", tok))
}

var (
	typeDefOrRef       = codedIndex{2, []metadata.TableID{metadata.TableTypeDef, metadata.TableTypeRef, metadata.TableTypeSpec}}
	hasConstant        = codedIndex{2, []metadata.TableID{metadata.TableField, metadata.TableParam, metadata.TableProperty}}
	memberRefParent    = codedIndex{3, []metadata.TableID{metadata.TableTypeDef, metadata.TableTypeRef, metadata.TableModuleRef, metadata.TableMethod, metadata.TableTypeSpec}}
	hasSemantics       = codedIndex{1, []metadata.TableID{metadata.TableEvent, metadata.TableProperty}}
	methodDefOrRef     = codedIndex{1, []metadata.TableID{metadata.TableMethod, metadata.TableMemberRef}}
	resolutionScope    = codedIndex{2, []metadata.TableID{metadata.TableModule, metadata.TableModuleRef, metadata.TableAssemblyRef, metadata.TableTypeRef}}
	typeOrMethodDef    = codedIndex{1, []metadata.TableID{metadata.TableTypeDef, metadata.TableMethod}}
	customAttrType     = codedIndex{3, []metadata.TableID{none, none, metadata.TableMethod, metadata.TableMemberRef, none}}
	hasCustomAttribute = codedIndex{5, []metadata.TableID{
		metadata.TableMethod, metadata.TableField, metadata.TableTypeRef, metadata.TableTypeDef,
		metadata.TableParam, metadata.TableInterfaceImpl, metadata.TableMemberRef, metadata.TableModule,
		metadata.TableDeclSecurity, metadata.TableProperty, metadata.TableEvent, metadata.TableStandAloneSig,
		metadata.TableModuleRef, metadata.TableTypeSpec, metadata.TableAssembly, metadata.TableAssemblyRef,
		metadata.TableFile, metadata.TableExportedType, metadata.TableManifestResource, metadata.TableGenericParam,
		metadata.TableGenericParamConstraint, metadata.TableMethodSpec,
	}}
)

// column widths for two-byte heaps and indices
var widths = map[metadata.TableID][]int{
	metadata.TableModule:                 {2, 2, 2, 2, 2},
	metadata.TableTypeRef:                {2, 2, 2},
	metadata.TableTypeDef:                {4, 2, 2, 2, 2, 2},
	metadata.TableField:                  {2, 2, 2},
	metadata.TableMethod:                 {4, 2, 2, 2, 2, 2},
	metadata.TableParam:                  {2, 2, 2},
	metadata.TableInterfaceImpl:          {2, 2},
	metadata.TableMemberRef:              {2, 2, 2},
	metadata.TableConstant:               {2, 2, 2},
	metadata.TableCustomAttribute:        {2, 2, 2},
	metadata.TableClassLayout:            {2, 4, 2},
	metadata.TableFieldLayout:            {4, 2},
	metadata.TableStandAloneSig:          {2},
	metadata.TableEventMap:               {2, 2},
	metadata.TableEvent:                  {2, 2, 2},
	metadata.TablePropertyMap:            {2, 2},
	metadata.TableProperty:               {2, 2, 2},
	metadata.TableMethodSemantics:        {2, 2, 2},
	metadata.TableModuleRef:              {2},
	metadata.TableTypeSpec:               {2},
	metadata.TableAssembly:               {4, 2, 2, 2, 2, 4, 2, 2, 2},
	metadata.TableAssemblyRef:            {2, 2, 2, 2, 4, 2, 2, 2, 2},
	metadata.TableManifestResource:       {4, 4, 2, 2},
	metadata.TableNestedClass:            {2, 2},
	metadata.TableGenericParam:           {2, 2, 2, 2},
	metadata.TableMethodSpec:             {2, 2},
	metadata.TableGenericParamConstraint: {2, 2},
}

// Body describes a method body. Bodies with no locals, no handlers, a small
// stack and under 64 bytes of code use the tiny header.
type Body struct {
	Code       []byte
	MaxStack   uint16
	Locals     uint32
	InitLocals bool
	Handlers   []Handler
	// ForceFat writes a fat header even when a tiny one would do.
	ForceFat bool
}

// Handler is one exception clause. Token is the catch type or filter offset.
type Handler struct {
	Kind          uint32
	TryStart      uint32
	TryLength     uint32
	HandlerStart  uint32
	HandlerLength uint32
	Token         uint32
}

// Builder accumulates metadata rows and heaps.
type Builder struct {
	rows [64][][]uint32

	strings     []byte
	stringIndex map[string]uint32
	blobs       []byte
	blobIndex   map[string]uint32
	userStrings []byte
	mvid        [16]byte

	code       bytes.Buffer
	resources  bytes.Buffer
	entryPoint uint32
	machine    uint16
	dll        bool

	corlib     uint32
	corlibRefs map[string]uint32
	propOwner  uint32
	eventOwner uint32
	asmRow     int
}

// New starts an image for assembly name at version ("1.0.0.0"). The
// "<Module>" type is defined first, as compilers do.
func New(name, version string) *Builder {
	b := &Builder{
		strings:     []byte{0},
		stringIndex: map[string]uint32{"": 0},
		blobs:       []byte{0},
		blobIndex:   map[string]uint32{"": 0},
		userStrings: []byte{0},
		corlibRefs:  make(map[string]uint32),
		machine:     pe.IMAGE_FILE_MACHINE_I386,
		dll:         true,
		mvid:        [16]byte{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56, 1, 2, 3, 4, 5, 6, 7, 8},
	}
	v := parseVersion(version)
	b.add(metadata.TableModule, 0, b.str(name+".dll"), 1, 0, 0)
	b.asmRow = b.add(metadata.TableAssembly, uint32(metadata.HashSHA1), v[0], v[1], v[2], v[3], 0, 0, b.str(name), 0)
	b.DefineType("", "<Module>", 0, 0)
	return b
}

func parseVersion(s string) [4]uint32 {
	var v [4]uint32
	fmt.Sscanf(s, "%d.%d.%d.%d", &v[0], &v[1], &v[2], &v[3])
	return v
}

func (b *Builder) add(t metadata.TableID, cols ...uint32) int {
	if len(cols) != len(widths[t]) {
		panic(fmt.Sprintf("metadatatest: table %s takes %d columns", t, len(widths[t])))
	}
	b.rows[t] = append(b.rows[t], cols)
	return len(b.rows[t])
}

func (b *Builder) token(t metadata.TableID, rid int) uint32 {
	return uint32(metadata.NewToken(t, uint32(rid)))
}

func (b *Builder) count(t metadata.TableID) int { return len(b.rows[t]) }

func (b *Builder) str(s string) uint32 {
	if i, ok := b.stringIndex[s]; ok {
		return i
	}
	i := uint32(len(b.strings))
	b.strings = append(append(b.strings, s...), 0)
	b.stringIndex[s] = i
	return i
}

func (b *Builder) blob(v []byte) uint32 {
	if i, ok := b.blobIndex[string(v)]; ok {
		return i
	}
	i := uint32(len(b.blobs))
	b.blobs = append(append(b.blobs, Compressed(uint32(len(v)))...), v...)
	b.blobIndex[string(v)] = i
	return i
}

// SetMachine selects the PE machine and whether the image is a DLL.
func (b *Builder) SetMachine(machine uint16, dll bool) {
	b.machine, b.dll = machine, dll
}

func (b *Builder) SetMvid(g [16]byte) { b.mvid = g }

// SetPublicKey stores the assembly public key and sets the PublicKey flag.
func (b *Builder) SetPublicKey(key []byte) {
	row := b.rows[metadata.TableAssembly][b.asmRow-1]
	row[5] |= uint32(metadata.AssemblyPublicKey)
	row[6] = b.blob(key)
}

func (b *Builder) SetCulture(culture string) {
	b.rows[metadata.TableAssembly][b.asmRow-1][8] = b.str(culture)
}

// RemoveAssembly drops the manifest row, producing a netmodule.
func (b *Builder) RemoveAssembly() { b.rows[metadata.TableAssembly] = nil }

// AssemblyRef adds a reference; token may be nil.
func (b *Builder) AssemblyRef(name, version string, token []byte) uint32 {
	v := parseVersion(version)
	rid := b.add(metadata.TableAssemblyRef, v[0], v[1], v[2], v[3], 0, b.blob(token), b.str(name), 0, 0)
	return b.token(metadata.TableAssemblyRef, rid)
}

// Corlib returns the mscorlib 4.0.0.0 reference, adding it on first use.
func (b *Builder) Corlib() uint32 {
	if b.corlib == 0 {
		b.corlib = b.AssemblyRef("mscorlib", "4.0.0.0", []byte{0xb7, 0x7a, 0x5c, 0x56, 0x19, 0x34, 0xe0, 0x89})
	}
	return b.corlib
}

// CorlibType returns a TypeRef to System.<name> in mscorlib.
func (b *Builder) CorlibType(name string) uint32 {
	if tok, ok := b.corlibRefs[name]; ok {
		return tok
	}
	tok := b.TypeRef(b.Corlib(), "System", name)
	b.corlibRefs[name] = tok
	return tok
}

func (b *Builder) ModuleRef(name string) uint32 {
	return b.token(metadata.TableModuleRef, b.add(metadata.TableModuleRef, b.str(name)))
}

// TypeRef adds a type reference. scope is an AssemblyRef, ModuleRef or, for
// nested references, the enclosing TypeRef.
func (b *Builder) TypeRef(scope uint32, ns, name string) uint32 {
	rid := b.add(metadata.TableTypeRef, resolutionScope.encode(scope), b.str(name), b.str(ns))
	return b.token(metadata.TableTypeRef, rid)
}

// TypeSpec adds a type specification from a type signature.
func (b *Builder) TypeSpec(sig []byte) uint32 {
	return b.token(metadata.TableTypeSpec, b.add(metadata.TableTypeSpec, b.blob(sig)))
}

// DefineType adds a TypeDef; extends may be zero.
func (b *Builder) DefineType(ns, name string, attrs metadata.TypeAttributes, extends uint32) uint32 {
	rid := b.add(metadata.TableTypeDef, uint32(attrs), b.str(name), b.str(ns), typeDefOrRef.encode(extends),
		uint32(b.count(metadata.TableField)+1), uint32(b.count(metadata.TableMethod)+1))
	return b.token(metadata.TableTypeDef, rid)
}

// Nest makes inner a nested type of outer.
func (b *Builder) Nest(inner, outer uint32) {
	b.add(metadata.TableNestedClass, metadata.Token(inner).RID(), metadata.Token(outer).RID())
}

func (b *Builder) AddInterface(typ, iface uint32) {
	b.add(metadata.TableInterfaceImpl, metadata.Token(typ).RID(), typeDefOrRef.encode(iface))
}

func (b *Builder) ClassLayout(typ uint32, packing uint16, size uint32) {
	b.add(metadata.TableClassLayout, uint32(packing), size, metadata.Token(typ).RID())
}

// DefineField adds a field to the last defined type.
func (b *Builder) DefineField(name string, attrs metadata.FieldAttributes, sig []byte) uint32 {
	rid := b.add(metadata.TableField, uint32(attrs), b.str(name), b.blob(sig))
	return b.token(metadata.TableField, rid)
}

func (b *Builder) FieldOffset(field uint32, offset uint32) {
	b.add(metadata.TableFieldLayout, offset, metadata.Token(field).RID())
}

// DefineMethod adds a method to the last defined type with one Param row per
// name. Empty names produce no row.
func (b *Builder) DefineMethod(name string, attrs metadata.MethodAttributes, sig []byte, params ...string) uint32 {
	rid := b.add(metadata.TableMethod, 0, 0, uint32(attrs), b.str(name), b.blob(sig), uint32(b.count(metadata.TableParam)+1))
	for i, p := range params {
		if p == "" {
			continue
		}
		b.add(metadata.TableParam, 0, uint32(i+1), b.str(p))
	}
	return b.token(metadata.TableMethod, rid)
}

// SetParamFlags updates the Param row with the given sequence on method.
func (b *Builder) SetParamFlags(method uint32, sequence uint16, flags metadata.ParameterAttributes) uint32 {
	rid := metadata.Token(method).RID()
	start := b.rows[metadata.TableMethod][rid-1][5]
	end := uint32(b.count(metadata.TableParam) + 1)
	if int(rid) < b.count(metadata.TableMethod) {
		end = b.rows[metadata.TableMethod][rid][5]
	}
	for p := start; p < end; p++ {
		if row := b.rows[metadata.TableParam][p-1]; row[1] == uint32(sequence) {
			row[0] = uint32(flags)
			return b.token(metadata.TableParam, int(p))
		}
	}
	panic(fmt.Sprintf("metadatatest: method %08x has no parameter %d", method, sequence))
}

func (b *Builder) SetImplFlags(method uint32, flags metadata.MethodImplAttributes) {
	b.rows[metadata.TableMethod][metadata.Token(method).RID()-1][1] = uint32(flags)
}

// SetBody writes body and points method at it.
func (b *Builder) SetBody(method uint32, body Body) {
	for b.code.Len()%4 != 0 {
		b.code.WriteByte(0)
	}
	rva := uint32(codeRVA + b.code.Len())
	tiny := !body.ForceFat && len(body.Code) < 64 && body.Locals == 0 && body.MaxStack <= 8 && len(body.Handlers) == 0
	if tiny {
		b.code.WriteByte(byte(len(body.Code))<<2 | 0x2)
		b.code.Write(body.Code)
	} else {
		flags := uint16(0x3003)
		if body.InitLocals {
			flags |= 0x10
		}
		if len(body.Handlers) > 0 {
			flags |= 0x8
		}
		le := binary.LittleEndian
		b.code.Write(le.AppendUint16(nil, flags))
		b.code.Write(le.AppendUint16(nil, body.MaxStack))
		b.code.Write(le.AppendUint32(nil, uint32(len(body.Code))))
		b.code.Write(le.AppendUint32(nil, body.Locals))
		b.code.Write(body.Code)
		if len(body.Handlers) > 0 {
			for b.code.Len()%4 != 0 {
				b.code.WriteByte(0)
			}
			size := uint32(4 + 24*len(body.Handlers))
			b.code.Write([]byte{0x41, byte(size), byte(size >> 8), byte(size >> 16)})
			for _, h := range body.Handlers {
				for _, v := range []uint32{h.Kind, h.TryStart, h.TryLength, h.HandlerStart, h.HandlerLength, h.Token} {
					b.code.Write(le.AppendUint32(nil, v))
				}
			}
		}
	}
	b.rows[metadata.TableMethod][metadata.Token(method).RID()-1][0] = rva
}

// SetRawBody points method at arbitrary bytes, for malformed-body tests.
func (b *Builder) SetRawBody(method uint32, raw []byte) {
	for b.code.Len()%4 != 0 {
		b.code.WriteByte(0)
	}
	b.rows[metadata.TableMethod][metadata.Token(method).RID()-1][0] = uint32(codeRVA + b.code.Len())
	b.code.Write(raw)
}

// SetConstant attaches a default value to a field, parameter or property.
func (b *Builder) SetConstant(parent uint32, etype metadata.ElementType, value []byte) {
	b.add(metadata.TableConstant, uint32(etype), hasConstant.encode(parent), b.blob(value))
}

// DefineProperty adds a property to the last defined type; accessors may be zero.
func (b *Builder) DefineProperty(name string, sig []byte, getter, setter uint32) uint32 {
	owner := uint32(b.count(metadata.TableTypeDef))
	if b.propOwner != owner {
		b.add(metadata.TablePropertyMap, owner, uint32(b.count(metadata.TableProperty)+1))
		b.propOwner = owner
	}
	rid := b.add(metadata.TableProperty, 0, b.str(name), b.blob(sig))
	tok := b.token(metadata.TableProperty, rid)
	b.semantics(metadata.SemanticsGetter, getter, tok)
	b.semantics(metadata.SemanticsSetter, setter, tok)
	return tok
}

// DefineEvent adds an event to the last defined type; accessors may be zero.
func (b *Builder) DefineEvent(name string, eventType, add, remove uint32) uint32 {
	owner := uint32(b.count(metadata.TableTypeDef))
	if b.eventOwner != owner {
		b.add(metadata.TableEventMap, owner, uint32(b.count(metadata.TableEvent)+1))
		b.eventOwner = owner
	}
	rid := b.add(metadata.TableEvent, 0, b.str(name), typeDefOrRef.encode(eventType))
	tok := b.token(metadata.TableEvent, rid)
	b.semantics(metadata.SemanticsAddOn, add, tok)
	b.semantics(metadata.SemanticsRemoveOn, remove, tok)
	return tok
}

func (b *Builder) semantics(sem metadata.MethodSemanticsAttributes, method, assoc uint32) {
	if method == 0 {
		return
	}
	b.add(metadata.TableMethodSemantics, uint32(sem), metadata.Token(method).RID(), hasSemantics.encode(assoc))
}

// GenericParam declares a generic parameter on a type or method.
func (b *Builder) GenericParam(owner uint32, position uint16, name string) uint32 {
	rid := b.add(metadata.TableGenericParam, uint32(position), 0, typeOrMethodDef.encode(owner), b.str(name))
	return b.token(metadata.TableGenericParam, rid)
}

func (b *Builder) GenericConstraint(param, constraint uint32) {
	b.add(metadata.TableGenericParamConstraint, metadata.Token(param).RID(), typeDefOrRef.encode(constraint))
}

// MemberRef references a method or field on parent.
func (b *Builder) MemberRef(parent uint32, name string, sig []byte) uint32 {
	rid := b.add(metadata.TableMemberRef, memberRefParent.encode(parent), b.str(name), b.blob(sig))
	return b.token(metadata.TableMemberRef, rid)
}

// MethodSpec instantiates a generic method.
func (b *Builder) MethodSpec(method uint32, args ...[]byte) uint32 {
	rid := b.add(metadata.TableMethodSpec, methodDefOrRef.encode(method), b.blob(MethodSpecSig(args...)))
	return b.token(metadata.TableMethodSpec, rid)
}

// StandAloneSig stores a locals or call-site signature.
func (b *Builder) StandAloneSig(sig []byte) uint32 {
	return b.token(metadata.TableStandAloneSig, b.add(metadata.TableStandAloneSig, b.blob(sig)))
}

// UserString adds s to the #US heap and returns its ldstr token.
func (b *Builder) UserString(s string) uint32 {
	off := uint32(len(b.userStrings))
	units := utf16.Encode([]rune(s))
	b.userStrings = append(b.userStrings, Compressed(uint32(len(units)*2+1))...)
	for _, u := range units {
		b.userStrings = binary.LittleEndian.AppendUint16(b.userStrings, u)
	}
	b.userStrings = append(b.userStrings, 0)
	return 0x70000000 | off
}

// CustomAttribute attaches an attribute instance to parent.
func (b *Builder) CustomAttribute(parent, ctor uint32, blob []byte) {
	b.add(metadata.TableCustomAttribute, hasCustomAttribute.encode(parent), customAttrType.encode(ctor), b.blob(blob))
}

// Resource embeds data as a manifest resource.
func (b *Builder) Resource(name string, data []byte, public bool) {
	for b.resources.Len()%8 != 0 {
		b.resources.WriteByte(0)
	}
	off := uint32(b.resources.Len())
	b.resources.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(data))))
	b.resources.Write(data)
	flags := metadata.ResourcePrivate
	if public {
		flags = metadata.ResourcePublic
	}
	b.add(metadata.TableManifestResource, off, uint32(flags), b.str(name), 0)
}

func (b *Builder) SetEntryPoint(method uint32) { b.entryPoint = method }

// Bytes lays out the PE image.
func (b *Builder) Bytes() []byte {
	le := binary.LittleEndian
	code := b.code.Bytes()

	resRVA := align(codeRVA+uint32(len(code)), 8)
	res := b.resources.Bytes()
	mdRVA := align(resRVA+uint32(len(res)), 4)
	md := b.metadata()

	text := make([]byte, mdRVA-textRVA+uint32(len(md)))
	cli := text[:cliSize]
	le.PutUint32(cli[0:], cliSize)
	le.PutUint16(cli[4:], 2)
	le.PutUint16(cli[6:], 5)
	le.PutUint32(cli[8:], mdRVA)
	le.PutUint32(cli[12:], uint32(len(md)))
	le.PutUint32(cli[16:], uint32(metadata.ModuleILOnly))
	le.PutUint32(cli[20:], b.entryPoint)
	if len(res) > 0 {
		le.PutUint32(cli[24:], resRVA)
		le.PutUint32(cli[28:], uint32(len(res)))
	}
	copy(text[codeRVA-textRVA:], code)
	copy(text[resRVA-textRVA:], res)
	copy(text[mdRVA-textRVA:], md)

	var out bytes.Buffer
	dos := make([]byte, peHeaderPos)
	dos[0], dos[1] = 'M', 'Z'
	le.PutUint32(dos[0x3c:], peHeaderPos)
	out.Write(dos)
	out.WriteString("PE\x00\x00")

	chars := uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE)
	if b.dll {
		chars |= pe.IMAGE_FILE_DLL
	}
	binary.Write(&out, le, pe.FileHeader{
		Machine:              b.machine,
		NumberOfSections:     1,
		SizeOfOptionalHeader: 224,
		Characteristics:      chars,
	})
	rawSize := align(uint32(len(text)), fileAlign)
	oh := pe.OptionalHeader32{
		Magic:                 0x10b,
		SizeOfCode:            rawSize,
		BaseOfCode:            textRVA,
		ImageBase:             0x400000,
		SectionAlignment:      0x2000,
		FileAlignment:         fileAlign,
		MajorSubsystemVersion: 4,
		SizeOfImage:           align(textRVA+uint32(len(text)), 0x2000),
		SizeOfHeaders:         textOffset,
		Subsystem:             pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		NumberOfRvaAndSizes:   16,
	}
	oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR] = pe.DataDirectory{VirtualAddress: textRVA, Size: cliSize}
	binary.Write(&out, le, oh)

	var name [8]uint8
	copy(name[:], ".text")
	binary.Write(&out, le, pe.SectionHeader32{
		Name:             name,
		VirtualSize:      uint32(len(text)),
		VirtualAddress:   textRVA,
		SizeOfRawData:    rawSize,
		PointerToRawData: textOffset,
		Characteristics:  pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	})
	out.Write(make([]byte, textOffset-out.Len()))
	out.Write(text)
	out.Write(make([]byte, rawSize-uint32(len(text))))
	return out.Bytes()
}

func align(v, to uint32) uint32 { return (v + to - 1) &^ (to - 1) }

func (b *Builder) metadata() []byte {
	le := binary.LittleEndian
	var tables bytes.Buffer
	tables.Write(make([]byte, 4))
	tables.Write([]byte{2, 0, 0, 1})
	var valid uint64
	for t := range b.rows {
		if len(b.rows[t]) > 0 {
			valid |= 1 << uint(t)
		}
	}
	tables.Write(le.AppendUint64(nil, valid))
	tables.Write(make([]byte, 8))
	for t := range b.rows {
		if len(b.rows[t]) > 0 {
			tables.Write(le.AppendUint32(nil, uint32(len(b.rows[t]))))
		}
	}
	for t := range b.rows {
		w := widths[metadata.TableID(t)]
		for _, row := range b.rows[t] {
			for i, v := range row {
				if w[i] == 4 {
					tables.Write(le.AppendUint32(nil, v))
				} else {
					tables.Write(le.AppendUint16(nil, uint16(v)))
				}
			}
		}
	}

	streams := []struct {
		name string
		data []byte
	}{
		{"#~", tables.Bytes()},
		{"#Strings", b.strings},
		{"#US", b.userStrings},
		{"#GUID", b.mvid[:]},
		{"#Blob", b.blobs},
	}
	version := []byte("v4.0.30319\x00\x00")
	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + int(align(uint32(len(s.name)+1), 4))
	}

	var out bytes.Buffer
	out.Write(le.AppendUint32(nil, 0x424A5342))
	out.Write(le.AppendUint16(nil, 1))
	out.Write(le.AppendUint16(nil, 1))
	out.Write(make([]byte, 4))
	out.Write(le.AppendUint32(nil, uint32(len(version))))
	out.Write(version)
	out.Write(le.AppendUint16(nil, 0))
	out.Write(le.AppendUint16(nil, uint16(len(streams))))

	offset := uint32(headerSize)
	for _, s := range streams {
		size := align(uint32(len(s.data)), 4)
		out.Write(le.AppendUint32(nil, offset))
		out.Write(le.AppendUint32(nil, size))
		name := make([]byte, align(uint32(len(s.name)+1), 4))
		copy(name, s.name)
		out.Write(name)
		offset += size
	}
	for _, s := range streams {
		out.Write(s.data)
		out.Write(make([]byte, align(uint32(len(s.data)), 4)-uint32(len(s.data))))
	}
	return out.Bytes()
}
