package metadata

import (
	"encoding/binary"
	"fmt"
)

// TableID identifies an ECMA-335 metadata table.
type TableID uint8

const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethod                 TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableEncLog                 TableID = 0x1E
	TableEncMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	tableCount = 0x2D
	tableNone  = TableID(0xFF)

	// tokenString is the token type of user-string heap references.
	tokenString = 0x70
)

var tableNames = [tableCount]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef", "ParamPtr",
	"Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute", "FieldMarshal",
	"DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig", "EventMap", "EventPtr",
	"Event", "PropertyMap", "PropertyPtr", "Property", "MethodSemantics", "MethodImpl",
	"ModuleRef", "TypeSpec", "ImplMap", "FieldRVA", "EncLog", "EncMap", "Assembly",
	"AssemblyProcessor", "AssemblyOS", "AssemblyRef", "AssemblyRefProcessor", "AssemblyRefOS",
	"File", "ExportedType", "ManifestResource", "NestedClass", "GenericParam", "MethodSpec",
	"GenericParamConstraint",
}

func (t TableID) String() string {
	if int(t) < len(tableNames) {
		return tableNames[t]
	}
	return fmt.Sprintf("Table(0x%02x)", uint8(t))
}

// Token is a metadata token: table in the high byte, 1-based row id below.
type Token uint32

func NewToken(table TableID, rid uint32) Token {
	return Token(uint32(table)<<24 | rid&0x00FFFFFF)
}

func (t Token) Table() TableID { return TableID(t >> 24) }
func (t Token) RID() uint32    { return uint32(t) & 0x00FFFFFF }

func (t Token) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}

type codedIndex struct {
	bits   uint
	tables []TableID
}

var (
	codedTypeDefOrRef = codedIndex{2, []TableID{TableTypeDef, TableTypeRef, TableTypeSpec}}
	codedHasConstant  = codedIndex{2, []TableID{TableField, TableParam, TableProperty}}
	codedHasCustomAttribute = codedIndex{5, []TableID{
		TableMethod, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent,
		TableStandAloneSig, TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef,
		TableFile, TableExportedType, TableManifestResource, TableGenericParam,
		TableGenericParamConstraint, TableMethodSpec,
	}}
	codedHasFieldMarshal     = codedIndex{1, []TableID{TableField, TableParam}}
	codedHasDeclSecurity     = codedIndex{2, []TableID{TableTypeDef, TableMethod, TableAssembly}}
	codedMemberRefParent     = codedIndex{3, []TableID{TableTypeDef, TableTypeRef, TableModuleRef, TableMethod, TableTypeSpec}}
	codedHasSemantics        = codedIndex{1, []TableID{TableEvent, TableProperty}}
	codedMethodDefOrRef      = codedIndex{1, []TableID{TableMethod, TableMemberRef}}
	codedMemberForwarded     = codedIndex{1, []TableID{TableField, TableMethod}}
	codedImplementation      = codedIndex{2, []TableID{TableFile, TableAssemblyRef, TableExportedType}}
	codedCustomAttributeType = codedIndex{3, []TableID{tableNone, tableNone, TableMethod, TableMemberRef, tableNone}}
	codedResolutionScope     = codedIndex{2, []TableID{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}}
	codedTypeOrMethodDef     = codedIndex{1, []TableID{TableTypeDef, TableMethod}}
)

// decode splits a coded index value into its table and row id.
func (c codedIndex) decode(v uint32) (TableID, uint32, bool) {
	tag := v & (1<<c.bits - 1)
	if int(tag) >= len(c.tables) || c.tables[tag] == tableNone {
		return tableNone, 0, false
	}
	return c.tables[tag], v >> c.bits, true
}

func (c codedIndex) size(rows *[64]uint32) int {
	limit := uint32(1) << (16 - c.bits)
	for _, t := range c.tables {
		if t != tableNone && rows[t] >= limit {
			return 4
		}
	}
	return 2
}

type colKind uint8

const (
	colU16 colKind = iota
	colU32
	colString
	colGUID
	colBlob
	colTable
	colCoded
)

type column struct {
	kind   colKind
	target TableID
	coded  codedIndex
}

func u16() column               { return column{kind: colU16} }
func u32() column               { return column{kind: colU32} }
func str() column               { return column{kind: colString} }
func guid() column              { return column{kind: colGUID} }
func blob() column              { return column{kind: colBlob} }
func idx(t TableID) column      { return column{kind: colTable, target: t} }
func coded(c codedIndex) column { return column{kind: colCoded, coded: c} }

var schemas = [tableCount][]column{
	TableModule:                 {u16(), str(), guid(), guid(), guid()},
	TableTypeRef:                {coded(codedResolutionScope), str(), str()},
	TableTypeDef:                {u32(), str(), str(), coded(codedTypeDefOrRef), idx(TableField), idx(TableMethod)},
	TableFieldPtr:               {idx(TableField)},
	TableField:                  {u16(), str(), blob()},
	TableMethodPtr:              {idx(TableMethod)},
	TableMethod:                 {u32(), u16(), u16(), str(), blob(), idx(TableParam)},
	TableParamPtr:               {idx(TableParam)},
	TableParam:                  {u16(), u16(), str()},
	TableInterfaceImpl:          {idx(TableTypeDef), coded(codedTypeDefOrRef)},
	TableMemberRef:              {coded(codedMemberRefParent), str(), blob()},
	TableConstant:               {u16(), coded(codedHasConstant), blob()},
	TableCustomAttribute:        {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blob()},
	TableFieldMarshal:           {coded(codedHasFieldMarshal), blob()},
	TableDeclSecurity:           {u16(), coded(codedHasDeclSecurity), blob()},
	TableClassLayout:            {u16(), u32(), idx(TableTypeDef)},
	TableFieldLayout:            {u32(), idx(TableField)},
	TableStandAloneSig:          {blob()},
	TableEventMap:               {idx(TableTypeDef), idx(TableEvent)},
	TableEventPtr:               {idx(TableEvent)},
	TableEvent:                  {u16(), str(), coded(codedTypeDefOrRef)},
	TablePropertyMap:            {idx(TableTypeDef), idx(TableProperty)},
	TablePropertyPtr:            {idx(TableProperty)},
	TableProperty:               {u16(), str(), blob()},
	TableMethodSemantics:        {u16(), idx(TableMethod), coded(codedHasSemantics)},
	TableMethodImpl:             {idx(TableTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	TableModuleRef:              {str()},
	TableTypeSpec:               {blob()},
	TableImplMap:                {u16(), coded(codedMemberForwarded), str(), idx(TableModuleRef)},
	TableFieldRVA:               {u32(), idx(TableField)},
	TableEncLog:                 {u32(), u32()},
	TableEncMap:                 {u32()},
	TableAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	TableAssemblyProcessor:      {u32()},
	TableAssemblyOS:             {u32(), u32(), u32()},
	TableAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	TableAssemblyRefProcessor:   {u32(), idx(TableAssemblyRef)},
	TableAssemblyRefOS:          {u32(), u32(), u32(), idx(TableAssemblyRef)},
	TableFile:                   {u32(), str(), blob()},
	TableExportedType:           {u32(), u32(), str(), str(), coded(codedImplementation)},
	TableManifestResource:       {u32(), u32(), str(), coded(codedImplementation)},
	TableNestedClass:            {idx(TableTypeDef), idx(TableTypeDef)},
	TableGenericParam:           {u16(), u16(), coded(codedTypeOrMethodDef), str()},
	TableMethodSpec:             {coded(codedMethodDefOrRef), blob()},
	TableGenericParamConstraint: {idx(TableGenericParam), coded(codedTypeDefOrRef)},
}

// Heap size flags from the #~ stream header.
const (
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40
)

type table struct {
	id      TableID
	rows    uint32
	rowSize int
	offsets []int
	sizes   []int
	data    []byte
}

func newTable(id TableID, rows *[64]uint32, heapSizes byte) *table {
	t := &table{id: id, rows: rows[id]}
	for _, c := range schemas[id] {
		var sz int
		switch c.kind {
		case colU16:
			sz = 2
		case colU32:
			sz = 4
		case colString:
			sz = heapIndexSize(heapSizes, heapStringsWide)
		case colGUID:
			sz = heapIndexSize(heapSizes, heapGUIDWide)
		case colBlob:
			sz = heapIndexSize(heapSizes, heapBlobWide)
		case colTable:
			sz = 2
			if rows[c.target] >= 1<<16 {
				sz = 4
			}
		case colCoded:
			sz = c.coded.size(rows)
		}
		t.offsets = append(t.offsets, t.rowSize)
		t.sizes = append(t.sizes, sz)
		t.rowSize += sz
	}
	return t
}

func heapIndexSize(heapSizes byte, flag byte) int {
	if heapSizes&flag != 0 {
		return 4
	}
	return 2
}

// get returns column col of the 1-based row rid.
func (t *table) get(rid uint32, col int) uint32 {
	if t == nil || rid == 0 || rid > t.rows || col >= len(t.offsets) {
		return 0
	}
	off := int(rid-1)*t.rowSize + t.offsets[col]
	if t.sizes[col] == 2 {
		return uint32(binary.LittleEndian.Uint16(t.data[off:]))
	}
	return binary.LittleEndian.Uint32(t.data[off:])
}
