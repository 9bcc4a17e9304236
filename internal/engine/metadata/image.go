package metadata

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"

	"ilview/internal/core/errors"
)

const (
	comDescriptorIndex = 14
	metadataSignature  = 0x424A5342 // "BSJB"
	cliHeaderSize      = 72
)

type dataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// cliHeader is the IMAGE_COR20_HEADER.
type cliHeader struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                dataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               dataDirectory
	StrongNameSignature     dataDirectory
	CodeManagerTable        dataDirectory
	VTableFixups            dataDirectory
	ExportAddressTableJumps dataDirectory
	ManagedNativeHeader     dataDirectory
}

type image struct {
	file    *pe.File
	cli     cliHeader
	version string

	strings     []byte
	userStrings []byte
	blobs       []byte
	guids       []byte

	heapSizes byte
	rows      [64]uint32
	tables    [tableCount]*table
}

func formatErr(format string, args ...interface{}) error {
	return errors.Newf(errors.CodeFormat, format, args...)
}

// openImage parses the PE container, the CLI header and the metadata streams.
func openImage(r io.ReaderAt) (*image, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFormat, "not a PE image")
	}
	img := &image{file: f}

	var dir dataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= comDescriptorIndex {
			return nil, formatErr("optional header has no CLI directory")
		}
		d := oh.DataDirectory[comDescriptorIndex]
		dir = dataDirectory{d.VirtualAddress, d.Size}
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= comDescriptorIndex {
			return nil, formatErr("optional header has no CLI directory")
		}
		d := oh.DataDirectory[comDescriptorIndex]
		dir = dataDirectory{d.VirtualAddress, d.Size}
	default:
		return nil, formatErr("missing optional header")
	}
	if dir.VirtualAddress == 0 {
		return nil, formatErr("image has no CLI header")
	}

	raw, err := img.readRVA(dir.VirtualAddress, cliHeaderSize)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &img.cli); err != nil {
		return nil, errors.Wrap(err, errors.CodeFormat, "read CLI header")
	}
	if img.cli.MetaData.VirtualAddress == 0 || img.cli.MetaData.Size == 0 {
		return nil, formatErr("CLI header has no metadata directory")
	}

	md, err := img.readRVA(img.cli.MetaData.VirtualAddress, img.cli.MetaData.Size)
	if err != nil {
		return nil, err
	}
	if err := img.readMetadataRoot(md); err != nil {
		return nil, err
	}
	return img, nil
}

// readRVA reads size bytes at a relative virtual address.
func (img *image) readRVA(rva, size uint32) ([]byte, error) {
	s := img.section(rva)
	if s == nil {
		return nil, formatErr("RVA 0x%x is outside every section", rva)
	}
	off := uint64(rva - s.VirtualAddress)
	if off+uint64(size) > uint64(s.Size) {
		return nil, formatErr("read of %d bytes at RVA 0x%x exceeds section %s", size, rva, s.Name)
	}
	buf := make([]byte, size)
	n, err := s.ReadAt(buf, int64(off))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, errors.Wrap(err, errors.CodeFormat, fmt.Sprintf("read %d bytes at RVA 0x%x", size, rva))
}

func (img *image) section(rva uint32) *pe.Section {
	for _, s := range img.file.Sections {
		span := s.VirtualSize
		if s.Size > span {
			span = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+span {
			return s
		}
	}
	return nil
}

func (img *image) readMetadataRoot(md []byte) error {
	if len(md) < 16 || binary.LittleEndian.Uint32(md) != metadataSignature {
		return formatErr("bad metadata signature")
	}
	verLen := int(binary.LittleEndian.Uint32(md[12:]))
	if 16+verLen+4 > len(md) {
		return formatErr("truncated metadata root")
	}
	img.version = string(bytes.TrimRight(md[16:16+verLen], "\x00"))
	off := 16 + verLen
	count := int(binary.LittleEndian.Uint16(md[off+2:]))
	off += 4

	var tablesStream []byte
	for i := 0; i < count; i++ {
		if off+8 > len(md) {
			return formatErr("truncated stream header %d", i)
		}
		start := binary.LittleEndian.Uint32(md[off:])
		size := binary.LittleEndian.Uint32(md[off+4:])
		end := bytes.IndexByte(md[off+8:], 0)
		if end < 0 {
			return formatErr("unterminated stream name")
		}
		name := string(md[off+8 : off+8+end])
		off += 8 + (end+4)&^3
		if uint64(start)+uint64(size) > uint64(len(md)) {
			return formatErr("stream %s exceeds metadata bounds", name)
		}
		data := md[start : start+size]
		switch name {
		case "#~", "#-":
			tablesStream = data
		case "#Strings":
			img.strings = data
		case "#US":
			img.userStrings = data
		case "#Blob":
			img.blobs = data
		case "#GUID":
			img.guids = data
		}
	}
	if tablesStream == nil {
		return formatErr("metadata has no #~ stream")
	}
	return img.readTables(tablesStream)
}

func (img *image) readTables(s []byte) error {
	if len(s) < 24 {
		return formatErr("truncated #~ header")
	}
	img.heapSizes = s[6]
	valid := binary.LittleEndian.Uint64(s[8:])
	pos := 24
	for i := 0; i < 64; i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		if i >= tableCount {
			return formatErr("unsupported metadata table 0x%02x", i)
		}
		if pos+4 > len(s) {
			return formatErr("truncated table row counts")
		}
		img.rows[i] = binary.LittleEndian.Uint32(s[pos:])
		pos += 4
	}
	if img.heapSizes&heapExtraData != 0 {
		pos += 4
	}

	for i := 0; i < tableCount; i++ {
		if img.rows[i] == 0 {
			continue
		}
		t := newTable(TableID(i), &img.rows, img.heapSizes)
		size := int(t.rows) * t.rowSize
		if pos+size > len(s) {
			return errors.AddContext(formatErr("truncated table"), errors.CtxTable, TableID(i).String())
		}
		t.data = s[pos : pos+size]
		pos += size
		img.tables[i] = t
	}
	return nil
}

func (img *image) table(id TableID) *table { return img.tables[id] }

func (img *image) rowCount(id TableID) uint32 { return img.rows[id] }

func (img *image) str(index uint32) (string, error) {
	if index == 0 {
		return "", nil
	}
	if int(index) >= len(img.strings) {
		return "", formatErr("string index 0x%x out of range", index)
	}
	end := bytes.IndexByte(img.strings[index:], 0)
	if end < 0 {
		return "", formatErr("unterminated string at 0x%x", index)
	}
	return string(img.strings[index : int(index)+end]), nil
}

// blob returns the blob at index. A zero index yields nil, a present
// empty blob yields a non-nil empty slice.
func (img *image) blob(index uint32) ([]byte, error) {
	if index == 0 {
		return nil, nil
	}
	if int(index) >= len(img.blobs) {
		return nil, formatErr("blob index 0x%x out of range", index)
	}
	n, sz, err := readCompressed(img.blobs[index:])
	if err != nil {
		return nil, err
	}
	start := int(index) + sz
	if start+int(n) > len(img.blobs) {
		return nil, formatErr("blob at 0x%x exceeds heap", index)
	}
	out := make([]byte, n)
	copy(out, img.blobs[start:start+int(n)])
	return out, nil
}

func (img *image) guid(index uint32) ([16]byte, error) {
	var g [16]byte
	if index == 0 {
		return g, nil
	}
	off := int(index-1) * 16
	if off+16 > len(img.guids) {
		return g, formatErr("guid index %d out of range", index)
	}
	copy(g[:], img.guids[off:off+16])
	return g, nil
}

func (img *image) userString(index uint32) (string, error) {
	if int(index) >= len(img.userStrings) {
		return "", formatErr("user string index 0x%x out of range", index)
	}
	n, sz, err := readCompressed(img.userStrings[index:])
	if err != nil {
		return "", err
	}
	start := int(index) + sz
	if start+int(n) > len(img.userStrings) {
		return "", formatErr("user string at 0x%x exceeds heap", index)
	}
	return decodeUTF16(img.userStrings[start : start+int(n)&^1]), nil
}

func decodeUTF16(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}

// readCompressed decodes an ECMA-335 compressed unsigned integer.
func readCompressed(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, formatErr("truncated compressed integer")
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, formatErr("truncated compressed integer")
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, formatErr("truncated compressed integer")
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, formatErr("invalid compressed integer prefix 0x%02x", b[0])
}
