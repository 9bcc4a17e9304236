package metadata

// OperandType describes how an instruction operand is encoded.
type OperandType uint8

const (
	OperandInlineNone OperandType = iota
	OperandInlineBrTarget
	OperandShortInlineBrTarget
	OperandInlineField
	OperandInlineI
	OperandShortInlineI
	OperandInlineI8
	OperandInlineR
	OperandShortInlineR
	OperandInlineMethod
	OperandInlineSig
	OperandInlineString
	OperandInlineSwitch
	OperandInlineTok
	OperandInlineType
	OperandInlineVar
	OperandShortInlineVar
	OperandInlineArg
	OperandShortInlineArg
)

// OpCode is one CIL instruction kind. Two-byte opcodes carry the 0xfe prefix
// in the high byte of Value.
type OpCode struct {
	Name    string
	Value   uint16
	Operand OperandType
}

func (op *OpCode) String() string { return op.Name }

// Size is the encoded length of the opcode itself.
func (op *OpCode) Size() int {
	if op.Value > 0xff {
		return 2
	}
	return 1
}

var opcodeList = []OpCode{
	{"nop", 0x00, OperandInlineNone},
	{"break", 0x01, OperandInlineNone},
	{"ldarg.0", 0x02, OperandInlineNone},
	{"ldarg.1", 0x03, OperandInlineNone},
	{"ldarg.2", 0x04, OperandInlineNone},
	{"ldarg.3", 0x05, OperandInlineNone},
	{"ldloc.0", 0x06, OperandInlineNone},
	{"ldloc.1", 0x07, OperandInlineNone},
	{"ldloc.2", 0x08, OperandInlineNone},
	{"ldloc.3", 0x09, OperandInlineNone},
	{"stloc.0", 0x0a, OperandInlineNone},
	{"stloc.1", 0x0b, OperandInlineNone},
	{"stloc.2", 0x0c, OperandInlineNone},
	{"stloc.3", 0x0d, OperandInlineNone},
	{"ldarg.s", 0x0e, OperandShortInlineArg},
	{"ldarga.s", 0x0f, OperandShortInlineArg},
	{"starg.s", 0x10, OperandShortInlineArg},
	{"ldloc.s", 0x11, OperandShortInlineVar},
	{"ldloca.s", 0x12, OperandShortInlineVar},
	{"stloc.s", 0x13, OperandShortInlineVar},
	{"ldnull", 0x14, OperandInlineNone},
	{"ldc.i4.m1", 0x15, OperandInlineNone},
	{"ldc.i4.0", 0x16, OperandInlineNone},
	{"ldc.i4.1", 0x17, OperandInlineNone},
	{"ldc.i4.2", 0x18, OperandInlineNone},
	{"ldc.i4.3", 0x19, OperandInlineNone},
	{"ldc.i4.4", 0x1a, OperandInlineNone},
	{"ldc.i4.5", 0x1b, OperandInlineNone},
	{"ldc.i4.6", 0x1c, OperandInlineNone},
	{"ldc.i4.7", 0x1d, OperandInlineNone},
	{"ldc.i4.8", 0x1e, OperandInlineNone},
	{"ldc.i4.s", 0x1f, OperandShortInlineI},
	{"ldc.i4", 0x20, OperandInlineI},
	{"ldc.i8", 0x21, OperandInlineI8},
	{"ldc.r4", 0x22, OperandShortInlineR},
	{"ldc.r8", 0x23, OperandInlineR},
	{"dup", 0x25, OperandInlineNone},
	{"pop", 0x26, OperandInlineNone},
	{"jmp", 0x27, OperandInlineMethod},
	{"call", 0x28, OperandInlineMethod},
	{"calli", 0x29, OperandInlineSig},
	{"ret", 0x2a, OperandInlineNone},
	{"br.s", 0x2b, OperandShortInlineBrTarget},
	{"brfalse.s", 0x2c, OperandShortInlineBrTarget},
	{"brtrue.s", 0x2d, OperandShortInlineBrTarget},
	{"beq.s", 0x2e, OperandShortInlineBrTarget},
	{"bge.s", 0x2f, OperandShortInlineBrTarget},
	{"bgt.s", 0x30, OperandShortInlineBrTarget},
	{"ble.s", 0x31, OperandShortInlineBrTarget},
	{"blt.s", 0x32, OperandShortInlineBrTarget},
	{"bne.un.s", 0x33, OperandShortInlineBrTarget},
	{"bge.un.s", 0x34, OperandShortInlineBrTarget},
	{"bgt.un.s", 0x35, OperandShortInlineBrTarget},
	{"ble.un.s", 0x36, OperandShortInlineBrTarget},
	{"blt.un.s", 0x37, OperandShortInlineBrTarget},
	{"br", 0x38, OperandInlineBrTarget},
	{"brfalse", 0x39, OperandInlineBrTarget},
	{"brtrue", 0x3a, OperandInlineBrTarget},
	{"beq", 0x3b, OperandInlineBrTarget},
	{"bge", 0x3c, OperandInlineBrTarget},
	{"bgt", 0x3d, OperandInlineBrTarget},
	{"ble", 0x3e, OperandInlineBrTarget},
	{"blt", 0x3f, OperandInlineBrTarget},
	{"bne.un", 0x40, OperandInlineBrTarget},
	{"bge.un", 0x41, OperandInlineBrTarget},
	{"bgt.un", 0x42, OperandInlineBrTarget},
	{"ble.un", 0x43, OperandInlineBrTarget},
	{"blt.un", 0x44, OperandInlineBrTarget},
	{"switch", 0x45, OperandInlineSwitch},
	{"ldind.i1", 0x46, OperandInlineNone},
	{"ldind.u1", 0x47, OperandInlineNone},
	{"ldind.i2", 0x48, OperandInlineNone},
	{"ldind.u2", 0x49, OperandInlineNone},
	{"ldind.i4", 0x4a, OperandInlineNone},
	{"ldind.u4", 0x4b, OperandInlineNone},
	{"ldind.i8", 0x4c, OperandInlineNone},
	{"ldind.i", 0x4d, OperandInlineNone},
	{"ldind.r4", 0x4e, OperandInlineNone},
	{"ldind.r8", 0x4f, OperandInlineNone},
	{"ldind.ref", 0x50, OperandInlineNone},
	{"stind.ref", 0x51, OperandInlineNone},
	{"stind.i1", 0x52, OperandInlineNone},
	{"stind.i2", 0x53, OperandInlineNone},
	{"stind.i4", 0x54, OperandInlineNone},
	{"stind.i8", 0x55, OperandInlineNone},
	{"stind.r4", 0x56, OperandInlineNone},
	{"stind.r8", 0x57, OperandInlineNone},
	{"add", 0x58, OperandInlineNone},
	{"sub", 0x59, OperandInlineNone},
	{"mul", 0x5a, OperandInlineNone},
	{"div", 0x5b, OperandInlineNone},
	{"div.un", 0x5c, OperandInlineNone},
	{"rem", 0x5d, OperandInlineNone},
	{"rem.un", 0x5e, OperandInlineNone},
	{"and", 0x5f, OperandInlineNone},
	{"or", 0x60, OperandInlineNone},
	{"xor", 0x61, OperandInlineNone},
	{"shl", 0x62, OperandInlineNone},
	{"shr", 0x63, OperandInlineNone},
	{"shr.un", 0x64, OperandInlineNone},
	{"neg", 0x65, OperandInlineNone},
	{"not", 0x66, OperandInlineNone},
	{"conv.i1", 0x67, OperandInlineNone},
	{"conv.i2", 0x68, OperandInlineNone},
	{"conv.i4", 0x69, OperandInlineNone},
	{"conv.i8", 0x6a, OperandInlineNone},
	{"conv.r4", 0x6b, OperandInlineNone},
	{"conv.r8", 0x6c, OperandInlineNone},
	{"conv.u4", 0x6d, OperandInlineNone},
	{"conv.u8", 0x6e, OperandInlineNone},
	{"callvirt", 0x6f, OperandInlineMethod},
	{"cpobj", 0x70, OperandInlineType},
	{"ldobj", 0x71, OperandInlineType},
	{"ldstr", 0x72, OperandInlineString},
	{"newobj", 0x73, OperandInlineMethod},
	{"castclass", 0x74, OperandInlineType},
	{"isinst", 0x75, OperandInlineType},
	{"conv.r.un", 0x76, OperandInlineNone},
	{"unbox", 0x79, OperandInlineType},
	{"throw", 0x7a, OperandInlineNone},
	{"ldfld", 0x7b, OperandInlineField},
	{"ldflda", 0x7c, OperandInlineField},
	{"stfld", 0x7d, OperandInlineField},
	{"ldsfld", 0x7e, OperandInlineField},
	{"ldsflda", 0x7f, OperandInlineField},
	{"stsfld", 0x80, OperandInlineField},
	{"stobj", 0x81, OperandInlineType},
	{"conv.ovf.i1.un", 0x82, OperandInlineNone},
	{"conv.ovf.i2.un", 0x83, OperandInlineNone},
	{"conv.ovf.i4.un", 0x84, OperandInlineNone},
	{"conv.ovf.i8.un", 0x85, OperandInlineNone},
	{"conv.ovf.u1.un", 0x86, OperandInlineNone},
	{"conv.ovf.u2.un", 0x87, OperandInlineNone},
	{"conv.ovf.u4.un", 0x88, OperandInlineNone},
	{"conv.ovf.u8.un", 0x89, OperandInlineNone},
	{"conv.ovf.i.un", 0x8a, OperandInlineNone},
	{"conv.ovf.u.un", 0x8b, OperandInlineNone},
	{"box", 0x8c, OperandInlineType},
	{"newarr", 0x8d, OperandInlineType},
	{"ldlen", 0x8e, OperandInlineNone},
	{"ldelema", 0x8f, OperandInlineType},
	{"ldelem.i1", 0x90, OperandInlineNone},
	{"ldelem.u1", 0x91, OperandInlineNone},
	{"ldelem.i2", 0x92, OperandInlineNone},
	{"ldelem.u2", 0x93, OperandInlineNone},
	{"ldelem.i4", 0x94, OperandInlineNone},
	{"ldelem.u4", 0x95, OperandInlineNone},
	{"ldelem.i8", 0x96, OperandInlineNone},
	{"ldelem.i", 0x97, OperandInlineNone},
	{"ldelem.r4", 0x98, OperandInlineNone},
	{"ldelem.r8", 0x99, OperandInlineNone},
	{"ldelem.ref", 0x9a, OperandInlineNone},
	{"stelem.i", 0x9b, OperandInlineNone},
	{"stelem.i1", 0x9c, OperandInlineNone},
	{"stelem.i2", 0x9d, OperandInlineNone},
	{"stelem.i4", 0x9e, OperandInlineNone},
	{"stelem.i8", 0x9f, OperandInlineNone},
	{"stelem.r4", 0xa0, OperandInlineNone},
	{"stelem.r8", 0xa1, OperandInlineNone},
	{"stelem.ref", 0xa2, OperandInlineNone},
	{"ldelem.any", 0xa3, OperandInlineType},
	{"stelem.any", 0xa4, OperandInlineType},
	{"unbox.any", 0xa5, OperandInlineType},
	{"conv.ovf.i1", 0xb3, OperandInlineNone},
	{"conv.ovf.u1", 0xb4, OperandInlineNone},
	{"conv.ovf.i2", 0xb5, OperandInlineNone},
	{"conv.ovf.u2", 0xb6, OperandInlineNone},
	{"conv.ovf.i4", 0xb7, OperandInlineNone},
	{"conv.ovf.u4", 0xb8, OperandInlineNone},
	{"conv.ovf.i8", 0xb9, OperandInlineNone},
	{"conv.ovf.u8", 0xba, OperandInlineNone},
	{"refanyval", 0xc2, OperandInlineType},
	{"ckfinite", 0xc3, OperandInlineNone},
	{"mkrefany", 0xc6, OperandInlineType},
	{"ldtoken", 0xd0, OperandInlineTok},
	{"conv.u2", 0xd1, OperandInlineNone},
	{"conv.u1", 0xd2, OperandInlineNone},
	{"conv.i", 0xd3, OperandInlineNone},
	{"conv.ovf.i", 0xd4, OperandInlineNone},
	{"conv.ovf.u", 0xd5, OperandInlineNone},
	{"add.ovf", 0xd6, OperandInlineNone},
	{"add.ovf.un", 0xd7, OperandInlineNone},
	{"mul.ovf", 0xd8, OperandInlineNone},
	{"mul.ovf.un", 0xd9, OperandInlineNone},
	{"sub.ovf", 0xda, OperandInlineNone},
	{"sub.ovf.un", 0xdb, OperandInlineNone},
	{"endfinally", 0xdc, OperandInlineNone},
	{"leave", 0xdd, OperandInlineBrTarget},
	{"leave.s", 0xde, OperandShortInlineBrTarget},
	{"stind.i", 0xdf, OperandInlineNone},
	{"conv.u", 0xe0, OperandInlineNone},
	{"arglist", 0xfe00, OperandInlineNone},
	{"ceq", 0xfe01, OperandInlineNone},
	{"cgt", 0xfe02, OperandInlineNone},
	{"cgt.un", 0xfe03, OperandInlineNone},
	{"clt", 0xfe04, OperandInlineNone},
	{"clt.un", 0xfe05, OperandInlineNone},
	{"ldftn", 0xfe06, OperandInlineMethod},
	{"ldvirtftn", 0xfe07, OperandInlineMethod},
	{"ldarg", 0xfe09, OperandInlineArg},
	{"ldarga", 0xfe0a, OperandInlineArg},
	{"starg", 0xfe0b, OperandInlineArg},
	{"ldloc", 0xfe0c, OperandInlineVar},
	{"ldloca", 0xfe0d, OperandInlineVar},
	{"stloc", 0xfe0e, OperandInlineVar},
	{"localloc", 0xfe0f, OperandInlineNone},
	{"endfilter", 0xfe11, OperandInlineNone},
	{"unaligned.", 0xfe12, OperandShortInlineI},
	{"volatile.", 0xfe13, OperandInlineNone},
	{"tail.", 0xfe14, OperandInlineNone},
	{"initobj", 0xfe15, OperandInlineType},
	{"constrained.", 0xfe16, OperandInlineType},
	{"cpblk", 0xfe17, OperandInlineNone},
	{"initblk", 0xfe18, OperandInlineNone},
	{"no.", 0xfe19, OperandShortInlineI},
	{"rethrow", 0xfe1a, OperandInlineNone},
	{"sizeof", 0xfe1c, OperandInlineType},
	{"refanytype", 0xfe1d, OperandInlineNone},
	{"readonly.", 0xfe1e, OperandInlineNone},
}

var (
	oneByteOpCodes [0x100]*OpCode
	twoByteOpCodes [0x100]*OpCode
	opcodesByName  = make(map[string]*OpCode, len(opcodeList))
)

func init() {
	for i := range opcodeList {
		op := &opcodeList[i]
		if op.Value > 0xff {
			twoByteOpCodes[op.Value&0xff] = op
		} else {
			oneByteOpCodes[op.Value] = op
		}
		opcodesByName[op.Name] = op
	}
}

// LookupOpCode finds an opcode by mnemonic, for example "ldc.i4.s".
func LookupOpCode(name string) (*OpCode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// OpCodes returns every known opcode in encoding order.
func OpCodes() []*OpCode {
	out := make([]*OpCode, len(opcodeList))
	for i := range opcodeList {
		out[i] = &opcodeList[i]
	}
	return out
}
