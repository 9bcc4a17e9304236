package metadata

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	bodyTinyFormat = 0x2
	bodyFatFormat  = 0x3
	bodyMoreSects  = 0x8
	bodyInitLocals = 0x10

	sectEHTable   = 0x1
	sectFatFormat = 0x40
	sectMoreSects = 0x80
)

// MethodBody is the decoded IL of a method.
type MethodBody struct {
	Method            *MethodDefinition
	MaxStack          int
	CodeSize          int
	InitLocals        bool
	LocalVarToken     Token
	Variables         []*VariableDefinition
	Instructions      []*Instruction
	ExceptionHandlers []*ExceptionHandler
}

// VariableDefinition is a local variable slot.
type VariableDefinition struct {
	Index        int
	VariableType Type
}

func (v *VariableDefinition) String() string { return "V_" + strconv.Itoa(v.Index) }

// Label is a branch target offset.
type Label int

func (l Label) String() string { return fmt.Sprintf("IL_%04x", int(l)) }

// Instruction is one decoded IL instruction.
type Instruction struct {
	Offset  int
	OpCode  *OpCode
	Operand interface{}
}

// String formats the instruction as "IL_0000: mnemonic operand".
func (i *Instruction) String() string {
	s := Label(i.Offset).String() + ": " + i.OpCode.Name
	if i.Operand == nil {
		return s
	}
	return s + " " + FormatOperand(i.Operand)
}

// FormatOperand renders an operand the way an IL listing shows it.
func FormatOperand(v interface{}) string {
	switch o := v.(type) {
	case Label:
		return o.String()
	case []Label:
		parts := make([]string, len(o))
		for i, l := range o {
			parts[i] = l.String()
		}
		return strings.Join(parts, ",")
	case string:
		return quoteIL(o)
	case float32:
		return strconv.FormatFloat(float64(o), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(o, 'g', -1, 64)
	case Type:
		return o.FullName()
	case fmt.Stringer:
		return o.String()
	}
	return fmt.Sprint(v)
}

func quoteIL(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

type ExceptionHandlerKind int

const (
	HandlerCatch   ExceptionHandlerKind = 0
	HandlerFilter  ExceptionHandlerKind = 1
	HandlerFinally ExceptionHandlerKind = 2
	HandlerFault   ExceptionHandlerKind = 4
)

// ExceptionHandler is one protected region. Offsets are IL offsets; End
// offsets are exclusive.
type ExceptionHandler struct {
	Kind         ExceptionHandlerKind
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	FilterStart  int
	CatchType    Type
}

func (r *moduleReader) readBody(m *MethodDefinition) (*MethodBody, error) {
	img := r.img
	head, err := img.readRVA(m.RVA, 1)
	if err != nil {
		return nil, err
	}
	body := &MethodBody{Method: m}
	var (
		codeRVA uint32
		flags   uint16
	)
	switch head[0] & 0x3 {
	case bodyTinyFormat:
		body.MaxStack = 8
		body.CodeSize = int(head[0] >> 2)
		codeRVA = m.RVA + 1
	case bodyFatFormat:
		hdr, err := img.readRVA(m.RVA, 12)
		if err != nil {
			return nil, err
		}
		flags = binary.LittleEndian.Uint16(hdr) & 0x0fff
		size := uint32(hdr[1]>>4) * 4
		if size < 12 {
			return nil, formatErr("method %s has a fat header of %d bytes", m.Name, size)
		}
		body.MaxStack = int(binary.LittleEndian.Uint16(hdr[2:]))
		body.CodeSize = int(binary.LittleEndian.Uint32(hdr[4:]))
		body.LocalVarToken = Token(binary.LittleEndian.Uint32(hdr[8:]))
		body.InitLocals = flags&bodyInitLocals != 0
		codeRVA = m.RVA + size
	default:
		return nil, formatErr("method %s has an invalid body header 0x%02x", m.Name, head[0])
	}

	ctx := r.methodContext(m)
	if body.LocalVarToken != 0 {
		vars, err := r.readLocals(body.LocalVarToken, ctx)
		if err != nil {
			return nil, err
		}
		body.Variables = vars
	}

	code, err := img.readRVA(codeRVA, uint32(body.CodeSize))
	if err != nil {
		return nil, err
	}
	if err := r.decodeInstructions(code, m, body, ctx); err != nil {
		return nil, err
	}
	if flags&bodyMoreSects != 0 {
		sectRVA := (codeRVA + uint32(body.CodeSize) + 3) &^ 3
		if err := r.readSections(sectRVA, body, ctx); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (r *moduleReader) readLocals(tok Token, ctx genericContext) ([]*VariableDefinition, error) {
	if tok.Table() != TableStandAloneSig {
		return nil, formatErr("local signature token %s is not a StandAloneSig", tok)
	}
	t := r.img.table(TableStandAloneSig)
	if tok.RID() == 0 || tok.RID() > r.img.rowCount(TableStandAloneSig) {
		return nil, formatErr("local signature token %s out of range", tok)
	}
	b, err := r.img.blob(t.get(tok.RID(), 0))
	if err != nil {
		return nil, err
	}
	br := newBlobReader(r, b, ctx)
	types := br.readLocalsSig()
	if br.err != nil {
		return nil, br.err
	}
	vars := make([]*VariableDefinition, len(types))
	for i, vt := range types {
		vars[i] = &VariableDefinition{Index: i, VariableType: vt}
	}
	return vars, nil
}

func (r *moduleReader) decodeInstructions(code []byte, m *MethodDefinition, body *MethodBody, ctx genericContext) error {
	br := newBlobReader(r, code, ctx)
	for br.remaining() > 0 && br.err == nil {
		ins := &Instruction{Offset: br.pos}
		b := br.byte()
		if b == 0xfe {
			ins.OpCode = twoByteOpCodes[br.byte()]
		} else {
			ins.OpCode = oneByteOpCodes[b]
		}
		if br.err != nil {
			break
		}
		if ins.OpCode == nil {
			return formatErr("unknown opcode at IL_%04x in %s", ins.Offset, m.Name)
		}
		operand, err := r.readOperand(br, ins.OpCode, m, body, ctx)
		if err != nil {
			return errorsAt(err, m, ins.Offset)
		}
		ins.Operand = operand
		body.Instructions = append(body.Instructions, ins)
	}
	return br.err
}

func errorsAt(err error, m *MethodDefinition, offset int) error {
	return fmt.Errorf("%s at IL_%04x: %w", m.Name, offset, err)
}

func (r *moduleReader) readOperand(br *blobReader, op *OpCode, m *MethodDefinition, body *MethodBody, ctx genericContext) (interface{}, error) {
	switch op.Operand {
	case OperandInlineNone:
		return nil, nil
	case OperandShortInlineBrTarget:
		d := int8(br.byte())
		return Label(br.pos + int(d)), br.err
	case OperandInlineBrTarget:
		d := int32(br.u32())
		return Label(br.pos + int(d)), br.err
	case OperandShortInlineI:
		if op.Name == "ldc.i4.s" {
			return int8(br.byte()), br.err
		}
		return br.byte(), br.err
	case OperandInlineI:
		return int32(br.u32()), br.err
	case OperandInlineI8:
		return int64(br.u64()), br.err
	case OperandShortInlineR:
		return br.f32(), br.err
	case OperandInlineR:
		return br.f64(), br.err
	case OperandInlineSwitch:
		n := br.u32()
		if br.err != nil {
			return nil, br.err
		}
		if uint64(n)*4 > uint64(br.remaining()) {
			return nil, formatErr("switch table of %d entries exceeds method body", n)
		}
		base := br.pos + int(n)*4
		labels := make([]Label, n)
		for i := range labels {
			labels[i] = Label(base + int(int32(br.u32())))
		}
		return labels, br.err
	case OperandShortInlineVar:
		return variableOperand(body, int(br.byte())), br.err
	case OperandInlineVar:
		return variableOperand(body, int(br.u16())), br.err
	case OperandShortInlineArg:
		return argumentOperand(m, int(br.byte())), br.err
	case OperandInlineArg:
		return argumentOperand(m, int(br.u16())), br.err
	case OperandInlineString:
		tok := Token(br.u32())
		if br.err != nil {
			return nil, br.err
		}
		if tok.Table() != tokenString {
			return nil, formatErr("ldstr token %s is not a user string", tok)
		}
		return r.img.userString(tok.RID())
	case OperandInlineSig:
		tok := Token(br.u32())
		if br.err != nil {
			return nil, br.err
		}
		return r.callSite(tok, ctx)
	case OperandInlineMethod, OperandInlineField, OperandInlineType, OperandInlineTok:
		tok := Token(br.u32())
		if br.err != nil {
			return nil, br.err
		}
		return r.memberFromToken(tok, ctx)
	}
	return nil, formatErr("unsupported operand type %d", op.Operand)
}

func variableOperand(body *MethodBody, index int) interface{} {
	if index < len(body.Variables) {
		return body.Variables[index]
	}
	return index
}

func argumentOperand(m *MethodDefinition, index int) interface{} {
	if m.HasThis {
		if index == 0 {
			return m.ThisParameter()
		}
		index--
	}
	if index < len(m.Parameters) {
		return m.Parameters[index]
	}
	return index
}

func (r *moduleReader) readSections(rva uint32, body *MethodBody, ctx genericContext) error {
	for {
		head, err := r.img.readRVA(rva, 4)
		if err != nil {
			return err
		}
		kind := head[0]
		fat := kind&sectFatFormat != 0
		var size uint32
		if fat {
			size = uint32(head[1]) | uint32(head[2])<<8 | uint32(head[3])<<16
		} else {
			size = uint32(head[1])
		}
		if size < 4 {
			return formatErr("method %s has an empty extra data section", body.Method.Name)
		}
		data, err := r.img.readRVA(rva, size)
		if err != nil {
			return err
		}
		if kind&sectEHTable != 0 {
			if err := r.readHandlers(data[4:], fat, body, ctx); err != nil {
				return err
			}
		}
		if kind&sectMoreSects == 0 {
			return nil
		}
		rva = (rva + size + 3) &^ 3
	}
}

func (r *moduleReader) readHandlers(data []byte, fat bool, body *MethodBody, ctx genericContext) error {
	br := newBlobReader(r, data, ctx)
	clause := 12
	if fat {
		clause = 24
	}
	for i := 0; i < len(data)/clause; i++ {
		h := &ExceptionHandler{}
		var tok uint32
		if fat {
			h.Kind = ExceptionHandlerKind(br.u32())
			h.TryStart = int(br.u32())
			h.TryEnd = h.TryStart + int(br.u32())
			h.HandlerStart = int(br.u32())
			h.HandlerEnd = h.HandlerStart + int(br.u32())
		} else {
			h.Kind = ExceptionHandlerKind(br.u16())
			h.TryStart = int(br.u16())
			h.TryEnd = h.TryStart + int(br.byte())
			h.HandlerStart = int(br.u16())
			h.HandlerEnd = h.HandlerStart + int(br.byte())
		}
		tok = br.u32()
		if br.err != nil {
			return br.err
		}
		switch h.Kind {
		case HandlerCatch:
			t, err := r.typeFromToken(Token(tok), ctx)
			if err != nil {
				return err
			}
			h.CatchType = t
		case HandlerFilter:
			h.FilterStart = int(tok)
		}
		body.ExceptionHandlers = append(body.ExceptionHandlers, h)
	}
	return nil
}
