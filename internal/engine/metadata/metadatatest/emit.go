package metadatatest

import (
	"encoding/binary"
	"fmt"
	"math"

	"ilview/internal/engine/metadata"
)

// Emitter assembles IL by mnemonic. Branch targets are absolute IL offsets.
type Emitter struct {
	b   *Builder
	buf []byte
}

// IL starts an instruction stream whose ldstr operands go to b's #US heap.
func (b *Builder) IL() *Emitter { return &Emitter{b: b} }

// Offset is the position of the next instruction.
func (e *Emitter) Offset() int { return len(e.buf) }

// Op appends one instruction. It panics on an unknown mnemonic or an operand
// of the wrong kind.
func (e *Emitter) Op(name string, operand ...interface{}) *Emitter {
	op, ok := metadata.LookupOpCode(name)
	if !ok {
		panic("metadatatest: unknown opcode " + name)
	}
	if op.Value > 0xff {
		e.buf = append(e.buf, 0xfe, byte(op.Value))
	} else {
		e.buf = append(e.buf, byte(op.Value))
	}
	var arg interface{}
	if len(operand) > 0 {
		arg = operand[0]
	}
	le := binary.LittleEndian
	switch op.Operand {
	case metadata.OperandInlineNone:
	case metadata.OperandShortInlineBrTarget:
		e.buf = append(e.buf, byte(int8(toInt(arg)-(len(e.buf)+1))))
	case metadata.OperandInlineBrTarget:
		e.buf = le.AppendUint32(e.buf, uint32(int32(toInt(arg)-(len(e.buf)+4))))
	case metadata.OperandShortInlineI, metadata.OperandShortInlineVar, metadata.OperandShortInlineArg:
		e.buf = append(e.buf, byte(toInt(arg)))
	case metadata.OperandInlineVar, metadata.OperandInlineArg:
		e.buf = le.AppendUint16(e.buf, uint16(toInt(arg)))
	case metadata.OperandInlineI:
		e.buf = le.AppendUint32(e.buf, uint32(int32(toInt(arg))))
	case metadata.OperandInlineI8:
		e.buf = le.AppendUint64(e.buf, uint64(int64(toInt(arg))))
	case metadata.OperandShortInlineR:
		e.buf = le.AppendUint32(e.buf, math.Float32bits(float32(toFloat(arg))))
	case metadata.OperandInlineR:
		e.buf = le.AppendUint64(e.buf, math.Float64bits(toFloat(arg)))
	case metadata.OperandInlineString:
		s, ok := arg.(string)
		if !ok {
			panic("metadatatest: ldstr needs a string operand")
		}
		e.buf = le.AppendUint32(e.buf, e.b.UserString(s))
	case metadata.OperandInlineSwitch:
		targets, ok := arg.([]int)
		if !ok {
			panic("metadatatest: switch needs []int targets")
		}
		e.buf = le.AppendUint32(e.buf, uint32(len(targets)))
		base := len(e.buf) + 4*len(targets)
		for _, t := range targets {
			e.buf = le.AppendUint32(e.buf, uint32(int32(t-base)))
		}
	default:
		tok, ok := arg.(uint32)
		if !ok {
			panic(fmt.Sprintf("metadatatest: %s needs a uint32 token", name))
		}
		e.buf = le.AppendUint32(e.buf, tok)
	}
	return e
}

func (e *Emitter) Bytes() []byte { return e.buf }

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint32:
		return int(n)
	}
	panic(fmt.Sprintf("metadatatest: operand %v is not an integer", v))
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	}
	panic(fmt.Sprintf("metadatatest: operand %v is not a float", v))
}
