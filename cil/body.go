package cil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dnmd-io/dnmdbuilder/sig"
	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/dnmd-io/dnmdbuilder/utils"
)

// ErrInvalidCil marks a method body the serializer cannot express: an
// undefined opcode, or an operand value whose Go type does not match the
// opcode's operand kind.
var ErrInvalidCil = errors.New("invalid CIL")

// TokenProvider is the back-edge into the directory builder: it resolves
// the source-graph object an instruction operand names into the final
// metadata token, importing the object on first sight. ldstr goes through
// StringToken and receives a #US-heap pseudo-token (tag 0x70); a body
// with locals gets its StandAloneSig token through LocalVarSigToken.
type TokenProvider interface {
	OperandToken(operand any) (token.Token, error)
	StringToken(value string) (token.Token, error)
	LocalVarSigToken(locals *sig.LocalVarSig) (token.Token, error)
}

// Instruction is one CIL instruction. The operand's Go type must match
// the opcode's operand kind:
//
//	OperandNone                  nil
//	OperandInt8                  int8
//	OperandUInt8                 uint8
//	OperandInt32                 int32
//	OperandInt64                 int64
//	OperandFloat32               float32
//	OperandFloat64               float64
//	OperandBranch8/Branch32      int32 (displacement from the end of the instruction)
//	OperandSwitch                []int32
//	OperandVar8                  uint8
//	OperandVar16                 uint16
//	OperandToken                 any source-graph object the TokenProvider accepts
//	OperandString                string
//
// Branch displacements arrive precomputed: short/long form selection is
// an upstream fixed-point optimization, and the emitter honors whatever
// form each instruction already carries.
type Instruction struct {
	Op      Opcode
	Operand any
}

// HandlerKind is the clause-flags value of an exception handler
// (§II.25.4.6).
type HandlerKind uint16

const (
	HandlerCatch   HandlerKind = 0x0
	HandlerFilter  HandlerKind = 0x1
	HandlerFinally HandlerKind = 0x2
	HandlerFault   HandlerKind = 0x4
)

// ExceptionHandler is one protected region of a method body. Offsets and
// lengths are in code bytes. CatchType is consulted only for
// HandlerCatch; FilterOffset only for HandlerFilter.
type ExceptionHandler struct {
	Kind          HandlerKind
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	CatchType     any
	FilterOffset  uint32
}

// Body is a method's CIL stream plus everything the header and trailing
// exception section need.
type Body struct {
	MaxStack     uint16
	InitLocals   bool
	Locals       *sig.LocalVarSig
	Instructions []Instruction
	Handlers     []ExceptionHandler
}

// Method-header flag bits (§II.25.4).
const (
	flagTiny       = 0x2
	flagFat        = 0x3
	flagMoreSects  = 0x8
	flagInitLocals = 0x10
)

// Exception-section kind bits (§II.25.4.5).
const (
	sectEHTable   = 0x01
	sectFatFormat = 0x40
)

// Serialize emits the complete method body: tiny or fat header, code
// with token fixups, and the aligned exception section when handlers are
// present. The result is positioned by the caller; all offsets inside
// are body-relative.
func Serialize(b *Body, provider TokenProvider) ([]byte, error) {
	code, err := encodeCode(b.Instructions, provider)
	if err != nil {
		return nil, err
	}

	tiny := len(code) < 64 && b.Locals == nil && len(b.Handlers) == 0 && b.MaxStack <= 8
	if tiny {
		out := make([]byte, 0, 1+len(code))
		out = append(out, byte(len(code)<<2|flagTiny))
		return append(out, code...), nil
	}

	var localSig token.Token
	if b.Locals != nil {
		localSig, err = provider.LocalVarSigToken(b.Locals)
		if err != nil {
			return nil, err
		}
	}

	flags := uint16(flagFat)
	if b.InitLocals {
		flags |= flagInitLocals
	}
	if len(b.Handlers) > 0 {
		flags |= flagMoreSects
	}

	var out bytes.Buffer
	var hdr [12]byte
	binary.LittleEndian.PutUint16(hdr[0:], flags|3<<12) // header size in dwords
	binary.LittleEndian.PutUint16(hdr[2:], utils.Max(b.MaxStack, 8))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(code)))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(localSig))
	out.Write(hdr[:])
	out.Write(code)

	if len(b.Handlers) > 0 {
		for out.Len() < utils.AlignUp(out.Len(), 4) {
			out.WriteByte(0)
		}
		section, err := encodeHandlers(b.Handlers, provider)
		if err != nil {
			return nil, err
		}
		out.Write(section)
	}

	return out.Bytes(), nil
}

func encodeCode(instrs []Instruction, provider TokenProvider) ([]byte, error) {
	var out bytes.Buffer
	for i, ins := range instrs {
		kind, ok := ins.Op.OperandKind()
		if !ok {
			return nil, fmt.Errorf("cil: instruction %d: undefined opcode 0x%04X: %w", i, uint16(ins.Op), ErrInvalidCil)
		}
		if ins.Op.size() == 2 {
			out.WriteByte(0xFE)
		}
		out.WriteByte(byte(ins.Op))

		if err := encodeOperand(&out, ins, kind, provider); err != nil {
			return nil, fmt.Errorf("cil: instruction %d (%s): %w", i, ins.Op, err)
		}
	}
	return out.Bytes(), nil
}

func encodeOperand(out *bytes.Buffer, ins Instruction, kind OperandKind, provider TokenProvider) error {
	badOperand := func() error {
		return fmt.Errorf("operand %T does not fit the opcode's operand kind: %w", ins.Operand, ErrInvalidCil)
	}

	switch kind {
	case OperandNone:
		if ins.Operand != nil {
			return badOperand()
		}
	case OperandInt8:
		v, ok := ins.Operand.(int8)
		if !ok {
			return badOperand()
		}
		out.WriteByte(byte(v))
	case OperandUInt8:
		v, ok := ins.Operand.(uint8)
		if !ok {
			return badOperand()
		}
		out.WriteByte(v)
	case OperandInt32:
		v, ok := ins.Operand.(int32)
		if !ok {
			return badOperand()
		}
		writeU32(out, uint32(v))
	case OperandInt64:
		v, ok := ins.Operand.(int64)
		if !ok {
			return badOperand()
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		out.Write(b[:])
	case OperandFloat32:
		v, ok := ins.Operand.(float32)
		if !ok {
			return badOperand()
		}
		writeU32(out, math.Float32bits(v))
	case OperandFloat64:
		v, ok := ins.Operand.(float64)
		if !ok {
			return badOperand()
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		out.Write(b[:])
	case OperandBranch8:
		v, ok := ins.Operand.(int32)
		if !ok {
			return badOperand()
		}
		if v < -128 || v > 127 {
			return fmt.Errorf("short branch displacement %d out of range: %w", v, ErrInvalidCil)
		}
		out.WriteByte(byte(int8(v)))
	case OperandBranch32:
		v, ok := ins.Operand.(int32)
		if !ok {
			return badOperand()
		}
		writeU32(out, uint32(v))
	case OperandSwitch:
		targets, ok := ins.Operand.([]int32)
		if !ok {
			return badOperand()
		}
		writeU32(out, uint32(len(targets)))
		for _, t := range targets {
			writeU32(out, uint32(t))
		}
	case OperandVar8:
		v, ok := ins.Operand.(uint8)
		if !ok {
			return badOperand()
		}
		out.WriteByte(v)
	case OperandVar16:
		v, ok := ins.Operand.(uint16)
		if !ok {
			return badOperand()
		}
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		out.Write(b[:])
	case OperandString:
		s, ok := ins.Operand.(string)
		if !ok {
			return badOperand()
		}
		tok, err := provider.StringToken(s)
		if err != nil {
			return err
		}
		writeU32(out, uint32(tok))
	case OperandToken:
		if ins.Operand == nil {
			return badOperand()
		}
		tok, err := provider.OperandToken(ins.Operand)
		if err != nil {
			return err
		}
		writeU32(out, uint32(tok))
	default:
		return badOperand()
	}
	return nil
}

// encodeHandlers emits one exception-handler section, small form when
// every clause fits (§II.25.4.5: data size in one byte, try offsets in
// u16, lengths in u8), fat form otherwise.
func encodeHandlers(handlers []ExceptionHandler, provider TokenProvider) ([]byte, error) {
	classToken := func(h ExceptionHandler) (uint32, error) {
		switch h.Kind {
		case HandlerCatch:
			tok, err := provider.OperandToken(h.CatchType)
			if err != nil {
				return 0, err
			}
			return uint32(tok), nil
		case HandlerFilter:
			return h.FilterOffset, nil
		default:
			return 0, nil
		}
	}

	small := len(handlers)*12+4 <= 0xFF
	for _, h := range handlers {
		if h.TryOffset > 0xFFFF || h.TryLength > 0xFF || h.HandlerOffset > 0xFFFF || h.HandlerLength > 0xFF {
			small = false
		}
	}

	var out bytes.Buffer
	if small {
		out.WriteByte(sectEHTable)
		out.WriteByte(byte(len(handlers)*12 + 4))
		out.WriteByte(0)
		out.WriteByte(0)
		for _, h := range handlers {
			var clause [12]byte
			binary.LittleEndian.PutUint16(clause[0:], uint16(h.Kind))
			binary.LittleEndian.PutUint16(clause[2:], uint16(h.TryOffset))
			clause[4] = byte(h.TryLength)
			binary.LittleEndian.PutUint16(clause[5:], uint16(h.HandlerOffset))
			clause[7] = byte(h.HandlerLength)
			ct, err := classToken(h)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(clause[8:], ct)
			out.Write(clause[:])
		}
		return out.Bytes(), nil
	}

	dataSize := uint32(len(handlers)*24 + 4)
	out.WriteByte(sectEHTable | sectFatFormat)
	out.WriteByte(byte(dataSize))
	out.WriteByte(byte(dataSize >> 8))
	out.WriteByte(byte(dataSize >> 16))
	for _, h := range handlers {
		var clause [24]byte
		binary.LittleEndian.PutUint32(clause[0:], uint32(h.Kind))
		binary.LittleEndian.PutUint32(clause[4:], h.TryOffset)
		binary.LittleEndian.PutUint32(clause[8:], h.TryLength)
		binary.LittleEndian.PutUint32(clause[12:], h.HandlerOffset)
		binary.LittleEndian.PutUint32(clause[16:], h.HandlerLength)
		ct, err := classToken(h)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(clause[20:], ct)
		out.Write(clause[:])
	}
	return out.Bytes(), nil
}

func writeU32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	out.Write(b[:])
}
