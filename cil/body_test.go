package cil_test

import (
	"encoding/binary"
	"testing"

	"github.com/dnmd-io/dnmdbuilder/cil"
	"github.com/dnmd-io/dnmdbuilder/sig"
	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/stretchr/testify/require"
)

// fakeProvider resolves operands out of a fixed map and interns strings
// as sequential #US tokens.
type fakeProvider struct {
	tokens   map[any]token.Token
	strings  map[string]uint32
	nextStr  uint32
	localSig token.Token
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		tokens:   make(map[any]token.Token),
		strings:  make(map[string]uint32),
		nextStr:  1,
		localSig: token.New(token.StandAloneSig, 1),
	}
}

func (p *fakeProvider) OperandToken(operand any) (token.Token, error) {
	if tok, ok := p.tokens[operand]; ok {
		return tok, nil
	}
	return 0, cil.ErrInvalidCil
}

func (p *fakeProvider) StringToken(value string) (token.Token, error) {
	idx, ok := p.strings[value]
	if !ok {
		idx = p.nextStr
		p.strings[value] = idx
		p.nextStr += uint32(len(value))
	}
	return token.Token(uint32(token.UserString)<<24 | idx), nil
}

func (p *fakeProvider) LocalVarSigToken(*sig.LocalVarSig) (token.Token, error) {
	return p.localSig, nil
}

type fakeMember struct{ name string }

func TestTinyBodyHelloWorld(t *testing.T) {
	p := newFakeProvider()
	writeLine := &fakeMember{name: "WriteLine"}
	p.tokens[writeLine] = token.New(token.MemberRef, 1)

	body := &cil.Body{
		MaxStack: 8,
		Instructions: []cil.Instruction{
			{Op: cil.OpLdstr, Operand: "Hello"},
			{Op: cil.OpCall, Operand: writeLine},
			{Op: cil.OpRet},
		},
	}
	got, err := cil.Serialize(body, p)
	require.NoError(t, err)

	// 11 code bytes: tiny header (11<<2 | 0x2 = 0x2E).
	require.Equal(t, byte(0x2E), got[0])
	require.Equal(t, byte(0x72), got[1]) // ldstr
	require.Equal(t, uint32(0x70000001), binary.LittleEndian.Uint32(got[2:6]))
	require.Equal(t, byte(0x28), got[6]) // call
	require.Equal(t, uint32(0x0A000001), binary.LittleEndian.Uint32(got[7:11]))
	require.Equal(t, byte(0x2A), got[11]) // ret
	require.Len(t, got, 12)
}

func TestFatBodyWithLocals(t *testing.T) {
	p := newFakeProvider()
	body := &cil.Body{
		MaxStack:   2,
		InitLocals: true,
		Locals: &sig.LocalVarSig{Locals: []sig.LocalSig{
			{Type: sig.Primitive(sig.ElemI4)},
		}},
		Instructions: []cil.Instruction{
			{Op: cil.OpLdcI40},
			{Op: cil.OpStloc0},
			{Op: cil.OpLdloc0},
			{Op: cil.OpRet},
		},
	}
	got, err := cil.Serialize(body, p)
	require.NoError(t, err)

	flags := binary.LittleEndian.Uint16(got[0:2])
	require.Equal(t, uint16(0x3013), flags) // fat | init locals | size 3 dwords
	require.Equal(t, uint16(8), binary.LittleEndian.Uint16(got[2:4]))
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(got[4:8]))
	require.Equal(t, uint32(0x11000001), binary.LittleEndian.Uint32(got[8:12]))
	require.Equal(t, []byte{0x16, 0x0A, 0x06, 0x2A}, got[12:16])
}

func TestFatBodyExceptionSection(t *testing.T) {
	p := newFakeProvider()
	exType := &fakeMember{name: "Exception"}
	p.tokens[exType] = token.New(token.TypeRef, 7)

	// leave.s to ret after the handler; offsets hand-laid.
	body := &cil.Body{
		MaxStack: 1,
		Instructions: []cil.Instruction{
			{Op: cil.OpNop},                       // 0
			{Op: cil.OpLeaveS, Operand: int32(3)}, // 1..2
			{Op: cil.OpPop},                       // 3
			{Op: cil.OpLeaveS, Operand: int32(0)}, // 4..5
			{Op: cil.OpRet},                       // 6
		},
		Handlers: []cil.ExceptionHandler{{
			Kind:          cil.HandlerCatch,
			TryOffset:     0,
			TryLength:     3,
			HandlerOffset: 3,
			HandlerLength: 3,
			CatchType:     exType,
		}},
	}
	got, err := cil.Serialize(body, p)
	require.NoError(t, err)

	flags := binary.LittleEndian.Uint16(got[0:2])
	require.Equal(t, uint16(0x300B), flags) // fat | more sects

	codeSize := binary.LittleEndian.Uint32(got[4:8])
	require.Equal(t, uint32(7), codeSize)

	// Section starts 4-aligned after 12-byte header + 7 code bytes = 19 -> 20.
	sect := got[20:]
	require.Equal(t, byte(0x01), sect[0]) // small EH table
	require.Equal(t, byte(12+4), sect[1]) // data size
	clause := sect[4:16]
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(clause[0:2])) // catch
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(clause[2:4]))
	require.Equal(t, byte(3), clause[4])
	require.Equal(t, uint16(3), binary.LittleEndian.Uint16(clause[5:7]))
	require.Equal(t, byte(3), clause[7])
	require.Equal(t, uint32(0x01000007), binary.LittleEndian.Uint32(clause[8:12]))
}

func TestLargeCodeUsesFatHeader(t *testing.T) {
	p := newFakeProvider()
	instrs := make([]cil.Instruction, 64)
	for i := range instrs {
		instrs[i] = cil.Instruction{Op: cil.OpNop}
	}
	instrs = append(instrs, cil.Instruction{Op: cil.OpRet})

	got, err := cil.Serialize(&cil.Body{MaxStack: 0, Instructions: instrs}, p)
	require.NoError(t, err)
	require.Equal(t, uint16(0x3003), binary.LittleEndian.Uint16(got[0:2]))
	require.Equal(t, uint32(65), binary.LittleEndian.Uint32(got[4:8]))
}

func TestTwoByteOpcodeEncoding(t *testing.T) {
	p := newFakeProvider()
	got, err := cil.Serialize(&cil.Body{
		MaxStack: 2,
		Instructions: []cil.Instruction{
			{Op: cil.OpCeq},
			{Op: cil.OpRet},
		},
	}, p)
	require.NoError(t, err)
	require.Equal(t, []byte{0x0E, 0xFE, 0x01, 0x2A}, got)
}

func TestOperandTypeMismatchIsInvalidCil(t *testing.T) {
	p := newFakeProvider()
	_, err := cil.Serialize(&cil.Body{
		Instructions: []cil.Instruction{
			{Op: cil.OpLdcI4, Operand: "not an int"},
		},
	}, p)
	require.ErrorIs(t, err, cil.ErrInvalidCil)
}

func TestUndefinedOpcodeIsInvalidCil(t *testing.T) {
	p := newFakeProvider()
	_, err := cil.Serialize(&cil.Body{
		Instructions: []cil.Instruction{
			{Op: cil.Opcode(0xE7)},
		},
	}, p)
	require.ErrorIs(t, err, cil.ErrInvalidCil)
}

func TestShortBranchDisplacementRange(t *testing.T) {
	p := newFakeProvider()
	_, err := cil.Serialize(&cil.Body{
		Instructions: []cil.Instruction{
			{Op: cil.OpBrS, Operand: int32(200)},
		},
	}, p)
	require.ErrorIs(t, err, cil.ErrInvalidCil)
}
