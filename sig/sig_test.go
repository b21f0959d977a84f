package sig_test

import (
	"testing"

	"github.com/dnmd-io/dnmdbuilder/sig"
	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/stretchr/testify/require"
)

// fakeResolver hands out fixed tokens per object, the way the directory
// builder memoizes imports.
type fakeResolver struct {
	tokens map[any]token.Token
}

func (r *fakeResolver) TypeToken(obj any) (token.Token, error) {
	tok, ok := r.tokens[obj]
	if !ok {
		return 0, sig.ErrInvalidSignature
	}
	return tok, nil
}

type namedType struct{ name string }

func TestEncodeFieldSigPrimitive(t *testing.T) {
	got, err := sig.EncodeFieldSig(&sig.FieldSig{Type: sig.Primitive(sig.ElemI4)}, &fakeResolver{})
	require.NoError(t, err)
	// FIELD calling convention, ELEMENT_TYPE_I4
	require.Equal(t, []byte{0x06, 0x08}, got)
}

func TestEncodeMethodSigStaticStringArg(t *testing.T) {
	// static void M(string): DEFAULT, 1 param, VOID return, STRING param.
	s := &sig.MethodSig{
		CallConv: sig.CallConvDefault,
		Return:   sig.Void(),
		Params:   []sig.ParamSig{{Type: sig.Primitive(sig.ElemString)}},
	}
	got, err := sig.EncodeMethodSig(s, &fakeResolver{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x01, 0x01, 0x0E}, got)
}

func TestEncodeMethodSigInstanceByRef(t *testing.T) {
	s := &sig.MethodSig{
		CallConv: sig.CallConvHasThis,
		Return:   sig.ParamSig{Type: sig.Primitive(sig.ElemI4)},
		Params:   []sig.ParamSig{{ByRef: true, Type: sig.Primitive(sig.ElemI8)}},
	}
	got, err := sig.EncodeMethodSig(s, &fakeResolver{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x20, 0x01, 0x08, 0x10, 0x0A}, got)
}

func TestEncodeClassSigUsesTypeDefOrRefCodedIndex(t *testing.T) {
	console := &namedType{name: "Console"}
	res := &fakeResolver{tokens: map[any]token.Token{
		console: token.New(token.TypeRef, 3),
	}}

	got, err := sig.EncodeTypeSpec(&sig.ClassSig{Type: console}, res)
	require.NoError(t, err)
	// CLASS, coded index (3 << 2 | 1 = 0x0D) as a one-byte compressed uint.
	require.Equal(t, []byte{0x12, 0x0D}, got)
}

func TestEncodeGenericInst(t *testing.T) {
	box := &namedType{name: "Box"}
	res := &fakeResolver{tokens: map[any]token.Token{
		box: token.New(token.TypeDef, 2),
	}}

	got, err := sig.EncodeTypeSpec(&sig.GenericInstSig{
		Type: box,
		Args: []sig.TypeSig{&sig.GenericParamSig{Number: 0}},
	}, res)
	require.NoError(t, err)
	// GENERICINST CLASS TypeDef[2] (2<<2|0 = 8), 1 arg, VAR 0
	require.Equal(t, []byte{0x15, 0x12, 0x08, 0x01, 0x13, 0x00}, got)
}

func TestEncodeLocalVarSigPinnedByRef(t *testing.T) {
	s := &sig.LocalVarSig{Locals: []sig.LocalSig{
		{Type: sig.Primitive(sig.ElemI4)},
		{Pinned: true, ByRef: true, Type: sig.Primitive(sig.ElemU1)},
	}}
	got, err := sig.EncodeLocalVarSig(s, &fakeResolver{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x07, 0x02, 0x08, 0x45, 0x10, 0x05}, got)
}

func TestEncodeArraySig(t *testing.T) {
	got, err := sig.EncodeTypeSpec(&sig.ArraySig{
		Elem:     sig.Primitive(sig.ElemI4),
		Rank:     2,
		Sizes:    []uint32{3, 4},
		LoBounds: []int32{0, -1},
	}, &fakeResolver{})
	require.NoError(t, err)
	// ARRAY I4 rank=2 numSizes=2 3 4 numLoBounds=2 0 -1(signed compressed: 0x7F)
	require.Equal(t, []byte{0x14, 0x08, 0x02, 0x02, 0x03, 0x04, 0x02, 0x00, 0x7F}, got)
}

func TestEncodeVarargSentinel(t *testing.T) {
	s := &sig.MethodSig{
		CallConv:     sig.CallConvVararg,
		Return:       sig.Void(),
		Params:       []sig.ParamSig{{Type: sig.Primitive(sig.ElemI4)}},
		VarargParams: []sig.ParamSig{{Type: sig.Primitive(sig.ElemR8)}},
	}
	got, err := sig.EncodeMethodSig(s, &fakeResolver{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x02, 0x01, 0x08, 0x41, 0x0D}, got)
}

func TestGenericMethodSigCarriesGenericFlagAndCount(t *testing.T) {
	s := &sig.MethodSig{
		CallConv:          sig.CallConvDefault,
		GenericParamCount: 1,
		Return:            sig.ParamSig{Type: &sig.GenericParamSig{Method: true, Number: 0}},
	}
	got, err := sig.EncodeMethodSig(s, &fakeResolver{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x01, 0x00, 0x1E, 0x00}, got)
}

func TestCyclicSharedNodeIsRejected(t *testing.T) {
	loop := &sig.SZArraySig{}
	loop.Elem = loop
	_, err := sig.EncodeTypeSpec(loop, &fakeResolver{})
	require.ErrorIs(t, err, sig.ErrInvalidSignature)
}

func TestNonPrimitiveElementIsRejected(t *testing.T) {
	_, err := sig.EncodeFieldSig(&sig.FieldSig{Type: sig.Primitive(sig.ElemEnd)}, &fakeResolver{})
	require.ErrorIs(t, err, sig.ErrInvalidSignature)
}
