package token_test

import (
	"testing"

	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/stretchr/testify/require"
)

func TestTagBits(t *testing.T) {
	require.Equal(t, uint(2), token.TypeDefOrRef.TagBits())
	require.Equal(t, uint(5), token.HasCustomAttribute.TagBits())
	require.Equal(t, uint(1), token.HasFieldMarshal.TagBits())
	require.Equal(t, uint(3), token.MemberRefParent.TagBits())
	require.Equal(t, uint(3), token.CustomAttributeType.TagBits())
	require.Equal(t, uint(1), token.TypeOrMethodDef.TagBits())
}

func TestCodedIndexRoundTrip(t *testing.T) {
	cases := []struct {
		cat token.Category
		tok token.Token
	}{
		{token.TypeDefOrRef, token.New(token.TypeRef, 7)},
		{token.TypeDefOrRef, token.New(token.TypeSpec, 1)},
		{token.HasCustomAttribute, token.New(token.Assembly, 1)},
		{token.HasCustomAttribute, token.New(token.MethodDef, 0xFFFF)},
		{token.MemberRefParent, token.New(token.TypeRef, 3)},
		{token.ResolutionScope, token.New(token.AssemblyRef, 4)},
	}
	for _, c := range cases {
		ci := token.NewCodedIndex(c.cat)
		encoded, err := ci.Encode(c.tok)
		require.NoError(t, err)
		decoded, err := ci.Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, c.tok, decoded)
	}
}

func TestCodedIndexNullEncodesZero(t *testing.T) {
	ci := token.NewCodedIndex(token.TypeDefOrRef)
	v, err := ci.Encode(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), v)

	tok, err := ci.Decode(0)
	require.NoError(t, err)
	require.True(t, tok.IsNull())
}

func TestCodedIndexRejectsForeignTable(t *testing.T) {
	ci := token.NewCodedIndex(token.HasFieldMarshal)
	_, err := ci.Encode(token.New(token.TypeDef, 1))
	require.Error(t, err)
}

func TestNeedsWideField(t *testing.T) {
	var rows [token.MaxTableIndex]uint32
	require.False(t, token.TypeDefOrRef.NeedsWideField(rows))

	rows[token.TypeRef] = 0x10000 // 65536 rows, tag bits 2 => 65536<<2 > 0xFFFF
	require.True(t, token.TypeDefOrRef.NeedsWideField(rows))
}
