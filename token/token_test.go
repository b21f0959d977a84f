package token_test

import (
	"testing"

	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/stretchr/testify/require"
)

func TestTokenPackUnpack(t *testing.T) {
	tok := token.New(token.TypeDef, 2)
	require.Equal(t, token.TypeDef, tok.Table())
	require.Equal(t, uint32(2), tok.RID())
	require.False(t, tok.IsNull())
	require.Equal(t, uint32(0x02000002), uint32(tok))
}

func TestNullToken(t *testing.T) {
	require.True(t, token.Token(0).IsNull())
	require.True(t, token.New(token.MethodDef, 0).IsNull())
}

func TestHelloWorldTokens(t *testing.T) {
	// Main's MethodDef, Program's TypeDef, and the ldstr pseudo-table tag
	// with the first #US slot.
	require.Equal(t, token.Token(0x06000001), token.New(token.MethodDef, 1))
	require.Equal(t, token.Token(0x02000002), token.New(token.TypeDef, 2))
	require.Equal(t, token.Token(0x70000001), token.New(token.UserString, 1))
}
