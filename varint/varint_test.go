package varint_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/dnmd-io/dnmdbuilder/varint"
	"github.com/stretchr/testify/require"
)

type errorReader struct{}

func (er *errorReader) Read(_ []byte) (int, error) {
	return 0, fmt.Errorf("test error")
}

func TestEncodeUintTiers(t *testing.T) {
	cases := []struct {
		n    uint32
		want []byte
	}{
		{0x00, []byte{0x00}},
		{0x03, []byte{0x03}},
		{0x7F, []byte{0x7F}},
		{0x80, []byte{0x80, 0x80}},
		{0x3FFF, []byte{0xBF, 0xFF}},
		{0x4000, []byte{0xC0, 0x00, 0x40, 0x00}},
		{0x1FFFFFFF, []byte{0xDF, 0xFF, 0xFF, 0xFF}},
	}
	for _, c := range cases {
		got, err := varint.EncodeUint(c.n)
		require.NoError(t, err)
		require.Equal(t, c.want, got, "encoding %#x", c.n)
	}
}

func TestEncodeUintOverflow(t *testing.T) {
	_, err := varint.EncodeUint(0x20000000)
	require.Error(t, err)
}

func TestUintRoundTrip(t *testing.T) {
	for _, n := range []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFFFF} {
		buf, err := varint.EncodeUint(n)
		require.NoError(t, err)

		got, consumed, err := varint.DecodeUint(bytes.NewReader(buf))
		require.NoError(t, err)
		require.Equal(t, len(buf), consumed)
		require.Equal(t, n, got)
	}
}

func TestDecodeUintEmptyBuffer(t *testing.T) {
	v, n, err := varint.DecodeUint(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Zero(t, v)
	require.Zero(t, n)
}

func TestDecodeUintReadError(t *testing.T) {
	_, _, err := varint.DecodeUint(&errorReader{})
	require.Error(t, err)
}

func TestEncodeIntGoldenBytes(t *testing.T) {
	// The worked examples from ECMA-335 §II.23.2.
	cases := []struct {
		n    int32
		want []byte
	}{
		{3, []byte{0x06}},
		{-3, []byte{0x7B}},
		{-1, []byte{0x7F}},
		{64, []byte{0x80, 0x80}},
		{-64, []byte{0x01}},
		{8191, []byte{0xBF, 0xFE}},
		{-8192, []byte{0x80, 0x01}},
		{268435455, []byte{0xDF, 0xFF, 0xFF, 0xFE}},
		{-268435456, []byte{0xC0, 0x00, 0x00, 0x01}},
	}
	for _, c := range cases {
		got, err := varint.EncodeInt(c.n)
		require.NoError(t, err)
		require.Equal(t, c.want, got, "encoding %d", c.n)
	}
}

func TestIntRoundTrip(t *testing.T) {
	for _, n := range []int32{0, 1, -1, 63, -63, 8191, -8191, 1 << 27, -(1 << 27)} {
		buf, err := varint.EncodeInt(n)
		require.NoError(t, err)

		got, consumed, err := varint.DecodeInt(bytes.NewReader(buf))
		require.NoError(t, err)
		require.Equal(t, len(buf), consumed)
		require.Equal(t, n, got)
	}
}
