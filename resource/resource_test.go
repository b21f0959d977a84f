package resource_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/dnmd-io/dnmdbuilder/resource"
	"github.com/stretchr/testify/require"
)

func TestAddReturnsOffsetAndPrefixesLength(t *testing.T) {
	b := resource.New()

	off1, err := b.Add([]byte("hello"))
	require.NoError(t, err)
	require.Zero(t, off1)

	off2, err := b.Add([]byte{1, 2, 3})
	require.NoError(t, err)
	// 4-byte prefix + 5 payload bytes, aligned up to 8.
	require.Equal(t, uint32(16), off2)

	var buf bytes.Buffer
	_, err = b.Flush(&buf)
	require.NoError(t, err)
	raw := buf.Bytes()

	require.Equal(t, uint32(5), binary.LittleEndian.Uint32(raw[0:4]))
	require.Equal(t, []byte("hello"), raw[4:9])
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(raw[16:20]))
	require.Equal(t, []byte{1, 2, 3}, raw[20:23])
}

func TestEmptyBufferHasZeroSize(t *testing.T) {
	b := resource.New()
	require.Zero(t, b.Size())

	var buf bytes.Buffer
	n, err := b.Flush(&buf)
	require.NoError(t, err)
	require.Zero(t, n)
}
