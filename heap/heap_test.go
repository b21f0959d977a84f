package heap_test

import (
	"bytes"
	"testing"

	"github.com/dnmd-io/dnmdbuilder/heap"
	"github.com/stretchr/testify/require"
)

func TestStringsBufferEmptyIsIndexZero(t *testing.T) {
	s := heap.NewStringsBuffer()
	idx, err := s.GetIndex("")
	require.NoError(t, err)
	require.Zero(t, idx)
}

func TestStringsBufferDedup(t *testing.T) {
	s := heap.NewStringsBuffer()
	a, err := s.GetIndex("Empty")
	require.NoError(t, err)
	b, err := s.GetIndex("Empty")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := s.GetIndex("Other")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestStringsBufferEmptyModuleScenario(t *testing.T) {
	// An empty module's #Strings heap carries "" and the module name.
	s := heap.NewStringsBuffer()
	_, err := s.GetIndex("Empty")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = s.Flush(&buf)
	require.NoError(t, err)
	require.Equal(t, byte(0), buf.Bytes()[0])
	require.Contains(t, buf.String(), "Empty")
}

func TestStringsBufferFlushIsPadded(t *testing.T) {
	s := heap.NewStringsBuffer()
	_, err := s.GetIndex("ab") // 1 (empty NUL) + "ab\0" = 4 bytes already aligned
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = s.Flush(&buf)
	require.NoError(t, err)
	require.Zero(t, buf.Len()%4)
}

func TestBlobBufferDedupSharesIndex(t *testing.T) {
	// Byte-identical blobs share one heap index.
	b := heap.NewBlobBuffer()
	sig1 := []byte{0x06, 0x01, 0x1c, 0x01}
	sig2 := append([]byte(nil), sig1...)

	i1, err := b.GetIndex(sig1)
	require.NoError(t, err)
	i2, err := b.GetIndex(sig2)
	require.NoError(t, err)
	require.Equal(t, i1, i2)
}

func TestBlobBufferEncodesCompressedLength(t *testing.T) {
	b := heap.NewBlobBuffer()
	value := bytes.Repeat([]byte{0xAB}, 5)
	idx, err := b.GetIndex(value)
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx) // index 0 is the reserved empty blob

	var buf bytes.Buffer
	_, err = b.Flush(&buf)
	require.NoError(t, err)
	// byte 0 is the empty blob's compressed_uint(0); byte 1 is our
	// 5-length blob's compressed_uint(5) prefix.
	require.Equal(t, byte(0x00), buf.Bytes()[0])
	require.Equal(t, byte(0x05), buf.Bytes()[1])
	require.Equal(t, value, buf.Bytes()[2:7])
}

func TestUserStringsTerminalByte(t *testing.T) {
	u := heap.NewUserStringsBuffer()

	idxASCII, err := u.GetIndex("Hello")
	require.NoError(t, err)
	idxNonASCII, err := u.GetIndex("Héllo")
	require.NoError(t, err)
	require.NotEqual(t, idxASCII, idxNonASCII)

	var buf bytes.Buffer
	_, err = u.Flush(&buf)
	require.NoError(t, err)
	raw := buf.Bytes()

	// "Hello": compressed_uint(11) = 0x0B, then 10 bytes utf16le, then
	// terminal byte 0 (all printable ASCII).
	require.Equal(t, byte(11), raw[idxASCII])
	require.Equal(t, byte(0), raw[idxASCII+11])
}

func TestGUIDBufferOneBasedIndexAndDedup(t *testing.T) {
	g := heap.NewGUIDBuffer()
	var v1, v2 heap.GUID
	v1[0] = 1
	v2[0] = 2

	i1 := g.GetIndex(v1)
	i2 := g.GetIndex(v2)
	i1Again := g.GetIndex(v1)

	require.Equal(t, uint32(1), i1)
	require.Equal(t, uint32(2), i2)
	require.Equal(t, i1, i1Again)
}

func TestNewRandomGUIDHasVersionAndVariantBits(t *testing.T) {
	g, err := heap.NewRandomGUID()
	require.NoError(t, err)
	require.Equal(t, byte(0x40), g[7]&0xF0)
	require.Equal(t, byte(0x80), g[8]&0xC0)
}
