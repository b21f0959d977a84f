// Package heap implements the four append-only ECMA-335 metadata heaps:
// #Blob, #Strings, #US (user strings), and #GUID. Each buffer interns
// values and hands back a compact index; identical values (by byte or
// value equality) always get back the same index.
package heap

import (
	"fmt"
	"io"

	"github.com/dnmd-io/dnmdbuilder/varint"
)

// BlobBuffer is the #Blob heap: values are stored as
// compressed_uint(len) || bytes, deduplicated by the raw (unprefixed)
// bytes. Index 0 is reserved for the empty blob.
type BlobBuffer struct {
	// raw holds the fully-prefixed bytes for every interned blob in
	// insertion order, including the reserved empty entry at index 0.
	raw [][]byte
	// index maps the raw byte-string value to its heap offset.
	index map[string]uint32
	// size is the running byte length of the heap, index 0 inclusive.
	size uint32
}

// NewBlobBuffer returns an empty blob heap with only the reserved empty
// blob at index 0.
func NewBlobBuffer() *BlobBuffer {
	b := &BlobBuffer{
		index: make(map[string]uint32),
	}
	b.raw = append(b.raw, []byte{0x00}) // compressed_uint(0), no payload
	b.index[""] = 0
	b.size = 1
	return b
}

// GetIndex interns value and returns its heap index. Byte-identical values
// always return the same index.
func (b *BlobBuffer) GetIndex(value []byte) (uint32, error) {
	if len(value) == 0 {
		return 0, nil
	}
	key := string(value)
	if idx, ok := b.index[key]; ok {
		return idx, nil
	}

	prefix, err := varint.EncodeUint(uint32(len(value)))
	if err != nil {
		return 0, fmt.Errorf("heap: blob of length %d: %w", len(value), err)
	}
	idx := b.size
	entry := make([]byte, 0, len(prefix)+len(value))
	entry = append(entry, prefix...)
	entry = append(entry, value...)

	if uint64(idx)+uint64(len(entry)) > 0xFFFFFFFF {
		return 0, fmt.Errorf("heap: blob heap would overflow 2^32-1 bytes")
	}

	b.raw = append(b.raw, entry)
	b.index[key] = idx
	b.size += uint32(len(entry))
	return idx, nil
}

// Size returns the current byte length of the heap (index 0 inclusive,
// before 4-byte alignment padding).
func (b *BlobBuffer) Size() uint32 {
	return b.size
}

// Flush writes the heap's bytes, padded to a 4-byte boundary, to w.
func (b *BlobBuffer) Flush(w io.Writer) (int, error) {
	n := 0
	for _, entry := range b.raw {
		nn, err := w.Write(entry)
		n += nn
		if err != nil {
			return n, fmt.Errorf("heap: flushing blob heap: %w", err)
		}
	}
	pad := alignPadding(uint32(n))
	if pad > 0 {
		nn, err := w.Write(make([]byte, pad))
		n += nn
		if err != nil {
			return n, fmt.Errorf("heap: padding blob heap: %w", err)
		}
	}
	return n, nil
}

// alignPadding returns the number of zero bytes needed to round n up to a
// multiple of 4.
func alignPadding(n uint32) uint32 {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}
