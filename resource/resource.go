// Package resource implements the managed-resources blob: a plain
// concatenation buffer where each resource payload is stored as
// u32_le(length) || bytes and addressed by its starting offset, which is
// what the ManifestResource table's Offset column records.
package resource

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dnmd-io/dnmdbuilder/utils"
)

// Buffer accumulates embedded resource payloads. The zero value is ready
// to use; an empty buffer means the final directory carries no resources
// blob at all.
type Buffer struct {
	raw []byte
}

// New returns an empty resources buffer.
func New() *Buffer {
	return &Buffer{}
}

// Add appends data with its length prefix and returns the offset the
// entry starts at. Entries are aligned to 8 bytes, matching what the CLI
// loader expects for resource data.
func (b *Buffer) Add(data []byte) (uint32, error) {
	for uint32(len(b.raw)) < utils.AlignUp(uint32(len(b.raw)), 8) {
		b.raw = append(b.raw, 0)
	}
	offset := uint32(len(b.raw))
	if uint64(offset)+uint64(len(data))+4 > 0xFFFFFFFF {
		return 0, fmt.Errorf("resource: resources blob would overflow 2^32-1 bytes")
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	b.raw = append(b.raw, prefix[:]...)
	b.raw = append(b.raw, data...)
	return offset, nil
}

// Size returns the current byte length of the buffer.
func (b *Buffer) Size() uint32 {
	return uint32(len(b.raw))
}

// Flush writes the buffer's bytes to w.
func (b *Buffer) Flush(w io.Writer) (int, error) {
	n, err := w.Write(b.raw)
	if err != nil {
		return n, fmt.Errorf("resource: flushing resources blob: %w", err)
	}
	return n, nil
}
