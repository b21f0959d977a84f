package heap

import (
	"fmt"
	"io"
)

// StringsBuffer is the #Strings heap: UTF-8 values terminated by a NUL
// byte, deduplicated by full-string equality. Index 0 is the empty
// string.
type StringsBuffer struct {
	raw   []byte
	index map[string]uint32
}

// NewStringsBuffer returns a #Strings heap containing only the empty
// string at index 0.
func NewStringsBuffer() *StringsBuffer {
	s := &StringsBuffer{
		raw:   []byte{0x00},
		index: map[string]uint32{"": 0},
	}
	return s
}

// GetIndex interns s and returns its heap index.
func (s *StringsBuffer) GetIndex(value string) (uint32, error) {
	if value == "" {
		return 0, nil
	}
	if idx, ok := s.index[value]; ok {
		return idx, nil
	}

	idx := uint32(len(s.raw))
	if uint64(idx)+uint64(len(value))+1 > 0xFFFFFFFF {
		return 0, fmt.Errorf("heap: strings heap would overflow 2^32-1 bytes")
	}
	s.raw = append(s.raw, []byte(value)...)
	s.raw = append(s.raw, 0x00)
	s.index[value] = idx
	return idx, nil
}

// Size returns the current byte length of the heap.
func (s *StringsBuffer) Size() uint32 {
	return uint32(len(s.raw))
}

// Flush writes the heap's bytes, padded to a 4-byte boundary, to w.
func (s *StringsBuffer) Flush(w io.Writer) (int, error) {
	return flushPadded(w, s.raw)
}

func flushPadded(w io.Writer, raw []byte) (int, error) {
	n, err := w.Write(raw)
	if err != nil {
		return n, fmt.Errorf("heap: flushing heap: %w", err)
	}
	pad := alignPadding(uint32(n))
	if pad == 0 {
		return n, nil
	}
	nn, err := w.Write(make([]byte, pad))
	n += nn
	if err != nil {
		return n, fmt.Errorf("heap: padding heap: %w", err)
	}
	return n, nil
}
