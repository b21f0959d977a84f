package heap

import (
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/dnmd-io/dnmdbuilder/varint"
)

// nonASCIIPrintable is the set of ASCII control/punctuation characters
// ECMA-335 §II.24.2.4 treats as "not a printable ASCII character" for the
// purposes of the #US terminal byte, even though they fit in one UTF-16
// code unit.
var nonASCIIPrintable = map[rune]bool{
	0x01: true, 0x02: true, 0x03: true, 0x04: true, 0x05: true, 0x06: true,
	0x07: true, 0x08: true, 0x0E: true, 0x0F: true, 0x10: true, 0x11: true,
	0x12: true, 0x13: true, 0x14: true, 0x15: true, 0x16: true, 0x17: true,
	0x18: true, 0x19: true, 0x1A: true, 0x1B: true, 0x1C: true, 0x1D: true,
	0x1E: true, 0x1F: true, 0x27: true, 0x2D: true, 0x7F: true,
}

// UserStringsBuffer is the #US heap: each entry is
// compressed_uint(2*len(utf16)+1) || utf16le || terminal_byte. Index 0 is
// the empty string.
type UserStringsBuffer struct {
	raw   [][]byte
	index map[string]uint32
	size  uint32
}

// NewUserStringsBuffer returns a #US heap containing only the empty
// string at index 0.
func NewUserStringsBuffer() *UserStringsBuffer {
	u := &UserStringsBuffer{
		index: make(map[string]uint32),
	}
	u.raw = append(u.raw, []byte{0x00})
	u.index[""] = 0
	u.size = 1
	return u
}

// GetIndex interns value (given as a Go string, decoded to UTF-16LE on
// the way in) and returns its heap index.
func (u *UserStringsBuffer) GetIndex(value string) (uint32, error) {
	if value == "" {
		return 0, nil
	}
	if idx, ok := u.index[value]; ok {
		return idx, nil
	}

	units := utf16.Encode([]rune(value))
	terminal := byte(0)
	for _, r := range value {
		if r > 0xFF || nonASCIIPrintable[r] {
			terminal = 1
			break
		}
	}

	payload := make([]byte, 0, len(units)*2+1)
	for _, unit := range units {
		payload = append(payload, byte(unit), byte(unit>>8))
	}
	payload = append(payload, terminal)

	prefix, err := varint.EncodeUint(uint32(len(units)*2 + 1))
	if err != nil {
		return 0, fmt.Errorf("heap: user string of %d UTF-16 units: %w", len(units), err)
	}

	idx := u.size
	entry := make([]byte, 0, len(prefix)+len(payload))
	entry = append(entry, prefix...)
	entry = append(entry, payload...)

	u.raw = append(u.raw, entry)
	u.index[value] = idx
	u.size += uint32(len(entry))
	return idx, nil
}

// Size returns the current byte length of the heap.
func (u *UserStringsBuffer) Size() uint32 {
	return u.size
}

// Flush writes the heap's bytes, padded to a 4-byte boundary, to w.
func (u *UserStringsBuffer) Flush(w io.Writer) (int, error) {
	n := 0
	for _, entry := range u.raw {
		nn, err := w.Write(entry)
		n += nn
		if err != nil {
			return n, fmt.Errorf("heap: flushing user-strings heap: %w", err)
		}
	}
	pad := alignPadding(uint32(n))
	if pad == 0 {
		return n, nil
	}
	nn, err := w.Write(make([]byte, pad))
	n += nn
	if err != nil {
		return n, fmt.Errorf("heap: padding user-strings heap: %w", err)
	}
	return n, nil
}
