package table

import "encoding/binary"

// rowEncoder accumulates one row's bytes. Every metadata field is either a
// fixed native width (u8/u16/u32) or a variable 2-vs-4-byte width decided
// by Widths; this keeps every per-table encoder function a flat, readable
// list of field writes in table-column order.
type rowEncoder struct {
	buf []byte
}

func (e *rowEncoder) u8(v byte) {
	e.buf = append(e.buf, v)
}

func (e *rowEncoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *rowEncoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// idx writes a variable-width index field: 2 bytes if wide is false, 4
// bytes otherwise.
func (e *rowEncoder) idx(v uint32, wide bool) {
	if wide {
		e.u32(v)
	} else {
		e.u16(uint16(v))
	}
}

func (e *rowEncoder) bytes() []byte {
	return e.buf
}
