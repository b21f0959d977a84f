package table

import "github.com/dnmd-io/dnmdbuilder/token"

// HeapSizes records which of the three heaps indexed from table columns
// (#Strings, #GUID, #Blob) exceed
// 2^16-1 bytes, matching the heap_sizes byte of the tables-stream header
// (spec.md §6.2). The #US heap never appears in a tables-stream field, so
// it has no width flag here.
type HeapSizes struct {
	StringsWide bool
	GUIDWide    bool
	BlobWide    bool
}

// HeapSizesByte packs the three flags into the single heap_sizes byte
// ECMA-335 defines: bit0 = #Strings > 0xFFFF, bit1 = #GUID > 0xFFFF,
// bit2 = #Blob > 0xFFFF.
func (h HeapSizes) HeapSizesByte() byte {
	var b byte
	if h.StringsWide {
		b |= 0x01
	}
	if h.GUIDWide {
		b |= 0x02
	}
	if h.BlobWide {
		b |= 0x04
	}
	return b
}

// Widths bundles every field-width decision the row encoders need: heap
// widths plus the row counts used to decide simple-RID and coded-index
// field widths (spec.md §3.3).
type Widths struct {
	Heap      HeapSizes
	RowCounts [token.MaxTableIndex]uint32
}

// ridWide reports whether a simple RID field referencing t needs 4 bytes:
// true when t's row count exceeds 0xFFFF.
func (w Widths) ridWide(t token.TableIndex) bool {
	return w.RowCounts[t] > 0xFFFF
}

// codedWide reports whether a coded-index field of category c needs 4
// bytes.
func (w Widths) codedWide(c token.Category) bool {
	return c.NeedsWideField(w.RowCounts)
}

// ComputeWidths derives the field widths for a snapshot of heap sizes and
// table row counts.
func ComputeWidths(heap HeapSizes, rowCounts [token.MaxTableIndex]uint32) Widths {
	return Widths{Heap: heap, RowCounts: rowCounts}
}
