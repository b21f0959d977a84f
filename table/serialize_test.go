package table_test

import (
	"encoding/binary"
	"testing"

	"github.com/dnmd-io/dnmdbuilder/table"
	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/stretchr/testify/require"
)

func narrowWidths(b *table.Buffer) table.Widths {
	return table.ComputeWidths(table.HeapSizes{}, b.RowCounts())
}

func TestBuildHeaderLayout(t *testing.T) {
	b := table.New()
	b.AddModule(table.ModuleRow{Name: 1, Mvid: 1}, 0)

	got, err := b.Build(table.StreamHeader{MajorVersion: 2, MinorVersion: 0}, narrowWidths(b))
	require.NoError(t, err)

	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(got[0:4])) // reserved
	require.Equal(t, byte(2), got[4])                                 // major
	require.Equal(t, byte(0), got[5])                                 // minor
	require.Equal(t, byte(0), got[6])                                 // heap sizes, all narrow
	require.Equal(t, byte(1), got[7])                                 // reserved

	valid := binary.LittleEndian.Uint64(got[8:16])
	require.Equal(t, uint64(1)<<uint(token.Module), valid)

	sorted := binary.LittleEndian.Uint64(got[16:24])
	require.NotZero(t, sorted&(1<<uint(token.CustomAttribute)))
	require.NotZero(t, sorted&(1<<uint(token.GenericParam)))
	require.Zero(t, sorted&(1<<uint(token.TypeDef)))

	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(got[24:28])) // Module row count

	// Module row: u16 generation + 2-byte strings index + three 2-byte
	// GUID indices.
	row := got[28:]
	require.Len(t, row, 10)
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(row[2:4]))
}

func TestHeapWidthPromotionWidensColumns(t *testing.T) {
	b := table.New()
	b.AddModule(table.ModuleRow{Name: 1, Mvid: 1}, 0)

	wide := table.ComputeWidths(table.HeapSizes{StringsWide: true}, b.RowCounts())
	got, err := b.Build(table.StreamHeader{MajorVersion: 2}, wide)
	require.NoError(t, err)

	require.Equal(t, byte(0x01), got[6]) // heap_sizes bit 0

	// Row grows by 2: the strings index is now 4 bytes.
	row := got[28:]
	require.Len(t, row, 12)
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(row[2:6]))
}

func TestGenericParamSortedByOwnerThenNumber(t *testing.T) {
	b := table.New()
	// Insert out of order: owner 2 before owner 1, and number 1 before 0.
	b.AddGenericParam(table.GenericParamRow{Number: 1, Owner: 2, Name: 4}, 0)
	b.AddGenericParam(table.GenericParamRow{Number: 0, Owner: 2, Name: 3}, 0)
	b.AddGenericParam(table.GenericParamRow{Number: 0, Owner: 1, Name: 2}, 0)

	got, err := b.Build(table.StreamHeader{MajorVersion: 2}, narrowWidths(b))
	require.NoError(t, err)

	// Header: 24 fixed + 4 row-count bytes, then 3 rows of
	// u16 Number, u16 Flags, 2-byte Owner, 2-byte Name.
	rows := got[28:]
	require.Len(t, rows, 24)

	type gp struct{ number, owner, name uint16 }
	read := func(i int) gp {
		r := rows[i*8:]
		return gp{
			number: binary.LittleEndian.Uint16(r[0:2]),
			owner:  binary.LittleEndian.Uint16(r[4:6]),
			name:   binary.LittleEndian.Uint16(r[6:8]),
		}
	}
	require.Equal(t, gp{0, 1, 2}, read(0))
	require.Equal(t, gp{0, 2, 3}, read(1))
	require.Equal(t, gp{1, 2, 4}, read(2))
}

func TestCustomAttributeSortedByParentCodedValue(t *testing.T) {
	b := table.New()
	b.AddCustomAttribute(table.CustomAttributeRow{Parent: 9, Type: 1, Value: 1}, 0)
	b.AddCustomAttribute(table.CustomAttributeRow{Parent: 3, Type: 1, Value: 2}, 0)
	b.AddCustomAttribute(table.CustomAttributeRow{Parent: 7, Type: 1, Value: 3}, 0)

	got, err := b.Build(table.StreamHeader{MajorVersion: 2}, narrowWidths(b))
	require.NoError(t, err)

	rows := got[28:]
	var parents []uint16
	for i := 0; i < 3; i++ {
		parents = append(parents, binary.LittleEndian.Uint16(rows[i*6:]))
	}
	require.Equal(t, []uint16{3, 7, 9}, parents)
}

func TestSortIsStableForEqualKeys(t *testing.T) {
	b := table.New()
	b.AddCustomAttribute(table.CustomAttributeRow{Parent: 5, Type: 1, Value: 1}, 0)
	b.AddCustomAttribute(table.CustomAttributeRow{Parent: 5, Type: 1, Value: 2}, 0)

	got, err := b.Build(table.StreamHeader{MajorVersion: 2}, narrowWidths(b))
	require.NoError(t, err)

	rows := got[28:]
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(rows[4:6]))
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(rows[10:12]))
}

func TestPreferredRIDPlacement(t *testing.T) {
	b := table.New()
	tok := b.AddTypeRef(table.TypeRefRow{Name: 5}, 3)
	require.Equal(t, uint32(3), tok.RID())

	// Placeholders at RIDs 1 and 2 must be filled before serialization.
	_, err := b.Build(table.StreamHeader{MajorVersion: 2}, narrowWidths(b))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unfilled placeholder")

	b.AddTypeRef(table.TypeRefRow{Name: 1}, 1)
	b.AddTypeRef(table.TypeRefRow{Name: 2}, 2)
	_, err = b.Build(table.StreamHeader{MajorVersion: 2}, narrowWidths(b))
	require.NoError(t, err)
}

func TestOccupiedPreferredSlotAppends(t *testing.T) {
	b := table.New()
	first := b.AddTypeRef(table.TypeRefRow{Name: 1}, 1)
	require.Equal(t, uint32(1), first.RID())

	second := b.AddTypeRef(table.TypeRefRow{Name: 2}, 1)
	require.Equal(t, uint32(2), second.RID())
}

func TestUpdateMethodDefPatchesRVA(t *testing.T) {
	b := table.New()
	tok := b.AddMethodDef(table.MethodDefRow{Name: 1, Signature: 1, ParamList: 1}, 0)

	require.NoError(t, b.UpdateMethodDef(tok.RID(), func(r *table.MethodDefRow) {
		r.RVA = 0x2050
	}))
	require.Equal(t, uint32(0x2050), b.MethodDef.Rows()[0].RVA)

	require.Error(t, b.UpdateMethodDef(99, func(*table.MethodDefRow) {}))
}
