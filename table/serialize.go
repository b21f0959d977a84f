package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dnmd-io/dnmdbuilder/token"
)

// orderedTables lists every table this buffer can hold, in ascending tag
// order, which is the order the valid/sorted bitmaps and the row-count and
// row-data sections of the tables stream must follow (spec.md §6.2).
var orderedTables = []token.TableIndex{
	token.Module, token.TypeRef, token.TypeDef, token.Field, token.MethodDef,
	token.Param, token.InterfaceImpl, token.MemberRef, token.Constant,
	token.CustomAttribute, token.FieldMarshal, token.DeclSecurity,
	token.ClassLayout, token.FieldLayout, token.StandAloneSig, token.EventMap,
	token.Event, token.PropertyMap, token.Property, token.MethodSemantics,
	token.MethodImpl, token.ModuleRef, token.TypeSpec, token.ImplMap,
	token.FieldRVA, token.Assembly, token.AssemblyProcessor, token.AssemblyOS,
	token.AssemblyRef, token.AssemblyRefProcessor, token.AssemblyRefOS,
	token.File, token.ExportedType, token.ManifestResource, token.NestedClass,
	token.GenericParam, token.MethodSpec, token.GenericParamConstraint,
}

// sortedTables is the fixed set of ECMA-mandated-order tables (spec.md
// §3.3); the tables-stream header's `sorted` bitmap always marks exactly
// these, regardless of whether they happen to be empty.
var sortedTables = map[token.TableIndex]bool{
	token.ClassLayout: true, token.FieldLayout: true, token.FieldMarshal: true,
	token.FieldRVA: true, token.ImplMap: true, token.InterfaceImpl: true,
	token.MethodImpl: true, token.MethodSemantics: true, token.NestedClass: true,
	token.GenericParam: true, token.GenericParamConstraint: true,
	token.Constant: true, token.CustomAttribute: true,
}

// StreamHeader is the fixed-layout prefix of the tables stream (spec.md
// §6.2), before the per-table row bytes.
type StreamHeader struct {
	MajorVersion byte
	MinorVersion byte
}

// sortedRows returns a stable-sorted copy of rows, keyed by key. The
// original slice (and therefore every previously assigned RID) is left
// untouched; only the serialized byte order changes.
func sortedRows[T any](rows []T, key func(T) uint64) []T {
	out := append([]T(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return key(out[i]) < key(out[j])
	})
	return out
}

// Build assembles the full #~ tables stream: the fixed header, the
// valid/sorted bitmaps and row counts, and the row bytes for every
// present table in ascending tag order, with ECMA-sorted tables emitted
// in sort-key order (spec.md §3.3, §6.2).
func (b *Buffer) Build(hdr StreamHeader, widths Widths) ([]byte, error) {
	if err := b.CheckFilled(); err != nil {
		return nil, err
	}

	counts := b.RowCounts()

	var valid, sortedMask uint64
	for _, t := range orderedTables {
		if counts[t] > 0 {
			valid |= 1 << uint(t)
		}
		if sortedTables[t] {
			sortedMask |= 1 << uint(t)
		}
	}

	var out bytes.Buffer
	var reserved [4]byte
	out.Write(reserved[:]) // Reserved, always 0
	out.WriteByte(hdr.MajorVersion)
	out.WriteByte(hdr.MinorVersion)
	out.WriteByte(widths.Heap.HeapSizesByte())
	out.WriteByte(1) // Reserved, always 1

	var validBytes, sortedBytes [8]byte
	binary.LittleEndian.PutUint64(validBytes[:], valid)
	binary.LittleEndian.PutUint64(sortedBytes[:], sortedMask)
	out.Write(validBytes[:])
	out.Write(sortedBytes[:])

	for _, t := range orderedTables {
		if counts[t] == 0 {
			continue
		}
		var cb [4]byte
		binary.LittleEndian.PutUint32(cb[:], counts[t])
		out.Write(cb[:])
	}

	for _, t := range orderedTables {
		if counts[t] == 0 {
			continue
		}
		rowBytes, err := b.encodeTable(t, widths)
		if err != nil {
			return nil, fmt.Errorf("table: encoding %s: %w", t, err)
		}
		out.Write(rowBytes)
	}

	return out.Bytes(), nil
}

func (b *Buffer) encodeTable(t token.TableIndex, w Widths) ([]byte, error) {
	var out bytes.Buffer
	switch t {
	case token.Module:
		for _, r := range b.Module.rows {
			out.Write(encodeModule(r, w))
		}
	case token.TypeRef:
		for _, r := range b.TypeRef.rows {
			out.Write(encodeTypeRef(r, w))
		}
	case token.TypeDef:
		for _, r := range b.TypeDef.rows {
			out.Write(encodeTypeDef(r, w))
		}
	case token.Field:
		for _, r := range b.Field.rows {
			out.Write(encodeField(r, w))
		}
	case token.MethodDef:
		for _, r := range b.MethodDef.rows {
			out.Write(encodeMethodDef(r, w))
		}
	case token.Param:
		for _, r := range b.Param.rows {
			out.Write(encodeParam(r, w))
		}
	case token.InterfaceImpl:
		rows := sortedRows(b.InterfaceImpl.rows, func(r InterfaceImplRow) uint64 {
			return uint64(r.Class)<<32 | uint64(r.Interface)
		})
		for _, r := range rows {
			out.Write(encodeInterfaceImpl(r, w))
		}
	case token.MemberRef:
		for _, r := range b.MemberRef.rows {
			out.Write(encodeMemberRef(r, w))
		}
	case token.Constant:
		rows := sortedRows(b.Constant.rows, func(r ConstantRow) uint64 { return uint64(r.Parent) })
		for _, r := range rows {
			out.Write(encodeConstant(r, w))
		}
	case token.CustomAttribute:
		rows := sortedRows(b.CustomAttribute.rows, func(r CustomAttributeRow) uint64 { return uint64(r.Parent) })
		for _, r := range rows {
			out.Write(encodeCustomAttribute(r, w))
		}
	case token.FieldMarshal:
		rows := sortedRows(b.FieldMarshal.rows, func(r FieldMarshalRow) uint64 { return uint64(r.Parent) })
		for _, r := range rows {
			out.Write(encodeFieldMarshal(r, w))
		}
	case token.DeclSecurity:
		rows := sortedRows(b.DeclSecurity.rows, func(r DeclSecurityRow) uint64 { return uint64(r.Parent) })
		for _, r := range rows {
			out.Write(encodeDeclSecurity(r, w))
		}
	case token.ClassLayout:
		rows := sortedRows(b.ClassLayout.rows, func(r ClassLayoutRow) uint64 { return uint64(r.Parent) })
		for _, r := range rows {
			out.Write(encodeClassLayout(r, w))
		}
	case token.FieldLayout:
		rows := sortedRows(b.FieldLayout.rows, func(r FieldLayoutRow) uint64 { return uint64(r.Field) })
		for _, r := range rows {
			out.Write(encodeFieldLayout(r, w))
		}
	case token.StandAloneSig:
		for _, r := range b.StandAloneSig.rows {
			out.Write(encodeStandAloneSig(r, w))
		}
	case token.EventMap:
		for _, r := range b.EventMap.rows {
			out.Write(encodeEventMap(r, w))
		}
	case token.Event:
		for _, r := range b.Event.rows {
			out.Write(encodeEvent(r, w))
		}
	case token.PropertyMap:
		for _, r := range b.PropertyMap.rows {
			out.Write(encodePropertyMap(r, w))
		}
	case token.Property:
		for _, r := range b.Property.rows {
			out.Write(encodeProperty(r, w))
		}
	case token.MethodSemantics:
		rows := sortedRows(b.MethodSemantics.rows, func(r MethodSemanticsRow) uint64 { return uint64(r.Association) })
		for _, r := range rows {
			out.Write(encodeMethodSemantics(r, w))
		}
	case token.MethodImpl:
		rows := sortedRows(b.MethodImpl.rows, func(r MethodImplRow) uint64 { return uint64(r.Class) })
		for _, r := range rows {
			out.Write(encodeMethodImpl(r, w))
		}
	case token.ModuleRef:
		for _, r := range b.ModuleRef.rows {
			out.Write(encodeModuleRef(r, w))
		}
	case token.TypeSpec:
		for _, r := range b.TypeSpec.rows {
			out.Write(encodeTypeSpec(r, w))
		}
	case token.ImplMap:
		rows := sortedRows(b.ImplMap.rows, func(r ImplMapRow) uint64 { return uint64(r.MemberForwarded) })
		for _, r := range rows {
			out.Write(encodeImplMap(r, w))
		}
	case token.FieldRVA:
		rows := sortedRows(b.FieldRVA.rows, func(r FieldRVARow) uint64 { return uint64(r.Field) })
		for _, r := range rows {
			out.Write(encodeFieldRVA(r, w))
		}
	case token.Assembly:
		for _, r := range b.Assembly.rows {
			out.Write(encodeAssembly(r, w))
		}
	case token.AssemblyProcessor:
		for _, r := range b.AssemblyProcessor.rows {
			out.Write(encodeAssemblyProcessor(r, w))
		}
	case token.AssemblyOS:
		for _, r := range b.AssemblyOS.rows {
			out.Write(encodeAssemblyOS(r, w))
		}
	case token.AssemblyRef:
		for _, r := range b.AssemblyRef.rows {
			out.Write(encodeAssemblyRef(r, w))
		}
	case token.AssemblyRefProcessor:
		for _, r := range b.AssemblyRefProcessor.rows {
			out.Write(encodeAssemblyRefProcessor(r, w))
		}
	case token.AssemblyRefOS:
		for _, r := range b.AssemblyRefOS.rows {
			out.Write(encodeAssemblyRefOS(r, w))
		}
	case token.File:
		for _, r := range b.File.rows {
			out.Write(encodeFile(r, w))
		}
	case token.ExportedType:
		for _, r := range b.ExportedType.rows {
			out.Write(encodeExportedType(r, w))
		}
	case token.ManifestResource:
		for _, r := range b.ManifestResource.rows {
			out.Write(encodeManifestResource(r, w))
		}
	case token.NestedClass:
		rows := sortedRows(b.NestedClass.rows, func(r NestedClassRow) uint64 { return uint64(r.NestedClass) })
		for _, r := range rows {
			out.Write(encodeNestedClass(r, w))
		}
	case token.GenericParam:
		rows := sortedRows(b.GenericParam.rows, func(r GenericParamRow) uint64 {
			return uint64(r.Owner)<<16 | uint64(r.Number)
		})
		for _, r := range rows {
			out.Write(encodeGenericParam(r, w))
		}
	case token.MethodSpec:
		for _, r := range b.MethodSpec.rows {
			out.Write(encodeMethodSpec(r, w))
		}
	case token.GenericParamConstraint:
		rows := sortedRows(b.GenericParamConstraint.rows, func(r GenericParamConstraintRow) uint64 { return uint64(r.Owner) })
		for _, r := range rows {
			out.Write(encodeGenericParamConstraint(r, w))
		}
	default:
		return nil, fmt.Errorf("table: no encoder registered for %s", t)
	}
	return out.Bytes(), nil
}

func encodeModule(r ModuleRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.Generation)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Mvid, w.Heap.GUIDWide)
	e.idx(r.EncID, w.Heap.GUIDWide)
	e.idx(r.EncBaseID, w.Heap.GUIDWide)
	return e.bytes()
}

func encodeTypeRef(r TypeRefRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.ResolutionScope, w.codedWide(token.ResolutionScope))
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Namespace, w.Heap.StringsWide)
	return e.bytes()
}

func encodeTypeDef(r TypeDefRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.Flags)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Namespace, w.Heap.StringsWide)
	e.idx(r.Extends, w.codedWide(token.TypeDefOrRef))
	e.idx(r.FieldList, w.ridWide(token.Field))
	e.idx(r.MethodList, w.ridWide(token.MethodDef))
	return e.bytes()
}

func encodeField(r FieldRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.Flags)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Signature, w.Heap.BlobWide)
	return e.bytes()
}

func encodeMethodDef(r MethodDefRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.RVA)
	e.u16(r.ImplFlags)
	e.u16(r.Flags)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Signature, w.Heap.BlobWide)
	e.idx(r.ParamList, w.ridWide(token.Param))
	return e.bytes()
}

func encodeParam(r ParamRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.Flags)
	e.u16(r.Sequence)
	e.idx(r.Name, w.Heap.StringsWide)
	return e.bytes()
}

func encodeInterfaceImpl(r InterfaceImplRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Class, w.ridWide(token.TypeDef))
	e.idx(r.Interface, w.codedWide(token.TypeDefOrRef))
	return e.bytes()
}

func encodeMemberRef(r MemberRefRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Class, w.codedWide(token.MemberRefParent))
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Signature, w.Heap.BlobWide)
	return e.bytes()
}

func encodeConstant(r ConstantRow, w Widths) []byte {
	var e rowEncoder
	e.u8(r.Type)
	e.u8(0) // padding byte (ECMA defines Type+1 reserved byte)
	e.idx(r.Parent, w.codedWide(token.HasConstant))
	e.idx(r.Value, w.Heap.BlobWide)
	return e.bytes()
}

func encodeCustomAttribute(r CustomAttributeRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Parent, w.codedWide(token.HasCustomAttribute))
	e.idx(r.Type, w.codedWide(token.CustomAttributeType))
	e.idx(r.Value, w.Heap.BlobWide)
	return e.bytes()
}

func encodeFieldMarshal(r FieldMarshalRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Parent, w.codedWide(token.HasFieldMarshal))
	e.idx(r.NativeType, w.Heap.BlobWide)
	return e.bytes()
}

func encodeDeclSecurity(r DeclSecurityRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.Action)
	e.idx(r.Parent, w.codedWide(token.HasDeclSecurity))
	e.idx(r.PermissionSet, w.Heap.BlobWide)
	return e.bytes()
}

func encodeClassLayout(r ClassLayoutRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.PackingSize)
	e.u32(r.ClassSize)
	e.idx(r.Parent, w.ridWide(token.TypeDef))
	return e.bytes()
}

func encodeFieldLayout(r FieldLayoutRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.Offset)
	e.idx(r.Field, w.ridWide(token.Field))
	return e.bytes()
}

func encodeStandAloneSig(r StandAloneSigRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Signature, w.Heap.BlobWide)
	return e.bytes()
}

func encodeEventMap(r EventMapRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Parent, w.ridWide(token.TypeDef))
	e.idx(r.EventList, w.ridWide(token.Event))
	return e.bytes()
}

func encodeEvent(r EventRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.EventFlags)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.EventType, w.codedWide(token.TypeDefOrRef))
	return e.bytes()
}

func encodePropertyMap(r PropertyMapRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Parent, w.ridWide(token.TypeDef))
	e.idx(r.PropertyList, w.ridWide(token.Property))
	return e.bytes()
}

func encodeProperty(r PropertyRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.Flags)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Type, w.Heap.BlobWide)
	return e.bytes()
}

func encodeMethodSemantics(r MethodSemanticsRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.Semantics)
	e.idx(r.Method, w.ridWide(token.MethodDef))
	e.idx(r.Association, w.codedWide(token.HasSemantics))
	return e.bytes()
}

func encodeMethodImpl(r MethodImplRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Class, w.ridWide(token.TypeDef))
	e.idx(r.MethodBody, w.codedWide(token.MethodDefOrRef))
	e.idx(r.MethodDeclaration, w.codedWide(token.MethodDefOrRef))
	return e.bytes()
}

func encodeModuleRef(r ModuleRefRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Name, w.Heap.StringsWide)
	return e.bytes()
}

func encodeTypeSpec(r TypeSpecRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Signature, w.Heap.BlobWide)
	return e.bytes()
}

func encodeImplMap(r ImplMapRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.MappingFlags)
	e.idx(r.MemberForwarded, w.codedWide(token.MemberForwarded))
	e.idx(r.ImportName, w.Heap.StringsWide)
	e.idx(r.ImportScope, w.ridWide(token.ModuleRef))
	return e.bytes()
}

func encodeFieldRVA(r FieldRVARow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.RVA)
	e.idx(r.Field, w.ridWide(token.Field))
	return e.bytes()
}

func encodeAssembly(r AssemblyRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.HashAlgID)
	e.u16(r.MajorVersion)
	e.u16(r.MinorVersion)
	e.u16(r.BuildNumber)
	e.u16(r.RevisionNumber)
	e.u32(r.Flags)
	e.idx(r.PublicKey, w.Heap.BlobWide)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Culture, w.Heap.StringsWide)
	return e.bytes()
}

func encodeAssemblyProcessor(r AssemblyProcessorRow, _ Widths) []byte {
	var e rowEncoder
	e.u32(r.Processor)
	return e.bytes()
}

func encodeAssemblyOS(r AssemblyOSRow, _ Widths) []byte {
	var e rowEncoder
	e.u32(r.OSPlatformID)
	e.u32(r.OSMajorVersion)
	e.u32(r.OSMinorVersion)
	return e.bytes()
}

func encodeAssemblyRef(r AssemblyRefRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.MajorVersion)
	e.u16(r.MinorVersion)
	e.u16(r.BuildNumber)
	e.u16(r.RevisionNumber)
	e.u32(r.Flags)
	e.idx(r.PublicKeyOrToken, w.Heap.BlobWide)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Culture, w.Heap.StringsWide)
	e.idx(r.HashValue, w.Heap.BlobWide)
	return e.bytes()
}

func encodeAssemblyRefProcessor(r AssemblyRefProcessorRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.Processor)
	e.idx(r.AssemblyRef, w.ridWide(token.AssemblyRef))
	return e.bytes()
}

func encodeAssemblyRefOS(r AssemblyRefOSRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.OSPlatformID)
	e.u32(r.OSMajorVersion)
	e.u32(r.OSMinorVersion)
	e.idx(r.AssemblyRef, w.ridWide(token.AssemblyRef))
	return e.bytes()
}

func encodeFile(r FileRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.Flags)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.HashValue, w.Heap.BlobWide)
	return e.bytes()
}

func encodeExportedType(r ExportedTypeRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.Flags)
	e.u32(r.TypeDefID)
	e.idx(r.TypeName, w.Heap.StringsWide)
	e.idx(r.TypeNamespace, w.Heap.StringsWide)
	e.idx(r.Implementation, w.codedWide(token.Implementation))
	return e.bytes()
}

func encodeManifestResource(r ManifestResourceRow, w Widths) []byte {
	var e rowEncoder
	e.u32(r.Offset)
	e.u32(r.Flags)
	e.idx(r.Name, w.Heap.StringsWide)
	e.idx(r.Implementation, w.codedWide(token.Implementation))
	return e.bytes()
}

func encodeNestedClass(r NestedClassRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.NestedClass, w.ridWide(token.TypeDef))
	e.idx(r.EnclosingClass, w.ridWide(token.TypeDef))
	return e.bytes()
}

func encodeGenericParam(r GenericParamRow, w Widths) []byte {
	var e rowEncoder
	e.u16(r.Number)
	e.u16(r.Flags)
	e.idx(r.Owner, w.codedWide(token.TypeOrMethodDef))
	e.idx(r.Name, w.Heap.StringsWide)
	return e.bytes()
}

func encodeMethodSpec(r MethodSpecRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Method, w.codedWide(token.MethodDefOrRef))
	e.idx(r.Instantiation, w.Heap.BlobWide)
	return e.bytes()
}

func encodeGenericParamConstraint(r GenericParamConstraintRow, w Widths) []byte {
	var e rowEncoder
	e.idx(r.Owner, w.ridWide(token.GenericParam))
	e.idx(r.Constraint, w.codedWide(token.TypeDefOrRef))
	return e.bytes()
}
