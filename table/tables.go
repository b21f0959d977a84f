package table

import (
	"fmt"

	"github.com/dnmd-io/dnmdbuilder/token"
)

// rowVector holds one table's rows plus the bookkeeping needed to support
// preferred-RID placement: placeholders are zero-valued
// rows marked unfilled until the real row arrives.
type rowVector[T any] struct {
	rows   []T
	filled []bool
}

// add implements the preferred-RID policy shared by every table:
//   - preferredRID == 0, or the slot is already filled: append, return the
//     freshly allocated RID.
//   - otherwise: grow with unfilled placeholders up to preferredRID, store
//     row there, and return that RID.
func (v *rowVector[T]) add(row T, preferredRID uint32) uint32 {
	if preferredRID == 0 || (preferredRID <= uint32(len(v.rows)) && v.filled[preferredRID-1]) {
		v.rows = append(v.rows, row)
		v.filled = append(v.filled, true)
		return uint32(len(v.rows))
	}

	for uint32(len(v.rows)) < preferredRID {
		var zero T
		v.rows = append(v.rows, zero)
		v.filled = append(v.filled, false)
	}
	v.rows[preferredRID-1] = row
	v.filled[preferredRID-1] = true
	return preferredRID
}

func (v *rowVector[T]) get(rid uint32) (T, bool) {
	if rid == 0 || rid > uint32(len(v.rows)) {
		var zero T
		return zero, false
	}
	return v.rows[rid-1], v.filled[rid-1]
}

func (v *rowVector[T]) count() uint32 {
	return uint32(len(v.rows))
}

// update applies fn to the row at rid in place. The row must already be
// filled; updating a placeholder or out-of-range RID is an error.
func (v *rowVector[T]) update(rid uint32, fn func(*T)) error {
	if rid == 0 || rid > uint32(len(v.rows)) || !v.filled[rid-1] {
		return fmt.Errorf("table: no filled row at RID %d to update", rid)
	}
	fn(&v.rows[rid-1])
	return nil
}

// Rows returns the live row slice in RID order, which differs from
// insertion order wherever a preferred RID placed a row. Callers must not
// mutate it; the ECMA sort happens on a copy at serialization time.
func (v *rowVector[T]) Rows() []T {
	return v.rows
}

// Count returns the number of rows, placeholders included.
func (v *rowVector[T]) Count() uint32 {
	return v.count()
}

// unfilledRIDs returns the 1-based RIDs of every placeholder row that was
// never actually filled in. A non-empty result is a fatal UnfilledRow
// error at directory-creation time.
func (v *rowVector[T]) unfilledRIDs() []uint32 {
	var out []uint32
	for i, ok := range v.filled {
		if !ok {
			out = append(out, uint32(i+1))
		}
	}
	return out
}

// Buffer owns 38 typed row vectors, one per table of the compressed #~
// schema; the FieldPtr, MethodPtr, ParamPtr, EventPtr, PropertyPtr,
// EncLog, and EncMap tables have none. The zero value is ready to use.
type Buffer struct {
	Module                 rowVector[ModuleRow]
	TypeRef                rowVector[TypeRefRow]
	TypeDef                rowVector[TypeDefRow]
	Field                  rowVector[FieldRow]
	MethodDef              rowVector[MethodDefRow]
	Param                  rowVector[ParamRow]
	InterfaceImpl          rowVector[InterfaceImplRow]
	MemberRef              rowVector[MemberRefRow]
	Constant               rowVector[ConstantRow]
	CustomAttribute        rowVector[CustomAttributeRow]
	FieldMarshal           rowVector[FieldMarshalRow]
	DeclSecurity           rowVector[DeclSecurityRow]
	ClassLayout            rowVector[ClassLayoutRow]
	FieldLayout            rowVector[FieldLayoutRow]
	StandAloneSig          rowVector[StandAloneSigRow]
	EventMap               rowVector[EventMapRow]
	Event                  rowVector[EventRow]
	PropertyMap            rowVector[PropertyMapRow]
	Property               rowVector[PropertyRow]
	MethodSemantics        rowVector[MethodSemanticsRow]
	MethodImpl             rowVector[MethodImplRow]
	ModuleRef              rowVector[ModuleRefRow]
	TypeSpec               rowVector[TypeSpecRow]
	ImplMap                rowVector[ImplMapRow]
	FieldRVA               rowVector[FieldRVARow]
	Assembly               rowVector[AssemblyRow]
	AssemblyProcessor      rowVector[AssemblyProcessorRow]
	AssemblyOS             rowVector[AssemblyOSRow]
	AssemblyRef            rowVector[AssemblyRefRow]
	AssemblyRefProcessor   rowVector[AssemblyRefProcessorRow]
	AssemblyRefOS          rowVector[AssemblyRefOSRow]
	File                   rowVector[FileRow]
	ExportedType           rowVector[ExportedTypeRow]
	ManifestResource       rowVector[ManifestResourceRow]
	NestedClass            rowVector[NestedClassRow]
	GenericParam           rowVector[GenericParamRow]
	MethodSpec             rowVector[MethodSpecRow]
	GenericParamConstraint rowVector[GenericParamConstraintRow]
}

// New returns an empty tables buffer.
func New() *Buffer {
	return &Buffer{}
}

func (b *Buffer) AddModule(row ModuleRow, preferredRID uint32) token.Token {
	return token.New(token.Module, b.Module.add(row, preferredRID))
}
func (b *Buffer) AddTypeRef(row TypeRefRow, preferredRID uint32) token.Token {
	return token.New(token.TypeRef, b.TypeRef.add(row, preferredRID))
}
func (b *Buffer) AddTypeDef(row TypeDefRow, preferredRID uint32) token.Token {
	return token.New(token.TypeDef, b.TypeDef.add(row, preferredRID))
}
func (b *Buffer) AddField(row FieldRow, preferredRID uint32) token.Token {
	return token.New(token.Field, b.Field.add(row, preferredRID))
}
func (b *Buffer) AddMethodDef(row MethodDefRow, preferredRID uint32) token.Token {
	return token.New(token.MethodDef, b.MethodDef.add(row, preferredRID))
}
func (b *Buffer) AddParam(row ParamRow, preferredRID uint32) token.Token {
	return token.New(token.Param, b.Param.add(row, preferredRID))
}
func (b *Buffer) AddInterfaceImpl(row InterfaceImplRow, preferredRID uint32) token.Token {
	return token.New(token.InterfaceImpl, b.InterfaceImpl.add(row, preferredRID))
}
func (b *Buffer) AddMemberRef(row MemberRefRow, preferredRID uint32) token.Token {
	return token.New(token.MemberRef, b.MemberRef.add(row, preferredRID))
}
func (b *Buffer) AddConstant(row ConstantRow, preferredRID uint32) token.Token {
	return token.New(token.Constant, b.Constant.add(row, preferredRID))
}
func (b *Buffer) AddCustomAttribute(row CustomAttributeRow, preferredRID uint32) token.Token {
	return token.New(token.CustomAttribute, b.CustomAttribute.add(row, preferredRID))
}
func (b *Buffer) AddFieldMarshal(row FieldMarshalRow, preferredRID uint32) token.Token {
	return token.New(token.FieldMarshal, b.FieldMarshal.add(row, preferredRID))
}
func (b *Buffer) AddDeclSecurity(row DeclSecurityRow, preferredRID uint32) token.Token {
	return token.New(token.DeclSecurity, b.DeclSecurity.add(row, preferredRID))
}
func (b *Buffer) AddClassLayout(row ClassLayoutRow, preferredRID uint32) token.Token {
	return token.New(token.ClassLayout, b.ClassLayout.add(row, preferredRID))
}
func (b *Buffer) AddFieldLayout(row FieldLayoutRow, preferredRID uint32) token.Token {
	return token.New(token.FieldLayout, b.FieldLayout.add(row, preferredRID))
}
func (b *Buffer) AddStandAloneSig(row StandAloneSigRow, preferredRID uint32) token.Token {
	return token.New(token.StandAloneSig, b.StandAloneSig.add(row, preferredRID))
}
func (b *Buffer) AddEventMap(row EventMapRow, preferredRID uint32) token.Token {
	return token.New(token.EventMap, b.EventMap.add(row, preferredRID))
}
func (b *Buffer) AddEvent(row EventRow, preferredRID uint32) token.Token {
	return token.New(token.Event, b.Event.add(row, preferredRID))
}
func (b *Buffer) AddPropertyMap(row PropertyMapRow, preferredRID uint32) token.Token {
	return token.New(token.PropertyMap, b.PropertyMap.add(row, preferredRID))
}
func (b *Buffer) AddProperty(row PropertyRow, preferredRID uint32) token.Token {
	return token.New(token.Property, b.Property.add(row, preferredRID))
}
func (b *Buffer) AddMethodSemantics(row MethodSemanticsRow, preferredRID uint32) token.Token {
	return token.New(token.MethodSemantics, b.MethodSemantics.add(row, preferredRID))
}
func (b *Buffer) AddMethodImpl(row MethodImplRow, preferredRID uint32) token.Token {
	return token.New(token.MethodImpl, b.MethodImpl.add(row, preferredRID))
}
func (b *Buffer) AddModuleRef(row ModuleRefRow, preferredRID uint32) token.Token {
	return token.New(token.ModuleRef, b.ModuleRef.add(row, preferredRID))
}
func (b *Buffer) AddTypeSpec(row TypeSpecRow, preferredRID uint32) token.Token {
	return token.New(token.TypeSpec, b.TypeSpec.add(row, preferredRID))
}
func (b *Buffer) AddImplMap(row ImplMapRow, preferredRID uint32) token.Token {
	return token.New(token.ImplMap, b.ImplMap.add(row, preferredRID))
}
func (b *Buffer) AddFieldRVA(row FieldRVARow, preferredRID uint32) token.Token {
	return token.New(token.FieldRVA, b.FieldRVA.add(row, preferredRID))
}
func (b *Buffer) AddAssembly(row AssemblyRow, preferredRID uint32) token.Token {
	return token.New(token.Assembly, b.Assembly.add(row, preferredRID))
}
func (b *Buffer) AddAssemblyRef(row AssemblyRefRow, preferredRID uint32) token.Token {
	return token.New(token.AssemblyRef, b.AssemblyRef.add(row, preferredRID))
}
func (b *Buffer) AddFile(row FileRow, preferredRID uint32) token.Token {
	return token.New(token.File, b.File.add(row, preferredRID))
}
func (b *Buffer) AddExportedType(row ExportedTypeRow, preferredRID uint32) token.Token {
	return token.New(token.ExportedType, b.ExportedType.add(row, preferredRID))
}
func (b *Buffer) AddManifestResource(row ManifestResourceRow, preferredRID uint32) token.Token {
	return token.New(token.ManifestResource, b.ManifestResource.add(row, preferredRID))
}
func (b *Buffer) AddNestedClass(row NestedClassRow, preferredRID uint32) token.Token {
	return token.New(token.NestedClass, b.NestedClass.add(row, preferredRID))
}
func (b *Buffer) AddGenericParam(row GenericParamRow, preferredRID uint32) token.Token {
	return token.New(token.GenericParam, b.GenericParam.add(row, preferredRID))
}
func (b *Buffer) AddMethodSpec(row MethodSpecRow, preferredRID uint32) token.Token {
	return token.New(token.MethodSpec, b.MethodSpec.add(row, preferredRID))
}
func (b *Buffer) AddGenericParamConstraint(row GenericParamConstraintRow, preferredRID uint32) token.Token {
	return token.New(token.GenericParamConstraint, b.GenericParamConstraint.add(row, preferredRID))
}

// UpdateTypeDef rewrites fields of an already-added TypeDef row. The
// directory builder does not use it: it adds each TypeDef row with its
// Extends and member-list columns already filled in.
func (b *Buffer) UpdateTypeDef(rid uint32, fn func(*TypeDefRow)) error {
	return b.TypeDef.update(rid, fn)
}

// UpdateMethodDef rewrites fields of an already-added MethodDef row;
// method-body RVAs are only known once every body has been serialized.
func (b *Buffer) UpdateMethodDef(rid uint32, fn func(*MethodDefRow)) error {
	return b.MethodDef.update(rid, fn)
}

// RowCounts returns the current row count of every table, indexed by
// TableIndex, for use by the coded-index and field-width calculators.
func (b *Buffer) RowCounts() [token.MaxTableIndex]uint32 {
	var counts [token.MaxTableIndex]uint32
	counts[token.Module] = b.Module.count()
	counts[token.TypeRef] = b.TypeRef.count()
	counts[token.TypeDef] = b.TypeDef.count()
	counts[token.Field] = b.Field.count()
	counts[token.MethodDef] = b.MethodDef.count()
	counts[token.Param] = b.Param.count()
	counts[token.InterfaceImpl] = b.InterfaceImpl.count()
	counts[token.MemberRef] = b.MemberRef.count()
	counts[token.Constant] = b.Constant.count()
	counts[token.CustomAttribute] = b.CustomAttribute.count()
	counts[token.FieldMarshal] = b.FieldMarshal.count()
	counts[token.DeclSecurity] = b.DeclSecurity.count()
	counts[token.ClassLayout] = b.ClassLayout.count()
	counts[token.FieldLayout] = b.FieldLayout.count()
	counts[token.StandAloneSig] = b.StandAloneSig.count()
	counts[token.EventMap] = b.EventMap.count()
	counts[token.Event] = b.Event.count()
	counts[token.PropertyMap] = b.PropertyMap.count()
	counts[token.Property] = b.Property.count()
	counts[token.MethodSemantics] = b.MethodSemantics.count()
	counts[token.MethodImpl] = b.MethodImpl.count()
	counts[token.ModuleRef] = b.ModuleRef.count()
	counts[token.TypeSpec] = b.TypeSpec.count()
	counts[token.ImplMap] = b.ImplMap.count()
	counts[token.FieldRVA] = b.FieldRVA.count()
	counts[token.Assembly] = b.Assembly.count()
	counts[token.AssemblyProcessor] = b.AssemblyProcessor.count()
	counts[token.AssemblyOS] = b.AssemblyOS.count()
	counts[token.AssemblyRef] = b.AssemblyRef.count()
	counts[token.AssemblyRefProcessor] = b.AssemblyRefProcessor.count()
	counts[token.AssemblyRefOS] = b.AssemblyRefOS.count()
	counts[token.File] = b.File.count()
	counts[token.ExportedType] = b.ExportedType.count()
	counts[token.ManifestResource] = b.ManifestResource.count()
	counts[token.NestedClass] = b.NestedClass.count()
	counts[token.GenericParam] = b.GenericParam.count()
	counts[token.MethodSpec] = b.MethodSpec.count()
	counts[token.GenericParamConstraint] = b.GenericParamConstraint.count()
	return counts
}

// CheckFilled returns an error naming the first table with an unfilled
// placeholder row, or nil if every preferred-RID slot was eventually
// written.
func (b *Buffer) CheckFilled() error {
	check := func(name string, rids []uint32) error {
		if len(rids) == 0 {
			return nil
		}
		return fmt.Errorf("table: %s has unfilled placeholder rows at RIDs %v", name, rids)
	}
	type named struct {
		name string
		rids []uint32
	}
	all := []named{
		{"Module", b.Module.unfilledRIDs()},
		{"TypeRef", b.TypeRef.unfilledRIDs()},
		{"TypeDef", b.TypeDef.unfilledRIDs()},
		{"Field", b.Field.unfilledRIDs()},
		{"MethodDef", b.MethodDef.unfilledRIDs()},
		{"Param", b.Param.unfilledRIDs()},
		{"InterfaceImpl", b.InterfaceImpl.unfilledRIDs()},
		{"MemberRef", b.MemberRef.unfilledRIDs()},
		{"Constant", b.Constant.unfilledRIDs()},
		{"CustomAttribute", b.CustomAttribute.unfilledRIDs()},
		{"FieldMarshal", b.FieldMarshal.unfilledRIDs()},
		{"DeclSecurity", b.DeclSecurity.unfilledRIDs()},
		{"ClassLayout", b.ClassLayout.unfilledRIDs()},
		{"FieldLayout", b.FieldLayout.unfilledRIDs()},
		{"StandAloneSig", b.StandAloneSig.unfilledRIDs()},
		{"EventMap", b.EventMap.unfilledRIDs()},
		{"Event", b.Event.unfilledRIDs()},
		{"PropertyMap", b.PropertyMap.unfilledRIDs()},
		{"Property", b.Property.unfilledRIDs()},
		{"MethodSemantics", b.MethodSemantics.unfilledRIDs()},
		{"MethodImpl", b.MethodImpl.unfilledRIDs()},
		{"ModuleRef", b.ModuleRef.unfilledRIDs()},
		{"TypeSpec", b.TypeSpec.unfilledRIDs()},
		{"ImplMap", b.ImplMap.unfilledRIDs()},
		{"FieldRVA", b.FieldRVA.unfilledRIDs()},
		{"Assembly", b.Assembly.unfilledRIDs()},
		{"AssemblyRef", b.AssemblyRef.unfilledRIDs()},
		{"File", b.File.unfilledRIDs()},
		{"ExportedType", b.ExportedType.unfilledRIDs()},
		{"ManifestResource", b.ManifestResource.unfilledRIDs()},
		{"NestedClass", b.NestedClass.unfilledRIDs()},
		{"GenericParam", b.GenericParam.unfilledRIDs()},
		{"MethodSpec", b.MethodSpec.unfilledRIDs()},
		{"GenericParamConstraint", b.GenericParamConstraint.unfilledRIDs()},
	}
	for _, n := range all {
		if err := check(n.name, n.rids); err != nil {
			return err
		}
	}
	return nil
}
