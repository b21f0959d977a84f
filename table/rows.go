// Package table owns the typed row vectors of the ECMA-335 tables
// stream: RID allocation, ECMA-mandated sort order, and field-width
// computation (spec.md §3.3, §4.2). It has one row vector per table of
// the compressed #~ schema, 38 in all; the FieldPtr, MethodPtr, ParamPtr,
// EventPtr, PropertyPtr, EncLog, and EncMap tables are not represented.
package table

import "github.com/dnmd-io/dnmdbuilder/token"

// Each row type below mirrors one ECMA-335 table (II.22). Heap-index
// fields are uint32 (the tables buffer narrows them to 2 or 4 bytes only
// at serialization time, per spec.md §3.3); RID and coded-index fields
// are likewise uint32 until then. This is the tagged-variant-per-table
// design spec.md §9 calls for, instead of a class hierarchy.

type ModuleRow struct {
	Generation uint16
	Name       uint32 // #Strings
	Mvid       uint32 // #GUID
	EncID      uint32 // #GUID
	EncBaseID  uint32 // #GUID
}

type TypeRefRow struct {
	ResolutionScope uint32 // coded index: ResolutionScope
	Name            uint32 // #Strings
	Namespace       uint32 // #Strings
}

type TypeDefRow struct {
	Flags      uint32
	Name       uint32 // #Strings
	Namespace  uint32 // #Strings
	Extends    uint32 // coded index: TypeDefOrRef
	FieldList  uint32 // RID into Field
	MethodList uint32 // RID into MethodDef
}

type FieldRow struct {
	Flags     uint16
	Name      uint32 // #Strings
	Signature uint32 // #Blob
}

type MethodDefRow struct {
	RVA       uint32
	ImplFlags uint16
	Flags     uint16
	Name      uint32 // #Strings
	Signature uint32 // #Blob
	ParamList uint32 // RID into Param
}

type ParamRow struct {
	Flags    uint16
	Sequence uint16
	Name     uint32 // #Strings
}

type InterfaceImplRow struct {
	Class     uint32 // RID into TypeDef
	Interface uint32 // coded index: TypeDefOrRef
}

type MemberRefRow struct {
	Class     uint32 // coded index: MemberRefParent
	Name      uint32 // #Strings
	Signature uint32 // #Blob
}

type ConstantRow struct {
	Type   byte
	Parent uint32 // coded index: HasConstant
	Value  uint32 // #Blob
}

type CustomAttributeRow struct {
	Parent uint32 // coded index: HasCustomAttribute
	Type   uint32 // coded index: CustomAttributeType
	Value  uint32 // #Blob
}

type FieldMarshalRow struct {
	Parent     uint32 // coded index: HasFieldMarshal
	NativeType uint32 // #Blob
}

type DeclSecurityRow struct {
	Action        uint16
	Parent        uint32 // coded index: HasDeclSecurity
	PermissionSet uint32 // #Blob
}

type ClassLayoutRow struct {
	PackingSize uint16
	ClassSize   uint32
	Parent      uint32 // RID into TypeDef
}

type FieldLayoutRow struct {
	Offset uint32
	Field  uint32 // RID into Field
}

type StandAloneSigRow struct {
	Signature uint32 // #Blob
}

type EventMapRow struct {
	Parent    uint32 // RID into TypeDef
	EventList uint32 // RID into Event
}

type EventRow struct {
	EventFlags uint16
	Name       uint32 // #Strings
	EventType  uint32 // coded index: TypeDefOrRef
}

type PropertyMapRow struct {
	Parent       uint32 // RID into TypeDef
	PropertyList uint32 // RID into Property
}

type PropertyRow struct {
	Flags uint16
	Name  uint32 // #Strings
	Type  uint32 // #Blob
}

type MethodSemanticsRow struct {
	Semantics   uint16
	Method      uint32 // RID into MethodDef
	Association uint32 // coded index: HasSemantics
}

type MethodImplRow struct {
	Class             uint32 // RID into TypeDef
	MethodBody        uint32 // coded index: MethodDefOrRef
	MethodDeclaration uint32 // coded index: MethodDefOrRef
}

type ModuleRefRow struct {
	Name uint32 // #Strings
}

type TypeSpecRow struct {
	Signature uint32 // #Blob
}

type ImplMapRow struct {
	MappingFlags    uint16
	MemberForwarded uint32 // coded index: MemberForwarded
	ImportName      uint32 // #Strings
	ImportScope     uint32 // RID into ModuleRef
}

type FieldRVARow struct {
	RVA   uint32
	Field uint32 // RID into Field
}

type AssemblyRow struct {
	HashAlgID      uint32
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	Flags          uint32
	PublicKey      uint32 // #Blob
	Name           uint32 // #Strings
	Culture        uint32 // #Strings
}

type AssemblyProcessorRow struct {
	Processor uint32
}

type AssemblyOSRow struct {
	OSPlatformID   uint32
	OSMajorVersion uint32
	OSMinorVersion uint32
}

type AssemblyRefRow struct {
	MajorVersion     uint16
	MinorVersion     uint16
	BuildNumber      uint16
	RevisionNumber   uint16
	Flags            uint32
	PublicKeyOrToken uint32 // #Blob
	Name             uint32 // #Strings
	Culture          uint32 // #Strings
	HashValue        uint32 // #Blob
}

type AssemblyRefProcessorRow struct {
	Processor   uint32
	AssemblyRef uint32 // RID into AssemblyRef
}

type AssemblyRefOSRow struct {
	OSPlatformID   uint32
	OSMajorVersion uint32
	OSMinorVersion uint32
	AssemblyRef    uint32 // RID into AssemblyRef
}

type FileRow struct {
	Flags     uint32
	Name      uint32 // #Strings
	HashValue uint32 // #Blob
}

type ExportedTypeRow struct {
	Flags          uint32
	TypeDefID      uint32
	TypeName       uint32 // #Strings
	TypeNamespace  uint32 // #Strings
	Implementation uint32 // coded index: Implementation
}

type ManifestResourceRow struct {
	Offset         uint32
	Flags          uint32
	Name           uint32 // #Strings
	Implementation uint32 // coded index: Implementation (0 = embedded in this module)
}

type NestedClassRow struct {
	NestedClass    uint32 // RID into TypeDef
	EnclosingClass uint32 // RID into TypeDef
}

type GenericParamRow struct {
	Number uint16
	Flags  uint16
	Owner  uint32 // coded index: TypeOrMethodDef
	Name   uint32 // #Strings
}

type MethodSpecRow struct {
	Method        uint32 // coded index: MethodDefOrRef
	Instantiation uint32 // #Blob
}

type GenericParamConstraintRow struct {
	Owner      uint32 // RID into GenericParam
	Constraint uint32 // coded index: TypeDefOrRef
}

// This blank map ties each TableIndex to the Go type of its row, purely
// for documentation; the tables buffer keeps one concretely typed slice per
// table rather than a map keyed by this.
var _ = map[token.TableIndex]any{
	token.Module:                 ModuleRow{},
	token.TypeRef:                TypeRefRow{},
	token.TypeDef:                TypeDefRow{},
	token.Field:                  FieldRow{},
	token.MethodDef:              MethodDefRow{},
	token.Param:                  ParamRow{},
	token.InterfaceImpl:          InterfaceImplRow{},
	token.MemberRef:              MemberRefRow{},
	token.Constant:               ConstantRow{},
	token.CustomAttribute:        CustomAttributeRow{},
	token.FieldMarshal:           FieldMarshalRow{},
	token.DeclSecurity:           DeclSecurityRow{},
	token.ClassLayout:            ClassLayoutRow{},
	token.FieldLayout:            FieldLayoutRow{},
	token.StandAloneSig:          StandAloneSigRow{},
	token.EventMap:               EventMapRow{},
	token.Event:                  EventRow{},
	token.PropertyMap:            PropertyMapRow{},
	token.Property:               PropertyRow{},
	token.MethodSemantics:        MethodSemanticsRow{},
	token.MethodImpl:             MethodImplRow{},
	token.ModuleRef:              ModuleRefRow{},
	token.TypeSpec:               TypeSpecRow{},
	token.ImplMap:                ImplMapRow{},
	token.FieldRVA:               FieldRVARow{},
	token.Assembly:               AssemblyRow{},
	token.AssemblyProcessor:      AssemblyProcessorRow{},
	token.AssemblyOS:             AssemblyOSRow{},
	token.AssemblyRef:            AssemblyRefRow{},
	token.AssemblyRefProcessor:   AssemblyRefProcessorRow{},
	token.AssemblyRefOS:          AssemblyRefOSRow{},
	token.File:                   FileRow{},
	token.ExportedType:           ExportedTypeRow{},
	token.ManifestResource:       ManifestResourceRow{},
	token.NestedClass:            NestedClassRow{},
	token.GenericParam:           GenericParamRow{},
	token.MethodSpec:             MethodSpecRow{},
	token.GenericParamConstraint: GenericParamConstraintRow{},
}
