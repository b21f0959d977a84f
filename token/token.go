// Package token defines the metadata token, the per-table row identifier,
// and the coded-index scheme ECMA-335 uses to pack a reference to one of
// several possible tables into a single integer field.
package token

import "fmt"

// TableIndex names one of the tables-stream tables. The numeric values are
// the ECMA-335 table tags (II.22), used directly as the high byte of a
// Token.
type TableIndex uint8

const (
	Module                 TableIndex = 0x00
	TypeRef                TableIndex = 0x01
	TypeDef                TableIndex = 0x02
	Field                  TableIndex = 0x04
	MethodDef              TableIndex = 0x06
	Param                  TableIndex = 0x08
	InterfaceImpl          TableIndex = 0x09
	MemberRef              TableIndex = 0x0A
	Constant               TableIndex = 0x0B
	CustomAttribute        TableIndex = 0x0C
	FieldMarshal           TableIndex = 0x0D
	DeclSecurity           TableIndex = 0x0E
	ClassLayout            TableIndex = 0x0F
	FieldLayout            TableIndex = 0x10
	StandAloneSig          TableIndex = 0x11
	EventMap               TableIndex = 0x12
	Event                  TableIndex = 0x14
	PropertyMap            TableIndex = 0x15
	Property               TableIndex = 0x17
	MethodSemantics        TableIndex = 0x18
	MethodImpl             TableIndex = 0x19
	ModuleRef              TableIndex = 0x1A
	TypeSpec               TableIndex = 0x1B
	ImplMap                TableIndex = 0x1C
	FieldRVA               TableIndex = 0x1D
	Assembly               TableIndex = 0x20
	AssemblyProcessor      TableIndex = 0x21
	AssemblyOS             TableIndex = 0x22
	AssemblyRef            TableIndex = 0x23
	AssemblyRefProcessor   TableIndex = 0x24
	AssemblyRefOS          TableIndex = 0x25
	File                   TableIndex = 0x26
	ExportedType           TableIndex = 0x27
	ManifestResource       TableIndex = 0x28
	NestedClass            TableIndex = 0x29
	GenericParam           TableIndex = 0x2A
	MethodSpec             TableIndex = 0x2B
	GenericParamConstraint TableIndex = 0x2C

	// MaxTableIndex is one past the highest tag any real table uses; the
	// row-count arrays of the tables buffer and width calculator are sized
	// to this so unreserved tags never need a bounds check at the call site.
	MaxTableIndex TableIndex = 0x2D

	// UserString is not a table tag at all: ECMA reserves 0x70 as a
	// pseudo-table for CIL ldstr operands, which name a slot in the
	// #US heap rather than a table row.
	UserString TableIndex = 0x70
)

var tableNames = map[TableIndex]string{
	Module: "Module", TypeRef: "TypeRef", TypeDef: "TypeDef", Field: "Field",
	MethodDef: "MethodDef", Param: "Param", InterfaceImpl: "InterfaceImpl",
	MemberRef: "MemberRef", Constant: "Constant", CustomAttribute: "CustomAttribute",
	FieldMarshal: "FieldMarshal", DeclSecurity: "DeclSecurity", ClassLayout: "ClassLayout",
	FieldLayout: "FieldLayout", StandAloneSig: "StandAloneSig", EventMap: "EventMap",
	Event: "Event", PropertyMap: "PropertyMap", Property: "Property",
	MethodSemantics: "MethodSemantics", MethodImpl: "MethodImpl", ModuleRef: "ModuleRef",
	TypeSpec: "TypeSpec", ImplMap: "ImplMap", FieldRVA: "FieldRVA", Assembly: "Assembly",
	AssemblyProcessor: "AssemblyProcessor", AssemblyOS: "AssemblyOS", AssemblyRef: "AssemblyRef",
	AssemblyRefProcessor: "AssemblyRefProcessor", AssemblyRefOS: "AssemblyRefOS", File: "File",
	ExportedType: "ExportedType", ManifestResource: "ManifestResource", NestedClass: "NestedClass",
	GenericParam: "GenericParam", MethodSpec: "MethodSpec", GenericParamConstraint: "GenericParamConstraint",
	UserString: "UserString",
}

func (t TableIndex) String() string {
	if name, ok := tableNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TableIndex(0x%02X)", uint8(t))
}

// Token is a metadata token: a table tag in the high byte and a 1-based row
// identifier in the low 24 bits. The zero Token is the null token (rid 0).
type Token uint32

// New packs a table tag and RID into a Token. rid == 0 yields the null
// token regardless of table.
func New(table TableIndex, rid uint32) Token {
	if rid == 0 {
		return 0
	}
	return Token(uint32(table)<<24 | (rid & 0x00FFFFFF))
}

// Table returns the table tag encoded in t.
func (t Token) Table() TableIndex {
	return TableIndex(t >> 24)
}

// RID returns the 1-based row identifier encoded in t, or 0 for the null
// token.
func (t Token) RID() uint32 {
	return uint32(t) & 0x00FFFFFF
}

// IsNull reports whether t is the null token (rid 0, regardless of table).
func (t Token) IsNull() bool {
	return t.RID() == 0
}

func (t Token) String() string {
	return fmt.Sprintf("%s[0x%06X]", t.Table(), t.RID())
}
