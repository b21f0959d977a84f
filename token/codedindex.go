package token

import (
	"fmt"
	"math/bits"
)

// Category names one of the 13 coded-index kinds ECMA-335 defines (II.24.2.6).
// Each category is a tagged union over a small, fixed, ordered list of
// tables; the tag occupies the low bits of the encoded value and the RID
// occupies the rest.
type Category int

const (
	TypeDefOrRef Category = iota
	HasConstant
	HasCustomAttribute
	HasFieldMarshal
	HasDeclSecurity
	MemberRefParent
	HasSemantics
	MethodDefOrRef
	MemberForwarded
	Implementation
	CustomAttributeType
	ResolutionScope
	TypeOrMethodDef

	numCategories
)

// categoryTables lists, for each category, the ordered member tables. The
// tag of a table within a category is its position in this slice; entries
// of 0xFF mark an unused tag ECMA reserves without assigning it a table
// (CustomAttributeType has three of these).
const unusedTag TableIndex = 0xFF

var categoryTables = [numCategories][]TableIndex{
	TypeDefOrRef: {TypeDef, TypeRef, TypeSpec},
	HasConstant:  {Field, Param, Property},
	HasCustomAttribute: {
		MethodDef, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef,
		Module, DeclSecurity, Property, Event, StandAloneSig, ModuleRef,
		TypeSpec, Assembly, AssemblyRef, File, ExportedType, ManifestResource,
		GenericParam, GenericParamConstraint, MethodSpec,
	},
	HasFieldMarshal:     {Field, Param},
	HasDeclSecurity:     {TypeDef, MethodDef, Assembly},
	MemberRefParent:     {TypeDef, TypeRef, ModuleRef, MethodDef, TypeSpec},
	HasSemantics:        {Event, Property},
	MethodDefOrRef:      {MethodDef, MemberRef},
	MemberForwarded:     {Field, MethodDef},
	Implementation:      {File, AssemblyRef, ExportedType},
	CustomAttributeType: {unusedTag, unusedTag, MethodDef, MemberRef, unusedTag},
	ResolutionScope:     {Module, ModuleRef, AssemblyRef, TypeRef},
	TypeOrMethodDef:     {TypeDef, MethodDef},
}

var categoryNames = [numCategories]string{
	"TypeDefOrRef", "HasConstant", "HasCustomAttribute", "HasFieldMarshal",
	"HasDeclSecurity", "MemberRefParent", "HasSemantics", "MethodDefOrRef",
	"MemberForwarded", "Implementation", "CustomAttributeType",
	"ResolutionScope", "TypeOrMethodDef",
}

func (c Category) String() string {
	if c < 0 || int(c) >= int(numCategories) {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// TagBits returns ceil(log2(len(tables in category))), the number of low
// bits a coded index of this category reserves for the table tag.
func (c Category) TagBits() uint {
	n := len(categoryTables[c])
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}

// Tables returns the ordered member-table list for c. The returned slice
// must not be mutated.
func (c Category) Tables() []TableIndex {
	return categoryTables[c]
}

// tagOf returns the tag of table within category c, or an error if table is
// not a member of c.
func (c Category) tagOf(table TableIndex) (uint32, error) {
	for i, t := range categoryTables[c] {
		if t == table && t != unusedTag {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("token: table %s is not a member of coded-index category %s", table, c)
}

// CodedIndex is a pure function over the static category tables: it packs
// (category, token) into a single integer and back, with no dependency on
// row counts. The tables buffer's field-width decision (2 vs 4 bytes) is a
// separate concern layered on top in package table.
type CodedIndex struct {
	Category Category
}

// NewCodedIndex returns the encoder for category c.
func NewCodedIndex(c Category) CodedIndex {
	return CodedIndex{Category: c}
}

// Encode packs t into this category's coded-index representation. The null
// token always encodes as 0, regardless of category or table.
func (ci CodedIndex) Encode(t Token) (uint32, error) {
	if t.IsNull() {
		return 0, nil
	}
	tag, err := ci.Category.tagOf(t.Table())
	if err != nil {
		return 0, err
	}
	rid := t.RID()
	tagBits := ci.Category.TagBits()
	if rid > (1<<(32-tagBits))-1 {
		return 0, fmt.Errorf("token: rid 0x%X overflows coded index for category %s", rid, ci.Category)
	}
	return rid<<tagBits | tag, nil
}

// Decode unpacks a coded-index value previously produced by Encode. A value
// of 0 decodes to the null token.
func (ci CodedIndex) Decode(v uint32) (Token, error) {
	if v == 0 {
		return 0, nil
	}
	tagBits := ci.Category.TagBits()
	mask := uint32(1)<<tagBits - 1
	tag := v & mask
	rid := v >> tagBits
	tables := ci.Category.Tables()
	if tag >= uint32(len(tables)) || tables[tag] == unusedTag {
		return 0, fmt.Errorf("token: coded index tag %d is not valid for category %s", tag, ci.Category)
	}
	return New(tables[tag], rid), nil
}

// NeedsWideField computes whether a coded index of category c needs a
// 4-byte field, given the row count of each of its member tables (indexed
// by TableIndex; entries for tables not in the category are ignored).
// A 4-byte field is needed when max_member_rid << tag_bits > 0xFFFF.
func (c Category) NeedsWideField(rowCounts [MaxTableIndex]uint32) bool {
	var maxRows uint32
	for _, t := range categoryTables[c] {
		if t == unusedTag {
			continue
		}
		if rowCounts[t] > maxRows {
			maxRows = rowCounts[t]
		}
	}
	tagBits := c.TagBits()
	return uint64(maxRows)<<tagBits > 0xFFFF
}
