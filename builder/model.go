package builder

import (
	"github.com/dnmd-io/dnmdbuilder/cil"
	"github.com/dnmd-io/dnmdbuilder/heap"
	"github.com/dnmd-io/dnmdbuilder/sig"
	"github.com/dnmd-io/dnmdbuilder/token"
)

// The source object model: the in-memory graph the builder walks. The
// builder only reads it; callers build it up (by hand or through a
// reader, which is outside this module) and hand the root Module to New.
//
// Every importable object embeds Member, which carries the owning module
// for the ownership assertion and the member's original token, whose RID
// the builder prefers when re-emitting an existing assembly.

// ModuleProvider is the minimal ownership capability: every imported
// object must expose its owning module. Identity is pointer equality;
// the builder never dereferences the result beyond comparing it.
type ModuleProvider interface {
	OwningModule() *Module
}

// Member is the common header of every importable source object.
type Member struct {
	Owner         *Module
	OriginalToken token.Token
}

func (m *Member) OwningModule() *Module {
	return m.Owner
}

// Module is the root of the source graph.
type Module struct {
	Name       string
	Mvid       heap.GUID // zero requests a builder-generated MVID
	Generation uint16
	EncID      heap.GUID
	EncBaseID  heap.GUID

	// Attributes is the CLI-header flags bitmask, copied verbatim into
	// the directory's Flags field.
	Attributes uint32

	// Assembly carries the Assembly-table row data. When nil the builder
	// synthesizes a minimal row from the module name.
	Assembly *AssemblyInfo

	// EntryPoint and EntryPointFile are mutually exclusive; both nil
	// means no managed entry point.
	EntryPoint     *MethodDef
	EntryPointFile *FileRef

	Types            []*TypeDef
	Resources        []*ManagedResource
	Files            []*FileRef
	ExportedTypes    []*ExportedType
	CustomAttributes []*CustomAttribute
}

// AssemblyInfo is the Assembly-table row data plus the attributes and
// security declarations that hang off the assembly row.
type AssemblyInfo struct {
	HashAlgID      uint32
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	Flags          uint32
	PublicKey      []byte
	Name           string
	Culture        string

	CustomAttributes []*CustomAttribute
	DeclSecurity     []*DeclSecurity
}

// TypeDef is a type declared by this module.
type TypeDef struct {
	Member
	Namespace string
	Name      string
	Flags     uint32

	// BaseType is a *TypeDef, *TypeRef, or *TypeSpec, or nil for
	// interfaces and <Module>.
	BaseType any

	Fields     []*FieldDef
	Methods    []*MethodDef
	Properties []*PropertyDef
	Events     []*EventDef

	// NestedTypes get their own TypeDef rows plus NestedClass relations
	// back to this type.
	NestedTypes []*TypeDef

	// Interfaces lists implemented interfaces as *TypeDef, *TypeRef, or
	// *TypeSpec.
	Interfaces []any

	GenericParams []*GenericParam

	// MethodImpls are explicit overrides: Body must resolve to a
	// MethodDefOrRef, as must Declaration.
	MethodImpls []MethodImpl

	Layout           *ClassLayout
	CustomAttributes []*CustomAttribute
	DeclSecurity     []*DeclSecurity
}

// MethodImpl pairs an implementing method body with the declaration it
// overrides.
type MethodImpl struct {
	Body        any
	Declaration any
}

// ClassLayout is explicit packing/size for a type.
type ClassLayout struct {
	PackingSize uint16
	ClassSize   uint32
}

// FieldDef is a field declared by a TypeDef.
type FieldDef struct {
	Member
	Name      string
	Flags     uint16
	Signature *sig.FieldSig

	Constant *Constant
	Marshal  []byte  // native-type blob, nil when unmarshalled
	Offset   *uint32 // explicit field layout, nil when automatic
	RVA      *uint32 // mapped initial data, nil when none
	ImplMap  *ImplMap

	CustomAttributes []*CustomAttribute
}

// MethodDef is a method declared by a TypeDef.
type MethodDef struct {
	Member
	Name      string
	Flags     uint16
	ImplFlags uint16
	Signature *sig.MethodSig
	Params    []*ParamDef
	Body      *cil.Body // nil for abstract, runtime, and P/Invoke methods

	GenericParams []*GenericParam
	ImplMap       *ImplMap

	CustomAttributes []*CustomAttribute
	DeclSecurity     []*DeclSecurity
}

// ParamDef is one declared parameter of a MethodDef. Sequence 0 names
// the return value; 1 is the first parameter.
type ParamDef struct {
	Member
	Name     string
	Flags    uint16
	Sequence uint16

	Constant *Constant
	Marshal  []byte

	CustomAttributes []*CustomAttribute
}

// PropertyDef is a property declared by a TypeDef, with its accessor
// methods wired through MethodSemantics rows.
type PropertyDef struct {
	Member
	Name      string
	Flags     uint16
	Signature *sig.PropertySig

	Getter *MethodDef
	Setter *MethodDef
	Others []*MethodDef

	Constant         *Constant
	CustomAttributes []*CustomAttribute
}

// EventDef is an event declared by a TypeDef.
type EventDef struct {
	Member
	Name  string
	Flags uint16

	// EventType is a *TypeDef, *TypeRef, or *TypeSpec naming the
	// delegate type.
	EventType any

	AddOn    *MethodDef
	RemoveOn *MethodDef
	Fire     *MethodDef
	Others   []*MethodDef

	CustomAttributes []*CustomAttribute
}

// GenericParam is one generic parameter of a type or method.
type GenericParam struct {
	Member
	Number uint16
	Flags  uint16
	Name   string

	// Constraints are *TypeDef, *TypeRef, or *TypeSpec.
	Constraints []any

	CustomAttributes []*CustomAttribute
}

// Constant is a compile-time default value for a field, param, or
// property. Type is the ELEMENT_TYPE byte of the value.
type Constant struct {
	Type  byte
	Value []byte
}

// ImplMap is a P/Invoke forwarding declaration.
type ImplMap struct {
	MappingFlags uint16
	ImportName   string
	ImportScope  *ModuleRef
}

// DeclSecurity is one declarative-security action with its serialized
// permission set.
type DeclSecurity struct {
	Action        uint16
	PermissionSet []byte
}

// CustomAttribute instantiates an attribute type. Constructor is a
// *MethodDef or *MemberRef; Value is the raw serialized attribute blob
// (fixed args + named args), carried opaquely.
type CustomAttribute struct {
	Constructor any
	Value       []byte
}

// AssemblyRef references an external assembly.
type AssemblyRef struct {
	Member
	Name             string
	Culture          string
	MajorVersion     uint16
	MinorVersion     uint16
	BuildNumber      uint16
	RevisionNumber   uint16
	Flags            uint32
	PublicKeyOrToken []byte
	Hash             []byte
}

// TypeRef references a type resolved in another scope. Scope is nil for
// the current module, or a *ModuleRef, *AssemblyRef, or *TypeRef (for
// nested types).
type TypeRef struct {
	Member
	Scope     any
	Namespace string
	Name      string
}

// TypeSpec references a constructed type by signature.
type TypeSpec struct {
	Member
	Signature sig.TypeSig
}

// MemberRef references a field or method of another type. Parent is a
// *TypeDef, *TypeRef, *TypeSpec, *ModuleRef, or *MethodDef; Signature is
// a *sig.MethodSig or *sig.FieldSig.
type MemberRef struct {
	Member
	Parent    any
	Name      string
	Signature any
}

// ModuleRef references an external (usually unmanaged) module by name.
type ModuleRef struct {
	Member
	Name string
}

// MethodSpec instantiates a generic method. Method is a *MethodDef or
// *MemberRef.
type MethodSpec struct {
	Member
	Method        any
	Instantiation []sig.TypeSig
}

// StandAloneSig wraps a signature destined for the StandAloneSig table:
// a *sig.LocalVarSig or a *sig.MethodSig (for calli call sites).
type StandAloneSig struct {
	Member
	Signature any
}

// FileRef is one file of a multi-file assembly.
type FileRef struct {
	Member
	Name  string
	Flags uint32
	Hash  []byte
}

// ExportedType forwards a type of a multi-module assembly.
// Implementation is a *FileRef, *AssemblyRef, or *ExportedType (for
// nesting).
type ExportedType struct {
	Member
	Flags          uint32
	TypeDefID      uint32
	Namespace      string
	Name           string
	Implementation any
}

// ManagedResource is one manifest resource. Data carries the payload of
// an embedded resource; Implementation (*FileRef or *AssemblyRef) with
// Offset locates an external one.
type ManagedResource struct {
	Member
	Name  string
	Flags uint32

	Data           []byte
	Implementation any
	Offset         uint32
}
