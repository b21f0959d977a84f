// Package sig models ECMA-335 signatures as element-type trees and
// serializes them into blob-heap bytes (§II.23.2). Every named type a
// signature embeds is resolved to a TypeDefOrRef coded index through a
// Resolver callback, which is how signature emission and type import stay
// mutually recursive without the two packages owning each other.
package sig

// ElementType is one of the element-type bytes of ECMA-335 §II.23.1.16.
type ElementType byte

const (
	ElemEnd         ElementType = 0x00
	ElemVoid        ElementType = 0x01
	ElemBoolean     ElementType = 0x02
	ElemChar        ElementType = 0x03
	ElemI1          ElementType = 0x04
	ElemU1          ElementType = 0x05
	ElemI2          ElementType = 0x06
	ElemU2          ElementType = 0x07
	ElemI4          ElementType = 0x08
	ElemU4          ElementType = 0x09
	ElemI8          ElementType = 0x0A
	ElemU8          ElementType = 0x0B
	ElemR4          ElementType = 0x0C
	ElemR8          ElementType = 0x0D
	ElemString      ElementType = 0x0E
	ElemPtr         ElementType = 0x0F
	ElemByRef       ElementType = 0x10
	ElemValueType   ElementType = 0x11
	ElemClass       ElementType = 0x12
	ElemVar         ElementType = 0x13
	ElemArray       ElementType = 0x14
	ElemGenericInst ElementType = 0x15
	ElemTypedByRef  ElementType = 0x16
	ElemI           ElementType = 0x18
	ElemU           ElementType = 0x19
	ElemFnPtr       ElementType = 0x1B
	ElemObject      ElementType = 0x1C
	ElemSZArray     ElementType = 0x1D
	ElemMVar        ElementType = 0x1E
	ElemCModReqd    ElementType = 0x1F
	ElemCModOpt     ElementType = 0x20
	ElemInternal    ElementType = 0x21
	ElemModifier    ElementType = 0x40
	ElemSentinel    ElementType = 0x41
	ElemPinned      ElementType = 0x45
)

// Calling-convention bytes and flags (§II.23.2.3). The low nibble selects
// the kind; the high bits are flags OR'd on top.
const (
	CallConvDefault     byte = 0x00
	CallConvC           byte = 0x01
	CallConvStdCall     byte = 0x02
	CallConvThisCall    byte = 0x03
	CallConvFastCall    byte = 0x04
	CallConvVararg      byte = 0x05
	CallConvField       byte = 0x06
	CallConvLocalSig    byte = 0x07
	CallConvProperty    byte = 0x08
	CallConvGenericInst byte = 0x0A

	CallConvGeneric      byte = 0x10
	CallConvHasThis      byte = 0x20
	CallConvExplicitThis byte = 0x40
)

// TypeSig is one node of an element-type tree. Nodes that name a type
// from the source object graph (ClassSig, GenericInstSig, ModifierSig)
// hold the object opaquely; the serializer hands it to the Resolver and
// never looks inside, which is also what breaks signature cycles like
// `class C<T> where T : C<T>`: the named type resolves to a token
// instead of being walked again.
type TypeSig interface {
	isTypeSig()
}

// PrimitiveSig is a single-element-type leaf: VOID, BOOLEAN, the numeric
// types, STRING, OBJECT, I, U, or TYPEDBYREF.
type PrimitiveSig struct {
	Elem ElementType
}

// ClassSig names a class or value type from the source graph
// (CLASS or VALUETYPE followed by a TypeDefOrRef coded index).
type ClassSig struct {
	ValueType bool
	Type      any
}

// SZArraySig is a single-dimensional, zero-lower-bound array.
type SZArraySig struct {
	Elem TypeSig
}

// ArraySig is a general array with explicit rank, sizes, and lower
// bounds (§II.23.2.13).
type ArraySig struct {
	Elem     TypeSig
	Rank     uint32
	Sizes    []uint32
	LoBounds []int32
}

// PointerSig is an unmanaged pointer.
type PointerSig struct {
	Elem TypeSig
}

// GenericInstSig is an instantiated generic type.
type GenericInstSig struct {
	ValueType bool
	Type      any
	Args      []TypeSig
}

// GenericParamSig references a generic parameter by position: VAR for a
// type's parameter, MVAR for a method's.
type GenericParamSig struct {
	Method bool
	Number uint32
}

// FnPtrSig is a function pointer carrying a full method signature.
type FnPtrSig struct {
	Method *MethodSig
}

// ModifierSig wraps an inner type with a required or optional custom
// modifier (CMOD_REQD / CMOD_OPT).
type ModifierSig struct {
	Required bool
	Modifier any
	Elem     TypeSig
}

// PinnedSig marks a local-variable type as pinned.
type PinnedSig struct {
	Elem TypeSig
}

func (*PrimitiveSig) isTypeSig()    {}
func (*ClassSig) isTypeSig()        {}
func (*SZArraySig) isTypeSig()      {}
func (*ArraySig) isTypeSig()        {}
func (*PointerSig) isTypeSig()      {}
func (*GenericInstSig) isTypeSig()  {}
func (*GenericParamSig) isTypeSig() {}
func (*FnPtrSig) isTypeSig()        {}
func (*ModifierSig) isTypeSig()     {}
func (*PinnedSig) isTypeSig()       {}

// ParamSig is one parameter (or the return slot) of a method or property
// signature.
type ParamSig struct {
	ByRef bool
	Type  TypeSig
}

// MethodSig is a MethodDefSig / MethodRefSig (§II.23.2.1, §II.23.2.2).
// The CallConv field carries the kind nibble plus HasThis/ExplicitThis;
// the Generic flag is derived from GenericParamCount at encode time.
// VarargParams, when present, are emitted after the SENTINEL marker.
type MethodSig struct {
	CallConv          byte
	GenericParamCount uint32
	Return            ParamSig
	Params            []ParamSig
	VarargParams      []ParamSig
}

// FieldSig is a FieldSig (§II.23.2.4). Custom modifiers ride on the type
// via ModifierSig.
type FieldSig struct {
	Type TypeSig
}

// PropertySig is a PropertySig (§II.23.2.5): the property type plus the
// indexer parameters, if any.
type PropertySig struct {
	HasThis bool
	Type    TypeSig
	Params  []ParamSig
}

// LocalSig is one local-variable slot of a LocalVarSig.
type LocalSig struct {
	Pinned bool
	ByRef  bool
	Type   TypeSig
}

// LocalVarSig is a LocalVarSig (§II.23.2.6).
type LocalVarSig struct {
	Locals []LocalSig
}

// Primitive is shorthand for a one-byte leaf signature.
func Primitive(e ElementType) *PrimitiveSig {
	return &PrimitiveSig{Elem: e}
}

// Void is the return-slot signature of a method returning nothing.
func Void() ParamSig {
	return ParamSig{Type: Primitive(ElemVoid)}
}
