package sig

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/dnmd-io/dnmdbuilder/varint"
)

// ErrInvalidSignature marks a signature tree the serializer cannot
// express: a nil node, an unknown element type, or a tree deeper than any
// legal signature (which only happens when node pointers form a cycle).
var ErrInvalidSignature = errors.New("invalid signature element")

// Resolver turns a named type object from the source graph into its
// metadata token, importing it into the tables buffer on first sight.
// The serializer only ever passes back objects it was handed inside
// ClassSig, GenericInstSig, or ModifierSig nodes.
type Resolver interface {
	TypeToken(obj any) (token.Token, error)
}

// maxDepth bounds the element-type tree walk. Real signatures nest a few
// levels at most; hitting this means the caller built a cyclic tree out
// of shared nodes instead of routing the cycle through a named type.
const maxDepth = 64

type encoder struct {
	res   Resolver
	buf   bytes.Buffer
	depth int
}

// EncodeMethodSig serializes a MethodDefSig/MethodRefSig blob.
func EncodeMethodSig(s *MethodSig, res Resolver) ([]byte, error) {
	e := encoder{res: res}
	if err := e.methodSig(s); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// methodSig writes a full method signature. It shares the encoder (and
// therefore the depth guard) with any enclosing type walk, so a
// function-pointer type nested in a signature still counts against the
// same budget.
func (e *encoder) methodSig(s *MethodSig) error {
	if s == nil {
		return fmt.Errorf("sig: nil method signature: %w", ErrInvalidSignature)
	}

	cc := s.CallConv
	if s.GenericParamCount > 0 {
		cc |= CallConvGeneric
	}
	e.buf.WriteByte(cc)
	if s.GenericParamCount > 0 {
		if err := e.uint(s.GenericParamCount); err != nil {
			return err
		}
	}
	if err := e.uint(uint32(len(s.Params) + len(s.VarargParams))); err != nil {
		return err
	}
	if err := e.param(s.Return); err != nil {
		return fmt.Errorf("sig: return type: %w", err)
	}
	for i, p := range s.Params {
		if err := e.param(p); err != nil {
			return fmt.Errorf("sig: parameter %d: %w", i, err)
		}
	}
	if len(s.VarargParams) > 0 {
		e.buf.WriteByte(byte(ElemSentinel))
		for i, p := range s.VarargParams {
			if err := e.param(p); err != nil {
				return fmt.Errorf("sig: vararg parameter %d: %w", i, err)
			}
		}
	}
	return nil
}

// EncodeFieldSig serializes a FieldSig blob.
func EncodeFieldSig(s *FieldSig, res Resolver) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("sig: nil field signature: %w", ErrInvalidSignature)
	}
	e := encoder{res: res}
	e.buf.WriteByte(CallConvField)
	if err := e.typeSig(s.Type); err != nil {
		return nil, fmt.Errorf("sig: field type: %w", err)
	}
	return e.buf.Bytes(), nil
}

// EncodePropertySig serializes a PropertySig blob.
func EncodePropertySig(s *PropertySig, res Resolver) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("sig: nil property signature: %w", ErrInvalidSignature)
	}
	e := encoder{res: res}
	cc := CallConvProperty
	if s.HasThis {
		cc |= CallConvHasThis
	}
	e.buf.WriteByte(cc)
	if err := e.uint(uint32(len(s.Params))); err != nil {
		return nil, err
	}
	if err := e.typeSig(s.Type); err != nil {
		return nil, fmt.Errorf("sig: property type: %w", err)
	}
	for i, p := range s.Params {
		if err := e.param(p); err != nil {
			return nil, fmt.Errorf("sig: property parameter %d: %w", i, err)
		}
	}
	return e.buf.Bytes(), nil
}

// EncodeLocalVarSig serializes a LocalVarSig blob.
func EncodeLocalVarSig(s *LocalVarSig, res Resolver) ([]byte, error) {
	if s == nil || len(s.Locals) == 0 {
		return nil, fmt.Errorf("sig: local-variable signature needs at least one local: %w", ErrInvalidSignature)
	}
	e := encoder{res: res}
	e.buf.WriteByte(CallConvLocalSig)
	if err := e.uint(uint32(len(s.Locals))); err != nil {
		return nil, err
	}
	for i, l := range s.Locals {
		if l.Pinned {
			e.buf.WriteByte(byte(ElemPinned))
		}
		if l.ByRef {
			e.buf.WriteByte(byte(ElemByRef))
		}
		if err := e.typeSig(l.Type); err != nil {
			return nil, fmt.Errorf("sig: local %d: %w", i, err)
		}
	}
	return e.buf.Bytes(), nil
}

// EncodeTypeSpec serializes the blob of a TypeSpec row: a bare type with
// no calling-convention prefix (§II.23.2.14).
func EncodeTypeSpec(t TypeSig, res Resolver) ([]byte, error) {
	e := encoder{res: res}
	if err := e.typeSig(t); err != nil {
		return nil, fmt.Errorf("sig: type spec: %w", err)
	}
	return e.buf.Bytes(), nil
}

// EncodeMethodSpec serializes a MethodSpec instantiation blob
// (§II.23.2.15): GENERICINST, argument count, arguments.
func EncodeMethodSpec(args []TypeSig, res Resolver) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("sig: method instantiation needs at least one type argument: %w", ErrInvalidSignature)
	}
	e := encoder{res: res}
	e.buf.WriteByte(CallConvGenericInst)
	if err := e.uint(uint32(len(args))); err != nil {
		return nil, err
	}
	for i, a := range args {
		if err := e.typeSig(a); err != nil {
			return nil, fmt.Errorf("sig: type argument %d: %w", i, err)
		}
	}
	return e.buf.Bytes(), nil
}

func (e *encoder) param(p ParamSig) error {
	if p.ByRef {
		e.buf.WriteByte(byte(ElemByRef))
	}
	return e.typeSig(p.Type)
}

func (e *encoder) typeSig(t TypeSig) error {
	if t == nil {
		return fmt.Errorf("nil type node: %w", ErrInvalidSignature)
	}
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxDepth {
		return fmt.Errorf("type tree deeper than %d nodes, likely cyclic: %w", maxDepth, ErrInvalidSignature)
	}

	switch s := t.(type) {
	case *PrimitiveSig:
		switch s.Elem {
		case ElemVoid, ElemBoolean, ElemChar, ElemI1, ElemU1, ElemI2, ElemU2,
			ElemI4, ElemU4, ElemI8, ElemU8, ElemR4, ElemR8, ElemString,
			ElemObject, ElemI, ElemU, ElemTypedByRef:
			e.buf.WriteByte(byte(s.Elem))
		default:
			return fmt.Errorf("element type %#02x is not a primitive: %w", byte(s.Elem), ErrInvalidSignature)
		}
	case *ClassSig:
		if s.ValueType {
			e.buf.WriteByte(byte(ElemValueType))
		} else {
			e.buf.WriteByte(byte(ElemClass))
		}
		return e.typeDefOrRef(s.Type)
	case *SZArraySig:
		e.buf.WriteByte(byte(ElemSZArray))
		return e.typeSig(s.Elem)
	case *ArraySig:
		e.buf.WriteByte(byte(ElemArray))
		if err := e.typeSig(s.Elem); err != nil {
			return err
		}
		if err := e.uint(s.Rank); err != nil {
			return err
		}
		if err := e.uint(uint32(len(s.Sizes))); err != nil {
			return err
		}
		for _, sz := range s.Sizes {
			if err := e.uint(sz); err != nil {
				return err
			}
		}
		if err := e.uint(uint32(len(s.LoBounds))); err != nil {
			return err
		}
		for _, lb := range s.LoBounds {
			if err := e.int(lb); err != nil {
				return err
			}
		}
	case *PointerSig:
		e.buf.WriteByte(byte(ElemPtr))
		return e.typeSig(s.Elem)
	case *GenericInstSig:
		e.buf.WriteByte(byte(ElemGenericInst))
		if s.ValueType {
			e.buf.WriteByte(byte(ElemValueType))
		} else {
			e.buf.WriteByte(byte(ElemClass))
		}
		if err := e.typeDefOrRef(s.Type); err != nil {
			return err
		}
		if len(s.Args) == 0 {
			return fmt.Errorf("generic instantiation with no type arguments: %w", ErrInvalidSignature)
		}
		if err := e.uint(uint32(len(s.Args))); err != nil {
			return err
		}
		for _, a := range s.Args {
			if err := e.typeSig(a); err != nil {
				return err
			}
		}
	case *GenericParamSig:
		if s.Method {
			e.buf.WriteByte(byte(ElemMVar))
		} else {
			e.buf.WriteByte(byte(ElemVar))
		}
		return e.uint(s.Number)
	case *FnPtrSig:
		e.buf.WriteByte(byte(ElemFnPtr))
		return e.methodSig(s.Method)
	case *ModifierSig:
		if s.Required {
			e.buf.WriteByte(byte(ElemCModReqd))
		} else {
			e.buf.WriteByte(byte(ElemCModOpt))
		}
		if err := e.typeDefOrRef(s.Modifier); err != nil {
			return err
		}
		return e.typeSig(s.Elem)
	case *PinnedSig:
		e.buf.WriteByte(byte(ElemPinned))
		return e.typeSig(s.Elem)
	default:
		return fmt.Errorf("unknown type node %T: %w", t, ErrInvalidSignature)
	}
	return nil
}

// typeDefOrRef resolves obj through the Resolver and writes the
// compressed TypeDefOrRef coded index (§II.23.2.8).
func (e *encoder) typeDefOrRef(obj any) error {
	if obj == nil {
		return fmt.Errorf("signature names a nil type: %w", ErrInvalidSignature)
	}
	tok, err := e.res.TypeToken(obj)
	if err != nil {
		return err
	}
	coded, err := token.NewCodedIndex(token.TypeDefOrRef).Encode(tok)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return e.uint(coded)
}

func (e *encoder) uint(v uint32) error {
	b, err := varint.EncodeUint(v)
	if err != nil {
		return err
	}
	e.buf.Write(b)
	return nil
}

func (e *encoder) int(v int32) error {
	b, err := varint.EncodeInt(v)
	if err != nil {
		return err
	}
	e.buf.Write(b)
	return nil
}
