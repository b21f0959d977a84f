// Package builder is the directory-builder facade: it walks a source
// module's object graph, imports every reachable member into the tables
// and heap buffers, and produces the final .NET metadata directory. This
// is the only package most callers import.
package builder

import (
	"errors"
	"fmt"

	"github.com/dnmd-io/dnmdbuilder/cil"
	"github.com/dnmd-io/dnmdbuilder/heap"
	"github.com/dnmd-io/dnmdbuilder/resource"
	"github.com/dnmd-io/dnmdbuilder/sig"
	"github.com/dnmd-io/dnmdbuilder/table"
	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/dnmd-io/dnmdbuilder/utils"
)

// Builder accumulates one module's metadata. It is single-threaded and
// single-use: CreateDirectory consumes it, and further Add* calls on a
// spent builder are a programmer error (they panic rather than returning
// an error). After any returned failure the builder's state is
// undefined and must be discarded.
type Builder struct {
	module *Module
	opts   Options

	tables    *table.Buffer
	strings   *heap.StringsBuffer
	userStrs  *heap.UserStringsBuffer
	blob      *heap.BlobBuffer
	guids     *heap.GUIDBuffer
	resources *resource.Buffer

	// tokens memoizes every imported object by identity, making every
	// Add* idempotent: re-importing the same object returns the token
	// assigned the first time.
	tokens map[any]token.Token

	// materializedRows tracks definition-side objects whose rows exist,
	// separately from tokens: definition tokens are pre-assigned at New
	// time, before any row does.
	materializedRows map[any]bool

	// code concatenates serialized method bodies; MethodDef RVAs are
	// offsets into it, rebased by the PE emitter.
	code []byte

	spent bool
}

// New returns a builder for module. Definition-side tokens (TypeDef,
// MethodDef, Field) are assigned immediately from the flattened
// declaration order, so cross-references (signatures, member-ref
// parents, CIL operands) can resolve before the rows themselves are
// walked in CreateDirectory. This is the assign-tokens-before-recursing
// arena pattern: tables are the arena, tokens are the indices.
func New(module *Module, opts Options) *Builder {
	b := &Builder{
		module:    module,
		opts:      opts,
		tables:    table.New(),
		strings:   heap.NewStringsBuffer(),
		userStrs:  heap.NewUserStringsBuffer(),
		blob:      heap.NewBlobBuffer(),
		guids:     heap.NewGUIDBuffer(),
		resources: resource.New(),
		tokens:    make(map[any]token.Token),
	}
	b.assignDefinitionTokens()
	return b
}

// flattenTypes returns every TypeDef of the module, enclosing types
// before their nested types, in declaration order.
func (b *Builder) flattenTypes() []*TypeDef {
	var out []*TypeDef
	var walk func(t *TypeDef)
	walk = func(t *TypeDef) {
		out = append(out, t)
		for _, n := range t.NestedTypes {
			walk(n)
		}
	}
	for _, t := range b.module.Types {
		walk(t)
	}
	return out
}

func (b *Builder) assignDefinitionTokens() {
	types := b.flattenTypes()
	if len(types) == 0 {
		return
	}
	// RID 1 is the synthetic <Module> type; declared types follow.
	typeRID := uint32(2)
	fieldRID := uint32(1)
	methodRID := uint32(1)
	for _, t := range types {
		b.tokens[t] = token.New(token.TypeDef, typeRID)
		typeRID++
		for _, f := range t.Fields {
			b.tokens[f] = token.New(token.Field, fieldRID)
			fieldRID++
		}
		for _, m := range t.Methods {
			b.tokens[m] = token.New(token.MethodDef, methodRID)
			methodRID++
		}
	}
}

func (b *Builder) assertLive() {
	utils.Assert(!b.spent, "builder already produced its directory; create a new one")
}

// checkOwner enforces the module-ownership contract of every imported
// object.
func (b *Builder) checkOwner(obj ModuleProvider, what string) error {
	if obj.OwningModule() != b.module {
		return newError(KindMemberNotImported, "%s is owned by a different module", what)
	}
	return nil
}

// preferredRID extracts a preferred row placement from a member's
// original token, when that token names the right table.
func preferredRID(orig token.Token, tbl token.TableIndex) uint32 {
	if orig.Table() == tbl && !orig.IsNull() {
		return orig.RID()
	}
	return 0
}

// finishRow applies the cross-cutting row checks: the 2^24-1 row limit
// and, in strict mode, preferred-RID collisions.
func (b *Builder) finishRow(tok token.Token, count, preferred uint32, what string) (token.Token, error) {
	if count > 0xFFFFFF {
		return 0, newError(KindIndexOverflow, "%s: table exceeds 2^24-1 rows", what)
	}
	if b.opts.StrictPreferredRIDs && preferred != 0 && tok.RID() != preferred {
		return 0, &BuildError{
			Kind:    KindDuplicateRID,
			Token:   tok,
			Context: fmt.Sprintf("%s: preferred RID %d is already occupied", what, preferred),
		}
	}
	return tok, nil
}

// liftError folds an error from a lower layer into a BuildError,
// classifying signature and CIL failures; everything else a heap or
// varint can produce is a size overflow.
func liftError(err error, context string, args ...any) error {
	var be *BuildError
	if errors.As(err, &be) {
		return err
	}
	kind := KindIndexOverflow
	switch {
	case errors.Is(err, sig.ErrInvalidSignature):
		kind = KindInvalidSignature
	case errors.Is(err, cil.ErrInvalidCil):
		kind = KindInvalidCil
	}
	return wrapError(kind, err, context, args...)
}

// AddAssemblyReference imports an assembly reference and returns its
// token.
func (b *Builder) AddAssemblyReference(ref *AssemblyRef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[ref]; ok {
		return tok, nil
	}
	if err := b.checkOwner(ref, fmt.Sprintf("assembly reference %q", ref.Name)); err != nil {
		return 0, err
	}

	name, err := b.strings.GetIndex(ref.Name)
	if err != nil {
		return 0, liftError(err, "add assembly reference %q", ref.Name)
	}
	culture, err := b.strings.GetIndex(ref.Culture)
	if err != nil {
		return 0, liftError(err, "add assembly reference %q", ref.Name)
	}
	pk, err := b.blob.GetIndex(ref.PublicKeyOrToken)
	if err != nil {
		return 0, liftError(err, "add assembly reference %q", ref.Name)
	}
	hash, err := b.blob.GetIndex(ref.Hash)
	if err != nil {
		return 0, liftError(err, "add assembly reference %q", ref.Name)
	}

	preferred := preferredRID(ref.OriginalToken, token.AssemblyRef)
	tok := b.tables.AddAssemblyRef(table.AssemblyRefRow{
		MajorVersion:     ref.MajorVersion,
		MinorVersion:     ref.MinorVersion,
		BuildNumber:      ref.BuildNumber,
		RevisionNumber:   ref.RevisionNumber,
		Flags:            ref.Flags,
		PublicKeyOrToken: pk,
		Name:             name,
		Culture:          culture,
		HashValue:        hash,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.AssemblyRef.Count(), preferred, fmt.Sprintf("assembly reference %q", ref.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[ref] = tok
	return tok, nil
}

// AddModuleReference imports a module reference and returns its token.
func (b *Builder) AddModuleReference(ref *ModuleRef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[ref]; ok {
		return tok, nil
	}
	if err := b.checkOwner(ref, fmt.Sprintf("module reference %q", ref.Name)); err != nil {
		return 0, err
	}

	name, err := b.strings.GetIndex(ref.Name)
	if err != nil {
		return 0, liftError(err, "add module reference %q", ref.Name)
	}
	preferred := preferredRID(ref.OriginalToken, token.ModuleRef)
	tok := b.tables.AddModuleRef(table.ModuleRefRow{Name: name}, preferred)
	tok, err = b.finishRow(tok, b.tables.ModuleRef.Count(), preferred, fmt.Sprintf("module reference %q", ref.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[ref] = tok
	return tok, nil
}

// AddTypeReference imports a type reference and returns its token. The
// reference's resolution scope is imported first if it has not been
// seen.
func (b *Builder) AddTypeReference(ref *TypeRef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[ref]; ok {
		return tok, nil
	}
	if err := b.checkOwner(ref, fmt.Sprintf("type reference %s", typeRefDisplay(ref))); err != nil {
		return 0, err
	}

	var scopeTok token.Token
	var err error
	switch s := ref.Scope.(type) {
	case nil:
		scopeTok = token.New(token.Module, 1)
	case *ModuleRef:
		scopeTok, err = b.AddModuleReference(s)
	case *AssemblyRef:
		scopeTok, err = b.AddAssemblyReference(s)
	case *TypeRef:
		scopeTok, err = b.AddTypeReference(s)
	default:
		err = newError(KindMemberNotImported, "type reference %s: scope %T cannot be a resolution scope", typeRefDisplay(ref), ref.Scope)
	}
	if err != nil {
		return 0, err
	}

	scope, err := token.NewCodedIndex(token.ResolutionScope).Encode(scopeTok)
	if err != nil {
		return 0, liftError(err, "add type reference %s", typeRefDisplay(ref))
	}
	name, err := b.strings.GetIndex(ref.Name)
	if err != nil {
		return 0, liftError(err, "add type reference %s", typeRefDisplay(ref))
	}
	ns, err := b.strings.GetIndex(ref.Namespace)
	if err != nil {
		return 0, liftError(err, "add type reference %s", typeRefDisplay(ref))
	}

	preferred := preferredRID(ref.OriginalToken, token.TypeRef)
	tok := b.tables.AddTypeRef(table.TypeRefRow{
		ResolutionScope: scope,
		Name:            name,
		Namespace:       ns,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.TypeRef.Count(), preferred, fmt.Sprintf("type reference %s", typeRefDisplay(ref)))
	if err != nil {
		return 0, err
	}
	b.tokens[ref] = tok
	return tok, nil
}

func typeRefDisplay(ref *TypeRef) string {
	if ref.Namespace == "" {
		return ref.Name
	}
	return ref.Namespace + "." + ref.Name
}

// AddTypeSpecification imports a type specification and returns its
// token.
func (b *Builder) AddTypeSpecification(ts *TypeSpec) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[ts]; ok {
		return tok, nil
	}
	if err := b.checkOwner(ts, "type specification"); err != nil {
		return 0, err
	}

	blobBytes, err := sig.EncodeTypeSpec(ts.Signature, b)
	if err != nil {
		return 0, liftError(err, "add type specification")
	}
	idx, err := b.blob.GetIndex(blobBytes)
	if err != nil {
		return 0, liftError(err, "add type specification")
	}

	preferred := preferredRID(ts.OriginalToken, token.TypeSpec)
	tok := b.tables.AddTypeSpec(table.TypeSpecRow{Signature: idx}, preferred)
	tok, err = b.finishRow(tok, b.tables.TypeSpec.Count(), preferred, "type specification")
	if err != nil {
		return 0, err
	}
	b.tokens[ts] = tok
	return tok, nil
}

// AddMemberReference imports a member reference and returns its token.
func (b *Builder) AddMemberReference(ref *MemberRef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[ref]; ok {
		return tok, nil
	}
	if err := b.checkOwner(ref, fmt.Sprintf("member reference %q", ref.Name)); err != nil {
		return 0, err
	}

	var parentTok token.Token
	var err error
	switch p := ref.Parent.(type) {
	case *TypeDef:
		parentTok, err = b.typeDefToken(p)
	case *TypeRef:
		parentTok, err = b.AddTypeReference(p)
	case *TypeSpec:
		parentTok, err = b.AddTypeSpecification(p)
	case *ModuleRef:
		parentTok, err = b.AddModuleReference(p)
	case *MethodDef:
		parentTok, err = b.methodDefToken(p)
	default:
		err = newError(KindMemberNotImported, "member reference %q: parent %T cannot be a member-ref parent", ref.Name, ref.Parent)
	}
	if err != nil {
		return 0, err
	}

	parent, err := token.NewCodedIndex(token.MemberRefParent).Encode(parentTok)
	if err != nil {
		return 0, liftError(err, "add member reference %q", ref.Name)
	}

	var sigBytes []byte
	switch s := ref.Signature.(type) {
	case *sig.MethodSig:
		sigBytes, err = sig.EncodeMethodSig(s, b)
	case *sig.FieldSig:
		sigBytes, err = sig.EncodeFieldSig(s, b)
	default:
		err = wrapError(KindInvalidSignature, sig.ErrInvalidSignature,
			"member reference %q: signature %T is neither a method nor a field signature", ref.Name, ref.Signature)
	}
	if err != nil {
		return 0, liftError(err, "add member reference %q", ref.Name)
	}
	sigIdx, err := b.blob.GetIndex(sigBytes)
	if err != nil {
		return 0, liftError(err, "add member reference %q", ref.Name)
	}
	name, err := b.strings.GetIndex(ref.Name)
	if err != nil {
		return 0, liftError(err, "add member reference %q", ref.Name)
	}

	preferred := preferredRID(ref.OriginalToken, token.MemberRef)
	tok := b.tables.AddMemberRef(table.MemberRefRow{
		Class:     parent,
		Name:      name,
		Signature: sigIdx,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.MemberRef.Count(), preferred, fmt.Sprintf("member reference %q", ref.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[ref] = tok
	return tok, nil
}

// AddStandAloneSignature imports a stand-alone signature and returns its
// token. Two distinct signature objects with byte-identical encodings
// get two rows that share one blob index.
func (b *Builder) AddStandAloneSignature(s *StandAloneSig) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[s]; ok {
		return tok, nil
	}

	var sigBytes []byte
	var err error
	switch inner := s.Signature.(type) {
	case *sig.LocalVarSig:
		sigBytes, err = sig.EncodeLocalVarSig(inner, b)
	case *sig.MethodSig:
		sigBytes, err = sig.EncodeMethodSig(inner, b)
	default:
		err = wrapError(KindInvalidSignature, sig.ErrInvalidSignature,
			"stand-alone signature: %T is neither a local-variable nor a method signature", s.Signature)
	}
	if err != nil {
		return 0, liftError(err, "add stand-alone signature")
	}
	idx, err := b.blob.GetIndex(sigBytes)
	if err != nil {
		return 0, liftError(err, "add stand-alone signature")
	}

	preferred := preferredRID(s.OriginalToken, token.StandAloneSig)
	tok := b.tables.AddStandAloneSig(table.StandAloneSigRow{Signature: idx}, preferred)
	tok, err = b.finishRow(tok, b.tables.StandAloneSig.Count(), preferred, "stand-alone signature")
	if err != nil {
		return 0, err
	}
	b.tokens[s] = tok
	return tok, nil
}

// AddMethodSpecification imports a generic-method instantiation and
// returns its token.
func (b *Builder) AddMethodSpecification(ms *MethodSpec) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[ms]; ok {
		return tok, nil
	}
	if err := b.checkOwner(ms, "method specification"); err != nil {
		return 0, err
	}

	methodTok, err := b.methodDefOrRefToken(ms.Method)
	if err != nil {
		return 0, err
	}
	method, err := token.NewCodedIndex(token.MethodDefOrRef).Encode(methodTok)
	if err != nil {
		return 0, liftError(err, "add method specification")
	}
	instBytes, err := sig.EncodeMethodSpec(ms.Instantiation, b)
	if err != nil {
		return 0, liftError(err, "add method specification")
	}
	inst, err := b.blob.GetIndex(instBytes)
	if err != nil {
		return 0, liftError(err, "add method specification")
	}

	preferred := preferredRID(ms.OriginalToken, token.MethodSpec)
	tok := b.tables.AddMethodSpec(table.MethodSpecRow{
		Method:        method,
		Instantiation: inst,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.MethodSpec.Count(), preferred, "method specification")
	if err != nil {
		return 0, err
	}
	b.tokens[ms] = tok
	return tok, nil
}

// typeDefToken returns the pre-assigned token of a type this module
// declares.
func (b *Builder) typeDefToken(t *TypeDef) (token.Token, error) {
	if err := b.checkOwner(t, fmt.Sprintf("type definition %q", t.Name)); err != nil {
		return 0, err
	}
	tok, ok := b.tokens[t]
	if !ok {
		return 0, newError(KindMemberNotImported, "type definition %q is not declared by the module being built", t.Name)
	}
	return tok, nil
}

// methodDefToken returns the pre-assigned token of a method this module
// declares.
func (b *Builder) methodDefToken(m *MethodDef) (token.Token, error) {
	if err := b.checkOwner(m, fmt.Sprintf("method definition %q", m.Name)); err != nil {
		return 0, err
	}
	tok, ok := b.tokens[m]
	if !ok {
		return 0, newError(KindMemberNotImported, "method definition %q is not declared by the module being built", m.Name)
	}
	return tok, nil
}

// fieldDefToken returns the pre-assigned token of a field this module
// declares.
func (b *Builder) fieldDefToken(f *FieldDef) (token.Token, error) {
	if err := b.checkOwner(f, fmt.Sprintf("field definition %q", f.Name)); err != nil {
		return 0, err
	}
	tok, ok := b.tokens[f]
	if !ok {
		return 0, newError(KindMemberNotImported, "field definition %q is not declared by the module being built", f.Name)
	}
	return tok, nil
}

// methodDefOrRefToken resolves an object that must land in the
// MethodDefOrRef coded-index category.
func (b *Builder) methodDefOrRefToken(obj any) (token.Token, error) {
	switch m := obj.(type) {
	case *MethodDef:
		return b.methodDefToken(m)
	case *MemberRef:
		return b.AddMemberReference(m)
	default:
		return 0, newError(KindMemberNotImported, "%T cannot be a method reference", obj)
	}
}

// TypeToken implements sig.Resolver: the serializer hands back the named
// type objects embedded in signatures, and the builder imports them.
func (b *Builder) TypeToken(obj any) (token.Token, error) {
	switch t := obj.(type) {
	case *TypeDef:
		return b.typeDefToken(t)
	case *TypeRef:
		return b.AddTypeReference(t)
	case *TypeSpec:
		return b.AddTypeSpecification(t)
	default:
		return 0, wrapError(KindInvalidSignature, sig.ErrInvalidSignature,
			"signature names %T, which is not a type definition, reference, or specification", obj)
	}
}

// OperandToken implements cil.TokenProvider for token-carrying CIL
// instructions.
func (b *Builder) OperandToken(operand any) (token.Token, error) {
	switch o := operand.(type) {
	case *MethodDef:
		return b.methodDefToken(o)
	case *FieldDef:
		return b.fieldDefToken(o)
	case *TypeDef, *TypeRef, *TypeSpec:
		return b.TypeToken(o)
	case *MemberRef:
		return b.AddMemberReference(o)
	case *MethodSpec:
		return b.AddMethodSpecification(o)
	case *StandAloneSig:
		return b.AddStandAloneSignature(o)
	case *sig.MethodSig:
		// calli carries a bare method signature; wrap it in an owned
		// stand-alone-signature row.
		return b.AddStandAloneSignature(&StandAloneSig{
			Member:    Member{Owner: b.module},
			Signature: o,
		})
	default:
		return 0, wrapError(KindInvalidCil, cil.ErrInvalidCil,
			"instruction operand %T does not resolve to a metadata token", operand)
	}
}

// StringToken implements cil.TokenProvider for ldstr: the operand is
// interned into #US and named by a string-heap pseudo-token (tag 0x70).
func (b *Builder) StringToken(value string) (token.Token, error) {
	idx, err := b.userStrs.GetIndex(value)
	if err != nil {
		return 0, liftError(err, "intern ldstr operand")
	}
	return token.Token(uint32(token.UserString)<<24 | idx), nil
}

// LocalVarSigToken implements cil.TokenProvider for method bodies with
// locals, memoized by signature-object identity.
func (b *Builder) LocalVarSigToken(locals *sig.LocalVarSig) (token.Token, error) {
	if tok, ok := b.tokens[locals]; ok {
		return tok, nil
	}
	sigBytes, err := sig.EncodeLocalVarSig(locals, b)
	if err != nil {
		return 0, liftError(err, "add local-variable signature")
	}
	idx, err := b.blob.GetIndex(sigBytes)
	if err != nil {
		return 0, liftError(err, "add local-variable signature")
	}
	tok := b.tables.AddStandAloneSig(table.StandAloneSigRow{Signature: idx}, 0)
	tok, err = b.finishRow(tok, b.tables.StandAloneSig.Count(), 0, "local-variable signature")
	if err != nil {
		return 0, err
	}
	b.tokens[locals] = tok
	return tok, nil
}
