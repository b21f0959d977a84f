package builder

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnmd-io/dnmdbuilder/cil"
	"github.com/dnmd-io/dnmdbuilder/sig"
	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/stretchr/testify/require"
)

// parseStreams cracks a BSJB metadata blob into its named streams.
func parseStreams(t *testing.T, meta []byte) map[string][]byte {
	t.Helper()
	require.Equal(t, uint32(0x424A5342), binary.LittleEndian.Uint32(meta[0:4]))

	verLen := int(binary.LittleEndian.Uint32(meta[12:16]))
	off := 16 + verLen
	n := int(binary.LittleEndian.Uint16(meta[off+2 : off+4]))
	off += 4

	out := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		streamOff := binary.LittleEndian.Uint32(meta[off:])
		streamSize := binary.LittleEndian.Uint32(meta[off+4:])
		off += 8
		end := off
		for meta[end] != 0 {
			end++
		}
		name := string(meta[off:end])
		off += (end - off + 1 + 3) &^ 3
		out[name] = meta[streamOff : streamOff+streamSize]
	}
	return out
}

func corlibRef(mod *Module) *AssemblyRef {
	return &AssemblyRef{
		Member:       Member{Owner: mod},
		Name:         "System.Runtime",
		MajorVersion: 8,
	}
}

func typeRef(mod *Module, scope any, ns, name string) *TypeRef {
	return &TypeRef{Member: Member{Owner: mod}, Scope: scope, Namespace: ns, Name: name}
}

func TestEmptyModuleScenario(t *testing.T) {
	mod := &Module{Name: "Empty"}
	b := New(mod, DefaultOptions())

	dir, err := b.CreateDirectory()
	require.NoError(t, err)

	require.Zero(t, dir.EntryPointToken)
	require.Nil(t, dir.Resources)

	require.Equal(t, uint32(1), b.tables.Module.Count())
	require.Equal(t, uint32(1), b.tables.Assembly.Count())
	require.Zero(t, b.tables.TypeDef.Count())

	streams := parseStreams(t, dir.Metadata)
	require.Contains(t, string(streams["#Strings"]), "Empty")
	require.Equal(t, byte(0), streams["#Strings"][0])
	require.Equal(t, 16, len(streams["#GUID"])) // one fresh MVID
}

func TestDeterministicMvidIsStable(t *testing.T) {
	opts := DefaultOptions()
	opts.DeterministicMvid = true

	build := func() []byte {
		dir, err := New(&Module{Name: "Empty"}, opts).CreateDirectory()
		require.NoError(t, err)
		return parseStreams(t, dir.Metadata)["#GUID"]
	}
	require.Equal(t, build(), build())
}

func helloWorldModule() (*Module, *MethodDef, *MemberRef) {
	mod := &Module{Name: "HelloWorld"}
	corlib := corlibRef(mod)
	object := typeRef(mod, corlib, "System", "Object")
	console := typeRef(mod, corlib, "System", "Console")

	writeLine := &MemberRef{
		Member: Member{Owner: mod},
		Parent: console,
		Name:   "WriteLine",
		Signature: &sig.MethodSig{
			Return: sig.Void(),
			Params: []sig.ParamSig{{Type: sig.Primitive(sig.ElemString)}},
		},
	}

	main := &MethodDef{
		Member:    Member{Owner: mod},
		Name:      "Main",
		Flags:     0x0096, // public, static, hidebysig
		Signature: &sig.MethodSig{Return: sig.Void()},
		Body: &cil.Body{
			MaxStack: 8,
			Instructions: []cil.Instruction{
				{Op: cil.OpLdstr, Operand: "Hello"},
				{Op: cil.OpCall, Operand: writeLine},
				{Op: cil.OpRet},
			},
		},
	}

	prog := &TypeDef{
		Member:    Member{Owner: mod},
		Namespace: "HelloWorld",
		Name:      "Program",
		Flags:     0x00100001, // public, beforefieldinit
		BaseType:  object,
		Methods:   []*MethodDef{main},
	}
	mod.Types = []*TypeDef{prog}
	mod.EntryPoint = main
	return mod, main, writeLine
}

func TestHelloWorldScenario(t *testing.T) {
	mod, main, _ := helloWorldModule()
	b := New(mod, DefaultOptions())

	dir, err := b.CreateDirectory()
	require.NoError(t, err)

	// <Module> at TypeDef RID 1, Program at RID 2, Main at MethodDef RID 1.
	require.Equal(t, token.New(token.TypeDef, 2), b.tokens[mod.Types[0]])
	require.Equal(t, token.New(token.MethodDef, 1), b.tokens[main])
	require.Equal(t, uint32(0x06000001), dir.EntryPointToken)

	// The MemberRef's parent coded index points at the Console TypeRef.
	require.Equal(t, uint32(1), b.tables.MemberRef.Count())
	parent, err := token.NewCodedIndex(token.MemberRefParent).Decode(b.tables.MemberRef.Rows()[0].Class)
	require.NoError(t, err)
	require.Equal(t, token.TypeRef, parent.Table())

	// The body is tiny; ldstr's operand is the first #US pseudo-token.
	require.Equal(t, byte(0x72), dir.Code[1])
	require.Equal(t, uint32(0x70000001), binary.LittleEndian.Uint32(dir.Code[2:6]))

	// The first (and only) body lands at offset 0 of the code segment.
	require.Zero(t, b.tables.MethodDef.Rows()[0].RVA)
	require.Equal(t, byte(0x2E), dir.Code[0]) // tiny header, 11 code bytes
}

func TestGenericTypeWithConstraintScenario(t *testing.T) {
	mod := &Module{Name: "Generics"}
	corlib := corlibRef(mod)
	object := typeRef(mod, corlib, "System", "Object")
	icomparable := typeRef(mod, corlib, "System", "IComparable")

	tparam := &GenericParam{
		Member:      Member{Owner: mod},
		Number:      0,
		Name:        "T",
		Constraints: []any{icomparable},
	}
	box := &TypeDef{
		Member:        Member{Owner: mod},
		Name:          "Box`1",
		BaseType:      object,
		GenericParams: []*GenericParam{tparam},
	}
	mod.Types = []*TypeDef{box}

	b := New(mod, DefaultOptions())
	_, err := b.CreateDirectory()
	require.NoError(t, err)

	require.Equal(t, uint32(1), b.tables.GenericParam.Count())
	gp := b.tables.GenericParam.Rows()[0]
	require.Equal(t, uint16(0), gp.Number)

	owner, err := token.NewCodedIndex(token.TypeOrMethodDef).Decode(gp.Owner)
	require.NoError(t, err)
	require.Equal(t, token.New(token.TypeDef, 2), owner)

	require.Equal(t, uint32(1), b.tables.GenericParamConstraint.Count())
	gc := b.tables.GenericParamConstraint.Rows()[0]
	require.Equal(t, uint32(1), gc.Owner)
	constraint, err := token.NewCodedIndex(token.TypeDefOrRef).Decode(gc.Constraint)
	require.NoError(t, err)
	require.Equal(t, token.TypeRef, constraint.Table())
}

func TestAssemblyCustomAttributeScenario(t *testing.T) {
	mod := &Module{Name: "App"}
	corlib := corlibRef(mod)
	attrType := typeRef(mod, corlib, "System.Reflection", "AssemblyVersionAttribute")
	ctor := &MemberRef{
		Member: Member{Owner: mod},
		Parent: attrType,
		Name:   ".ctor",
		Signature: &sig.MethodSig{
			CallConv: sig.CallConvHasThis,
			Return:   sig.Void(),
			Params:   []sig.ParamSig{{Type: sig.Primitive(sig.ElemString)}},
		},
	}
	mod.Assembly = &AssemblyInfo{
		Name: "App",
		CustomAttributes: []*CustomAttribute{{
			Constructor: ctor,
			Value:       []byte{0x01, 0x00, 0x07, '1', '.', '0', '.', '0', '.', '0', 0x00, 0x00},
		}},
	}

	b := New(mod, DefaultOptions())
	_, err := b.CreateDirectory()
	require.NoError(t, err)

	require.Equal(t, uint32(1), b.tables.CustomAttribute.Count())
	ca := b.tables.CustomAttribute.Rows()[0]

	parent, err := token.NewCodedIndex(token.HasCustomAttribute).Decode(ca.Parent)
	require.NoError(t, err)
	require.Equal(t, token.New(token.Assembly, 1), parent)

	ctorTok, err := token.NewCodedIndex(token.CustomAttributeType).Decode(ca.Type)
	require.NoError(t, err)
	require.Equal(t, token.MemberRef, ctorTok.Table())
}

func TestDuplicateBlobInterningScenario(t *testing.T) {
	mod := &Module{Name: "Sigs"}
	mkSig := func() *StandAloneSig {
		return &StandAloneSig{
			Member: Member{Owner: mod},
			Signature: &sig.LocalVarSig{Locals: []sig.LocalSig{
				{Type: sig.Primitive(sig.ElemI4)},
			}},
		}
	}
	b := New(mod, DefaultOptions())

	t1, err := b.AddStandAloneSignature(mkSig())
	require.NoError(t, err)
	t2, err := b.AddStandAloneSignature(mkSig())
	require.NoError(t, err)

	require.NotEqual(t, t1, t2)
	rows := b.tables.StandAloneSig.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, rows[0].Signature, rows[1].Signature)
}

func TestHeapWidthPromotionScenario(t *testing.T) {
	mod := &Module{Name: "Wide"}
	for i := 0; i < 1500; i++ {
		mod.Types = append(mod.Types, &TypeDef{
			Member: Member{Owner: mod},
			Name:   fmt.Sprintf("Filler%04d_%060d", i, i),
		})
	}

	dir, err := New(mod, DefaultOptions()).CreateDirectory()
	require.NoError(t, err)

	streams := parseStreams(t, dir.Metadata)
	require.Greater(t, len(streams["#Strings"]), 0xFFFF)
	require.Equal(t, byte(0x01), streams["#~"][6]&0x01)
}

func TestForceWideHeapsOption(t *testing.T) {
	opts := DefaultOptions()
	opts.ForceWideHeaps = true

	dir, err := New(&Module{Name: "Empty"}, opts).CreateDirectory()
	require.NoError(t, err)

	streams := parseStreams(t, dir.Metadata)
	require.Equal(t, byte(0x07), streams["#~"][6])
}

func TestTokenStabilityOnRepeatedImport(t *testing.T) {
	mod := &Module{Name: "Stable"}
	ref := typeRef(mod, corlibRef(mod), "System", "Object")
	b := New(mod, DefaultOptions())

	t1, err := b.AddTypeReference(ref)
	require.NoError(t, err)
	t2, err := b.AddTypeReference(ref)
	require.NoError(t, err)
	require.Equal(t, t1, t2)
	require.Equal(t, uint32(1), b.tables.TypeRef.Count())
}

func TestForeignMemberIsRejected(t *testing.T) {
	mod := &Module{Name: "Mine"}
	other := &Module{Name: "Theirs"}
	b := New(mod, DefaultOptions())

	_, err := b.AddTypeReference(typeRef(other, nil, "System", "Object"))
	require.ErrorIs(t, err, ErrMemberNotImported)
}

func TestPreferredRIDPreservation(t *testing.T) {
	mod := &Module{Name: "RoundTrip"}
	b := New(mod, DefaultOptions())

	r2 := typeRef(mod, nil, "A", "Second")
	r2.OriginalToken = token.New(token.TypeRef, 2)
	r1 := typeRef(mod, nil, "A", "First")
	r1.OriginalToken = token.New(token.TypeRef, 1)

	t2, err := b.AddTypeReference(r2)
	require.NoError(t, err)
	t1, err := b.AddTypeReference(r1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), t2.RID())
	require.Equal(t, uint32(1), t1.RID())
}

func TestStrictPreferredRIDConflict(t *testing.T) {
	mod := &Module{Name: "Strict"}
	opts := DefaultOptions()
	opts.StrictPreferredRIDs = true
	b := New(mod, opts)

	r1 := typeRef(mod, nil, "A", "First")
	r1.OriginalToken = token.New(token.TypeRef, 1)
	r2 := typeRef(mod, nil, "A", "Second")
	r2.OriginalToken = token.New(token.TypeRef, 1)

	_, err := b.AddTypeReference(r1)
	require.NoError(t, err)
	_, err = b.AddTypeReference(r2)
	require.ErrorIs(t, err, ErrDuplicateRID)
}

func TestEntryPointFileRow(t *testing.T) {
	mod := &Module{Name: "MultiFile"}
	file := &FileRef{Member: Member{Owner: mod}, Name: "app.netmodule"}
	mod.Files = []*FileRef{file}
	mod.EntryPointFile = file

	dir, err := New(mod, DefaultOptions()).CreateDirectory()
	require.NoError(t, err)
	require.Equal(t, uint32(0x26000001), dir.EntryPointToken)
}

func TestFlagsCopiedVerbatim(t *testing.T) {
	mod := &Module{Name: "Flags", Attributes: 0x00020003}
	dir, err := New(mod, DefaultOptions()).CreateDirectory()
	require.NoError(t, err)
	require.Equal(t, uint32(0x00020003), dir.Flags)
}

func TestEmbeddedResource(t *testing.T) {
	mod := &Module{Name: "Res"}
	mod.Resources = []*ManagedResource{{
		Member: Member{Owner: mod},
		Name:   "strings.resources",
		Data:   []byte("payload"),
	}}

	b := New(mod, DefaultOptions())
	dir, err := b.CreateDirectory()
	require.NoError(t, err)
	require.NotNil(t, dir.Resources)
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(dir.Resources[0:4]))
	require.Equal(t, uint32(1), b.tables.ManifestResource.Count())
	require.Zero(t, b.tables.ManifestResource.Rows()[0].Offset)
}

func TestSpentBuilderPanics(t *testing.T) {
	mod := &Module{Name: "Spent"}
	b := New(mod, DefaultOptions())
	_, err := b.CreateDirectory()
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = b.AddTypeReference(typeRef(mod, nil, "System", "Object"))
	})
}

func TestNestedTypesGetNestedClassRows(t *testing.T) {
	mod := &Module{Name: "Nesting"}
	inner := &TypeDef{Member: Member{Owner: mod}, Name: "Inner"}
	outer := &TypeDef{
		Member:      Member{Owner: mod},
		Name:        "Outer",
		NestedTypes: []*TypeDef{inner},
	}
	mod.Types = []*TypeDef{outer}

	b := New(mod, DefaultOptions())
	_, err := b.CreateDirectory()
	require.NoError(t, err)

	// <Module>, Outer, Inner.
	require.Equal(t, uint32(3), b.tables.TypeDef.Count())
	require.Equal(t, uint32(1), b.tables.NestedClass.Count())
	nc := b.tables.NestedClass.Rows()[0]
	require.Equal(t, uint32(3), nc.NestedClass)
	require.Equal(t, uint32(2), nc.EnclosingClass)
}

func TestFieldAndMethodListsAreContiguous(t *testing.T) {
	mod := &Module{Name: "Lists"}
	mkField := func(name string) *FieldDef {
		return &FieldDef{
			Member:    Member{Owner: mod},
			Name:      name,
			Signature: &sig.FieldSig{Type: sig.Primitive(sig.ElemI4)},
		}
	}
	mkMethod := func(name string) *MethodDef {
		return &MethodDef{
			Member:    Member{Owner: mod},
			Name:      name,
			Signature: &sig.MethodSig{Return: sig.Void()},
		}
	}
	a := &TypeDef{
		Member:  Member{Owner: mod},
		Name:    "A",
		Fields:  []*FieldDef{mkField("x"), mkField("y")},
		Methods: []*MethodDef{mkMethod("M")},
	}
	bType := &TypeDef{
		Member:  Member{Owner: mod},
		Name:    "B",
		Fields:  []*FieldDef{mkField("z")},
		Methods: []*MethodDef{mkMethod("N"), mkMethod("O")},
	}
	mod.Types = []*TypeDef{a, bType}

	b := New(mod, DefaultOptions())
	_, err := b.CreateDirectory()
	require.NoError(t, err)

	rows := b.tables.TypeDef.Rows()
	require.Equal(t, uint32(1), rows[1].FieldList) // A
	require.Equal(t, uint32(1), rows[1].MethodList)
	require.Equal(t, uint32(3), rows[2].FieldList) // B
	require.Equal(t, uint32(2), rows[2].MethodList)
}

func TestLoadOptionsFromToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"metadata_version = \"v4.0.30319\"\ndeterministic_mvid = true\nforce_wide_heaps = true\n",
	), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	require.True(t, opts.DeterministicMvid)
	require.True(t, opts.ForceWideHeaps)
	require.Equal(t, byte(2), opts.TablesMajorVersion) // default survives
}
