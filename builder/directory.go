package builder

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"

	"github.com/dnmd-io/dnmdbuilder/cil"
	"github.com/dnmd-io/dnmdbuilder/heap"
	"github.com/dnmd-io/dnmdbuilder/table"
	"github.com/dnmd-io/dnmdbuilder/token"
	"github.com/dnmd-io/dnmdbuilder/utils"
)

// Directory is the produced .NET metadata directory: the full BSJB
// metadata blob (header plus the five streams), the optional resources
// blob, the concatenated method-body segment, and the CLI-header fields
// the PE emitter copies out. Once returned, the builder that made it is
// spent.
type Directory struct {
	Metadata        []byte
	Resources       []byte // nil when the module carries no embedded resources
	Code            []byte // method bodies; MethodDef RVAs are offsets into this
	EntryPointToken uint32
	Flags           uint32
}

// hashAlgSHA1 is the default Assembly hash algorithm for synthesized
// assembly rows.
const hashAlgSHA1 = 0x8004

// CreateDirectory walks the module graph, serializes every stream, and
// returns the finished directory. The walk order follows the dependency
// direction: module and assembly rows, then all type definitions (each
// pre-assigned its RID so back-references resolve), then files,
// exported types, resources, module-level attributes, and finally
// method bodies once every operand target has a token.
func (b *Builder) CreateDirectory() (*Directory, error) {
	b.assertLive()

	if err := b.addModuleRow(); err != nil {
		return nil, err
	}

	asm := b.module.Assembly
	if asm == nil {
		asm = &AssemblyInfo{HashAlgID: hashAlgSHA1, Name: b.module.Name}
	}
	if _, err := b.AddAssemblyDefinition(asm); err != nil {
		return nil, err
	}

	types := b.flattenTypes()
	if len(types) > 0 {
		if err := b.addModuleTypeStub(); err != nil {
			return nil, err
		}
		for _, t := range types {
			if _, err := b.AddTypeDefinition(t); err != nil {
				return nil, err
			}
		}
	}

	for _, f := range b.module.Files {
		if _, err := b.AddFileReference(f); err != nil {
			return nil, err
		}
	}
	for _, et := range b.module.ExportedTypes {
		if _, err := b.AddExportedType(et); err != nil {
			return nil, err
		}
	}
	for _, r := range b.module.Resources {
		if _, err := b.AddManifestResource(r); err != nil {
			return nil, err
		}
	}
	if err := b.addCustomAttributes(token.New(token.Module, 1), b.module.CustomAttributes); err != nil {
		return nil, err
	}

	if err := b.serializeBodies(types); err != nil {
		return nil, err
	}

	entryPoint, err := b.entryPointToken()
	if err != nil {
		return nil, err
	}

	metadata, err := b.buildMetadata()
	if err != nil {
		return nil, err
	}

	dir := &Directory{
		Metadata:        metadata,
		Code:            b.code,
		EntryPointToken: entryPoint,
		Flags:           b.module.Attributes,
	}
	if b.resources.Size() > 0 {
		var buf bytes.Buffer
		if _, err := b.resources.Flush(&buf); err != nil {
			return nil, liftError(err, "flush resources")
		}
		dir.Resources = buf.Bytes()
	}

	b.spent = true
	return dir, nil
}

func (b *Builder) addModuleRow() error {
	mvid := b.module.Mvid
	if mvid == (heap.GUID{}) {
		var err error
		if b.opts.DeterministicMvid {
			mvid = deterministicGUID(b.module.Name)
		} else if mvid, err = heap.NewRandomGUID(); err != nil {
			return liftError(err, "generate MVID")
		}
	}

	name, err := b.strings.GetIndex(b.module.Name)
	if err != nil {
		return liftError(err, "add module row")
	}
	var encID, encBaseID uint32
	if b.module.EncID != (heap.GUID{}) {
		encID = b.guids.GetIndex(b.module.EncID)
	}
	if b.module.EncBaseID != (heap.GUID{}) {
		encBaseID = b.guids.GetIndex(b.module.EncBaseID)
	}

	b.tables.AddModule(table.ModuleRow{
		Generation: b.module.Generation,
		Name:       name,
		Mvid:       b.guids.GetIndex(mvid),
		EncID:      encID,
		EncBaseID:  encBaseID,
	}, 0)
	return nil
}

// deterministicGUID derives a stable MVID from the module name, with the
// version/variant bits set so the value still reads as a valid GUID.
func deterministicGUID(name string) heap.GUID {
	var g heap.GUID
	sum := md5.Sum([]byte("mvid:" + name))
	copy(g[:], sum[:])
	g[7] = (g[7] & 0x0F) | 0x40
	g[8] = (g[8] & 0x3F) | 0x80
	return g
}

// addModuleTypeStub emits the synthetic <Module> type at TypeDef RID 1,
// ahead of every declared type.
func (b *Builder) addModuleTypeStub() error {
	name, err := b.strings.GetIndex("<Module>")
	if err != nil {
		return liftError(err, "add <Module> type")
	}
	b.tables.AddTypeDef(table.TypeDefRow{
		Name:       name,
		FieldList:  1,
		MethodList: 1,
	}, 1)
	return nil
}

// serializeBodies runs after the member walk so that every CIL operand
// resolves against an assigned token. Each body is 4-byte aligned in the
// code segment and its offset patched into the MethodDef row's RVA
// column.
func (b *Builder) serializeBodies(types []*TypeDef) error {
	for _, t := range types {
		for _, m := range t.Methods {
			if m.Body == nil {
				continue
			}
			body, err := cil.Serialize(m.Body, b)
			if err != nil {
				return liftError(err, "serialize body of %q", m.Name)
			}
			for uint32(len(b.code)) < utils.AlignUp(uint32(len(b.code)), 4) {
				b.code = append(b.code, 0)
			}
			rva := uint32(len(b.code))
			b.code = append(b.code, body...)

			rid := b.tokens[m].RID()
			if err := b.tables.UpdateMethodDef(rid, func(row *table.MethodDefRow) {
				row.RVA = rva
			}); err != nil {
				return wrapError(KindUnfilledRow, err, "patch RVA of %q", m.Name)
			}
		}
	}
	return nil
}

func (b *Builder) entryPointToken() (uint32, error) {
	switch {
	case b.module.EntryPoint != nil:
		tok, err := b.methodDefToken(b.module.EntryPoint)
		if err != nil {
			return 0, err
		}
		return uint32(tok), nil
	case b.module.EntryPointFile != nil:
		tok, err := b.AddFileReference(b.module.EntryPointFile)
		if err != nil {
			return 0, err
		}
		return uint32(tok), nil
	default:
		return 0, nil
	}
}

// streamNamePadded returns a stream name as stored in a stream header:
// NUL-terminated, zero-padded to a 4-byte boundary.
func streamNamePadded(name string) []byte {
	out := append([]byte(name), 0)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

// buildMetadata assembles the full BSJB metadata blob: the metadata
// header, five stream headers, and the stream bytes in the conventional
// order #~, #Strings, #US, #GUID, #Blob.
func (b *Builder) buildMetadata() ([]byte, error) {
	heapSizes := table.HeapSizes{
		StringsWide: b.strings.Size() > 0xFFFF || b.opts.ForceWideHeaps,
		GUIDWide:    b.guids.Size() > 0xFFFF || b.opts.ForceWideHeaps,
		BlobWide:    b.blob.Size() > 0xFFFF || b.opts.ForceWideHeaps,
	}
	widths := table.ComputeWidths(heapSizes, b.tables.RowCounts())

	for tbl, count := range b.tables.RowCounts() {
		if count > 0xFFFFFF {
			return nil, newError(KindIndexOverflow, "%s table exceeds 2^24-1 rows", token.TableIndex(tbl))
		}
	}

	tablesBytes, err := b.tables.Build(table.StreamHeader{
		MajorVersion: b.opts.TablesMajorVersion,
		MinorVersion: b.opts.TablesMinorVersion,
	}, widths)
	if err != nil {
		return nil, wrapError(KindUnfilledRow, err, "build tables stream")
	}
	for uint32(len(tablesBytes)) < utils.AlignUp(uint32(len(tablesBytes)), 4) {
		tablesBytes = append(tablesBytes, 0)
	}

	flush := func(f func(w *bytes.Buffer) (int, error), what string) ([]byte, error) {
		var buf bytes.Buffer
		if _, err := f(&buf); err != nil {
			return nil, liftError(err, "flush %s", what)
		}
		return buf.Bytes(), nil
	}
	stringsBytes, err := flush(func(w *bytes.Buffer) (int, error) { return b.strings.Flush(w) }, "#Strings")
	if err != nil {
		return nil, err
	}
	usBytes, err := flush(func(w *bytes.Buffer) (int, error) { return b.userStrs.Flush(w) }, "#US")
	if err != nil {
		return nil, err
	}
	guidBytes, err := flush(func(w *bytes.Buffer) (int, error) { return b.guids.Flush(w) }, "#GUID")
	if err != nil {
		return nil, err
	}
	blobBytes, err := flush(func(w *bytes.Buffer) (int, error) { return b.blob.Flush(w) }, "#Blob")
	if err != nil {
		return nil, err
	}

	streams := []struct {
		name string
		data []byte
	}{
		{"#~", tablesBytes},
		{"#Strings", stringsBytes},
		{"#US", usBytes},
		{"#GUID", guidBytes},
		{"#Blob", blobBytes},
	}

	version := []byte(b.opts.MetadataVersion)
	version = append(version, 0)
	for len(version)%4 != 0 {
		version = append(version, 0)
	}

	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + len(streamNamePadded(s.name))
	}

	var out bytes.Buffer
	writeU32 := func(v uint32) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v)
		out.Write(buf[:])
	}
	writeU16 := func(v uint16) {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], v)
		out.Write(buf[:])
	}

	writeU32(0x424A5342) // "BSJB"
	writeU16(1)          // major
	writeU16(1)          // minor
	writeU32(0)          // reserved
	writeU32(uint32(len(version)))
	out.Write(version)
	writeU16(0) // flags
	writeU16(uint16(len(streams)))

	offset := uint32(headerSize)
	for _, s := range streams {
		writeU32(offset)
		writeU32(uint32(len(s.data)))
		out.Write(streamNamePadded(s.name))
		offset += uint32(len(s.data))
	}
	if out.Len() != headerSize {
		return nil, newError(KindIndexOverflow, "metadata header size mismatch: computed %d, wrote %d", headerSize, out.Len())
	}
	for _, s := range streams {
		out.Write(s.data)
	}

	if uint64(out.Len()) > 0xFFFFFFFF {
		return nil, newError(KindIndexOverflow, "metadata directory exceeds 2^32-1 bytes")
	}
	return out.Bytes(), nil
}
