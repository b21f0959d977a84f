package builder

import (
	"fmt"

	"github.com/dnmd-io/dnmdbuilder/sig"
	"github.com/dnmd-io/dnmdbuilder/table"
	"github.com/dnmd-io/dnmdbuilder/token"
)

// MethodSemantics attribute bits (ECMA-335 §II.23.1.12).
const (
	SemSetter   uint16 = 0x0001
	SemGetter   uint16 = 0x0002
	SemOther    uint16 = 0x0004
	SemAddOn    uint16 = 0x0008
	SemRemoveOn uint16 = 0x0010
	SemFire     uint16 = 0x0020
)

// isMaterialized reports whether a definition-side object already has its
// row in the tables buffer (tracked in materializedRows). It is distinct from the token memo: tokens
// for types, methods, and fields are assigned at New time, long before
// the rows exist.
func (b *Builder) isMaterialized(obj any) bool {
	if b.materializedRows == nil {
		return false
	}
	return b.materializedRows[obj]
}

func (b *Builder) markMaterialized(obj any) {
	if b.materializedRows == nil {
		b.materializedRows = make(map[any]bool)
	}
	b.materializedRows[obj] = true
}

// AddTypeDefinition imports a declared type: its TypeDef row, its
// members, and every side row that hangs off the type. The type's token
// was already assigned at New time, so signatures encountered during the
// recursion resolve immediately even when they point back at this type.
func (b *Builder) AddTypeDefinition(t *TypeDef) (token.Token, error) {
	b.assertLive()
	tok, err := b.typeDefToken(t)
	if err != nil {
		return 0, err
	}
	if b.isMaterialized(t) {
		return tok, nil
	}
	b.markMaterialized(t)

	var extends uint32
	if t.BaseType != nil {
		baseTok, err := b.TypeToken(t.BaseType)
		if err != nil {
			return 0, err
		}
		extends, err = token.NewCodedIndex(token.TypeDefOrRef).Encode(baseTok)
		if err != nil {
			return 0, liftError(err, "add type definition %q", t.Name)
		}
	}
	name, err := b.strings.GetIndex(t.Name)
	if err != nil {
		return 0, liftError(err, "add type definition %q", t.Name)
	}
	ns, err := b.strings.GetIndex(t.Namespace)
	if err != nil {
		return 0, liftError(err, "add type definition %q", t.Name)
	}

	var fieldList, methodList uint32
	if len(t.Fields) > 0 {
		fieldList = b.tokens[t.Fields[0]].RID()
	} else {
		fieldList = b.tables.Field.Count() + 1
	}
	if len(t.Methods) > 0 {
		methodList = b.tokens[t.Methods[0]].RID()
	} else {
		methodList = b.tables.MethodDef.Count() + 1
	}

	b.tables.AddTypeDef(table.TypeDefRow{
		Flags:      t.Flags,
		Name:       name,
		Namespace:  ns,
		Extends:    extends,
		FieldList:  fieldList,
		MethodList: methodList,
	}, tok.RID())

	for _, f := range t.Fields {
		if _, err := b.AddFieldDefinition(f); err != nil {
			return 0, err
		}
	}
	for _, m := range t.Methods {
		if _, err := b.AddMethodDefinition(m); err != nil {
			return 0, err
		}
	}
	if err := b.addProperties(t, tok); err != nil {
		return 0, err
	}
	if err := b.addEvents(t, tok); err != nil {
		return 0, err
	}
	for _, gp := range t.GenericParams {
		if _, err := b.AddGenericParameter(tok, gp); err != nil {
			return 0, err
		}
	}
	for _, iface := range t.Interfaces {
		if _, err := b.AddInterfaceImplementation(t, iface); err != nil {
			return 0, err
		}
	}
	for _, mi := range t.MethodImpls {
		bodyTok, err := b.methodDefOrRefToken(mi.Body)
		if err != nil {
			return 0, err
		}
		declTok, err := b.methodDefOrRefToken(mi.Declaration)
		if err != nil {
			return 0, err
		}
		body, err := token.NewCodedIndex(token.MethodDefOrRef).Encode(bodyTok)
		if err != nil {
			return 0, liftError(err, "add method override on %q", t.Name)
		}
		decl, err := token.NewCodedIndex(token.MethodDefOrRef).Encode(declTok)
		if err != nil {
			return 0, liftError(err, "add method override on %q", t.Name)
		}
		b.tables.AddMethodImpl(table.MethodImplRow{
			Class:             tok.RID(),
			MethodBody:        body,
			MethodDeclaration: decl,
		}, 0)
	}
	if t.Layout != nil {
		if _, err := b.AddClassLayout(t, t.Layout); err != nil {
			return 0, err
		}
	}
	if err := b.addCustomAttributes(tok, t.CustomAttributes); err != nil {
		return 0, err
	}
	for _, ds := range t.DeclSecurity {
		if _, err := b.AddDeclSecurity(tok, ds); err != nil {
			return 0, err
		}
	}

	for _, nested := range t.NestedTypes {
		nestedTok, err := b.AddTypeDefinition(nested)
		if err != nil {
			return 0, err
		}
		b.tables.AddNestedClass(table.NestedClassRow{
			NestedClass:    nestedTok.RID(),
			EnclosingClass: tok.RID(),
		}, 0)
	}

	return tok, nil
}

// AddFieldDefinition imports a declared field and its side rows.
func (b *Builder) AddFieldDefinition(f *FieldDef) (token.Token, error) {
	b.assertLive()
	tok, err := b.fieldDefToken(f)
	if err != nil {
		return 0, err
	}
	if b.isMaterialized(f) {
		return tok, nil
	}
	b.markMaterialized(f)

	sigBytes, err := sig.EncodeFieldSig(f.Signature, b)
	if err != nil {
		return 0, liftError(err, "add field definition %q", f.Name)
	}
	sigIdx, err := b.blob.GetIndex(sigBytes)
	if err != nil {
		return 0, liftError(err, "add field definition %q", f.Name)
	}
	name, err := b.strings.GetIndex(f.Name)
	if err != nil {
		return 0, liftError(err, "add field definition %q", f.Name)
	}

	b.tables.AddField(table.FieldRow{
		Flags:     f.Flags,
		Name:      name,
		Signature: sigIdx,
	}, tok.RID())

	if f.Constant != nil {
		if _, err := b.AddConstant(tok, f.Constant); err != nil {
			return 0, err
		}
	}
	if f.Marshal != nil {
		if _, err := b.AddFieldMarshal(tok, f.Marshal); err != nil {
			return 0, err
		}
	}
	if f.Offset != nil {
		if _, err := b.AddFieldLayout(f, *f.Offset); err != nil {
			return 0, err
		}
	}
	if f.RVA != nil {
		if _, err := b.AddFieldRVA(f, *f.RVA); err != nil {
			return 0, err
		}
	}
	if f.ImplMap != nil {
		if _, err := b.AddImplementationMap(tok, f.ImplMap); err != nil {
			return 0, err
		}
	}
	return tok, b.addCustomAttributes(tok, f.CustomAttributes)
}

// AddMethodDefinition imports a declared method and its side rows. The
// body is not serialized here: bodies run as a separate pass at
// CreateDirectory time, once every operand's target has a token.
func (b *Builder) AddMethodDefinition(m *MethodDef) (token.Token, error) {
	b.assertLive()
	tok, err := b.methodDefToken(m)
	if err != nil {
		return 0, err
	}
	if b.isMaterialized(m) {
		return tok, nil
	}
	b.markMaterialized(m)

	sigBytes, err := sig.EncodeMethodSig(m.Signature, b)
	if err != nil {
		return 0, liftError(err, "add method definition %q", m.Name)
	}
	sigIdx, err := b.blob.GetIndex(sigBytes)
	if err != nil {
		return 0, liftError(err, "add method definition %q", m.Name)
	}
	name, err := b.strings.GetIndex(m.Name)
	if err != nil {
		return 0, liftError(err, "add method definition %q", m.Name)
	}

	b.tables.AddMethodDef(table.MethodDefRow{
		RVA:       0, // patched by the body pass
		ImplFlags: m.ImplFlags,
		Flags:     m.Flags,
		Name:      name,
		Signature: sigIdx,
		ParamList: b.tables.Param.Count() + 1,
	}, tok.RID())

	for _, p := range m.Params {
		if _, err := b.AddParameterDefinition(p); err != nil {
			return 0, err
		}
	}
	for _, gp := range m.GenericParams {
		if _, err := b.AddGenericParameter(tok, gp); err != nil {
			return 0, err
		}
	}
	if m.ImplMap != nil {
		if _, err := b.AddImplementationMap(tok, m.ImplMap); err != nil {
			return 0, err
		}
	}
	if err := b.addCustomAttributes(tok, m.CustomAttributes); err != nil {
		return 0, err
	}
	for _, ds := range m.DeclSecurity {
		if _, err := b.AddDeclSecurity(tok, ds); err != nil {
			return 0, err
		}
	}
	return tok, nil
}

// AddParameterDefinition imports a declared parameter.
func (b *Builder) AddParameterDefinition(p *ParamDef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[p]; ok {
		return tok, nil
	}
	if err := b.checkOwner(p, fmt.Sprintf("parameter %q", p.Name)); err != nil {
		return 0, err
	}

	name, err := b.strings.GetIndex(p.Name)
	if err != nil {
		return 0, liftError(err, "add parameter %q", p.Name)
	}
	preferred := preferredRID(p.OriginalToken, token.Param)
	tok := b.tables.AddParam(table.ParamRow{
		Flags:    p.Flags,
		Sequence: p.Sequence,
		Name:     name,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.Param.Count(), preferred, fmt.Sprintf("parameter %q", p.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[p] = tok

	if p.Constant != nil {
		if _, err := b.AddConstant(tok, p.Constant); err != nil {
			return 0, err
		}
	}
	if p.Marshal != nil {
		if _, err := b.AddFieldMarshal(tok, p.Marshal); err != nil {
			return 0, err
		}
	}
	return tok, b.addCustomAttributes(tok, p.CustomAttributes)
}

func (b *Builder) addProperties(t *TypeDef, typeTok token.Token) error {
	if len(t.Properties) == 0 {
		return nil
	}
	b.tables.AddPropertyMap(table.PropertyMapRow{
		Parent:       typeTok.RID(),
		PropertyList: b.tables.Property.Count() + 1,
	}, 0)
	for _, p := range t.Properties {
		if _, err := b.AddPropertyDefinition(p); err != nil {
			return err
		}
	}
	return nil
}

// AddPropertyDefinition imports a declared property and wires its
// accessors through MethodSemantics rows. The owning type's PropertyMap
// row is handled by AddTypeDefinition.
func (b *Builder) AddPropertyDefinition(p *PropertyDef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[p]; ok {
		return tok, nil
	}
	if err := b.checkOwner(p, fmt.Sprintf("property %q", p.Name)); err != nil {
		return 0, err
	}

	sigBytes, err := sig.EncodePropertySig(p.Signature, b)
	if err != nil {
		return 0, liftError(err, "add property %q", p.Name)
	}
	sigIdx, err := b.blob.GetIndex(sigBytes)
	if err != nil {
		return 0, liftError(err, "add property %q", p.Name)
	}
	name, err := b.strings.GetIndex(p.Name)
	if err != nil {
		return 0, liftError(err, "add property %q", p.Name)
	}

	preferred := preferredRID(p.OriginalToken, token.Property)
	tok := b.tables.AddProperty(table.PropertyRow{
		Flags: p.Flags,
		Name:  name,
		Type:  sigIdx,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.Property.Count(), preferred, fmt.Sprintf("property %q", p.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[p] = tok

	if p.Getter != nil {
		if _, err := b.AddMethodSemantics(tok, SemGetter, p.Getter); err != nil {
			return 0, err
		}
	}
	if p.Setter != nil {
		if _, err := b.AddMethodSemantics(tok, SemSetter, p.Setter); err != nil {
			return 0, err
		}
	}
	for _, o := range p.Others {
		if _, err := b.AddMethodSemantics(tok, SemOther, o); err != nil {
			return 0, err
		}
	}
	if p.Constant != nil {
		if _, err := b.AddConstant(tok, p.Constant); err != nil {
			return 0, err
		}
	}
	return tok, b.addCustomAttributes(tok, p.CustomAttributes)
}

func (b *Builder) addEvents(t *TypeDef, typeTok token.Token) error {
	if len(t.Events) == 0 {
		return nil
	}
	b.tables.AddEventMap(table.EventMapRow{
		Parent:    typeTok.RID(),
		EventList: b.tables.Event.Count() + 1,
	}, 0)
	for _, e := range t.Events {
		if _, err := b.AddEventDefinition(e); err != nil {
			return err
		}
	}
	return nil
}

// AddEventDefinition imports a declared event and its accessor
// semantics. The owning type's EventMap row is handled by
// AddTypeDefinition.
func (b *Builder) AddEventDefinition(e *EventDef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[e]; ok {
		return tok, nil
	}
	if err := b.checkOwner(e, fmt.Sprintf("event %q", e.Name)); err != nil {
		return 0, err
	}

	var eventType uint32
	if e.EventType != nil {
		etTok, err := b.TypeToken(e.EventType)
		if err != nil {
			return 0, err
		}
		eventType, err = token.NewCodedIndex(token.TypeDefOrRef).Encode(etTok)
		if err != nil {
			return 0, liftError(err, "add event %q", e.Name)
		}
	}
	name, err := b.strings.GetIndex(e.Name)
	if err != nil {
		return 0, liftError(err, "add event %q", e.Name)
	}

	preferred := preferredRID(e.OriginalToken, token.Event)
	tok := b.tables.AddEvent(table.EventRow{
		EventFlags: e.Flags,
		Name:       name,
		EventType:  eventType,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.Event.Count(), preferred, fmt.Sprintf("event %q", e.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[e] = tok

	accessors := []struct {
		sem    uint16
		method *MethodDef
	}{
		{SemAddOn, e.AddOn}, {SemRemoveOn, e.RemoveOn}, {SemFire, e.Fire},
	}
	for _, a := range accessors {
		if a.method == nil {
			continue
		}
		if _, err := b.AddMethodSemantics(tok, a.sem, a.method); err != nil {
			return 0, err
		}
	}
	for _, o := range e.Others {
		if _, err := b.AddMethodSemantics(tok, SemOther, o); err != nil {
			return 0, err
		}
	}
	return tok, b.addCustomAttributes(tok, e.CustomAttributes)
}

// AddMethodSemantics wires a property or event (the association) to one
// of its accessor methods.
func (b *Builder) AddMethodSemantics(association token.Token, semantics uint16, method *MethodDef) (token.Token, error) {
	b.assertLive()
	methodTok, err := b.methodDefToken(method)
	if err != nil {
		return 0, err
	}
	assoc, err := token.NewCodedIndex(token.HasSemantics).Encode(association)
	if err != nil {
		return 0, liftError(err, "add method semantics for %q", method.Name)
	}
	tok := b.tables.AddMethodSemantics(table.MethodSemanticsRow{
		Semantics:   semantics,
		Method:      methodTok.RID(),
		Association: assoc,
	}, 0)
	return b.finishRow(tok, b.tables.MethodSemantics.Count(), 0, "method semantics")
}

// AddGenericParameter imports one generic parameter of a type or method
// (the owner token), plus its constraints.
func (b *Builder) AddGenericParameter(owner token.Token, gp *GenericParam) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[gp]; ok {
		return tok, nil
	}
	if err := b.checkOwner(gp, fmt.Sprintf("generic parameter %q", gp.Name)); err != nil {
		return 0, err
	}

	ownerCoded, err := token.NewCodedIndex(token.TypeOrMethodDef).Encode(owner)
	if err != nil {
		return 0, liftError(err, "add generic parameter %q", gp.Name)
	}
	name, err := b.strings.GetIndex(gp.Name)
	if err != nil {
		return 0, liftError(err, "add generic parameter %q", gp.Name)
	}

	tok := b.tables.AddGenericParam(table.GenericParamRow{
		Number: gp.Number,
		Flags:  gp.Flags,
		Owner:  ownerCoded,
		Name:   name,
	}, 0)
	tok, err = b.finishRow(tok, b.tables.GenericParam.Count(), 0, fmt.Sprintf("generic parameter %q", gp.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[gp] = tok

	for _, c := range gp.Constraints {
		if _, err := b.AddGenericParameterConstraint(tok, c); err != nil {
			return 0, err
		}
	}
	return tok, b.addCustomAttributes(tok, gp.CustomAttributes)
}

// AddGenericParameterConstraint records one constraint on an
// already-imported generic parameter.
func (b *Builder) AddGenericParameterConstraint(owner token.Token, constraint any) (token.Token, error) {
	b.assertLive()
	cTok, err := b.TypeToken(constraint)
	if err != nil {
		return 0, err
	}
	coded, err := token.NewCodedIndex(token.TypeDefOrRef).Encode(cTok)
	if err != nil {
		return 0, liftError(err, "add generic-parameter constraint")
	}
	tok := b.tables.AddGenericParamConstraint(table.GenericParamConstraintRow{
		Owner:      owner.RID(),
		Constraint: coded,
	}, 0)
	return b.finishRow(tok, b.tables.GenericParamConstraint.Count(), 0, "generic-parameter constraint")
}

// AddInterfaceImplementation records that class implements iface.
func (b *Builder) AddInterfaceImplementation(class *TypeDef, iface any) (token.Token, error) {
	b.assertLive()
	classTok, err := b.typeDefToken(class)
	if err != nil {
		return 0, err
	}
	ifaceTok, err := b.TypeToken(iface)
	if err != nil {
		return 0, err
	}
	coded, err := token.NewCodedIndex(token.TypeDefOrRef).Encode(ifaceTok)
	if err != nil {
		return 0, liftError(err, "add interface implementation on %q", class.Name)
	}
	tok := b.tables.AddInterfaceImpl(table.InterfaceImplRow{
		Class:     classTok.RID(),
		Interface: coded,
	}, 0)
	return b.finishRow(tok, b.tables.InterfaceImpl.Count(), 0, "interface implementation")
}

// AddClassLayout records explicit packing and size for a class.
func (b *Builder) AddClassLayout(class *TypeDef, layout *ClassLayout) (token.Token, error) {
	b.assertLive()
	classTok, err := b.typeDefToken(class)
	if err != nil {
		return 0, err
	}
	tok := b.tables.AddClassLayout(table.ClassLayoutRow{
		PackingSize: layout.PackingSize,
		ClassSize:   layout.ClassSize,
		Parent:      classTok.RID(),
	}, 0)
	return b.finishRow(tok, b.tables.ClassLayout.Count(), 0, "class layout")
}

// AddFieldLayout records an explicit byte offset for a field.
func (b *Builder) AddFieldLayout(f *FieldDef, offset uint32) (token.Token, error) {
	b.assertLive()
	fTok, err := b.fieldDefToken(f)
	if err != nil {
		return 0, err
	}
	tok := b.tables.AddFieldLayout(table.FieldLayoutRow{
		Offset: offset,
		Field:  fTok.RID(),
	}, 0)
	return b.finishRow(tok, b.tables.FieldLayout.Count(), 0, "field layout")
}

// AddFieldMarshal records a native-type marshalling blob for a field or
// parameter token.
func (b *Builder) AddFieldMarshal(parent token.Token, nativeType []byte) (token.Token, error) {
	b.assertLive()
	coded, err := token.NewCodedIndex(token.HasFieldMarshal).Encode(parent)
	if err != nil {
		return 0, liftError(err, "add field marshal")
	}
	nt, err := b.blob.GetIndex(nativeType)
	if err != nil {
		return 0, liftError(err, "add field marshal")
	}
	tok := b.tables.AddFieldMarshal(table.FieldMarshalRow{
		Parent:     coded,
		NativeType: nt,
	}, 0)
	return b.finishRow(tok, b.tables.FieldMarshal.Count(), 0, "field marshal")
}

// AddFieldRVA records mapped initial data for a field.
func (b *Builder) AddFieldRVA(f *FieldDef, rva uint32) (token.Token, error) {
	b.assertLive()
	fTok, err := b.fieldDefToken(f)
	if err != nil {
		return 0, err
	}
	tok := b.tables.AddFieldRVA(table.FieldRVARow{
		RVA:   rva,
		Field: fTok.RID(),
	}, 0)
	return b.finishRow(tok, b.tables.FieldRVA.Count(), 0, "field RVA")
}

// AddConstant records a compile-time default value for a field, param,
// or property token.
func (b *Builder) AddConstant(parent token.Token, c *Constant) (token.Token, error) {
	b.assertLive()
	coded, err := token.NewCodedIndex(token.HasConstant).Encode(parent)
	if err != nil {
		return 0, liftError(err, "add constant")
	}
	value, err := b.blob.GetIndex(c.Value)
	if err != nil {
		return 0, liftError(err, "add constant")
	}
	tok := b.tables.AddConstant(table.ConstantRow{
		Type:   c.Type,
		Parent: coded,
		Value:  value,
	}, 0)
	return b.finishRow(tok, b.tables.Constant.Count(), 0, "constant")
}

// AddDeclSecurity records one declarative-security action on a type,
// method, or assembly token.
func (b *Builder) AddDeclSecurity(parent token.Token, ds *DeclSecurity) (token.Token, error) {
	b.assertLive()
	coded, err := token.NewCodedIndex(token.HasDeclSecurity).Encode(parent)
	if err != nil {
		return 0, liftError(err, "add security declaration")
	}
	ps, err := b.blob.GetIndex(ds.PermissionSet)
	if err != nil {
		return 0, liftError(err, "add security declaration")
	}
	tok := b.tables.AddDeclSecurity(table.DeclSecurityRow{
		Action:        ds.Action,
		Parent:        coded,
		PermissionSet: ps,
	}, 0)
	return b.finishRow(tok, b.tables.DeclSecurity.Count(), 0, "security declaration")
}

// AddImplementationMap records a P/Invoke forwarding for a field or
// method token.
func (b *Builder) AddImplementationMap(forwarded token.Token, im *ImplMap) (token.Token, error) {
	b.assertLive()
	coded, err := token.NewCodedIndex(token.MemberForwarded).Encode(forwarded)
	if err != nil {
		return 0, liftError(err, "add P/Invoke map for %q", im.ImportName)
	}
	scopeTok, err := b.AddModuleReference(im.ImportScope)
	if err != nil {
		return 0, err
	}
	name, err := b.strings.GetIndex(im.ImportName)
	if err != nil {
		return 0, liftError(err, "add P/Invoke map for %q", im.ImportName)
	}
	tok := b.tables.AddImplMap(table.ImplMapRow{
		MappingFlags:    im.MappingFlags,
		MemberForwarded: coded,
		ImportName:      name,
		ImportScope:     scopeTok.RID(),
	}, 0)
	return b.finishRow(tok, b.tables.ImplMap.Count(), 0, "P/Invoke map")
}

// AddNestedClass records the enclosing relation between two declared
// types.
func (b *Builder) AddNestedClass(nested, enclosing *TypeDef) (token.Token, error) {
	b.assertLive()
	nestedTok, err := b.typeDefToken(nested)
	if err != nil {
		return 0, err
	}
	enclosingTok, err := b.typeDefToken(enclosing)
	if err != nil {
		return 0, err
	}
	tok := b.tables.AddNestedClass(table.NestedClassRow{
		NestedClass:    nestedTok.RID(),
		EnclosingClass: enclosingTok.RID(),
	}, 0)
	return b.finishRow(tok, b.tables.NestedClass.Count(), 0, "nested class")
}

// AddCustomAttribute attaches one custom attribute to an
// already-imported parent token.
func (b *Builder) AddCustomAttribute(parent token.Token, ca *CustomAttribute) (token.Token, error) {
	b.assertLive()
	ctorTok, err := b.methodDefOrRefToken(ca.Constructor)
	if err != nil {
		return 0, err
	}
	parentCoded, err := token.NewCodedIndex(token.HasCustomAttribute).Encode(parent)
	if err != nil {
		return 0, liftError(err, "add custom attribute")
	}
	typeCoded, err := token.NewCodedIndex(token.CustomAttributeType).Encode(ctorTok)
	if err != nil {
		return 0, liftError(err, "add custom attribute")
	}
	value, err := b.blob.GetIndex(ca.Value)
	if err != nil {
		return 0, liftError(err, "add custom attribute")
	}
	tok := b.tables.AddCustomAttribute(table.CustomAttributeRow{
		Parent: parentCoded,
		Type:   typeCoded,
		Value:  value,
	}, 0)
	return b.finishRow(tok, b.tables.CustomAttribute.Count(), 0, "custom attribute")
}

func (b *Builder) addCustomAttributes(parent token.Token, cas []*CustomAttribute) error {
	for _, ca := range cas {
		if _, err := b.AddCustomAttribute(parent, ca); err != nil {
			return err
		}
	}
	return nil
}

// AddFileReference imports one file row of a multi-file assembly.
func (b *Builder) AddFileReference(f *FileRef) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[f]; ok {
		return tok, nil
	}
	if err := b.checkOwner(f, fmt.Sprintf("file reference %q", f.Name)); err != nil {
		return 0, err
	}
	name, err := b.strings.GetIndex(f.Name)
	if err != nil {
		return 0, liftError(err, "add file reference %q", f.Name)
	}
	hash, err := b.blob.GetIndex(f.Hash)
	if err != nil {
		return 0, liftError(err, "add file reference %q", f.Name)
	}
	preferred := preferredRID(f.OriginalToken, token.File)
	tok := b.tables.AddFile(table.FileRow{
		Flags:     f.Flags,
		Name:      name,
		HashValue: hash,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.File.Count(), preferred, fmt.Sprintf("file reference %q", f.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[f] = tok
	return tok, nil
}

// AddExportedType imports one exported-type row of a multi-module
// assembly.
func (b *Builder) AddExportedType(et *ExportedType) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[et]; ok {
		return tok, nil
	}
	if err := b.checkOwner(et, fmt.Sprintf("exported type %q", et.Name)); err != nil {
		return 0, err
	}

	implTok, err := b.implementationToken(et.Implementation)
	if err != nil {
		return 0, err
	}
	impl, err := token.NewCodedIndex(token.Implementation).Encode(implTok)
	if err != nil {
		return 0, liftError(err, "add exported type %q", et.Name)
	}
	name, err := b.strings.GetIndex(et.Name)
	if err != nil {
		return 0, liftError(err, "add exported type %q", et.Name)
	}
	ns, err := b.strings.GetIndex(et.Namespace)
	if err != nil {
		return 0, liftError(err, "add exported type %q", et.Name)
	}

	preferred := preferredRID(et.OriginalToken, token.ExportedType)
	tok := b.tables.AddExportedType(table.ExportedTypeRow{
		Flags:          et.Flags,
		TypeDefID:      et.TypeDefID,
		TypeName:       name,
		TypeNamespace:  ns,
		Implementation: impl,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.ExportedType.Count(), preferred, fmt.Sprintf("exported type %q", et.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[et] = tok
	return tok, nil
}

// AddManifestResource imports one manifest resource. Embedded resources
// land in the resources buffer and record their offset; external ones
// carry an Implementation coded index instead.
func (b *Builder) AddManifestResource(r *ManagedResource) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[r]; ok {
		return tok, nil
	}
	if err := b.checkOwner(r, fmt.Sprintf("resource %q", r.Name)); err != nil {
		return 0, err
	}

	var offset, impl uint32
	if r.Implementation != nil {
		implTok, err := b.implementationToken(r.Implementation)
		if err != nil {
			return 0, err
		}
		impl, err = token.NewCodedIndex(token.Implementation).Encode(implTok)
		if err != nil {
			return 0, liftError(err, "add resource %q", r.Name)
		}
		offset = r.Offset
	} else {
		var err error
		offset, err = b.resources.Add(r.Data)
		if err != nil {
			return 0, liftError(err, "add resource %q", r.Name)
		}
	}

	name, err := b.strings.GetIndex(r.Name)
	if err != nil {
		return 0, liftError(err, "add resource %q", r.Name)
	}
	preferred := preferredRID(r.OriginalToken, token.ManifestResource)
	tok := b.tables.AddManifestResource(table.ManifestResourceRow{
		Offset:         offset,
		Flags:          r.Flags,
		Name:           name,
		Implementation: impl,
	}, preferred)
	tok, err = b.finishRow(tok, b.tables.ManifestResource.Count(), preferred, fmt.Sprintf("resource %q", r.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[r] = tok
	return tok, nil
}

// implementationToken resolves an object that must land in the
// Implementation coded-index category.
func (b *Builder) implementationToken(obj any) (token.Token, error) {
	switch o := obj.(type) {
	case *FileRef:
		return b.AddFileReference(o)
	case *AssemblyRef:
		return b.AddAssemblyReference(o)
	case *ExportedType:
		return b.AddExportedType(o)
	default:
		return 0, newError(KindMemberNotImported, "%T cannot be an implementation reference", obj)
	}
}

// AddAssemblyDefinition imports the Assembly-table row plus the
// attributes and security declarations that hang off it.
func (b *Builder) AddAssemblyDefinition(info *AssemblyInfo) (token.Token, error) {
	b.assertLive()
	if tok, ok := b.tokens[info]; ok {
		return tok, nil
	}

	name, err := b.strings.GetIndex(info.Name)
	if err != nil {
		return 0, liftError(err, "add assembly definition %q", info.Name)
	}
	culture, err := b.strings.GetIndex(info.Culture)
	if err != nil {
		return 0, liftError(err, "add assembly definition %q", info.Name)
	}
	pk, err := b.blob.GetIndex(info.PublicKey)
	if err != nil {
		return 0, liftError(err, "add assembly definition %q", info.Name)
	}

	tok := b.tables.AddAssembly(table.AssemblyRow{
		HashAlgID:      info.HashAlgID,
		MajorVersion:   info.MajorVersion,
		MinorVersion:   info.MinorVersion,
		BuildNumber:    info.BuildNumber,
		RevisionNumber: info.RevisionNumber,
		Flags:          info.Flags,
		PublicKey:      pk,
		Name:           name,
		Culture:        culture,
	}, 0)
	tok, err = b.finishRow(tok, b.tables.Assembly.Count(), 0, fmt.Sprintf("assembly definition %q", info.Name))
	if err != nil {
		return 0, err
	}
	b.tokens[info] = tok

	if err := b.addCustomAttributes(tok, info.CustomAttributes); err != nil {
		return 0, err
	}
	for _, ds := range info.DeclSecurity {
		if _, err := b.AddDeclSecurity(tok, ds); err != nil {
			return 0, err
		}
	}
	return tok, nil
}
