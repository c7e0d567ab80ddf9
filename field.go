/*
Package nuql – field tree.

The field tree is built once per table from the declared schema and is
immutable afterwards, so every per-call operation is safe for concurrent use.
*/
package nuql

import "fmt"

// Action selects the serialization pipeline behaviour.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionWrite  Action = "write"
	ActionQuery  Action = "query"
)

func (a Action) isWrite() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionWrite
}

// Field is the runtime representation of one schema field. Read-only after
// table construction.
type Field struct {
	Name string
	Type string
	Def  *FieldDef

	strategy TypeStrategy

	Required  bool
	Default   any
	Enum      []any
	Validator ValidatorFunc

	OnCreate GeneratorFunc
	OnUpdate GeneratorFunc
	OnWrite  GeneratorFunc
	Generate string

	// templates (at most one is set)
	template    *stringTemplate
	keyTemplate *keyTemplate

	// ProjectedFrom names the composite fields consuming this field.
	// Projects names the component fields this composite consumes, in
	// canonical order.
	ProjectedFrom []string
	Projects      []string

	// children
	Of     *Field            // list element schema
	Fields map[string]*Field // map children
}

func (f *Field) serialize(value any) (any, error) {
	return f.strategy.Serialize(f, value)
}

func (f *Field) deserialize(value any) (any, error) {
	return f.strategy.Deserialize(f, value)
}

// isComposite reports whether the field projects other fields.
func (f *Field) isComposite() bool {
	return f.template != nil || f.keyTemplate != nil
}

// placeholders returns the projected field names in canonical order.
func (f *Field) placeholders() []string {
	switch {
	case f.template != nil:
		return f.template.placeholders()
	case f.keyTemplate != nil:
		return f.keyTemplate.placeholders()
	}
	return nil
}

// apply runs the per-call pipeline: serialize → generators → default →
// required → enum → custom validator. hasValue distinguishes an explicit nil
// from an absent field. Failures are recorded on v; the serialized value (or
// nil) is returned either way.
func (f *Field) apply(value any, hasValue bool, action Action, v *validator) any {
	out, err := f.serialize(value)
	if err != nil {
		v.add(f.Name, err.Error())
		return nil
	}

	if action.isWrite() {
		if action == ActionCreate && f.OnCreate != nil {
			out = f.generated(f.OnCreate(), v)
		}
		if action == ActionUpdate && f.OnUpdate != nil {
			out = f.generated(f.OnUpdate(), v)
		}
		if f.OnWrite != nil {
			out = f.generated(f.OnWrite(), v)
		}
	}

	// Defaults and generated identifiers fill absent fields on full writes
	// only; a partial update leaves absent fields alone.
	if !hasValue && out == nil && (action == ActionCreate || action == ActionWrite) {
		if f.Default != nil {
			out = f.generated(f.Default, v)
		} else if action == ActionCreate && f.Generate != "" {
			if g, ok := generate(f.Generate); ok {
				out = g
			}
		}
	}

	// Required is enforced on create only. Puts and updates replace or touch
	// what they are given; key completeness is checked by the operation.
	if f.Required && action == ActionCreate && out == nil {
		v.add(f.Name, "field is required")
	}

	if len(f.Enum) > 0 && out != nil && action.isWrite() && !enumContains(f.Enum, out) {
		v.add(f.Name, fmt.Sprintf("value %v is not a permitted enum value", out))
	}

	if f.Validator != nil && action.isWrite() && out != nil {
		if err := f.Validator(out); err != nil {
			v.add(f.Name, err.Error())
		}
	}

	return out
}

// generated serializes a generator/default output through the field type.
func (f *Field) generated(value any, v *validator) any {
	out, err := f.serialize(value)
	if err != nil {
		v.add(f.Name, err.Error())
		return nil
	}
	return out
}

func enumContains(enum []any, value any) bool {
	want := fmt.Sprintf("%v", value)
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == want {
			return true
		}
	}
	return false
}

// ─── tree construction ───────────────────────────────────────────────────────

// buildFieldTree constructs the runtime field map for one table. It resolves
// every type tag against the registry, parses templates, wires composite
// projection links and rejects unknown types, bad references and cycles.
func buildFieldTree(reg *Registry, schema FieldMap) (map[string]*Field, error) {
	fields := make(map[string]*Field, len(schema))

	for name, def := range schema {
		f, err := buildField(reg, name, def)
		if err != nil {
			return nil, err
		}
		fields[name] = f
	}

	// Resolve templates against siblings: every referenced name must exist at
	// this level, and template fields must not reference other template fields
	// (cycles are impossible by construction once that holds).
	for name, f := range fields {
		for _, ref := range f.placeholders() {
			target, ok := fields[ref]
			if !ok {
				return nil, NewError(
					fmt.Sprintf("field %q (projected on %q) is not defined in the schema", ref, name),
					WithCode(ErrSchema), WithContext(map[string]any{"field": name, "reference": ref}))
			}
			if target.isComposite() {
				return nil, NewError(
					fmt.Sprintf("field %q references templated field %q", name, ref),
					WithCode(ErrSchema), WithContext(map[string]any{"field": name, "reference": ref}))
			}
			target.ProjectedFrom = append(target.ProjectedFrom, name)
			f.Projects = append(f.Projects, ref)
		}
	}

	return fields, nil
}

func buildField(reg *Registry, name string, def *FieldDef) (*Field, error) {
	if err := checkFieldName(name); err != nil {
		return nil, err
	}
	if def == nil {
		return nil, NewError(fmt.Sprintf("field %q has no definition", name), WithCode(ErrSchema))
	}
	strategy, ok := reg.get(def.Type)
	if !ok {
		return nil, NewError(fmt.Sprintf("unknown type %q for field %q", def.Type, name),
			WithCode(ErrSchema), WithContext(map[string]any{"field": name, "type": def.Type}))
	}

	f := &Field{
		Name:      name,
		Type:      def.Type,
		Def:       def,
		strategy:  strategy,
		Required:  def.Required,
		Default:   def.Default,
		Enum:      def.Enum,
		Validator: def.Validator,
		OnCreate:  def.OnCreate,
		OnUpdate:  def.OnUpdate,
		OnWrite:   def.OnWrite,
		Generate:  def.Generate,
	}

	switch v := def.Value.(type) {
	case nil:
	case string:
		if def.Type == TypeKey {
			return nil, NewError(fmt.Sprintf("key field %q requires a []KeyPart value", name),
				WithCode(ErrSchema))
		}
		f.template = parseStringTemplate(v)
	case []KeyPart:
		if def.Type != TypeKey {
			return nil, NewError(fmt.Sprintf("field %q declares key parts but is not key-typed", name),
				WithCode(ErrSchema))
		}
		f.keyTemplate = parseKeyTemplate(v)
	default:
		return nil, NewError(fmt.Sprintf("field %q has an unsupported value template", name),
			WithCode(ErrSchema))
	}

	if def.Type == TypeKey && f.keyTemplate == nil {
		return nil, NewError(fmt.Sprintf("'value' must be defined for key field %q", name),
			WithCode(ErrSchema))
	}

	switch def.Type {
	case TypeList:
		if def.Of == nil {
			return nil, NewError(fmt.Sprintf("list field %q requires an 'of' element schema", name),
				WithCode(ErrSchema))
		}
		child, err := buildField(reg, name+"[]", def.Of)
		if err != nil {
			return nil, err
		}
		f.Of = child
	case TypeMap:
		if len(def.Fields) == 0 {
			return nil, NewError(fmt.Sprintf("map field %q requires a 'fields' schema", name),
				WithCode(ErrSchema))
		}
		children, err := buildFieldTree(reg, def.Fields)
		if err != nil {
			return nil, err
		}
		f.Fields = children
	}

	return f, nil
}
