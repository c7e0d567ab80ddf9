/*
Package nuql – record serialization.

Serializes a caller record through the field pipeline and projects composite
key attributes from their components. Composite fields are write-only: reads
hand the stored composite string back untouched and never decompose it.
*/
package nuql

// serializeRecord runs every schema field over the record for one action.
// Pipeline failures across fields are aggregated into a single validation
// error. On update, an explicit nil marks the attribute for removal and is
// kept as a nil entry.
func serializeRecord(fields map[string]*Field, data map[string]any, action Action) (map[string]any, error) {
	v := &validator{}
	out := map[string]any{}

	for name := range data {
		if _, ok := fields[name]; !ok {
			v.add(name, "field is not defined in the schema")
		}
	}

	for name, f := range fields {
		if f.isComposite() {
			continue
		}
		value, has := data[name]
		if action == ActionUpdate && !has && f.OnUpdate == nil && f.OnWrite == nil {
			continue
		}
		res := f.apply(value, has, action, v)
		switch {
		case res != nil:
			out[name] = res
		case has && action == ActionUpdate:
			out[name] = nil
		}
	}

	if action.isWrite() {
		projectComposites(fields, data, out)
		if err := v.err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// projectComposites computes each composite attribute from the serialized
// component values. A composite that cannot fully resolve is omitted; key
// attribute completeness is enforced by the operation, not here. A caller
// supplied string stands in when no components resolve it.
func projectComposites(fields map[string]*Field, data, out map[string]any) {
	for name, f := range fields {
		if !f.isComposite() {
			continue
		}
		values := map[string]any{}
		for _, ref := range f.Projects {
			if v, ok := out[ref]; ok && v != nil {
				values[ref] = v
			}
		}
		full, err := compositeExpand(f, values)
		if err == nil {
			out[name] = full
			continue
		}
		if s, ok := data[name].(string); ok {
			out[name] = s
		}
	}
}

// deserializeRecord converts a stored item back to caller values. Composite
// attributes and attributes outside the schema pass through as stored.
func deserializeRecord(fields map[string]*Field, item map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(item))
	for name, value := range item {
		f, ok := fields[name]
		if !ok || f.isComposite() {
			out[name] = value
			continue
		}
		v, err := f.deserialize(value)
		if err != nil {
			return nil, NewError(err.Error(), WithCode(ErrValidation),
				WithContext(map[string]any{"field": name}), WithCause(err))
		}
		out[name] = v
	}
	return out, nil
}
