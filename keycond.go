/*
Package nuql – key-condition compiler.

Compiles a caller's field-level key condition into the hash/sort comparison
pair for one index. Composite keys are resolved through their templates: a
full component set expands to an equality, a contiguous canonical-order
prefix expands to begins_with, and a single range operator on the last
present component expands against the truncated prefix. The compiler is pure
and deterministic.
*/
package nuql

import "fmt"

// keyOperand is one parsed condition entry.
type keyOperand struct {
	field  string
	op     Operator
	values []any
}

// compileKeyCondition resolves a field-level condition against one index.
func compileKeyCondition(fields map[string]*Field, idx *IndexDef, cond map[string]any) (*KeyCondition, error) {
	if len(cond) == 0 {
		return nil, NewError("key condition is empty", WithCode(ErrIncompleteKey),
			WithContext(map[string]any{"index": indexLabel(idx)}))
	}

	hashF := fields[idx.Hash]
	var sortF *Field
	if idx.Sort != "" {
		sortF = fields[idx.Sort]
	}

	hashSide := componentSet(hashF, idx.Hash)
	sortSide := componentSet(sortF, idx.Sort)

	var hashEntries, sortEntries []keyOperand
	for name, raw := range cond {
		entry, err := parseKeyEntry(fields, name, raw)
		if err != nil {
			return nil, err
		}
		// A field projected into both templates feeds both partitions; each
		// side resolves independently.
		matched := false
		if hashSide[name] {
			hashEntries = append(hashEntries, entry)
			matched = true
		}
		if sortSide[name] {
			sortEntries = append(sortEntries, entry)
			matched = true
		}
		if !matched {
			if _, known := fields[name]; known {
				return nil, NewError(
					fmt.Sprintf("field %q is not part of the key for index %q", name, indexLabel(idx)),
					WithCode(ErrCondition), WithContext(map[string]any{"field": name}))
			}
			return nil, NewError(fmt.Sprintf("field %q is not defined in the schema", name),
				WithCode(ErrUnknownField), WithContext(map[string]any{"field": name}))
		}
	}

	hash, err := compileHashCondition(hashF, idx, hashEntries)
	if err != nil {
		return nil, err
	}
	sort, err := compileSortCondition(sortF, idx, sortEntries)
	if err != nil {
		return nil, err
	}
	return &KeyCondition{Hash: hash, Sort: sort}, nil
}

// componentSet lists the field names that can address one key attribute: the
// attribute itself plus, for composites, every projected component.
func componentSet(f *Field, attr string) map[string]bool {
	set := map[string]bool{}
	if f == nil || attr == "" {
		return set
	}
	set[attr] = true
	for _, name := range f.placeholders() {
		set[name] = true
	}
	return set
}

// parseKeyEntry normalizes one condition entry. A single-entry map whose key
// is an operator alias carries an explicit operator; anything else is an
// implicit equality.
func parseKeyEntry(fields map[string]*Field, name string, raw any) (keyOperand, error) {
	op := OpEq
	operand := raw
	if m, ok := raw.(map[string]any); ok {
		if len(m) != 1 {
			return keyOperand{}, NewError(
				fmt.Sprintf("condition for field %q must hold exactly one operator", name),
				WithCode(ErrValidation), WithContext(map[string]any{"field": name}))
		}
		for spelling, v := range m {
			normalized, err := NormalizeOperator(spelling)
			if err != nil {
				return keyOperand{}, err
			}
			op = normalized
			operand = v
		}
	}

	values, err := checkArity(op, operand)
	if err != nil {
		return keyOperand{}, err
	}
	for i, v := range values {
		serialized, err := serializeKeyOperand(fields, name, v)
		if err != nil {
			return keyOperand{}, err
		}
		values[i] = serialized
	}
	return keyOperand{field: name, op: op, values: values}, nil
}

// serializeKeyOperand runs an operand through the component field's type. A
// composite addressed by its own attribute name takes the stored string form.
func serializeKeyOperand(fields map[string]*Field, name string, value any) (any, error) {
	f, ok := fields[name]
	if !ok {
		return value, nil
	}
	if f.isComposite() {
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, NewError(
			fmt.Sprintf("composite field %q takes its serialized string form in a condition", name),
			WithCode(ErrValidation), WithContext(map[string]any{"field": name}))
	}
	out, err := f.serialize(value)
	if err != nil {
		return nil, NewError(err.Error(), WithCode(ErrValidation),
			WithContext(map[string]any{"field": name}), WithCause(err))
	}
	return out, nil
}

// compileHashCondition requires the hash attribute to resolve completely with
// equality only.
func compileHashCondition(f *Field, idx *IndexDef, entries []keyOperand) (*Compare, error) {
	if len(entries) == 0 {
		return nil, NewError("hash key is not addressed by the condition",
			WithCode(ErrIncompleteKey), WithContext(map[string]any{"index": indexLabel(idx), "attribute": idx.Hash}))
	}

	values := map[string]any{}
	var direct any
	hasDirect := false
	for _, e := range entries {
		if e.op != OpEq {
			return nil, NewError(
				fmt.Sprintf("hash key component %q requires equality", e.field),
				WithCode(ErrIncompleteKey), WithContext(map[string]any{"field": e.field, "operator": string(e.op)}))
		}
		if e.field == idx.Hash {
			direct = e.values[0]
			hasDirect = true
			continue
		}
		values[e.field] = e.values[0]
	}

	if hasDirect {
		if len(values) > 0 {
			return nil, NewError(
				fmt.Sprintf("hash key %q cannot mix its literal form with component values", idx.Hash),
				WithCode(ErrValidation), WithContext(map[string]any{"attribute": idx.Hash}))
		}
		return &Compare{Field: idx.Hash, Op: OpEq, Values: []any{direct}}, nil
	}

	full, err := compositeExpand(f, values)
	if err != nil {
		return nil, NewError("hash key cannot be fully resolved",
			WithCode(ErrIncompleteKey), WithContext(map[string]any{"attribute": idx.Hash}), WithCause(err))
	}
	return &Compare{Field: idx.Hash, Op: OpEq, Values: []any{full}}, nil
}

// compileSortCondition resolves the sort side: full equality, a begins_with
// prefix, or one range operator on the last contiguous component.
func compileSortCondition(f *Field, idx *IndexDef, entries []keyOperand) (*Compare, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if f == nil {
		return nil, NewError(
			fmt.Sprintf("index %q has no sort key", indexLabel(idx)),
			WithCode(ErrCondition))
	}

	var ranged *keyOperand
	values := map[string]any{}
	var direct *keyOperand
	for i := range entries {
		e := &entries[i]
		if e.field == idx.Sort {
			direct = e
			continue
		}
		if e.op != OpEq {
			if ranged != nil {
				return nil, NewError("sort key holds more than one range operator",
					WithCode(ErrAmbiguousKey),
					WithContext(map[string]any{"fields": []string{ranged.field, e.field}}))
			}
			ranged = e
		}
		values[e.field] = e.values[0]
	}

	if direct != nil {
		if len(values) > 0 || ranged != nil {
			return nil, NewError(
				fmt.Sprintf("sort key %q cannot mix its literal form with component values", idx.Sort),
				WithCode(ErrValidation), WithContext(map[string]any{"attribute": idx.Sort}))
		}
		return &Compare{Field: idx.Sort, Op: direct.op, Values: direct.values}, nil
	}
	canonical := f.placeholders()
	prefix, consumed := compositePartial(f, values)
	if len(consumed) != len(values) {
		return nil, NewError("sort key components skip the canonical order",
			WithCode(ErrAmbiguousKey), WithContext(map[string]any{
				"canonical": canonical,
				"resolved":  consumed,
			}))
	}

	if ranged == nil {
		if len(consumed) == len(canonical) {
			full, err := compositeExpand(f, values)
			if err != nil {
				return nil, err
			}
			return &Compare{Field: idx.Sort, Op: OpEq, Values: []any{full}}, nil
		}
		return &Compare{Field: idx.Sort, Op: OpBeginsWith, Values: []any{prefix}}, nil
	}

	if consumed[len(consumed)-1] != ranged.field {
		return nil, NewError(
			fmt.Sprintf("range operator on %q must close the resolved prefix", ranged.field),
			WithCode(ErrAmbiguousKey), WithContext(map[string]any{"field": ranged.field, "resolved": consumed}))
	}

	if ranged.op == OpBetween {
		lo, err := compositeExpandThrough(f, withValue(values, ranged.field, ranged.values[0]), ranged.field)
		if err != nil {
			return nil, err
		}
		hi, err := compositeExpandThrough(f, withValue(values, ranged.field, ranged.values[1]), ranged.field)
		if err != nil {
			return nil, err
		}
		return &Compare{Field: idx.Sort, Op: OpBetween, Values: []any{lo, hi}}, nil
	}

	bound, err := compositeExpandThrough(f, values, ranged.field)
	if err != nil {
		return nil, err
	}
	return &Compare{Field: idx.Sort, Op: ranged.op, Values: []any{bound}}, nil
}

// ─── template dispatch ───────────────────────────────────────────────────────

func compositeExpand(f *Field, values map[string]any) (string, error) {
	switch {
	case f.keyTemplate != nil:
		return f.keyTemplate.expand(values)
	case f.template != nil:
		return f.template.expand(values)
	}
	// plain key attribute, addressed by one value
	v, ok := values[f.Name]
	if !ok || v == nil {
		return "", NewError(fmt.Sprintf("field %q has no value", f.Name), WithCode(ErrTemplate))
	}
	return stringifyTemplateValue(v), nil
}

func compositePartial(f *Field, values map[string]any) (string, []string) {
	switch {
	case f.keyTemplate != nil:
		return f.keyTemplate.partialExpand(values)
	case f.template != nil:
		prefix, consumed, _ := f.template.partialExpand(values)
		return prefix, consumed
	}
	return "", nil
}

func compositeExpandThrough(f *Field, values map[string]any, name string) (string, error) {
	switch {
	case f.keyTemplate != nil:
		return f.keyTemplate.expandThrough(values, name)
	case f.template != nil:
		return f.template.expandThrough(values, name)
	}
	return stringifyTemplateValue(values[name]), nil
}

func withValue(values map[string]any, name string, v any) map[string]any {
	out := make(map[string]any, len(values)+1)
	for k, val := range values {
		out[k] = val
	}
	out[name] = v
	return out
}

func indexLabel(idx *IndexDef) string {
	if idx.Name != "" {
		return idx.Name
	}
	return "primary"
}
