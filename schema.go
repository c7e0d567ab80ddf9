/*
Package nuql – schema declaration types.

A schema maps table names to field maps. Field maps declare typed fields,
composite key templates and value generators. Indexes declare the hash/sort
attributes each table is queried by.
*/
package nuql

import "strings"

// GeneratorFunc computes a field value at write time (timestamps, IDs).
type GeneratorFunc func() any

// ValidatorFunc is caller-supplied validation, run on writes after type
// coercion and enum checks.
type ValidatorFunc func(value any) error

// KeyPart is one entry of a key-field template. Parts are ordered: the declared
// order defines the canonical order used for partial key resolution.
type KeyPart struct {
	Key   string
	Value string // literal, or "${field}" to project a sibling field
}

// FieldDef is a single field declaration.
type FieldDef struct {
	Type     string
	Required bool
	Default  any

	// Value is a composite template: a string such as "TENANT#${tenant_id}",
	// or []KeyPart for key-typed fields.
	Value any

	// Generate names a built-in generator ("uuid" or "ulid") applied on create
	// when no value is supplied.
	Generate string

	OnCreate GeneratorFunc
	OnUpdate GeneratorFunc
	OnWrite  GeneratorFunc

	Enum      []any
	Validator ValidatorFunc

	// Of declares the element schema for list fields.
	Of *FieldDef
	// Fields declares the nested schema for map fields.
	Fields FieldMap
}

// FieldMap is a map of field name → definition.
type FieldMap map[string]*FieldDef

// Schema is the top-level declaration: table name → field map. Consumed by
// NewTables to bind every declared table to one client.
type Schema map[string]FieldMap

// IndexDef describes a primary or secondary index.
type IndexDef struct {
	Hash       string
	Sort       string
	Type       string // "local" | "global"; empty for primary
	Name       string // empty or "primary" for the primary index
	Projection any    // "all" | "keys" | []string
	Follow     bool
}

const (
	maxLocalIndexes  = 5
	maxGlobalIndexes = 20
)

// indexSet holds the validated indexes for a table, keyed by name.
type indexSet struct {
	byName  map[string]*IndexDef
	primary *IndexDef
	// keyAttrs is the set of attribute names used as a hash or sort by any index.
	keyAttrs map[string]bool
}

// validateIndexes processes the declared index sequence into an indexSet.
func validateIndexes(indexes []*IndexDef) (*indexSet, error) {
	set := &indexSet{byName: map[string]*IndexDef{}, keyAttrs: map[string]bool{}}
	var localCount, globalCount int

	for _, idx := range indexes {
		name := idx.Name
		if name == "" {
			name = "primary"
		}
		if name == "primary" {
			if set.primary != nil {
				return nil, NewError("more than one primary index cannot be defined",
					WithCode(ErrSchema))
			}
			set.primary = idx
		} else {
			switch idx.Type {
			case "local":
				localCount++
			case "global":
				globalCount++
			default:
				return nil, NewError("index type is required for all indexes except the primary index",
					WithCode(ErrSchema), WithContext(map[string]any{"index": name}))
			}
		}
		if idx.Hash == "" {
			return nil, NewError("index is missing a hash attribute",
				WithCode(ErrSchema), WithContext(map[string]any{"index": name}))
		}
		set.byName[name] = idx
		set.keyAttrs[idx.Hash] = true
		if idx.Sort != "" {
			set.keyAttrs[idx.Sort] = true
		}
	}

	if set.primary == nil {
		return nil, NewError("a primary index must be defined", WithCode(ErrSchema))
	}
	if localCount > maxLocalIndexes {
		return nil, NewError("more than 5 local indexes cannot be defined", WithCode(ErrSchema))
	}
	if globalCount > maxGlobalIndexes {
		return nil, NewError("more than 20 global indexes cannot be defined", WithCode(ErrSchema))
	}
	return set, nil
}

// get returns a named index.
func (s *indexSet) get(name string) (*IndexDef, error) {
	if name == "" {
		name = "primary"
	}
	idx, ok := s.byName[name]
	if !ok {
		return nil, NewError("index is not defined for this table",
			WithCode(ErrSchema), WithContext(map[string]any{"index": name}))
	}
	return idx, nil
}

// checkFieldName rejects names that would collide with template or key-part
// serialization metacharacters.
func checkFieldName(name string) error {
	if name == "" {
		return NewError("field name must not be empty", WithCode(ErrSchema))
	}
	if strings.ContainsAny(name, "${}:|") {
		return NewError("field name contains reserved characters",
			WithCode(ErrSchema), WithContext(map[string]any{"field": name}))
	}
	return nil
}
