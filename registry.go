/*
Package nuql – field type registry.

Every field type is a {serialize, deserialize} strategy registered by tag.
Adding a custom type is registering a new strategy, not subclassing.
*/
package nuql

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Built-in field type tags.
const (
	TypeString            = "string"
	TypeInteger           = "integer"
	TypeFloat             = "float"
	TypeBoolean           = "boolean"
	TypeDatetime          = "datetime"
	TypeDatetimeTimestamp = "datetime_timestamp"
	TypeList              = "list"
	TypeMap               = "map"
	TypeUUID              = "uuid"
	TypeULID              = "ulid"
	TypeKey               = "key"
)

// TypeStrategy converts between caller values and wire values for one type
// tag. Both functions must be pure and round-trip every accepted value.
// The *Field argument supplies per-field context (children, templates).
type TypeStrategy struct {
	Serialize   func(f *Field, value any) (any, error)
	Deserialize func(f *Field, value any) (any, error)
}

// Registry maps type tags to strategies. A Registry is immutable once a table
// has been built from it.
type Registry struct {
	types map[string]TypeStrategy
}

// NewRegistry returns a registry pre-loaded with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{types: map[string]TypeStrategy{}}
	r.Register(TypeString, TypeStrategy{Serialize: serializeString, Deserialize: serializeString})
	r.Register(TypeInteger, TypeStrategy{Serialize: serializeInteger, Deserialize: serializeInteger})
	r.Register(TypeFloat, TypeStrategy{Serialize: serializeFloat, Deserialize: serializeFloat})
	r.Register(TypeBoolean, TypeStrategy{Serialize: serializeBoolean, Deserialize: serializeBoolean})
	r.Register(TypeDatetime, TypeStrategy{Serialize: serializeDatetime, Deserialize: deserializeDatetime})
	r.Register(TypeDatetimeTimestamp, TypeStrategy{Serialize: serializeTimestamp, Deserialize: deserializeTimestamp})
	r.Register(TypeUUID, TypeStrategy{Serialize: serializeUUID, Deserialize: serializeString})
	r.Register(TypeULID, TypeStrategy{Serialize: serializeULID, Deserialize: serializeString})
	r.Register(TypeList, TypeStrategy{Serialize: serializeList, Deserialize: deserializeList})
	r.Register(TypeMap, TypeStrategy{Serialize: serializeMap, Deserialize: deserializeMap})
	r.Register(TypeKey, TypeStrategy{Serialize: serializeKey, Deserialize: serializeString})
	return r
}

// Register adds or overrides a type strategy.
func (r *Registry) Register(tag string, s TypeStrategy) {
	r.types[tag] = s
}

func (r *Registry) get(tag string) (TypeStrategy, bool) {
	s, ok := r.types[tag]
	return s, ok
}

// ─── scalar strategies ───────────────────────────────────────────────────────

func serializeString(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", value), nil
}

func serializeInteger(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("value %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not an integer", v)
		}
		return n, nil
	}
	return nil, fmt.Errorf("value %v is not an integer", value)
}

func serializeFloat(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", v)
		}
		return n, nil
	}
	return nil, fmt.Errorf("value %v is not a number", value)
}

func serializeBoolean(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return nil, fmt.Errorf("value %v is not a boolean", value)
}

func serializeDatetime(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case string:
		if _, err := time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("value %q is not an RFC3339 datetime", v)
		}
		return v, nil
	}
	return nil, fmt.Errorf("value %v is not a datetime", value)
}

func deserializeDatetime(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("value %v is not an RFC3339 datetime", value)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func serializeTimestamp(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case time.Time:
		return v.Unix(), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	}
	return nil, fmt.Errorf("value %v is not a timestamp", value)
}

func deserializeTimestamp(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	}
	return nil, fmt.Errorf("value %v is not a timestamp", value)
}

func serializeUUID(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("value %v is not a UUID string", value)
	}
	if _, err := uuid.Parse(s); err != nil {
		return nil, fmt.Errorf("value %q is not a valid UUID", s)
	}
	return s, nil
}

func serializeULID(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("value %v is not a ULID string", value)
	}
	if _, err := ulid.Parse(s); err != nil {
		return nil, fmt.Errorf("value %q is not a valid ULID", s)
	}
	return s, nil
}

// generate resolves a FieldDef.Generate tag to a fresh identifier.
func generate(tag string) (any, bool) {
	switch tag {
	case TypeUUID:
		return uuid.NewString(), true
	case TypeULID:
		return ulid.Make().String(), true
	}
	return nil, false
}

// ─── container strategies ────────────────────────────────────────────────────

// list and map delegate element-wise to child fields.

func serializeList(f *Field, value any) (any, error) {
	return convertList(f, value, true)
}

func deserializeList(f *Field, value any) (any, error) {
	return convertList(f, value, false)
}

func convertList(f *Field, value any, write bool) (any, error) {
	if value == nil {
		return nil, nil
	}
	arr, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("value %v is not a list", value)
	}
	out := make([]any, len(arr))
	for i, elem := range arr {
		var v any
		var err error
		if write {
			v, err = f.Of.serialize(elem)
		} else {
			v, err = f.Of.deserialize(elem)
		}
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func serializeMap(f *Field, value any) (any, error) {
	return convertMap(f, value, true)
}

func deserializeMap(f *Field, value any) (any, error) {
	return convertMap(f, value, false)
}

func convertMap(f *Field, value any, write bool) (any, error) {
	if value == nil {
		return nil, nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value %v is not a map", value)
	}
	out := make(map[string]any, len(obj))
	for name, elem := range obj {
		child, ok := f.Fields[name]
		if !ok {
			return nil, fmt.Errorf("field %q is not defined in the nested schema", name)
		}
		var v any
		var err error
		if write {
			v, err = child.serialize(elem)
		} else {
			v, err = child.deserialize(elem)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// serializeKey projects a map of component values through the field's key
// template. Partial input yields the longest resolvable prefix.
func serializeKey(f *Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		// Stored composite values pass through untouched on read paths.
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("value %v is not a key component map", value)
	}
	prefix, _ := f.keyTemplate.partialExpand(obj)
	return prefix, nil
}
