package nuql

import "testing"

// userSchema is the shared fixture: a tenant/user table with composite pk/sk
// attributes projected from plain fields.
func userSchema() FieldMap {
	return FieldMap{
		"pk": {Type: TypeKey, Value: []KeyPart{
			{Key: "type", Value: "user"},
			{Key: "tenant", Value: "${tenant_id}"},
		}},
		"sk": {Type: TypeKey, Value: []KeyPart{
			{Key: "region", Value: "${region}"},
			{Key: "user", Value: "${user_id}"},
		}},
		"tenant_id": {Type: TypeString, Required: true},
		"region":    {Type: TypeString},
		"user_id":   {Type: TypeString, Generate: TypeUUID},
		"status":    {Type: TypeString, Enum: []any{"active", "inactive"}, Default: "active"},
		"size":      {Type: TypeInteger},
		"email":     {Type: TypeString},
	}
}

func userIndexes() []*IndexDef {
	return []*IndexDef{
		{Hash: "pk", Sort: "sk"},
	}
}

func userFields(t *testing.T) map[string]*Field {
	t.Helper()
	fields, err := buildFieldTree(NewRegistry(), userSchema())
	if err != nil {
		t.Fatalf("building field tree: %v", err)
	}
	return fields
}
