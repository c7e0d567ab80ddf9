/*
Package nuql – multi-table binding.

A Schema declares several tables at once; Tables binds every entry to one
shared client so schema failures surface together at construction.
*/
package nuql

import "fmt"

// TablesParams configures NewTables. Indexes maps each schema entry to its
// index declarations.
type TablesParams struct {
	Client  DynamoClient
	Schema  Schema
	Indexes map[string][]*IndexDef

	Registry *Registry
	Logger   Logger
}

// Tables is a set of bound tables keyed by declared name.
type Tables struct {
	tables map[string]*Table
}

// NewTables builds every declared table up front.
func NewTables(params TablesParams) (*Tables, error) {
	if len(params.Schema) == 0 {
		return nil, NewError("schema declares no tables", WithCode(ErrArgument))
	}
	set := &Tables{tables: make(map[string]*Table, len(params.Schema))}
	for name, fields := range params.Schema {
		table, err := NewTable(TableParams{
			Name:     name,
			Client:   params.Client,
			Schema:   fields,
			Indexes:  params.Indexes[name],
			Registry: params.Registry,
			Logger:   params.Logger,
		})
		if err != nil {
			return nil, err
		}
		set.tables[name] = table
	}
	return set, nil
}

// Get returns a bound table by its declared name.
func (ts *Tables) Get(name string) (*Table, error) {
	table, ok := ts.tables[name]
	if !ok {
		return nil, NewError(fmt.Sprintf("table %q is not declared", name),
			WithCode(ErrArgument), WithContext(map[string]any{"table": name}))
	}
	return table, nil
}
