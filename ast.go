/*
Package nuql – condition AST.

The normalized intermediate form shared by the key-condition and filter
compilers. ASTs are rebuilt per call and never persisted.
*/
package nuql

// Condition is one node of a compiled condition tree.
type Condition interface {
	isCondition()
}

// Compare is a single field comparison. Values holds the serialized
// operand(s): two for between, none for the attribute-existence functions.
type Compare struct {
	Field  string
	Op     Operator
	Values []any
}

func (*Compare) isCondition() {}

// AndCond is a logical conjunction of terms.
type AndCond struct {
	Terms []Condition
}

func (*AndCond) isCondition() {}

// OrCond is a logical disjunction of terms.
type OrCond struct {
	Terms []Condition
}

func (*OrCond) isCondition() {}

// NotCond negates its inner condition.
type NotCond struct {
	Inner Condition
}

func (*NotCond) isCondition() {}

// KeyCondition is the compiled pair for a query: hash equality plus an
// optional sort comparison.
type KeyCondition struct {
	Hash *Compare
	Sort *Compare
}
