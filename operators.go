/*
Package nuql – operator normalization.

Every accepted alias spelling maps to one canonical operator per comparison
family. Lookup is by exact (case-insensitive) match; nothing fuzzy.
*/
package nuql

import "strings"

// Operator is a canonical comparison operator.
type Operator string

const (
	OpEq         Operator = "eq"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpBeginsWith Operator = "begins_with"
	OpBetween    Operator = "between"

	// opExists / opNotExists are internal: injected by update/create
	// conditions, not reachable from the alias table.
	opExists    Operator = "attribute_exists"
	opNotExists Operator = "attribute_not_exists"
)

var operatorAliases = map[string]Operator{
	"eq":     OpEq,
	"=":      OpEq,
	"==":     OpEq,
	"equals": OpEq,

	"lt":        OpLt,
	"<":         OpLt,
	"less_than": OpLt,

	"lte": OpLte,
	"<=":  OpLte,
	"le":  OpLte,

	"gt":           OpGt,
	">":            OpGt,
	"greater_than": OpGt,

	"gte": OpGte,
	">=":  OpGte,
	"ge":  OpGte,

	"begins_with": OpBeginsWith,
	"begins":      OpBeginsWith,
	"starts_with": OpBeginsWith,
	"^=":          OpBeginsWith,

	"between": OpBetween,
}

// NormalizeOperator canonicalizes an operator spelling. Unknown spellings fail
// with an UnsupportedOperatorError.
func NormalizeOperator(spelling string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(spelling)]
	if !ok {
		return "", NewError("unsupported operator",
			WithCode(ErrOperator), WithContext(map[string]any{"operator": spelling}))
	}
	return op, nil
}

// checkArity validates operand arity for an operator. between requires exactly
// a two-element ordered sequence; every other operator takes one operand.
func checkArity(op Operator, operand any) ([]any, error) {
	if op != OpBetween {
		return []any{operand}, nil
	}
	arr, ok := operand.([]any)
	if !ok || len(arr) != 2 {
		return nil, NewError("between requires a two-element sequence",
			WithCode(ErrValidation), WithContext(map[string]any{"operand": operand}))
	}
	return arr, nil
}
