/*
Package nuql – DynamoDB expression rendering.

Turns compiled Condition trees and attribute maps into expression strings
with deduplicated #_n / :_n aliases. One expression builder is shared across
the key condition, filter, condition and update expressions of a request so
aliases never collide.
*/
package nuql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type expression struct {
	nameAlias map[string]string
	names     map[string]string
	values    map[string]types.AttributeValue
	nameSeq   int
	valueSeq  int
}

func newExpression() *expression {
	return &expression{
		nameAlias: map[string]string{},
		names:     map[string]string{},
		values:    map[string]types.AttributeValue{},
	}
}

// addName returns the #_n alias for an attribute name, reusing a previous
// alias for the same name. Dotted paths alias each segment separately.
func (e *expression) addName(name string) string {
	segments := strings.Split(name, ".")
	aliases := make([]string, len(segments))
	for i, seg := range segments {
		alias, ok := e.nameAlias[seg]
		if !ok {
			alias = fmt.Sprintf("#_%d", e.nameSeq)
			e.nameSeq++
			e.nameAlias[seg] = alias
			e.names[alias] = seg
		}
		aliases[i] = alias
	}
	return strings.Join(aliases, ".")
}

// addValue marshals a serialized value and returns its :_n alias.
func (e *expression) addValue(value any) (string, error) {
	av, err := attributevalue.Marshal(value)
	if err != nil {
		return "", NewError("value cannot be marshalled for DynamoDB",
			WithCode(ErrRuntime), WithContext(map[string]any{"value": value}), WithCause(err))
	}
	alias := fmt.Sprintf(":_%d", e.valueSeq)
	e.valueSeq++
	e.values[alias] = av
	return alias, nil
}

func (e *expression) attributeNames() map[string]string {
	if len(e.names) == 0 {
		return nil
	}
	return e.names
}

func (e *expression) attributeValues() map[string]types.AttributeValue {
	if len(e.values) == 0 {
		return nil
	}
	return e.values
}

var comparatorSymbols = map[Operator]string{
	OpEq:  "=",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

// render writes one condition node as a DynamoDB expression fragment.
func (e *expression) render(cond Condition) (string, error) {
	switch c := cond.(type) {
	case *Compare:
		return e.renderCompare(c)
	case *AndCond:
		return e.renderJoin(c.Terms, "AND")
	case *OrCond:
		return e.renderJoin(c.Terms, "OR")
	case *NotCond:
		inner, err := e.render(c.Inner)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	}
	return "", NewError("unsupported condition node", WithCode(ErrRuntime))
}

func (e *expression) renderCompare(c *Compare) (string, error) {
	name := e.addName(c.Field)

	switch c.Op {
	case opExists:
		return fmt.Sprintf("attribute_exists(%s)", name), nil
	case opNotExists:
		return fmt.Sprintf("attribute_not_exists(%s)", name), nil
	case OpBeginsWith:
		v, err := e.addValue(c.Values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("begins_with(%s, %s)", name, v), nil
	case OpBetween:
		lo, err := e.addValue(c.Values[0])
		if err != nil {
			return "", err
		}
		hi, err := e.addValue(c.Values[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", name, lo, hi), nil
	}

	symbol, ok := comparatorSymbols[c.Op]
	if !ok {
		return "", NewError(fmt.Sprintf("operator %q has no expression form", c.Op),
			WithCode(ErrOperator))
	}
	v, err := e.addValue(c.Values[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", name, symbol, v), nil
}

func (e *expression) renderJoin(terms []Condition, word string) (string, error) {
	parts := make([]string, len(terms))
	for i, term := range terms {
		rendered, err := e.render(term)
		if err != nil {
			return "", err
		}
		if _, compare := term.(*Compare); compare {
			parts[i] = rendered
		} else {
			parts[i] = "(" + rendered + ")"
		}
	}
	return strings.Join(parts, " "+word+" "), nil
}

// renderKeyCondition renders the hash/sort pair as a KeyConditionExpression.
func (e *expression) renderKeyCondition(kc *KeyCondition) (string, error) {
	out, err := e.renderCompare(kc.Hash)
	if err != nil {
		return "", err
	}
	if kc.Sort != nil {
		sortExpr, err := e.renderCompare(kc.Sort)
		if err != nil {
			return "", err
		}
		out += " AND " + sortExpr
	}
	return out, nil
}

// renderUpdate builds a SET/REMOVE update expression from serialized
// attribute values. nil values become REMOVE actions. Attributes are ordered
// by name so rendering stays deterministic.
func (e *expression) renderUpdate(attrs map[string]any) (string, error) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var sets, removes []string
	for _, name := range names {
		alias := e.addName(name)
		if attrs[name] == nil {
			removes = append(removes, alias)
			continue
		}
		v, err := e.addValue(attrs[name])
		if err != nil {
			return "", err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", alias, v))
	}

	var clauses []string
	if len(sets) > 0 {
		clauses = append(clauses, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(removes, ", "))
	}
	if len(clauses) == 0 {
		return "", NewError("update carries no attribute changes", WithCode(ErrValidation))
	}
	return strings.Join(clauses, " "), nil
}

// ─── item marshalling ────────────────────────────────────────────────────────

func marshalItem(item map[string]any) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, NewError("item cannot be marshalled for DynamoDB",
			WithCode(ErrRuntime), WithCause(err))
	}
	return av, nil
}

func unmarshalItem(av map[string]types.AttributeValue) (map[string]any, error) {
	var item map[string]any
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, NewError("item cannot be unmarshalled",
			WithCode(ErrRuntime), WithCause(err))
	}
	return item, nil
}
