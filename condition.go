/*
Package nuql – where-expression compiler.

Parses a caller-facing filter string such as

	status = 'active' and (size >= ${min} or not archived = true)

into a Condition tree. Field references are validated against the schema,
operands are serialized through the field's type, and ${name} variables are
resolved from the caller's variable map. Key attributes and the fields
projected into them are rejected: filtering on key material belongs in the
key condition.
*/
package nuql

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokVar
	tokString
	tokNumber
	tokSymbol
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// ─── lexer ───────────────────────────────────────────────────────────────────

type whereLexer struct {
	input string
	pos   int
}

func (l *whereLexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '\'' || c == '"':
		return l.lexString(c)
	case c == '$' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '{':
		return l.lexVariable()
	case isIdentStart(c):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		for l.pos < len(l.input) && isNumberPart(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokNumber, text: l.input[start:l.pos], pos: start}, nil
	case strings.ContainsRune("<>=^!", rune(c)):
		for l.pos < len(l.input) && strings.ContainsRune("<>=^!", rune(l.input[l.pos])) {
			l.pos++
		}
		return token{kind: tokSymbol, text: l.input[start:l.pos], pos: start}, nil
	}
	return token{}, NewError(
		fmt.Sprintf("unexpected character %q at position %d", string(c), start),
		WithCode(ErrCondition), WithContext(map[string]any{"position": start}))
}

func (l *whereLexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
			continue
		}
		if c == quote {
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, NewError(fmt.Sprintf("unterminated string at position %d", start),
		WithCode(ErrCondition), WithContext(map[string]any{"position": start}))
}

func (l *whereLexer) lexVariable() (token, error) {
	start := l.pos
	l.pos += 2
	nameStart := l.pos
	for l.pos < len(l.input) && l.input[l.pos] != '}' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{}, NewError(fmt.Sprintf("unterminated variable at position %d", start),
			WithCode(ErrCondition), WithContext(map[string]any{"position": start}))
	}
	name := l.input[nameStart:l.pos]
	l.pos++
	return token{kind: tokVar, text: name, pos: start}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

func isNumberPart(c byte) bool {
	return c == '-' || c == '.' || (c >= '0' && c <= '9')
}

// ─── parser ──────────────────────────────────────────────────────────────────

type whereParser struct {
	lexer    whereLexer
	current  token
	fields   map[string]*Field
	keyAttrs map[string]bool
	vars     map[string]any
}

// compileWhere parses and validates a filter expression. keyAttrs names the
// attributes (and their projected components) that may not appear.
func compileWhere(fields map[string]*Field, keyAttrs map[string]bool, where string, vars map[string]any) (Condition, error) {
	p := &whereParser{
		lexer:    whereLexer{input: where},
		fields:   fields,
		keyAttrs: keyAttrs,
		vars:     vars,
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.kind != tokEOF {
		return nil, NewError(
			fmt.Sprintf("unexpected %q at position %d", p.current.text, p.current.pos),
			WithCode(ErrCondition), WithContext(map[string]any{"position": p.current.pos}))
	}
	return cond, nil
}

func (p *whereParser) advance() error {
	tok, err := p.lexer.next()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

func (p *whereParser) isKeyword(word string) bool {
	return p.current.kind == tokIdent && strings.EqualFold(p.current.text, word)
}

func (p *whereParser) parseOr() (Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Condition{left}
	for p.isKeyword("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		term, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return &OrCond{Terms: terms}, nil
}

func (p *whereParser) parseAnd() (Condition, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Condition{left}
	for p.isKeyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		term, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return &AndCond{Terms: terms}, nil
}

func (p *whereParser) parseUnary() (Condition, error) {
	if p.isKeyword("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotCond{Inner: inner}, nil
	}
	if p.current.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.kind != tokRParen {
			return nil, NewError(
				fmt.Sprintf("expected ) at position %d", p.current.pos),
				WithCode(ErrCondition), WithContext(map[string]any{"position": p.current.pos}))
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *whereParser) parseComparison() (Condition, error) {
	if p.current.kind != tokIdent {
		return nil, NewError(
			fmt.Sprintf("expected a field name at position %d", p.current.pos),
			WithCode(ErrCondition), WithContext(map[string]any{"position": p.current.pos}))
	}
	path := p.current.text
	field, err := p.resolveField(path)
	if err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.current.kind != tokIdent && p.current.kind != tokSymbol {
		return nil, NewError(
			fmt.Sprintf("expected an operator after %q", path),
			WithCode(ErrCondition), WithContext(map[string]any{"field": path}))
	}
	op, err := NormalizeOperator(p.current.text)
	if err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if op == OpBetween {
		return p.parseBetween(path, field)
	}
	value, err := p.parseOperand(field)
	if err != nil {
		return nil, err
	}
	return &Compare{Field: path, Op: op, Values: []any{value}}, nil
}

// parseBetween accepts either the SQL form "between lo and hi" or one
// variable bound to a two-element sequence.
func (p *whereParser) parseBetween(path string, field *Field) (Condition, error) {
	if p.current.kind == tokVar {
		raw, err := p.resolveVariable(p.current.text)
		if err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if arr, ok := raw.([]any); ok && len(arr) == 2 && !p.isKeyword("and") {
			lo, err := p.serializeOperand(field, arr[0])
			if err != nil {
				return nil, err
			}
			hi, err := p.serializeOperand(field, arr[1])
			if err != nil {
				return nil, err
			}
			return &Compare{Field: path, Op: OpBetween, Values: []any{lo, hi}}, nil
		}
		lo, err := p.serializeOperand(field, raw)
		if err != nil {
			return nil, err
		}
		return p.parseBetweenUpper(path, field, lo)
	}

	value, err := p.parseOperand(field)
	if err != nil {
		return nil, err
	}
	return p.parseBetweenUpper(path, field, value)
}

func (p *whereParser) parseBetweenUpper(path string, field *Field, lo any) (Condition, error) {
	if !p.isKeyword("and") {
		return nil, NewError(
			fmt.Sprintf("between on %q requires a lower and an upper bound", path),
			WithCode(ErrValidation), WithContext(map[string]any{"field": path}))
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	hi, err := p.parseOperand(field)
	if err != nil {
		return nil, err
	}
	return &Compare{Field: path, Op: OpBetween, Values: []any{lo, hi}}, nil
}

func (p *whereParser) parseOperand(field *Field) (any, error) {
	var raw any
	switch p.current.kind {
	case tokVar:
		v, err := p.resolveVariable(p.current.text)
		if err != nil {
			return nil, err
		}
		raw = v
	case tokString:
		raw = p.current.text
	case tokNumber:
		n, err := parseNumberLiteral(p.current.text)
		if err != nil {
			return nil, NewError(err.Error(), WithCode(ErrCondition),
				WithContext(map[string]any{"position": p.current.pos}))
		}
		raw = n
	case tokIdent:
		switch strings.ToLower(p.current.text) {
		case "true":
			raw = true
		case "false":
			raw = false
		case "null":
			raw = nil
		default:
			return nil, NewError(
				fmt.Sprintf("unexpected identifier %q as an operand", p.current.text),
				WithCode(ErrCondition), WithContext(map[string]any{"position": p.current.pos}))
		}
	default:
		return nil, NewError(
			fmt.Sprintf("expected an operand at position %d", p.current.pos),
			WithCode(ErrCondition), WithContext(map[string]any{"position": p.current.pos}))
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.serializeOperand(field, raw)
}

func (p *whereParser) serializeOperand(field *Field, raw any) (any, error) {
	out, err := field.serialize(raw)
	if err != nil {
		return nil, NewError(err.Error(), WithCode(ErrValidation),
			WithContext(map[string]any{"field": field.Name}), WithCause(err))
	}
	return out, nil
}

func (p *whereParser) resolveVariable(name string) (any, error) {
	v, ok := p.vars[name]
	if !ok {
		return nil, NewError(fmt.Sprintf("variable %q is not bound", name),
			WithCode(ErrVariable), WithContext(map[string]any{"variable": name}))
	}
	return v, nil
}

// resolveField validates a possibly dotted field path against the schema and
// rejects key material.
func (p *whereParser) resolveField(path string) (*Field, error) {
	segments := strings.Split(path, ".")
	if p.keyAttrs[segments[0]] {
		return nil, NewError(
			fmt.Sprintf("field %q is key material and cannot appear in a filter", path),
			WithCode(ErrCondition), WithContext(map[string]any{"field": path}))
	}
	field, ok := p.fields[segments[0]]
	if !ok {
		return nil, NewError(fmt.Sprintf("field %q is not defined in the schema", path),
			WithCode(ErrUnknownField), WithContext(map[string]any{"field": path}))
	}
	for _, seg := range segments[1:] {
		child, ok := field.Fields[seg]
		if !ok {
			return nil, NewError(fmt.Sprintf("field %q is not defined in the schema", path),
				WithCode(ErrUnknownField), WithContext(map[string]any{"field": path}))
		}
		field = child
	}
	return field, nil
}

func parseNumberLiteral(text string) (any, error) {
	if !strings.ContainsAny(text, ".eE") {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("value %q is not a number", text)
	}
	return n, nil
}
