/*
Package nuql – error types.
*/
package nuql

import (
	"fmt"
	"strings"
)

// ErrorCode is a well-known error category string.
type ErrorCode string

const (
	ErrArgument      ErrorCode = "ArgumentError"
	ErrSchema        ErrorCode = "SchemaError"
	ErrValidation    ErrorCode = "ValidationError"
	ErrTemplate      ErrorCode = "TemplateError"
	ErrIncompleteKey ErrorCode = "IncompleteKeyError"
	ErrAmbiguousKey  ErrorCode = "AmbiguousKeyConditionError"
	ErrOperator      ErrorCode = "UnsupportedOperatorError"
	ErrVariable      ErrorCode = "UnboundVariableError"
	ErrUnknownField  ErrorCode = "UnknownFieldError"
	ErrCondition     ErrorCode = "ConditionError"
	ErrNotFound      ErrorCode = "NotFoundError"
	ErrRuntime       ErrorCode = "RuntimeError"
)

// NuqlError is the general library error. It carries a Code and a free-form
// Context map with the offending field names and values.
type NuqlError struct {
	Message string
	Code    ErrorCode
	Context map[string]any
	Cause   error
}

func (e *NuqlError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *NuqlError) Unwrap() error { return e.Cause }

// NewError constructs a NuqlError.
func NewError(msg string, opts ...func(*NuqlError)) *NuqlError {
	err := &NuqlError{Message: msg}
	for _, o := range opts {
		o(err)
	}
	return err
}

// WithCode sets the error code.
func WithCode(c ErrorCode) func(*NuqlError) {
	return func(e *NuqlError) { e.Code = c }
}

// WithContext attaches a context map.
func WithContext(ctx map[string]any) func(*NuqlError) {
	return func(e *NuqlError) { e.Context = ctx }
}

// WithCause wraps an underlying error.
func WithCause(cause error) func(*NuqlError) {
	return func(e *NuqlError) { e.Cause = cause }
}

// IsCode reports whether err is a NuqlError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	ne, ok := err.(*NuqlError)
	return ok && ne.Code == code
}

// ValidationItem is one field failure recorded during serialization.
type ValidationItem struct {
	Name    string
	Message string
}

// validator accumulates per-field failures so that a write reports every
// problem at once rather than failing on the first.
type validator struct {
	items []ValidationItem
}

func (v *validator) add(name, message string) {
	v.items = append(v.items, ValidationItem{Name: name, Message: message})
}

// err returns an aggregated ValidationError, or nil when no failures occurred.
func (v *validator) err() error {
	if len(v.items) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("schema validation errors occurred:")
	ctx := map[string]any{}
	for i, item := range v.items {
		if i > 0 {
			b.WriteString(";")
		}
		fmt.Fprintf(&b, " %q: %s", item.Name, item.Message)
		ctx[item.Name] = item.Message
	}
	return NewError(b.String(), WithCode(ErrValidation), WithContext(ctx))
}
