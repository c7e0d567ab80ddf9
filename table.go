/*
Package nuql – table operations.

Table binds one DynamoDB table to a field schema and index set and exposes
the record operations. Construction validates the whole configuration up
front; after that a Table is immutable and safe for concurrent use.
*/
package nuql

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableParams configures a Table.
type TableParams struct {
	Name    string
	Client  DynamoClient
	Schema  FieldMap
	Indexes []*IndexDef

	// Registry defaults to the built-in type registry.
	Registry *Registry
	// Logger defaults to info/error on the standard logger.
	Logger Logger
}

// Table is the bound combination of schema, indexes and client.
type Table struct {
	name    string
	fields  map[string]*Field
	indexes *indexSet
	run     *runner
	log     Logger
}

// NewTable validates the schema and index declarations and binds them to a
// client. Every index hash/sort attribute must exist as a schema field.
func NewTable(params TableParams) (*Table, error) {
	if params.Name == "" {
		return nil, NewError("table name is required", WithCode(ErrArgument))
	}
	if params.Client == nil {
		return nil, NewError("a DynamoDB client is required", WithCode(ErrArgument))
	}
	reg := params.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	logger := params.Logger
	if logger == nil {
		logger = defaultLogger{}
	}

	indexes, err := validateIndexes(params.Indexes)
	if err != nil {
		return nil, err
	}
	fields, err := buildFieldTree(reg, params.Schema)
	if err != nil {
		return nil, err
	}
	for attr := range indexes.keyAttrs {
		if _, ok := fields[attr]; !ok {
			return nil, NewError(
				fmt.Sprintf("index attribute %q is not defined in the schema", attr),
				WithCode(ErrSchema), WithContext(map[string]any{"attribute": attr}))
		}
	}

	logTrace(logger, "table configured", map[string]any{
		"table": params.Name, "fields": len(fields), "indexes": len(params.Indexes),
	})
	return &Table{
		name:    params.Name,
		fields:  fields,
		indexes: indexes,
		run:     &runner{client: params.Client, log: logger},
		log:     logger,
	}, nil
}

// Name returns the bound DynamoDB table name.
func (t *Table) Name() string { return t.name }

// ─── key resolution ──────────────────────────────────────────────────────────

// buildKey resolves the primary key attribute values from a record. Every key
// attribute must resolve completely.
func (t *Table) buildKey(data map[string]any) (map[string]any, error) {
	serialized, err := t.serializeKeyComponents(data)
	if err != nil {
		return nil, err
	}

	primary := t.indexes.primary
	key := map[string]any{}
	attrs := []string{primary.Hash}
	if primary.Sort != "" {
		attrs = append(attrs, primary.Sort)
	}
	for _, attr := range attrs {
		value, err := t.resolveKeyAttr(attr, data, serialized)
		if err != nil {
			return nil, err
		}
		key[attr] = value
	}
	return key, nil
}

// serializeKeyComponents runs provided non-composite values through their
// field types so key expansion sees wire-form values.
func (t *Table) serializeKeyComponents(data map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for name, value := range data {
		f, ok := t.fields[name]
		if !ok || f.isComposite() || value == nil {
			continue
		}
		v, err := f.serialize(value)
		if err != nil {
			return nil, NewError(err.Error(), WithCode(ErrValidation),
				WithContext(map[string]any{"field": name}), WithCause(err))
		}
		out[name] = v
	}
	return out, nil
}

func (t *Table) resolveKeyAttr(attr string, data, serialized map[string]any) (any, error) {
	f := t.fields[attr]
	if !f.isComposite() {
		if v, ok := serialized[attr]; ok {
			return v, nil
		}
		return nil, NewError(
			fmt.Sprintf("key attribute %q has no value", attr),
			WithCode(ErrIncompleteKey), WithContext(map[string]any{"attribute": attr}))
	}
	if s, ok := data[attr].(string); ok {
		return s, nil
	}
	full, err := compositeExpand(f, serialized)
	if err != nil {
		return nil, NewError(
			fmt.Sprintf("key attribute %q cannot be fully resolved", attr),
			WithCode(ErrIncompleteKey), WithContext(map[string]any{"attribute": attr}), WithCause(err))
	}
	return full, nil
}

// requireKeyAttrs checks a serialized item for complete primary key values.
func (t *Table) requireKeyAttrs(item map[string]any) error {
	primary := t.indexes.primary
	attrs := []string{primary.Hash}
	if primary.Sort != "" {
		attrs = append(attrs, primary.Sort)
	}
	for _, attr := range attrs {
		if v, ok := item[attr]; !ok || v == nil {
			return NewError(
				fmt.Sprintf("key attribute %q cannot be resolved from the record", attr),
				WithCode(ErrIncompleteKey), WithContext(map[string]any{"attribute": attr}))
		}
	}
	return nil
}

// ─── operations ──────────────────────────────────────────────────────────────

type writeOptions struct {
	where string
	vars  map[string]any
}

// WriteOption adjusts a single write operation.
type WriteOption func(*writeOptions)

// WithCondition guards the write with a where expression evaluated against
// the stored item. Variables are referenced as ${name}.
func WithCondition(where string, vars map[string]any) WriteOption {
	return func(o *writeOptions) {
		o.where = where
		o.vars = vars
	}
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// writeCondition combines the injected key guard with the caller's optional
// where condition.
func (t *Table) writeCondition(guard Condition, o writeOptions) (Condition, error) {
	if o.where == "" {
		return guard, nil
	}
	caller, err := compileWhere(t.fields, map[string]bool{}, o.where, o.vars)
	if err != nil {
		return nil, err
	}
	if guard == nil {
		return caller, nil
	}
	return &AndCond{Terms: []Condition{guard, caller}}, nil
}

// Get fetches one record by its primary key components.
func (t *Table) Get(ctx context.Context, key map[string]any) (map[string]any, error) {
	resolved, err := t.buildKey(key)
	if err != nil {
		return nil, err
	}
	avKey, err := marshalItem(resolved)
	if err != nil {
		return nil, err
	}

	out, err := t.run.getItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.name),
		Key:       avKey,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, NewError("item was not found",
			WithCode(ErrNotFound), WithContext(map[string]any{"key": resolved}))
	}
	item, err := unmarshalItem(out.Item)
	if err != nil {
		return nil, err
	}
	return deserializeRecord(t.fields, item)
}

// Create writes a new record and fails with a condition error when an item
// with the same key already exists.
func (t *Table) Create(ctx context.Context, data map[string]any, opts ...WriteOption) (map[string]any, error) {
	return t.write(ctx, data, ActionCreate, applyWriteOptions(opts))
}

// Put writes a full record, replacing any existing item. A caller condition
// supplied with WithCondition guards the replacement.
func (t *Table) Put(ctx context.Context, data map[string]any, opts ...WriteOption) (map[string]any, error) {
	return t.write(ctx, data, ActionWrite, applyWriteOptions(opts))
}

func (t *Table) write(ctx context.Context, data map[string]any, action Action, o writeOptions) (map[string]any, error) {
	item, err := serializeRecord(t.fields, data, action)
	if err != nil {
		return nil, err
	}
	if err := t.requireKeyAttrs(item); err != nil {
		return nil, err
	}
	avItem, err := marshalItem(item)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.name),
		Item:      avItem,
	}
	var guard Condition
	if action == ActionCreate {
		guard = t.keyExistenceCondition(opNotExists)
	}
	cond, err := t.writeCondition(guard, o)
	if err != nil {
		return nil, err
	}
	if cond != nil {
		expr := newExpression()
		rendered, err := expr.render(cond)
		if err != nil {
			return nil, err
		}
		input.ConditionExpression = aws.String(rendered)
		input.ExpressionAttributeNames = expr.attributeNames()
		input.ExpressionAttributeValues = expr.attributeValues()
	}

	if _, err := t.run.putItem(ctx, input); err != nil {
		return nil, err
	}
	logInfo(t.log, "item written", map[string]any{"table": t.name})
	return deserializeRecord(t.fields, item)
}

// Update applies a partial change set. The record must carry enough fields to
// resolve the primary key; key attributes themselves are never updated, and
// the item must already exist.
func (t *Table) Update(ctx context.Context, data map[string]any, opts ...WriteOption) (map[string]any, error) {
	o := applyWriteOptions(opts)
	key, err := t.buildKey(data)
	if err != nil {
		return nil, err
	}
	item, err := serializeRecord(t.fields, data, ActionUpdate)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	for name, value := range item {
		if t.indexes.keyAttrs[name] {
			continue
		}
		changes[name] = value
	}
	if len(changes) == 0 {
		return nil, NewError("update carries no attribute changes", WithCode(ErrValidation))
	}

	cond, err := t.writeCondition(t.keyExistenceCondition(opExists), o)
	if err != nil {
		return nil, err
	}
	expr := newExpression()
	update, err := expr.renderUpdate(changes)
	if err != nil {
		return nil, err
	}
	condition, err := expr.render(cond)
	if err != nil {
		return nil, err
	}
	avKey, err := marshalItem(key)
	if err != nil {
		return nil, err
	}

	out, err := t.run.updateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.name),
		Key:                       avKey,
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, err
	}
	updated, err := unmarshalItem(out.Attributes)
	if err != nil {
		return nil, err
	}
	return deserializeRecord(t.fields, updated)
}

// Delete removes one record by its primary key components.
func (t *Table) Delete(ctx context.Context, key map[string]any, opts ...WriteOption) error {
	o := applyWriteOptions(opts)
	resolved, err := t.buildKey(key)
	if err != nil {
		return err
	}
	avKey, err := marshalItem(resolved)
	if err != nil {
		return err
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(t.name),
		Key:       avKey,
	}
	cond, err := t.writeCondition(nil, o)
	if err != nil {
		return err
	}
	if cond != nil {
		expr := newExpression()
		rendered, err := expr.render(cond)
		if err != nil {
			return err
		}
		input.ConditionExpression = aws.String(rendered)
		input.ExpressionAttributeNames = expr.attributeNames()
		input.ExpressionAttributeValues = expr.attributeValues()
	}
	_, err = t.run.deleteItem(ctx, input)
	return err
}

// keyExistenceCondition builds the existence guard over the primary key
// attributes for create and update.
func (t *Table) keyExistenceCondition(op Operator) Condition {
	primary := t.indexes.primary
	terms := []Condition{&Compare{Field: primary.Hash, Op: op}}
	if primary.Sort != "" {
		terms = append(terms, &Compare{Field: primary.Sort, Op: op})
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return &AndCond{Terms: terms}
}

// ─── query ───────────────────────────────────────────────────────────────────

// filterForbidden lists the names a filter may not reference for one index:
// the hash/sort attributes themselves and every field projected into them.
func (t *Table) filterForbidden(idx *IndexDef) map[string]bool {
	forbidden := componentSet(t.fields[idx.Hash], idx.Hash)
	if idx.Sort != "" {
		for name := range componentSet(t.fields[idx.Sort], idx.Sort) {
			forbidden[name] = true
		}
	}
	return forbidden
}

// QueryParams describes one query.
type QueryParams struct {
	// Index names a secondary index; empty queries the primary index.
	Index string
	// Key is the field-level key condition.
	Key map[string]any
	// Where is an optional filter expression with ${name} variables from Vars.
	Where string
	Vars  map[string]any

	// Limit caps the number of returned records; zero means unbounded.
	Limit int32
	// Descending reverses the sort-key order.
	Descending bool
	// StartKey resumes from a previous result's NextKey.
	StartKey map[string]any
}

// QueryResult is one page run of a query.
type QueryResult struct {
	Items []map[string]any
	// NextKey is non-nil when more records remain past Limit.
	NextKey map[string]any
}

// Query runs a key condition against an index, following continuation keys
// until Limit records are collected or the result set ends.
func (t *Table) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	idx, err := t.indexes.get(params.Index)
	if err != nil {
		return nil, err
	}
	kc, err := compileKeyCondition(t.fields, idx, params.Key)
	if err != nil {
		return nil, err
	}

	expr := newExpression()
	keyExpr, err := expr.renderKeyCondition(kc)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.name),
		KeyConditionExpression:    aws.String(keyExpr),
		ScanIndexForward:          aws.Bool(!params.Descending),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
	}
	if idx != t.indexes.primary {
		input.IndexName = aws.String(indexLabel(idx))
	}
	if params.Where != "" {
		filter, err := compileWhere(t.fields, t.filterForbidden(idx), params.Where, params.Vars)
		if err != nil {
			return nil, err
		}
		rendered, err := expr.render(filter)
		if err != nil {
			return nil, err
		}
		input.FilterExpression = aws.String(rendered)
		input.ExpressionAttributeNames = expr.attributeNames()
		input.ExpressionAttributeValues = expr.attributeValues()
	}
	if params.StartKey != nil {
		start, err := marshalItem(params.StartKey)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = start
	}
	if params.Limit > 0 {
		input.Limit = aws.Int32(params.Limit)
	}

	result := &QueryResult{}
	for {
		out, err := t.run.query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, av := range out.Items {
			item, err := unmarshalItem(av)
			if err != nil {
				return nil, err
			}
			record, err := deserializeRecord(t.fields, item)
			if err != nil {
				return nil, err
			}
			result.Items = append(result.Items, record)
		}

		if params.Limit > 0 && int32(len(result.Items)) >= params.Limit {
			result.Items = result.Items[:params.Limit]
			if out.LastEvaluatedKey != nil {
				next, err := unmarshalItem(out.LastEvaluatedKey)
				if err != nil {
					return nil, err
				}
				result.NextKey = next
			}
			break
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
		if params.Limit > 0 {
			input.Limit = aws.Int32(params.Limit - int32(len(result.Items)))
		}
	}

	logTrace(t.log, "query completed", map[string]any{
		"table": t.name, "index": indexLabel(idx), "items": len(result.Items),
	})
	return result, nil
}
