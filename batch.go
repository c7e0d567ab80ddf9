/*
Package nuql – batch and transaction builders.

BatchWriter accumulates put/delete requests and commits them in chunks of 25
with retry of unprocessed items. Transaction accumulates conditional writes
committed atomically through TransactWriteItems.
*/
package nuql

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	batchWriteChunk   = 25
	batchRetryLimit   = 5
	batchRetryBackoff = 50 * time.Millisecond

	transactItemLimit = 100
)

// BatchWriter collects put and delete requests for one table.
type BatchWriter struct {
	table  *Table
	writes []types.WriteRequest
}

// Batch starts an empty batch against the table.
func (t *Table) Batch() *BatchWriter {
	return &BatchWriter{table: t}
}

// Put queues a full record write. The record runs the same pipeline as
// Table.Put, so failures surface at queue time.
func (b *BatchWriter) Put(data map[string]any) error {
	item, err := serializeRecord(b.table.fields, data, ActionWrite)
	if err != nil {
		return err
	}
	if err := b.table.requireKeyAttrs(item); err != nil {
		return err
	}
	av, err := marshalItem(item)
	if err != nil {
		return err
	}
	b.writes = append(b.writes, types.WriteRequest{
		PutRequest: &types.PutRequest{Item: av},
	})
	return nil
}

// Delete queues a delete by primary key components.
func (b *BatchWriter) Delete(key map[string]any) error {
	resolved, err := b.table.buildKey(key)
	if err != nil {
		return err
	}
	av, err := marshalItem(resolved)
	if err != nil {
		return err
	}
	b.writes = append(b.writes, types.WriteRequest{
		DeleteRequest: &types.DeleteRequest{Key: av},
	})
	return nil
}

// Len reports the number of queued requests.
func (b *BatchWriter) Len() int { return len(b.writes) }

// Abort discards every queued request.
func (b *BatchWriter) Abort() { b.writes = nil }

// Commit flushes the queue in chunks of 25, retrying unprocessed items with
// backoff. The queue is cleared on success.
func (b *BatchWriter) Commit(ctx context.Context) error {
	for len(b.writes) > 0 {
		chunk := b.writes
		if len(chunk) > batchWriteChunk {
			chunk = chunk[:batchWriteChunk]
		}
		if err := b.commitChunk(ctx, chunk); err != nil {
			return err
		}
		b.writes = b.writes[len(chunk):]
	}
	return nil
}

func (b *BatchWriter) commitChunk(ctx context.Context, chunk []types.WriteRequest) error {
	pending := chunk
	backoff := batchRetryBackoff
	for attempt := 0; ; attempt++ {
		out, err := b.table.run.batchWrite(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{b.table.name: pending},
		})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems[b.table.name]
		if len(pending) == 0 {
			return nil
		}
		if attempt+1 >= batchRetryLimit {
			return NewError("batch write left unprocessed items",
				WithCode(ErrRuntime), WithContext(map[string]any{"unprocessed": len(pending)}))
		}
		logTrace(b.table.log, "retrying unprocessed batch items", map[string]any{
			"table": b.table.name, "unprocessed": len(pending), "attempt": attempt + 1,
		})
		select {
		case <-ctx.Done():
			return NewError("batch write interrupted", WithCode(ErrRuntime), WithCause(ctx.Err()))
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// ─── transactions ────────────────────────────────────────────────────────────

// Transaction collects conditional writes committed atomically.
type Transaction struct {
	table *Table
	items []types.TransactWriteItem
}

// Transaction starts an empty transaction against the table.
func (t *Table) Transaction() *Transaction {
	return &Transaction{table: t}
}

// Create queues a write guarded by attribute_not_exists on the key.
func (tx *Transaction) Create(data map[string]any) error {
	return tx.put(data, ActionCreate)
}

// Put queues an unconditional full write.
func (tx *Transaction) Put(data map[string]any) error {
	return tx.put(data, ActionWrite)
}

func (tx *Transaction) put(data map[string]any, action Action) error {
	item, err := serializeRecord(tx.table.fields, data, action)
	if err != nil {
		return err
	}
	if err := tx.table.requireKeyAttrs(item); err != nil {
		return err
	}
	av, err := marshalItem(item)
	if err != nil {
		return err
	}

	put := &types.Put{
		TableName: aws.String(tx.table.name),
		Item:      av,
	}
	if action == ActionCreate {
		expr := newExpression()
		condition, err := expr.render(tx.table.keyExistenceCondition(opNotExists))
		if err != nil {
			return err
		}
		put.ConditionExpression = aws.String(condition)
		put.ExpressionAttributeNames = expr.attributeNames()
	}
	tx.items = append(tx.items, types.TransactWriteItem{Put: put})
	return nil
}

// Update queues a partial change set guarded by attribute_exists on the key.
func (tx *Transaction) Update(data map[string]any) error {
	key, err := tx.table.buildKey(data)
	if err != nil {
		return err
	}
	item, err := serializeRecord(tx.table.fields, data, ActionUpdate)
	if err != nil {
		return err
	}
	changes := map[string]any{}
	for name, value := range item {
		if tx.table.indexes.keyAttrs[name] {
			continue
		}
		changes[name] = value
	}
	if len(changes) == 0 {
		return NewError("update carries no attribute changes", WithCode(ErrValidation))
	}

	expr := newExpression()
	update, err := expr.renderUpdate(changes)
	if err != nil {
		return err
	}
	condition, err := expr.render(tx.table.keyExistenceCondition(opExists))
	if err != nil {
		return err
	}
	avKey, err := marshalItem(key)
	if err != nil {
		return err
	}
	tx.items = append(tx.items, types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(tx.table.name),
		Key:                       avKey,
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
	}})
	return nil
}

// Delete queues a delete by primary key components.
func (tx *Transaction) Delete(key map[string]any) error {
	resolved, err := tx.table.buildKey(key)
	if err != nil {
		return err
	}
	av, err := marshalItem(resolved)
	if err != nil {
		return err
	}
	tx.items = append(tx.items, types.TransactWriteItem{Delete: &types.Delete{
		TableName: aws.String(tx.table.name),
		Key:       av,
	}})
	return nil
}

// ConditionCheck queues a read guard: the transaction only commits when the
// addressed item satisfies the expression.
func (tx *Transaction) ConditionCheck(key map[string]any, where string, vars map[string]any) error {
	resolved, err := tx.table.buildKey(key)
	if err != nil {
		return err
	}
	cond, err := compileWhere(tx.table.fields, map[string]bool{}, where, vars)
	if err != nil {
		return err
	}
	expr := newExpression()
	rendered, err := expr.render(cond)
	if err != nil {
		return err
	}
	avKey, err := marshalItem(resolved)
	if err != nil {
		return err
	}
	tx.items = append(tx.items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
		TableName:                 aws.String(tx.table.name),
		Key:                       avKey,
		ConditionExpression:       aws.String(rendered),
		ExpressionAttributeNames:  expr.attributeNames(),
		ExpressionAttributeValues: expr.attributeValues(),
	}})
	return nil
}

// Len reports the number of queued items.
func (tx *Transaction) Len() int { return len(tx.items) }

// Abort discards every queued item.
func (tx *Transaction) Abort() { tx.items = nil }

// Commit submits the queued items atomically. An empty transaction is a
// no-op; over-limit transactions fail before any request is made.
func (tx *Transaction) Commit(ctx context.Context) error {
	if len(tx.items) == 0 {
		return nil
	}
	if len(tx.items) > transactItemLimit {
		return NewError("transaction exceeds the item limit",
			WithCode(ErrValidation), WithContext(map[string]any{"items": len(tx.items)}))
	}
	_, err := tx.table.run.transactWrite(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: tx.items,
	})
	if err != nil {
		return err
	}
	tx.items = nil
	return nil
}
