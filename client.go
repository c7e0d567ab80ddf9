/*
Package nuql – DynamoDB client boundary.

DynamoClient is the slice of the AWS SDK v2 DynamoDB client this package
calls, kept as an interface so tests can stand in a fake. The runner wraps
every call with trace logging and normalizes SDK failures into NuqlErrors.
*/
package nuql

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoClient is satisfied by *dynamodb.Client.
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// runner pairs the client with the table logger.
type runner struct {
	client DynamoClient
	log    Logger
}

func (r *runner) getItem(ctx context.Context, input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	r.trace("GetItem", input.TableName)
	out, err := r.client.GetItem(ctx, input)
	if err != nil {
		return nil, r.fail("GetItem", err)
	}
	return out, nil
}

func (r *runner) putItem(ctx context.Context, input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	r.trace("PutItem", input.TableName)
	out, err := r.client.PutItem(ctx, input)
	if err != nil {
		return nil, r.fail("PutItem", err)
	}
	return out, nil
}

func (r *runner) deleteItem(ctx context.Context, input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	r.trace("DeleteItem", input.TableName)
	out, err := r.client.DeleteItem(ctx, input)
	if err != nil {
		return nil, r.fail("DeleteItem", err)
	}
	return out, nil
}

func (r *runner) updateItem(ctx context.Context, input *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
	r.trace("UpdateItem", input.TableName)
	out, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		return nil, r.fail("UpdateItem", err)
	}
	return out, nil
}

func (r *runner) query(ctx context.Context, input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	r.trace("Query", input.TableName)
	out, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, r.fail("Query", err)
	}
	return out, nil
}

func (r *runner) batchWrite(ctx context.Context, input *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
	r.trace("BatchWriteItem", nil)
	out, err := r.client.BatchWriteItem(ctx, input)
	if err != nil {
		return nil, r.fail("BatchWriteItem", err)
	}
	return out, nil
}

func (r *runner) transactWrite(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
	r.trace("TransactWriteItems", nil)
	out, err := r.client.TransactWriteItems(ctx, input)
	if err != nil {
		return nil, r.fail("TransactWriteItems", err)
	}
	return out, nil
}

func (r *runner) trace(op string, table *string) {
	ctx := map[string]any{"operation": op}
	if table != nil {
		ctx["table"] = *table
	}
	logTrace(r.log, "dynamodb request", ctx)
}

// fail normalizes an SDK error. Conditional check failures keep their own
// code so callers can branch on them.
func (r *runner) fail(op string, err error) error {
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return NewError("condition failed",
			WithCode(ErrCondition), WithContext(map[string]any{"operation": op}), WithCause(err))
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return NewError("condition failed",
					WithCode(ErrCondition), WithContext(map[string]any{"operation": op}), WithCause(err))
			}
		}
	}
	logError(r.log, "dynamodb request failed", map[string]any{"operation": op, "error": err.Error()})
	return NewError("dynamodb request failed",
		WithCode(ErrRuntime), WithContext(map[string]any{"operation": op}), WithCause(err))
}
