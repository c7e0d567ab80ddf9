package nuql

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCommitChunks(t *testing.T) {
	client := &fakeClient{}
	table := newUserTable(t, client)

	batch := table.Batch()
	for i := 0; i < 30; i++ {
		require.NoError(t, batch.Put(map[string]any{
			"tenant_id": "t1", "region": "us", "user_id": fmt.Sprintf("u%d", i),
		}))
	}
	require.Equal(t, 30, batch.Len())
	require.NoError(t, batch.Commit(context.Background()))

	require.Len(t, client.batchIns, 2)
	assert.Len(t, client.batchIns[0].RequestItems["app-data"], 25)
	assert.Len(t, client.batchIns[1].RequestItems["app-data"], 5)
	assert.Equal(t, 0, batch.Len())
}

func TestBatchMixesPutAndDelete(t *testing.T) {
	client := &fakeClient{}
	table := newUserTable(t, client)

	batch := table.Batch()
	require.NoError(t, batch.Put(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u1",
	}))
	require.NoError(t, batch.Delete(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u2",
	}))
	require.NoError(t, batch.Commit(context.Background()))

	writes := client.batchIns[0].RequestItems["app-data"]
	require.Len(t, writes, 2)
	assert.NotNil(t, writes[0].PutRequest)
	assert.NotNil(t, writes[1].DeleteRequest)
}

func TestBatchPutValidatesAtQueueTime(t *testing.T) {
	table := newUserTable(t, &fakeClient{})

	batch := table.Batch()
	err := batch.Put(map[string]any{"region": "us", "user_id": "u1"})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrIncompleteKey))
	assert.Equal(t, 0, batch.Len())
}

func TestBatchRetriesUnprocessedItems(t *testing.T) {
	unprocessed := types.WriteRequest{DeleteRequest: &types.DeleteRequest{
		Key: map[string]types.AttributeValue{"pk": s("p"), "sk": s("k")},
	}}
	client := &fakeClient{batchOuts: []*dynamodb.BatchWriteItemOutput{
		{UnprocessedItems: map[string][]types.WriteRequest{"app-data": {unprocessed}}},
		{},
	}}
	table := newUserTable(t, client)

	batch := table.Batch()
	require.NoError(t, batch.Delete(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u1",
	}))
	require.NoError(t, batch.Commit(context.Background()))

	require.Len(t, client.batchIns, 2)
	assert.Equal(t, []types.WriteRequest{unprocessed}, client.batchIns[1].RequestItems["app-data"])
}

func TestBatchAbort(t *testing.T) {
	client := &fakeClient{}
	table := newUserTable(t, client)

	batch := table.Batch()
	require.NoError(t, batch.Delete(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u1",
	}))
	batch.Abort()
	require.NoError(t, batch.Commit(context.Background()))
	assert.Empty(t, client.batchIns)
}

func TestTransactionCreateGuardsExistence(t *testing.T) {
	client := &fakeClient{}
	table := newUserTable(t, client)

	tx := table.Transaction()
	require.NoError(t, tx.Create(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u1",
	}))
	require.NoError(t, tx.Commit(context.Background()))

	require.Len(t, client.transactIn.TransactItems, 1)
	put := client.transactIn.TransactItems[0].Put
	require.NotNil(t, put)
	assert.Contains(t, *put.ConditionExpression, "attribute_not_exists")
}

func TestTransactionUpdateAndDelete(t *testing.T) {
	client := &fakeClient{}
	table := newUserTable(t, client)

	tx := table.Transaction()
	require.NoError(t, tx.Update(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u1",
		"status": "inactive",
	}))
	require.NoError(t, tx.Delete(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u2",
	}))
	require.NoError(t, tx.Commit(context.Background()))

	items := client.transactIn.TransactItems
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Update)
	assert.Contains(t, *items[0].Update.UpdateExpression, "SET ")
	assert.Contains(t, *items[0].Update.ConditionExpression, "attribute_exists")
	require.NotNil(t, items[1].Delete)
}

func TestTransactionConditionCheck(t *testing.T) {
	client := &fakeClient{}
	table := newUserTable(t, client)

	tx := table.Transaction()
	require.NoError(t, tx.ConditionCheck(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u1",
	}, "status = 'active'", nil))
	require.NoError(t, tx.Commit(context.Background()))

	check := client.transactIn.TransactItems[0].ConditionCheck
	require.NotNil(t, check)
	assert.Contains(t, *check.ConditionExpression, "=")
}

func TestTransactionConditionFailure(t *testing.T) {
	code := "ConditionalCheckFailed"
	client := &fakeClient{transactErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &code}},
	}}
	table := newUserTable(t, client)

	tx := table.Transaction()
	require.NoError(t, tx.Create(map[string]any{
		"tenant_id": "t1", "region": "us", "user_id": "u1",
	}))
	err := tx.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCondition))
}

func TestTransactionEmptyCommitIsNoop(t *testing.T) {
	client := &fakeClient{}
	table := newUserTable(t, client)

	require.NoError(t, table.Transaction().Commit(context.Background()))
	assert.Nil(t, client.transactIn)
}
