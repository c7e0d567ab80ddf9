package nuql

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRecordCreateProjectsComposites(t *testing.T) {
	fields := userFields(t)

	out, err := serializeRecord(fields, map[string]any{
		"tenant_id": "t1",
		"region":    "us",
	}, ActionCreate)
	require.NoError(t, err)

	assert.Equal(t, "type:user|tenant:t1", out["pk"])
	assert.Equal(t, "active", out["status"])

	id, ok := out["user_id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, "region:us|user:"+id, out["sk"])
}

func TestSerializeRecordCreateAggregatesFailures(t *testing.T) {
	fields := userFields(t)

	_, err := serializeRecord(fields, map[string]any{
		"status": "archived",
		"size":   "twelve",
	}, ActionCreate)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrValidation))

	ne := err.(*NuqlError)
	assert.Contains(t, ne.Context, "tenant_id")
	assert.Contains(t, ne.Context, "status")
	assert.Contains(t, ne.Context, "size")
}

func TestSerializeRecordUnknownFieldRejected(t *testing.T) {
	fields := userFields(t)

	_, err := serializeRecord(fields, map[string]any{
		"tenant_id": "t1",
		"nickname":  "x",
	}, ActionCreate)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrValidation))
}

func TestSerializeRecordUpdateIsPartial(t *testing.T) {
	fields := userFields(t)

	out, err := serializeRecord(fields, map[string]any{
		"status": "inactive",
	}, ActionUpdate)
	require.NoError(t, err)

	assert.Equal(t, "inactive", out["status"])
	assert.NotContains(t, out, "user_id")
	assert.NotContains(t, out, "size")
}

func TestSerializeRecordUpdateNilMarksRemoval(t *testing.T) {
	fields := userFields(t)

	out, err := serializeRecord(fields, map[string]any{
		"email": nil,
	}, ActionUpdate)
	require.NoError(t, err)

	v, ok := out["email"]
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestSerializeRecordUpdateSkipsUnresolvableComposites(t *testing.T) {
	fields := userFields(t)

	out, err := serializeRecord(fields, map[string]any{
		"status": "inactive",
	}, ActionUpdate)
	require.NoError(t, err)

	assert.NotContains(t, out, "pk")
	assert.NotContains(t, out, "sk")
}

func TestSerializeRecordCompositeLiteralFallback(t *testing.T) {
	fields := userFields(t)

	out, err := serializeRecord(fields, map[string]any{
		"status": "inactive",
		"sk":     "region:us|user:u9",
	}, ActionUpdate)
	require.NoError(t, err)
	assert.Equal(t, "region:us|user:u9", out["sk"])
}

func TestDeserializeRecordKeepsCompositesRaw(t *testing.T) {
	fields := userFields(t)

	out, err := deserializeRecord(fields, map[string]any{
		"pk":        "type:user|tenant:t1",
		"sk":        "region:us|user:u9",
		"tenant_id": "t1",
		"size":      float64(5),
	})
	require.NoError(t, err)

	assert.Equal(t, "type:user|tenant:t1", out["pk"])
	assert.Equal(t, "region:us|user:u9", out["sk"])
	assert.Equal(t, int64(5), out["size"])
}

func TestDeserializeRecordConvertsDatetime(t *testing.T) {
	fields, err := buildFieldTree(NewRegistry(), FieldMap{
		"created_at": {Type: TypeDatetime},
	})
	require.NoError(t, err)

	out, err := deserializeRecord(fields, map[string]any{
		"created_at": "2026-08-24T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC), out["created_at"])
}

func TestDeserializeRecordPassesUnknownAttributes(t *testing.T) {
	fields := userFields(t)

	out, err := deserializeRecord(fields, map[string]any{
		"tenant_id": "t1",
		"legacy":    "kept",
	})
	require.NoError(t, err)
	assert.Equal(t, "kept", out["legacy"])
}
