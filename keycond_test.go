package nuql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileUserKey(t *testing.T, cond map[string]any) (*KeyCondition, error) {
	t.Helper()
	fields := userFields(t)
	return compileKeyCondition(fields, userIndexes()[0], cond)
}

func TestKeyConditionFullEquality(t *testing.T) {
	kc, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"region":    "us",
		"user_id":   "u9",
	})
	require.NoError(t, err)

	assert.Equal(t, &Compare{Field: "pk", Op: OpEq, Values: []any{"type:user|tenant:t1"}}, kc.Hash)
	assert.Equal(t, &Compare{Field: "sk", Op: OpEq, Values: []any{"region:us|user:u9"}}, kc.Sort)
}

func TestKeyConditionHashOnly(t *testing.T) {
	kc, err := compileUserKey(t, map[string]any{"tenant_id": "t1"})
	require.NoError(t, err)

	assert.Equal(t, "type:user|tenant:t1", kc.Hash.Values[0])
	assert.Nil(t, kc.Sort)
}

func TestKeyConditionPrefixInfersBeginsWith(t *testing.T) {
	kc, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"region":    "us",
	})
	require.NoError(t, err)

	assert.Equal(t, OpBeginsWith, kc.Sort.Op)
	assert.Equal(t, []any{"region:us|user:"}, kc.Sort.Values)
}

func TestKeyConditionRangeOnLastComponent(t *testing.T) {
	kc, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"region":    "us",
		"user_id":   map[string]any{">": "u5"},
	})
	require.NoError(t, err)

	assert.Equal(t, OpGt, kc.Sort.Op)
	assert.Equal(t, []any{"region:us|user:u5"}, kc.Sort.Values)
}

func TestKeyConditionExplicitBeginsWith(t *testing.T) {
	kc, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"region":    "us",
		"user_id":   map[string]any{"begins_with": "u"},
	})
	require.NoError(t, err)

	assert.Equal(t, OpBeginsWith, kc.Sort.Op)
	assert.Equal(t, []any{"region:us|user:u"}, kc.Sort.Values)
}

func TestKeyConditionBetween(t *testing.T) {
	kc, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"region":    "us",
		"user_id":   map[string]any{"between": []any{"u1", "u5"}},
	})
	require.NoError(t, err)

	assert.Equal(t, OpBetween, kc.Sort.Op)
	assert.Equal(t, []any{"region:us|user:u1", "region:us|user:u5"}, kc.Sort.Values)
}

func TestKeyConditionMissingHashComponent(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{"region": "us"})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrIncompleteKey))
}

func TestKeyConditionEmpty(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrIncompleteKey))
}

func TestKeyConditionRangeOnHashRejected(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"tenant_id": map[string]any{">": "t1"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrIncompleteKey))
}

func TestKeyConditionCanonicalOrderGap(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"user_id":   "u9",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrAmbiguousKey))
}

func TestKeyConditionTwoRangeOperators(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"region":    map[string]any{">": "a"},
		"user_id":   map[string]any{"<": "z"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrAmbiguousKey))
}

func TestKeyConditionRangeNotOnLastComponent(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"region":    map[string]any{">": "a"},
		"user_id":   "u9",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrAmbiguousKey))
}

func TestKeyConditionUnknownField(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"nickname":  "x",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrUnknownField))
}

func TestKeyConditionNonKeyField(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"tenant_id": "t1",
		"status":    "active",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCondition))
}

func TestKeyConditionUnknownOperator(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"tenant_id": map[string]any{"contains": "t"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrOperator))
}

func TestKeyConditionLiteralCompositeForm(t *testing.T) {
	kc, err := compileUserKey(t, map[string]any{
		"pk": "type:user|tenant:t1",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"type:user|tenant:t1"}, kc.Hash.Values)
}

func TestKeyConditionLiteralMixRejected(t *testing.T) {
	_, err := compileUserKey(t, map[string]any{
		"pk":        "type:user|tenant:t1",
		"tenant_id": "t1",
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrValidation))
}

func TestKeyConditionPlainSortKey(t *testing.T) {
	fields, err := buildFieldTree(NewRegistry(), FieldMap{
		"pk":         {Type: TypeKey, Value: []KeyPart{{Key: "tenant", Value: "${tenant_id}"}}},
		"created_at": {Type: TypeDatetime},
		"tenant_id":  {Type: TypeString},
	})
	require.NoError(t, err)
	idx := &IndexDef{Hash: "pk", Sort: "created_at"}

	kc, err := compileKeyCondition(fields, idx, map[string]any{
		"tenant_id":  "t1",
		"created_at": map[string]any{">=": "2026-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, OpGte, kc.Sort.Op)
	assert.Equal(t, []any{"2026-01-01T00:00:00Z"}, kc.Sort.Values)
}

func TestKeyConditionSharedComponentFeedsBothKeys(t *testing.T) {
	fields, err := buildFieldTree(NewRegistry(), FieldMap{
		"pk": {Type: TypeKey, Value: []KeyPart{
			{Key: "tenant", Value: "${tenant_id}"},
		}},
		"sk": {Type: TypeKey, Value: []KeyPart{
			{Key: "tenant", Value: "${tenant_id}"},
			{Key: "user", Value: "${user_id}"},
		}},
		"tenant_id": {Type: TypeString},
		"user_id":   {Type: TypeString},
	})
	require.NoError(t, err)
	idx := &IndexDef{Hash: "pk", Sort: "sk"}

	kc, err := compileKeyCondition(fields, idx, map[string]any{
		"tenant_id": "t1",
		"user_id":   "u9",
	})
	require.NoError(t, err)
	assert.Equal(t, &Compare{Field: "pk", Op: OpEq, Values: []any{"tenant:t1"}}, kc.Hash)
	assert.Equal(t, &Compare{Field: "sk", Op: OpEq, Values: []any{"tenant:t1|user:u9"}}, kc.Sort)

	// The shared component alone still resolves the hash side and leaves a
	// begins_with prefix on the sort side.
	kc, err = compileKeyCondition(fields, idx, map[string]any{"tenant_id": "t1"})
	require.NoError(t, err)
	assert.Equal(t, []any{"tenant:t1"}, kc.Hash.Values)
	assert.Equal(t, OpBeginsWith, kc.Sort.Op)
	assert.Equal(t, []any{"tenant:t1|user:"}, kc.Sort.Values)
}

func TestKeyConditionSortWithoutSortKey(t *testing.T) {
	fields, err := buildFieldTree(NewRegistry(), FieldMap{
		"pk":        {Type: TypeKey, Value: []KeyPart{{Key: "tenant", Value: "${tenant_id}"}}},
		"tenant_id": {Type: TypeString},
	})
	require.NoError(t, err)
	idx := &IndexDef{Hash: "pk"}

	_, err = compileKeyCondition(fields, idx, map[string]any{
		"tenant_id": "t1",
	})
	require.NoError(t, err)
}
