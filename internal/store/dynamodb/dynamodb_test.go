package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
)

// mockDDB is a minimal mock of the DDBAPI interface for unit testing.
type mockDDB struct {
	putItemFn        func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	getItemFn        func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	queryFn          func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	scanFn           func(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	batchWriteItemFn func(ctx context.Context, input *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	describeTableFn  func(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	createTableFn    func(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

func (m *mockDDB) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFn != nil {
		return m.putItemFn(ctx, input, opts...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDB) GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFn != nil {
		return m.getItemFn(ctx, input, opts...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDDB) Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, input, opts...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDDB) Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, input, opts...)
	}
	return &dynamodb.ScanOutput{}, nil
}

func (m *mockDDB) BatchWriteItem(ctx context.Context, input *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if m.batchWriteItemFn != nil {
		return m.batchWriteItemFn(ctx, input, opts...)
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (m *mockDDB) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.describeTableFn != nil {
		return m.describeTableFn(ctx, input, opts...)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockDDB) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if m.createTableFn != nil {
		return m.createTableFn(ctx, input, opts...)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func newTestBackend(mock *mockDDB) *Backend {
	return &Backend{
		client:    mock,
		tableName: "foursight-test",
		logger:    slog.Default(),
	}
}

func strAttr(m map[string]ddbtypes.AttributeValue, name string) string {
	if v, ok := m[name].(*ddbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func keyItem(t *testing.T, key string) map[string]ddbtypes.AttributeValue {
	t.Helper()
	pk, sk, err := splitKey(key)
	require.NoError(t, err)
	av, err := attributevalue.MarshalMap(item{PK: pk, SK: sk, Key: key, Size: 10})
	require.NoError(t, err)
	return av
}

// ---------------------------------------------------------------------------
// Key layout
// ---------------------------------------------------------------------------

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key, pk, sk string
	}{
		{"my_check/latest.json", "my_check", "latest.json"},
		{"my_check/action_records/2024-01-01T00:00:00.000000", "my_check", "action_records/2024-01-01T00:00:00.000000"},
		{"orphan", "orphan", rootSK},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			pk, sk, err := splitKey(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.pk, pk)
			assert.Equal(t, tt.sk, sk)
		})
	}
}

func TestSplitKey_RejectsCollidingKeys(t *testing.T) {
	for _, key := range []string{"trailing/", "name/#", "", "/latest.json"} {
		t.Run(key, func(t *testing.T) {
			_, _, err := splitKey(key)
			assert.ErrorIs(t, err, errInvalidKey)
		})
	}
}

func TestInvalidKeyNeverReachesTable(t *testing.T) {
	b := newTestBackend(&mockDDB{})
	ctx := context.Background()

	assert.ErrorIs(t, b.Put(ctx, "name/", []byte("{}")), errInvalidKey)
	_, err := b.PutIfAbsent(ctx, "name/#", []byte("{}"))
	assert.ErrorIs(t, err, errInvalidKey)
	_, err = b.Get(ctx, "name/")
	assert.ErrorIs(t, err, errInvalidKey)
	assert.ErrorIs(t, b.Delete(ctx, []string{"name/#"}), errInvalidKey)
}

// ---------------------------------------------------------------------------
// Reads and writes
// ---------------------------------------------------------------------------

func TestPut_MarshaledItem(t *testing.T) {
	var captured *dynamodb.PutItemInput
	mock := &mockDDB{
		putItemFn: func(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = input
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	b := newTestBackend(mock)

	require.NoError(t, b.Put(context.Background(), "my_check/latest.json", []byte(`{"status":"PASS"}`)))
	require.NotNil(t, captured)
	assert.Equal(t, "my_check", strAttr(captured.Item, "PK"))
	assert.Equal(t, "latest.json", strAttr(captured.Item, "SK"))
	assert.Equal(t, "my_check/latest.json", strAttr(captured.Item, "key"))
	assert.Equal(t, `{"status":"PASS"}`, strAttr(captured.Item, "data"))
	assert.Nil(t, captured.ConditionExpression)
}

func TestPutIfAbsent(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		var cond string
		mock := &mockDDB{
			putItemFn: func(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				cond = aws.ToString(input.ConditionExpression)
				return &dynamodb.PutItemOutput{}, nil
			},
		}
		created, err := newTestBackend(mock).PutIfAbsent(context.Background(), "a/action_records/x", []byte(`{}`))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "attribute_not_exists(PK)", cond)
	})

	t.Run("already exists", func(t *testing.T) {
		mock := &mockDDB{
			putItemFn: func(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("exists")}
			},
		}
		created, err := newTestBackend(mock).PutIfAbsent(context.Background(), "a/action_records/x", []byte(`{}`))
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("other error", func(t *testing.T) {
		mock := &mockDDB{
			putItemFn: func(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, errors.New("throttled")
			},
		}
		_, err := newTestBackend(mock).PutIfAbsent(context.Background(), "a/action_records/x", []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestGet_RoundTrip(t *testing.T) {
	mock := &mockDDB{
		getItemFn: func(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			assert.Equal(t, "my_check", strAttr(input.Key, "PK"))
			assert.Equal(t, "primary.json", strAttr(input.Key, "SK"))
			av, err := attributevalue.MarshalMap(item{PK: "my_check", SK: "primary.json", Key: "my_check/primary.json", Data: `{"uuid":"u"}`})
			require.NoError(t, err)
			return &dynamodb.GetItemOutput{Item: av}, nil
		},
	}
	got, err := newTestBackend(mock).Get(context.Background(), "my_check/primary.json")
	require.NoError(t, err)
	assert.Equal(t, `{"uuid":"u"}`, string(got))
}

func TestGet_NotFound(t *testing.T) {
	_, err := newTestBackend(&mockDDB{}).Get(context.Background(), "missing/latest.json")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

func TestListKeys_QueriesPartitionAndPaginates(t *testing.T) {
	calls := 0
	mock := &mockDDB{
		queryFn: func(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			calls++
			assert.Equal(t, "my_check", strAttr(input.ExpressionAttributeValues, ":pk"))
			if calls == 1 {
				assert.Nil(t, input.ExclusiveStartKey)
				return &dynamodb.QueryOutput{
					Items:            []map[string]ddbtypes.AttributeValue{keyItem(t, "my_check/a.json")},
					LastEvaluatedKey: keyItem(t, "my_check/a.json"),
				}, nil
			}
			assert.NotNil(t, input.ExclusiveStartKey)
			return &dynamodb.QueryOutput{
				Items: []map[string]ddbtypes.AttributeValue{keyItem(t, "my_check/b.json")},
			}, nil
		},
	}

	keys, err := newTestBackend(mock).ListKeys(context.Background(), "my_check/")
	require.NoError(t, err)
	assert.Equal(t, []string{"my_check/a.json", "my_check/b.json"}, keys)
	assert.Equal(t, 2, calls)
}

func TestListKeys_SortKeyPrefix(t *testing.T) {
	mock := &mockDDB{
		queryFn: func(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			assert.Contains(t, aws.ToString(input.KeyConditionExpression), "begins_with(SK, :sk)")
			assert.Equal(t, "action_records/", strAttr(input.ExpressionAttributeValues, ":sk"))
			return &dynamodb.QueryOutput{}, nil
		},
	}
	keys, err := newTestBackend(mock).ListKeys(context.Background(), "my_check/action_records/")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NotNil(t, keys)
}

func TestListKeys_NoSlashScans(t *testing.T) {
	mock := &mockDDB{
		scanFn: func(_ context.Context, input *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			assert.Equal(t, "my", strAttr(input.ExpressionAttributeValues, ":prefix"))
			return &dynamodb.ScanOutput{Items: []map[string]ddbtypes.AttributeValue{
				keyItem(t, "my_check/latest.json"),
				keyItem(t, "my_other/latest.json"),
			}}, nil
		},
	}
	keys, err := newTestBackend(mock).ListKeys(context.Background(), "my")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete_BatchesOf25(t *testing.T) {
	var sizes []int
	mock := &mockDDB{
		batchWriteItemFn: func(_ context.Context, input *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			sizes = append(sizes, len(input.RequestItems["foursight-test"]))
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}
	keys := make([]string, 60)
	for i := range keys {
		keys[i] = fmt.Sprintf("my_check/%02d.json", i)
	}

	require.NoError(t, newTestBackend(mock).Delete(context.Background(), keys))
	assert.Equal(t, []int{25, 25, 10}, sizes)
}

func TestDelete_RetriesUnprocessed(t *testing.T) {
	calls := 0
	mock := &mockDDB{
		batchWriteItemFn: func(_ context.Context, input *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			calls++
			if calls == 1 {
				reqs := input.RequestItems["foursight-test"]
				return &dynamodb.BatchWriteItemOutput{
					UnprocessedItems: map[string][]ddbtypes.WriteRequest{"foursight-test": reqs[:1]},
				}, nil
			}
			assert.Len(t, input.RequestItems["foursight-test"], 1)
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	require.NoError(t, newTestBackend(mock).Delete(context.Background(), []string{"a/1.json", "a/2.json"}))
	assert.Equal(t, 2, calls)
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestCountAndSize(t *testing.T) {
	mock := &mockDDB{
		scanFn: func(_ context.Context, input *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			if input.Select == ddbtypes.SelectCount {
				return &dynamodb.ScanOutput{Count: 3}, nil
			}
			return &dynamodb.ScanOutput{Items: []map[string]ddbtypes.AttributeValue{
				keyItem(t, "a/1.json"),
				keyItem(t, "a/2.json"),
			}}, nil
		},
	}
	b := newTestBackend(mock)

	n, err := b.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	size, err := b.SizeBytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), size)
}

// ---------------------------------------------------------------------------
// Error classification / table management
// ---------------------------------------------------------------------------

func TestIsConditionalCheckFailed(t *testing.T) {
	ccfe := &ddbtypes.ConditionalCheckFailedException{Message: aws.String("failed")}
	assert.True(t, isConditionalCheckFailed(ccfe))
	assert.True(t, isConditionalCheckFailed(fmt.Errorf("wrapped: %w", ccfe)))
	assert.False(t, isConditionalCheckFailed(errors.New("some other error")))
}

func TestPing_PropagatesError(t *testing.T) {
	mock := &mockDDB{
		describeTableFn: func(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			return nil, fmt.Errorf("table not found")
		},
	}
	assert.Error(t, newTestBackend(mock).Ping(context.Background()))
}

func TestEnsureTable_AlreadyExists(t *testing.T) {
	mock := &mockDDB{
		createTableFn: func(context.Context, *dynamodb.CreateTableInput, ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			return nil, &ddbtypes.ResourceInUseException{Message: aws.String("already exists")}
		},
	}
	assert.NoError(t, newTestBackend(mock).ensureTable(context.Background()))
}
