package dynamock

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	tempest "github.com/cashapp/tempest-sub001"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShape() tempest.Shape {
	return tempest.Shape{
		HashKey:        "pk",
		RangeKey:       "sk",
		Attributes:     []string{"owner", "title", "score"},
		AttributeTypes: map[string]types.ScalarAttributeType{"score": types.ScalarAttributeTypeN},
		Indexes: []tempest.IndexShape{
			{Name: "by_owner", Kind: tempest.GlobalIndex, HashKey: "owner", RangeKey: "pk"},
			{Name: "by_title", Kind: tempest.LocalIndex, RangeKey: "title"},
		},
	}
}

func newTestMemory(t *testing.T) *MemoryClient {
	t.Helper()
	mem := NewMemoryClient()
	require.NoError(t, mem.CreateTable("items", testShape()))
	return mem
}

func put(t *testing.T, mem *MemoryClient, item tempest.Item) {
	t.Helper()
	_, err := mem.PutItem(context.Background(), &dynamodb.PutItemInput{TableName: aws.String("items"), Item: item})
	require.NoError(t, err)
}

func TestMemoryClient_CreateTable(t *testing.T) {
	mem := newTestMemory(t)

	var inUse *types.ResourceInUseException
	assert.ErrorAs(t, mem.CreateTable("items", testShape()), &inUse)
	assert.Error(t, mem.CreateTable("broken", tempest.Shape{}))
}

func TestMemoryClient_GetItem(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	put(t, mem, Item("pk", "A", "sk", "INFO_", "title", "Alpha", "owner", "ann"))

	t.Run("found", func(t *testing.T) {
		out, err := mem.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String("items"),
			Key:       Item("pk", "A", "sk", "INFO_"),
		})
		require.NoError(t, err)
		assert.Equal(t, Item("pk", "A", "sk", "INFO_", "title", "Alpha", "owner", "ann"), out.Item)
	})

	t.Run("projection", func(t *testing.T) {
		proj := expression.NamesList(expression.Name("pk"), expression.Name("title"))
		expr, err := expression.NewBuilder().WithProjection(proj).Build()
		require.NoError(t, err)

		out, err := mem.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:                aws.String("items"),
			Key:                      Item("pk", "A", "sk", "INFO_"),
			ProjectionExpression:     expr.Projection(),
			ExpressionAttributeNames: expr.Names(),
		})
		require.NoError(t, err)
		assert.Equal(t, Item("pk", "A", "title", "Alpha"), out.Item)
	})

	t.Run("missing", func(t *testing.T) {
		out, err := mem.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String("items"),
			Key:       Item("pk", "B", "sk", "INFO_"),
		})
		require.NoError(t, err)
		assert.Nil(t, out.Item)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := mem.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String("nope"),
			Key:       Item("pk", "A", "sk", "INFO_"),
		})
		var notFound *types.ResourceNotFoundException
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("incomplete key", func(t *testing.T) {
		_, err := mem.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String("items"),
			Key:       Item("pk", "A"),
		})
		assert.ErrorContains(t, err, "missing key attribute sk")
	})
}

func TestMemoryClient_PutItem_Condition(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)

	cond := expression.AttributeNotExists(expression.Name("pk"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	require.NoError(t, err)
	input := &dynamodb.PutItemInput{
		TableName:                 aws.String("items"),
		Item:                      Item("pk", "A", "sk", "INFO_"),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	_, err = mem.PutItem(ctx, input)
	require.NoError(t, err)

	_, err = mem.PutItem(ctx, input)
	var ccf *types.ConditionalCheckFailedException
	assert.ErrorAs(t, err, &ccf)
}

func TestMemoryClient_DeleteItem(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	put(t, mem, Item("pk", "A", "sk", "INFO_", "title", "Alpha"))

	cond := expression.Name("title").Equal(expression.Value("Beta"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	require.NoError(t, err)

	_, err = mem.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String("items"),
		Key:                       Item("pk", "A", "sk", "INFO_"),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var ccf *types.ConditionalCheckFailedException
	require.ErrorAs(t, err, &ccf)

	out, err := mem.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String("items"),
		Key:          Item("pk", "A", "sk", "INFO_"),
		ReturnValues: types.ReturnValueAllOld,
	})
	require.NoError(t, err)
	assert.Equal(t, Item("pk", "A", "sk", "INFO_", "title", "Alpha"), out.Attributes)
	assert.Empty(t, mem.Rows("items"))
}

func TestMemoryClient_Query(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	for i := 1; i <= 5; i++ {
		put(t, mem, Item("pk", "A", "sk", fmt.Sprintf("TRACK_%d", i), "title", fmt.Sprintf("T_%d", 6-i)))
	}
	put(t, mem, Item("pk", "A", "sk", "INFO_"))
	put(t, mem, Item("pk", "B", "sk", "TRACK_1"))

	query := func(t *testing.T, input *dynamodb.QueryInput, cond expression.KeyConditionBuilder) *dynamodb.QueryOutput {
		t.Helper()
		expr, err := expression.NewBuilder().WithKeyCondition(cond).Build()
		require.NoError(t, err)
		input.TableName = aws.String("items")
		input.KeyConditionExpression = expr.KeyCondition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
		out, err := mem.Query(ctx, input)
		require.NoError(t, err)
		return out
	}
	sortKeys := func(items []tempest.Item) []string {
		var keys []string
		for _, item := range items {
			keys = append(keys, item["sk"].(*types.AttributeValueMemberS).Value)
		}
		return keys
	}

	t.Run("begins with", func(t *testing.T) {
		cond := expression.Key("pk").Equal(expression.Value("A")).
			And(expression.Key("sk").BeginsWith("TRACK_"))
		out := query(t, &dynamodb.QueryInput{}, cond)
		assert.Equal(t, []string{"TRACK_1", "TRACK_2", "TRACK_3", "TRACK_4", "TRACK_5"}, sortKeys(out.Items))
		assert.Nil(t, out.LastEvaluatedKey)
	})

	t.Run("between descending", func(t *testing.T) {
		cond := expression.Key("pk").Equal(expression.Value("A")).
			And(expression.Key("sk").Between(expression.Value("TRACK_2"), expression.Value("TRACK_4")))
		out := query(t, &dynamodb.QueryInput{ScanIndexForward: aws.Bool(false)}, cond)
		assert.Equal(t, []string{"TRACK_4", "TRACK_3", "TRACK_2"}, sortKeys(out.Items))
	})

	t.Run("pages", func(t *testing.T) {
		cond := expression.Key("pk").Equal(expression.Value("A")).
			And(expression.Key("sk").BeginsWith("TRACK_"))
		first := query(t, &dynamodb.QueryInput{Limit: aws.Int32(3)}, cond)
		assert.Equal(t, []string{"TRACK_1", "TRACK_2", "TRACK_3"}, sortKeys(first.Items))
		require.NotNil(t, first.LastEvaluatedKey)

		second := query(t, &dynamodb.QueryInput{Limit: aws.Int32(3), ExclusiveStartKey: first.LastEvaluatedKey}, cond)
		assert.Equal(t, []string{"TRACK_4", "TRACK_5"}, sortKeys(second.Items))
		assert.Nil(t, second.LastEvaluatedKey)
	})

	t.Run("local index order", func(t *testing.T) {
		cond := expression.Key("pk").Equal(expression.Value("A"))
		out := query(t, &dynamodb.QueryInput{IndexName: aws.String("by_title")}, cond)
		// INFO_ has no title, so the sparse index skips it.
		assert.Equal(t, []string{"TRACK_5", "TRACK_4", "TRACK_3", "TRACK_2", "TRACK_1"}, sortKeys(out.Items))
	})
}

func TestMemoryClient_Query_Filter(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	put(t, mem, Item("pk", "A", "sk", "INFO_"))
	put(t, mem, Item("pk", "A", "sk", "TRACK_1"))
	put(t, mem, Item("pk", "A", "sk", "TRACK_2"))

	keyCond := expression.Key("pk").Equal(expression.Value("A"))
	filter := expression.Name("sk").BeginsWith("TRACK_")
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	require.NoError(t, err)

	out, err := mem.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String("items"),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(2),
	})
	require.NoError(t, err)
	// The limit counts evaluated rows, so INFO_ uses up one slot.
	assert.Len(t, out.Items, 1)
	assert.EqualValues(t, 2, out.ScannedCount)
	assert.NotNil(t, out.LastEvaluatedKey)
}

func TestMemoryClient_Scan_Segments(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	for i := 0; i < 20; i++ {
		put(t, mem, Item("pk", fmt.Sprintf("P%02d", i), "sk", "INFO_"))
	}

	seen := make(map[string]int)
	for segment := int32(0); segment < 3; segment++ {
		out, err := mem.Scan(ctx, &dynamodb.ScanInput{
			TableName:     aws.String("items"),
			Segment:       aws.Int32(segment),
			TotalSegments: aws.Int32(3),
		})
		require.NoError(t, err)
		for _, item := range out.Items {
			seen[item["pk"].(*types.AttributeValueMemberS).Value]++
		}
	}
	assert.Len(t, seen, 20)
	for pk, n := range seen {
		assert.Equal(t, 1, n, pk)
	}

	_, err := mem.Scan(ctx, &dynamodb.ScanInput{
		TableName:     aws.String("items"),
		Segment:       aws.Int32(3),
		TotalSegments: aws.Int32(3),
	})
	assert.ErrorContains(t, err, "invalid segment")
}

func TestMemoryClient_Batch(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	mem.BatchLimit = 2

	out, err := mem.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			"items": {
				{PutRequest: &types.PutRequest{Item: Item("pk", "A", "sk", "1")}},
				{PutRequest: &types.PutRequest{Item: Item("pk", "A", "sk", "2")}},
				{PutRequest: &types.PutRequest{Item: Item("pk", "A", "sk", "3")}},
			},
		},
	})
	require.NoError(t, err)
	assert.Len(t, out.UnprocessedItems["items"], 1)
	assert.Len(t, mem.Rows("items"), 2)

	got, err := mem.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			"items": {Keys: []map[string]types.AttributeValue{
				Item("pk", "A", "sk", "1"),
				Item("pk", "A", "sk", "9"),
				Item("pk", "A", "sk", "2"),
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]types.AttributeValue{Item("pk", "A", "sk", "1")}, got.Responses["items"])
	assert.Equal(t, []map[string]types.AttributeValue{Item("pk", "A", "sk", "2")}, got.UnprocessedKeys["items"].Keys)
	assert.Equal(t, 1, mem.Calls("BatchGetItem"))
}

func TestMemoryClient_TransactWriteItems(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	put(t, mem, Item("pk", "A", "sk", "INFO_"))

	exists := func(t *testing.T) expression.Expression {
		expr, err := expression.NewBuilder().WithCondition(expression.AttributeExists(expression.Name("pk"))).Build()
		require.NoError(t, err)
		return expr
	}(t)

	t.Run("cancelled", func(t *testing.T) {
		_, err := mem.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Put: &types.Put{TableName: aws.String("items"), Item: Item("pk", "A", "sk", "TRACK_1")}},
				{ConditionCheck: &types.ConditionCheck{
					TableName:                 aws.String("items"),
					Key:                       Item("pk", "B", "sk", "INFO_"),
					ConditionExpression:       exists.Condition(),
					ExpressionAttributeNames:  exists.Names(),
					ExpressionAttributeValues: exists.Values(),
				}},
			},
		})
		var tce *types.TransactionCanceledException
		require.True(t, errors.As(err, &tce))
		require.Len(t, tce.CancellationReasons, 2)
		assert.Equal(t, "None", aws.ToString(tce.CancellationReasons[0].Code))
		assert.Equal(t, "ConditionalCheckFailed", aws.ToString(tce.CancellationReasons[1].Code))
		assert.Len(t, mem.Rows("items"), 1, "nothing is written when a transaction is cancelled")
		assert.Empty(t, mem.Transactions())
	})

	t.Run("committed", func(t *testing.T) {
		_, err := mem.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Put: &types.Put{TableName: aws.String("items"), Item: Item("pk", "A", "sk", "TRACK_1")}},
				{Delete: &types.Delete{TableName: aws.String("items"), Key: Item("pk", "A", "sk", "INFO_")}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []tempest.Item{Item("pk", "A", "sk", "TRACK_1")}, mem.Rows("items"))
		assert.Len(t, mem.Transactions(), 1)
	})

	t.Run("duplicate target", func(t *testing.T) {
		_, err := mem.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Put: &types.Put{TableName: aws.String("items"), Item: Item("pk", "A", "sk", "TRACK_2")}},
				{Delete: &types.Delete{TableName: aws.String("items"), Key: Item("pk", "A", "sk", "TRACK_2")}},
			},
		})
		assert.ErrorContains(t, err, "multiple operations on one item")
	})
}

func TestMemoryClient_TransactGetItems(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemory(t)
	put(t, mem, Item("pk", "A", "sk", "INFO_"))

	out, err := mem.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{
		TransactItems: []types.TransactGetItem{
			{Get: &types.Get{TableName: aws.String("items"), Key: Item("pk", "B", "sk", "INFO_")}},
			{Get: &types.Get{TableName: aws.String("items"), Key: Item("pk", "A", "sk", "INFO_")}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Responses, 2)
	assert.Nil(t, out.Responses[0].Item)
	assert.Equal(t, Item("pk", "A", "sk", "INFO_"), out.Responses[1].Item)
}

func TestMemoryClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mem := newTestMemory(t)
	_, err := mem.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("items")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mem.Calls("GetItem"))
}
