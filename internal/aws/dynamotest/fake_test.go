package dynamotest

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID      string `dynamodbav:"id"`
	Owner   string `dynamodbav:"owner"`
	Stock   int64  `dynamodbav:"stock"`
	Version int64  `dynamodbav:"version"`
}

func newFake(t *testing.T) *Fake {
	t.Helper()
	f := New()
	f.CreateTable("rows", "id", GSI{Name: "owner-index", PartitionKey: "owner"})
	require.NoError(t, f.Seed("rows", row{ID: "a", Owner: "o1", Stock: 5, Version: 1}))
	require.NoError(t, f.Seed("rows", row{ID: "b", Owner: "o1", Stock: 0, Version: 1}))
	require.NoError(t, f.Seed("rows", row{ID: "c", Owner: "o2", Stock: 2, Version: 1}))
	return f
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func num(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestPutItem_AttributeNotExists(t *testing.T) {
	f := newFake(t)
	_, err := f.PutItem(context.Background(), &dyn.PutItemInput{
		TableName:           sdkaws.String("rows"),
		Item:                key("a"),
		ConditionExpression: sdkaws.String("attribute_not_exists(id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	require.True(t, errors.As(err, &ccf))
}

func TestUpdateItem_ArithmeticAndVersionGuard(t *testing.T) {
	f := newFake(t)
	in := &dyn.UpdateItemInput{
		TableName:                 sdkaws.String("rows"),
		Key:                       key("a"),
		UpdateExpression:          sdkaws.String("SET stock = stock - :q, version = version + :one"),
		ConditionExpression:       sdkaws.String("version = :v AND stock >= :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":q": num("3"), ":one": num("1"), ":v": num("1")},
		ReturnValues:              types.ReturnValueAllNew,
	}
	out, err := f.UpdateItem(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "2", out.Attributes["stock"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "2", out.Attributes["version"].(*types.AttributeValueMemberN).Value)

	_, err = f.UpdateItem(context.Background(), in)
	var ccf *types.ConditionalCheckFailedException
	assert.True(t, errors.As(err, &ccf), "stale version must fail")
}

func TestUpdateItem_ListAppendOnMissingAttribute(t *testing.T) {
	f := newFake(t)
	_, err := f.UpdateItem(context.Background(), &dyn.UpdateItemInput{
		TableName:        sdkaws.String("rows"),
		Key:              key("a"),
		UpdateExpression: sdkaws.String("SET #log = list_append(if_not_exists(#log, :empty), :entry)"),
		ExpressionAttributeNames: map[string]string{
			"#log": "log",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{},
			":entry": &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: "x"}}},
		},
	})
	require.NoError(t, err)
	got := f.Item("rows", "a")["log"].(*types.AttributeValueMemberL)
	assert.Len(t, got.Value, 1)
}

func TestQuery_IndexWithFilter(t *testing.T) {
	f := newFake(t)
	out, err := f.Query(context.Background(), &dyn.QueryInput{
		TableName:                 sdkaws.String("rows"),
		IndexName:                 sdkaws.String("owner-index"),
		KeyConditionExpression:    sdkaws.String("#o = :o"),
		FilterExpression:          sdkaws.String("stock > :zero"),
		ExpressionAttributeNames:  map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":o": &types.AttributeValueMemberS{Value: "o1"}, ":zero": num("0")},
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "a", out.Items[0]["id"].(*types.AttributeValueMemberS).Value)
}

func TestQuery_Pages(t *testing.T) {
	f := newFake(t)
	require.NoError(t, f.Seed("rows", row{ID: "d", Owner: "o1", Stock: 1, Version: 1}))
	f.SetPageSize(2)
	in := &dyn.QueryInput{
		TableName:                 sdkaws.String("rows"),
		IndexName:                 sdkaws.String("owner-index"),
		KeyConditionExpression:    sdkaws.String("#o = :o"),
		ExpressionAttributeNames:  map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":o": &types.AttributeValueMemberS{Value: "o1"}},
	}

	first, err := f.Query(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "b", first.LastEvaluatedKey["id"].(*types.AttributeValueMemberS).Value)

	in.ExclusiveStartKey = first.LastEvaluatedKey
	second, err := f.Query(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "d", second.Items[0]["id"].(*types.AttributeValueMemberS).Value)
	assert.Empty(t, second.LastEvaluatedKey)

	in.ExclusiveStartKey = nil
	in.Limit = sdkaws.Int32(1)
	limited, err := f.Query(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, limited.Items, 1)
	assert.NotEmpty(t, limited.LastEvaluatedKey)
}

func TestTransactWriteItems_AllOrNothing(t *testing.T) {
	f := newFake(t)
	_, err := f.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: sdkaws.String("rows"), Item: map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: "d"},
			}}},
			{Delete: &types.Delete{TableName: sdkaws.String("rows"), Key: key("c")}},
			{ConditionCheck: &types.ConditionCheck{
				TableName:                 sdkaws.String("rows"),
				Key:                       key("b"),
				ConditionExpression:       sdkaws.String("stock > :zero"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":zero": num("0")},
			}},
		},
	})
	var tce *types.TransactionCanceledException
	require.True(t, errors.As(err, &tce))
	require.Len(t, tce.CancellationReasons, 3)
	assert.Equal(t, "None", *tce.CancellationReasons[0].Code)
	assert.Equal(t, "ConditionalCheckFailed", *tce.CancellationReasons[2].Code)
	assert.Nil(t, f.Item("rows", "d"))
	assert.NotNil(t, f.Item("rows", "c"))
}

func TestHook_InjectsFailure(t *testing.T) {
	f := newFake(t)
	boom := errors.New("throttled")
	f.SetHook(func(op, table string) error {
		if op == "GetItem" {
			return boom
		}
		return nil
	})
	_, err := f.GetItem(context.Background(), &dyn.GetItemInput{TableName: sdkaws.String("rows"), Key: key("a")})
	assert.ErrorIs(t, err, boom)
}
