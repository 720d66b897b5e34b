package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// ErrVersionConflict means the cart changed since it was read.
var ErrVersionConflict = errors.New("cart version conflict")

// Store encapsulates operations on the carts table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a carts Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get returns the buyer's cart, or a new empty one at version 0.
func (s *Store) Get(ctx context.Context, userID string) (*Cart, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get cart %s: %w", userID, err)
	}
	if len(out.Item) == 0 {
		return &Cart{UserID: userID, Items: []Item{}}, nil
	}
	var c Cart
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	return &c, nil
}

// Save writes c guarded by its version and bumps c.Version on success.
func (s *Store) Save(ctx context.Context, c *Cart) error {
	next := *c
	next.Version = c.Version + 1
	next.UpdatedAt = s.nowFunc().UTC()
	if next.Items == nil {
		next.Items = []Item{}
	}

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if c.Version == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(user_id)")
	} else {
		input.ConditionExpression = aws.String("#v = :expected")
		input.ExpressionAttributeNames = map[string]string{"#v": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.Version, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("save cart %s: %w", c.UserID, err)
	}
	*c = next
	return nil
}

// ClearWrite builds a transactional update that empties c only if nobody
// changed it since it was read. Order creation commits it together with the
// order so a cart is never checked out twice.
func (s *Store) ClearWrite(c *Cart) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 key(c.UserID),
			UpdateExpression:    aws.String("SET #items = :empty, #v = #v + :one, updated_at = :now"),
			ConditionExpression: aws.String("#v = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#items": "items",
				"#v":     "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":empty":    &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
				":one":      &types.AttributeValueMemberN{Value: "1"},
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.Version, 10)},
				":now":      &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
			},
		},
	}
}

func key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}
