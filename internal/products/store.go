package products

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// SellerIndex is the GSI keyed by seller_id.
const SellerIndex = "seller_id-index"

// ErrVersionConflict means another writer saved the product first.
var ErrVersionConflict = errors.New("product version conflict")

// ErrAlreadyExists is returned by Create for a duplicate product_id.
var ErrAlreadyExists = errors.New("product already exists")

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a products Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches a product. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Create inserts a new product at version 1.
func (s *Store) Create(ctx context.Context, p *Product) error {
	now := s.nowFunc().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(product_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// Save writes p if the stored version still equals p.Version, then bumps
// p.Version. Returns ErrVersionConflict when another writer got there first.
func (s *Store) Save(ctx context.Context, p *Product) error {
	expected := p.Version
	next := *p
	next.Version = expected + 1
	next.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("save product %s: %w", p.ProductID, err)
	}
	*p = next
	return nil
}

// Delete removes the product if the stored version still equals version.
// Orders keep their own copies of name and price, so history is unaffected.
func (s *Store) Delete(ctx context.Context, productID string, version int64) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                &s.tableName,
		Key:                      key(productID),
		ConditionExpression:      aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("delete product %s: %w", productID, err)
	}
	return nil
}

// ListBySeller returns the seller's products, including drafts and deleted
// ones, ordered by creation time.
func (s *Store) ListBySeller(ctx context.Context, sellerID string) ([]Product, error) {
	items, err := aws.QueryAll(ctx, s.client, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                aws.String(SellerIndex),
		KeyConditionExpression:   aws.String("#sid = :sid"),
		ExpressionAttributeNames: map[string]string{"#sid": "seller_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sellerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query products by seller: %w", err)
	}
	var list []Product
	if err := attributevalue.UnmarshalListOfMaps(items, &list); err != nil {
		return nil, fmt.Errorf("unmarshal products: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func key(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}
