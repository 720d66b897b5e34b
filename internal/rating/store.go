package rating

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// SellerIndex is the reviews GSI keyed by seller_id.
const SellerIndex = "seller_id-index"

// ErrStale means a newer aggregate, built from more reviews, is already stored.
var ErrStale = errors.New("seller rating is newer than this recompute")

// Store reads reviews and reads/writes seller aggregates.
type Store struct {
	client       aws.DynamoDBAPI
	reviewsTable string
	sellersTable string
}

// NewStore creates a rating Store.
func NewStore(client aws.DynamoDBAPI, reviewsTable, sellersTable string) *Store {
	return &Store{
		client:       client,
		reviewsTable: reviewsTable,
		sellersTable: sellersTable,
	}
}

// RecordWrite builds the transactional put for r. It fails the transaction
// if the order already has a review record.
func (s *Store) RecordWrite(r Review) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal review: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.reviewsTable,
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(order_id)"),
		},
	}, nil
}

// ListBySeller returns every review for sellerID, newest first.
func (s *Store) ListBySeller(ctx context.Context, sellerID string) ([]Review, error) {
	items, err := aws.QueryAll(ctx, s.client, &dyn.QueryInput{
		TableName:                &s.reviewsTable,
		IndexName:                aws.String(SellerIndex),
		KeyConditionExpression:   aws.String("#sid = :sid"),
		ExpressionAttributeNames: map[string]string{"#sid": "seller_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sellerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	list := []Review{}
	if err := attributevalue.UnmarshalListOfMaps(items, &list); err != nil {
		return nil, fmt.Errorf("unmarshal reviews: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// GetSellerRating returns the stored aggregate, or a zero one if the seller
// has never been rated.
func (s *Store) GetSellerRating(ctx context.Context, sellerID string) (*SellerRating, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.sellersTable,
		Key: map[string]types.AttributeValue{
			"seller_id": &types.AttributeValueMemberS{Value: sellerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get seller rating: %w", err)
	}
	if len(out.Item) == 0 {
		return &SellerRating{SellerID: sellerID}, nil
	}
	var r SellerRating
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal seller rating: %w", err)
	}
	return &r, nil
}

// PutSellerRating stores r unless the stored aggregate already covers more
// reviews, in which case it returns ErrStale.
func (s *Store) PutSellerRating(ctx context.Context, r SellerRating) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal seller rating: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.sellersTable,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(seller_id) OR review_count <= :n"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberN{Value: strconv.Itoa(r.ReviewCount)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStale
		}
		return fmt.Errorf("put seller rating: %w", err)
	}
	return nil
}
