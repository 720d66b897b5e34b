package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// GSI names on the orders table.
const (
	BuyerIndex  = "buyer_id-index"
	SellerIndex = "seller_id-index"
)

var (
	// ErrStatusMismatch means the order moved on since it was read.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrOrderNumberTaken means the generated order number is already in use.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrAlreadyExists means an order with the same id exists.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrConditionFailed means one of the caller's extra transaction writes
	// failed its condition.
	ErrConditionFailed = errors.New("transaction condition failed")
)

// Store encapsulates operations on the orders and order_numbers tables.
type Store struct {
	client       aws.DynamoDBAPI
	tableName    string
	numbersTable string
	nowFunc      func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, numbersTable string) *Store {
	return &Store{
		client:       client,
		tableName:    tableName,
		numbersTable: numbersTable,
		nowFunc:      time.Now,
	}
}

type numberRecord struct {
	OrderNumber string    `dynamodbav:"order_number"` // PK
	OrderID     string    `dynamodbav:"order_id"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
}

// Create writes o, its order-number guard and any extra writes in a single
// transaction. o.Version is set to 1.
func (s *Store) Create(ctx context.Context, o *Order, extra ...types.TransactWriteItem) error {
	o.Version = 1
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.nowFunc().UTC()
	}
	o.UpdatedAt = o.CreatedAt

	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	numberMap, err := attributevalue.MarshalMap(numberRecord{OrderNumber: o.OrderNumber, OrderID: o.OrderID, CreatedAt: o.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal order number: %w", err)
	}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: aws.String("attribute_not_exists(order_id)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.numbersTable,
				Item:                numberMap,
				ConditionExpression: aws.String("attribute_not_exists(order_number)"),
			},
		},
	}
	items = append(items, extra...)

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		switch i, ok := failedIndex(err); {
		case !ok:
			return fmt.Errorf("transact write: %w", err)
		case i == 0:
			return ErrAlreadyExists
		case i == 1:
			return ErrOrderNumberTaken
		default:
			return ErrConditionFailed
		}
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(orderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByNumber resolves an order number. Returns (nil, nil) if not found.
func (s *Store) GetByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.numbersTable,
		Key: map[string]types.AttributeValue{
			"order_number": &types.AttributeValueMemberS{Value: orderNumber},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get order number: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec numberRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order number: %w", err)
	}
	return s.Get(ctx, rec.OrderID)
}

// ListByBuyer returns the buyer's orders, newest first. An empty status
// returns every status.
func (s *Store) ListByBuyer(ctx context.Context, buyerID string, status Status) ([]Order, error) {
	return s.list(ctx, BuyerIndex, "buyer_id", buyerID, status)
}

// ListBySeller returns the seller's orders, newest first.
func (s *Store) ListBySeller(ctx context.Context, sellerID string, status Status) ([]Order, error) {
	return s.list(ctx, SellerIndex, "seller_id", sellerID, status)
}

func (s *Store) list(ctx context.Context, index, attr, id string, status Status) ([]Order, error) {
	input := &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                aws.String(index),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: id},
		},
	}
	if status != "" {
		input.FilterExpression = aws.String("#s = :s")
		input.ExpressionAttributeNames["#s"] = "status"
		input.ExpressionAttributeValues[":s"] = &types.AttributeValueMemberS{Value: string(status)}
	}

	items, err := aws.QueryAll(ctx, s.client, input)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	list := []Order{}
	if err := attributevalue.UnmarshalListOfMaps(items, &list); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// SaveTransition persists a transition already applied to o in memory. The
// write only succeeds if the stored order is still at `from` and
// expectedVersion; otherwise ErrStatusMismatch. The new timeline entry is
// appended, never rewritten.
func (s *Store) SaveTransition(ctx context.Context, o *Order, from Status, expectedVersion int64) error {
	if len(o.Timeline) == 0 {
		return errors.New("order has no timeline entry to append")
	}
	entry, err := attributevalue.Marshal(o.Timeline[len(o.Timeline)-1])
	if err != nil {
		return fmt.Errorf("marshal timeline entry: %w", err)
	}

	sets := []string{
		"#s = :to",
		"#ps = :ps",
		"#tl = list_append(#tl, :entry)",
		"updated_at = :ua",
		"#v = #v + :one",
	}
	values := map[string]types.AttributeValue{
		":to":       &types.AttributeValueMemberS{Value: string(o.Status)},
		":ps":       &types.AttributeValueMemberS{Value: string(o.PaymentStatus)},
		":entry":    &types.AttributeValueMemberL{Value: []types.AttributeValue{entry}},
		":ua":       &types.AttributeValueMemberS{Value: o.UpdatedAt.Format(time.RFC3339Nano)},
		":one":      &types.AttributeValueMemberN{Value: "1"},
		":from":     &types.AttributeValueMemberS{Value: string(from)},
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
	}
	if o.TrackingNumber != "" {
		sets = append(sets, "tracking_number = :tn")
		values[":tn"] = &types.AttributeValueMemberS{Value: o.TrackingNumber}
	}
	if attr, ts := milestone(o); ts != nil {
		sets = append(sets, attr+" = :ms")
		values[":ms"] = &types.AttributeValueMemberS{Value: ts.Format(time.RFC3339Nano)}
	}

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 key(o.OrderID),
		UpdateExpression:    aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression: aws.String("#s = :from AND #v = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#s":  "status",
			"#ps": "payment_status",
			"#tl": "timeline",
			"#v":  "version",
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	o.Version = expectedVersion + 1
	return nil
}

// SaveReview stores o.Review together with any extra writes. It fails with
// ErrStatusMismatch if the order is no longer completed, already reviewed or
// at a different version, and ErrConditionFailed if an extra write failed.
func (s *Store) SaveReview(ctx context.Context, o *Order, expectedVersion int64, extra ...types.TransactWriteItem) error {
	if o.Review == nil {
		return errors.New("order has no review to save")
	}
	review, err := attributevalue.Marshal(o.Review)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}

	items := append([]types.TransactWriteItem{{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 key(o.OrderID),
			UpdateExpression:    aws.String("SET #r = :r, updated_at = :ua, #v = #v + :one"),
			ConditionExpression: aws.String("#s = :completed AND attribute_not_exists(#r) AND #v = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#r": "review",
				"#s": "status",
				"#v": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":r":         review,
				":ua":        &types.AttributeValueMemberS{Value: o.UpdatedAt.Format(time.RFC3339Nano)},
				":one":       &types.AttributeValueMemberN{Value: "1"},
				":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
				":expected":  &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
			},
		},
	}}, extra...)

	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		switch i, ok := failedIndex(err); {
		case !ok:
			return fmt.Errorf("transact write: %w", err)
		case i == 0:
			return ErrStatusMismatch
		default:
			return ErrConditionFailed
		}
	}
	o.Version = expectedVersion + 1
	return nil
}

// milestone returns the timestamp attribute set by o's current status.
func milestone(o *Order) (string, *time.Time) {
	switch o.Status {
	case StatusConfirmed:
		return "paid_at", o.PaidAt
	case StatusShipped:
		return "shipped_at", o.ShippedAt
	case StatusDelivered:
		return "delivered_at", o.DeliveredAt
	case StatusCompleted:
		return "completed_at", o.CompletedAt
	case StatusCancelled:
		return "cancelled_at", o.CancelledAt
	case StatusRefunded:
		return "refunded_at", o.RefundedAt
	}
	return "", nil
}

// failedIndex returns the first transaction item whose condition failed.
func failedIndex(err error) (int, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return 0, false
	}
	for i, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
			return i, true
		}
	}
	return 0, false
}

func key(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}
