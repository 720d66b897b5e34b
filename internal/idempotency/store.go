package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

// ErrNotClaimed means the record is missing or no longer IN_PROGRESS, so the
// caller does not own it.
var ErrNotClaimed = errors.New("idempotency key not claimed")

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow is how long a key is remembered (e.g. 48*time.Hour).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Acquire claims key as IN_PROGRESS. A key can be claimed when it is new,
// when the previous attempt FAILED, or when its TTL has passed.
//
// Returns (nil, true, nil) when the caller now owns the key.
// Returns (existing, false, nil) when another attempt holds or finished it.
func (s *Store) Acquire(ctx context.Context, key, fingerprint string) (*Record, bool, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		Fingerprint:    fingerprint,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	prev, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if prev != nil {
		if prev.Status != StatusFailed && !prev.Expired(now) {
			return prev, false, nil
		}
		rec.Attempts = prev.Attempts + 1
		rec.CreatedAt = prev.CreatedAt
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(idempotency_key) OR #s = :failed OR expires_at <= :now"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			// lost the race to a concurrent attempt
			cur, getErr := s.Get(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			return cur, false, nil
		}
		return nil, false, fmt.Errorf("put item: %w", err)
	}
	return nil, true, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone moves an IN_PROGRESS record to DONE and stores the resource id
// plus a small response to replay for duplicates.
func (s *Store) MarkDone(ctx context.Context, key, resourceID, responseBody string, responseStatus int) error {
	now := s.nowFunc().UTC()
	return s.finish(ctx, key, &dyn.UpdateItemInput{
		UpdateExpression: aws.String("SET #s = :done, resource_id = :rid, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":rid":  &types.AttributeValueMemberS{Value: resourceID},
			":rb":   &types.AttributeValueMemberS{Value: responseBody},
			":rs":   &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
}

// MarkFailed moves an IN_PROGRESS record to FAILED with a note, which lets a
// later attempt claim the key again.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	now := s.nowFunc().UTC()
	return s.finish(ctx, key, &dyn.UpdateItemInput{
		UpdateExpression: aws.String("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
}

func (s *Store) finish(ctx context.Context, key string, in *dyn.UpdateItemInput) error {
	in.TableName = &s.tableName
	in.Key = map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
	in.ConditionExpression = aws.String("#s = :inprogress")
	in.ExpressionAttributeNames = map[string]string{"#s": "status"}
	in.ExpressionAttributeValues[":inprogress"] = &types.AttributeValueMemberS{Value: StatusInProgress}

	if _, err := s.client.UpdateItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotClaimed
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}
