// Package dynamotest provides an in-memory DynamoDB used by package tests.
//
// It understands the expression subset the stores issue: condition clauses
// joined by AND/OR (attribute_exists, attribute_not_exists and the six
// comparison operators), SET/REMOVE updates with list_append, if_not_exists
// and +/- arithmetic, partition-key queries on the table or a GSI, and
// all-or-nothing transactions that report per-item cancellation reasons.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	internalaws "github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

var _ internalaws.DynamoDBAPI = (*Fake)(nil)

// GSI declares a global secondary index by its partition attribute.
type GSI struct {
	Name         string
	PartitionKey string
}

type table struct {
	partitionKey string
	indexes      map[string]string
	items        map[string]map[string]types.AttributeValue
}

// Fake is a goroutine-safe DynamoDB stand-in.
type Fake struct {
	mu       sync.Mutex
	tables   map[string]*table
	hook     func(op, table string) error
	pageSize int
}

// New returns an empty Fake with no tables.
func New() *Fake {
	return &Fake{tables: map[string]*table{}}
}

// CreateTable registers a table keyed by a single string or number attribute.
func (f *Fake) CreateTable(name, partitionKey string, gsis ...GSI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &table{
		partitionKey: partitionKey,
		indexes:      map[string]string{},
		items:        map[string]map[string]types.AttributeValue{},
	}
	for _, g := range gsis {
		t.indexes[g.Name] = g.PartitionKey
	}
	f.tables[name] = t
}

// SetHook installs fn to run before every operation, once per touched table.
// A non-nil error aborts the operation and is returned unchanged. fn must not
// call back into the Fake.
func (f *Fake) SetHook(fn func(op, table string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

// SetPageSize caps how many items a Query evaluates before it stops and
// returns LastEvaluatedKey. Zero means unlimited.
func (f *Fake) SetPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
}

// Seed marshals v and stores it unconditionally.
func (f *Fake) Seed(tableName string, v any) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("dynamotest: marshal seed: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return fmt.Errorf("dynamotest: unknown table %s", tableName)
	}
	k, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.items[k] = clone(item)
	return nil
}

// Item returns a copy of the item whose string partition key equals key, or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	return clone(t.items["S:"+key])
}

// Len reports how many items tableName holds.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

func (f *Fake) lookup(op string, name *string) (*table, error) {
	if name == nil {
		return nil, errors.New("dynamotest: table name is required")
	}
	if f.hook != nil {
		if err := f.hook(op, *name); err != nil {
			return nil, err
		}
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + *name)}
	}
	return t, nil
}

func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	switch v := item[t.partitionKey].(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value, nil
	case *types.AttributeValueMemberN:
		return "N:" + v.Value, nil
	default:
		return "", fmt.Errorf("dynamotest: missing partition key %s", t.partitionKey)
	}
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup("PutItem", in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup("GetItem", in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	return &dyn.GetItemOutput{Item: clone(t.items[k])}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup("UpdateItem", in.TableName)
	if err != nil {
		return nil, err
	}
	k, next, err := t.prepareUpdate(in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[k] = next
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = clone(next)
	}
	return out, nil
}

func (t *table) prepareUpdate(key map[string]types.AttributeValue, update, cond *string, names map[string]string, values map[string]types.AttributeValue) (string, map[string]types.AttributeValue, error) {
	k, err := t.keyOf(key)
	if err != nil {
		return "", nil, err
	}
	cur := t.items[k]
	ok, err := evalCondition(cond, names, values, cur)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, conditionFailed()
	}
	next := clone(cur)
	if next == nil {
		next = clone(key)
	}
	if update != nil {
		if err := applyUpdate(*update, names, values, next); err != nil {
			return "", nil, err
		}
	}
	return k, next, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup("DeleteItem", in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(t.items, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup("Query", in.TableName)
	if err != nil {
		return nil, err
	}
	attr := t.partitionKey
	if in.IndexName != nil {
		a, ok := t.indexes[*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %s", *in.IndexName)
		}
		attr = a
	}
	if in.KeyConditionExpression == nil {
		return nil, errors.New("dynamotest: key condition is required")
	}
	lhs, rhs, ok := splitComparison(*in.KeyConditionExpression, "=")
	if !ok || resolve(lhs, in.ExpressionAttributeNames) != attr {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", *in.KeyConditionExpression)
	}
	want, ok := in.ExpressionAttributeValues[rhs]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := ""
	if len(in.ExclusiveStartKey) > 0 {
		if start, err = t.keyOf(in.ExclusiveStartKey); err != nil {
			return nil, err
		}
	}
	limit := f.pageSize
	if in.Limit != nil && (limit == 0 || int(*in.Limit) < limit) {
		limit = int(*in.Limit)
	}

	var (
		items     []map[string]types.AttributeValue
		evaluated int
		prev      map[string]types.AttributeValue
		last      map[string]types.AttributeValue
	)
	for _, k := range keys {
		if start != "" && k <= start {
			continue
		}
		item := t.items[k]
		got, present := item[attr]
		if !present {
			continue
		}
		if eq, _ := compare(got, want, "="); !eq {
			continue
		}
		if limit > 0 && evaluated == limit {
			last = map[string]types.AttributeValue{t.partitionKey: prev[t.partitionKey]}
			break
		}
		evaluated++
		prev = item
		ok, err := evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, clone(item))
		}
	}
	return &dyn.QueryOutput{
		Items:            items,
		Count:            int32(len(items)),
		ScannedCount:     int32(evaluated),
		LastEvaluatedKey: last,
	}, nil
}

// TransactWriteItems evaluates every condition against the state before the
// call and applies nothing unless all of them pass.
func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	var apply []func()
	cancelled := false

	for i, it := range in.TransactItems {
		reasons[i].Code = sdkaws.String("None")
		var (
			t    *table
			k    string
			next map[string]types.AttributeValue
			del  bool
			err  error

			checkOnly bool
		)
		switch {
		case it.Put != nil:
			if t, err = f.lookup("TransactWriteItems", it.Put.TableName); err != nil {
				return nil, err
			}
			if k, err = t.keyOf(it.Put.Item); err != nil {
				return nil, err
			}
			var ok bool
			ok, err = evalCondition(it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues, t.items[k])
			if err == nil && !ok {
				err = conditionFailed()
			}
			next = clone(it.Put.Item)
		case it.Update != nil:
			if t, err = f.lookup("TransactWriteItems", it.Update.TableName); err != nil {
				return nil, err
			}
			k, next, err = t.prepareUpdate(it.Update.Key, it.Update.UpdateExpression, it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues)
		case it.Delete != nil:
			if t, err = f.lookup("TransactWriteItems", it.Delete.TableName); err != nil {
				return nil, err
			}
			if k, err = t.keyOf(it.Delete.Key); err != nil {
				return nil, err
			}
			var ok bool
			ok, err = evalCondition(it.Delete.ConditionExpression, it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues, t.items[k])
			if err == nil && !ok {
				err = conditionFailed()
			}
			del = true
		case it.ConditionCheck != nil:
			if t, err = f.lookup("TransactWriteItems", it.ConditionCheck.TableName); err != nil {
				return nil, err
			}
			if k, err = t.keyOf(it.ConditionCheck.Key); err != nil {
				return nil, err
			}
			var ok bool
			ok, err = evalCondition(it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues, t.items[k])
			if err == nil && !ok {
				err = conditionFailed()
			}
			checkOnly = true
		default:
			return nil, fmt.Errorf("dynamotest: empty transact item %d", i)
		}

		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			reasons[i].Code = sdkaws.String("ConditionalCheckFailed")
			cancelled = true
			continue
		}
		if err != nil {
			return nil, err
		}
		if checkOnly {
			continue
		}

		tt, kk, nn, dd := t, k, next, del
		apply = append(apply, func() {
			if dd {
				delete(tt.items, kk)
				return
			}
			tt.items[kk] = nn
		})
	}

	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, fn := range apply {
		fn()
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
