// Package fake provides in-memory stand-ins for the AWS seams in package aws.
// They keep state in maps, record every call and can be told to fail the next
// call of a given operation.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// failures holds one pending error per operation name.
type failures struct {
	mu      sync.Mutex
	pending map[string]error
}

func (f *failures) set(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		f.pending = make(map[string]error)
	}
	f.pending[op] = err
}

// take returns and clears the pending error for op.
func (f *failures) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.pending[op]
	delete(f.pending, op)
	return err
}

// DynamoDBClient is a single-hash-key table store implementing aws.DynamoDBClient.
type DynamoDBClient struct {
	hashKey string

	mu     sync.RWMutex
	tables map[string]map[string]map[string]types.AttributeValue
	calls  []string

	fail failures
}

// NewDynamoDBClient creates a fake whose tables are keyed by the string
// attribute hashKey.
func NewDynamoDBClient(hashKey string) *DynamoDBClient {
	return &DynamoDBClient{
		hashKey: hashKey,
		tables:  make(map[string]map[string]map[string]types.AttributeValue),
	}
}

// FailNext makes the next call of op ("GetItem", "PutItem", "DeleteItem") return err.
func (m *DynamoDBClient) FailNext(op string, err error) {
	m.fail.set(op, err)
}

func (m *DynamoDBClient) record(op string) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.mu.Unlock()
}

func (m *DynamoDBClient) key(item map[string]types.AttributeValue) (string, error) {
	v, ok := item[m.hashKey].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return "", &smithy.GenericAPIError{
			Code:    "ValidationException",
			Message: fmt.Sprintf("missing key attribute %s", m.hashKey),
			Fault:   smithy.FaultClient,
		}
	}
	return v.Value, nil
}

// GetItem returns the stored item, or an output with a nil Item.
func (m *DynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.record("GetItem")
	if err := m.fail.take("GetItem"); err != nil {
		return nil, err
	}
	k, err := m.key(params.Key)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.tables[aws.ToString(params.TableName)][k]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

// PutItem stores the item. A condition containing attribute_not_exists fails
// with ConditionalCheckFailedException when the item is already present.
func (m *DynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.record("PutItem")
	if err := m.fail.take("PutItem"); err != nil {
		return nil, err
	}
	k, err := m.key(params.Item)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	table := aws.ToString(params.TableName)
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = make(map[string]map[string]types.AttributeValue)
	}
	if cond := aws.ToString(params.ConditionExpression); strings.Contains(cond, "attribute_not_exists") {
		if _, exists := m.tables[table][k]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	m.tables[table][k] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem removes the item if present.
func (m *DynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.record("DeleteItem")
	if err := m.fail.take("DeleteItem"); err != nil {
		return nil, err
	}
	k, err := m.key(params.Key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[aws.ToString(params.TableName)], k)
	return &dynamodb.DeleteItemOutput{}, nil
}

// Item returns the stored item for key, or nil.
func (m *DynamoDBClient) Item(table, key string) map[string]types.AttributeValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Seed stores item directly, bypassing call recording.
func (m *DynamoDBClient) Seed(table string, item map[string]types.AttributeValue) {
	k, err := m.key(item)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = make(map[string]map[string]types.AttributeValue)
	}
	m.tables[table][k] = copyItem(item)
}

// Calls returns the operations made so far, in order.
func (m *DynamoDBClient) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
