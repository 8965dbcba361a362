package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gurre/cognito-profile/aws"
	"github.com/gurre/cognito-profile/errs"
)

// HashKey is the table's partition key attribute.
const HashKey = "userId"

// Store persists profile records keyed by identity id.
type Store interface {
	Create(ctx context.Context, p Profile) (Profile, error)
	Load(ctx context.Context, identityID string) (*Profile, error)
	Update(ctx context.Context, p Profile) (Profile, error)
	Delete(ctx context.Context, identityID string) error
}

// record is the DynamoDB item. Avatar bytes are never stored in the table.
type record struct {
	UserID    string    `dynamodbav:"userId"`
	Name      *string   `dynamodbav:"name,omitempty"`
	HasImage  bool      `dynamodbav:"hasImage"`
	CreatedAt time.Time `dynamodbav:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updatedAt"`
}

// DynamoDBStore implements Store on a single DynamoDB table.
type DynamoDBStore struct {
	client    aws.DynamoDBClient
	tableName string
	now       func() time.Time
}

// NewDynamoDBStore creates a store for tableName.
func NewDynamoDBStore(client aws.DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create writes a new record. It fails with a precondition error when the
// identity id is missing or a record already exists for it.
func (s *DynamoDBStore) Create(ctx context.Context, p Profile) (Profile, error) {
	if p.IdentityID == "" {
		return Profile{}, errs.Precondition("profile.create", "a profile needs an identity id before it is saved")
	}

	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(toRecord(p))
	if err != nil {
		return Profile{}, fmt.Errorf("failed to marshal profile: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name(HashKey))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return Profile{}, fmt.Errorf("failed to build create condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return Profile{}, errs.Precondition("profile.create", "a profile already exists for %s", p.IdentityID)
		}
		return Profile{}, errs.Transport("profile.create", err)
	}
	return p, nil
}

// Load reads the record for identityID. A missing record returns (nil, nil).
func (s *DynamoDBStore) Load(ctx context.Context, identityID string) (*Profile, error) {
	if identityID == "" {
		return nil, errs.Precondition("profile.load", "identity id is required")
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(identityID),
		ConsistentRead: awssdk.Bool(true),
	})
	if err != nil {
		return nil, errs.Transport("profile.load", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile %s: %w", identityID, err)
	}
	p := fromRecord(rec)
	return &p, nil
}

// Update overwrites the whole record. The caller merges fields first.
func (s *DynamoDBStore) Update(ctx context.Context, p Profile) (Profile, error) {
	if p.IdentityID == "" {
		return Profile{}, errs.Precondition("profile.update", "a profile needs an identity id before it is saved")
	}

	p.UpdatedAt = s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}

	item, err := attributevalue.MarshalMap(toRecord(p))
	if err != nil {
		return Profile{}, fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return Profile{}, errs.Transport("profile.update", err)
	}
	return p, nil
}

// Delete removes the record for identityID. It only runs as compensation for
// a create whose avatar upload failed.
func (s *DynamoDBStore) Delete(ctx context.Context, identityID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       keyOf(identityID),
	})
	if err != nil {
		return errs.Transport("profile.delete", err)
	}
	return nil
}

func keyOf(identityID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		HashKey: &types.AttributeValueMemberS{Value: identityID},
	}
}

func toRecord(p Profile) record {
	return record{
		UserID:    p.IdentityID,
		Name:      p.Name,
		HasImage:  p.HasImage(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func fromRecord(r record) Profile {
	return Profile{
		IdentityID: r.UserID,
		Name:       r.Name,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
