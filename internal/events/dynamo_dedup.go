package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dedupTTL = 7 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type dedupRecord struct {
	Key       string `dynamodbav:"eventKey"`
	Source    string `dynamodbav:"source"`
	EventID   string `dynamodbav:"eventId"`
	CreatedAt string `dynamodbav:"createdAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoDedupStore keeps processed event ids in a DynamoDB table keyed by
// eventKey, expiring them through the table TTL attribute expiresAt.
type DynamoDedupStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoDedupStore builds a DynamoDB-backed deduper.
func NewDynamoDedupStore(client dynamoAPI, tableName string) *DynamoDedupStore {
	if client == nil {
		panic("events: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("events: table name cannot be empty")
	}
	return &DynamoDedupStore{client: client, tableName: tableName, now: time.Now}
}

// MarkProcessed conditionally writes the event id, returning false if it already exists.
func (s *DynamoDedupStore) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(dedupRecord{
		Key:       dedupKey(source, eventID),
		Source:    source,
		EventID:   eventID,
		CreatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(dedupTTL).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("events: marshal dedup record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(eventKey)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return false, nil
		}
		return false, fmt.Errorf("events: put dedup record: %w", err)
	}
	return true, nil
}

// Forget deletes the event record.
func (s *DynamoDedupStore) Forget(ctx context.Context, source, eventID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"eventKey": &types.AttributeValueMemberS{Value: dedupKey(source, eventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: delete dedup record: %w", err)
	}
	return nil
}

func dedupKey(source, eventID string) string {
	return source + "#" + eventID
}

var (
	_ Deduper = (*ProcessedStore)(nil)
	_ Deduper = (*DynamoDedupStore)(nil)
)
