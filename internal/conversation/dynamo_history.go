package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type historyRecord struct {
	LeadID       string `dynamodbav:"leadId"`
	State        State  `dynamodbav:"state"`
	Transcript   string `dynamodbav:"transcript"`
	MessageCount int    `dynamodbav:"messageCount"`
	UpdatedAt    string `dynamodbav:"updatedAt"`
	ExpiresAt    int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoHistoryStore is the durable transcript store, one item per lead.
type DynamoHistoryStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
}

func NewDynamoHistoryStore(client dynamoAPI, tableName string) *DynamoHistoryStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	return &DynamoHistoryStore{client: client, tableName: tableName, ttl: 365 * 24 * time.Hour}
}

func (s *DynamoHistoryStore) Save(ctx context.Context, t Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal history: %w", err)
	}
	now := time.Now().UTC()
	item, err := attributevalue.MarshalMap(historyRecord{
		LeadID:       t.LeadID,
		State:        t.State,
		Transcript:   string(data),
		MessageCount: len(t.Messages),
		UpdatedAt:    now.Format(time.RFC3339Nano),
		ExpiresAt:    now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal history record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("conversation: failed to persist history: %w", err)
	}
	return nil
}

func (s *DynamoHistoryStore) Load(ctx context.Context, leadID string) (Transcript, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"leadId": &types.AttributeValueMemberS{Value: leadID},
		},
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("conversation: failed to fetch history: %w", err)
	}
	if out.Item == nil {
		return Transcript{}, ErrHistoryNotFound
	}
	var rec historyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return Transcript{}, fmt.Errorf("conversation: failed to decode history record: %w", err)
	}
	var t Transcript
	if err := json.Unmarshal([]byte(rec.Transcript), &t); err != nil {
		return Transcript{}, err
	}
	return t, nil
}
