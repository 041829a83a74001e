package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	items  map[string]map[string]types.AttributeValue
	putErr error
	table  string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.table = aws.ToString(in.TableName)
	key := in.Item["leadId"].(*types.AttributeValueMemberS).Value
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key["leadId"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func TestDynamoHistoryStore_RoundTrip(t *testing.T) {
	client := newFakeDynamo()
	store := NewDynamoHistoryStore(client, "conversations")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleTranscript("lead-1")))

	assert.Equal(t, "conversations", client.table)
	item := client.items["lead-1"]
	assert.Equal(t, "2", item["messageCount"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, string(StateIdle), item["state"].(*types.AttributeValueMemberS).Value)
	assert.Contains(t, item, "expiresAt")

	got, err := store.Load(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, sampleTranscript("lead-1"), got)
}

func TestDynamoHistoryStore_NotFound(t *testing.T) {
	store := NewDynamoHistoryStore(newFakeDynamo(), "conversations")

	_, err := store.Load(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrHistoryNotFound)
}

func TestDynamoHistoryStore_PutError(t *testing.T) {
	client := newFakeDynamo()
	client.putErr = errors.New("throttled")
	store := NewDynamoHistoryStore(client, "conversations")

	err := store.Save(context.Background(), sampleTranscript("lead-1"))

	assert.ErrorContains(t, err, "throttled")
}

func TestNewDynamoHistoryStore_Panics(t *testing.T) {
	assert.Panics(t, func() { NewDynamoHistoryStore(nil, "t") })
	assert.Panics(t, func() { NewDynamoHistoryStore(newFakeDynamo(), "") })
}
