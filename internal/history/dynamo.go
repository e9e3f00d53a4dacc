package history

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants. Each user owns a single history document:
// PK = USER#{uid}, SK = HISTORY, attribute "history" holds the full
// ordered list.
const (
	pkPrefix  = "USER#"
	skHistory = "HISTORY"
)

// DynamoStore implements Store using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

func userPK(uid string) string {
	return pkPrefix + uid
}

// storedRecord is the DynamoDB shape of a Record. Timestamps are kept
// as RFC 3339 strings and converted to time.Time on load.
type storedRecord struct {
	Latitude     *float64          `dynamodbav:"latitude"`
	Longitude    *float64          `dynamodbav:"longitude"`
	Address      string            `dynamodbav:"address"`
	Timestamp    string            `dynamodbav:"timestamp"`
	Metadata     map[string]string `dynamodbav:"metadata"`
	ImagePreview string            `dynamodbav:"imagePreview,omitempty"`
}

func toStored(r Record) storedRecord {
	return storedRecord{
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Address:      r.Address,
		Timestamp:    r.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:     r.Metadata,
		ImagePreview: r.ImagePreview,
	}
}

func fromStored(s storedRecord) Record {
	ts, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		// Legacy records without fractional seconds.
		if ts, err = time.Parse(time.RFC3339, s.Timestamp); err != nil {
			ts = time.Time{}
		}
	}
	return Record{
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		Address:      s.Address,
		Timestamp:    ts,
		Metadata:     s.Metadata,
		ImagePreview: s.ImagePreview,
	}
}

// Load retrieves the user's full history list, most-recent-first.
// A missing document yields an empty list, not an error.
func (s *DynamoStore) Load(ctx context.Context, uid string) ([]Record, error) {
	if uid == "" {
		return nil, fmt.Errorf("load history: no user")
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(uid)},
			"SK": &types.AttributeValueMemberS{Value: skHistory},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s: %w", userPK(uid), err)
	}
	if result.Item == nil {
		log.Debug().Str("uid", uid).Msg("No history document for user")
		return []Record{}, nil
	}

	var doc struct {
		History []storedRecord `dynamodbav:"history"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal history for %s: %w", uid, err)
	}

	records := make([]Record, 0, len(doc.History))
	for _, sr := range doc.History {
		records = append(records, fromStored(sr))
	}

	log.Debug().Str("uid", uid).Int("count", len(records)).Msg("History loaded")
	return records, nil
}

// Sync replaces the history attribute with the given full list.
// Other attributes of the document are left untouched.
func (s *DynamoStore) Sync(ctx context.Context, uid string, records []Record) error {
	if uid == "" {
		return fmt.Errorf("sync history: no user")
	}

	stored := make([]storedRecord, 0, len(records))
	for _, r := range records {
		stored = append(stored, toStored(r))
	}

	listAttr, err := attributevalue.MarshalList(stored)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(uid)},
			"SK": &types.AttributeValueMemberS{Value: skHistory},
		},
		UpdateExpression: aws.String("SET history = :h"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberL{Value: listAttr},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem PK=%s: %w", userPK(uid), err)
	}

	log.Debug().Str("uid", uid).Int("count", len(records)).Msg("History synced")
	return nil
}
