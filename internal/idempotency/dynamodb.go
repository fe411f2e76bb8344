package idempotency

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/mailflow/internal/errs"
)

// record is the persisted shape of one idempotency entry.
type record struct {
	CorrelationID string `dynamodbav:"correlationId"`
	Timestamp     string `dynamodbav:"timestamp"`
	TTL           int64  `dynamodbav:"ttl"`
}

// DynamoStore is the DynamoDB-backed idempotency store. The table's
// TTL attribute is "ttl"; expiry is additionally checked on read
// because DynamoDB deletes expired items lazily.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
	now    func() time.Time
}

// NewDynamoStore creates a store over an AWS config and table name.
func NewDynamoStore(awsCfg aws.Config, table string) *DynamoStore {
	return &DynamoStore{
		client: dynamodb.NewFromConfig(awsCfg),
		table:  table,
		now:    time.Now,
	}
}

// IsDuplicate reports whether the correlation id has an unexpired
// record.
func (s *DynamoStore) IsDuplicate(ctx context.Context, correlationID string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"correlationId": &types.AttributeValueMemberS{Value: correlationID},
		},
	})
	if err != nil {
		return false, errs.Wrap(errs.Idempotency, err, "reading idempotency record %s", correlationID)
	}
	if out.Item == nil {
		return false, nil
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return false, errs.Wrap(errs.Idempotency, err, "decoding idempotency record %s", correlationID)
	}
	if rec.TTL > 0 && rec.TTL <= s.now().Unix() {
		return false, nil
	}
	return true, nil
}

// Record stores the correlation id with the given TTL.
func (s *DynamoStore) Record(ctx context.Context, correlationID string, ttl time.Duration) error {
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(record{
		CorrelationID: correlationID,
		Timestamp:     now.Format(time.RFC3339),
		TTL:           now.Add(ttl).Unix(),
	})
	if err != nil {
		return errs.Wrap(errs.Idempotency, err, "encoding idempotency record %s", correlationID)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return errs.Wrap(errs.Idempotency, err, "writing idempotency record %s", correlationID)
	}
	return nil
}

// CheckAndRecord writes the record only when no unexpired one exists,
// atomically, and returns whether one was already present.
func (s *DynamoStore) CheckAndRecord(ctx context.Context, correlationID string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"correlationId": &types.AttributeValueMemberS{Value: correlationID},
			"timestamp":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"ttl":           &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(correlationId) OR #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return true, nil
		}
		return false, errs.Wrap(errs.Idempotency, err, "recording idempotency %s", correlationID)
	}
	return false, nil
}
