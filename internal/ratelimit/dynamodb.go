package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// DynamoLimiter counts senders in a DynamoDB table keyed by
// {sender, window}. The increment is an atomic ADD so readers never
// need locks. Backend failures fail open: mail flow continues when the
// counter store is down.
type DynamoLimiter struct {
	client *dynamodb.Client
	table  string
	now    func() time.Time
}

// NewDynamoLimiter creates a limiter over an AWS config and table name.
func NewDynamoLimiter(awsCfg aws.Config, table string) *DynamoLimiter {
	return &DynamoLimiter{
		client: dynamodb.NewFromConfig(awsCfg),
		table:  table,
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *DynamoLimiter) Allow(ctx context.Context, sender string, limit int, window time.Duration) (bool, error) {
	now := l.now()
	start := windowStart(now, window)

	out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"sender": &types.AttributeValueMemberS{Value: sender},
			"window": &types.AttributeValueMemberN{Value: strconv.FormatInt(start, 10)},
		},
		UpdateExpression: aws.String("ADD email_count :one SET #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(windowTTL(now, window), 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing",
			"sender", sender,
			"error", errs.Wrap(errs.Platform, err, "incrementing rate counter").Error())
		return true, nil
	}

	var updated struct {
		EmailCount int `dynamodbav:"email_count"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		logger.Warn("rate limiter returned undecodable count, allowing", "sender", sender)
		return true, nil
	}
	return updated.EmailCount <= limit, nil
}
