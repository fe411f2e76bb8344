package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/mailflow/internal/errs"
)

// sqsBatchMax is the API limit on entries per batch send.
const sqsBatchMax = 10

// SQSQueue is the AWS-backed queue fabric.
type SQSQueue struct {
	client *sqs.Client
}

// NewSQSQueue creates a queue client over an AWS config.
func NewSQSQueue(awsCfg aws.Config) *SQSQueue {
	return &SQSQueue{client: sqs.NewFromConfig(awsCfg)}
}

// Send publishes one message.
func (q *SQSQueue) Send(ctx context.Context, queueURL, body string) (string, error) {
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", errs.Wrap(errs.Queue, err, "sending to %s", queueURL)
	}
	return aws.ToString(out.MessageId), nil
}

// SendDelayed publishes one message with a delivery delay (capped at
// the API maximum of 900 seconds).
func (q *SQSQueue) SendDelayed(ctx context.Context, queueURL, body string, delay time.Duration) (string, error) {
	seconds := int32(delay / time.Second)
	if seconds > 900 {
		seconds = 900
	}
	if seconds < 0 {
		seconds = 0
	}
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(queueURL),
		MessageBody:  aws.String(body),
		DelaySeconds: seconds,
	})
	if err != nil {
		return "", errs.Wrap(errs.Queue, err, "sending delayed to %s", queueURL)
	}
	return aws.ToString(out.MessageId), nil
}

// SendBatch publishes messages in chunks of ten, preserving order of
// returned ids. Any failed entry fails the whole call.
func (q *SQSQueue) SendBatch(ctx context.Context, queueURL string, bodies []string) ([]string, error) {
	ids := make([]string, 0, len(bodies))
	for start := 0; start < len(bodies); start += sqsBatchMax {
		end := start + sqsBatchMax
		if end > len(bodies) {
			end = len(bodies)
		}

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, body := range bodies[start:end] {
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("msg-%d", start+i)),
				MessageBody: aws.String(body),
			})
		}

		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  entries,
		})
		if err != nil {
			return nil, errs.Wrap(errs.Queue, err, "batch sending to %s", queueURL)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return nil, errs.New(errs.Queue, "batch send to %s had %d failures: %s",
				queueURL, len(out.Failed), aws.ToString(first.Message))
		}
		for _, ok := range out.Successful {
			ids = append(ids, aws.ToString(ok.MessageId))
		}
	}
	return ids, nil
}

// Receive long-polls for up to max messages.
func (q *SQSQueue) Receive(ctx context.Context, queueURL string, max int32, wait time.Duration) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, errs.Wrap(errs.Queue, err, "receiving from %s", queueURL)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete removes a received message by receipt handle.
func (q *SQSQueue) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return errs.Wrap(errs.Queue, err, "deleting from %s", queueURL)
	}
	return nil
}

// Exists probes a queue URL. A missing queue reports (false, nil);
// every other failure propagates.
func (q *SQSQueue) Exists(ctx context.Context, queueURL string) (bool, error) {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
	})
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, errs.Wrap(errs.Queue, err, "checking queue %s", queueURL)
	}
	return true, nil
}
