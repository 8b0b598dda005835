package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue sends to and polls a single SQS queue.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

// NewSQSQueue creates a queue handle for the given queue URL
func NewSQSQueue(cfg aws.Config, queueURL string, logger *zap.Logger) *SQSQueue {
	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		logger:   logger,
	}
}

// MessageHandler processes one message body. A non-nil error leaves the
// message on the queue so it becomes visible again after the visibility timeout.
type MessageHandler func(ctx context.Context, body string) error

// StartPolling polls SQS for messages and processes them with the handler
// until ctx is cancelled.
func (q *SQSQueue) StartPolling(ctx context.Context, handler MessageHandler) error {
	q.logger.Info("Starting SQS polling", zap.String("queue_url", q.queueURL))

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("SQS polling stopped", zap.String("queue_url", q.queueURL))
			return ctx.Err()
		default:
			if err := q.pollOnce(ctx, handler); err != nil && ctx.Err() == nil {
				q.logger.Warn("Error polling SQS", zap.Error(err))
			}
		}
	}
}

func (q *SQSQueue) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20, // Long polling
		VisibilityTimeout:   60,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		if err := handler(ctx, *msg.Body); err != nil {
			q.logger.Warn("Failed to process SQS message", zap.Error(err))
			continue
		}

		if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &q.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			q.logger.Warn("Failed to delete SQS message", zap.Error(err))
		}
	}

	return nil
}

// SendMessage sends a single message to the queue
func (q *SQSQueue) SendMessage(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.queueURL,
		MessageBody: &body,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
