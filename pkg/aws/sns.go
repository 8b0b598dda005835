package aws

import (
	"context"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// EventTypeAttribute is the SNS message attribute subscribers filter on.
const EventTypeAttribute = "event_type"

var errNoTopic = errors.New("sns topic arn is empty")

// SNSPublisher publishes one event message to a topic.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn, eventType string, message []byte) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	api snsAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{api: sns.NewFromConfig(cfg)}
}

// Publish sends message with eventType attached as a string attribute so
// queues subscribed to the topic only receive the events they ask for.
func (s *SNSClient) Publish(ctx context.Context, topicArn, eventType string, message []byte) error {
	if topicArn == "" {
		return errNoTopic
	}

	in := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	}
	if eventType != "" {
		in.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			EventTypeAttribute: {DataType: sdkaws.String("String"), StringValue: sdkaws.String(eventType)},
		}
	}

	if _, err := s.api.Publish(ctx, in); err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, topicArn, err)
	}
	return nil
}
