package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"portal-service/models"
	awspkg "portal-service/pkg/aws"
	"portal-service/ratelimit"
	"portal-service/secure"
)

// PaymentEventPublisher emits payment lifecycle events to other services.
type PaymentEventPublisher interface {
	PublishPaymentConfirmed(ctx context.Context, evt models.PaymentEvent) error
}

// ConfirmationNotifier tells an external system that a payment went through.
type ConfirmationNotifier interface {
	NotifyPaymentConfirmed(ctx context.Context, evt models.PaymentEvent) error
}

// SNSPaymentPublisher publishes events to an SNS topic.
type SNSPaymentPublisher struct {
	sns      awspkg.SNSPublisher
	topicArn string
}

func NewSNSPaymentPublisher(sns awspkg.SNSPublisher, topicArn string) *SNSPaymentPublisher {
	return &SNSPaymentPublisher{sns: sns, topicArn: topicArn}
}

func (p *SNSPaymentPublisher) PublishPaymentConfirmed(ctx context.Context, evt models.PaymentEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	return p.sns.Publish(ctx, p.topicArn, evt.Type, payload)
}

// notifierIdentity is the rate limit key for outbound notifications; it
// bounds this instance's own call rate rather than any inbound client.
const notifierIdentity = "payment-notifier"

// WebhookNotifier posts confirmations to a URL through the secure client.
type WebhookNotifier struct {
	client *secure.Client
	url    string
}

func NewWebhookNotifier(client *secure.Client, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) NotifyPaymentConfirmed(ctx context.Context, evt models.PaymentEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	resp, err := n.client.Do(secure.WithIdentity(ctx, notifierIdentity), n.url, secure.Options{
		Method:        http.MethodPost,
		Body:          body,
		RequireAuth:   true,
		RateLimit:     ratelimit.ActionAPI,
		ValidateInput: true,
		MaxRetries:    3,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
