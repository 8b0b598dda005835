package services

import (
	"context"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// CheckoutRequest describes a one-off checkout for a submission.
type CheckoutRequest struct {
	SubmissionID  string
	ProductName   string
	CustomerEmail string
	Currency      string
	AmountMinor   int64
	SuccessURL    string
	CancelURL     string
}

// CheckoutProvider is the subset of Stripe used by the payment flow.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// SubmissionMetadataKey is the checkout metadata key that correlates a
// session with its submission.
const SubmissionMetadataKey = "submissionId"

type StripeService struct {
	api           *client.API
	webhookSecret string
}

func NewStripeService(secretKey, webhookSecret string) *StripeService {
	return NewStripeServiceWithBackends(secretKey, webhookSecret, nil)
}

// NewStripeServiceWithBackends lets tests point the client at a fake API.
func NewStripeServiceWithBackends(secretKey, webhookSecret string, backends *stripe.Backends) *StripeService {
	return &StripeService{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

func (s *StripeService) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.SubmissionID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{SubmissionMetadataKey: req.SubmissionID},
		},
		Metadata: map[string]string{SubmissionMetadataKey: req.SubmissionID},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx

	return s.api.CheckoutSessions.New(params)
}

func (s *StripeService) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	return s.api.CheckoutSessions.Get(id, params)
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (s *StripeService) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
