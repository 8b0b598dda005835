package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	apperrors "portal-service/common/errors"
	"portal-service/metrics"
	"portal-service/models"
	awspkg "portal-service/pkg/aws"
	"portal-service/repository"
	"portal-service/secure"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

const sideEffectPaymentConfirmed = "payment_confirmed:"

// notifyTimeout bounds one background notification including its retries.
const notifyTimeout = 2 * time.Minute

// ReconcileQueue accepts out-of-band repair jobs. Satisfied by *awspkg.SQSQueue.
type ReconcileQueue interface {
	SendMessage(ctx context.Context, body string) error
}

// CheckoutResult is returned to the browser, which redirects to CheckoutURL.
type CheckoutResult struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// VerificationResult reports the stored state after a verification.
type VerificationResult struct {
	Success       bool               `json:"success"`
	PaymentStatus string             `json:"paymentStatus"`
	Submission    *models.Submission `json:"submission"`
}

// PaymentDeps are the collaborators of PaymentService. Only Repo, Stripe and
// Logger are required.
type PaymentDeps struct {
	Repo            repository.SubmissionRepository
	Stripe          CheckoutProvider
	Events          PaymentEventPublisher
	Notifier        ConfirmationNotifier
	Reconcile       ReconcileQueue
	Metrics         *metrics.Metrics
	CloudWatch      *awspkg.MetricsClient
	Security        *secure.EventLogger
	Logger          *zap.Logger
	DefaultCurrency string
	FrontendURL     string
	Now             func() time.Time
}

// PaymentService runs the checkout, webhook and verification flows against
// the submissions table.
type PaymentService struct {
	PaymentDeps

	notifications sync.WaitGroup
}

func NewPaymentService(deps PaymentDeps) *PaymentService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = "aed"
	}
	return &PaymentService{PaymentDeps: deps}
}

// AmountInMinorUnits converts a major-unit price to the smallest currency
// unit, rounding half away from zero.
func AmountInMinorUnits(total float64) int64 {
	return int64(math.Round(total * 100))
}

// CreateCheckoutSession opens a Stripe checkout for the submission and
// records the pending payment. origin is the caller's site; redirects go
// back there.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, submissionID, origin string) (*CheckoutResult, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, apperrors.BadRequest("submissionId is required")
	}
	id, err := uuid.Parse(submissionID)
	if err != nil {
		return nil, apperrors.BadRequest("Invalid submissionId")
	}

	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionPayment(sub.PaymentStatus, models.PaymentStatusPending) {
		return nil, apperrors.Conflict("Submission has already been paid")
	}

	amount := AmountInMinorUnits(sub.TotalPrice)
	if amount <= 0 {
		return nil, apperrors.BadRequest("Submission has no payable amount")
	}
	currency := strings.ToLower(strings.TrimSpace(sub.PaymentCurrency))
	if currency == "" {
		currency = s.DefaultCurrency
	}

	base := strings.TrimSuffix(origin, "/")
	if base == "" {
		base = s.FrontendURL
	}

	sess, err := s.Stripe.CreateCheckoutSession(ctx, CheckoutRequest{
		SubmissionID:  id.String(),
		ProductName:   productName(sub),
		CustomerEmail: sub.ContactEmail,
		Currency:      currency,
		AmountMinor:   amount,
		SuccessURL:    base + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     base + "/payment-cancelled?submission_id=" + id.String(),
	})
	if err != nil {
		s.Metrics.CheckoutSession("provider_error")
		return nil, apperrors.Internal("Failed to create checkout session", err)
	}

	amountMajor := float64(amount) / 100
	update := models.PaymentUpdate{
		PaymentStatus:   models.PaymentStatusPending,
		PaymentIntentID: sess.ID,
		PaymentAmount:   &amountMajor,
		PaymentCurrency: currency,
		Metadata: map[string]interface{}{
			"stripe_session_id":  sess.ID,
			"session_created_at": s.Now().UTC().Format(time.RFC3339),
		},
	}

	// The session exists at Stripe now; a failed local write must not hide it.
	applied, err := s.Repo.ApplyPaymentUpdate(ctx, id, update)
	switch {
	case err != nil:
		s.Logger.Error("Failed to persist pending payment, scheduling reconcile",
			zap.String("submission_id", id.String()),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		s.enqueueReconcile(ctx, id, sess.ID, update)
	case !applied:
		s.Metrics.RegressionBlocked("checkout")
		s.Logger.Warn("Submission was paid while creating checkout session",
			zap.String("submission_id", id.String()),
			zap.String("session_id", sess.ID),
		)
	}

	s.Metrics.CheckoutSession("created")
	_ = s.CloudWatch.RecordCount(ctx, awspkg.MetricCheckoutSessions, map[string]string{"Currency": currency})
	s.Logger.Info("Checkout session created",
		zap.String("submission_id", id.String()),
		zap.String("session_id", sess.ID),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
	)

	return &CheckoutResult{SessionID: sess.ID, CheckoutURL: sess.URL}, nil
}

// HandleWebhook verifies and applies a Stripe event. Returned errors carry
// the HTTP status Stripe should see: 4xx for bad input, 5xx to force a
// redelivery.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.Stripe.ConstructEvent(payload, signature)
	if err != nil {
		s.Metrics.WebhookEvent("unknown", "invalid_signature")
		s.Security.Log(ctx, secure.SecurityEvent{
			Type:     secure.EventInvalidSignature,
			Severity: secure.SeverityMedium,
			Details:  map[string]interface{}{"error": err.Error()},
		})
		return apperrors.ErrInvalidSignature
	}

	eventType := string(event.Type)
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		s.Metrics.WebhookEvent(eventType, "ignored")
		s.Logger.Info("Ignoring webhook event", zap.String("event_type", eventType), zap.String("event_id", event.ID))
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		s.Metrics.WebhookEvent(eventType, "malformed")
		return apperrors.BadRequest("Malformed checkout session payload")
	}

	id, err := submissionIDFromSession(&sess)
	if err != nil {
		s.Metrics.WebhookEvent(eventType, "missing_metadata")
		s.Logger.Warn("Checkout session without submission metadata",
			zap.String("event_id", event.ID),
			zap.String("session_id", sess.ID),
		)
		return err
	}

	processedAt := s.Now()
	if event.Created > 0 {
		// Replays of one event write the same timestamp.
		processedAt = time.Unix(event.Created, 0)
	}
	update := confirmedUpdate(&sess, processedAt, map[string]interface{}{"webhook_event_id": event.ID})

	applied, err := s.Repo.ApplyPaymentUpdate(ctx, id, update)
	if err != nil {
		s.Metrics.WebhookEvent(eventType, "persist_error")
		return apperrors.Internal("Failed to record payment", err)
	}
	if !applied {
		s.Metrics.WebhookEvent(eventType, "submission_missing")
		s.Logger.Error("Paid checkout session references unknown submission",
			zap.String("submission_id", id.String()),
			zap.String("session_id", sess.ID),
		)
		return apperrors.NotFound("Submission not found")
	}

	if err := s.dispatchConfirmation(ctx, id, &sess, "webhook"); err != nil {
		s.Metrics.WebhookEvent(eventType, "persist_error")
		return apperrors.Internal("Failed to record payment side effects", err)
	}

	s.Metrics.WebhookEvent(eventType, "processed")
	s.Logger.Info("Payment confirmed by webhook",
		zap.String("submission_id", id.String()),
		zap.String("session_id", sess.ID),
		zap.String("event_id", event.ID),
	)
	return nil
}

// VerifySession re-reads a checkout session from Stripe and merges what it
// reports. The submission comes from the session metadata, never from the
// caller.
func (s *PaymentService) VerifySession(ctx context.Context, sessionID string) (*VerificationResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.BadRequest("sessionId is required")
	}
	if !strings.HasPrefix(sessionID, "cs_") {
		return nil, apperrors.BadRequest("Invalid sessionId")
	}

	sess, err := s.Stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, apperrors.NotFound("Checkout session not found")
		}
		return nil, apperrors.Upstream("Payment provider unavailable", err)
	}

	id, err := submissionIDFromSession(sess)
	if err != nil {
		return nil, err
	}

	observed := MapStripePaymentStatus(sess.PaymentStatus)
	var update models.PaymentUpdate
	if observed == models.PaymentStatusPaid {
		update = confirmedUpdate(sess, s.Now(), map[string]interface{}{"verified_at": s.Now().UTC().Format(time.RFC3339)})
	} else {
		update = models.PaymentUpdate{
			PaymentStatus: observed,
			Metadata: map[string]interface{}{
				"stripe_session_id":     sess.ID,
				"stripe_payment_status": string(sess.PaymentStatus),
				"verified_at":           s.Now().UTC().Format(time.RFC3339),
			},
		}
	}

	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	if models.CanTransitionPayment(sub.PaymentStatus, observed) {
		applied, err := s.Repo.ApplyPaymentUpdate(ctx, id, update)
		if err != nil {
			return nil, apperrors.Internal("Failed to record payment status", err)
		}
		if !applied && observed != models.PaymentStatusPaid {
			// Paid landed between the read and the write.
			s.regressionBlocked(id, observed)
		}
		if sub, err = s.loadSubmission(ctx, id); err != nil {
			return nil, err
		}
	} else {
		s.regressionBlocked(id, observed)
	}

	if observed == models.PaymentStatusPaid {
		if err := s.dispatchConfirmation(ctx, id, sess, "verification"); err != nil {
			// The webhook will retry the claim.
			s.Logger.Error("Failed to claim payment confirmation", zap.String("submission_id", id.String()), zap.Error(err))
		}
	}

	s.Metrics.Verification(observed)
	if observed == models.PaymentStatusFailed {
		_ = s.CloudWatch.RecordCount(ctx, awspkg.MetricPaymentFailed, map[string]string{"Source": "verification"})
	}
	return &VerificationResult{Success: true, PaymentStatus: sub.PaymentStatus, Submission: sub}, nil
}

// ApplyReconcileJob replays a pending-payment write that failed during checkout.
func (s *PaymentService) ApplyReconcileJob(ctx context.Context, job models.ReconcileJob) error {
	id, err := uuid.Parse(job.SubmissionID)
	if err != nil {
		return apperrors.BadRequest("Invalid submissionId")
	}
	applied, err := s.Repo.ApplyPaymentUpdate(ctx, id, job.Update)
	if err != nil {
		return err
	}
	s.Logger.Info("Reconciled pending payment",
		zap.String("submission_id", job.SubmissionID),
		zap.String("session_id", job.SessionID),
		zap.Bool("applied", applied),
	)
	return nil
}

// dispatchConfirmation publishes the confirmation once per session. The claim
// happens before publishing, so a crash in between loses the event rather
// than sending it twice.
func (s *PaymentService) dispatchConfirmation(ctx context.Context, id uuid.UUID, sess *stripe.CheckoutSession, source string) error {
	claimed, err := s.Repo.ClaimSideEffect(ctx, sideEffectPaymentConfirmed+sess.ID, id)
	if err != nil {
		return err
	}
	if !claimed {
		s.Logger.Debug("Payment confirmation already dispatched", zap.String("session_id", sess.ID))
		return nil
	}

	evt := models.PaymentEvent{
		Type:          models.EventPaymentConfirmed,
		SubmissionID:  id.String(),
		SessionID:     sess.ID,
		PaymentIntent: paymentIntentID(sess),
		Amount:        float64(sess.AmountTotal) / 100,
		Currency:      string(sess.Currency),
		CustomerEmail: customerEmail(sess),
		Source:        source,
		Timestamp:     s.Now().UTC(),
	}

	_ = s.CloudWatch.RecordCount(ctx, awspkg.MetricPaymentConfirmed, map[string]string{"Source": source})

	if s.Events != nil {
		if err := s.Events.PublishPaymentConfirmed(ctx, evt); err != nil {
			s.Logger.Error("Failed to publish payment event", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	if s.Notifier != nil {
		s.notifyAsync(ctx, evt)
	}
	return nil
}

// notifyAsync sends the notification off the request path. The webhook has
// to answer Stripe promptly, and the notifier may spend several backoff
// rounds on a slow endpoint.
func (s *PaymentService) notifyAsync(ctx context.Context, evt models.PaymentEvent) {
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.Notifier.NotifyPaymentConfirmed(nctx, evt); err != nil {
			s.Logger.Error("Failed to send payment notification", zap.String("session_id", evt.SessionID), zap.Error(err))
		}
	}()
}

// WaitForNotifications blocks until every background notification has
// finished. Called on shutdown after the HTTP server stops accepting work.
func (s *PaymentService) WaitForNotifications() {
	s.notifications.Wait()
}

func (s *PaymentService) loadSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	sub, err := s.Repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Submission not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to load submission", err)
	}
	return sub, nil
}

func (s *PaymentService) regressionBlocked(id uuid.UUID, observed string) {
	s.Metrics.RegressionBlocked("verification")
	s.Logger.Info("Kept paid status over later observation",
		zap.String("submission_id", id.String()),
		zap.String("observed", observed),
	)
}

func (s *PaymentService) enqueueReconcile(ctx context.Context, id uuid.UUID, sessionID string, update models.PaymentUpdate) {
	if s.Reconcile == nil {
		return
	}
	body, err := json.Marshal(models.ReconcileJob{
		SubmissionID: id.String(),
		SessionID:    sessionID,
		Update:       update,
		EnqueuedAt:   s.Now().UTC(),
	})
	if err != nil {
		s.Logger.Error("Failed to encode reconcile job", zap.Error(err))
		return
	}
	if err := s.Reconcile.SendMessage(ctx, string(body)); err != nil {
		s.Logger.Error("Failed to enqueue reconcile job",
			zap.String("submission_id", id.String()),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// MapStripePaymentStatus maps a session payment status to the local one.
func MapStripePaymentStatus(status stripe.CheckoutSessionPaymentStatus) string {
	switch status {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return models.PaymentStatusPaid
	case stripe.CheckoutSessionPaymentStatusUnpaid:
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

func confirmedUpdate(sess *stripe.CheckoutSession, processedAt time.Time, extra map[string]interface{}) models.PaymentUpdate {
	amount := float64(sess.AmountTotal) / 100
	meta := map[string]interface{}{
		"stripe_session_id":    sess.ID,
		"payment_method_types": sess.PaymentMethodTypes,
		"customer_email":       customerEmail(sess),
		"processed_at":         processedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		meta[k] = v
	}
	return models.PaymentUpdate{
		PaymentStatus:   models.PaymentStatusPaid,
		Status:          models.StatusConfirmed,
		PaymentIntentID: paymentIntentID(sess),
		PaymentAmount:   &amount,
		PaymentCurrency: string(sess.Currency),
		Metadata:        meta,
	}
}

func submissionIDFromSession(sess *stripe.CheckoutSession) (uuid.UUID, error) {
	raw := sess.Metadata[SubmissionMetadataKey]
	if raw == "" {
		return uuid.Nil, apperrors.ErrMissingMetadata
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("Invalid submission metadata")
	}
	return id, nil
}

func paymentIntentID(sess *stripe.CheckoutSession) string {
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		return sess.PaymentIntent.ID
	}
	return sess.ID
}

func customerEmail(sess *stripe.CheckoutSession) string {
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		return sess.CustomerDetails.Email
	}
	return sess.CustomerEmail
}

func productName(sub *models.Submission) string {
	name := "Business setup"
	if sub.ServiceType != "" {
		name += " - " + strings.ReplaceAll(sub.ServiceType, "_", " ")
	}
	if sub.CompanyName != "" {
		name += " (" + sub.CompanyName + ")"
	}
	return name
}
