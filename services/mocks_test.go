package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"portal-service/models"
	"portal-service/repository"
	"portal-service/services"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"gorm.io/datatypes"
)

const testWebhookSecret = "whsec_test_secret"

// ---- in-memory submission repository ----

// memSubmissionRepo mirrors the guarded SQL update: a non-paid write to a
// paid row matches zero rows, and confirmed only advances early statuses.
type memSubmissionRepo struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*models.Submission
	claims      map[string]uuid.UUID
	findErr     error
	applyErr    error
	claimErr    error
	lookupCalls int
	applyCalls  int
}

func newMemSubmissionRepo(subs ...*models.Submission) *memSubmissionRepo {
	r := &memSubmissionRepo{rows: map[uuid.UUID]*models.Submission{}, claims: map[string]uuid.UUID{}}
	for _, s := range subs {
		r.rows[s.ID] = s
	}
	return r
}

func (r *memSubmissionRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookupCalls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	s, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSubmissionRepo) FindByRequestID(_ context.Context, requestID string) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookupCalls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, s := range r.rows {
		if s.RequestID == requestID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memSubmissionRepo) ApplyPaymentUpdate(_ context.Context, id uuid.UUID, upd models.PaymentUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return false, r.applyErr
	}
	s, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if upd.PaymentStatus != models.PaymentStatusPaid && s.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}

	s.PaymentStatus = upd.PaymentStatus
	switch upd.Status {
	case "":
	case models.StatusConfirmed:
		s.Status = models.StatusAfterPayment(s.Status)
	default:
		s.Status = upd.Status
	}
	r.applyCalls++
	if upd.PaymentIntentID != "" {
		s.PaymentIntentID = upd.PaymentIntentID
	}
	if upd.PaymentAmount != nil {
		amount := *upd.PaymentAmount
		s.PaymentAmount = &amount
	}
	if upd.PaymentCurrency != "" {
		s.PaymentCurrency = upd.PaymentCurrency
	}

	merged := map[string]interface{}{}
	if len(s.PaymentMetadata) > 0 {
		if err := json.Unmarshal(s.PaymentMetadata, &merged); err != nil {
			return false, err
		}
	}
	for k, v := range upd.Metadata {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return false, err
	}
	s.PaymentMetadata = datatypes.JSON(raw)
	return true, nil
}

func (r *memSubmissionRepo) ClaimSideEffect(_ context.Context, key string, submissionID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return false, r.claimErr
	}
	if _, taken := r.claims[key]; taken {
		return false, nil
	}
	r.claims[key] = submissionID
	return true, nil
}

// setStatus simulates an operator moving the application through review.
func (r *memSubmissionRepo) setStatus(id uuid.UUID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[id].Status = status
}

func (r *memSubmissionRepo) get(id uuid.UUID) models.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

// ---- checkout provider ----

type mockCheckout struct {
	verifier *services.StripeService

	created   []services.CheckoutRequest
	createErr error

	session *stripe.CheckoutSession
	getErr  error
}

func newMockCheckout() *mockCheckout {
	return &mockCheckout{verifier: services.NewStripeService("sk_test_unused", testWebhookSecret)}
}

func (m *mockCheckout) CreateCheckoutSession(_ context.Context, req services.CheckoutRequest) (*stripe.CheckoutSession, error) {
	m.created = append(m.created, req)
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &stripe.CheckoutSession{ID: "cs_test_created", URL: "https://checkout.stripe.com/c/pay/cs_test_created"}, nil
}

func (m *mockCheckout) GetCheckoutSession(_ context.Context, _ string) (*stripe.CheckoutSession, error) {
	return m.session, m.getErr
}

func (m *mockCheckout) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return m.verifier.ConstructEvent(payload, signature)
}

// ---- events, notifier, queue ----

type recordingPublisher struct {
	events []models.PaymentEvent
	err    error
}

func (p *recordingPublisher) PublishPaymentConfirmed(_ context.Context, evt models.PaymentEvent) error {
	p.events = append(p.events, evt)
	return p.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []models.PaymentEvent
	deadline bool
	err      error
}

func (n *recordingNotifier) NotifyPaymentConfirmed(ctx context.Context, evt models.PaymentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	_, n.deadline = ctx.Deadline()
	return n.err
}

type recordingQueue struct {
	bodies []string
	err    error
}

func (q *recordingQueue) SendMessage(_ context.Context, body string) error {
	q.bodies = append(q.bodies, body)
	return q.err
}

// ---- object storage ----

type memStorage struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStorage) PutObject(_ context.Context, key, contentType string, body io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.objects[key] = b
	s.types[key] = contentType
	return "s3://test-bucket/" + key, nil
}

// ---- profile repository ----

type memProfileRepo struct {
	rows      map[string]models.Profile
	upsertErr error
	findErr   error
}

func (r *memProfileRepo) FindByUserID(_ context.Context, userID string) (*models.Profile, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	p, ok := r.rows[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *memProfileRepo) Upsert(_ context.Context, p *models.Profile) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	if r.rows == nil {
		r.rows = map[string]models.Profile{}
	}
	r.rows[p.UserID] = *p
	return nil
}

// ---- helpers ----

var errDatabaseDown = errors.New("connection refused")

func newSubmission(total float64) *models.Submission {
	return &models.Submission{
		ID:           uuid.New(),
		RequestID:    "WZT-20240115-AB12",
		ServiceType:  "mainland_llc",
		CompanyName:  "Falcon Trading",
		ContactEmail: "owner@falcon.ae",
		TotalPrice:   total,
		Status:       models.StatusPending,
		CreatedAt:    time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

// signedCheckoutEvent builds a Stripe event carrying a checkout session and
// signs it with the test webhook secret.
func signedCheckoutEvent(t *testing.T, eventID, eventType string, session map[string]interface{}) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     1705309200,
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": session},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func paidSession(sessionID string, submissionID uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"id":                   sessionID,
		"object":               "checkout.session",
		"payment_status":       "paid",
		"amount_total":         10000,
		"currency":             "aed",
		"payment_intent":       "pi_test_1",
		"payment_method_types": []string{"card"},
		"customer_details":     map[string]interface{}{"email": "owner@falcon.ae"},
		"metadata":             map[string]string{services.SubmissionMetadataKey: submissionID.String()},
	}
}

func metadataOf(t *testing.T, s models.Submission) map[string]interface{} {
	t.Helper()
	m := map[string]interface{}{}
	if len(s.PaymentMetadata) == 0 {
		return m
	}
	if err := json.Unmarshal(s.PaymentMetadata, &m); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	return m
}
