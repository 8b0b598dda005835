package models

import "time"

const EventPaymentConfirmed = "payment_confirmed"

// PaymentEvent is published once per confirmed checkout session.
type PaymentEvent struct {
	Type          string    `json:"type"`
	SubmissionID  string    `json:"submission_id"`
	RequestID     string    `json:"request_id,omitempty"`
	SessionID     string    `json:"session_id"`
	PaymentIntent string    `json:"payment_intent_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Source        string    `json:"source"` // webhook or verification
	Timestamp     time.Time `json:"timestamp"`
}

// ReconcileJob carries a pending-payment write that failed after a checkout
// session was created.
type ReconcileJob struct {
	SubmissionID string        `json:"submission_id"`
	SessionID    string        `json:"session_id"`
	Update       PaymentUpdate `json:"update"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
}
