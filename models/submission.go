package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Payment status values. The empty string means no checkout was started yet.
const (
	PaymentStatusUnset   = ""
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Submission lifecycle status values.
const (
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusInReview  = "in_review"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
)

// Submission is a customer's service application, the unit the payment flow tracks.
type Submission struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID       string         `gorm:"type:varchar(32);uniqueIndex" json:"request_id"`
	UserID          string         `gorm:"type:varchar(128);index" json:"user_id"`
	ServiceType     string         `gorm:"type:varchar(64)" json:"service_type"`
	CompanyName     string         `gorm:"type:varchar(255)" json:"company_name"`
	ContactName     string         `gorm:"type:varchar(255)" json:"contact_name"`
	ContactEmail    string         `gorm:"type:varchar(255)" json:"contact_email"`
	TotalPrice      float64        `gorm:"type:numeric(12,2);not null;default:0" json:"total_price"`
	PaymentAmount   *float64       `gorm:"type:numeric(12,2)" json:"payment_amount"`
	PaymentCurrency string         `gorm:"type:varchar(8)" json:"payment_currency"`
	PaymentStatus   string         `gorm:"type:varchar(16);index" json:"payment_status"`
	Status          string         `gorm:"type:varchar(16);not null;default:draft" json:"status"`
	PaymentIntentID string         `gorm:"type:varchar(255);index" json:"payment_intent_id"`
	PaymentMetadata datatypes.JSON `gorm:"type:jsonb" json:"payment_metadata"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanTransitionPayment reports whether a stored payment status may be
// replaced by next. paid is terminal; repeating the current status is
// always allowed so replays converge.
func CanTransitionPayment(current, next string) bool {
	if current == next {
		return true
	}
	switch next {
	case PaymentStatusPaid:
		return true
	case PaymentStatusFailed:
		return current == PaymentStatusUnset || current == PaymentStatusPending
	case PaymentStatusPending:
		return current != PaymentStatusPaid
	default:
		return false
	}
}

// ConfirmableStatuses are the lifecycle states that a confirmed payment
// moves to confirmed. Later states belong to the review workflow and are
// never overwritten by payment traffic.
var ConfirmableStatuses = []string{"", StatusDraft, StatusPending}

// StatusAfterPayment returns the lifecycle status a submission in current
// should have once its payment is confirmed.
func StatusAfterPayment(current string) string {
	for _, s := range ConfirmableStatuses {
		if current == s {
			return StatusConfirmed
		}
	}
	return current
}

// PaymentUpdate is the set of payment fields written by the checkout,
// webhook and verification flows. Metadata is merged into the stored
// object key by key. A Status of confirmed is applied through
// StatusAfterPayment so replays never move a reviewed submission back.
type PaymentUpdate struct {
	PaymentStatus   string                 `json:"payment_status"`
	Status          string                 `json:"status,omitempty"`
	PaymentIntentID string                 `json:"payment_intent_id,omitempty"`
	PaymentAmount   *float64               `json:"payment_amount,omitempty"`
	PaymentCurrency string                 `json:"payment_currency,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// PaymentSideEffect records that a one-off side effect (event, notification)
// for a payment has been claimed.
type PaymentSideEffect struct {
	Key          string    `gorm:"type:varchar(255);primaryKey"`
	SubmissionID uuid.UUID `gorm:"type:uuid;index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (PaymentSideEffect) TableName() string {
	return "payment_side_effects"
}
