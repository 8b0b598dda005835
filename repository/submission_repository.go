package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"portal-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// SubmissionRepository defines data-access operations for submissions.
type SubmissionRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	FindByRequestID(ctx context.Context, requestID string) (*models.Submission, error)
	// ApplyPaymentUpdate merges upd into the submission. It reports false when
	// the row is missing or the write would move a paid submission backwards.
	ApplyPaymentUpdate(ctx context.Context, id uuid.UUID, upd models.PaymentUpdate) (bool, error)
	// ClaimSideEffect records key once. Only the first caller gets true.
	ClaimSideEffect(ctx context.Context, key string, submissionID uuid.UUID) (bool, error)
}

// GormSubmissionRepository implements SubmissionRepository using GORM.
type GormSubmissionRepository struct {
	db *gorm.DB
}

func NewGormSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &GormSubmissionRepository{db: db}
}

func (r *GormSubmissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var s models.Submission
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *GormSubmissionRepository) FindByRequestID(ctx context.Context, requestID string) (*models.Submission, error) {
	var s models.Submission
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *GormSubmissionRepository) ApplyPaymentUpdate(ctx context.Context, id uuid.UUID, upd models.PaymentUpdate) (bool, error) {
	meta := upd.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("encode payment metadata: %w", err)
	}

	updates := map[string]interface{}{
		"payment_status":   upd.PaymentStatus,
		"payment_metadata": gorm.Expr("COALESCE(payment_metadata, '{}'::jsonb) || ?::jsonb", string(metaJSON)),
	}
	switch upd.Status {
	case "":
	case models.StatusConfirmed:
		updates["status"] = gorm.Expr("CASE WHEN status IN ? THEN ? ELSE status END",
			models.ConfirmableStatuses, models.StatusConfirmed)
	default:
		updates["status"] = upd.Status
	}
	if upd.PaymentIntentID != "" {
		updates["payment_intent_id"] = upd.PaymentIntentID
	}
	if upd.PaymentAmount != nil {
		updates["payment_amount"] = *upd.PaymentAmount
	}
	if upd.PaymentCurrency != "" {
		updates["payment_currency"] = upd.PaymentCurrency
	}

	query := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id)
	if upd.PaymentStatus != models.PaymentStatusPaid {
		// Concurrent webhook and verification writes race here; paid must win.
		query = query.Where("payment_status IS DISTINCT FROM ?", models.PaymentStatusPaid)
	}

	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormSubmissionRepository) ClaimSideEffect(ctx context.Context, key string, submissionID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PaymentSideEffect{Key: key, SubmissionID: submissionID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
