package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	apperrors "portal-service/common/errors"
	"portal-service/models"
	"portal-service/repository"
)

var requestIDPattern = regexp.MustCompile(`^WZT-\d{8}-[A-Z0-9]{4}$`)

// Timeline steps in display order.
const (
	StepSubmitted = "submitted"
	StepPayment   = "payment_received"
	StepReview    = "in_review"
	StepCompleted = "completed"
	StepRejected  = "rejected"
)

type TrackingService struct {
	repo repository.SubmissionRepository
}

func NewTrackingService(repo repository.SubmissionRepository) *TrackingService {
	return &TrackingService{repo: repo}
}

// ValidRequestID reports whether id has the WZT-YYYYMMDD-XXXX shape.
func ValidRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// Track looks up a submission by its public request id. Malformed ids are
// rejected before storage is touched.
func (s *TrackingService) Track(ctx context.Context, requestID string) (*models.TrackingView, error) {
	requestID = strings.TrimSpace(requestID)
	if !ValidRequestID(requestID) {
		return nil, apperrors.BadRequest("Invalid request ID format")
	}

	sub, err := s.repo.FindByRequestID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Application not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to look up application", err)
	}

	return &models.TrackingView{
		RequestID:     sub.RequestID,
		ServiceType:   sub.ServiceType,
		CompanyName:   sub.CompanyName,
		Status:        sub.Status,
		PaymentStatus: sub.PaymentStatus,
		SubmittedAt:   sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
		Timeline:      BuildTimeline(sub.Status, sub.PaymentStatus),
	}, nil
}

// BuildTimeline derives the progress steps from a submission's statuses.
// The first incomplete step is marked current.
func BuildTimeline(status, paymentStatus string) []models.TimelineEntry {
	final := StepCompleted
	if status == models.StatusRejected {
		final = StepRejected
	}

	reviewed := status == models.StatusCompleted || status == models.StatusRejected
	done := map[string]bool{
		StepSubmitted: status != models.StatusDraft,
		StepPayment:   paymentStatus == models.PaymentStatusPaid,
		StepReview:    reviewed,
		final:         reviewed,
	}

	steps := []string{StepSubmitted, StepPayment, StepReview, final}
	timeline := make([]models.TimelineEntry, 0, len(steps))
	currentSet := false
	for _, step := range steps {
		entry := models.TimelineEntry{Step: step, Completed: done[step]}
		if !entry.Completed && !currentSet {
			entry.Current = true
			currentSet = true
		}
		timeline = append(timeline, entry)
	}
	return timeline
}
