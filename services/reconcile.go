package services

import (
	"context"
	"encoding/json"

	apperrors "portal-service/common/errors"
	"portal-service/models"
	awspkg "portal-service/pkg/aws"

	"go.uber.org/zap"
)

// ReconcileConsumer drains the reconcile queue and re-applies the pending
// payment writes that failed during checkout.
type ReconcileConsumer struct {
	queue    *awspkg.SQSQueue
	payments *PaymentService
	logger   *zap.Logger
}

func NewReconcileConsumer(queue *awspkg.SQSQueue, payments *PaymentService, logger *zap.Logger) *ReconcileConsumer {
	return &ReconcileConsumer{queue: queue, payments: payments, logger: logger}
}

// Start blocks until ctx is cancelled.
func (c *ReconcileConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting ReconcileConsumer (SQS)")

	if err := c.queue.StartPolling(ctx, c.payments.HandleReconcileMessage); err != nil && ctx.Err() == nil {
		c.logger.Error("Reconcile polling stopped", zap.Error(err))
	}
}

// HandleReconcileMessage decodes one queue message. Malformed messages are
// dropped; a repository error leaves the message on the queue for retry.
func (s *PaymentService) HandleReconcileMessage(ctx context.Context, body string) error {
	var job models.ReconcileJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		s.Logger.Warn("Invalid reconcile job JSON", zap.Error(err))
		return nil
	}
	if err := s.ApplyReconcileJob(ctx, job); err != nil {
		s.Logger.Error("Failed to apply reconcile job",
			zap.String("submission_id", job.SubmissionID),
			zap.String("session_id", job.SessionID),
			zap.Error(err),
		)
		if apperrors.As(err).IsClient() {
			return nil
		}
		return err
	}
	return nil
}
