package controllers

import (
	"context"
	"net/http"

	apperrors "portal-service/common/errors"
	"portal-service/common/logger"
	"portal-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentAPI is the payment flow as seen by the HTTP layer.
type PaymentAPI interface {
	CreateCheckoutSession(ctx context.Context, submissionID, origin string) (*services.CheckoutResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	VerifySession(ctx context.Context, sessionID string) (*services.VerificationResult, error)
}

type PaymentController struct {
	Payments PaymentAPI
	Logger   *zap.Logger
}

func NewPaymentController(payments PaymentAPI, logger *zap.Logger) *PaymentController {
	return &PaymentController{Payments: payments, Logger: logger}
}

type createCheckoutRequest struct {
	SubmissionID string `json:"submissionId"`
}

type verifyPaymentRequest struct {
	SessionID string `json:"sessionId"`
}

// CreateCheckoutSession starts a Stripe checkout for a submission.
func (pc *PaymentController) CreateCheckoutSession(c *gin.Context) {
	log := logger.FromContext(c, pc.Logger)

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, log, apperrors.BadRequest("Invalid request body"))
		return
	}

	res, err := pc.Payments.CreateCheckoutSession(c.Request.Context(), req.SubmissionID, RedirectOrigin(c))
	if err != nil {
		apperrors.Respond(c, log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyPayment re-checks a checkout session after the customer returns
// from Stripe.
func (pc *PaymentController) VerifyPayment(c *gin.Context) {
	log := logger.FromContext(c, pc.Logger)

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, log, apperrors.BadRequest("Invalid request body"))
		return
	}

	res, err := pc.Payments.VerifySession(c.Request.Context(), req.SessionID)
	if err != nil {
		apperrors.Respond(c, log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reconcile lets an operator or job re-run verification for a session.
func (pc *PaymentController) Reconcile(c *gin.Context) {
	log := logger.FromContext(c, pc.Logger)

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, log, apperrors.BadRequest("Invalid request body"))
		return
	}

	res, err := pc.Payments.VerifySession(c.Request.Context(), req.SessionID)
	if err != nil {
		apperrors.Respond(c, log, err)
		return
	}
	log.Info("Manual reconcile", zap.String("session_id", req.SessionID), zap.String("payment_status", res.PaymentStatus))
	c.JSON(http.StatusOK, res)
}
