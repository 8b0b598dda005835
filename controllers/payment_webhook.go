package controllers

import (
	"errors"
	"io"
	"net/http"

	apperrors "portal-service/common/errors"
	"portal-service/common/logger"

	"github.com/gin-gonic/gin"
)

// maxWebhookBytes matches the payload cap Stripe documents for webhooks.
const maxWebhookBytes = 65536

// StripeWebhook verifies and applies a Stripe event. The raw body is passed
// through untouched; the signature covers its exact bytes.
func (pc *PaymentController) StripeWebhook(c *gin.Context) {
	log := logger.FromContext(c, pc.Logger)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperrors.Respond(c, log, apperrors.New(http.StatusRequestEntityTooLarge, "Webhook payload too large", nil))
			return
		}
		apperrors.Respond(c, log, apperrors.BadRequest("Failed to read request body"))
		return
	}

	if err := pc.Payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		apperrors.Respond(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
