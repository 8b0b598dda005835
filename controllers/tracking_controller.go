package controllers

import (
	"context"
	"net/http"

	apperrors "portal-service/common/errors"
	"portal-service/common/logger"
	"portal-service/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Tracker interface {
	Track(ctx context.Context, requestID string) (*models.TrackingView, error)
}

type TrackingController struct {
	Tracker Tracker
	Logger  *zap.Logger
}

func NewTrackingController(tracker Tracker, logger *zap.Logger) *TrackingController {
	return &TrackingController{Tracker: tracker, Logger: logger}
}

// TrackApplication handles GET /track-application?requestId=WZT-YYYYMMDD-XXXX.
func (tc *TrackingController) TrackApplication(c *gin.Context) {
	view, err := tc.Tracker.Track(c.Request.Context(), c.Query("requestId"))
	if err != nil {
		apperrors.Respond(c, logger.FromContext(c, tc.Logger), err)
		return
	}
	c.JSON(http.StatusOK, view)
}
