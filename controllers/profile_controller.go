package controllers

import (
	"context"
	"net/http"

	apperrors "portal-service/common/errors"
	"portal-service/common/logger"
	"portal-service/middleware"
	"portal-service/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProfileAPI interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	Update(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.Profile, error)
}

type ProfileController struct {
	Profiles ProfileAPI
	Logger   *zap.Logger
}

func NewProfileController(profiles ProfileAPI, logger *zap.Logger) *ProfileController {
	return &ProfileController{Profiles: profiles, Logger: logger}
}

func (pc *ProfileController) GetProfile(c *gin.Context) {
	p, err := pc.Profiles.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		apperrors.Respond(c, logger.FromContext(c, pc.Logger), err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (pc *ProfileController) UpdateProfile(c *gin.Context) {
	log := logger.FromContext(c, pc.Logger)

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, log, apperrors.BadRequest("Invalid request body"))
		return
	}

	p, err := pc.Profiles.Update(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		apperrors.Respond(c, log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
