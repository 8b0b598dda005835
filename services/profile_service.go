package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "portal-service/common/errors"
	"portal-service/models"
	"portal-service/repository"
	"portal-service/secure"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type ProfileService struct {
	repo     repository.ProfileRepository
	validate *validator.Validate
	logger   *zap.Logger
}

func NewProfileService(repo repository.ProfileRepository, logger *zap.Logger) *ProfileService {
	return &ProfileService{repo: repo, validate: validator.New(), logger: logger}
}

// Get returns the caller's profile. A user who never saved one gets an
// empty profile rather than a 404.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	p, err := s.repo.FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to load profile", err)
	}
	return p, nil
}

// Update validates and sanitises req, then upserts the caller's profile.
func (s *ProfileService) Update(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.Profile, error) {
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	req.FullName = secure.SanitizeString(req.FullName)
	req.Phone = strings.ReplaceAll(strings.TrimSpace(req.Phone), " ", "")
	req.Nationality = secure.SanitizeString(req.Nationality)
	req.CompanyName = secure.SanitizeString(req.CompanyName)

	if err := s.validate.Struct(&req); err != nil {
		return nil, apperrors.BadRequest(validationMessage(err))
	}

	p := &models.Profile{
		UserID:      userID,
		FullName:    req.FullName,
		Phone:       req.Phone,
		Nationality: req.Nationality,
		CompanyName: req.CompanyName,
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, apperrors.Internal("Failed to save profile", err)
	}

	s.logger.Info("Profile updated", zap.String("user_id", userID))
	return p, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid profile data"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "e164":
		return fmt.Sprintf("%s must be in international format, e.g. +971501234567", fe.Field())
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s characters", fe.Field(), map[string]string{"min": "at least", "max": "at most"}[fe.Tag()], fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
