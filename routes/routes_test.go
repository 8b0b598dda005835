package routes

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "portal-service/common/errors"
	"portal-service/controllers"
	"portal-service/metrics"
	"portal-service/models"
	"portal-service/ratelimit"
	"portal-service/secure"
	"portal-service/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubPayments struct {
	verified []string
}

func (s *stubPayments) CreateCheckoutSession(_ context.Context, id, _ string) (*services.CheckoutResult, error) {
	return &services.CheckoutResult{SessionID: "cs_test_" + id}, nil
}

func (s *stubPayments) HandleWebhook(context.Context, []byte, string) error { return nil }

func (s *stubPayments) VerifySession(_ context.Context, id string) (*services.VerificationResult, error) {
	s.verified = append(s.verified, id)
	return &services.VerificationResult{Success: true, PaymentStatus: models.PaymentStatusPending}, nil
}

type stubTracker struct{}

func (stubTracker) Track(context.Context, string) (*models.TrackingView, error) {
	return nil, apperrors.NotFound("Application not found")
}

type stubUploader struct{}

func (stubUploader) Upload(context.Context, services.UploadRequest) (*services.UploadResult, error) {
	return &services.UploadResult{}, nil
}

type stubProfiles struct{}

func (stubProfiles) Get(_ context.Context, userID string) (*models.Profile, error) {
	return &models.Profile{UserID: userID}, nil
}

func (stubProfiles) Update(_ context.Context, userID string, _ models.UpdateProfileRequest) (*models.Profile, error) {
	return &models.Profile{UserID: userID}, nil
}

func newTestRouter(payments *stubPayments, opts ...ratelimit.Option) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	return NewRouter(Deps{
		Payments:   controllers.NewPaymentController(payments, log),
		Tracking:   controllers.NewTrackingController(stubTracker{}, log),
		Uploads:    controllers.NewUploadController(stubUploader{}, 1<<20, log),
		Profiles:   controllers.NewProfileController(stubProfiles{}, log),
		Health:     controllers.NewHealthController(nil),
		Limiter:    ratelimit.New(ratelimit.NewMemoryStore(), opts...),
		Events:     secure.NewEventLogger(log, m),
		Metrics:    m,
		JWTSecret:  "jwt-secret",
		ServiceKey: "service-key",
		Logger:     log,
	})
}

func TestPreflightOnEveryRoute(t *testing.T) {
	r := newTestRouter(&stubPayments{})
	for _, path := range []string{"/create-checkout-session", "/stripe-webhook", "/verify-payment", "/track-application", "/upload-document", "/profile"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://app.example.ae")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type, stripe-signature")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code, path)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"), path)
	}
}

func TestCheckoutRouteIsRateLimited(t *testing.T) {
	r := newTestRouter(&stubPayments{}, ratelimit.WithConfig(ratelimit.ActionPayment, ratelimit.Config{
		Window: time.Minute, MaxAttempts: 2, BlockDuration: time.Minute,
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/create-checkout-session", bytes.NewBufferString(`{"submissionId":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusOK, send().Code)
	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestWebhookRouteHasNoActionLimit(t *testing.T) {
	r := newTestRouter(&stubPayments{}, ratelimit.WithConfig(ratelimit.ActionAPI, ratelimit.Config{
		Window: time.Minute, MaxAttempts: 1, BlockDuration: time.Minute,
	}))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stripe-webhook", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestProtectedRoutes(t *testing.T) {
	payments := &stubPayments{}
	r := newTestRouter(payments)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/reconcile", strings.NewReader(`{"sessionId":"cs_test_1"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/internal/reconcile", strings.NewReader(`{"sessionId":"cs_test_1"}`))
	req.Header.Set("X-Service-Key", "service-key")
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"cs_test_1"}, payments.verified)
}

func TestOperationalRoutes(t *testing.T) {
	r := newTestRouter(&stubPayments{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "portal_")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/track-application?requestId=WZT-20240115-ZZ99", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRotatedForwardedForDoesNotResetLimit(t *testing.T) {
	r := newTestRouter(&stubPayments{}, ratelimit.WithConfig(ratelimit.ActionPayment, ratelimit.Config{
		Window: time.Minute, MaxAttempts: 5, BlockDuration: time.Minute,
	}))

	var codes []int
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/create-checkout-session", bytes.NewBufferString(`{"submissionId":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.RemoteAddr = "203.0.113.9:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 200, 200, 200, 429, 429, 429, 429, 429}, codes)
}

func TestForwardedForHonouredFromTrustedProxy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	r := NewRouter(Deps{
		Payments: controllers.NewPaymentController(&stubPayments{}, log),
		Tracking: controllers.NewTrackingController(stubTracker{}, log),
		Uploads:  controllers.NewUploadController(stubUploader{}, 1<<20, log),
		Profiles: controllers.NewProfileController(stubProfiles{}, log),
		Health:   controllers.NewHealthController(nil),
		Limiter: ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithConfig(ratelimit.ActionPayment, ratelimit.Config{
			Window: time.Minute, MaxAttempts: 1, BlockDuration: time.Minute,
		})),
		Events:         secure.NewEventLogger(log, m),
		Metrics:        m,
		Logger:         log,
		TrustedProxies: []string{"10.1.0.0/16"},
	})

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/create-checkout-session", bytes.NewBufferString(`{"submissionId":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", client)
		req.RemoteAddr = "10.1.2.3:443"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
}

func TestProfileRejectedTokensExhaustLoginBudget(t *testing.T) {
	r := newTestRouter(&stubPayments{})

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.RemoteAddr = "203.0.113.50:4000"
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, send(), "attempt %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, send())
}
