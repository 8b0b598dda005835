package routes

import (
	"net/http"
	"time"

	apperrors "portal-service/common/errors"
	"portal-service/common/logger"
	commonmw "portal-service/common/middleware"
	"portal-service/controllers"
	"portal-service/metrics"
	"portal-service/middleware"
	awspkg "portal-service/pkg/aws"
	"portal-service/ratelimit"
	"portal-service/secure"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// Deps is everything the router needs. CloudWatch, FloodGuard and Metrics
// may be nil.
type Deps struct {
	Payments   *controllers.PaymentController
	Tracking   *controllers.TrackingController
	Uploads    *controllers.UploadController
	Profiles   *controllers.ProfileController
	Health     *controllers.HealthController
	Limiter    *ratelimit.Limiter
	Events     *secure.EventLogger
	Metrics    *metrics.Metrics
	CloudWatch *awspkg.MetricsClient
	FloodGuard *commonmw.FloodGuard
	JWTSecret  string
	ServiceKey string
	Logger     *zap.Logger

	// TrustedProxies lists the proxy CIDRs allowed to set X-Forwarded-For.
	// Empty means the peer address is always the client address.
	TrustedProxies []string
}

// NewRouter builds the engine with the global middleware chain and every route.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(d.TrustedProxies); err != nil {
		d.Logger.Error("Invalid trusted proxy list, trusting none", zap.Strings("proxies", d.TrustedProxies), zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(commonmw.RequestLogger(d.Logger))
	r.Use(commonmw.CORSMiddleware())
	r.Use(commonmw.SecurityHeaders())
	if d.FloodGuard != nil {
		r.Use(d.FloodGuard.Middleware())
	}
	r.Use(secure.IdentityMiddleware())
	r.Use(commonmw.MetricsMiddleware(d.CloudWatch, "business-portal"))
	r.Use(commonmw.Timeout(requestTimeout))
	r.Use(apperrors.ErrorMiddleware(d.Logger))

	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	limit := func(action string) gin.HandlerFunc {
		return middleware.ActionRateLimit(d.Limiter, action, d.Events, d.Metrics, d.Logger)
	}

	r.POST("/create-checkout-session", limit(ratelimit.ActionPayment), d.Payments.CreateCheckoutSession)
	r.POST("/verify-payment", limit(ratelimit.ActionVerification), d.Payments.VerifyPayment)

	// Stripe retries on its own schedule and signs every delivery.
	r.POST("/stripe-webhook", d.Payments.StripeWebhook)

	r.GET("/track-application", limit(ratelimit.ActionAPI), d.Tracking.TrackApplication)
	r.POST("/upload-document", limit(ratelimit.ActionUpload), d.Uploads.UploadDocument)

	profile := r.Group("/profile")
	profile.Use(
		middleware.LoginGuard(d.Limiter, d.Events, d.Logger),
		middleware.AuthMiddleware([]byte(d.JWTSecret)),
		limit(ratelimit.ActionAPI),
	)
	{
		profile.GET("", d.Profiles.GetProfile)
		profile.PUT("", d.Profiles.UpdateProfile)
	}

	internal := r.Group("/internal")
	internal.Use(middleware.ServiceKeyMiddleware(d.ServiceKey))
	internal.POST("/reconcile", d.Payments.Reconcile)

	r.GET("/health", d.Health.Health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}
