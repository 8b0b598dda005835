package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"portal-service/metrics"
	"portal-service/ratelimit"
	"portal-service/secure"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActionRateLimit applies the per-action limiter to the caller identity
// stored by secure.IdentityMiddleware. Store failures let the request through.
func ActionRateLimit(limiter *ratelimit.Limiter, action string, events *secure.EventLogger, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	identifier := secure.ContextIdentifier{}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		res, err := limiter.Check(ctx, action, identifier.Identify(ctx))
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request", zap.String("action", action), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))

		if !res.Allowed {
			retryAfter := res.RetryAfter(time.Now())
			m.RateLimitRejected(action)
			events.Log(ctx, secure.SecurityEvent{
				Type:     secure.EventRateLimitExceeded,
				Severity: secure.SeverityMedium,
				Details:  map[string]interface{}{"action": action, "path": c.FullPath()},
			})
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": (&secure.RateLimitError{Action: action, RetryAfter: retryAfter}).Error(),
			})
			return
		}

		c.Next()
	}
}
