package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"portal-service/ratelimit"
	"portal-service/secure"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoginGuard wraps an authentication middleware. Rejected bearer tokens count
// against the login budget of the caller; once it is spent the caller gets
// 429 without the token being checked. A successful authentication clears
// the count.
func LoginGuard(limiter *ratelimit.Limiter, events *secure.EventLogger, logger *zap.Logger) gin.HandlerFunc {
	identifier := secure.ContextIdentifier{}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := identifier.Identify(ctx)

		status, err := limiter.GetStatus(ctx, ratelimit.ActionLogin, id)
		if err != nil {
			logger.Warn("Rate limiter unavailable, skipping login guard", zap.Error(err))
			c.Next()
			return
		}
		if !status.Allowed {
			retryAfter := status.RetryAfter(time.Now())
			events.Log(ctx, secure.SecurityEvent{
				Type:     secure.EventRateLimitExceeded,
				Severity: secure.SeverityHigh,
				Details:  map[string]interface{}{"action": ratelimit.ActionLogin, "path": c.FullPath()},
			})
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": (&secure.RateLimitError{Action: ratelimit.ActionLogin, RetryAfter: retryAfter}).Error(),
			})
			return
		}

		c.Next()

		switch {
		case GetUserID(c) != "":
			if err := limiter.Reset(ctx, ratelimit.ActionLogin, id); err != nil {
				logger.Warn("Failed to clear login attempts", zap.Error(err))
			}
		case c.Writer.Status() == http.StatusUnauthorized:
			if _, err := limiter.Check(ctx, ratelimit.ActionLogin, id); err != nil {
				logger.Warn("Failed to count login attempt", zap.Error(err))
			}
		}
	}
}
