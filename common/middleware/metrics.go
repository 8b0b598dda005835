package middleware

import (
	"context"
	"net/http"
	"time"

	awspkg "portal-service/pkg/aws"

	"github.com/gin-gonic/gin"
)

const metricsFlushTimeout = 5 * time.Second

// MetricsMiddleware publishes per-route request count and latency to
// CloudWatch, plus status-class error counts and rate-limit rejections.
func MetricsMiddleware(cw *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cw.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		dims := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusClass(status),
		}

		// The request is done; ship metrics off the response path.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), metricsFlushTimeout)
			defer cancel()

			_ = cw.RecordCount(ctx, awspkg.MetricHTTPRequests, dims)
			_ = cw.RecordLatency(ctx, awspkg.MetricHTTPLatency, elapsed, dims)

			switch {
			case status == http.StatusTooManyRequests:
				_ = cw.RecordCount(ctx, awspkg.MetricRateLimitRejected, dims)
			case status >= 500:
				_ = cw.RecordCount(ctx, awspkg.MetricHTTP5xx, dims)
			case status >= 400:
				_ = cw.RecordCount(ctx, awspkg.MetricHTTP4xx, dims)
			}
		}()
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return string(rune('0'+status/100)) + "xx"
}
