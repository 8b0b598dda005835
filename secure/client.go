// Package secure wraps outbound HTTP calls with rate limiting, input
// sanitization, retries and security event logging.
package secure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"portal-service/ratelimit"

	"go.uber.org/zap"
)

// ErrClientSide marks failures caused by the request itself. They are never
// retried.
var ErrClientSide = errors.New("client-side request error")

// ErrAuthRequired is returned when RequireAuth is set and no token is available.
var ErrAuthRequired = fmt.Errorf("%w: authentication required", ErrClientSide)

const defaultMaxRetries = 3

// RateLimitError is returned when the caller is over its budget.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "Rate limit exceeded. Please try again in " + HumanizeDuration(e.RetryAfter) + "."
}

func (e *RateLimitError) Unwrap() error { return ErrClientSide }

// HumanizeDuration renders d rounded up to whole minutes, or seconds when
// under a minute.
func HumanizeDuration(d time.Duration) string {
	if d < time.Minute {
		secs := int(math.Ceil(d.Seconds()))
		if secs <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := int(math.Ceil(d.Minutes()))
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}

// SecurityHeaders are attached to every outbound request.
var SecurityHeaders = map[string]string{
	"X-Requested-With":       "XMLHttpRequest",
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"X-XSS-Protection":       "1; mode=block",
}

// TokenSource supplies an optional token, such as a CSRF or bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// StaticToken is a fixed token; the empty string means none.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, bool) {
	return string(s), s != ""
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options controls a single Do call.
type Options struct {
	Method        string
	Body          []byte
	Header        http.Header
	RequireAuth   bool
	RateLimit     string // action name; empty disables the check
	ValidateInput bool
	MaxRetries    int // total attempts, defaults to 3
}

type Client struct {
	http       Doer
	limiter    *ratelimit.Limiter
	identifier ClientIdentifier
	csrf       TokenSource
	auth       TokenSource
	events     *EventLogger
	logger     *zap.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

func WithHTTPClient(d Doer) ClientOption {
	return func(c *Client) { c.http = d }
}

func WithIdentifier(id ClientIdentifier) ClientOption {
	return func(c *Client) { c.identifier = id }
}

func WithCSRFToken(ts TokenSource) ClientOption {
	return func(c *Client) { c.csrf = ts }
}

func WithAuthToken(ts TokenSource) ClientOption {
	return func(c *Client) { c.auth = ts }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the backoff sleep; it must return early when ctx ends.
func WithSleep(fn func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient builds a Client. limiter may be nil to disable rate limiting.
func NewClient(limiter *ratelimit.Limiter, events *EventLogger, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 15 * time.Second},
		limiter:    limiter,
		identifier: ContextIdentifier{},
		events:     events,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends a request to url. Responses with status >= 400 are returned to
// the caller, not retried; only transport failures are retried.
func (c *Client) Do(ctx context.Context, url string, opts Options) (*http.Response, error) {
	if opts.RateLimit != "" && c.limiter != nil {
		if err := c.checkRateLimit(ctx, opts.RateLimit); err != nil {
			return nil, err
		}
	}

	body := opts.Body
	if opts.ValidateInput && len(body) > 0 {
		body = SanitizeBody(body)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	attempts := opts.MaxRetries
	if attempts <= 0 {
		attempts = defaultMaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := c.newRequest(ctx, method, url, body, opts)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err == nil {
			if resp.StatusCode >= 400 {
				severity := SeverityLow
				if resp.StatusCode >= 500 {
					severity = SeverityHigh
				}
				c.events.Log(ctx, SecurityEvent{
					Type:     EventSuspiciousUpload,
					Severity: severity,
					Details:  map[string]interface{}{"url": url, "status": resp.StatusCode},
				})
			}
			return resp, nil
		}

		lastErr = err
		if errors.Is(err, ErrClientSide) || ctx.Err() != nil {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		c.logger.Warn("Outbound request failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", url, attempts, lastErr)
}

func (c *Client) checkRateLimit(ctx context.Context, action string) error {
	id := c.identifier.Identify(ctx)
	res, err := c.limiter.Check(ctx, action, id)
	if err != nil {
		// An unavailable store must not take outbound calls down with it.
		c.logger.Warn("Rate limit check failed", zap.String("action", action), zap.Error(err))
		return nil
	}
	if res.Allowed {
		return nil
	}

	retryAfter := res.RetryAfter(c.now())
	c.events.Log(ctx, SecurityEvent{
		Type:     EventRateLimitExceeded,
		Severity: SeverityMedium,
		Details:  map[string]interface{}{"action": action, "retry_after_seconds": int(retryAfter.Seconds())},
	})
	return &RateLimitError{Action: action, RetryAfter: retryAfter}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte, opts Options) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientSide, err)
	}

	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range SecurityHeaders {
		req.Header.Set(k, v)
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != nil {
		if token, ok := c.csrf.Token(ctx); ok {
			req.Header.Set("X-CSRF-Token", token)
		}
	}
	if opts.RequireAuth {
		if c.auth == nil {
			return nil, ErrAuthRequired
		}
		token, ok := c.auth.Token(ctx)
		if !ok {
			return nil, ErrAuthRequired
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
