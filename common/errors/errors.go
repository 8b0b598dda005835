package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// IsClient reports whether the error is safe to show to the caller verbatim.
func (e *Error) IsClient() bool {
	return e.Code >= 400 && e.Code < 500
}

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message, nil)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message, nil)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message, nil)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, message, nil)
}

func TooManyRequests(message string) *Error {
	return New(http.StatusTooManyRequests, message, nil)
}

// Upstream wraps a payment provider or storage failure. The message is the
// generic text returned to clients; err is only logged.
func Upstream(message string, err error) *Error {
	return New(http.StatusBadGateway, message, err)
}

func Internal(message string, err error) *Error {
	return New(http.StatusInternalServerError, message, err)
}

// As extracts an *Error from err. Unknown errors become a generic 500 that
// still carries the original error for logging.
func As(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal server error", err)
}

// Respond writes err as {"error": message}. Server-side failures are logged
// with full detail; the client only sees the safe message.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	appErr := As(err)
	if !appErr.IsClient() && logger != nil {
		logger.Error(appErr.Message,
			zap.Int("status", appErr.Code),
			zap.String("path", c.Request.URL.Path),
			zap.Error(appErr.Err),
		)
	}
	c.JSON(appErr.Code, gin.H{"error": appErr.Message})
}

// ErrorMiddleware renders the last error attached with c.Error.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			Respond(c, logger, c.Errors.Last().Err)
			c.Abort()
		}
	}
}

// Common error types
var (
	ErrInvalidSignature = New(http.StatusBadRequest, "Invalid webhook signature", nil)
	ErrMissingMetadata  = New(http.StatusBadRequest, "Missing submission metadata", nil)
	ErrUnauthorized     = New(http.StatusUnauthorized, "Unauthorized", nil)
	ErrNotFound         = New(http.StatusNotFound, "Not found", nil)
	ErrInternalServer   = New(http.StatusInternalServerError, "Internal server error", nil)
)
