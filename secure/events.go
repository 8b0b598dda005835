package secure

import (
	"context"

	"portal-service/metrics"

	"go.uber.org/zap"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventSuspiciousUpload  = "suspicious_upload"
	EventInvalidSignature  = "invalid_webhook_signature"
	EventInvalidFile       = "invalid_file_upload"
)

// SecurityEvent is an anomaly worth recording. Details are logged, never
// returned to the client.
type SecurityEvent struct {
	Type     string
	Severity string
	Details  map[string]interface{}
}

// EventLogger records security events as structured logs and counters.
type EventLogger struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	identifier ClientIdentifier
}

func NewEventLogger(logger *zap.Logger, m *metrics.Metrics) *EventLogger {
	return &EventLogger{logger: logger, metrics: m, identifier: ContextIdentifier{}}
}

func (l *EventLogger) Log(ctx context.Context, ev SecurityEvent) {
	if l == nil {
		return
	}
	l.metrics.SecurityEvent(ev.Type, ev.Severity)

	fields := []zap.Field{
		zap.String("event", ev.Type),
		zap.String("severity", ev.Severity),
		zap.String("client", l.identifier.Identify(ctx)),
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}

	switch ev.Severity {
	case SeverityHigh:
		l.logger.Error("security_event", fields...)
	case SeverityMedium:
		l.logger.Warn("security_event", fields...)
	default:
		l.logger.Info("security_event", fields...)
	}
}
