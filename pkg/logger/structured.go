package logger

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

type StructuredLogger struct {
	*logrus.Logger
}

type LogEntry struct {
	*logrus.Entry
}

func NewStructuredLogger(level string, format string) *StructuredLogger {
	logger := logrus.New()

	// Set log level
	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	// Set formatter
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	logger.SetOutput(os.Stdout)

	return &StructuredLogger{Logger: logger}
}

func (l *StructuredLogger) WithContext(ctx context.Context) *LogEntry {
	entry := l.Logger.WithContext(ctx)

	// Add tracing information if available
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		entry = entry.WithFields(logrus.Fields{
			"trace_id": spanCtx.TraceID().String(),
			"span_id":  spanCtx.SpanID().String(),
		})
	}

	return &LogEntry{Entry: entry}
}

func (l *StructuredLogger) WithFields(fields logrus.Fields) *LogEntry {
	return &LogEntry{Entry: l.Logger.WithFields(fields)}
}

func (l *StructuredLogger) WithError(err error) *LogEntry {
	return &LogEntry{Entry: l.Logger.WithError(err)}
}

func (e *LogEntry) WithField(key string, value interface{}) *LogEntry {
	return &LogEntry{Entry: e.Entry.WithField(key, value)}
}

func (e *LogEntry) WithFields(fields logrus.Fields) *LogEntry {
	return &LogEntry{Entry: e.Entry.WithFields(fields)}
}

func (e *LogEntry) WithError(err error) *LogEntry {
	return &LogEntry{Entry: e.Entry.WithError(err)}
}

// SecurityEvent logs a detected security event with a normalized shape
// consumed by the downstream event sink.
func (l *StructuredLogger) SecurityEvent(eventType, source, target string, severity string, details map[string]interface{}) {
	fields := logrus.Fields{
		"event_type": "security",
		"type":       eventType,
		"source":     source,
		"target":     target,
		"severity":   severity,
		"timestamp":  time.Now().UTC(),
	}

	for k, v := range details {
		fields[k] = v
	}

	l.WithFields(fields).Warn("Security event")
}

// Audit logging for administrative operations
func (l *StructuredLogger) Audit(action, user, resource string, success bool, details map[string]interface{}) {
	fields := logrus.Fields{
		"event_type": "audit",
		"action":     action,
		"user":       user,
		"resource":   resource,
		"success":    success,
		"timestamp":  time.Now().UTC(),
	}

	for k, v := range details {
		fields[k] = v
	}

	l.WithFields(fields).Info("Security audit event")
}

// LogError logs an operation failure with context
func (l *StructuredLogger) LogError(ctx context.Context, err error, operation string, metadata map[string]interface{}) {
	entry := l.WithContext(ctx).WithError(err)

	fields := logrus.Fields{
		"operation": operation,
	}

	for k, v := range metadata {
		fields[k] = v
	}

	entry.WithFields(fields).Error("Operation failed")
}
