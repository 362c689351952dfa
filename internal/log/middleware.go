package log

import (
	"context"
	"log/slog"
	"net/http"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// StructuredLogger provides the domain's recurring log lines.
type StructuredLogger struct {
	logger *Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{
		logger: logger,
	}
}

// Logger returns the underlying logger for one-off lines.
func (sl *StructuredLogger) Logger() *Logger {
	return sl.logger
}

// LogHTTPEnd logs the completion of an HTTP request
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.logger.Logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogImportCompleted logs the outcome of one ingestion.
func (sl *StructuredLogger) LogImportCompleted(ctx context.Context, batchID int64, channel, status string, seen, imported, duplicates, failed int) {
	fields := NewFields().
		WithOperation(OpImport).
		WithComponent(ComponentImport).
		ToSlice()
	fields = append(fields,
		FieldBatchID, batchID,
		FieldChannel, channel,
		"status", status,
		"seen", seen,
		"imported", imported,
		"duplicates", duplicates,
		"failed", failed,
	)

	level := slog.LevelInfo
	if failed > 0 {
		level = slog.LevelWarn
	}
	sl.logger.Logger.Log(ctx, level, "Import completed", fields...)
}

// LogClassified logs a stored AI suggestion.
func (sl *StructuredLogger) LogClassified(ctx context.Context, expenseID int64, l1, l2 string) {
	fields := NewFields().
		WithCategories(l1, l2).
		WithOperation(OpClassify).
		WithComponent(ComponentClassifier)
	fields[FieldExpenseID] = expenseID

	sl.logger.Logger.InfoContext(ctx, "Expense classified", fields.ToSlice()...)
}

// LogError logs an error with structured context
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component string, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	allFields := fields.
		WithError(err).
		WithOperation(operation).
		WithComponent(component)

	sl.logger.Logger.ErrorContext(ctx, msg, allFields.ToSlice()...)
}
