package logger

import (
	"context"

	kcontext "github.com/kiln-build/kiln/pkg/context"
)

// LoggerContext extends the Logger interface with context-aware methods
// that attach build-run correlation fields automatically.
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
	SuccessContext(ctx context.Context, message string, fields ...Field)
}

// Ensure TargetLogger implements LoggerContext
var _ LoggerContext = (*TargetLogger)(nil)

// InfoContext logs an info message with build-run correlation
func (l *TargetLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	l.Info(message, append(l.extractContextFields(ctx), fields...)...)
}

// ErrorContext logs an error message with build-run correlation
func (l *TargetLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	l.Error(message, append(l.extractContextFields(ctx), fields...)...)
}

// WarnContext logs a warning message with build-run correlation
func (l *TargetLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	l.Warn(message, append(l.extractContextFields(ctx), fields...)...)
}

// DebugContext logs a debug message with build-run correlation
func (l *TargetLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	l.Debug(message, append(l.extractContextFields(ctx), fields...)...)
}

// SuccessContext logs a success message with build-run correlation
func (l *TargetLogger) SuccessContext(ctx context.Context, message string, fields ...Field) {
	l.Success(message, append(l.extractContextFields(ctx), fields...)...)
}

// extractContextFields extracts build-run fields from context
func (l *TargetLogger) extractContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field

	if runID := kcontext.GetRunID(ctx); runID != "unknown-run" {
		fields = append(fields, WithField("run_id", runID))
	}

	// A logger without a bound target picks one up from the build run
	if l.targetName == "" {
		if target := kcontext.GetTarget(ctx); target != "" {
			fields = append(fields, WithField("target", target))
		}
	}

	if op := kcontext.GetOperation(ctx); op != "unknown-operation" {
		fields = append(fields, WithField("operation", op))
	}

	if duration := kcontext.GetDuration(ctx); duration > 0 {
		fields = append(fields, WithField("duration_ms", duration.Milliseconds()))
	}

	return fields
}
