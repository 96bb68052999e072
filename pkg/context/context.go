// Package context carries build-run metadata through pipeline calls
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey carries a name so each key variable is a distinct
// allocation. Pointers to zero-size values may compare equal, which
// would let one key's value shadow another.
type contextKey struct{ name string }

// Context keys for build-run correlation.
var (
	runIDKey     = &contextKey{"run_id"}
	targetKey    = &contextKey{"target"}
	operationKey = &contextKey{"operation"}
	startTimeKey = &contextKey{"start_time"}
)

// WithRunID adds a build-run ID to the context
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the build-run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown-run"
}

// WithTarget adds the build target name to the context
func WithTarget(parent context.Context, target string) context.Context {
	return context.WithValue(parent, targetKey, target)
}

// GetTarget retrieves the build target name from context
func GetTarget(ctx context.Context) string {
	if t, ok := ctx.Value(targetKey).(string); ok && t != "" {
		return t
	}
	return ""
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		return op
	}
	return "unknown-operation"
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the operation start time from context
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// GetDuration returns the elapsed time since the start time in context
func GetDuration(ctx context.Context) time.Duration {
	start := GetStartTime(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// GenerateRunID creates a new unique build-run ID
func GenerateRunID() string {
	return uuid.New().String()
}

// NewBuildRun creates a context carrying a fresh run ID and start time
func NewBuildRun(parent context.Context, target string) context.Context {
	ctx := WithRunID(parent, "")
	ctx = WithStartTime(ctx, time.Now())
	if target != "" {
		ctx = WithTarget(ctx, target)
	}
	return ctx
}
