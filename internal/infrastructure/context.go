package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

// runIDContextKey stores the analysis run ID in a context.
const runIDContextKey contextKey = "run_id"

// GenerateRunID creates a new unique run ID.
func GenerateRunID() string {
	return uuid.New().String()
}

// WithRunID attaches a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey, runID)
}

// RunIDFromContext extracts the run ID, empty when absent.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDContextKey).(string); ok {
		return id
	}
	return ""
}

// LoggerWithContext returns the global logger annotated with the context's
// run ID when present.
func LoggerWithContext(ctx context.Context) *slog.Logger {
	logger := GetLogger()
	if runID := RunIDFromContext(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}
	return logger
}
