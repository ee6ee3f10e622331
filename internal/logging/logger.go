package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithRecord returns a logger with context-record fields attached.
// Use this for all logging within a linking operation.
func WithRecord(contextID, projectID, branch string) *slog.Logger {
	return slog.With(
		"context_id", contextID,
		"project_id", projectID,
		"branch", branch,
	)
}

// WithEvent returns a logger scoped to a specific push event.
func WithEvent(logger *slog.Logger, eventID, commitHash string) *slog.Logger {
	return logger.With(
		"event_id", eventID,
		"commit_hash", commitHash,
	)
}
