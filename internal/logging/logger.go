package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log
// aggregation. Otherwise it uses the human-readable text handler.
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

// WithAgent returns a logger with the calling agent's identity attached.
// Use this for all logging within an authenticated request.
func WithAgent(agentID, ownerID string) *slog.Logger {
	return slog.With(
		"agent_id", agentID,
		"owner_id", ownerID,
	)
}

// WithBreadcrumb returns a logger scoped to one record's mutation path
func WithBreadcrumb(logger *slog.Logger, breadcrumbID string, version int) *slog.Logger {
	return logger.With(
		"breadcrumb_id", breadcrumbID,
		"version", version,
	)
}
