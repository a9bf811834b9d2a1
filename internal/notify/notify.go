// Package notify delivers job lifecycle events to interested users.
// Delivery is fire-and-forget: a failed notification never affects the
// outcome of the job that produced it.
package notify

import (
	"context"
	"log/slog"
)

// Event types raised by the orchestration core.
const (
	EventJobSuccess    = "job_success"
	EventJobFailure    = "job_failure"
	EventBatchComplete = "batch_complete"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is one notification to be delivered.
type Event struct {
	UserID   int64
	Type     string
	Severity string
	Title    string
	Message  string
	Metadata map[string]any
}

// Notifier receives completion/failure events. Implementations must not
// block the caller for long and must swallow their own delivery errors.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the structured log. It is the default
// sink when no delivery service is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	n.logger.InfoContext(ctx, "notification",
		"user_id", event.UserID,
		"event_type", event.Type,
		"severity", event.Severity,
		"title", event.Title,
		"message", event.Message,
	)
}

// Discard drops every event. Used by tests.
type Discard struct{}

func (Discard) Notify(context.Context, Event) {}
