// Package notify defines the notification collaborator: best-effort,
// human-readable status updates keyed by an external recipient identifier.
// Delivery must never block call handling.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers one status message to a recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient, message string) error
}

// Verify interface compliance at compile time.
var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log. The default sink when no
// messaging integration is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, recipient, message string) error {
	n.log.Info("notification", "recipient", recipient, "message", message)
	return nil
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, recipient, message string) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, recipient, message string) error {
	return f(ctx, recipient, message)
}
