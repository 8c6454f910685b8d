// Package notify delivers user-facing notifications when gig state changes.
// The engine calls the dispatcher after commit so a delivery failure can never
// roll back a state change.
package notify

import (
	"context"
	"log/slog"
)

// Dispatcher sends one notification to one recipient. Implementations must
// tolerate being called concurrently.
type Dispatcher interface {
	Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error
}

// Log writes notifications to the structured log. It is the default
// dispatcher; deployments wanting real delivery configure webhooks.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("recipient", recipientID),
		slog.String("kind", kind),
		slog.Any("payload", payload))
	return nil
}

// Multi fans a notification out to several dispatchers, returning the first
// error after attempting all of them.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error {
	var first error
	for _, d := range m {
		if err := d.Notify(ctx, recipientID, kind, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
