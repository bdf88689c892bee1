package event

import (
	"context"
	"log/slog"
	"time"
)

// Store persists and retrieves events.
type Store interface {
	// Append persists one or more events atomically.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an item, oldest first.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type, oldest first.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}

// Record appends an event built from payload. The audit log never decides
// the outcome of an operation, so failures are logged and dropped.
func Record(ctx context.Context, s Store, logger *slog.Logger, itemID string, t Type, payload any, at time.Time) {
	if s == nil {
		return
	}
	evt, err := New(itemID, t, payload, at)
	if err != nil {
		logger.ErrorContext(ctx, "encoding event", slog.String("type", string(t)), slog.Any("error", err))
		return
	}
	if err := s.Append(ctx, evt); err != nil {
		logger.ErrorContext(ctx, "appending event",
			slog.String("type", string(t)),
			slog.String("item_id", itemID),
			slog.Any("error", err),
		)
	}
}
