// Package notify records user-facing notifications. Delivery is
// fire-and-forget: a failed notification is logged and never undoes the
// state change that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Hrittik20/TSUSwap/internal/store"
)

// InboxLimit caps how many notifications List returns.
const InboxLimit = 50

// Notifier receives notifications produced by the engines.
type Notifier interface {
	Notify(ctx context.Context, n store.Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n store.Notification)

func (f Func) Notify(ctx context.Context, n store.Notification) { f(ctx, n) }

// Fanout delivers every notification to each of its sinks in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n store.Notification) {
	for _, s := range f {
		s.Notify(ctx, n)
	}
}

// Recorder persists notifications to the user's inbox.
type Recorder struct {
	repo   store.NotificationRepository
	logger *slog.Logger
}

// NewRecorder returns a Recorder writing to repo.
func NewRecorder(repo store.NotificationRepository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Notify(ctx context.Context, n store.Notification) {
	if err := r.repo.Create(ctx, &n); err != nil {
		r.logger.ErrorContext(ctx, "recording notification",
			slog.String("user_id", n.UserID),
			slog.String("type", string(n.Type)),
			slog.Any("error", err),
		)
	}
}

// List returns the newest notifications of userID.
func (r *Recorder) List(ctx context.Context, userID string, unreadOnly bool) ([]store.Notification, error) {
	out, err := r.repo.ListForUser(ctx, userID, unreadOnly, InboxLimit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return out, nil
}

// ErrNotFound is returned by MarkRead for a notification the user does not own.
var ErrNotFound = errors.New("notification not found")

// MarkRead flags one of userID's notifications as read.
func (r *Recorder) MarkRead(ctx context.Context, userID, id string) error {
	if err := r.repo.MarkRead(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("marking notification read: %w", err)
	}
	return nil
}

// For builds a notification for userID about itemID.
func For(userID string, t store.NotificationType, title, message, itemID string) store.Notification {
	n := store.Notification{
		UserID:  userID,
		Type:    t,
		Title:   title,
		Message: message,
	}
	if itemID != "" {
		n.RelatedItemID = &itemID
	}
	return n
}
