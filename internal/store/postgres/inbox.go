package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// NotificationRepo implements store.NotificationRepository with sqlx.
type NotificationRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (r *NotificationRepo) Create(ctx context.Context, n *store.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.clk.Now()
	}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, related_item_id, related_transaction_id, is_read, created_at)
		 VALUES (:id, :user_id, :type, :title, :message, :related_item_id, :related_transaction_id, :is_read, :created_at)`, n)
	if err != nil {
		return fmt.Errorf("creating notification: %w", mapErr(err))
	}
	return nil
}

// ListForUser returns notifications newest first. A limit of zero or less
// means no limit.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error) {
	var out []store.Notification
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		 ORDER BY created_at DESC
		 LIMIT NULLIF($3, 0)`, userID, unreadOnly, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", mapErr(err))
	}
	return out, nil
}

func (r *NotificationRepo) MarkRead(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MessageRepo implements store.MessageRepository with sqlx.
type MessageRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (r *MessageRepo) Create(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.clk.Now()
	}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, created_at)
		 VALUES (:id, :sender_id, :receiver_id, :content, :created_at)`, m)
	if err != nil {
		return fmt.Errorf("creating message: %w", mapErr(err))
	}
	return nil
}

func (r *MessageRepo) ListForUser(ctx context.Context, userID string) ([]store.Message, error) {
	var out []store.Message
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM messages WHERE sender_id = $1 OR receiver_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", mapErr(err))
	}
	return out, nil
}
