package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// TransactionRepo implements store.TransactionRepository with sqlx.
type TransactionRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (r *TransactionRepo) Open(ctx context.Context, itemID string, build func(*store.Item, *store.Auction) (*store.Transaction, error)) (*store.Transaction, error) {
	var out *store.Transaction
	err := inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		var it store.Item
		if err := tx.GetContext(ctx, &it, `SELECT * FROM items WHERE id = $1 FOR UPDATE`, itemID); err != nil {
			return fmt.Errorf("locking item: %w", mapErr(err))
		}

		var auction *store.Auction
		var a store.Auction
		err := tx.GetContext(ctx, &a, `SELECT * FROM auctions WHERE item_id = $1 FOR UPDATE`, itemID)
		switch {
		case err == nil:
			auction = &a
		case !errors.Is(mapErr(err), store.ErrNotFound):
			return fmt.Errorf("locking auction: %w", err)
		}

		t, err := build(&it, auction)
		if err != nil {
			return err
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = r.clk.Now()
		}

		if _, err := tx.ExecContext(ctx, `UPDATE items SET status = 'SOLD' WHERE id = $1`, itemID); err != nil {
			return fmt.Errorf("marking item sold: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE auctions SET is_active = FALSE WHERE item_id = $1`, itemID); err != nil {
			return fmt.Errorf("deactivating auction: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO transactions (id, amount, commission_amount, payment_method, status, authorization_ref,
			                           item_id, buyer_id, seller_id, meeting_scheduled, completed_at, created_at)
			 VALUES (:id, :amount, :commission_amount, :payment_method, :status, :authorization_ref,
			         :item_id, :buyer_id, :seller_id, :meeting_scheduled, :completed_at, :created_at)`, t); err != nil {
			return fmt.Errorf("inserting transaction: %w", mapErr(err))
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*store.Transaction, error) {
	var t store.Transaction
	if err := r.db.GetContext(ctx, &t, `SELECT * FROM transactions WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("getting transaction: %w", mapErr(err))
	}
	return &t, nil
}

func (r *TransactionRepo) ListForUser(ctx context.Context, userID string) ([]store.Transaction, error) {
	var txs []store.Transaction
	err := r.db.SelectContext(ctx, &txs,
		`SELECT * FROM transactions WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		if errors.Is(mapErr(err), store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txs, nil
}

func statusArray(from []store.TransactionStatus) pq.StringArray {
	out := make(pq.StringArray, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}

func (r *TransactionRepo) Complete(ctx context.Context, id string, from []store.TransactionStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET status = 'COMPLETED', completed_at = $2
		 WHERE id = $1 AND status = ANY($3)`, id, at, statusArray(from))
	if err != nil {
		return fmt.Errorf("completing transaction: %w", mapErr(err))
	}
	return affected(res, rowExists(ctx, r.db, "transactions", id))
}

func (r *TransactionRepo) Cancel(ctx context.Context, id string, from []store.TransactionStatus) error {
	return inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		var itemID string
		err := tx.GetContext(ctx, &itemID,
			`UPDATE transactions SET status = 'CANCELLED'
			 WHERE id = $1 AND status = ANY($2) RETURNING item_id`, id, statusArray(from))
		if errors.Is(err, sql.ErrNoRows) {
			ok, exErr := rowExists(ctx, tx, "transactions", id)()
			if exErr != nil {
				return exErr
			}
			if ok {
				return store.ErrConflict
			}
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("cancelling transaction: %w", mapErr(err))
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET status = 'ACTIVE' WHERE id = $1 AND status = 'SOLD'`, itemID); err != nil {
			return fmt.Errorf("reverting item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE auctions SET is_active = TRUE WHERE item_id = $1`, itemID); err != nil {
			return fmt.Errorf("reactivating auction: %w", err)
		}
		return nil
	})
}
