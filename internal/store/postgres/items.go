package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// ItemRepo implements store.ItemRepository with sqlx.
type ItemRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (r *ItemRepo) CreateListing(ctx context.Context, item *store.Item, auction *store.Auction, admit func(*store.User) error) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = r.clk.Now()
	}
	if auction != nil {
		if auction.ID == "" {
			auction.ID = uuid.NewString()
		}
		auction.ItemID = item.ID
	}

	return inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		var seller store.User
		if err := tx.GetContext(ctx, &seller,
			`SELECT * FROM users WHERE id = $1 FOR UPDATE`, item.SellerID); err != nil {
			return fmt.Errorf("locking seller: %w", mapErr(err))
		}

		if admit != nil {
			if err := admit(&seller); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET auctions_used_this_month = $1, auction_limit_reset_at = $2 WHERE id = $3`,
				seller.AuctionsUsedThisMonth, seller.AuctionLimitResetAt, seller.ID); err != nil {
				return fmt.Errorf("updating auction quota: %w", err)
			}
		}

		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO items (id, title, description, price, images, category, condition, listing_type, status, seller_id, created_at)
			 VALUES (:id, :title, :description, :price, :images, :category, :condition, :listing_type, :status, :seller_id, :created_at)`,
			item); err != nil {
			return fmt.Errorf("inserting item: %w", mapErr(err))
		}

		if auction != nil {
			if _, err := tx.NamedExecContext(ctx,
				`INSERT INTO auctions (id, item_id, start_price, current_price, reserve_price, end_time, is_active)
				 VALUES (:id, :item_id, :start_price, :current_price, :reserve_price, :end_time, :is_active)`,
				auction); err != nil {
				return fmt.Errorf("inserting auction: %w", mapErr(err))
			}
		}
		return nil
	})
}

func (r *ItemRepo) GetByID(ctx context.Context, id string) (*store.Item, error) {
	var it store.Item
	if err := r.db.GetContext(ctx, &it, `SELECT * FROM items WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("getting item: %w", mapErr(err))
	}
	return &it, nil
}

func (r *ItemRepo) ListBySeller(ctx context.Context, sellerID string) ([]store.Item, error) {
	var items []store.Item
	err := r.db.SelectContext(ctx, &items,
		`SELECT * FROM items WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing seller items: %w", mapErr(err))
	}
	return items, nil
}

func (r *ItemRepo) Relist(ctx context.Context, id string) error {
	return inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET status = 'ACTIVE' WHERE id = $1 AND status IN ('SOLD', 'CANCELLED')`, id)
		if err != nil {
			return fmt.Errorf("relisting item: %w", mapErr(err))
		}
		if err := affected(res, rowExists(ctx, tx, "items", id)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE auctions SET is_active = TRUE WHERE item_id = $1`, id); err != nil {
			return fmt.Errorf("reactivating auction: %w", err)
		}
		return nil
	})
}

func (r *ItemRepo) Withdraw(ctx context.Context, id string) error {
	return inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		// Bids update the auction row, so holding it keeps the no-bids
		// check valid until commit.
		if _, err := tx.ExecContext(ctx, `SELECT 1 FROM auctions WHERE item_id = $1 FOR UPDATE`, id); err != nil {
			return fmt.Errorf("locking auction: %w", mapErr(err))
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET status = 'CANCELLED'
			 WHERE id = $1 AND status = 'ACTIVE'
			   AND NOT EXISTS (
			       SELECT 1 FROM bids b JOIN auctions a ON a.id = b.auction_id WHERE a.item_id = $1
			   )`, id)
		if err != nil {
			return fmt.Errorf("withdrawing item: %w", mapErr(err))
		}
		if err := affected(res, rowExists(ctx, tx, "items", id)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE auctions SET is_active = FALSE WHERE item_id = $1`, id); err != nil {
			return fmt.Errorf("deactivating auction: %w", err)
		}
		return nil
	})
}

func (r *ItemRepo) Delete(ctx context.Context, id string) error {
	return inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		var locked string
		if err := tx.GetContext(ctx, &locked, `SELECT id FROM items WHERE id = $1 FOR UPDATE`, id); err != nil {
			return fmt.Errorf("locking item: %w", mapErr(err))
		}

		steps := []struct {
			what  string
			query string
		}{
			{"deleting bids", `DELETE FROM bids WHERE auction_id IN (SELECT id FROM auctions WHERE item_id = $1)`},
			{"deleting auction", `DELETE FROM auctions WHERE item_id = $1`},
			{"deleting reports", `DELETE FROM reports WHERE item_id = $1`},
			{"cancelling open transactions", `UPDATE transactions SET status = 'CANCELLED' WHERE item_id = $1 AND status IN ('PENDING', 'FUNDS_HELD')`},
			{"deleting item", `DELETE FROM items WHERE id = $1`},
		}
		for _, s := range steps {
			if _, err := tx.ExecContext(ctx, s.query, id); err != nil {
				return fmt.Errorf("%s: %w", s.what, err)
			}
		}
		return nil
	})
}
