package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var a store.Auction
	if err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("getting auction: %w", mapErr(err))
	}
	return &a, nil
}

func (r *AuctionRepo) GetByItemID(ctx context.Context, itemID string) (*store.Auction, error) {
	var a store.Auction
	if err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE item_id = $1`, itemID); err != nil {
		return nil, fmt.Errorf("getting auction by item: %w", mapErr(err))
	}
	return &a, nil
}

// PlaceBid raises the price with a single conditional UPDATE keyed on the
// previous price and the deadline, then records the bid in the same
// transaction.
func (r *AuctionRepo) PlaceBid(ctx context.Context, bid *store.Bid, expected decimal.Decimal, now time.Time) error {
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = now
	}

	return inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE auctions SET current_price = $1
			 WHERE id = $2 AND is_active AND end_time >= $3
			   AND current_price = $4 AND $1 > current_price`,
			bid.Amount, bid.AuctionID, now, expected)
		if err != nil {
			return fmt.Errorf("raising auction price: %w", mapErr(err))
		}
		if err := affected(res, rowExists(ctx, tx, "auctions", bid.AuctionID)); err != nil {
			return err
		}

		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
			 VALUES (:id, :auction_id, :bidder_id, :amount, :created_at)`, bid); err != nil {
			return fmt.Errorf("inserting bid: %w", mapErr(err))
		}
		return nil
	})
}

func (r *AuctionRepo) ListBids(ctx context.Context, auctionID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE auction_id = $1 ORDER BY created_at ASC`, auctionID)
	if err != nil {
		if errors.Is(mapErr(err), store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

const highestBidQuery = `SELECT * FROM bids WHERE auction_id = $1
	ORDER BY amount DESC, created_at ASC LIMIT 1`

func (r *AuctionRepo) HighestBid(ctx context.Context, auctionID string) (*store.Bid, error) {
	var b store.Bid
	if err := r.db.GetContext(ctx, &b, highestBidQuery, auctionID); err != nil {
		return nil, fmt.Errorf("getting highest bid: %w", mapErr(err))
	}
	return &b, nil
}

func (r *AuctionRepo) ListExpired(ctx context.Context, now time.Time) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions WHERE is_active AND end_time < $1 ORDER BY end_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) CountExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM auctions WHERE is_active AND end_time < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("counting expired auctions: %w", err)
	}
	return n, nil
}

// Settle locks the auction row, so of two concurrent sweeps only the first
// sees it active; the second returns SettleSkipped.
func (r *AuctionRepo) Settle(ctx context.Context, auctionID string, now time.Time) (*store.Settlement, error) {
	var out *store.Settlement
	err := inTx(ctx, r.db, readCommitted, func(tx *sqlx.Tx) error {
		var a store.Auction
		if err := tx.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1 FOR UPDATE`, auctionID); err != nil {
			return fmt.Errorf("locking auction: %w", mapErr(err))
		}
		if !a.IsActive || !a.EndTime.Before(now) {
			out = &store.Settlement{Outcome: store.SettleSkipped, Auction: a}
			return nil
		}

		var it store.Item
		if err := tx.GetContext(ctx, &it, `SELECT * FROM items WHERE id = $1 FOR UPDATE`, a.ItemID); err != nil {
			return fmt.Errorf("locking item: %w", mapErr(err))
		}

		res, err := tx.ExecContext(ctx, `UPDATE auctions SET is_active = FALSE WHERE id = $1 AND is_active`, a.ID)
		if err != nil {
			return fmt.Errorf("closing auction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			out = &store.Settlement{Outcome: store.SettleSkipped, Auction: a}
			return nil
		}
		a.IsActive = false

		var winner store.Bid
		err = tx.GetContext(ctx, &winner, highestBidQuery, a.ID)
		switch {
		case err == nil:
			out = &store.Settlement{Outcome: store.SettleSold, Auction: a, Item: it, Winner: &winner}
			return nil
		case !errors.Is(mapErr(err), store.ErrNotFound):
			return fmt.Errorf("getting highest bid: %w", err)
		}

		it.ListingType = store.ListingRegular
		it.Price = decimal.NullDecimal{Decimal: a.StartPrice, Valid: true}
		it.Status = store.ItemActive
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET listing_type = $1, price = $2, status = $3 WHERE id = $4`,
			it.ListingType, it.Price, it.Status, it.ID); err != nil {
			return fmt.Errorf("converting item to regular: %w", err)
		}
		out = &store.Settlement{Outcome: store.SettleNoBids, Auction: a, Item: it}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
