package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// UserRepo implements store.UserRepository with sqlx.
type UserRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.clk.Now()
	}
	if u.AuctionLimitResetAt.IsZero() {
		u.AuctionLimitResetAt = u.CreatedAt
	}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO users (id, name, email, auctions_used_this_month, auction_limit_reset_at, created_at)
		 VALUES (:id, :name, :email, :auctions_used_this_month, :auction_limit_reset_at, :created_at)`, u)
	if err != nil {
		return fmt.Errorf("creating user: %w", mapErr(err))
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	if err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("getting user: %w", mapErr(err))
	}
	return &u, nil
}
