// Package postgres is the ledger store on PostgreSQL. Every multi-row
// operation runs in one database transaction; contended rows are taken
// with SELECT ... FOR UPDATE or changed by a conditional UPDATE whose
// affected-row count decides the outcome.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/config"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

func init() {
	store.Register("postgres", open)
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return New(db, clk), nil
}

// New wraps an open database in the store repositories.
func New(db *sqlx.DB, clk clock.Clock) *store.Repositories {
	if clk == nil {
		clk = clock.Real{}
	}
	return &store.Repositories{
		Users:         &UserRepo{db: db, clk: clk},
		Items:         &ItemRepo{db: db, clk: clk},
		Auctions:      &AuctionRepo{db: db, clk: clk},
		Transactions:  &TransactionRepo{db: db, clk: clk},
		Reports:       &ReportRepo{db: db, clk: clk},
		Notifications: &NotificationRepo{db: db, clk: clk},
		Messages:      &MessageRepo{db: db, clk: clk},
		Events:        &EventStore{db: db, clk: clk},
		Closer:        db,
		Ping:          db.PingContext,
	}
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
