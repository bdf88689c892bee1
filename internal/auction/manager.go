// Package auction runs bidding and settles auctions after their deadline.
//
// Deadlines are enforced lazily: PlaceBid rejects bids once the end time
// has passed, and SweepEnded settles expired auctions on its next run.
// Settlement therefore happens within one sweep interval of the deadline.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

const instrumentation = "github.com/Hrittik20/TSUSwap/internal/auction"

// maxBidAttempts bounds how often PlaceBid re-reads the auction after
// losing a compare-and-swap to a concurrent bidder.
const maxBidAttempts = 5

type metrics struct {
	bidsAccepted metric.Int64Counter
	bidsRejected metric.Int64Counter
	processed    metric.Int64Counter
	converted    metric.Int64Counter
	sold         metric.Int64Counter
	errors       metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentation)
	var m metrics
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.bidsAccepted, "market.bids.accepted", "Bids accepted."},
		{&m.bidsRejected, "market.bids.rejected", "Bids rejected, by reason."},
		{&m.processed, "market.sweep.processed", "Expired auctions examined by the sweep."},
		{&m.converted, "market.sweep.converted", "Auctions without bids converted to regular listings."},
		{&m.sold, "market.sweep.sold", "Auctions closed with a winning bid."},
		{&m.errors, "market.sweep.errors", "Auctions the sweep failed to settle."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating counter %s: %w", c.name, err)
		}
	}
	return &m, nil
}

// Manager places bids and settles expired auctions.
type Manager struct {
	items    store.ItemRepository
	auctions store.AuctionRepository
	messages store.MessageRepository
	events   event.Store
	notifier notify.Notifier
	metrics  *metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewManager creates a new auction Manager.
func NewManager(repos *store.Repositories, notifier notify.Notifier, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock) (*Manager, error) {
	mt, err := newMetrics(mp)
	if err != nil {
		return nil, err
	}
	return &Manager{
		items:    repos.Items,
		auctions: repos.Auctions,
		messages: repos.Messages,
		events:   repos.Events,
		notifier: notifier,
		metrics:  mt,
		logger:   logger,
		tracer:   tp.Tracer(instrumentation),
		clock:    clk,
	}, nil
}

// PlaceBid records a bid strictly above the current price. The price check
// and the update are one conditional write keyed on the price read here;
// when another bid wins that race the auction is re-read and the bid is
// judged again against the new price.
func (m *Manager) PlaceBid(ctx context.Context, bidderID, auctionID string, amount decimal.Decimal) (*store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	bid, err := m.placeBid(ctx, bidderID, auctionID, amount)
	if err != nil {
		code := "internal"
		var me *market.Error
		if errors.As(err, &me) {
			code = me.Code
		} else if market.KindOf(err) == market.KindValidation {
			code = "validation"
		}
		m.metrics.bidsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", code)))
		return nil, err
	}
	m.metrics.bidsAccepted.Add(ctx, 1)
	return bid, nil
}

func (m *Manager) placeBid(ctx context.Context, bidderID, auctionID string, amount decimal.Decimal) (*store.Bid, error) {
	if !amount.IsPositive() {
		return nil, market.Invalid("amount", "must be positive")
	}

	var item *store.Item
	for attempt := 0; attempt < maxBidAttempts; attempt++ {
		a, err := m.auctions.GetByID(ctx, auctionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, market.ErrNotFound
			}
			return nil, fmt.Errorf("getting auction: %w", err)
		}

		now := m.clock.Now()
		if !a.IsActive || now.After(a.EndTime) {
			return nil, market.ErrAuctionEnded
		}
		if item == nil {
			if item, err = m.items.GetByID(ctx, a.ItemID); err != nil {
				return nil, fmt.Errorf("getting item: %w", err)
			}
		}
		if item.SellerID == bidderID {
			return nil, market.ErrSelfBid
		}
		if !amount.GreaterThan(a.CurrentPrice) {
			return nil, fmt.Errorf("current price is %s: %w", a.CurrentPrice, market.ErrBidTooLow)
		}

		bid := &store.Bid{
			ID:        uuid.NewString(),
			AuctionID: a.ID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}
		err = m.auctions.PlaceBid(ctx, bid, a.CurrentPrice, now)
		switch {
		case err == nil:
			event.Record(ctx, m.events, m.logger, a.ItemID, event.AuctionBidPlaced, event.BidPlacedData{
				AuctionID: a.ID,
				BidderID:  bidderID,
				Amount:    amount.String(),
			}, now)
			m.logger.InfoContext(ctx, "bid placed",
				slog.String("auction_id", a.ID),
				slog.String("bidder_id", bidderID),
				slog.String("amount", amount.String()),
			)
			return bid, nil
		case errors.Is(err, store.ErrConflict):
			continue
		case errors.Is(err, store.ErrNotFound):
			return nil, market.ErrNotFound
		default:
			return nil, fmt.Errorf("placing bid: %w", err)
		}
	}
	return nil, fmt.Errorf("auction kept changing while bidding: %w", market.ErrInvalidState)
}

// Bids returns the auction's bids, oldest first.
func (m *Manager) Bids(ctx context.Context, auctionID string) ([]store.Bid, error) {
	if _, err := m.auctions.GetByID(ctx, auctionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, market.ErrNotFound
		}
		return nil, err
	}
	return m.auctions.ListBids(ctx, auctionID)
}

// PendingSettlements counts auctions past their end time that the sweep
// has not settled yet.
func (m *Manager) PendingSettlements(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PendingSettlements")
	defer span.End()

	n, err := m.auctions.CountExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("counting expired auctions: %w", err)
	}
	return n, nil
}
