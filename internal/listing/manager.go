package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// Config holds the listing rules supplied by configuration.
type Config struct {
	AuctionQuotaPerMonth   int
	DefaultAuctionDuration time.Duration
	MinRemovalReason       int
}

// Manager handles listing operations.
type Manager struct {
	items    store.ItemRepository
	auctions store.AuctionRepository
	reports  store.ReportRepository
	events   event.Store
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewManager returns a new listing Manager.
func NewManager(repos *store.Repositories, notifier notify.Notifier, cfg Config, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		items:    repos.Items,
		auctions: repos.Auctions,
		reports:  repos.Reports,
		events:   repos.Events,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		tracer:   tp.Tracer("github.com/Hrittik20/TSUSwap/internal/listing"),
		clock:    clk,
	}
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return market.ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return market.ErrInvalidState
	}
	return err
}

// Create lists a new item. Auction listings consume one slot of the
// seller's monthly quota in the same transaction that inserts the item.
func (m *Manager) Create(ctx context.Context, sellerID string, in CreateInput) (*store.Item, *store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("listing_type", string(in.ListingType)),
		),
	)
	defer span.End()

	now := m.clock.Now()
	in.normalize()
	if err := in.validate(now); err != nil {
		return nil, nil, err
	}

	item := &store.Item{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Images:      append([]string(nil), in.Images...),
		Category:    in.Category,
		Condition:   in.Condition,
		ListingType: in.ListingType,
		Status:      store.ItemActive,
		SellerID:    sellerID,
		CreatedAt:   now,
	}

	var (
		auction *store.Auction
		admit   func(*store.User) error
		price   decimal.Decimal
	)
	if in.ListingType == store.ListingRegular {
		item.Price = decimal.NullDecimal{Decimal: in.Price, Valid: true}
		price = in.Price
	} else {
		end := now.Add(m.cfg.DefaultAuctionDuration)
		if in.EndTime != nil {
			end = *in.EndTime
		}
		reserve := in.StartPrice
		if in.ReservePrice != nil {
			reserve = *in.ReservePrice
		}
		auction = &store.Auction{
			ID:           uuid.NewString(),
			ItemID:       item.ID,
			StartPrice:   in.StartPrice,
			CurrentPrice: in.StartPrice,
			ReservePrice: decimal.NullDecimal{Decimal: reserve, Valid: true},
			EndTime:      end,
			IsActive:     true,
		}
		admit = quota(m.cfg.AuctionQuotaPerMonth, now)
		price = in.StartPrice
	}

	if err := m.items.CreateListing(ctx, item, auction, admit); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, market.ErrUnauthenticated
		}
		return nil, nil, fmt.Errorf("creating listing: %w", err)
	}

	event.Record(ctx, m.events, m.logger, item.ID, event.ItemListed, event.ItemListedData{
		SellerID:    sellerID,
		ListingType: string(item.ListingType),
		Title:       item.Title,
		Price:       price.String(),
	}, now)

	m.logger.InfoContext(ctx, "item listed",
		slog.String("item_id", item.ID),
		slog.String("seller_id", sellerID),
		slog.String("listing_type", string(item.ListingType)),
	)
	return item, auction, nil
}

// Get returns an item and, for auction-backed items, its auction.
func (m *Manager) Get(ctx context.Context, itemID string) (*store.Item, *store.Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get", trace.WithAttributes(attribute.String("item_id", itemID)))
	defer span.End()

	item, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	a, err := m.auctions.GetByItemID(ctx, itemID)
	switch {
	case err == nil:
		return item, a, nil
	case errors.Is(err, store.ErrNotFound):
		return item, nil, nil
	default:
		return nil, nil, fmt.Errorf("getting auction: %w", err)
	}
}

// ListBySeller returns the seller's items, newest first.
func (m *Manager) ListBySeller(ctx context.Context, sellerID string) ([]store.Item, error) {
	items, err := m.items.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing seller items: %w", err)
	}
	return items, nil
}

// owned loads the item and checks that sellerID owns it.
func (m *Manager) owned(ctx context.Context, sellerID, itemID string) (*store.Item, error) {
	item, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, storeErr(err)
	}
	if item.SellerID != sellerID {
		return nil, market.ErrNotOwner
	}
	return item, nil
}

// Relist returns a SOLD or CANCELLED item to ACTIVE and reactivates its
// auction. The auction keeps its original end time and price.
func (m *Manager) Relist(ctx context.Context, sellerID, itemID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Relist",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("item_id", itemID),
		),
	)
	defer span.End()

	item, err := m.owned(ctx, sellerID, itemID)
	if err != nil {
		return err
	}
	if item.Status != store.ItemSold && item.Status != store.ItemCancelled {
		return fmt.Errorf("relisting %s item: %w", item.Status, market.ErrInvalidState)
	}
	if err := m.items.Relist(ctx, itemID); err != nil {
		return storeErr(err)
	}

	event.Record(ctx, m.events, m.logger, itemID, event.ItemRelisted,
		event.ItemStateData{ActorID: sellerID, Status: string(store.ItemActive)}, m.clock.Now())
	m.logger.InfoContext(ctx, "item relisted", slog.String("item_id", itemID))
	return nil
}

// Withdraw lets the seller take down an ACTIVE item that has no bids.
func (m *Manager) Withdraw(ctx context.Context, sellerID, itemID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Withdraw",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("item_id", itemID),
		),
	)
	defer span.End()

	if _, err := m.owned(ctx, sellerID, itemID); err != nil {
		return err
	}
	if err := m.items.Withdraw(ctx, itemID); err != nil {
		return storeErr(err)
	}

	event.Record(ctx, m.events, m.logger, itemID, event.ItemWithdrawn,
		event.ItemStateData{ActorID: sellerID, Status: string(store.ItemCancelled)}, m.clock.Now())
	m.logger.InfoContext(ctx, "item withdrawn", slog.String("item_id", itemID))
	return nil
}

// AdminDelete permanently removes an item with its auction, bids and
// reports, then tells the seller why. The caller must already have checked
// that adminID is an administrator.
func (m *Manager) AdminDelete(ctx context.Context, adminID, itemID, reason string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.AdminDelete",
		trace.WithAttributes(
			attribute.String("admin_id", adminID),
			attribute.String("item_id", itemID),
		),
	)
	defer span.End()

	if utf8.RuneCountInString(reason) < m.cfg.MinRemovalReason {
		return market.Invalid("reason", fmt.Sprintf("must be at least %d characters", m.cfg.MinRemovalReason))
	}

	item, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		return storeErr(err)
	}
	if err := m.items.Delete(ctx, itemID); err != nil {
		return storeErr(err)
	}
	// Reports are deleted with the item; anything left behind is closed.
	if _, err := m.reports.SetStatusForItem(ctx, itemID, store.ReportResolved); err != nil {
		m.logger.ErrorContext(ctx, "resolving reports of removed item",
			slog.String("item_id", itemID), slog.Any("error", err))
	}

	m.notifier.Notify(ctx, notify.For(item.SellerID, store.NotifyItemRemoved,
		"Your item was removed",
		fmt.Sprintf("Your item %q was removed by an administrator. Reason: %s", item.Title, reason),
		""))

	event.Record(ctx, m.events, m.logger, itemID, event.ItemRemoved, event.ItemRemovedData{
		AdminID:  adminID,
		SellerID: item.SellerID,
		Title:    item.Title,
		Reason:   reason,
	}, m.clock.Now())

	m.logger.InfoContext(ctx, "item removed by admin",
		slog.String("item_id", itemID),
		slog.String("admin_id", adminID),
	)
	return nil
}
