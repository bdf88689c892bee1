// Package escrow runs the buyer/seller handshake that follows a purchase.
//
// A purchase marks the item SOLD and opens a transaction awaiting the
// seller. Only the seller moves it on: Confirm completes the sale after the
// in-person exchange, Cancel puts the item back on the market. Buyers never
// transition a transaction themselves.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// CardProcessor holds and releases card funds for the FUNDS_HELD path.
// Authorize reserves amount on the buyer's card and returns a reference
// that Capture and Void act on.
type CardProcessor interface {
	Authorize(ctx context.Context, buyerID string, amount decimal.Decimal) (string, error)
	Capture(ctx context.Context, ref string, amount decimal.Decimal) error
	Void(ctx context.Context, ref string) error
}

// Config holds escrow settings.
type Config struct {
	// CommissionRate applies to auction sales only.
	CommissionRate      decimal.Decimal
	CardPaymentsEnabled bool
}

var awaitingSeller = []store.TransactionStatus{store.TxPending, store.TxFundsHeld}

// Manager opens, confirms and cancels transactions.
type Manager struct {
	items    store.ItemRepository
	auctions store.AuctionRepository
	txs      store.TransactionRepository
	events   event.Store
	cards    CardProcessor
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewManager returns an escrow Manager. cards may be nil, which disables
// the card path regardless of cfg.
func NewManager(repos *store.Repositories, cards CardProcessor, notifier notify.Notifier, cfg Config, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		items:    repos.Items,
		auctions: repos.Auctions,
		txs:      repos.Transactions,
		events:   repos.Events,
		cards:    cards,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		tracer:   tp.Tracer("github.com/Hrittik20/TSUSwap/internal/escrow"),
		clock:    clk,
	}
}

func (m *Manager) cardsEnabled() bool {
	return m.cfg.CardPaymentsEnabled && m.cards != nil
}

// Price returns what a purchase of item would cost and the commission the
// marketplace keeps. Auction items sell at the current price and carry
// commission; fixed-price items carry none.
func (m *Manager) Price(item *store.Item, auction *store.Auction) (amount, commission decimal.Decimal) {
	if item.ListingType == store.ListingAuction && auction != nil {
		amount = auction.CurrentPrice
		return amount, amount.Mul(m.cfg.CommissionRate).Round(2)
	}
	return item.Price.Decimal, decimal.Zero
}

// Purchase commits buyerID to buying itemID. The item is marked SOLD, its
// auction is deactivated and the transaction is created in one step, so of
// two concurrent buyers exactly one succeeds.
func (m *Manager) Purchase(ctx context.Context, buyerID, itemID string, method store.PaymentMethod, meeting *time.Time) (*store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Purchase",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("buyer_id", buyerID),
			attribute.String("payment_method", string(method)),
		),
	)
	defer span.End()

	if buyerID == "" {
		return nil, market.ErrUnauthenticated
	}
	switch method {
	case store.PaymentCashOnMeet:
	case store.PaymentCard:
		if !m.cardsEnabled() {
			return nil, market.Invalid("payment_method", "card payments are not available")
		}
	default:
		return nil, market.Invalid("payment_method", "must be CASH_ON_MEET or CARD")
	}
	now := m.clock.Now()
	if meeting != nil && meeting.Before(now) {
		return nil, market.Invalid("meeting_scheduled", "must be in the future")
	}

	var (
		authRef    string
		authAmount decimal.Decimal
	)
	if method == store.PaymentCard {
		// Funds are held before the item is locked; a declined card never
		// touches the listing.
		item, auction, err := m.load(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if item.SellerID == buyerID {
			return nil, market.ErrSelfPurchase
		}
		if item.Status != store.ItemActive {
			return nil, market.ErrItemUnavailable
		}
		authAmount, _ = m.Price(item, auction)
		if authRef, err = m.cards.Authorize(ctx, buyerID, authAmount); err != nil {
			return nil, fmt.Errorf("authorizing card: %w", err)
		}
	}

	build := func(item *store.Item, auction *store.Auction) (*store.Transaction, error) {
		if item.SellerID == buyerID {
			return nil, market.ErrSelfPurchase
		}
		if item.Status != store.ItemActive {
			return nil, market.ErrItemUnavailable
		}
		amount, commission := m.Price(item, auction)
		tx := &store.Transaction{
			ID:               uuid.NewString(),
			Amount:           amount,
			CommissionAmount: commission,
			PaymentMethod:    method,
			Status:           store.TxPending,
			ItemID:           item.ID,
			BuyerID:          buyerID,
			SellerID:         item.SellerID,
			MeetingScheduled: meeting,
			CreatedAt:        now,
		}
		if method == store.PaymentCard {
			// A bid landed between authorizing and locking the item.
			if !amount.Equal(authAmount) {
				return nil, market.ErrItemUnavailable
			}
			ref := authRef
			tx.Status = store.TxFundsHeld
			tx.AuthorizationRef = &ref
		}
		return tx, nil
	}

	tx, err := m.txs.Open(ctx, itemID, build)
	if err != nil {
		if authRef != "" {
			m.void(ctx, authRef)
		}
		switch {
		case errors.Is(err, store.ErrNotFound):
			err = market.ErrNotFound
		case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrConflict):
			err = market.ErrItemUnavailable
		}
		if market.KindOf(err) == market.KindInternal {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("opening transaction: %w", err)
		}
		return nil, err
	}

	m.notifier.Notify(ctx, m.txNotification(tx.SellerID, store.NotifyNewPurchase, "New purchase!",
		fmt.Sprintf("A buyer committed to purchase your item for %s ₽. Arrange a meeting to complete the sale.", tx.Amount.StringFixed(2)), tx))
	m.record(ctx, event.TransactionOpened, tx)

	m.logger.InfoContext(ctx, "transaction opened",
		slog.String("transaction_id", tx.ID),
		slog.String("item_id", tx.ItemID),
		slog.String("buyer_id", buyerID),
		slog.String("amount", tx.Amount.String()),
		slog.String("status", string(tx.Status)),
	)
	return tx, nil
}

// Confirm completes a transaction awaiting sellerID. Held card funds are
// captured first; a failed capture leaves the transaction untouched.
func (m *Manager) Confirm(ctx context.Context, sellerID, txID string) (*store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Confirm",
		trace.WithAttributes(
			attribute.String("transaction_id", txID),
			attribute.String("seller_id", sellerID),
		),
	)
	defer span.End()

	tx, err := m.sellerTx(ctx, sellerID, txID)
	if err != nil {
		return nil, err
	}

	switch tx.Status {
	case store.TxPending:
	case store.TxFundsHeld:
		if m.cards == nil || tx.AuthorizationRef == nil {
			return nil, fmt.Errorf("transaction %s holds funds without a processor: %w", tx.ID, market.ErrInvalidState)
		}
		if err := m.cards.Capture(ctx, *tx.AuthorizationRef, tx.Amount); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("capturing card funds: %w", err)
		}
	default:
		return nil, market.ErrInvalidState
	}

	now := m.clock.Now()
	if err := m.txs.Complete(ctx, tx.ID, []store.TransactionStatus{tx.Status}, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, market.ErrInvalidState
		}
		return nil, fmt.Errorf("completing transaction: %w", err)
	}
	tx.Status = store.TxCompleted
	tx.CompletedAt = &now

	m.notifier.Notify(ctx, m.txNotification(tx.BuyerID, store.NotifyTransactionCompleted, "Transaction completed",
		"The seller confirmed the sale. Thank you for using the marketplace!", tx))
	m.record(ctx, event.TransactionCompleted, tx)

	m.logger.InfoContext(ctx, "transaction completed",
		slog.String("transaction_id", tx.ID),
		slog.String("item_id", tx.ItemID),
		slog.String("commission", tx.CommissionAmount.String()),
	)
	return tx, nil
}

// Cancel aborts a transaction awaiting sellerID. The item returns to
// ACTIVE and its auction, if any, becomes biddable again.
func (m *Manager) Cancel(ctx context.Context, sellerID, txID string) (*store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Cancel",
		trace.WithAttributes(
			attribute.String("transaction_id", txID),
			attribute.String("seller_id", sellerID),
		),
	)
	defer span.End()

	tx, err := m.sellerTx(ctx, sellerID, txID)
	if err != nil {
		return nil, err
	}
	if !tx.Status.Open() {
		return nil, market.ErrInvalidState
	}

	if err := m.txs.Cancel(ctx, tx.ID, awaitingSeller); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, market.ErrInvalidState
		}
		return nil, fmt.Errorf("cancelling transaction: %w", err)
	}
	if tx.Status == store.TxFundsHeld && tx.AuthorizationRef != nil {
		m.void(ctx, *tx.AuthorizationRef)
	}
	tx.Status = store.TxCancelled

	m.notifier.Notify(ctx, m.txNotification(tx.BuyerID, store.NotifyTransactionCancelled, "Transaction cancelled",
		"The seller cancelled the sale. The item is available again.", tx))
	m.record(ctx, event.TransactionCancelled, tx)

	m.logger.InfoContext(ctx, "transaction cancelled",
		slog.String("transaction_id", tx.ID),
		slog.String("item_id", tx.ItemID),
	)
	return tx, nil
}

// Get returns a transaction the caller is a party to.
func (m *Manager) Get(ctx context.Context, userID, txID string) (*store.Transaction, error) {
	tx, err := m.txs.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	if tx.BuyerID != userID && tx.SellerID != userID {
		return nil, market.ErrNotFound
	}
	return tx, nil
}

// ListForUser returns every transaction where userID is buyer or seller,
// newest first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListForUser",
		trace.WithAttributes(attribute.String("user_id", userID)),
	)
	defer span.End()

	txs, err := m.txs.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txs, nil
}

func (m *Manager) load(ctx context.Context, itemID string) (*store.Item, *store.Auction, error) {
	item, err := m.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, market.ErrNotFound
		}
		return nil, nil, fmt.Errorf("getting item: %w", err)
	}
	auction, err := m.auctions.GetByItemID(ctx, itemID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return item, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("getting auction: %w", err)
	}
	return item, auction, nil
}

func (m *Manager) sellerTx(ctx context.Context, sellerID, txID string) (*store.Transaction, error) {
	tx, err := m.txs.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	if tx.SellerID != sellerID {
		return nil, market.ErrNotSeller
	}
	return tx, nil
}

func (m *Manager) void(ctx context.Context, ref string) {
	if err := m.cards.Void(ctx, ref); err != nil {
		m.logger.ErrorContext(ctx, "voiding card authorization",
			slog.String("authorization_ref", ref),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) txNotification(userID string, t store.NotificationType, title, message string, tx *store.Transaction) store.Notification {
	n := notify.For(userID, t, title, message, tx.ItemID)
	id := tx.ID
	n.RelatedTransactionID = &id
	return n
}

func (m *Manager) record(ctx context.Context, t event.Type, tx *store.Transaction) {
	event.Record(ctx, m.events, m.logger, tx.ItemID, t, event.TransactionData{
		TransactionID: tx.ID,
		BuyerID:       tx.BuyerID,
		SellerID:      tx.SellerID,
		Amount:        tx.Amount.String(),
		Commission:    tx.CommissionAmount.String(),
		Status:        string(tx.Status),
	}, m.clock.Now())
}
