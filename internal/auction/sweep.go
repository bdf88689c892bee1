package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// SweepResult summarises one SweepEnded run.
type SweepResult struct {
	Processed          int      `json:"processed"`
	ConvertedToRegular int      `json:"converted_to_regular"`
	SoldToWinner       int      `json:"sold_to_winner"`
	Errors             []string `json:"errors"`
}

// SweepEnded settles every active auction whose end time has passed.
// Auctions are settled one at a time; a failure is recorded in the result
// and the sweep moves on. Safe to run concurrently: the store flips each
// auction at most once and only that caller sends notifications.
func (m *Manager) SweepEnded(ctx context.Context) (SweepResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SweepEnded")
	defer span.End()

	res := SweepResult{Errors: []string{}}
	now := m.clock.Now()
	expired, err := m.auctions.ListExpired(ctx, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("listing expired auctions: %w", err)
	}
	res.Processed = len(expired)
	m.metrics.processed.Add(ctx, int64(len(expired)))

	for _, a := range expired {
		s, err := m.auctions.Settle(ctx, a.ID, now)
		if err != nil {
			m.logger.ErrorContext(ctx, "settling auction",
				slog.String("auction_id", a.ID),
				slog.Any("error", err),
			)
			m.metrics.errors.Add(ctx, 1)
			res.Errors = append(res.Errors, fmt.Sprintf("auction %s: %v", a.ID, err))
			continue
		}

		switch s.Outcome {
		case store.SettleNoBids:
			res.ConvertedToRegular++
			m.metrics.converted.Add(ctx, 1)
			m.endedWithoutBids(ctx, s, now)
		case store.SettleSold:
			res.SoldToWinner++
			m.metrics.sold.Add(ctx, 1)
			m.endedSold(ctx, s, now)
		}
	}

	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("converted", res.ConvertedToRegular),
		attribute.Int("sold", res.SoldToWinner),
		attribute.Int("errors", len(res.Errors)),
	)
	m.logger.InfoContext(ctx, "auction sweep finished",
		slog.Int("processed", res.Processed),
		slog.Int("converted_to_regular", res.ConvertedToRegular),
		slog.Int("sold_to_winner", res.SoldToWinner),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (m *Manager) endedWithoutBids(ctx context.Context, s *store.Settlement, now time.Time) {
	m.notifier.Notify(ctx, notify.For(s.Item.SellerID, store.NotifyAuctionEnded,
		"Auction ended with no bids",
		fmt.Sprintf("Your auction for %q ended without bids. It is now listed for %s ₽.", s.Item.Title, s.Auction.StartPrice.StringFixed(2)),
		s.Item.ID,
	))
	event.Record(ctx, m.events, m.logger, s.Item.ID, event.AuctionEndedNoBids, event.AuctionEndedData{
		AuctionID: s.Auction.ID,
		Amount:    s.Auction.StartPrice.String(),
	}, now)
}

func (m *Manager) endedSold(ctx context.Context, s *store.Settlement, now time.Time) {
	w := s.Winner
	amount := w.Amount.StringFixed(2)

	m.notifier.Notify(ctx, notify.For(w.BidderID, store.NotifyAuctionEnded,
		"Congratulations! You won the auction!",
		fmt.Sprintf("You won %q with a bid of %s ₽. Contact the seller to arrange the exchange.", s.Item.Title, amount),
		s.Item.ID,
	))
	m.notifier.Notify(ctx, notify.For(s.Item.SellerID, store.NotifyAuctionEnded,
		"Your auction has ended!",
		fmt.Sprintf("Your auction for %q ended with a winning bid of %s ₽.", s.Item.Title, amount),
		s.Item.ID,
	))

	msg := &store.Message{
		ID:         uuid.NewString(),
		SenderID:   w.BidderID,
		ReceiverID: s.Item.SellerID,
		Content:    StarterMessage(s.Item.Title, amount),
		CreatedAt:  now,
	}
	if err := m.messages.Create(ctx, msg); err != nil {
		m.logger.ErrorContext(ctx, "creating starter message",
			slog.String("auction_id", s.Auction.ID),
			slog.Any("error", err),
		)
	}

	event.Record(ctx, m.events, m.logger, s.Item.ID, event.AuctionEndedSold, event.AuctionEndedData{
		AuctionID: s.Auction.ID,
		WinnerID:  w.BidderID,
		Amount:    w.Amount.String(),
	}, now)
}

// StarterMessage is the message the sweep sends from the winner to the seller.
func StarterMessage(title, amount string) string {
	return fmt.Sprintf("Hi! I won your auction for %q with a bid of %s ₽. When can we meet to complete the transaction?", title, amount)
}

// Sweeper calls SweepEnded on a fixed interval.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	lastSuccess time.Time
	lastResult  SweepResult
}

// NewSweeper returns a Sweeper running m every interval.
func NewSweeper(m *Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{manager: m, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "auction sweeper started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "auction sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and records its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	res, err := s.manager.SweepEnded(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "auction sweep failed", slog.Any("error", err))
		return res, err
	}
	s.mu.Lock()
	s.lastSuccess = s.manager.clock.Now()
	s.lastResult = res
	s.mu.Unlock()
	return res, nil
}

// LastSuccess returns when the last sweep completed, and its result.
// The time is zero until the first sweep finishes.
func (s *Sweeper) LastSuccess() (time.Time, SweepResult) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccess, s.lastResult
}
