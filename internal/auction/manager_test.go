package auction_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Hrittik20/TSUSwap/internal/auction"
	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
	"github.com/Hrittik20/TSUSwap/internal/store/memstore"
	"github.com/Hrittik20/TSUSwap/internal/store/storetest"
)

type fixture struct {
	repos *store.Repositories
	clk   *clock.Manual
	mgr   *auction.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(storetest.Base)
	repos := memstore.New(clk).Repositories()
	mgr, err := auction.NewManager(repos, notify.NewRecorder(repos.Notifications, slog.Default()),
		slog.Default(), noop.NewTracerProvider(), metricnoop.NewMeterProvider(), clk)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{repos: repos, clk: clk, mgr: mgr}
}

func (f *fixture) inbox(t *testing.T, userID string) []store.Notification {
	t.Helper()
	ns, err := f.repos.Notifications.ListForUser(context.Background(), userID, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	return ns
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestPlaceBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := storetest.SeedUser(t, f.repos)
	bidder := storetest.SeedUser(t, f.repos)
	_, a := storetest.SeedAuction(t, f.repos, seller.ID, 1000, storetest.Base.Add(time.Hour))

	tests := []struct {
		name    string
		bidder  string
		amount  int64
		wantErr error
	}{
		{name: "equal to start price", bidder: bidder.ID, amount: 1000, wantErr: market.ErrBidTooLow},
		{name: "seller", bidder: seller.ID, amount: 2000, wantErr: market.ErrSelfBid},
		{name: "accepted", bidder: bidder.ID, amount: 1200},
		{name: "equal to current price", bidder: bidder.ID, amount: 1200, wantErr: market.ErrBidTooLow},
		{name: "raise", bidder: bidder.ID, amount: 1201},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bid, err := f.mgr.PlaceBid(ctx, tt.bidder, a.ID, d(tt.amount))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				if !market.Retryable(err) && market.KindOf(err) != market.KindAuthorization {
					t.Errorf("unexpected kind %v", market.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("PlaceBid: %v", err)
			}
			if !bid.Amount.Equal(d(tt.amount)) {
				t.Errorf("bid amount = %s", bid.Amount)
			}
		})
	}

	got, err := f.repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CurrentPrice.Equal(d(1201)) {
		t.Errorf("current price = %s, want 1201", got.CurrentPrice)
	}
	bids, err := f.mgr.Bids(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) != 2 {
		t.Errorf("got %d bids, want 2", len(bids))
	}
	evts, err := f.repos.Events.LoadByType(ctx, event.AuctionBidPlaced)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Errorf("got %d bid events, want 2", len(evts))
	}
}

func TestPlaceBid_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("non-positive amount", func(t *testing.T) {
		f := newFixture(t)
		seller := storetest.SeedUser(t, f.repos)
		_, a := storetest.SeedAuction(t, f.repos, seller.ID, 10, storetest.Base.Add(time.Hour))
		_, err := f.mgr.PlaceBid(ctx, "someone", a.ID, d(0))
		if market.KindOf(err) != market.KindValidation {
			t.Fatalf("got %v, want validation error", err)
		}
	})

	t.Run("unknown auction", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mgr.PlaceBid(ctx, "someone", "00000000-0000-0000-0000-000000000000", d(5))
		if !errors.Is(err, market.ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("after end time", func(t *testing.T) {
		f := newFixture(t)
		seller := storetest.SeedUser(t, f.repos)
		bidder := storetest.SeedUser(t, f.repos)
		_, a := storetest.SeedAuction(t, f.repos, seller.ID, 10, storetest.Base.Add(time.Hour))
		f.clk.Advance(time.Hour + time.Second)
		_, err := f.mgr.PlaceBid(ctx, bidder.ID, a.ID, d(50))
		if !errors.Is(err, market.ErrAuctionEnded) {
			t.Fatalf("got %v, want ErrAuctionEnded", err)
		}
	})

	t.Run("exactly at end time", func(t *testing.T) {
		f := newFixture(t)
		seller := storetest.SeedUser(t, f.repos)
		bidder := storetest.SeedUser(t, f.repos)
		_, a := storetest.SeedAuction(t, f.repos, seller.ID, 10, storetest.Base.Add(time.Hour))
		f.clk.Advance(time.Hour)
		if _, err := f.mgr.PlaceBid(ctx, bidder.ID, a.ID, d(50)); err != nil {
			t.Fatalf("PlaceBid at end time: %v", err)
		}
	})

	t.Run("settled auction", func(t *testing.T) {
		f := newFixture(t)
		seller := storetest.SeedUser(t, f.repos)
		bidder := storetest.SeedUser(t, f.repos)
		_, a := storetest.SeedAuction(t, f.repos, seller.ID, 10, storetest.Base.Add(time.Minute))
		f.clk.Advance(2 * time.Minute)
		if _, err := f.mgr.SweepEnded(ctx); err != nil {
			t.Fatal(err)
		}
		// Even with the clock wound back, an inactive auction takes no bids.
		f.clk.Set(storetest.Base)
		_, err := f.mgr.PlaceBid(ctx, bidder.ID, a.ID, d(50))
		if !errors.Is(err, market.ErrAuctionEnded) {
			t.Fatalf("got %v, want ErrAuctionEnded", err)
		}
	})
}

func TestPlaceBid_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := storetest.SeedUser(t, f.repos)
	_, a := storetest.SeedAuction(t, f.repos, seller.ID, 100, storetest.Base.Add(time.Hour))

	const bidders = 30
	users := make([]*store.User, bidders)
	for i := range users {
		users[i] = storetest.SeedUser(t, f.repos)
	}

	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.mgr.PlaceBid(ctx, users[i].ID, a.ID, d(int64(101+i)))
			if err != nil && !market.Retryable(err) {
				t.Errorf("bidder %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	bids, err := f.repos.Auctions.ListBids(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) == 0 {
		t.Fatal("no bid accepted")
	}
	prev := d(100)
	for _, b := range bids {
		if !b.Amount.GreaterThan(prev) {
			t.Fatalf("bid %s accepted at price %s", b.Amount, prev)
		}
		prev = b.Amount
	}
	got, err := f.repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CurrentPrice.Equal(prev) {
		t.Errorf("current price = %s, highest accepted bid = %s", got.CurrentPrice, prev)
	}
}

func TestSweepEnded_NoBids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := storetest.SeedUser(t, f.repos)
	it, a := storetest.SeedAuction(t, f.repos, seller.ID, 1000, storetest.Base.Add(-time.Minute))

	res, err := f.mgr.SweepEnded(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.ConvertedToRegular != 1 || res.SoldToWinner != 0 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	item, err := f.repos.Items.GetByID(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if item.ListingType != store.ListingRegular || item.Status != store.ItemActive {
		t.Errorf("item = %s/%s, want REGULAR/ACTIVE", item.ListingType, item.Status)
	}
	if !item.Price.Valid || !item.Price.Decimal.Equal(d(1000)) {
		t.Errorf("price = %v, want 1000", item.Price)
	}
	got, err := f.repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Error("auction still active")
	}

	ns := f.inbox(t, seller.ID)
	if len(ns) != 1 || ns[0].Title != "Auction ended with no bids" || ns[0].Type != store.NotifyAuctionEnded {
		t.Errorf("seller inbox = %+v", ns)
	}

	n, err := f.mgr.PendingSettlements(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pending settlements = %d", n)
	}
}

func TestSweepEnded_Sold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := storetest.SeedUser(t, f.repos)
	early := storetest.SeedUser(t, f.repos)
	winner := storetest.SeedUser(t, f.repos)
	it, a := storetest.SeedAuction(t, f.repos, seller.ID, 1000, storetest.Base.Add(time.Hour))

	if _, err := f.mgr.PlaceBid(ctx, early.ID, a.ID, d(1200)); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(time.Minute)
	if _, err := f.mgr.PlaceBid(ctx, winner.ID, a.ID, d(1500)); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(2 * time.Hour)

	if n, err := f.mgr.PendingSettlements(ctx); err != nil || n != 1 {
		t.Fatalf("pending settlements = %d, %v", n, err)
	}

	res, err := f.mgr.SweepEnded(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.SoldToWinner != 1 || res.ConvertedToRegular != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	item, err := f.repos.Items.GetByID(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != store.ItemActive || item.ListingType != store.ListingAuction {
		t.Errorf("item = %s/%s, want AUCTION/ACTIVE", item.ListingType, item.Status)
	}
	got, err := f.repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Error("auction still active")
	}

	if ns := f.inbox(t, winner.ID); len(ns) != 1 || ns[0].Title != "Congratulations! You won the auction!" {
		t.Errorf("winner inbox = %+v", ns)
	}
	if ns := f.inbox(t, seller.ID); len(ns) != 1 || ns[0].Title != "Your auction has ended!" {
		t.Errorf("seller inbox = %+v", ns)
	}
	if ns := f.inbox(t, early.ID); len(ns) != 0 {
		t.Errorf("outbid user inbox = %+v", ns)
	}

	msgs, err := f.repos.Messages.ListForUser(ctx, seller.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	want := auction.StarterMessage(it.Title, "1500.00")
	if msgs[0].SenderID != winner.ID || msgs[0].ReceiverID != seller.ID || msgs[0].Content != want {
		t.Errorf("starter message = %+v", msgs[0])
	}
}

func TestSweepEnded_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := storetest.SeedUser(t, f.repos)
	winner := storetest.SeedUser(t, f.repos)
	_, sold := storetest.SeedAuction(t, f.repos, seller.ID, 100, storetest.Base.Add(time.Hour))
	storetest.SeedAuction(t, f.repos, seller.ID, 200, storetest.Base.Add(time.Hour))
	if _, err := f.mgr.PlaceBid(ctx, winner.ID, sold.ID, d(150)); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(2 * time.Hour)

	const runs = 8
	results := make([]auction.SweepResult, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.mgr.SweepEnded(ctx)
			if err != nil {
				t.Errorf("sweep %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	var converted, soldCount int
	for _, r := range results {
		converted += r.ConvertedToRegular
		soldCount += r.SoldToWinner
	}
	if converted != 1 || soldCount != 1 {
		t.Errorf("converted = %d, sold = %d across runs, want 1 and 1", converted, soldCount)
	}
	if ns := f.inbox(t, seller.ID); len(ns) != 2 {
		t.Errorf("seller got %d notifications, want 2", len(ns))
	}
	if ns := f.inbox(t, winner.ID); len(ns) != 1 {
		t.Errorf("winner got %d notifications, want 1", len(ns))
	}
	msgs, err := f.repos.Messages.ListForUser(ctx, winner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d starter messages, want 1", len(msgs))
	}

	// A later run finds nothing left to do.
	res, err := f.mgr.SweepEnded(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 {
		t.Errorf("processed = %d on rerun", res.Processed)
	}
}

type failingSettle struct {
	store.AuctionRepository
	failID string
}

func (f failingSettle) Settle(ctx context.Context, id string, now time.Time) (*store.Settlement, error) {
	if id == f.failID {
		return nil, errors.New("connection reset")
	}
	return f.AuctionRepository.Settle(ctx, id, now)
}

func TestSweepEnded_PartialFailure(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(storetest.Base)
	repos := memstore.New(clk).Repositories()
	seller := storetest.SeedUser(t, repos)
	_, bad := storetest.SeedAuction(t, repos, seller.ID, 10, storetest.Base.Add(-time.Minute))
	_, good := storetest.SeedAuction(t, repos, seller.ID, 20, storetest.Base.Add(-time.Minute))
	repos.Auctions = failingSettle{AuctionRepository: repos.Auctions, failID: bad.ID}

	mgr, err := auction.NewManager(repos, notify.Func(func(context.Context, store.Notification) {}),
		slog.Default(), noop.NewTracerProvider(), metricnoop.NewMeterProvider(), clk)
	if err != nil {
		t.Fatal(err)
	}
	res, err := mgr.SweepEnded(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.ConvertedToRegular != 1 || len(res.Errors) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got, err := repos.Auctions.GetByID(ctx, good.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Error("healthy auction was not settled")
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := storetest.SeedUser(t, f.repos)
	storetest.SeedAuction(t, f.repos, seller.ID, 10, storetest.Base.Add(-time.Minute))

	s := auction.NewSweeper(f.mgr, time.Minute, slog.Default())
	if last, _ := s.LastSuccess(); !last.IsZero() {
		t.Fatalf("last success = %v before any run", last)
	}
	if _, err := s.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	last, res := s.LastSuccess()
	if !last.Equal(storetest.Base) {
		t.Errorf("last success = %v, want %v", last, storetest.Base)
	}
	if res.ConvertedToRegular != 1 {
		t.Errorf("last result = %+v", res)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := auction.NewSweeper(f.mgr, time.Hour, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
