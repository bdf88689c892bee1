package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/store"
	"github.com/Hrittik20/TSUSwap/internal/store/postgres"
	"github.com/Hrittik20/TSUSwap/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	db := newTestDB(t)
	storetest.Run(t, postgres.New(db, clock.Mock{T: storetest.Base}))
}

func TestPlaceBid_ConcurrentBidders(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db, clock.Mock{T: storetest.Base})
	ctx := context.Background()

	seller := storetest.SeedUser(t, repos)
	_, a := storetest.SeedAuction(t, repos, seller.ID, 100, storetest.Base.Add(time.Hour))

	const bidders = 10
	users := make([]*store.User, bidders)
	for i := range users {
		users[i] = storetest.SeedUser(t, repos)
	}

	var wg sync.WaitGroup
	errs := make([]error, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := &store.Bid{
				ID:        uuid.NewString(),
				AuctionID: a.ID,
				BidderID:  users[i].ID,
				Amount:    decimal.NewFromInt(int64(200 + i)),
				CreatedAt: storetest.Base,
			}
			errs[i] = repos.Auctions.PlaceBid(ctx, b, decimal.NewFromInt(100), storetest.Base)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case !errors.Is(err, store.ErrConflict):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("%d bids accepted against the same expected price, want 1", accepted)
	}

	bids, _ := repos.Auctions.ListBids(ctx, a.ID)
	got, _ := repos.Auctions.GetByID(ctx, a.ID)
	if len(bids) != 1 || !got.CurrentPrice.Equal(bids[0].Amount) {
		t.Errorf("price %s does not match the single accepted bid %+v", got.CurrentPrice, bids)
	}
}

func TestSettle_ConcurrentSweeps(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db, clock.Mock{T: storetest.Base})
	ctx := context.Background()

	seller := storetest.SeedUser(t, repos)
	_, a := storetest.SeedAuction(t, repos, seller.ID, 1000, storetest.Base.Add(-time.Minute))

	const sweeps = 8
	outcomes := make([]store.SettleOutcome, sweeps)
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := repos.Auctions.Settle(ctx, a.ID, storetest.Base)
			if err != nil {
				t.Errorf("Settle() error = %v", err)
				return
			}
			outcomes[i] = s.Outcome
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, o := range outcomes {
		if o == store.SettleNoBids {
			settled++
		}
	}
	if settled != 1 {
		t.Errorf("%d sweeps settled the auction, want exactly 1", settled)
	}
}

func TestOpen_ConcurrentBuyers(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db, clock.Mock{T: storetest.Base})
	ctx := context.Background()

	seller := storetest.SeedUser(t, repos)
	it := storetest.SeedRegular(t, repos, seller.ID, 5000)

	const buyers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < buyers; i++ {
		buyer := storetest.SeedUser(t, repos)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Transactions.Open(ctx, it.ID, func(item *store.Item, _ *store.Auction) (*store.Transaction, error) {
				if item.Status != store.ItemActive {
					return nil, store.ErrConflict
				}
				return &store.Transaction{
					Amount:        item.Price.Decimal,
					PaymentMethod: store.PaymentCashOnMeet,
					Status:        store.TxPending,
					ItemID:        item.ID,
					BuyerID:       buyer.ID,
					SellerID:      item.SellerID,
				}, nil
			})
			if err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if opened != 1 {
		t.Errorf("%d purchases succeeded, want 1", opened)
	}
}
