// Package storetest is a conformance suite every ledger store driver must
// pass. Tests only touch rows they create, so one database can serve the
// whole run.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// Base is the reference instant used by the suite. Whole seconds survive a
// round trip through any driver.
var Base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// Run executes the suite against repos.
func Run(t *testing.T, repos *store.Repositories) {
	t.Helper()

	t.Run("Users", func(t *testing.T) { testUsers(t, repos) })
	t.Run("CreateListing", func(t *testing.T) { testCreateListing(t, repos) })
	t.Run("PlaceBid", func(t *testing.T) { testPlaceBid(t, repos) })
	t.Run("SettleNoBids", func(t *testing.T) { testSettleNoBids(t, repos) })
	t.Run("SettleSold", func(t *testing.T) { testSettleSold(t, repos) })
	t.Run("OpenAndCancel", func(t *testing.T) { testOpenAndCancel(t, repos) })
	t.Run("Complete", func(t *testing.T) { testComplete(t, repos) })
	t.Run("RelistAndWithdraw", func(t *testing.T) { testRelistAndWithdraw(t, repos) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, repos) })
	t.Run("Reports", func(t *testing.T) { testReports(t, repos) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, repos) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, repos) })
	t.Run("Events", func(t *testing.T) { testEvents(t, repos) })
}

// SeedUser inserts a user with a unique email.
func SeedUser(t *testing.T, repos *store.Repositories) *store.User {
	t.Helper()
	id := uuid.NewString()
	u := &store.User{
		ID:                  id,
		Name:                "user-" + id[:8],
		Email:               id + "@dorm.example",
		AuctionLimitResetAt: Base,
		CreatedAt:           Base,
	}
	if err := repos.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

// SeedRegular inserts an ACTIVE fixed-price item.
func SeedRegular(t *testing.T, repos *store.Repositories, sellerID string, price int64) *store.Item {
	t.Helper()
	it := newItem(sellerID, store.ListingRegular)
	it.Price = decimal.NullDecimal{Decimal: decimal.NewFromInt(price), Valid: true}
	if err := repos.Items.CreateListing(context.Background(), it, nil, nil); err != nil {
		t.Fatalf("creating item: %v", err)
	}
	return it
}

// SeedAuction inserts an ACTIVE auction item ending at end.
func SeedAuction(t *testing.T, repos *store.Repositories, sellerID string, start int64, end time.Time) (*store.Item, *store.Auction) {
	t.Helper()
	it := newItem(sellerID, store.ListingAuction)
	a := &store.Auction{
		ID:           uuid.NewString(),
		StartPrice:   decimal.NewFromInt(start),
		CurrentPrice: decimal.NewFromInt(start),
		ReservePrice: decimal.NullDecimal{Decimal: decimal.NewFromInt(start), Valid: true},
		EndTime:      end,
		IsActive:     true,
	}
	if err := repos.Items.CreateListing(context.Background(), it, a, nil); err != nil {
		t.Fatalf("creating auction item: %v", err)
	}
	return it, a
}

func newItem(sellerID string, lt store.ListingType) *store.Item {
	return &store.Item{
		ID:          uuid.NewString(),
		Title:       "Desk lamp",
		Description: "Warm light, barely used",
		Images:      []string{"https://img.example/1.jpg"},
		Category:    "Electronics",
		Condition:   "GOOD",
		ListingType: lt,
		Status:      store.ItemActive,
		SellerID:    sellerID,
		CreatedAt:   Base,
	}
}

func bid(t *testing.T, repos *store.Repositories, a *store.Auction, bidderID string, expected, amount int64, at time.Time) error {
	t.Helper()
	b := &store.Bid{
		ID:        uuid.NewString(),
		AuctionID: a.ID,
		BidderID:  bidderID,
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: at,
	}
	return repos.Auctions.PlaceBid(context.Background(), b, decimal.NewFromInt(expected), at)
}

func testUsers(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	u := SeedUser(t, repos)

	got, err := repos.Users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Email != u.Email || got.AuctionsUsedThisMonth != 0 {
		t.Errorf("GetByID() = %+v", got)
	}

	dup := &store.User{ID: uuid.NewString(), Name: "dup", Email: u.Email, CreatedAt: Base, AuctionLimitResetAt: Base}
	if err := repos.Users.Create(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate email error = %v, want ErrDuplicate", err)
	}

	if _, err := repos.Users.GetByID(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing user error = %v, want ErrNotFound", err)
	}
}

func testCreateListing(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller := SeedUser(t, repos)

	t.Run("admit updates seller", func(t *testing.T) {
		it := newItem(seller.ID, store.ListingAuction)
		a := &store.Auction{
			ID:           uuid.NewString(),
			StartPrice:   decimal.NewFromInt(500),
			CurrentPrice: decimal.NewFromInt(500),
			EndTime:      Base.Add(time.Hour),
			IsActive:     true,
		}
		err := repos.Items.CreateListing(ctx, it, a, func(u *store.User) error {
			u.AuctionsUsedThisMonth++
			return nil
		})
		if err != nil {
			t.Fatalf("CreateListing() error = %v", err)
		}
		u, _ := repos.Users.GetByID(ctx, seller.ID)
		if u.AuctionsUsedThisMonth != 1 {
			t.Errorf("quota counter = %d, want 1", u.AuctionsUsedThisMonth)
		}
		got, err := repos.Auctions.GetByItemID(ctx, it.ID)
		if err != nil {
			t.Fatalf("GetByItemID() error = %v", err)
		}
		if got.ID != a.ID || !got.CurrentPrice.Equal(decimal.NewFromInt(500)) || got.ReservePrice.Valid {
			t.Errorf("auction = %+v", got)
		}
		item, _ := repos.Items.GetByID(ctx, it.ID)
		if item.Price.Valid || len(item.Images) != 1 {
			t.Errorf("auction item = %+v", item)
		}
	})

	t.Run("admit error aborts", func(t *testing.T) {
		it := newItem(seller.ID, store.ListingAuction)
		a := &store.Auction{ID: uuid.NewString(), StartPrice: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(1), EndTime: Base, IsActive: true}
		boom := errors.New("quota")
		err := repos.Items.CreateListing(ctx, it, a, func(u *store.User) error {
			u.AuctionsUsedThisMonth = 99
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("CreateListing() error = %v, want %v", err, boom)
		}
		if _, err := repos.Items.GetByID(ctx, it.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("item persisted despite admit error: %v", err)
		}
		u, _ := repos.Users.GetByID(ctx, seller.ID)
		if u.AuctionsUsedThisMonth != 1 {
			t.Errorf("quota counter = %d, want 1", u.AuctionsUsedThisMonth)
		}
	})

	t.Run("list by seller", func(t *testing.T) {
		items, err := repos.Items.ListBySeller(ctx, seller.ID)
		if err != nil {
			t.Fatalf("ListBySeller() error = %v", err)
		}
		if len(items) != 1 {
			t.Errorf("got %d items, want 1", len(items))
		}
	})
}

func testPlaceBid(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller, alice, bob := SeedUser(t, repos), SeedUser(t, repos), SeedUser(t, repos)
	_, a := SeedAuction(t, repos, seller.ID, 1000, Base.Add(time.Hour))

	if err := bid(t, repos, a, alice.ID, 1000, 1200, Base); err != nil {
		t.Fatalf("first bid error = %v", err)
	}
	if err := bid(t, repos, a, bob.ID, 1000, 1300, Base.Add(time.Second)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale expected price error = %v, want ErrConflict", err)
	}
	if err := bid(t, repos, a, bob.ID, 1200, 1200, Base.Add(time.Second)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("equal amount error = %v, want ErrConflict", err)
	}
	if err := bid(t, repos, a, bob.ID, 1200, 1500, Base.Add(2*time.Second)); err != nil {
		t.Fatalf("second bid error = %v", err)
	}
	if err := bid(t, repos, a, alice.ID, 1500, 1600, Base.Add(2*time.Hour)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("late bid error = %v, want ErrConflict", err)
	}

	got, _ := repos.Auctions.GetByID(ctx, a.ID)
	if !got.CurrentPrice.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("current price = %s, want 1500", got.CurrentPrice)
	}
	bids, _ := repos.Auctions.ListBids(ctx, a.ID)
	if len(bids) != 2 || bids[0].BidderID != alice.ID {
		t.Errorf("bids = %+v", bids)
	}
	top, err := repos.Auctions.HighestBid(ctx, a.ID)
	if err != nil || top.BidderID != bob.ID {
		t.Errorf("HighestBid() = %+v, %v", top, err)
	}

	_, quiet := SeedAuction(t, repos, seller.ID, 10, Base.Add(time.Hour))
	if _, err := repos.Auctions.HighestBid(ctx, quiet.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("HighestBid() on empty auction error = %v, want ErrNotFound", err)
	}
}

func containsAuction(list []store.Auction, id string) bool {
	for _, a := range list {
		if a.ID == id {
			return true
		}
	}
	return false
}

func testSettleNoBids(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller := SeedUser(t, repos)
	it, a := SeedAuction(t, repos, seller.ID, 1000, Base.Add(-time.Minute))

	expired, err := repos.Auctions.ListExpired(ctx, Base)
	if err != nil {
		t.Fatalf("ListExpired() error = %v", err)
	}
	if !containsAuction(expired, a.ID) {
		t.Fatal("expired auction not listed")
	}
	n, err := repos.Auctions.CountExpired(ctx, Base)
	if err != nil || n < 1 {
		t.Errorf("CountExpired() = %d, %v", n, err)
	}

	s, err := repos.Auctions.Settle(ctx, a.ID, Base)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if s.Outcome != store.SettleNoBids || s.Winner != nil {
		t.Errorf("Settle() = %+v, want no-bids outcome", s)
	}

	item, _ := repos.Items.GetByID(ctx, it.ID)
	if item.ListingType != store.ListingRegular || item.Status != store.ItemActive {
		t.Errorf("item = %+v, want ACTIVE REGULAR", item)
	}
	if !item.Price.Valid || !item.Price.Decimal.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("item price = %v, want 1000", item.Price)
	}

	again, err := repos.Auctions.Settle(ctx, a.ID, Base)
	if err != nil || again.Outcome != store.SettleSkipped {
		t.Errorf("second Settle() = %+v, %v; want skipped", again, err)
	}
	expired, _ = repos.Auctions.ListExpired(ctx, Base)
	if containsAuction(expired, a.ID) {
		t.Error("settled auction still listed as expired")
	}
}

func testSettleSold(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller, alice, bob := SeedUser(t, repos), SeedUser(t, repos), SeedUser(t, repos)
	it, a := SeedAuction(t, repos, seller.ID, 1000, Base.Add(time.Minute))

	if err := bid(t, repos, a, alice.ID, 1000, 1200, Base); err != nil {
		t.Fatal(err)
	}
	if err := bid(t, repos, a, bob.ID, 1200, 1500, Base.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	early, err := repos.Auctions.Settle(ctx, a.ID, Base)
	if err != nil || early.Outcome != store.SettleSkipped {
		t.Errorf("Settle() before end = %+v, %v; want skipped", early, err)
	}

	s, err := repos.Auctions.Settle(ctx, a.ID, Base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if s.Outcome != store.SettleSold || s.Winner == nil || s.Winner.BidderID != bob.ID {
		t.Fatalf("Settle() = %+v, want sold to bob", s)
	}
	if s.Item.ID != it.ID || s.Item.SellerID != seller.ID {
		t.Errorf("settlement item = %+v", s.Item)
	}

	item, _ := repos.Items.GetByID(ctx, it.ID)
	if item.Status != store.ItemActive || item.ListingType != store.ListingAuction {
		t.Errorf("item = %+v, want ACTIVE AUCTION", item)
	}
	got, _ := repos.Auctions.GetByID(ctx, a.ID)
	if got.IsActive {
		t.Error("auction still active after settlement")
	}
}

func buildTx(buyerID string, status store.TransactionStatus) func(*store.Item, *store.Auction) (*store.Transaction, error) {
	return func(it *store.Item, a *store.Auction) (*store.Transaction, error) {
		if it.Status != store.ItemActive {
			return nil, store.ErrConflict
		}
		amount := it.Price.Decimal
		if a != nil {
			amount = a.CurrentPrice
		}
		return &store.Transaction{
			ID:               uuid.NewString(),
			Amount:           amount,
			CommissionAmount: decimal.Zero,
			PaymentMethod:    store.PaymentCashOnMeet,
			Status:           status,
			ItemID:           it.ID,
			BuyerID:          buyerID,
			SellerID:         it.SellerID,
			CreatedAt:        Base,
		}, nil
	}
}

func testOpenAndCancel(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller, buyer := SeedUser(t, repos), SeedUser(t, repos)
	it, a := SeedAuction(t, repos, seller.ID, 700, Base.Add(time.Hour))

	tx, err := repos.Transactions.Open(ctx, it.ID, buildTx(buyer.ID, store.TxPending))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(700)) {
		t.Errorf("amount = %s, want 700", tx.Amount)
	}
	item, _ := repos.Items.GetByID(ctx, it.ID)
	auction, _ := repos.Auctions.GetByID(ctx, a.ID)
	if item.Status != store.ItemSold || auction.IsActive {
		t.Errorf("after Open item=%s auction active=%v", item.Status, auction.IsActive)
	}

	if _, err := repos.Transactions.Open(ctx, it.ID, buildTx(buyer.ID, store.TxPending)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second Open() error = %v, want ErrConflict from build", err)
	}

	if err := repos.Transactions.Cancel(ctx, tx.ID, []store.TransactionStatus{store.TxPending}); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	item, _ = repos.Items.GetByID(ctx, it.ID)
	auction, _ = repos.Auctions.GetByID(ctx, a.ID)
	if item.Status != store.ItemActive || !auction.IsActive {
		t.Errorf("after Cancel item=%s auction active=%v", item.Status, auction.IsActive)
	}
	if err := repos.Transactions.Cancel(ctx, tx.ID, []store.TransactionStatus{store.TxPending}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("repeated Cancel() error = %v, want ErrConflict", err)
	}

	list, err := repos.Transactions.ListForUser(ctx, buyer.ID)
	if err != nil || len(list) != 1 || list[0].Status != store.TxCancelled {
		t.Errorf("ListForUser() = %+v, %v", list, err)
	}
}

func testComplete(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller, buyer := SeedUser(t, repos), SeedUser(t, repos)
	it := SeedRegular(t, repos, seller.ID, 5000)

	tx, err := repos.Transactions.Open(ctx, it.ID, buildTx(buyer.ID, store.TxPending))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	at := Base.Add(time.Hour)
	if err := repos.Transactions.Complete(ctx, tx.ID, []store.TransactionStatus{store.TxPending}, at); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, _ := repos.Transactions.GetByID(ctx, tx.ID)
	if got.Status != store.TxCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
		t.Errorf("transaction = %+v", got)
	}
	if err := repos.Transactions.Complete(ctx, tx.ID, []store.TransactionStatus{store.TxPending}, at); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second Complete() error = %v, want ErrConflict", err)
	}
	if err := repos.Transactions.Complete(ctx, uuid.NewString(), []store.TransactionStatus{store.TxPending}, at); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing Complete() error = %v, want ErrNotFound", err)
	}
}

func testRelistAndWithdraw(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller, bidder := SeedUser(t, repos), SeedUser(t, repos)

	it, a := SeedAuction(t, repos, seller.ID, 100, Base.Add(time.Hour))
	if err := repos.Items.Relist(ctx, it.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Relist() on ACTIVE error = %v, want ErrConflict", err)
	}
	if err := repos.Items.Withdraw(ctx, it.ID); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	item, _ := repos.Items.GetByID(ctx, it.ID)
	auction, _ := repos.Auctions.GetByID(ctx, a.ID)
	if item.Status != store.ItemCancelled || auction.IsActive {
		t.Errorf("after Withdraw item=%s auction active=%v", item.Status, auction.IsActive)
	}
	if err := repos.Items.Relist(ctx, it.ID); err != nil {
		t.Fatalf("Relist() error = %v", err)
	}
	item, _ = repos.Items.GetByID(ctx, it.ID)
	auction, _ = repos.Auctions.GetByID(ctx, a.ID)
	if item.Status != store.ItemActive || !auction.IsActive {
		t.Errorf("after Relist item=%s auction active=%v", item.Status, auction.IsActive)
	}
	if !auction.EndTime.Equal(Base.Add(time.Hour)) {
		t.Errorf("Relist changed end time to %v", auction.EndTime)
	}

	if err := bid(t, repos, a, bidder.ID, 100, 150, Base); err != nil {
		t.Fatal(err)
	}
	if err := repos.Items.Withdraw(ctx, it.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Withdraw() with bids error = %v, want ErrConflict", err)
	}
}

func testDelete(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller, buyer, reporter := SeedUser(t, repos), SeedUser(t, repos), SeedUser(t, repos)
	it, a := SeedAuction(t, repos, seller.ID, 100, Base.Add(time.Hour))

	if err := bid(t, repos, a, buyer.ID, 100, 200, Base); err != nil {
		t.Fatal(err)
	}
	if err := repos.Reports.Create(ctx, &store.Report{ItemID: it.ID, ReporterID: reporter.ID, Reason: store.ReasonScam, Status: store.ReportPending, CreatedAt: Base}); err != nil {
		t.Fatal(err)
	}
	tx, err := repos.Transactions.Open(ctx, it.ID, buildTx(buyer.ID, store.TxPending))
	if err != nil {
		t.Fatal(err)
	}

	if err := repos.Items.Delete(ctx, it.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repos.Items.GetByID(ctx, it.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("item still present: %v", err)
	}
	if _, err := repos.Auctions.GetByID(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("auction still present: %v", err)
	}
	if bids, _ := repos.Auctions.ListBids(ctx, a.ID); len(bids) != 0 {
		t.Errorf("%d bids survived delete", len(bids))
	}
	if ok, _ := repos.Reports.Exists(ctx, it.ID, reporter.ID); ok {
		t.Error("report survived delete")
	}
	got, err := repos.Transactions.GetByID(ctx, tx.ID)
	if err != nil || got.Status != store.TxCancelled {
		t.Errorf("open transaction after delete = %+v, %v; want CANCELLED", got, err)
	}

	if err := repos.Items.Delete(ctx, it.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func testReports(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	seller, r1, r2 := SeedUser(t, repos), SeedUser(t, repos), SeedUser(t, repos)
	it := SeedRegular(t, repos, seller.ID, 300)

	desc := "looks fake"
	for _, rid := range []string{r1.ID, r2.ID} {
		rp := &store.Report{ItemID: it.ID, ReporterID: rid, Reason: store.ReasonFake, Description: &desc, Status: store.ReportPending, CreatedAt: Base}
		if err := repos.Reports.Create(ctx, rp); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	dup := &store.Report{ItemID: it.ID, ReporterID: r1.ID, Reason: store.ReasonSpam, Status: store.ReportPending, CreatedAt: Base}
	if err := repos.Reports.Create(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate Create() error = %v, want ErrDuplicate", err)
	}
	if ok, err := repos.Reports.Exists(ctx, it.ID, r1.ID); err != nil || !ok {
		t.Errorf("Exists() = %v, %v", ok, err)
	}

	n, err := repos.Reports.SetStatusForItem(ctx, it.ID, store.ReportReviewed)
	if err != nil || n != 2 {
		t.Errorf("SetStatusForItem() = %d, %v; want 2", n, err)
	}
	reviewed, err := repos.Reports.List(ctx, store.ReportReviewed)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, rp := range reviewed {
		if rp.ItemID == it.ID {
			count++
			if rp.Description == nil || *rp.Description != desc {
				t.Errorf("description = %v", rp.Description)
			}
		}
	}
	if count != 2 {
		t.Errorf("listed %d reviewed reports for item, want 2", count)
	}
}

func testNotifications(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	u := SeedUser(t, repos)

	for i := 0; i < 3; i++ {
		n := &store.Notification{
			UserID:    u.ID,
			Type:      store.NotifyAuctionEnded,
			Title:     "Auction ended",
			Message:   "msg",
			CreatedAt: Base.Add(time.Duration(i) * time.Second),
		}
		if err := repos.Notifications.Create(ctx, n); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := repos.Notifications.ListForUser(ctx, u.ID, false, 2)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListForUser(limit 2) = %d, %v", len(all), err)
	}
	if err := repos.Notifications.MarkRead(ctx, u.ID, all[0].ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	unread, _ := repos.Notifications.ListForUser(ctx, u.ID, true, 50)
	if len(unread) != 2 {
		t.Errorf("unread = %d, want 2", len(unread))
	}
	other := SeedUser(t, repos)
	if err := repos.Notifications.MarkRead(ctx, other.ID, all[1].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkRead() by another user error = %v, want ErrNotFound", err)
	}
}

func testMessages(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	a, b := SeedUser(t, repos), SeedUser(t, repos)

	m := &store.Message{SenderID: a.ID, ReceiverID: b.ID, Content: "hi", CreatedAt: Base}
	if err := repos.Messages.Create(ctx, m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for _, uid := range []string{a.ID, b.ID} {
		got, err := repos.Messages.ListForUser(ctx, uid)
		if err != nil || len(got) != 1 || got[0].Content != "hi" {
			t.Errorf("ListForUser(%s) = %+v, %v", uid, got, err)
		}
	}
}

func testEvents(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	itemID := uuid.NewString()

	e1, _ := event.New(itemID, event.ItemListed, event.ItemListedData{Title: "Lamp"}, Base)
	e2, _ := event.New(itemID, event.ItemRemoved, event.ItemRemovedData{Reason: "spam listing"}, Base.Add(time.Second))
	if err := repos.Events.Append(ctx, e1, e2); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := repos.Events.Load(ctx, itemID)
	if err != nil || len(got) != 2 {
		t.Fatalf("Load() = %d, %v", len(got), err)
	}
	if got[0].Type != event.ItemListed || got[1].Type != event.ItemRemoved {
		t.Errorf("Load() order = %s, %s", got[0].Type, got[1].Type)
	}

	removed, err := repos.Events.LoadByType(ctx, event.ItemRemoved)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range removed {
		if e.AggregateID == itemID {
			found = true
		}
	}
	if !found {
		t.Error("LoadByType() missed appended event")
	}
}
