package escrow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/escrow"
	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
	"github.com/Hrittik20/TSUSwap/internal/store/memstore"
	"github.com/Hrittik20/TSUSwap/internal/store/storetest"
)

type fakeCards struct {
	mu          sync.Mutex
	declined    bool
	failCapture bool
	authorized  map[string]decimal.Decimal
	captured    []string
	voided      []string
	seq         int
}

func (f *fakeCards) Authorize(_ context.Context, _ string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declined {
		return "", errors.New("card declined")
	}
	f.seq++
	ref := "auth-" + string(rune('a'+f.seq))
	if f.authorized == nil {
		f.authorized = map[string]decimal.Decimal{}
	}
	f.authorized[ref] = amount
	return ref, nil
}

func (f *fakeCards) Capture(_ context.Context, ref string, _ decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCapture {
		return errors.New("processor unavailable")
	}
	f.captured = append(f.captured, ref)
	return nil
}

func (f *fakeCards) Void(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voided = append(f.voided, ref)
	return nil
}

type fixture struct {
	repos *store.Repositories
	clk   *clock.Manual
	cards *fakeCards
	mgr   *escrow.Manager
}

func newFixture(t *testing.T, cardsEnabled bool) *fixture {
	t.Helper()
	clk := clock.NewManual(storetest.Base)
	repos := memstore.New(clk).Repositories()
	cards := &fakeCards{}
	mgr := escrow.NewManager(repos, cards, notify.NewRecorder(repos.Notifications, slog.Default()), escrow.Config{
		CommissionRate:      decimal.RequireFromString("0.05"),
		CardPaymentsEnabled: cardsEnabled,
	}, slog.Default(), noop.NewTracerProvider(), clk)
	return &fixture{repos: repos, clk: clk, cards: cards, mgr: mgr}
}

func (f *fixture) item(t *testing.T, id string) *store.Item {
	t.Helper()
	it, err := f.repos.Items.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return it
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

func TestPurchaseAndConfirm_Cash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seller := storetest.SeedUser(t, f.repos)
	buyer := storetest.SeedUser(t, f.repos)
	it := storetest.SeedRegular(t, f.repos, seller.ID, 5000)

	meeting := storetest.Base.Add(24 * time.Hour)
	tx, err := f.mgr.Purchase(ctx, buyer.ID, it.ID, store.PaymentCashOnMeet, &meeting)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if tx.Status != store.TxPending || !tx.Amount.Equal(d(5000)) || !tx.CommissionAmount.IsZero() {
		t.Errorf("transaction = %s amount %s commission %s", tx.Status, tx.Amount, tx.CommissionAmount)
	}
	if tx.SellerID != seller.ID || tx.BuyerID != buyer.ID {
		t.Errorf("parties = %s/%s", tx.SellerID, tx.BuyerID)
	}
	if got := f.item(t, it.ID).Status; got != store.ItemSold {
		t.Errorf("item status = %s, want SOLD", got)
	}
	if ns := f.inbox(t, seller.ID); len(ns) != 1 || ns[0].Type != store.NotifyNewPurchase {
		t.Errorf("seller inbox = %+v", ns)
	}

	f.clk.Advance(time.Hour)
	done, err := f.mgr.Confirm(ctx, seller.ID, tx.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if done.Status != store.TxCompleted || done.CompletedAt == nil {
		t.Fatalf("confirmed transaction = %+v", done)
	}
	stored, err := f.repos.Transactions.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.TxCompleted || stored.CompletedAt == nil || !stored.CompletedAt.Equal(storetest.Base.Add(time.Hour)) {
		t.Errorf("stored transaction = %+v", stored)
	}
	ns := f.inbox(t, buyer.ID)
	if len(ns) != 1 || ns[0].Type != store.NotifyTransactionCompleted {
		t.Fatalf("buyer inbox = %+v", ns)
	}
	if ns[0].RelatedTransactionID == nil || *ns[0].RelatedTransactionID != tx.ID {
		t.Errorf("notification not linked to transaction: %+v", ns[0])
	}

	if _, err := f.mgr.Confirm(ctx, seller.ID, tx.ID); !errors.Is(err, market.ErrInvalidState) {
		t.Errorf("second Confirm = %v, want ErrInvalidState", err)
	}
	if _, err := f.mgr.Cancel(ctx, seller.ID, tx.ID); !errors.Is(err, market.ErrInvalidState) {
		t.Errorf("Cancel after Confirm = %v, want ErrInvalidState", err)
	}

	evts, err := f.repos.Events.Load(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	var types []event.Type
	for _, e := range evts {
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != event.TransactionOpened || types[1] != event.TransactionCompleted {
		t.Errorf("events = %v", types)
	}
}

func TestPurchase_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seller := storetest.SeedUser(t, f.repos)
	buyer := storetest.SeedUser(t, f.repos)
	it := storetest.SeedRegular(t, f.repos, seller.ID, 300)
	past := storetest.Base.Add(-time.Hour)

	tests := []struct {
		name     string
		buyer    string
		itemID   string
		method   store.PaymentMethod
		meeting  *time.Time
		wantErr  error
		wantKind market.Kind
	}{
		{name: "self purchase", buyer: seller.ID, itemID: it.ID, method: store.PaymentCashOnMeet, wantErr: market.ErrSelfPurchase},
		{name: "unknown item", buyer: buyer.ID, itemID: "00000000-0000-0000-0000-000000000000", method: store.PaymentCashOnMeet, wantErr: market.ErrNotFound},
		{name: "anonymous", buyer: "", itemID: it.ID, method: store.PaymentCashOnMeet, wantErr: market.ErrUnauthenticated},
		{name: "unknown method", buyer: buyer.ID, itemID: it.ID, method: "BARTER", wantKind: market.KindValidation},
		{name: "card disabled", buyer: buyer.ID, itemID: it.ID, method: store.PaymentCard, wantKind: market.KindValidation},
		{name: "meeting in the past", buyer: buyer.ID, itemID: it.ID, method: store.PaymentCashOnMeet, meeting: &past, wantKind: market.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Purchase(ctx, tt.buyer, tt.itemID, tt.method, tt.meeting)
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && market.KindOf(err) != tt.wantKind {
				t.Fatalf("got %v (%v), want kind %v", err, market.KindOf(err), tt.wantKind)
			}
		})
	}
	if got := f.item(t, it.ID).Status; got != store.ItemActive {
		t.Errorf("item status = %s after rejected purchases", got)
	}

	if _, err := f.mgr.Purchase(ctx, buyer.ID, it.ID, store.PaymentCashOnMeet, nil); err != nil {
		t.Fatal(err)
	}
	other := storetest.SeedUser(t, f.repos)
	if _, err := f.mgr.Purchase(ctx, other.ID, it.ID, store.PaymentCashOnMeet, nil); !errors.Is(err, market.ErrItemUnavailable) {
		t.Errorf("purchase of sold item = %v, want ErrItemUnavailable", err)
	}
}

func TestPurchase_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seller := storetest.SeedUser(t, f.repos)
	it := storetest.SeedRegular(t, f.repos, seller.ID, 800)

	const buyers = 10
	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		u := storetest.SeedUser(t, f.repos)
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.mgr.Purchase(ctx, id, it.ID, store.PaymentCashOnMeet, nil)
		}(i, u.ID)
	}
	wg.Wait()

	var ok int
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, market.ErrItemUnavailable):
		default:
			t.Errorf("buyer %d: %v", i, err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d purchases succeeded, want 1", ok)
	}
	txs, err := f.repos.Transactions.ListForUser(ctx, seller.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Errorf("got %d transactions, want 1", len(txs))
	}
}

func TestCancel_RestoresAuction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seller := storetest.SeedUser(t, f.repos)
	buyer := storetest.SeedUser(t, f.repos)
	it, a := storetest.SeedAuction(t, f.repos, seller.ID, 1000, storetest.Base.Add(time.Hour))

	tx, err := f.mgr.Purchase(ctx, buyer.ID, it.ID, store.PaymentCashOnMeet, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Amount.Equal(d(1000)) || !tx.CommissionAmount.Equal(d(50)) {
		t.Errorf("amount %s commission %s, want 1000 and 50", tx.Amount, tx.CommissionAmount)
	}
	got, err := f.repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Error("auction still active after purchase")
	}

	if _, err := f.mgr.Cancel(ctx, buyer.ID, tx.ID); !errors.Is(err, market.ErrNotSeller) {
		t.Fatalf("buyer Cancel = %v, want ErrNotSeller", err)
	}
	if _, err := f.mgr.Confirm(ctx, buyer.ID, tx.ID); !errors.Is(err, market.ErrNotSeller) {
		t.Fatalf("buyer Confirm = %v, want ErrNotSeller", err)
	}

	cancelled, err := f.mgr.Cancel(ctx, seller.ID, tx.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != store.TxCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
	if got := f.item(t, it.ID).Status; got != store.ItemActive {
		t.Errorf("item status = %s, want ACTIVE", got)
	}
	got, err = f.repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsActive {
		t.Error("auction not reactivated")
	}
	if ns := f.inbox(t, buyer.ID); len(ns) != 1 || ns[0].Type != store.NotifyTransactionCancelled {
		t.Errorf("buyer inbox = %+v", ns)
	}

	// The item can be bought again.
	if _, err := f.mgr.Purchase(ctx, buyer.ID, it.ID, store.PaymentCashOnMeet, nil); err != nil {
		t.Errorf("repurchase: %v", err)
	}
}

func TestCommission(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		name           string
		item           store.Item
		auction        *store.Auction
		wantAmount     string
		wantCommission string
	}{
		{
			name:           "regular",
			item:           store.Item{ListingType: store.ListingRegular, Price: decimal.NullDecimal{Decimal: d(5000), Valid: true}},
			wantAmount:     "5000",
			wantCommission: "0",
		},
		{
			name:           "auction",
			item:           store.Item{ListingType: store.ListingAuction},
			auction:        &store.Auction{CurrentPrice: decimal.RequireFromString("1234.50")},
			wantAmount:     "1234.5",
			wantCommission: "61.73",
		},
		{
			name:           "converted auction",
			item:           store.Item{ListingType: store.ListingRegular, Price: decimal.NullDecimal{Decimal: d(1000), Valid: true}},
			auction:        &store.Auction{CurrentPrice: d(1000)},
			wantAmount:     "1000",
			wantCommission: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, commission := f.mgr.Price(&tt.item, tt.auction)
			if !amount.Equal(decimal.RequireFromString(tt.wantAmount)) {
				t.Errorf("amount = %s, want %s", amount, tt.wantAmount)
			}
			if !commission.Equal(decimal.RequireFromString(tt.wantCommission)) {
				t.Errorf("commission = %s, want %s", commission, tt.wantCommission)
			}
		})
	}
}

func TestCardPath(t *testing.T) {
	ctx := context.Background()

	t.Run("capture on confirm", func(t *testing.T) {
		f := newFixture(t, true)
		seller := storetest.SeedUser(t, f.repos)
		buyer := storetest.SeedUser(t, f.repos)
		it := storetest.SeedRegular(t, f.repos, seller.ID, 700)

		tx, err := f.mgr.Purchase(ctx, buyer.ID, it.ID, store.PaymentCard, nil)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Status != store.TxFundsHeld || tx.AuthorizationRef == nil {
			t.Fatalf("transaction = %+v", tx)
		}

		f.cards.failCapture = true
		if _, err := f.mgr.Confirm(ctx, seller.ID, tx.ID); err == nil {
			t.Fatal("Confirm succeeded with failing capture")
		}
		stored, err := f.repos.Transactions.GetByID(ctx, tx.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Status != store.TxFundsHeld {
			t.Errorf("status after failed capture = %s", stored.Status)
		}

		f.cards.failCapture = false
		if _, err := f.mgr.Confirm(ctx, seller.ID, tx.ID); err != nil {
			t.Fatal(err)
		}
		if len(f.cards.captured) != 1 || f.cards.captured[0] != *tx.AuthorizationRef {
			t.Errorf("captured = %v", f.cards.captured)
		}
	})

	t.Run("void on cancel", func(t *testing.T) {
		f := newFixture(t, true)
		seller := storetest.SeedUser(t, f.repos)
		buyer := storetest.SeedUser(t, f.repos)
		it := storetest.SeedRegular(t, f.repos, seller.ID, 700)

		tx, err := f.mgr.Purchase(ctx, buyer.ID, it.ID, store.PaymentCard, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.mgr.Cancel(ctx, seller.ID, tx.ID); err != nil {
			t.Fatal(err)
		}
		if len(f.cards.voided) != 1 || f.cards.voided[0] != *tx.AuthorizationRef {
			t.Errorf("voided = %v", f.cards.voided)
		}
	})

	t.Run("void when item already sold", func(t *testing.T) {
		f := newFixture(t, true)
		seller := storetest.SeedUser(t, f.repos)
		first := storetest.SeedUser(t, f.repos)
		second := storetest.SeedUser(t, f.repos)
		it := storetest.SeedRegular(t, f.repos, seller.ID, 700)

		if _, err := f.mgr.Purchase(ctx, first.ID, it.ID, store.PaymentCashOnMeet, nil); err != nil {
			t.Fatal(err)
		}
		// Reopen the item behind the manager's back so the card is
		// authorized and the lock then finds an open transaction.
		if err := f.repos.Items.Relist(ctx, it.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := f.mgr.Purchase(ctx, second.ID, it.ID, store.PaymentCard, nil); !errors.Is(err, market.ErrItemUnavailable) {
			t.Fatalf("got %v, want ErrItemUnavailable", err)
		}
		if len(f.cards.voided) != 1 {
			t.Errorf("voided = %v, want one authorization released", f.cards.voided)
		}
	})

	t.Run("declined", func(t *testing.T) {
		f := newFixture(t, true)
		seller := storetest.SeedUser(t, f.repos)
		buyer := storetest.SeedUser(t, f.repos)
		it := storetest.SeedRegular(t, f.repos, seller.ID, 700)
		f.cards.declined = true

		if _, err := f.mgr.Purchase(ctx, buyer.ID, it.ID, store.PaymentCard, nil); err == nil {
			t.Fatal("purchase succeeded with declined card")
		}
		if got := f.item(t, it.ID).Status; got != store.ItemActive {
			t.Errorf("item status = %s", got)
		}
	})
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seller := storetest.SeedUser(t, f.repos)
	buyer := storetest.SeedUser(t, f.repos)
	stranger := storetest.SeedUser(t, f.repos)
	first := storetest.SeedRegular(t, f.repos, seller.ID, 100)
	second := storetest.SeedRegular(t, f.repos, seller.ID, 200)

	tx1, err := f.mgr.Purchase(ctx, buyer.ID, first.ID, store.PaymentCashOnMeet, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(time.Minute)
	tx2, err := f.mgr.Purchase(ctx, buyer.ID, second.ID, store.PaymentCashOnMeet, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, uid := range []string{seller.ID, buyer.ID} {
		txs, err := f.mgr.ListForUser(ctx, uid)
		if err != nil {
			t.Fatal(err)
		}
		if len(txs) != 2 || txs[0].ID != tx2.ID || txs[1].ID != tx1.ID {
			t.Errorf("ListForUser(%s) = %+v, want newest first", uid, txs)
		}
	}
	if txs, _ := f.mgr.ListForUser(ctx, stranger.ID); len(txs) != 0 {
		t.Errorf("stranger sees %d transactions", len(txs))
	}

	if _, err := f.mgr.Get(ctx, buyer.ID, tx1.ID); err != nil {
		t.Errorf("buyer Get: %v", err)
	}
	if _, err := f.mgr.Get(ctx, stranger.ID, tx1.ID); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("stranger Get = %v, want ErrNotFound", err)
	}
}
