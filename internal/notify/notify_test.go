package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
	"github.com/Hrittik20/TSUSwap/internal/store/memstore"
)

type failingRepo struct {
	store.NotificationRepository
}

func (failingRepo) Create(context.Context, *store.Notification) error {
	return errors.New("insert failed")
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New(clock.Real{}).Repositories()
	rec := notify.NewRecorder(repos.Notifications, slog.Default())

	for i := 0; i < notify.InboxLimit+5; i++ {
		rec.Notify(ctx, notify.For("u1", store.NotifyAuctionEnded, "Auction ended", "msg", "item-1"))
	}
	rec.Notify(ctx, notify.For("u2", store.NotifyItemRemoved, "Removed", "msg", ""))

	list, err := rec.List(ctx, "u1", false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != notify.InboxLimit {
		t.Errorf("List() returned %d, want %d", len(list), notify.InboxLimit)
	}
	if list[0].RelatedItemID == nil || *list[0].RelatedItemID != "item-1" {
		t.Errorf("related item = %v, want item-1", list[0].RelatedItemID)
	}

	if err := rec.MarkRead(ctx, "u1", list[0].ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if err := rec.MarkRead(ctx, "u2", list[1].ID); !errors.Is(err, notify.ErrNotFound) {
		t.Errorf("MarkRead() of another user's notification error = %v, want ErrNotFound", err)
	}

	other, _ := rec.List(ctx, "u2", true)
	if len(other) != 1 || other[0].RelatedItemID != nil {
		t.Errorf("u2 inbox = %+v", other)
	}
}

func TestRecorder_SwallowsErrors(t *testing.T) {
	rec := notify.NewRecorder(failingRepo{}, slog.Default())
	rec.Notify(context.Background(), notify.For("u1", store.NotifyNewPurchase, "t", "m", ""))
}

func TestFanout(t *testing.T) {
	var got []string
	sink := func(name string) notify.Notifier {
		return notify.Func(func(_ context.Context, n store.Notification) {
			got = append(got, name+":"+n.UserID)
		})
	}

	notify.Fanout{sink("a"), sink("b")}.Notify(context.Background(), store.Notification{UserID: "u1"})

	if len(got) != 2 || got[0] != "a:u1" || got[1] != "b:u1" {
		t.Errorf("fanout delivered %v", got)
	}
}
