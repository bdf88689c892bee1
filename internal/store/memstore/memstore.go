// Package memstore is a ledger store held in process memory. One mutex
// guards every table, so each repository call is atomic and linearizable.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Hrittik20/TSUSwap/internal/clock"
	"github.com/Hrittik20/TSUSwap/internal/config"
	"github.com/Hrittik20/TSUSwap/internal/event"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return New(clk).Repositories(), nil
	})
}

// Store holds every table of the ledger.
type Store struct {
	mu  sync.Mutex
	clk clock.Clock

	users         map[string]store.User
	items         map[string]store.Item
	auctions      map[string]store.Auction
	auctionByItem map[string]string
	bids          map[string][]store.Bid
	txs           map[string]store.Transaction
	txOrder       []string
	reports       []store.Report
	notifications []store.Notification
	messages      []store.Message
	events        []event.Event
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clk:           clk,
		users:         make(map[string]store.User),
		items:         make(map[string]store.Item),
		auctions:      make(map[string]store.Auction),
		auctionByItem: make(map[string]string),
		bids:          make(map[string][]store.Bid),
		txs:           make(map[string]store.Transaction),
	}
}

// Repositories exposes s through the store interfaces.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Users:         &UserRepo{s},
		Items:         &ItemRepo{s},
		Auctions:      &AuctionRepo{s},
		Transactions:  &TransactionRepo{s},
		Reports:       &ReportRepo{s},
		Notifications: &NotificationRepo{s},
		Messages:      &MessageRepo{s},
		Events:        &EventStore{s},
		Closer:        nopCloser{},
		Ping:          func(context.Context) error { return nil },
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (s *Store) stamp(id *string, at *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if at.IsZero() {
		*at = s.clk.Now()
	}
}

func cloneItem(it store.Item) store.Item {
	it.Images = slices.Clone(it.Images)
	return it
}

// highestBid must be called with s.mu held.
func (s *Store) highestBid(auctionID string) (store.Bid, bool) {
	var best store.Bid
	found := false
	for _, b := range s.bids[auctionID] {
		switch {
		case !found, b.Amount.GreaterThan(best.Amount):
			best, found = b, true
		case b.Amount.Equal(best.Amount) && b.CreatedAt.Before(best.CreatedAt):
			best = b
		}
	}
	return best, found
}

// UserRepo implements store.UserRepository.
type UserRepo struct{ s *Store }

func (r *UserRepo) Create(_ context.Context, u *store.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.stamp(&u.ID, &u.CreatedAt)
	if _, ok := r.s.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range r.s.users {
		if other.Email == u.Email {
			return store.ErrDuplicate
		}
	}
	if u.AuctionLimitResetAt.IsZero() {
		u.AuctionLimitResetAt = u.CreatedAt
	}
	r.s.users[u.ID] = *u
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*store.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

// ItemRepo implements store.ItemRepository.
type ItemRepo struct{ s *Store }

func (r *ItemRepo) CreateListing(_ context.Context, item *store.Item, auction *store.Auction, admit func(*store.User) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seller, ok := r.s.users[item.SellerID]
	if !ok {
		return store.ErrNotFound
	}
	if admit != nil {
		if err := admit(&seller); err != nil {
			return err
		}
	}

	r.s.stamp(&item.ID, &item.CreatedAt)
	if auction != nil {
		var zero time.Time
		r.s.stamp(&auction.ID, &zero)
		auction.ItemID = item.ID
		r.s.auctions[auction.ID] = *auction
		r.s.auctionByItem[item.ID] = auction.ID
	}
	r.s.users[seller.ID] = seller
	r.s.items[item.ID] = cloneItem(*item)
	return nil
}

func (r *ItemRepo) GetByID(_ context.Context, id string) (*store.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	it = cloneItem(it)
	return &it, nil
}

func (r *ItemRepo) ListBySeller(_ context.Context, sellerID string) ([]store.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Item
	for _, it := range r.s.items {
		if it.SellerID == sellerID {
			out = append(out, cloneItem(it))
		}
	}
	slices.SortFunc(out, func(a, b store.Item) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *ItemRepo) Relist(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if it.Status != store.ItemSold && it.Status != store.ItemCancelled {
		return store.ErrConflict
	}
	it.Status = store.ItemActive
	r.s.items[id] = it
	r.s.setAuctionActive(id, true)
	return nil
}

func (r *ItemRepo) Withdraw(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if it.Status != store.ItemActive {
		return store.ErrConflict
	}
	if aid, ok := r.s.auctionByItem[id]; ok && len(r.s.bids[aid]) > 0 {
		return store.ErrConflict
	}
	it.Status = store.ItemCancelled
	r.s.items[id] = it
	r.s.setAuctionActive(id, false)
	return nil
}

func (r *ItemRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.items[id]; !ok {
		return store.ErrNotFound
	}
	if aid, ok := r.s.auctionByItem[id]; ok {
		delete(r.s.bids, aid)
		delete(r.s.auctions, aid)
		delete(r.s.auctionByItem, id)
	}
	r.s.reports = slices.DeleteFunc(r.s.reports, func(rp store.Report) bool { return rp.ItemID == id })
	for txID, tx := range r.s.txs {
		if tx.ItemID == id && tx.Status.Open() {
			tx.Status = store.TxCancelled
			r.s.txs[txID] = tx
		}
	}
	delete(r.s.items, id)
	return nil
}

// setAuctionActive must be called with s.mu held.
func (s *Store) setAuctionActive(itemID string, active bool) {
	aid, ok := s.auctionByItem[itemID]
	if !ok {
		return
	}
	a := s.auctions[aid]
	a.IsActive = active
	s.auctions[aid] = a
}

// AuctionRepo implements store.AuctionRepository.
type AuctionRepo struct{ s *Store }

func (r *AuctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (r *AuctionRepo) GetByItemID(_ context.Context, itemID string) (*store.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	aid, ok := r.s.auctionByItem[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	a := r.s.auctions[aid]
	return &a, nil
}

func (r *AuctionRepo) PlaceBid(_ context.Context, bid *store.Bid, expected decimal.Decimal, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[bid.AuctionID]
	if !ok {
		return store.ErrNotFound
	}
	if !a.IsActive || now.After(a.EndTime) || !a.CurrentPrice.Equal(expected) || !bid.Amount.GreaterThan(a.CurrentPrice) {
		return store.ErrConflict
	}
	r.s.stamp(&bid.ID, &bid.CreatedAt)
	a.CurrentPrice = bid.Amount
	r.s.auctions[a.ID] = a
	r.s.bids[a.ID] = append(r.s.bids[a.ID], *bid)
	return nil
}

func (r *AuctionRepo) ListBids(_ context.Context, auctionID string) ([]store.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.bids[auctionID]), nil
}

func (r *AuctionRepo) HighestBid(_ context.Context, auctionID string) (*store.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.highestBid(auctionID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (r *AuctionRepo) ListExpired(_ context.Context, now time.Time) ([]store.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Auction
	for _, a := range r.s.auctions {
		if a.IsActive && a.EndTime.Before(now) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b store.Auction) int { return a.EndTime.Compare(b.EndTime) })
	return out, nil
}

func (r *AuctionRepo) CountExpired(ctx context.Context, now time.Time) (int, error) {
	out, err := r.ListExpired(ctx, now)
	return len(out), err
}

func (r *AuctionRepo) Settle(_ context.Context, auctionID string, now time.Time) (*store.Settlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions[auctionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !a.IsActive || !a.EndTime.Before(now) {
		return &store.Settlement{Outcome: store.SettleSkipped, Auction: a}, nil
	}
	it, ok := r.s.items[a.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}

	a.IsActive = false
	r.s.auctions[a.ID] = a

	winner, hasBids := r.s.highestBid(a.ID)
	if !hasBids {
		it.ListingType = store.ListingRegular
		it.Price = decimal.NullDecimal{Decimal: a.StartPrice, Valid: true}
		it.Status = store.ItemActive
		r.s.items[it.ID] = it
		return &store.Settlement{Outcome: store.SettleNoBids, Auction: a, Item: cloneItem(it)}, nil
	}
	return &store.Settlement{Outcome: store.SettleSold, Auction: a, Item: cloneItem(it), Winner: &winner}, nil
}

// TransactionRepo implements store.TransactionRepository.
type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) Open(_ context.Context, itemID string, build func(*store.Item, *store.Auction) (*store.Transaction, error)) (*store.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var auction *store.Auction
	if aid, ok := r.s.auctionByItem[itemID]; ok {
		a := r.s.auctions[aid]
		auction = &a
	}

	view := cloneItem(it)
	tx, err := build(&view, auction)
	if err != nil {
		return nil, err
	}
	for _, other := range r.s.txs {
		if other.ItemID == itemID && other.Status.Open() {
			return nil, store.ErrDuplicate
		}
	}

	r.s.stamp(&tx.ID, &tx.CreatedAt)
	it.Status = store.ItemSold
	r.s.items[itemID] = it
	r.s.setAuctionActive(itemID, false)
	r.s.txs[tx.ID] = *tx
	r.s.txOrder = append(r.s.txOrder, tx.ID)
	out := *tx
	return &out, nil
}

func (r *TransactionRepo) GetByID(_ context.Context, id string) (*store.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (r *TransactionRepo) ListForUser(_ context.Context, userID string) ([]store.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Transaction
	for i := len(r.s.txOrder) - 1; i >= 0; i-- {
		tx := r.s.txs[r.s.txOrder[i]]
		if tx.BuyerID == userID || tx.SellerID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *TransactionRepo) Complete(_ context.Context, id string, from []store.TransactionStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.txs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(from, tx.Status) {
		return store.ErrConflict
	}
	tx.Status = store.TxCompleted
	tx.CompletedAt = &at
	r.s.txs[id] = tx
	return nil
}

func (r *TransactionRepo) Cancel(_ context.Context, id string, from []store.TransactionStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, ok := r.s.txs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(from, tx.Status) {
		return store.ErrConflict
	}
	tx.Status = store.TxCancelled
	r.s.txs[id] = tx

	if it, ok := r.s.items[tx.ItemID]; ok && it.Status == store.ItemSold {
		it.Status = store.ItemActive
		r.s.items[it.ID] = it
	}
	r.s.setAuctionActive(tx.ItemID, true)
	return nil
}

// ReportRepo implements store.ReportRepository.
type ReportRepo struct{ s *Store }

func (r *ReportRepo) Create(_ context.Context, rp *store.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.items[rp.ItemID]; !ok {
		return store.ErrNotFound
	}
	for _, other := range r.s.reports {
		if other.ItemID == rp.ItemID && other.ReporterID == rp.ReporterID {
			return store.ErrDuplicate
		}
	}
	r.s.stamp(&rp.ID, &rp.CreatedAt)
	r.s.reports = append(r.s.reports, *rp)
	return nil
}

func (r *ReportRepo) Exists(_ context.Context, itemID, reporterID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return slices.ContainsFunc(r.s.reports, func(rp store.Report) bool {
		return rp.ItemID == itemID && rp.ReporterID == reporterID
	}), nil
}

func (r *ReportRepo) SetStatusForItem(_ context.Context, itemID string, status store.ReportStatus) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for i := range r.s.reports {
		if r.s.reports[i].ItemID == itemID {
			r.s.reports[i].Status = status
			n++
		}
	}
	return n, nil
}

func (r *ReportRepo) List(_ context.Context, status store.ReportStatus) ([]store.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Report
	for i := len(r.s.reports) - 1; i >= 0; i-- {
		if status == "" || r.s.reports[i].Status == status {
			out = append(out, r.s.reports[i])
		}
	}
	return out, nil
}

// NotificationRepo implements store.NotificationRepository.
type NotificationRepo struct{ s *Store }

func (r *NotificationRepo) Create(_ context.Context, n *store.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.stamp(&n.ID, &n.CreatedAt)
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}

func (r *NotificationRepo) ListForUser(_ context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Notification
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		n := r.s.notifications[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *NotificationRepo) MarkRead(_ context.Context, userID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := range r.s.notifications {
		if r.s.notifications[i].ID == id && r.s.notifications[i].UserID == userID {
			r.s.notifications[i].IsRead = true
			return nil
		}
	}
	return store.ErrNotFound
}

// MessageRepo implements store.MessageRepository.
type MessageRepo struct{ s *Store }

func (r *MessageRepo) Create(_ context.Context, m *store.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.stamp(&m.ID, &m.CreatedAt)
	r.s.messages = append(r.s.messages, *m)
	return nil
}

func (r *MessageRepo) ListForUser(_ context.Context, userID string) ([]store.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.Message
	for i := len(r.s.messages) - 1; i >= 0; i-- {
		m := r.s.messages[i]
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// EventStore implements event.Store.
type EventStore struct{ s *Store }

func (r *EventStore) Append(_ context.Context, events ...event.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range events {
		r.s.stamp(&e.ID, &e.CreatedAt)
		r.s.events = append(r.s.events, e)
	}
	return nil
}

func (r *EventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	return r.filter(func(e event.Event) bool { return e.AggregateID == aggregateID }), nil
}

func (r *EventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	return r.filter(func(e event.Event) bool { return e.Type == eventType }), nil
}

func (r *EventStore) filter(keep func(event.Event) bool) []event.Event {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []event.Event
	for _, e := range r.s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
