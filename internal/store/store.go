package store

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Errors reported by every driver. Managers translate them into market errors.
var (
	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional update matched no row because the
	// precondition no longer holds.
	ErrConflict = errors.New("precondition failed")
	// ErrDuplicate means a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("duplicate record")
)

// ListingType distinguishes fixed-price listings from auctions.
type ListingType string

const (
	ListingRegular ListingType = "REGULAR"
	ListingAuction ListingType = "AUCTION"
)

// ItemStatus is the lifecycle state of a listing.
type ItemStatus string

const (
	ItemActive    ItemStatus = "ACTIVE"
	ItemSold      ItemStatus = "SOLD"
	ItemCancelled ItemStatus = "CANCELLED"
)

// PaymentMethod is how the buyer funds a transaction.
type PaymentMethod string

const (
	PaymentCashOnMeet PaymentMethod = "CASH_ON_MEET"
	PaymentCard       PaymentMethod = "CARD"
)

// TransactionStatus is the escrow state of a sale.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxFundsHeld TransactionStatus = "FUNDS_HELD"
	TxCompleted TransactionStatus = "COMPLETED"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Open reports whether the transaction still awaits the seller.
func (s TransactionStatus) Open() bool {
	return s == TxPending || s == TxFundsHeld
}

// ReportReason is why a user flagged an item.
type ReportReason string

const (
	ReasonInappropriate ReportReason = "INAPPROPRIATE"
	ReasonScam          ReportReason = "SCAM"
	ReasonFake          ReportReason = "FAKE"
	ReasonSpam          ReportReason = "SPAM"
	ReasonOther         ReportReason = "OTHER"
)

// Valid reports whether r is a known reason.
func (r ReportReason) Valid() bool {
	switch r {
	case ReasonInappropriate, ReasonScam, ReasonFake, ReasonSpam, ReasonOther:
		return true
	}
	return false
}

// ReportStatus is the triage state of a report.
type ReportStatus string

const (
	ReportPending   ReportStatus = "PENDING"
	ReportReviewed  ReportStatus = "REVIEWED"
	ReportResolved  ReportStatus = "RESOLVED"
	ReportDismissed ReportStatus = "DISMISSED"
)

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportReviewed, ReportResolved, ReportDismissed:
		return true
	}
	return false
}

// NotificationType tags a user notification.
type NotificationType string

const (
	NotifyAuctionEnded         NotificationType = "AUCTION_ENDED"
	NotifyNewPurchase          NotificationType = "NEW_PURCHASE"
	NotifyTransactionCompleted NotificationType = "TRANSACTION_COMPLETED"
	NotifyTransactionCancelled NotificationType = "TRANSACTION_CANCELLED"
	NotifyItemRemoved          NotificationType = "ITEM_REMOVED"
)

// User is the subset of a community member the engine needs: identity and
// the rolling auction quota.
type User struct {
	ID                    string    `db:"id" json:"id"`
	Name                  string    `db:"name" json:"name"`
	Email                 string    `db:"email" json:"email"`
	AuctionsUsedThisMonth int       `db:"auctions_used_this_month" json:"auctions_used_this_month"`
	AuctionLimitResetAt   time.Time `db:"auction_limit_reset_at" json:"auction_limit_reset_at"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// Item is a listing. Regular items carry a price; auction items do not.
type Item struct {
	ID          string              `db:"id" json:"id"`
	Title       string              `db:"title" json:"title"`
	Description string              `db:"description" json:"description"`
	Price       decimal.NullDecimal `db:"price" json:"price"`
	Images      pq.StringArray      `db:"images" json:"images"`
	Category    string              `db:"category" json:"category"`
	Condition   string              `db:"condition" json:"condition"`
	ListingType ListingType         `db:"listing_type" json:"listing_type"`
	Status      ItemStatus          `db:"status" json:"status"`
	SellerID    string              `db:"seller_id" json:"seller_id"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
}

// Auction belongs to exactly one AUCTION item.
type Auction struct {
	ID           string              `db:"id" json:"id"`
	ItemID       string              `db:"item_id" json:"item_id"`
	StartPrice   decimal.Decimal     `db:"start_price" json:"start_price"`
	CurrentPrice decimal.Decimal     `db:"current_price" json:"current_price"`
	ReservePrice decimal.NullDecimal `db:"reserve_price" json:"reserve_price"`
	EndTime      time.Time           `db:"end_time" json:"end_time"`
	IsActive     bool                `db:"is_active" json:"is_active"`
}

// Bid is immutable once written.
type Bid struct {
	ID        string          `db:"id" json:"id"`
	AuctionID string          `db:"auction_id" json:"auction_id"`
	BidderID  string          `db:"bidder_id" json:"bidder_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Transaction is a sale awaiting or past the buyer/seller handshake.
type Transaction struct {
	ID               string            `db:"id" json:"id"`
	Amount           decimal.Decimal   `db:"amount" json:"amount"`
	CommissionAmount decimal.Decimal   `db:"commission_amount" json:"commission_amount"`
	PaymentMethod    PaymentMethod     `db:"payment_method" json:"payment_method"`
	Status           TransactionStatus `db:"status" json:"status"`
	AuthorizationRef *string           `db:"authorization_ref" json:"authorization_ref,omitempty"`
	ItemID           string            `db:"item_id" json:"item_id"`
	BuyerID          string            `db:"buyer_id" json:"buyer_id"`
	SellerID         string            `db:"seller_id" json:"seller_id"`
	MeetingScheduled *time.Time        `db:"meeting_scheduled" json:"meeting_scheduled,omitempty"`
	CompletedAt      *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
}

// Report is a user's flag on an item.
type Report struct {
	ID          string       `db:"id" json:"id"`
	ItemID      string       `db:"item_id" json:"item_id"`
	ReporterID  string       `db:"reporter_id" json:"reporter_id"`
	Reason      ReportReason `db:"reason" json:"reason"`
	Description *string      `db:"description" json:"description,omitempty"`
	Status      ReportStatus `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// Notification is an inbox entry for one user.
type Notification struct {
	ID                   string           `db:"id" json:"id"`
	UserID               string           `db:"user_id" json:"user_id"`
	Type                 NotificationType `db:"type" json:"type"`
	Title                string           `db:"title" json:"title"`
	Message              string           `db:"message" json:"message"`
	RelatedItemID        *string          `db:"related_item_id" json:"related_item_id,omitempty"`
	RelatedTransactionID *string          `db:"related_transaction_id" json:"related_transaction_id,omitempty"`
	IsRead               bool             `db:"is_read" json:"is_read"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
}

// Message is a direct message between two users.
type Message struct {
	ID         string    `db:"id" json:"id"`
	SenderID   string    `db:"sender_id" json:"sender_id"`
	ReceiverID string    `db:"receiver_id" json:"receiver_id"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SettleOutcome is what a settlement attempt did to an expired auction.
type SettleOutcome int

const (
	// SettleSkipped means the auction was no longer eligible, usually
	// because a concurrent sweep settled it first.
	SettleSkipped SettleOutcome = iota
	// SettleNoBids means the item was converted to a regular listing.
	SettleNoBids
	// SettleSold means the auction closed with a winning bid.
	SettleSold
)

// Settlement is the result of AuctionRepository.Settle.
type Settlement struct {
	Outcome SettleOutcome
	Auction Auction
	Item    Item
	Winner  *Bid
}

// UserRepository defines user persistence operations.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
}

// ItemRepository defines listing persistence operations.
type ItemRepository interface {
	// CreateListing inserts item and, when auction is non-nil, its auction.
	// When admit is non-nil it runs with the seller row locked; quota
	// changes it makes to the seller are saved in the same transaction and
	// an error from it aborts the whole insert.
	CreateListing(ctx context.Context, item *Item, auction *Auction, admit func(seller *User) error) error
	GetByID(ctx context.Context, id string) (*Item, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Item, error)
	// Relist moves a SOLD or CANCELLED item to ACTIVE and reactivates its
	// auction. ErrConflict when the item is in any other state.
	Relist(ctx context.Context, id string) error
	// Withdraw moves an ACTIVE item whose auction has no bids to CANCELLED
	// and deactivates the auction. ErrConflict otherwise.
	Withdraw(ctx context.Context, id string) error
	// Delete removes the item with its auction, bids and reports and
	// cancels its open transactions, all in one transaction.
	Delete(ctx context.Context, id string) error
}

// AuctionRepository defines auction and bid persistence operations.
type AuctionRepository interface {
	GetByID(ctx context.Context, id string) (*Auction, error)
	GetByItemID(ctx context.Context, itemID string) (*Auction, error)
	// PlaceBid inserts bid and raises current_price to bid.Amount only if
	// the auction is active, now is not past end_time and current_price
	// still equals expected. ErrConflict otherwise.
	PlaceBid(ctx context.Context, bid *Bid, expected decimal.Decimal, now time.Time) error
	// ListBids returns bids oldest first.
	ListBids(ctx context.Context, auctionID string) ([]Bid, error)
	// HighestBid returns the leading bid: highest amount, earliest on ties.
	HighestBid(ctx context.Context, auctionID string) (*Bid, error)
	// ListExpired returns active auctions whose end_time is before now.
	ListExpired(ctx context.Context, now time.Time) ([]Auction, error)
	CountExpired(ctx context.Context, now time.Time) (int, error)
	// Settle re-checks eligibility and deactivates the auction in one
	// atomic step. Without bids the item also becomes a REGULAR listing
	// priced at the start price.
	Settle(ctx context.Context, auctionID string, now time.Time) (*Settlement, error)
}

// TransactionRepository defines escrow persistence operations.
type TransactionRepository interface {
	// Open locks the item and its auction, calls build with them and, if
	// build succeeds, marks the item SOLD, deactivates the auction and
	// inserts the returned transaction.
	Open(ctx context.Context, itemID string, build func(item *Item, auction *Auction) (*Transaction, error)) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	ListForUser(ctx context.Context, userID string) ([]Transaction, error)
	// Complete moves the transaction from one of from to COMPLETED.
	Complete(ctx context.Context, id string, from []TransactionStatus, at time.Time) error
	// Cancel moves the transaction from one of from to CANCELLED, returns
	// the item to ACTIVE and reactivates its auction.
	Cancel(ctx context.Context, id string, from []TransactionStatus) error
}

// ReportRepository defines moderation persistence operations.
type ReportRepository interface {
	// Create returns ErrDuplicate when the reporter already flagged the item.
	Create(ctx context.Context, r *Report) error
	Exists(ctx context.Context, itemID, reporterID string) (bool, error)
	SetStatusForItem(ctx context.Context, itemID string, status ReportStatus) (int, error)
	// List returns reports newest first; an empty status matches all.
	List(ctx context.Context, status ReportStatus) ([]Report, error)
}

// NotificationRepository defines inbox persistence operations.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// MessageRepository defines direct message persistence operations.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListForUser(ctx context.Context, userID string) ([]Message, error)
}
