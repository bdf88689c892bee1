// Package event is the append-only audit log of marketplace lifecycle
// changes. Every event is keyed by the item it concerns, so an item's
// history can be replayed with Store.Load.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

const (
	ItemListed    Type = "item.listed"
	ItemRelisted  Type = "item.relisted"
	ItemWithdrawn Type = "item.withdrawn"
	ItemRemoved   Type = "item.removed"

	AuctionBidPlaced   Type = "auction.bid_placed"
	AuctionEndedNoBids Type = "auction.ended_no_bids"
	AuctionEndedSold   Type = "auction.ended_sold"

	TransactionOpened    Type = "transaction.opened"
	TransactionCompleted Type = "transaction.completed"
	TransactionCancelled Type = "transaction.cancelled"

	ReportFiled         Type = "report.filed"
	ReportStatusChanged Type = "report.status_changed"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event for the item itemID with payload encoded as JSON.
func New(itemID string, t Type, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.NewString(),
		AggregateID: itemID,
		Type:        t,
		Data:        data,
		CreatedAt:   at,
	}, nil
}

// ItemListedData is the payload for ItemListed events.
type ItemListedData struct {
	SellerID    string `json:"seller_id"`
	ListingType string `json:"listing_type"`
	Title       string `json:"title"`
	Price       string `json:"price"`
}

// ItemStateData is the payload for ItemRelisted and ItemWithdrawn events.
type ItemStateData struct {
	ActorID string `json:"actor_id"`
	Status  string `json:"status"`
}

// ItemRemovedData is the payload for ItemRemoved events.
type ItemRemovedData struct {
	AdminID  string `json:"admin_id"`
	SellerID string `json:"seller_id"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
	Amount    string `json:"amount"`
}

// AuctionEndedData is the payload for AuctionEndedNoBids and AuctionEndedSold events.
type AuctionEndedData struct {
	AuctionID string `json:"auction_id"`
	WinnerID  string `json:"winner_id,omitempty"`
	Amount    string `json:"amount"`
}

// TransactionData is the payload for Transaction* events.
type TransactionData struct {
	TransactionID string `json:"transaction_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id"`
	Amount        string `json:"amount"`
	Commission    string `json:"commission"`
	Status        string `json:"status"`
}

// ReportData is the payload for ReportFiled and ReportStatusChanged events.
type ReportData struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status"`
	Count   int    `json:"count,omitempty"`
}
