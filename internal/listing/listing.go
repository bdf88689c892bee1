// Package listing owns item state: creation with the monthly auction
// quota, relisting, seller withdrawal and admin removal.
package listing

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// Field limits for a listing.
const (
	MinTitle       = 3
	MaxTitle       = 100
	MinDescription = 10
	MaxDescription = 1000
	MinImages      = 1
	MaxImages      = 5
)

// CreateInput describes a new listing. Price is read for REGULAR items,
// StartPrice, ReservePrice and EndTime for AUCTION items.
type CreateInput struct {
	Title        string
	Description  string
	Images       []string
	Category     string
	Condition    string
	ListingType  store.ListingType
	Price        decimal.Decimal
	StartPrice   decimal.Decimal
	ReservePrice *decimal.Decimal
	EndTime      *time.Time
}

func (in *CreateInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Condition = strings.TrimSpace(in.Condition)
}

func lengthBetween(field, s string, lo, hi int) error {
	n := utf8.RuneCountInString(s)
	if n < lo || n > hi {
		return market.Invalid(field, fmt.Sprintf("must be between %d and %d characters", lo, hi))
	}
	return nil
}

func (in CreateInput) validate(now time.Time) error {
	if err := lengthBetween("title", in.Title, MinTitle, MaxTitle); err != nil {
		return err
	}
	if err := lengthBetween("description", in.Description, MinDescription, MaxDescription); err != nil {
		return err
	}
	if len(in.Images) < MinImages || len(in.Images) > MaxImages {
		return market.Invalid("images", "between 1 and 5 images are required")
	}
	for _, img := range in.Images {
		if strings.TrimSpace(img) == "" {
			return market.Invalid("images", "image URL must not be empty")
		}
	}
	if in.Category == "" {
		return market.Invalid("category", "is required")
	}
	if in.Condition == "" {
		return market.Invalid("condition", "is required")
	}

	switch in.ListingType {
	case store.ListingRegular:
		if !in.Price.IsPositive() {
			return market.Invalid("price", "is required for a fixed-price listing and must be positive")
		}
	case store.ListingAuction:
		if !in.StartPrice.IsPositive() {
			return market.Invalid("start_price", "is required for an auction and must be positive")
		}
		if in.ReservePrice != nil && !in.ReservePrice.IsPositive() {
			return market.Invalid("reserve_price", "must be positive")
		}
		if in.EndTime != nil && !in.EndTime.After(now) {
			return market.Invalid("end_time", "must be in the future")
		}
	default:
		return market.Invalid("listing_type", "must be REGULAR or AUCTION")
	}
	return nil
}

// quota returns the admit callback that charges one auction slot to the
// seller. The counter resets once its reset timestamp is more than one
// calendar month old.
func quota(limit int, now time.Time) func(*store.User) error {
	return func(u *store.User) error {
		if u.AuctionLimitResetAt.AddDate(0, 1, 0).Before(now) {
			u.AuctionsUsedThisMonth = 0
			u.AuctionLimitResetAt = now
		}
		if u.AuctionsUsedThisMonth >= limit {
			return &market.QuotaExceededError{
				Limit:   limit,
				ResetAt: u.AuctionLimitResetAt.AddDate(0, 1, 0),
			}
		}
		u.AuctionsUsedThisMonth++
		return nil
	}
}
