// Package market defines the failure taxonomy shared by the listing,
// auction, escrow and moderation engines.
package market

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for callers that only care about the category.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindStateConflict
	KindQuotaExceeded
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified domain failure. The package-level sentinels are
// compared by identity, so wrap them with %w to add context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Authorization failures: the caller is the wrong actor for the action.
var (
	ErrNotOwner        = &Error{Kind: KindAuthorization, Code: "not_owner", Message: "only the seller can change this listing"}
	ErrNotSeller       = &Error{Kind: KindAuthorization, Code: "not_seller", Message: "only the seller can act on this transaction"}
	ErrSelfBid         = &Error{Kind: KindAuthorization, Code: "self_bid", Message: "you cannot bid on your own item"}
	ErrSelfPurchase    = &Error{Kind: KindAuthorization, Code: "self_purchase", Message: "you cannot buy your own item"}
	ErrSelfReport      = &Error{Kind: KindAuthorization, Code: "self_report", Message: "you cannot report your own item"}
	ErrNotAdmin        = &Error{Kind: KindAuthorization, Code: "not_admin", Message: "admin access required"}
	ErrUnauthenticated = &Error{Kind: KindAuthorization, Code: "unauthenticated", Message: "caller identity is missing"}
)

// State conflicts: expected under concurrent use, the caller should refresh and retry.
var (
	ErrInvalidState    = &Error{Kind: KindStateConflict, Code: "invalid_state", Message: "the record is not in a state that allows this action"}
	ErrAuctionEnded    = &Error{Kind: KindStateConflict, Code: "auction_ended", Message: "auction has ended"}
	ErrBidTooLow       = &Error{Kind: KindStateConflict, Code: "bid_too_low", Message: "bid must be higher than the current price"}
	ErrItemUnavailable = &Error{Kind: KindStateConflict, Code: "item_unavailable", Message: "item is not available"}
	ErrDuplicateReport = &Error{Kind: KindStateConflict, Code: "duplicate_report", Message: "you have already reported this item"}
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = &Error{Kind: KindNotFound, Code: "not_found", Message: "not found"}

// ErrQuotaExceeded matches every *QuotaExceededError via errors.Is.
var ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded, Code: "quota_exceeded", Message: "auction quota exceeded"}

// ValidationError reports malformed input on a public operation.
type ValidationError struct {
	Field  string
	Reason string
}

// Invalid returns a *ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// QuotaExceededError is returned when a seller has used every auction slot
// of the current period.
type QuotaExceededError struct {
	Limit   int
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("you have reached your limit of %d auctions this month; the limit resets on %s",
		e.Limit, e.ResetAt.Format("2006-01-02"))
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// KindOf returns the classification of err, or KindInternal for errors that
// are not domain failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return KindQuotaExceeded
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

// Retryable reports whether err is a state conflict the caller should
// present as "this changed, refresh and retry".
func Retryable(err error) bool {
	return KindOf(err) == KindStateConflict
}
