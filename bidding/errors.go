package bidding

import "errors"

// Typed failures returned to callers. Everything here is user-facing;
// unexpected persistence failures are wrapped and surfaced as plain
// internal errors instead.
var (
	ErrItemNotFound        = errors.New("auction item not found")
	ErrItemNotBiddable     = errors.New("auction item is not open for bidding")
	ErrBidderNumberMissing = errors.New("user has no bidder number for this event")
	ErrInsufficientBid     = errors.New("bid amount is below the minimum next bid")
	ErrInvalidAmount       = errors.New("bid amount is invalid")
	ErrMaxBidRequired      = errors.New("proxy bids require a max bid at or above the bid amount")
	ErrInvalidBidType      = errors.New("unknown bid type")
	ErrBuyNowUnavailable   = errors.New("buy now is not enabled for this item")
	ErrSoldOut             = errors.New("buy now quantity is exhausted")
	ErrNotConfigured       = errors.New("buy now availability is not configured for this item")

	ErrBidNotFound       = errors.New("bid not found")
	ErrBidAlreadyClosed  = errors.New("bid is already cancelled or withdrawn")
	ErrReasonRequired    = errors.New("a non-empty reason is required")
	ErrAlreadyProcessed  = errors.New("bid transaction has already been processed")
	ErrInvalidBidderNum  = errors.New("bidder number must be between 100 and 999")
	ErrAlreadyAssigned   = errors.New("guest already holds a bidder number")
	ErrNumberPoolDrained = errors.New("no bidder numbers left in this event")
	ErrGuestNotFound     = errors.New("event guest not found")

	// ErrConcurrentModification is retried internally a bounded number
	// of times before it reaches a caller.
	ErrConcurrentModification = errors.New("concurrent modification, retry")
)
