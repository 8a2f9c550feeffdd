package domain

import "errors"

// Expected outcomes of marketplace operations. Callers compare with
// errors.Is; anything else returned by a service is an infrastructure fault.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")

	ErrSelfBid    = errors.New("cannot bid on own auction")
	ErrSelfOffer  = errors.New("cannot make an offer on own listing")
	ErrSelfBuyout = errors.New("cannot buy own listing")

	ErrAlreadySold    = errors.New("listing already sold")
	ErrAlreadyDecided = errors.New("offer already decided")
	ErrNotActive      = errors.New("auction not active")

	ErrBidTooLow     = errors.New("bid too low")
	ErrOfferTooLow   = errors.New("offer too low")
	ErrNoBuyoutPrice = errors.New("listing has no buyout price")

	// ErrBusy means a row lock could not be acquired in time. Retryable.
	ErrBusy = errors.New("resource busy, retry")
	// ErrConflict is returned by the guarded sale transition when the listing
	// is no longer available.
	ErrConflict = errors.New("conflict")

	ErrLockHeld = errors.New("lock already held")
)

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
