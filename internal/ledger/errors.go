package ledger

import "errors"

// Domain errors returned by the engine. Handlers map these to HTTP status
// codes; messages wrapped around them carry the detail a caller needs to
// render an actionable message (owned quantity, required amount).
var (
	// ErrInvalidRequest is returned for malformed orders rejected at the
	// boundary before any domain logic runs.
	ErrInvalidRequest = errors.New("ledger: invalid request")

	// ErrPriceUnavailable is returned when the price oracle cannot supply
	// a quote. No state changes; the caller may retry.
	ErrPriceUnavailable = errors.New("ledger: price unavailable")

	// ErrInsufficientFunds is returned when the cash balance cannot cover
	// a Buy's total cost or a Swap's cash-equivalent draw.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientShares is returned when a Sell (or a Swap's source
	// leg) exceeds the held quantity.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrNoPosition is returned when a Sell targets a symbol the user
	// does not hold.
	ErrNoPosition = errors.New("ledger: no position")

	// ErrConcurrentModification is returned when the per-user exclusive
	// scope could not be acquired before the request deadline. The caller
	// should retry the whole operation.
	ErrConcurrentModification = errors.New("ledger: concurrent modification")
)
