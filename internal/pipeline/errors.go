package pipeline

import "errors"

// Error kinds surfaced by the pipeline. Intake-time kinds are returned
// synchronously to the caller; execution-time failures are absorbed into
// the trade's REJECTED state instead of being raised.
var (
	ErrInvalidAccount     = errors.New("broker account not found, inactive, or not owned by user")
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrMissingPrice       = errors.New("order type requires a price")
	ErrInvalidQuantity    = errors.New("quantity must be a positive integer")
	ErrLockContention     = errors.New("could not acquire submission lock")
	ErrDuplicateTrade     = errors.New("equivalent trade already submitted within the dedupe window")
	ErrInvalidState       = errors.New("trade is not in a processable state")
	ErrNotCancellable     = errors.New("trade can no longer be cancelled")
	ErrNotRejected        = errors.New("trade is not in REJECTED state")
	ErrMaxRetriesExceeded = errors.New("trade has reached the retry limit")
)
