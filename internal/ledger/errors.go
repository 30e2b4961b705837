package ledger

import "errors"

var (
	// ErrInvalidAmount occurs when an operation receives a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidDestination occurs when a withdrawal omits the destination address.
	ErrInvalidDestination = errors.New("destination address is required")

	// ErrInsufficientFunds occurs when the account's available balance cannot
	// cover the requested amount. For submissions the available balance is the
	// stored balance minus the sum of the account's other pending requests.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound indicates the referenced account or request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates a decision was attempted on a request that has
	// already left the pending state.
	ErrInvalidState = errors.New("request is not pending")

	// ErrBusy indicates the per-account lock could not be acquired within the
	// configured wait; the caller may retry.
	ErrBusy = errors.New("account is busy")

	// ErrStorageUnavailable wraps failures of the storage collaborator. It is
	// surfaced as-is; the service performs no automatic retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
