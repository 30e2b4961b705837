package ledger

import (
	"context"
	"time"
)

// Store persists accounts and withdrawal requests. Each mutating call is a
// single atomic unit: either every write it describes is applied or none is.
// Implementations report collaborator failures wrapped in
// ErrStorageUnavailable and business violations with the sentinel errors in
// errors.go.
type Store interface {
	// EnsureAccount creates the account with a zero balance if it does not
	// exist yet. Accounts are never deleted.
	EnsureAccount(ctx context.Context, accountID string) error

	// Account returns the stored account or ErrNotFound.
	Account(ctx context.Context, accountID string) (Account, error)

	// Accounts lists every account, newest first.
	Accounts(ctx context.Context) ([]Account, error)

	// CreateWithdrawal inserts req in pending state after verifying that
	// req.Amount does not exceed the account balance minus the sum of the
	// account's other pending requests. Fails with ErrInsufficientFunds when
	// the available balance cannot cover the amount.
	CreateWithdrawal(ctx context.Context, req WithdrawalRequest) error

	// Withdrawal returns the stored request or ErrNotFound.
	Withdrawal(ctx context.Context, requestID string) (WithdrawalRequest, error)

	// Withdrawals lists requests newest first. accountID narrows the listing
	// to one account, status to one lifecycle state; empty means no filter.
	Withdrawals(ctx context.Context, accountID, status string) ([]WithdrawalRequest, error)

	// ApproveWithdrawal atomically re-validates balance >= amount, debits the
	// account and marks the request approved with DecidedAt = at. On
	// ErrInsufficientFunds the request remains pending and the balance is
	// untouched. ErrInvalidState if the request already left pending.
	ApproveWithdrawal(ctx context.Context, requestID string, at time.Time) (WithdrawalRequest, Account, error)

	// RejectWithdrawal marks a pending request rejected with DecidedAt = at.
	// The balance never changes.
	RejectWithdrawal(ctx context.Context, requestID string, at time.Time) (WithdrawalRequest, error)

	// AdjustBalance applies an administrative correction. Credits add the
	// amount; debits clamp the result at zero. Returns the updated account.
	AdjustBalance(ctx context.Context, accountID string, amount int64, direction string, at time.Time) (Account, error)

	// Stats reports account and pending-request counters.
	Stats(ctx context.Context) (Stats, error)
}
