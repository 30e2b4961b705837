package ledger

import "time"

// Withdrawal request lifecycle states. Transitions are one-way: a request
// leaves pending exactly once and is immutable afterwards.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Balance adjustment directions for administrative corrections.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Account holds the custodial balance for a single platform user. Balances
// are integer satoshis; the value never goes below zero.
type Account struct {
	ID        string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WithdrawalRequest is a user's intent to move funds off-platform, pending
// admin approval. DecidedAt is set when the request leaves pending.
type WithdrawalRequest struct {
	ID          string
	AccountID   string
	Amount      int64
	Destination string
	Status      string
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// Stats summarizes ledger state for the admin overview.
type Stats struct {
	Accounts      int
	PendingCount  int
	PendingAmount int64
}
