package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crypto-broker/ledger/internal/locks"
	"github.com/crypto-broker/ledger/internal/notification"
)

const defaultLockWait = 2 * time.Second

// Service is the sole mutation authority over balances and withdrawal
// requests. Every mutating operation for a given account runs under that
// account's exclusive lock, so submissions, decisions and adjustments are
// serialized per account while distinct accounts proceed in parallel.
type Service struct {
	store    Store
	locks    *locks.Registry
	notifier notification.Notifier
	lockWait time.Duration
}

// NewService builds a ledger service. notifier may be nil.
func NewService(store Store, registry *locks.Registry, notifier notification.Notifier, lockWait time.Duration) *Service {
	if registry == nil {
		registry = locks.NewRegistry()
	}
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Service{store: store, locks: registry, notifier: notifier, lockWait: lockWait}
}

// lockAccount acquires the per-account lock with a bounded wait. Contention
// beyond the bound surfaces as ErrBusy rather than blocking indefinitely.
func (s *Service) lockAccount(ctx context.Context, accountID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	release, err := s.locks.Acquire(lockCtx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrBusy)
	}
	return release, nil
}

// SubmitWithdrawal records a new pending withdrawal request. The balance is
// not debited; funds are reserved by counting the account's other pending
// requests against the stored balance, so concurrently pending requests can
// never commit the same satoshis twice.
func (s *Service) SubmitWithdrawal(ctx context.Context, accountID string, amount int64, destination string) (WithdrawalRequest, error) {
	if amount <= 0 {
		return WithdrawalRequest{}, ErrInvalidAmount
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return WithdrawalRequest{}, ErrInvalidDestination
	}

	if err := s.store.EnsureAccount(ctx, accountID); err != nil {
		return WithdrawalRequest{}, err
	}

	release, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	defer release()

	req := WithdrawalRequest{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateWithdrawal(ctx, req); err != nil {
		return WithdrawalRequest{}, err
	}
	return req, nil
}

// ApproveWithdrawal debits the account and marks the request approved as one
// atomic unit. If concurrent activity left the balance short, the store
// reports ErrInsufficientFunds and the request stays pending.
func (s *Service) ApproveWithdrawal(ctx context.Context, requestID string) (WithdrawalRequest, Account, error) {
	req, err := s.store.Withdrawal(ctx, requestID)
	if err != nil {
		return WithdrawalRequest{}, Account{}, err
	}

	release, err := s.lockAccount(ctx, req.AccountID)
	if err != nil {
		return WithdrawalRequest{}, Account{}, err
	}
	defer release()

	approved, acct, err := s.store.ApproveWithdrawal(ctx, requestID, time.Now().UTC())
	if err != nil {
		return WithdrawalRequest{}, Account{}, err
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindWithdrawalApproved,
		Destination: approved.AccountID,
		Body:        fmt.Sprintf("Withdrawal of %d sats to %s was approved", approved.Amount, approved.Destination),
	})
	return approved, acct, nil
}

// RejectWithdrawal marks a pending request rejected. The balance is untouched.
func (s *Service) RejectWithdrawal(ctx context.Context, requestID string) (WithdrawalRequest, error) {
	req, err := s.store.Withdrawal(ctx, requestID)
	if err != nil {
		return WithdrawalRequest{}, err
	}

	release, err := s.lockAccount(ctx, req.AccountID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	defer release()

	rejected, err := s.store.RejectWithdrawal(ctx, requestID, time.Now().UTC())
	if err != nil {
		return WithdrawalRequest{}, err
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindWithdrawalRejected,
		Destination: rejected.AccountID,
		Body:        fmt.Sprintf("Withdrawal of %d sats to %s was rejected", rejected.Amount, rejected.Destination),
	})
	return rejected, nil
}

// AdjustBalance applies an administrative credit or debit and returns the
// resulting account. Debits clamp the balance at zero.
func (s *Service) AdjustBalance(ctx context.Context, accountID string, amount int64, direction string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	if direction != DirectionCredit && direction != DirectionDebit {
		return Account{}, fmt.Errorf("direction %q: %w", direction, ErrInvalidAmount)
	}

	if err := s.store.EnsureAccount(ctx, accountID); err != nil {
		return Account{}, err
	}

	release, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	defer release()

	return s.store.AdjustBalance(ctx, accountID, amount, direction, time.Now().UTC())
}

// Balance returns the account, creating it with a zero balance on first touch.
func (s *Service) Balance(ctx context.Context, accountID string) (Account, error) {
	if err := s.store.EnsureAccount(ctx, accountID); err != nil {
		return Account{}, err
	}
	return s.store.Account(ctx, accountID)
}

// ListWithdrawals returns requests newest first. Empty accountID lists every
// account (admin view); onlyPending narrows to undecided requests.
func (s *Service) ListWithdrawals(ctx context.Context, accountID string, onlyPending bool) ([]WithdrawalRequest, error) {
	status := ""
	if onlyPending {
		status = StatusPending
	}
	return s.store.Withdrawals(ctx, accountID, status)
}

// ListAccounts returns every account for the admin balances view.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.store.Accounts(ctx)
}

// Stats reports the counters shown on the admin overview.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// notify delivers best effort; a failed notification never fails the ledger
// operation that triggered it.
func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, msg)
}
