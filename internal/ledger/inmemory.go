package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type inMemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]Account
	withdrawals map[string]WithdrawalRequest
}

// NewInMemory creates a concurrency-safe in-memory store used by unit tests
// and by dev mode when no DATABASE_URL is configured.
func NewInMemory() Store {
	return &inMemoryStore{
		accounts:    make(map[string]Account),
		withdrawals: make(map[string]WithdrawalRequest),
	}
}

func (s *inMemoryStore) EnsureAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[accountID]; !exists {
		now := time.Now().UTC()
		s.accounts[accountID] = Account{ID: accountID, Balance: 0, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (s *inMemoryStore) Account(_ context.Context, accountID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, exists := s.accounts[accountID]
	if !exists {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (s *inMemoryStore) Accounts(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// pendingTotalLocked sums pending request amounts for the account, excluding
// excludeID. Callers must hold s.mu.
func (s *inMemoryStore) pendingTotalLocked(accountID, excludeID string) int64 {
	var total int64
	for _, req := range s.withdrawals {
		if req.AccountID == accountID && req.Status == StatusPending && req.ID != excludeID {
			total += req.Amount
		}
	}
	return total
}

func (s *inMemoryStore) CreateWithdrawal(_ context.Context, req WithdrawalRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[req.AccountID]
	if !exists {
		return ErrNotFound
	}

	available := acct.Balance - s.pendingTotalLocked(req.AccountID, req.ID)
	if req.Amount > available {
		return ErrInsufficientFunds
	}

	req.Status = StatusPending
	req.DecidedAt = nil
	s.withdrawals[req.ID] = req
	return nil
}

func (s *inMemoryStore) Withdrawal(_ context.Context, requestID string) (WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, exists := s.withdrawals[requestID]
	if !exists {
		return WithdrawalRequest{}, ErrNotFound
	}
	return req, nil
}

func (s *inMemoryStore) Withdrawals(_ context.Context, accountID, status string) ([]WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WithdrawalRequest, 0)
	for _, req := range s.withdrawals {
		if accountID != "" && req.AccountID != accountID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *inMemoryStore) ApproveWithdrawal(_ context.Context, requestID string, at time.Time) (WithdrawalRequest, Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.withdrawals[requestID]
	if !exists {
		return WithdrawalRequest{}, Account{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return WithdrawalRequest{}, Account{}, ErrInvalidState
	}

	acct, exists := s.accounts[req.AccountID]
	if !exists {
		return WithdrawalRequest{}, Account{}, ErrNotFound
	}
	if acct.Balance < req.Amount {
		return WithdrawalRequest{}, Account{}, ErrInsufficientFunds
	}

	acct.Balance -= req.Amount
	acct.UpdatedAt = at
	req.Status = StatusApproved
	decided := at
	req.DecidedAt = &decided

	s.accounts[req.AccountID] = acct
	s.withdrawals[requestID] = req
	return req, acct, nil
}

func (s *inMemoryStore) RejectWithdrawal(_ context.Context, requestID string, at time.Time) (WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.withdrawals[requestID]
	if !exists {
		return WithdrawalRequest{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return WithdrawalRequest{}, ErrInvalidState
	}

	req.Status = StatusRejected
	decided := at
	req.DecidedAt = &decided
	s.withdrawals[requestID] = req
	return req, nil
}

func (s *inMemoryStore) AdjustBalance(_ context.Context, accountID string, amount int64, direction string, at time.Time) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[accountID]
	if !exists {
		return Account{}, ErrNotFound
	}

	switch direction {
	case DirectionCredit:
		acct.Balance += amount
	case DirectionDebit:
		acct.Balance -= amount
		if acct.Balance < 0 {
			acct.Balance = 0
		}
	default:
		return Account{}, ErrInvalidAmount
	}

	acct.UpdatedAt = at
	s.accounts[accountID] = acct
	return acct, nil
}

func (s *inMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Accounts: len(s.accounts)}
	for _, req := range s.withdrawals {
		if req.Status == StatusPending {
			stats.PendingCount++
			stats.PendingAmount += req.Amount
		}
	}
	return stats, nil
}
