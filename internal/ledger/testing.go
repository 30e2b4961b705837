package ledger

import "time"

// SeedBalance is a test helper that sets an account balance directly when
// using the in-memory store, creating the account if necessary.
func SeedBalance(s Store, accountID string, amount int64) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		acct, exists := mem.accounts[accountID]
		if !exists {
			now := time.Now().UTC()
			acct = Account{ID: accountID, CreatedAt: now, UpdatedAt: now}
		}
		acct.Balance = amount
		mem.accounts[accountID] = acct
	}
}
