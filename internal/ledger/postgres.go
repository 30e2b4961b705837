package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists accounts and withdrawal requests in PostgreSQL. The
// account row is locked with SELECT ... FOR UPDATE inside every mutating
// transaction, so the balance check and the writes it guards are one
// all-or-nothing unit.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// pgx's extended protocol runs one command per Exec, so the schema is applied
// statement by statement.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        id         TEXT PRIMARY KEY,
        balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS withdrawal_requests (
        id          TEXT PRIMARY KEY,
        account_id  TEXT NOT NULL REFERENCES accounts (id),
        amount      BIGINT NOT NULL CHECK (amount > 0),
        destination TEXT NOT NULL,
        status      TEXT NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL,
        decided_at  TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_account
        ON withdrawal_requests (account_id, status)`,
}

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return storageErr("init schema", err)
		}
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// EnsureAccount creates the account with a zero balance if absent.
func (s *PostgresStore) EnsureAccount(ctx context.Context, accountID string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (id, balance, created_at, updated_at)
        VALUES ($1, 0, $2, $2) ON CONFLICT (id) DO NOTHING`, accountID, now)
	if err != nil {
		return storageErr("ensure account", err)
	}
	return nil
}

// Account returns the stored account.
func (s *PostgresStore) Account(ctx context.Context, accountID string) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT id, balance, created_at, updated_at
        FROM accounts WHERE id = $1`, accountID)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, storageErr("get account", err)
	}
	return acct, nil
}

// Accounts lists every account, newest first.
func (s *PostgresStore) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT id, balance, created_at, updated_at
        FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, storageErr("scan account", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list accounts", err)
	}
	return out, nil
}

// CreateWithdrawal inserts a pending request after checking the available
// balance (stored balance minus the account's other pending requests) under a
// row lock on the account.
func (s *PostgresStore) CreateWithdrawal(ctx context.Context, req WithdrawalRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := balanceForUpdate(ctx, tx, req.AccountID)
	if err != nil {
		return err
	}

	var pending int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
        WHERE account_id = $1 AND status = $2 AND id <> $3`,
		req.AccountID, StatusPending, req.ID).Scan(&pending); err != nil {
		return storageErr("sum pending", err)
	}

	if req.Amount > balance-pending {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `INSERT INTO withdrawal_requests (id, account_id, amount, destination, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.AccountID, req.Amount, req.Destination, StatusPending, req.CreatedAt.UTC()); err != nil {
		return storageErr("insert withdrawal", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Withdrawal returns the stored request.
func (s *PostgresStore) Withdrawal(ctx context.Context, requestID string) (WithdrawalRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT id, account_id, amount, destination, status, created_at, decided_at
        FROM withdrawal_requests WHERE id = $1`, requestID)
	req, err := scanWithdrawal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WithdrawalRequest{}, ErrNotFound
		}
		return WithdrawalRequest{}, storageErr("get withdrawal", err)
	}
	return req, nil
}

// Withdrawals lists requests newest first, optionally filtered by account
// and/or status.
func (s *PostgresStore) Withdrawals(ctx context.Context, accountID, status string) ([]WithdrawalRequest, error) {
	const query = `SELECT id, account_id, amount, destination, status, created_at, decided_at
        FROM withdrawal_requests
        WHERE ($1 = '' OR account_id = $1) AND ($2 = '' OR status = $2)
        ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, query, accountID, status)
	if err != nil {
		return nil, storageErr("list withdrawals", err)
	}
	defer rows.Close()

	out := make([]WithdrawalRequest, 0)
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, storageErr("scan withdrawal", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list withdrawals", err)
	}
	return out, nil
}

// ApproveWithdrawal re-validates the balance, debits the account and flips the
// request to approved inside a single transaction.
func (s *PostgresStore) ApproveWithdrawal(ctx context.Context, requestID string, at time.Time) (WithdrawalRequest, Account, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return WithdrawalRequest{}, Account{}, storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	req, err := withdrawalForUpdate(ctx, tx, requestID)
	if err != nil {
		return WithdrawalRequest{}, Account{}, err
	}
	if req.Status != StatusPending {
		return WithdrawalRequest{}, Account{}, ErrInvalidState
	}

	balance, err := balanceForUpdate(ctx, tx, req.AccountID)
	if err != nil {
		return WithdrawalRequest{}, Account{}, err
	}
	if balance < req.Amount {
		return WithdrawalRequest{}, Account{}, ErrInsufficientFunds
	}

	at = at.UTC()
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1, updated_at = $2 WHERE id = $3`,
		req.Amount, at, req.AccountID); err != nil {
		return WithdrawalRequest{}, Account{}, storageErr("debit account", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE withdrawal_requests SET status = $1, decided_at = $2 WHERE id = $3`,
		StatusApproved, at, requestID); err != nil {
		return WithdrawalRequest{}, Account{}, storageErr("approve withdrawal", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return WithdrawalRequest{}, Account{}, storageErr("commit", err)
	}

	req.Status = StatusApproved
	req.DecidedAt = &at

	acct, err := s.Account(ctx, req.AccountID)
	if err != nil {
		return WithdrawalRequest{}, Account{}, err
	}
	return req, acct, nil
}

// RejectWithdrawal flips a pending request to rejected; balances are untouched.
func (s *PostgresStore) RejectWithdrawal(ctx context.Context, requestID string, at time.Time) (WithdrawalRequest, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return WithdrawalRequest{}, storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	req, err := withdrawalForUpdate(ctx, tx, requestID)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if req.Status != StatusPending {
		return WithdrawalRequest{}, ErrInvalidState
	}

	at = at.UTC()
	if _, err := tx.Exec(ctx, `UPDATE withdrawal_requests SET status = $1, decided_at = $2 WHERE id = $3`,
		StatusRejected, at, requestID); err != nil {
		return WithdrawalRequest{}, storageErr("reject withdrawal", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return WithdrawalRequest{}, storageErr("commit", err)
	}

	req.Status = StatusRejected
	req.DecidedAt = &at
	return req, nil
}

// AdjustBalance applies an administrative credit or clamped debit under a row
// lock and returns the updated account.
func (s *PostgresStore) AdjustBalance(ctx context.Context, accountID string, amount int64, direction string, at time.Time) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	if direction != DirectionCredit && direction != DirectionDebit {
		return Account{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := balanceForUpdate(ctx, tx, accountID)
	if err != nil {
		return Account{}, err
	}

	if direction == DirectionCredit {
		balance += amount
	} else {
		balance -= amount
		if balance < 0 {
			balance = 0
		}
	}

	at = at.UTC()
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3`,
		balance, at, accountID); err != nil {
		return Account{}, storageErr("update balance", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, storageErr("commit", err)
	}

	return s.Account(ctx, accountID)
}

// Stats reports account and pending-request counters.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&stats.Accounts); err != nil {
		return Stats{}, storageErr("count accounts", err)
	}
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(amount), 0)
        FROM withdrawal_requests WHERE status = $1`, StatusPending).
		Scan(&stats.PendingCount, &stats.PendingAmount); err != nil {
		return Stats{}, storageErr("count pending", err)
	}
	return stats, nil
}

func balanceForUpdate(ctx context.Context, tx pgx.Tx, accountID string) (int64, error) {
	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, storageErr("lock account", err)
	}
	return balance, nil
}

func withdrawalForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (WithdrawalRequest, error) {
	row := tx.QueryRow(ctx, `SELECT id, account_id, amount, destination, status, created_at, decided_at
        FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, requestID)
	req, err := scanWithdrawal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WithdrawalRequest{}, ErrNotFound
		}
		return WithdrawalRequest{}, storageErr("lock withdrawal", err)
	}
	return req, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	if err := row.Scan(&acct.ID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return Account{}, err
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}

func scanWithdrawal(row pgx.Row) (WithdrawalRequest, error) {
	var req WithdrawalRequest
	if err := row.Scan(&req.ID, &req.AccountID, &req.Amount, &req.Destination, &req.Status, &req.CreatedAt, &req.DecidedAt); err != nil {
		return WithdrawalRequest{}, err
	}
	req.CreatedAt = req.CreatedAt.UTC()
	if req.DecidedAt != nil {
		utc := req.DecidedAt.UTC()
		req.DecidedAt = &utc
	}
	return req, nil
}
