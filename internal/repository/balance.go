// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-wallet-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// BalanceRepository handles balance persistence. Balance rows are created
// lazily on first reference and never deleted.
type BalanceRepository struct {
	pool *pgxpool.Pool
}

// NewBalanceRepository creates a new BalanceRepository instance.
func NewBalanceRepository(pool *pgxpool.Pool) *BalanceRepository {
	return &BalanceRepository{pool: pool}
}

// Ensure creates a zero balance row for the account if none exists.
// It is idempotent and safe to call on every account reference.
func (r *BalanceRepository) Ensure(ctx context.Context, accountID int64) error {
	const query = `
		INSERT INTO balances (account_id, amount_micro, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, accountID); err != nil {
		return fmt.Errorf("failed to ensure balance: %w", err)
	}
	return nil
}

// EnsureTx is Ensure inside an open storage transaction.
func (r *BalanceRepository) EnsureTx(ctx context.Context, tx pgx.Tx, accountID int64) error {
	const query = `
		INSERT INTO balances (account_id, amount_micro, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`

	if _, err := tx.Exec(ctx, query, accountID); err != nil {
		return fmt.Errorf("failed to ensure balance: %w", err)
	}
	return nil
}

// Get retrieves the balance record for an account.
// Returns ErrAccountNotFound if no row exists yet.
func (r *BalanceRepository) Get(ctx context.Context, accountID int64) (*model.Balance, error) {
	const query = `
		SELECT account_id, amount_micro, updated_at
		FROM balances
		WHERE account_id = $1
	`

	var b model.Balance
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&b.AccountID,
		&b.AmountMicro,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &b, nil
}

// GetForUpdateTx reads the current balance with a row lock, pinning it for
// the remainder of the storage transaction. This is the re-read every
// sufficiency check must be based on.
func (r *BalanceRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, accountID int64) (int64, error) {
	const query = `
		SELECT amount_micro
		FROM balances
		WHERE account_id = $1
		FOR UPDATE
	`

	var micro int64
	err := tx.QueryRow(ctx, query, accountID).Scan(&micro)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to read balance for update: %w", err)
	}

	return micro, nil
}

// AddTx applies a signed delta to an account balance inside an open storage
// transaction and returns the resulting balance.
func (r *BalanceRepository) AddTx(ctx context.Context, tx pgx.Tx, accountID int64, deltaMicro int64) (int64, error) {
	const query = `
		UPDATE balances
		SET amount_micro = amount_micro + $2, updated_at = NOW()
		WHERE account_id = $1
		RETURNING amount_micro
	`

	var micro int64
	err := tx.QueryRow(ctx, query, accountID, deltaMicro).Scan(&micro)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	return micro, nil
}

// UserFacingTotalMicro sums every balance backed by real user value:
// user accounts, shared accounts, and giveaway escrows. The internal books
// (treasury, reserve, unclaimed) are excluded.
func (r *BalanceRepository) UserFacingTotalMicro(ctx context.Context) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount_micro), 0)
		FROM balances
		WHERE account_id > 0
		   OR (account_id BETWEEN -999 AND -100)
		   OR account_id <= -1000
	`

	var total int64
	if err := r.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum user-facing balances: %w", err)
	}

	return total, nil
}
