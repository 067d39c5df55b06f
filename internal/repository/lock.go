package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-wallet-bot/internal/model"
)

// LockRepository persists transaction locks. Locks live in the same
// database as the balances they guard so they survive restarts and stay
// consistent across service instances.
type LockRepository struct {
	pool *pgxpool.Pool
}

// NewLockRepository creates a new LockRepository instance.
func NewLockRepository(pool *pgxpool.Pool) *LockRepository {
	return &LockRepository{pool: pool}
}

// Insert attempts to create a lock row for the account. Returns false if a
// row already exists; the primary key enforces at most one live lock.
func (r *LockRepository) Insert(ctx context.Context, accountID int64, lockType string, amountMicro int64) (bool, error) {
	const query = `
		INSERT INTO transaction_locks (account_id, lock_type, amount_micro, locked_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, accountID, lockType, amountMicro)
	if err != nil {
		return false, fmt.Errorf("failed to insert lock: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Delete removes the lock row unconditionally.
func (r *LockRepository) Delete(ctx context.Context, accountID int64) error {
	const query = `DELETE FROM transaction_locks WHERE account_id = $1`

	if _, err := r.pool.Exec(ctx, query, accountID); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

// DeleteExpiredFor sweeps a dead lock for one account before an acquisition
// attempt.
func (r *LockRepository) DeleteExpiredFor(ctx context.Context, accountID int64, before time.Time) (int, error) {
	const query = `
		DELETE FROM transaction_locks
		WHERE account_id = $1 AND locked_at < $2
	`

	result, err := r.pool.Exec(ctx, query, accountID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep lock: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// DeleteExpired sweeps all dead locks.
func (r *LockRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const query = `DELETE FROM transaction_locks WHERE locked_at < $1`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep locks: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// Exists reports whether a lock row is present for the account.
func (r *LockRepository) Exists(ctx context.Context, accountID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM transaction_locks WHERE account_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check lock existence: %w", err)
	}

	return exists, nil
}

// List returns all lock rows for operator tooling.
func (r *LockRepository) List(ctx context.Context) ([]*model.TransactionLock, error) {
	const query = `
		SELECT account_id, lock_type, amount_micro, locked_at
		FROM transaction_locks
		ORDER BY locked_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	defer rows.Close()

	var locks []*model.TransactionLock
	for rows.Next() {
		var l model.TransactionLock
		if err := rows.Scan(&l.AccountID, &l.LockType, &l.AmountMicro, &l.LockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		locks = append(locks, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locks: %w", err)
	}

	return locks, nil
}
