package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-wallet-bot/internal/account"
	"telegram-wallet-bot/internal/model"
)

// Shared-account errors.
var (
	ErrSharedNotFound       = errors.New("shared account not found")
	ErrSharedBalanceNotZero = errors.New("shared account balance is not zero")
)

// allocateAttempts bounds retries when two allocations race on the same
// candidate id.
const allocateAttempts = 3

// SharedAccountRepository manages the multi-user wallet band [-999,-100].
type SharedAccountRepository struct {
	pool *pgxpool.Pool
}

// NewSharedAccountRepository creates a new SharedAccountRepository instance.
func NewSharedAccountRepository(pool *pgxpool.Pool) *SharedAccountRepository {
	return &SharedAccountRepository{pool: pool}
}

// Allocate creates the next shared account, scanning the band densely
// downward from -100. Returns account.ErrCapacityExhausted once -999 is
// taken. A racing allocation hits the primary key and retries.
func (r *SharedAccountRepository) Allocate(ctx context.Context, title string, ownerID int64) (*model.SharedAccount, error) {
	const nextQuery = `
		SELECT COALESCE(MIN(account_id), $1 + 1) - 1
		FROM shared_accounts
	`
	const insertQuery = `
		INSERT INTO shared_accounts (account_id, title, owner_id, deleted, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		RETURNING account_id, title, owner_id, deleted, created_at
	`

	for attempt := 0; attempt < allocateAttempts; attempt++ {
		var candidate int64
		if err := r.pool.QueryRow(ctx, nextQuery, account.SharedMaxID).Scan(&candidate); err != nil {
			return nil, fmt.Errorf("failed to find next shared account id: %w", err)
		}
		if candidate < account.SharedMinID {
			return nil, account.ErrCapacityExhausted
		}

		var sa model.SharedAccount
		err := r.pool.QueryRow(ctx, insertQuery, candidate, title, ownerID).Scan(
			&sa.AccountID,
			&sa.Title,
			&sa.OwnerID,
			&sa.Deleted,
			&sa.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// Lost the race for this id, rescan the band.
				continue
			}
			return nil, fmt.Errorf("failed to allocate shared account: %w", err)
		}

		return &sa, nil
	}

	return nil, fmt.Errorf("failed to allocate shared account after %d attempts", allocateAttempts)
}

// Get retrieves a shared account by id.
func (r *SharedAccountRepository) Get(ctx context.Context, accountID int64) (*model.SharedAccount, error) {
	const query = `
		SELECT account_id, title, owner_id, deleted, created_at
		FROM shared_accounts
		WHERE account_id = $1
	`

	var sa model.SharedAccount
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&sa.AccountID,
		&sa.Title,
		&sa.OwnerID,
		&sa.Deleted,
		&sa.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSharedNotFound
		}
		return nil, fmt.Errorf("failed to get shared account: %w", err)
	}

	return &sa, nil
}

// Delete marks a shared account deleted. The account id stays allocated and
// the balance row stays behind; the delete asserts the balance is zero
// first, under a row lock so a concurrent credit cannot slip in.
func (r *SharedAccountRepository) Delete(ctx context.Context, accountID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	var micro int64
	err = tx.QueryRow(ctx,
		`SELECT amount_micro FROM balances WHERE account_id = $1 FOR UPDATE`,
		accountID,
	).Scan(&micro)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check shared balance: %w", err)
	}
	if micro != 0 {
		return ErrSharedBalanceNotZero
	}

	result, err := tx.Exec(ctx,
		`UPDATE shared_accounts SET deleted = TRUE WHERE account_id = $1 AND NOT deleted`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete shared account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSharedNotFound
	}

	return tx.Commit(ctx)
}

// AddMember grants a user access to a shared account.
func (r *SharedAccountRepository) AddMember(ctx context.Context, accountID, userID int64, canSpend bool) error {
	const query = `
		INSERT INTO shared_account_members (account_id, user_id, can_spend)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, user_id) DO UPDATE SET can_spend = EXCLUDED.can_spend
	`

	if _, err := r.pool.Exec(ctx, query, accountID, userID, canSpend); err != nil {
		return fmt.Errorf("failed to add shared account member: %w", err)
	}
	return nil
}

// RemoveMember revokes a user's access to a shared account.
func (r *SharedAccountRepository) RemoveMember(ctx context.Context, accountID, userID int64) error {
	const query = `DELETE FROM shared_account_members WHERE account_id = $1 AND user_id = $2`

	if _, err := r.pool.Exec(ctx, query, accountID, userID); err != nil {
		return fmt.Errorf("failed to remove shared account member: %w", err)
	}
	return nil
}

// CanSpend reports whether a user may spend from a shared account.
// The owner always may.
func (r *SharedAccountRepository) CanSpend(ctx context.Context, accountID, userID int64) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM shared_accounts
			WHERE account_id = $1 AND owner_id = $2 AND NOT deleted
		) OR EXISTS(
			SELECT 1 FROM shared_account_members
			WHERE account_id = $1 AND user_id = $2 AND can_spend
		)
	`

	var ok bool
	if err := r.pool.QueryRow(ctx, query, accountID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check shared account permission: %w", err)
	}

	return ok, nil
}
