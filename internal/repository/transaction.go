package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-wallet-bot/internal/model"
)

// TransactionRepository handles the append-only audit log. Rows are
// immutable once written except for the status of chain-crossing rows.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const txColumns = `id, type, from_account, to_account, amount_micro,
	balance_after_micro, description, external_tx_hash, external_address,
	status, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.Type,
		&t.FromAccount,
		&t.ToAccount,
		&t.AmountMicro,
		&t.BalanceAfterMicro,
		&t.Description,
		&t.ExternalTxHash,
		&t.ExternalAddress,
		&t.Status,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTx appends one audit record inside an open storage transaction.
// The caller supplies balance_after from the row it just mutated in the
// same transaction; it is never re-read here.
func (r *TransactionRepository) CreateTx(ctx context.Context, tx pgx.Tx, t *model.Transaction) (*model.Transaction, error) {
	const query = `
		INSERT INTO transactions
			(type, from_account, to_account, amount_micro, balance_after_micro,
			 description, external_tx_hash, external_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + txColumns

	created, err := scanTransaction(tx.QueryRow(ctx, query,
		t.Type,
		t.FromAccount,
		t.ToAccount,
		t.AmountMicro,
		t.BalanceAfterMicro,
		t.Description,
		t.ExternalTxHash,
		t.ExternalAddress,
		t.Status,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return created, nil
}

// GetByID retrieves a single audit record.
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return t, nil
}

// GetByAccount retrieves audit records touching an account, newest first.
func (r *TransactionRepository) GetByAccount(ctx context.Context, accountID int64, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// ListPendingWithdrawals returns withdrawal rows still awaiting chain
// confirmation, oldest first, for the watcher to retry.
func (r *TransactionRepository) ListPendingWithdrawals(ctx context.Context, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE type = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, model.TxTypeWithdrawal, model.TxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	defer rows.Close()

	var pending []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		pending = append(pending, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawals: %w", err)
	}

	return pending, nil
}

// SetStatus moves a chain-crossing row to a new status, optionally
// attaching the external hash once known.
func (r *TransactionRepository) SetStatus(ctx context.Context, id int64, status string, externalTxHash *string) error {
	const query = `
		UPDATE transactions
		SET status = $2,
		    external_tx_hash = COALESCE($3, external_tx_hash)
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, status, externalTxHash)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}

	return nil
}

// SetStatusTx is SetStatus inside an open storage transaction.
func (r *TransactionRepository) SetStatusTx(ctx context.Context, tx pgx.Tx, id int64, status string, externalTxHash *string) error {
	const query = `
		UPDATE transactions
		SET status = $2,
		    external_tx_hash = COALESCE($3, external_tx_hash)
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query, id, status, externalTxHash)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}

	return nil
}
