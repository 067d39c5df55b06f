package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-wallet-bot/internal/model"
)

// ErrDepositNotFound is returned when no processed deposit matches a hash.
var ErrDepositNotFound = errors.New("processed deposit not found")

// DepositRepository records external transaction hashes that have been
// credited. The hash primary key makes crediting idempotent no matter how
// many times the same transaction is observed.
type DepositRepository struct {
	pool *pgxpool.Pool
}

// NewDepositRepository creates a new DepositRepository instance.
func NewDepositRepository(pool *pgxpool.Pool) *DepositRepository {
	return &DepositRepository{pool: pool}
}

// InsertTx records a processed deposit inside an open storage transaction.
// Returns false when the hash was already recorded, leaving the row as is.
func (r *DepositRepository) InsertTx(ctx context.Context, tx pgx.Tx, d *model.ProcessedDeposit) (bool, error) {
	const query = `
		INSERT INTO processed_deposits
			(external_tx_hash, account_id, amount_micro, from_address, memo, height, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (external_tx_hash) DO NOTHING
	`

	result, err := tx.Exec(ctx, query,
		d.ExternalTxHash,
		d.AccountID,
		d.AmountMicro,
		d.FromAddress,
		d.Memo,
		d.Height,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed deposit: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Get retrieves a processed deposit by its external hash.
func (r *DepositRepository) Get(ctx context.Context, externalTxHash string) (*model.ProcessedDeposit, error) {
	const query = `
		SELECT external_tx_hash, account_id, amount_micro, from_address, memo, height, processed_at
		FROM processed_deposits
		WHERE external_tx_hash = $1
	`

	var d model.ProcessedDeposit
	err := r.pool.QueryRow(ctx, query, externalTxHash).Scan(
		&d.ExternalTxHash,
		&d.AccountID,
		&d.AmountMicro,
		&d.FromAddress,
		&d.Memo,
		&d.Height,
		&d.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to get processed deposit: %w", err)
	}

	return &d, nil
}

// Exists reports whether an external hash has already been credited.
func (r *DepositRepository) Exists(ctx context.Context, externalTxHash string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM processed_deposits WHERE external_tx_hash = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, externalTxHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check processed deposit: %w", err)
	}

	return exists, nil
}
