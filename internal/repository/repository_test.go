// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"telegram-wallet-bot/internal/account"
	"telegram-wallet-bot/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = runMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runMigrations applies the database schema
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			account_id BIGINT PRIMARY KEY,
			amount_micro BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (amount_micro >= 0 OR account_id = -2)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			type VARCHAR(50) NOT NULL,
			from_account BIGINT NOT NULL,
			to_account BIGINT NOT NULL,
			amount_micro BIGINT NOT NULL,
			balance_after_micro BIGINT NOT NULL,
			description TEXT,
			external_tx_hash TEXT,
			external_address TEXT,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_account)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(to_account)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions(status) WHERE status = 'pending'`,
		`CREATE TABLE IF NOT EXISTS transaction_locks (
			account_id BIGINT PRIMARY KEY,
			lock_type VARCHAR(50) NOT NULL,
			amount_micro BIGINT NOT NULL DEFAULT 0,
			locked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS processed_deposits (
			external_tx_hash TEXT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			amount_micro BIGINT NOT NULL,
			from_address TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			height BIGINT NOT NULL DEFAULT 0,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS shared_accounts (
			account_id BIGINT PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			owner_id BIGINT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS shared_account_members (
			account_id BIGINT NOT NULL REFERENCES shared_accounts(account_id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			can_spend BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (account_id, user_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// addBalance ensures the account and applies a delta in one transaction.
func addBalance(t *testing.T, pool *pgxpool.Pool, repo *BalanceRepository, accountID, deltaMicro int64) {
	t.Helper()
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	require.NoError(t, repo.EnsureTx(ctx, tx, accountID))
	_, err = repo.AddTx(ctx, tx, accountID, deltaMicro)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
}

// ============================================================================
// BalanceRepository Tests
// ============================================================================

func TestBalanceRepository_EnsureAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBalanceRepository(pool)
	ctx := context.Background()

	// Missing account
	_, err := repo.Get(ctx, 12345)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// Ensure creates a zero row, idempotently
	require.NoError(t, repo.Ensure(ctx, 12345))
	require.NoError(t, repo.Ensure(ctx, 12345))

	b, err := repo.Get(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), b.AccountID)
	assert.Equal(t, int64(0), b.AmountMicro)
}

func TestBalanceRepository_AddTx(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBalanceRepository(pool)
	ctx := context.Background()

	addBalance(t, pool, repo, 12345, 10_000_000)
	addBalance(t, pool, repo, 12345, -4_500_000)

	b, err := repo.Get(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, int64(5_500_000), b.AmountMicro)
}

func TestBalanceRepository_UserFacingTotal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBalanceRepository(pool)
	ctx := context.Background()

	addBalance(t, pool, repo, 1, 3_000_000)                            // user
	addBalance(t, pool, repo, account.TreasuryID, 100_000_000)         // excluded
	addBalance(t, pool, repo, account.ReserveID, 50_000_000)           // excluded
	addBalance(t, pool, repo, account.UnclaimedID, 2_000_000)          // excluded
	addBalance(t, pool, repo, -150, 1_000_000)                         // shared
	addBalance(t, pool, repo, account.GiveawayEscrowID(1), 500_000)    // escrow

	total, err := repo.UserFacingTotalMicro(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4_500_000), total)
}

// ============================================================================
// TransactionRepository Tests
// ============================================================================

func createTransaction(t *testing.T, pool *pgxpool.Pool, repo *TransactionRepository, row *model.Transaction) *model.Transaction {
	t.Helper()
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	created, err := repo.CreateTx(ctx, tx, row)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return created
}

func TestTransactionRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	desc := "test transfer"
	created := createTransaction(t, pool, repo, &model.Transaction{
		Type:              model.TxTypeTransfer,
		FromAccount:       1,
		ToAccount:         2,
		AmountMicro:       4_500_000,
		BalanceAfterMicro: 5_500_000,
		Description:       &desc,
		Status:            model.TxStatusCompleted,
	})
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxTypeTransfer, got.Type)
	assert.Equal(t, int64(4_500_000), got.AmountMicro)
	assert.Equal(t, int64(5_500_000), got.BalanceAfterMicro)
	require.NotNil(t, got.Description)
	assert.Equal(t, "test transfer", *got.Description)

	_, err = repo.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactionRepository_GetByAccount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeTransfer, FromAccount: 1, ToAccount: 2,
		AmountMicro: 100, Status: model.TxStatusCompleted,
	})
	createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeTransfer, FromAccount: 3, ToAccount: 1,
		AmountMicro: 200, Status: model.TxStatusCompleted,
	})
	createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeTransfer, FromAccount: 2, ToAccount: 3,
		AmountMicro: 300, Status: model.TxStatusCompleted,
	})

	// Both sides of an account's transfers, newest first
	txs, err := repo.GetByAccount(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(200), txs[0].AmountMicro)
	assert.Equal(t, int64(100), txs[1].AmountMicro)
}

func TestTransactionRepository_SetStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	addr := "NWithdrawalTargetAddr005"
	created := createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeWithdrawal, FromAccount: 1, ToAccount: 1,
		AmountMicro: 1_000_000, ExternalAddress: &addr,
		Status: model.TxStatusPending,
	})

	hash := "deadbeef"
	require.NoError(t, repo.SetStatus(ctx, created.ID, model.TxStatusCompleted, &hash))

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusCompleted, got.Status)
	require.NotNil(t, got.ExternalTxHash)
	assert.Equal(t, "deadbeef", *got.ExternalTxHash)

	// A nil hash keeps the stored one
	require.NoError(t, repo.SetStatus(ctx, created.ID, model.TxStatusCompleted, nil))
	got, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalTxHash)
	assert.Equal(t, "deadbeef", *got.ExternalTxHash)

	err = repo.SetStatus(ctx, 99999, model.TxStatusFailed, nil)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactionRepository_ListPendingWithdrawals(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	addr := "NWithdrawalTargetAddr005"
	first := createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeWithdrawal, FromAccount: 1, ToAccount: 1,
		AmountMicro: 1_000_000, ExternalAddress: &addr, Status: model.TxStatusPending,
	})
	createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeWithdrawal, FromAccount: 2, ToAccount: 2,
		AmountMicro: 2_000_000, ExternalAddress: &addr, Status: model.TxStatusCompleted,
	})
	createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeTransfer, FromAccount: 1, ToAccount: 2,
		AmountMicro: 3_000_000, Status: model.TxStatusCompleted,
	})
	second := createTransaction(t, pool, repo, &model.Transaction{
		Type: model.TxTypeWithdrawal, FromAccount: 3, ToAccount: 3,
		AmountMicro: 4_000_000, ExternalAddress: &addr, Status: model.TxStatusPending,
	})

	pending, err := repo.ListPendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Oldest first
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

// ============================================================================
// LockRepository Tests
// ============================================================================

func TestLockRepository_InsertAndDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	inserted, err := repo.Insert(ctx, 12345, "transfer", 1_000_000)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Second insert loses to the primary key
	inserted, err = repo.Insert(ctx, 12345, "withdrawal", 2_000_000)
	require.NoError(t, err)
	assert.False(t, inserted)

	exists, err := repo.Exists(ctx, 12345)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.Delete(ctx, 12345))

	exists, err = repo.Exists(ctx, 12345)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLockRepository_DeleteExpired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 1, "transfer", 0)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, 2, "transfer", 0)
	require.NoError(t, err)

	// Nothing is older than a cutoff in the past
	swept, err := repo.DeleteExpired(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	// Everything is older than a cutoff in the future
	swept, err = repo.DeleteExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	locks, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestLockRepository_DeleteExpiredFor(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 1, "transfer", 0)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, 2, "transfer", 0)
	require.NoError(t, err)

	swept, err := repo.DeleteExpiredFor(ctx, 1, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	// The other account's lock is untouched
	exists, err := repo.Exists(ctx, 2)
	require.NoError(t, err)
	assert.True(t, exists)
}

// ============================================================================
// DepositRepository Tests
// ============================================================================

func TestDepositRepository_Idempotency(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDepositRepository(pool)
	ctx := context.Background()

	deposit := &model.ProcessedDeposit{
		ExternalTxHash: "abc123",
		AccountID:      42,
		AmountMicro:    4_500_000,
		FromAddress:    "NSenderWalletAddress0001",
		Memo:           "42",
		Height:         100,
	}

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	inserted, err := repo.InsertTx(ctx, tx, deposit)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, tx.Commit(ctx))

	// The same hash again is a no-op
	tx, err = pool.Begin(ctx)
	require.NoError(t, err)
	inserted, err = repo.InsertTx(ctx, tx, deposit)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, tx.Commit(ctx))

	got, err := repo.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.AccountID)
	assert.Equal(t, int64(4_500_000), got.AmountMicro)
	assert.Equal(t, "42", got.Memo)

	exists, err := repo.Exists(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrDepositNotFound)
}

// ============================================================================
// SharedAccountRepository Tests
// ============================================================================

func TestSharedAccountRepository_Allocate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSharedAccountRepository(pool)
	ctx := context.Background()

	first, err := repo.Allocate(ctx, "team wallet", 42)
	require.NoError(t, err)
	assert.Equal(t, account.SharedMaxID, first.AccountID)
	assert.Equal(t, "team wallet", first.Title)
	assert.Equal(t, int64(42), first.OwnerID)
	assert.False(t, first.Deleted)

	second, err := repo.Allocate(ctx, "another", 43)
	require.NoError(t, err)
	assert.Equal(t, account.SharedMaxID-1, second.AccountID)
}

func TestSharedAccountRepository_CapacityExhausted(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSharedAccountRepository(pool)
	ctx := context.Background()

	// Occupy the bottom of the band directly
	_, err := pool.Exec(ctx,
		`INSERT INTO shared_accounts (account_id, title, owner_id) VALUES ($1, 'last', 1)`,
		account.SharedMinID,
	)
	require.NoError(t, err)

	_, err = repo.Allocate(ctx, "one too many", 2)
	assert.ErrorIs(t, err, account.ErrCapacityExhausted)
}

func TestSharedAccountRepository_DeleteRequiresZeroBalance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSharedAccountRepository(pool)
	balRepo := NewBalanceRepository(pool)
	ctx := context.Background()

	sa, err := repo.Allocate(ctx, "team wallet", 42)
	require.NoError(t, err)

	addBalance(t, pool, balRepo, sa.AccountID, 1_000_000)
	assert.ErrorIs(t, repo.Delete(ctx, sa.AccountID), ErrSharedBalanceNotZero)

	addBalance(t, pool, balRepo, sa.AccountID, -1_000_000)
	require.NoError(t, repo.Delete(ctx, sa.AccountID))

	got, err := repo.Get(ctx, sa.AccountID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	// Deleting twice finds nothing live
	assert.ErrorIs(t, repo.Delete(ctx, sa.AccountID), ErrSharedNotFound)

	// The id stays allocated: the next allocation moves further down
	next, err := repo.Allocate(ctx, "successor", 43)
	require.NoError(t, err)
	assert.Equal(t, sa.AccountID-1, next.AccountID)
}

func TestSharedAccountRepository_Members(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSharedAccountRepository(pool)
	ctx := context.Background()

	sa, err := repo.Allocate(ctx, "team wallet", 42)
	require.NoError(t, err)

	// Owner always may spend
	ok, err := repo.CanSpend(ctx, sa.AccountID, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stranger may not
	ok, err = repo.CanSpend(ctx, sa.AccountID, 77)
	require.NoError(t, err)
	assert.False(t, ok)

	// View-only member may not spend
	require.NoError(t, repo.AddMember(ctx, sa.AccountID, 77, false))
	ok, err = repo.CanSpend(ctx, sa.AccountID, 77)
	require.NoError(t, err)
	assert.False(t, ok)

	// Upgrade to spender
	require.NoError(t, repo.AddMember(ctx, sa.AccountID, 77, true))
	ok, err = repo.CanSpend(ctx, sa.AccountID, 77)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.RemoveMember(ctx, sa.AccountID, 77))
	ok, err = repo.CanSpend(ctx, sa.AccountID, 77)
	require.NoError(t, err)
	assert.False(t, ok)
}
