// Package main is the entry point for the wallet ledger service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"telegram-wallet-bot/internal/amount"
	"telegram-wallet-bot/internal/chain"
	"telegram-wallet-bot/internal/config"
	"telegram-wallet-bot/internal/ledger"
	"telegram-wallet-bot/internal/pkg/db"
	"telegram-wallet-bot/internal/pkg/lock"
	"telegram-wallet-bot/internal/repository"
	"telegram-wallet-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	balanceRepo := repository.NewBalanceRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)
	depositRepo := repository.NewDepositRepository(dbPool.Pool)
	lockRepo := repository.NewLockRepository(dbPool.Pool)
	sharedRepo := repository.NewSharedAccountRepository(dbPool.Pool)

	// Initialize the lock manager over its persistent store
	lockManager := lock.NewManager(lockRepo, cfg.Ledger.LockTimeout)

	// Initialize the ledger engine
	ledgerEngine := ledger.New(dbPool.Pool, balanceRepo, txRepo, depositRepo)

	// Connect to the custodial chain
	tolerance, err := amount.Parse(cfg.Chain.ReconcileTolerance)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid reconcile tolerance")
	}

	rpc, err := chain.DialNeo(ctx, cfg.Chain.RPCEndpoint, cfg.Chain.TokenHash, cfg.Chain.RequestTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
	}
	defer rpc.Close()

	bridge := chain.NewBridge(
		rpc,
		ledgerEngine,
		txRepo,
		cfg.Chain.CustodialAddress,
		tolerance,
		cfg.Chain.BroadcastTimeout,
	)

	// The wallet service is the surface the chat layer calls into
	wallet := service.NewWalletService(lockManager, ledgerEngine, sharedRepo, bridge)

	// The internal book accounts always exist
	if err := wallet.EnsureSystemAccounts(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure system accounts")
	}

	// Background workers
	go lockManager.RunSweeper(ctx, cfg.Ledger.LockSweepInterval)
	go bridge.RunWithdrawalWatcher(ctx, cfg.Chain.WatcherInterval, cfg.Chain.AbandonTimeout)
	go bridge.RunReconciler(ctx, cfg.Chain.ReconcileInterval)

	log.Info().
		Str("custodial_address", cfg.Chain.CustodialAddress).
		Str("rpc_endpoint", cfg.Chain.RPCEndpoint).
		Msg("Wallet ledger service started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()
	log.Info().Msg("Service stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create balances table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			account_id BIGINT PRIMARY KEY,
			amount_micro BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (amount_micro >= 0 OR account_id = -2)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: balances table created")

	// Migration 2: Create transactions table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
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
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_account, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(to_account, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions(status) WHERE status = 'pending';
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: transactions table created")

	// Migration 3: Create transaction_locks table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transaction_locks (
			account_id BIGINT PRIMARY KEY,
			lock_type VARCHAR(50) NOT NULL,
			amount_micro BIGINT NOT NULL DEFAULT 0,
			locked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transaction_locks_age ON transaction_locks(locked_at);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: transaction_locks table created")

	// Migration 4: Create processed_deposits table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processed_deposits (
			external_tx_hash TEXT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			amount_micro BIGINT NOT NULL,
			from_address TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			height BIGINT NOT NULL DEFAULT 0,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: processed_deposits table created")

	// Migration 5: Create shared account tables
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS shared_accounts (
			account_id BIGINT PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			owner_id BIGINT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS shared_account_members (
			account_id BIGINT NOT NULL REFERENCES shared_accounts(account_id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			can_spend BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (account_id, user_id)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: shared account tables created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
