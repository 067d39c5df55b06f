// Package ledger implements the atomic transfer/deposit/withdrawal engine.
// It is the only component permitted to mutate balance rows. Each mutating
// operation runs the paired debit+credit+audit-row write inside one storage
// transaction, so a crash applies all of it or none of it.
//
// The engine does not acquire transaction locks. Callers hold the relevant
// account locks for the whole operation; multi-account callers acquire them
// in ascending id order (see the lock package).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"telegram-wallet-bot/internal/account"
	"telegram-wallet-bot/internal/amount"
	"telegram-wallet-bot/internal/model"
	"telegram-wallet-bot/internal/repository"
)

// Ledger composes the balance store, audit log, and deposit registry.
type Ledger struct {
	pool     *pgxpool.Pool
	balances *repository.BalanceRepository
	txs      *repository.TransactionRepository
	deposits *repository.DepositRepository
}

// New creates a Ledger over the shared connection pool.
func New(
	pool *pgxpool.Pool,
	balances *repository.BalanceRepository,
	txs *repository.TransactionRepository,
	deposits *repository.DepositRepository,
) *Ledger {
	return &Ledger{
		pool:     pool,
		balances: balances,
		txs:      txs,
		deposits: deposits,
	}
}

// TransferResult reports the post-transfer balances and the audit row.
type TransferResult struct {
	FromBalance amount.Amount
	ToBalance   amount.Amount
	Transaction *model.Transaction
}

// EnsureAccount lazily creates a zero balance row for the account.
func (l *Ledger) EnsureAccount(ctx context.Context, accountID int64) error {
	return l.balances.Ensure(ctx, accountID)
}

// GetBalance returns the current balance, ensuring the account exists.
func (l *Ledger) GetBalance(ctx context.Context, accountID int64) (amount.Amount, error) {
	if err := l.balances.Ensure(ctx, accountID); err != nil {
		return amount.Zero(), err
	}
	b, err := l.balances.Get(ctx, accountID)
	if err != nil {
		return amount.Zero(), err
	}
	return amount.FromMicro(b.AmountMicro), nil
}

// Transfer atomically moves amt from one account to another and appends one
// audit record whose balance_after is the sender's post-debit balance from
// the same storage transaction.
//
// The sufficiency check happens here, after the caller acquired locks; any
// check done before lock acquisition is advisory only. Caller must hold
// locks for both accounts.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID int64, amt amount.Amount, txType, description string) (*TransferResult, error) {
	if !amt.IsPositive() {
		return nil, amount.ErrInvalidAmount
	}
	if fromID == toID {
		return nil, ErrSelfTransfer
	}
	if !isTransferType(txType) {
		return nil, ErrUnsupportedTxType
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := l.balances.EnsureTx(ctx, tx, fromID); err != nil {
		return nil, err
	}
	if err := l.balances.EnsureTx(ctx, tx, toID); err != nil {
		return nil, err
	}

	// Row locks taken in ascending id order, matching the advisory lock
	// order, so concurrent opposite-direction transfers cannot deadlock.
	fromMicro, err := l.lockPairReadFrom(ctx, tx, fromID, toID)
	if err != nil {
		return nil, err
	}

	if fromMicro < amt.Micro() {
		return nil, ErrInsufficientBalance
	}

	newFrom, err := l.balances.AddTx(ctx, tx, fromID, -amt.Micro())
	if err != nil {
		return nil, err
	}
	newTo, err := l.balances.AddTx(ctx, tx, toID, amt.Micro())
	if err != nil {
		return nil, err
	}

	desc := description
	row, err := l.txs.CreateTx(ctx, tx, &model.Transaction{
		Type:              txType,
		FromAccount:       fromID,
		ToAccount:         toID,
		AmountMicro:       amt.Micro(),
		BalanceAfterMicro: newFrom,
		Description:       &desc,
		Status:            model.TxStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}

	log.Debug().
		Int64("from", fromID).
		Int64("to", toID).
		Str("amount", amt.String()).
		Str("type", txType).
		Int64("tx_id", row.ID).
		Msg("Transfer completed")

	return &TransferResult{
		FromBalance: amount.FromMicro(newFrom),
		ToBalance:   amount.FromMicro(newTo),
		Transaction: row,
	}, nil
}

// Fine moves a penalty from a user to the treasury.
// Caller must hold locks for the user and treasury accounts.
func (l *Ledger) Fine(ctx context.Context, userID int64, amt amount.Amount, reason string) (*TransferResult, error) {
	return l.Transfer(ctx, userID, account.TreasuryID, amt, model.TxTypeFine, reason)
}

// Bail moves a release payment from a user to the treasury.
// Caller must hold locks for the user and treasury accounts.
func (l *Ledger) Bail(ctx context.Context, userID int64, amt amount.Amount, reason string) (*TransferResult, error) {
	return l.Transfer(ctx, userID, account.TreasuryID, amt, model.TxTypeBail, reason)
}

// Deposit credits a verified on-chain deposit. The external hash is
// registered in the same storage transaction as the credit; a hash seen
// before returns ErrDuplicateDeposit and the balance is untouched no matter
// how many times the transaction is observed.
//
// When accountID is the unclaimed account no user-specific validation
// applies; the deposit waits there for a manual claim.
func (l *Ledger) Deposit(ctx context.Context, accountID int64, amt amount.Amount, externalTxHash, fromAddress, memo string, height int64) (*model.Transaction, error) {
	if !amt.IsPositive() {
		return nil, amount.ErrInvalidAmount
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin deposit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := l.balances.EnsureTx(ctx, tx, accountID); err != nil {
		return nil, err
	}

	inserted, err := l.deposits.InsertTx(ctx, tx, &model.ProcessedDeposit{
		ExternalTxHash: externalTxHash,
		AccountID:      accountID,
		AmountMicro:    amt.Micro(),
		FromAddress:    fromAddress,
		Memo:           memo,
		Height:         height,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrDuplicateDeposit
	}

	newBal, err := l.balances.AddTx(ctx, tx, accountID, amt.Micro())
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("deposit from %s", fromAddress)
	row, err := l.txs.CreateTx(ctx, tx, &model.Transaction{
		Type:              model.TxTypeDeposit,
		FromAccount:       accountID,
		ToAccount:         accountID,
		AmountMicro:       amt.Micro(),
		BalanceAfterMicro: newBal,
		Description:       &desc,
		ExternalTxHash:    &externalTxHash,
		ExternalAddress:   &fromAddress,
		Status:            model.TxStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit deposit: %w", err)
	}

	log.Info().
		Int64("account", accountID).
		Str("amount", amt.String()).
		Str("tx_hash", externalTxHash).
		Msg("Deposit credited")

	return row, nil
}

// Withdraw debits the account immediately and appends a pending withdrawal
// row. The debit happens before on-chain confirmation by design; the caller
// MUST hold the account's lock for the entire broadcast attempt so no
// second withdrawal can race against the unconfirmed balance. The row is
// later completed or failed via CompleteWithdrawal/FailWithdrawal.
func (l *Ledger) Withdraw(ctx context.Context, accountID int64, amt amount.Amount, toAddress string) (*model.Transaction, error) {
	if !amt.IsPositive() {
		return nil, amount.ErrInvalidAmount
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin withdrawal: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := l.balances.EnsureTx(ctx, tx, accountID); err != nil {
		return nil, err
	}

	current, err := l.balances.GetForUpdateTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if current < amt.Micro() {
		return nil, ErrInsufficientBalance
	}

	newBal, err := l.balances.AddTx(ctx, tx, accountID, -amt.Micro())
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("withdrawal to %s", toAddress)
	row, err := l.txs.CreateTx(ctx, tx, &model.Transaction{
		Type:              model.TxTypeWithdrawal,
		FromAccount:       accountID,
		ToAccount:         accountID,
		AmountMicro:       amt.Micro(),
		BalanceAfterMicro: newBal,
		Description:       &desc,
		ExternalAddress:   &toAddress,
		Status:            model.TxStatusPending,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit withdrawal: %w", err)
	}

	log.Info().
		Int64("account", accountID).
		Str("amount", amt.String()).
		Str("to", toAddress).
		Int64("tx_id", row.ID).
		Msg("Withdrawal debited, awaiting broadcast")

	return row, nil
}

// AttachWithdrawalHash stores the chain hash of a broadcast withdrawal
// while the row stays pending for asynchronous confirmation.
func (l *Ledger) AttachWithdrawalHash(ctx context.Context, txID int64, chainTxHash string) error {
	row, err := l.txs.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	if row.Type != model.TxTypeWithdrawal || row.Status != model.TxStatusPending {
		return ErrNotPending
	}
	return l.txs.SetStatus(ctx, txID, model.TxStatusPending, &chainTxHash)
}

// CompleteWithdrawal marks a pending withdrawal confirmed on-chain.
func (l *Ledger) CompleteWithdrawal(ctx context.Context, txID int64, chainTxHash string) error {
	row, err := l.txs.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	if row.Type != model.TxTypeWithdrawal || row.Status != model.TxStatusPending {
		return ErrNotPending
	}
	return l.txs.SetStatus(ctx, txID, model.TxStatusCompleted, &chainTxHash)
}

// FailWithdrawal marks a pending withdrawal failed and refunds the debited
// amount in the same storage transaction, so the row flip and the credit
// cannot be observed apart.
func (l *Ledger) FailWithdrawal(ctx context.Context, txID int64) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin withdrawal failure: %w", err)
	}
	defer tx.Rollback(ctx)

	var row model.Transaction
	err = tx.QueryRow(ctx, `
		SELECT id, from_account, amount_micro, type, status
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, txID).Scan(&row.ID, &row.FromAccount, &row.AmountMicro, &row.Type, &row.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrTransactionNotFound
		}
		return fmt.Errorf("failed to load withdrawal: %w", err)
	}
	if row.Type != model.TxTypeWithdrawal || row.Status != model.TxStatusPending {
		return ErrNotPending
	}

	if err := l.txs.SetStatusTx(ctx, tx, txID, model.TxStatusFailed, nil); err != nil {
		return err
	}

	newBal, err := l.balances.AddTx(ctx, tx, row.FromAccount, row.AmountMicro)
	if err != nil {
		return err
	}

	desc := fmt.Sprintf("refund of failed withdrawal #%d", txID)
	if _, err := l.txs.CreateTx(ctx, tx, &model.Transaction{
		Type:              model.TxTypeRefund,
		FromAccount:       row.FromAccount,
		ToAccount:         row.FromAccount,
		AmountMicro:       row.AmountMicro,
		BalanceAfterMicro: newBal,
		Description:       &desc,
		Status:            model.TxStatusCompleted,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit withdrawal failure: %w", err)
	}

	log.Warn().Int64("tx_id", txID).Msg("Withdrawal failed, amount refunded")
	return nil
}

// Adjust moves value between the reserve and a target account through an
// explicit adjustment record. This is the only path allowed to take the
// reserve negative; balances are never rewritten silently. credit=true
// moves reserve -> target, credit=false moves target -> reserve.
// Caller must hold locks for the reserve and target accounts.
func (l *Ledger) Adjust(ctx context.Context, targetID int64, amt amount.Amount, credit bool, reason string) (*TransferResult, error) {
	if !amt.IsPositive() {
		return nil, amount.ErrInvalidAmount
	}
	if targetID == account.ReserveID {
		return nil, ErrSelfTransfer
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin adjustment: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := l.balances.EnsureTx(ctx, tx, account.ReserveID); err != nil {
		return nil, err
	}
	if err := l.balances.EnsureTx(ctx, tx, targetID); err != nil {
		return nil, err
	}

	fromID, toID := account.ReserveID, targetID
	if !credit {
		fromID, toID = targetID, account.ReserveID
	}

	fromMicro, err := l.lockPairReadFrom(ctx, tx, fromID, toID)
	if err != nil {
		return nil, err
	}
	// The reserve absorbs the shortfall; any other source must cover it.
	if fromMicro < amt.Micro() && !account.MayGoNegative(fromID) {
		return nil, ErrInsufficientBalance
	}

	newFrom, err := l.balances.AddTx(ctx, tx, fromID, -amt.Micro())
	if err != nil {
		return nil, err
	}
	newTo, err := l.balances.AddTx(ctx, tx, toID, amt.Micro())
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("reserve adjustment: %s", reason)
	row, err := l.txs.CreateTx(ctx, tx, &model.Transaction{
		Type:              model.TxTypeRefund,
		FromAccount:       fromID,
		ToAccount:         toID,
		AmountMicro:       amt.Micro(),
		BalanceAfterMicro: newFrom,
		Description:       &desc,
		Status:            model.TxStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	log.Warn().
		Int64("target", targetID).
		Str("amount", amt.String()).
		Bool("credit", credit).
		Str("reason", reason).
		Msg("Reserve adjustment applied")

	return &TransferResult{
		FromBalance: amount.FromMicro(newFrom),
		ToBalance:   amount.FromMicro(newTo),
		Transaction: row,
	}, nil
}

// UserFacingTotal sums every balance that reconciles against the custodial
// wallet: users, shared accounts, and giveaway escrows.
func (l *Ledger) UserFacingTotal(ctx context.Context) (amount.Amount, error) {
	total, err := l.balances.UserFacingTotalMicro(ctx)
	if err != nil {
		return amount.Zero(), err
	}
	return amount.FromMicro(total), nil
}

// lockPairReadFrom takes FOR UPDATE row locks on both accounts in ascending
// id order and returns the from-account balance.
func (l *Ledger) lockPairReadFrom(ctx context.Context, tx pgx.Tx, fromID, toID int64) (int64, error) {
	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}

	firstMicro, err := l.balances.GetForUpdateTx(ctx, tx, first)
	if err != nil {
		return 0, err
	}
	secondMicro, err := l.balances.GetForUpdateTx(ctx, tx, second)
	if err != nil {
		return 0, err
	}

	if first == fromID {
		return firstMicro, nil
	}
	return secondMicro, nil
}

func isTransferType(txType string) bool {
	for _, t := range model.TransferTypes() {
		if t == txType {
			return true
		}
	}
	return false
}
