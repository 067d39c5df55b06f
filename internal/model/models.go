// Package model defines the data models for the wallet ledger.
package model

import "time"

// Balance is the current amount held by one ledger account. A row is
// created lazily on first reference and never deleted, only zeroed.
type Balance struct {
	AccountID   int64     `db:"account_id"`
	AmountMicro int64     `db:"amount_micro"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Transaction is one immutable audit record. BalanceAfterMicro is the
// post-mutation balance of the primary moved-from account, captured inside
// the same storage transaction as the mutation itself.
type Transaction struct {
	ID                int64     `db:"id"`
	Type              string    `db:"type"`
	FromAccount       int64     `db:"from_account"`
	ToAccount         int64     `db:"to_account"`
	AmountMicro       int64     `db:"amount_micro"`
	BalanceAfterMicro int64     `db:"balance_after_micro"`
	Description       *string   `db:"description"`
	ExternalTxHash    *string   `db:"external_tx_hash"`
	ExternalAddress   *string   `db:"external_address"`
	Status            string    `db:"status"`
	CreatedAt         time.Time `db:"created_at"`
}

// TransactionLock is the advisory per-account lock row. At most one live
// lock per account; rows older than the timeout are dead and get swept.
type TransactionLock struct {
	AccountID   int64     `db:"account_id"`
	LockType    string    `db:"lock_type"`
	AmountMicro int64     `db:"amount_micro"`
	LockedAt    time.Time `db:"locked_at"`
}

// ProcessedDeposit records an external transaction hash that has already
// been credited, keyed uniquely by the hash for idempotency.
type ProcessedDeposit struct {
	ExternalTxHash string    `db:"external_tx_hash"`
	AccountID      int64     `db:"account_id"`
	AmountMicro    int64     `db:"amount_micro"`
	FromAddress    string    `db:"from_address"`
	Memo           string    `db:"memo"`
	Height         int64     `db:"height"`
	ProcessedAt    time.Time `db:"processed_at"`
}

// SharedAccount is a multi-user wallet in the [-999,-100] id band.
// Deletion is logical and requires a zero balance.
type SharedAccount struct {
	AccountID int64     `db:"account_id"`
	Title     string    `db:"title"`
	OwnerID   int64     `db:"owner_id"`
	Deleted   bool      `db:"deleted"`
	CreatedAt time.Time `db:"created_at"`
}

// SharedAccountMember grants a user access to a shared account.
type SharedAccountMember struct {
	AccountID int64 `db:"account_id"`
	UserID    int64 `db:"user_id"`
	CanSpend  bool  `db:"can_spend"`
}

// Transaction types. The enumeration is closed; the ledger rejects
// anything else at the boundary.
const (
	TxTypeDeposit    = "deposit"    // external chain -> ledger credit
	TxTypeWithdrawal = "withdrawal" // ledger debit -> external chain
	TxTypeTransfer   = "transfer"   // account-to-account move
	TxTypeFine       = "fine"       // user -> treasury penalty
	TxTypeBail       = "bail"       // user -> treasury release payment
	TxTypeGiveaway   = "giveaway"   // escrow funding and claims
	TxTypeGambling   = "gambling"   // game stakes and payouts
	TxTypeRefund     = "refund"     // reversal, incl. reserve adjustments
)

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// TransferTypes returns the types valid for an internal account-to-account
// transfer. Deposits and withdrawals have their own entry points.
func TransferTypes() []string {
	return []string{TxTypeTransfer, TxTypeFine, TxTypeBail, TxTypeGiveaway, TxTypeGambling, TxTypeRefund}
}

// MayBePending reports whether rows of this type are allowed to be created
// in a non-terminal status. Only chain-crossing rows may.
func MayBePending(txType string) bool {
	return txType == TxTypeDeposit || txType == TxTypeWithdrawal
}
