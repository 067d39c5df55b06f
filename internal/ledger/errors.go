package ledger

import "errors"

// Ledger-related errors. Business-rule failures are returned as typed
// values so the bot layer can render a clean user message.
var (
	// ErrInsufficientBalance means the re-checked balance cannot cover the
	// requested amount. Expected and user-facing.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSelfTransfer rejects moving value from an account to itself.
	ErrSelfTransfer = errors.New("cannot transfer to the same account")

	// ErrUnsupportedTxType rejects a transaction type outside the closed
	// enumeration for the attempted operation.
	ErrUnsupportedTxType = errors.New("unsupported transaction type")

	// ErrDuplicateDeposit means the external hash was already credited.
	// Benign to the depositor; the balance is not credited again.
	ErrDuplicateDeposit = errors.New("deposit already processed")

	// ErrNotPending means a status update targeted a row that is not a
	// pending withdrawal.
	ErrNotPending = errors.New("transaction is not a pending withdrawal")
)
