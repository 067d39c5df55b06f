// Package service provides business logic implementations. The wallet
// service is the operation layer above the ledger: it checks who may spend
// from which account, holds transaction locks for the full operation, and
// delegates the actual balance mutation to the ledger engine.
package service

import (
	"context"
	"errors"
	"fmt"

	"telegram-wallet-bot/internal/account"
	"telegram-wallet-bot/internal/amount"
	"telegram-wallet-bot/internal/chain"
	"telegram-wallet-bot/internal/ledger"
	"telegram-wallet-bot/internal/model"
	"telegram-wallet-bot/internal/pkg/lock"
	"telegram-wallet-bot/internal/repository"
)

// Wallet-service errors. ErrAccountBusy wraps the lock sentinel so callers
// can match either.
var (
	ErrAccountBusy      = fmt.Errorf("account is busy with another transaction: %w", lock.ErrLockUnavailable)
	ErrPermissionDenied = errors.New("no permission to operate on this account")
)

// WalletService coordinates locks, permissions, ledger, and chain bridge.
type WalletService struct {
	locks  *lock.Manager
	ledger *ledger.Ledger
	shared *repository.SharedAccountRepository
	bridge *chain.Bridge
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(
	locks *lock.Manager,
	ldg *ledger.Ledger,
	shared *repository.SharedAccountRepository,
	bridge *chain.Bridge,
) *WalletService {
	return &WalletService{
		locks:  locks,
		ledger: ldg,
		shared: shared,
		bridge: bridge,
	}
}

// EnsureSystemAccounts creates the internal book accounts. Run at startup
// so the treasury, reserve, and unclaimed rows always exist.
func (s *WalletService) EnsureSystemAccounts(ctx context.Context) error {
	for _, id := range []int64{account.TreasuryID, account.ReserveID, account.UnclaimedID} {
		if err := s.ledger.EnsureAccount(ctx, id); err != nil {
			return fmt.Errorf("failed to ensure account %d: %w", id, err)
		}
	}
	return nil
}

// canSpendFrom reports whether the initiator may move value out of the
// account. Users spend from their own account and from shared accounts they
// have spend rights on. The system books move only through Adjust.
func (s *WalletService) canSpendFrom(ctx context.Context, initiatorID, accountID int64) (bool, error) {
	switch account.Classify(accountID) {
	case account.KindUser:
		return accountID == initiatorID, nil
	case account.KindShared:
		return s.shared.CanSpend(ctx, accountID, initiatorID)
	default:
		return false, nil
	}
}

// SendTransfer moves value between two accounts on behalf of the initiator.
// Both accounts are locked in ascending id order for the duration.
func (s *WalletService) SendTransfer(ctx context.Context, initiatorID, fromID, toID int64, amt amount.Amount, description string) (*ledger.TransferResult, error) {
	ok, err := s.canSpendFrom(ctx, initiatorID, fromID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPermissionDenied
	}

	locked, err := s.locks.AcquireMany(ctx, lock.TypeTransfer, amt, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	if !locked {
		return nil, ErrAccountBusy
	}
	defer s.locks.ReleaseMany(ctx, fromID, toID)

	return s.ledger.Transfer(ctx, fromID, toID, amt, model.TxTypeTransfer, description)
}

// Fine charges a penalty from a user to the treasury.
func (s *WalletService) Fine(ctx context.Context, userID int64, amt amount.Amount, reason string) (*ledger.TransferResult, error) {
	locked, err := s.locks.AcquireMany(ctx, lock.TypeTransfer, amt, userID, account.TreasuryID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	if !locked {
		return nil, ErrAccountBusy
	}
	defer s.locks.ReleaseMany(ctx, userID, account.TreasuryID)

	return s.ledger.Fine(ctx, userID, amt, reason)
}

// Bail charges a release payment from a user to the treasury.
func (s *WalletService) Bail(ctx context.Context, userID int64, amt amount.Amount, reason string) (*ledger.TransferResult, error) {
	locked, err := s.locks.AcquireMany(ctx, lock.TypeTransfer, amt, userID, account.TreasuryID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	if !locked {
		return nil, ErrAccountBusy
	}
	defer s.locks.ReleaseMany(ctx, userID, account.TreasuryID)

	return s.ledger.Bail(ctx, userID, amt, reason)
}

// ClaimDeposit verifies a user-submitted chain transaction and credits the
// claimant, or the unclaimed account when the memo does not match.
func (s *WalletService) ClaimDeposit(ctx context.Context, claimantID int64, txHash string) (int64, amount.Amount, error) {
	locked, err := s.locks.Acquire(ctx, claimantID, lock.TypeDeposit, amount.Zero())
	if err != nil {
		return 0, amount.Zero(), fmt.Errorf("failed to lock account: %w", err)
	}
	if !locked {
		return 0, amount.Zero(), ErrAccountBusy
	}
	defer s.locks.Release(ctx, claimantID)

	return s.bridge.ClaimDeposit(ctx, txHash, claimantID)
}

// Withdraw debits the account and broadcasts the signed transaction while
// holding the account's lock for the entire attempt, so no second withdrawal
// can race against the unconfirmed balance. The pending row is confirmed or
// refunded later by the withdrawal watcher.
func (s *WalletService) Withdraw(ctx context.Context, initiatorID, fromID int64, amt amount.Amount, toAddress string, signed []byte) (*model.Transaction, error) {
	ok, err := s.canSpendFrom(ctx, initiatorID, fromID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPermissionDenied
	}

	locked, err := s.locks.Acquire(ctx, fromID, lock.TypeWithdrawal, amt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	if !locked {
		return nil, ErrAccountBusy
	}
	defer s.locks.Release(ctx, fromID)

	row, err := s.ledger.Withdraw(ctx, fromID, amt, toAddress)
	if err != nil {
		return nil, err
	}

	// A broadcast failure leaves the row pending; the watcher settles it.
	if _, err := s.bridge.BroadcastWithdrawal(ctx, row.ID, signed); err != nil {
		return row, err
	}

	return row, nil
}

// Adjust moves value between the reserve and a target account under locks.
func (s *WalletService) Adjust(ctx context.Context, targetID int64, amt amount.Amount, credit bool, reason string) (*ledger.TransferResult, error) {
	locked, err := s.locks.AcquireMany(ctx, lock.TypeAdjustment, amt, account.ReserveID, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	if !locked {
		return nil, ErrAccountBusy
	}
	defer s.locks.ReleaseMany(ctx, account.ReserveID, targetID)

	return s.ledger.Adjust(ctx, targetID, amt, credit, reason)
}

// CreateSharedAccount allocates a shared account owned by the initiator and
// creates its balance row.
func (s *WalletService) CreateSharedAccount(ctx context.Context, ownerID int64, title string) (*model.SharedAccount, error) {
	sa, err := s.shared.Allocate(ctx, title, ownerID)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.EnsureAccount(ctx, sa.AccountID); err != nil {
		return nil, err
	}

	return sa, nil
}

// CloseSharedAccount logically deletes an emptied shared account.
// Only the owner may close it; the lock keeps a concurrent credit from
// racing the zero-balance check.
func (s *WalletService) CloseSharedAccount(ctx context.Context, initiatorID, accountID int64) error {
	sa, err := s.shared.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if sa.OwnerID != initiatorID {
		return ErrPermissionDenied
	}

	locked, err := s.locks.Acquire(ctx, accountID, lock.TypeTransfer, amount.Zero())
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}
	if !locked {
		return ErrAccountBusy
	}
	defer s.locks.Release(ctx, accountID)

	return s.shared.Delete(ctx, accountID)
}

// AddSharedMember grants a user access to a shared account. Owner only.
func (s *WalletService) AddSharedMember(ctx context.Context, initiatorID, accountID, userID int64, canSpend bool) error {
	sa, err := s.shared.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if sa.OwnerID != initiatorID {
		return ErrPermissionDenied
	}

	return s.shared.AddMember(ctx, accountID, userID, canSpend)
}

// RemoveSharedMember revokes a user's access to a shared account. Owner only.
func (s *WalletService) RemoveSharedMember(ctx context.Context, initiatorID, accountID, userID int64) error {
	sa, err := s.shared.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if sa.OwnerID != initiatorID {
		return ErrPermissionDenied
	}

	return s.shared.RemoveMember(ctx, accountID, userID)
}
