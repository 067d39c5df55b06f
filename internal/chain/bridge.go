package chain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-wallet-bot/internal/account"
	"telegram-wallet-bot/internal/amount"
	"telegram-wallet-bot/internal/ledger"
	"telegram-wallet-bot/internal/repository"
)

// Bridge translates between ledger accounts and chain transactions.
type Bridge struct {
	rpc              RPC
	ledger           *ledger.Ledger
	txs              *repository.TransactionRepository
	custodialAddress string
	tolerance        amount.Amount
	broadcastTimeout time.Duration
}

// NewBridge creates a Bridge for the custodial wallet address.
func NewBridge(
	rpc RPC,
	ldg *ledger.Ledger,
	txs *repository.TransactionRepository,
	custodialAddress string,
	tolerance amount.Amount,
	broadcastTimeout time.Duration,
) *Bridge {
	return &Bridge{
		rpc:              rpc,
		ledger:           ldg,
		txs:              txs,
		custodialAddress: custodialAddress,
		tolerance:        tolerance,
		broadcastTimeout: broadcastTimeout,
	}
}

// DepositVerification is the outcome of checking a claimed deposit.
type DepositVerification struct {
	Valid  bool
	Reason string
	Amount amount.Amount
	Sender string
	Memo   string
	Height int64
}

// VerifyDeposit fetches and parses the transaction, requiring success
// status, at least one transfer to the custodial address, and a memo
// exactly equal to the expected user id's decimal form. All qualifying
// transfers in the transaction are summed.
func (b *Bridge) VerifyDeposit(ctx context.Context, txHash, expectedAddress string, expectedUserID int64) (*DepositVerification, error) {
	parsed, err := b.fetchParsed(ctx, txHash)
	if err != nil {
		return nil, err
	}

	v := &DepositVerification{
		Memo:   parsed.Memo,
		Height: parsed.Height,
	}
	if !parsed.Success {
		v.Reason = "transaction did not succeed on chain"
		return v, nil
	}

	var totalMicro int64
	for _, tr := range parsed.Transfers {
		if tr.Recipient == expectedAddress {
			totalMicro += tr.AmountMicro
			v.Sender = tr.Sender
		}
	}
	if totalMicro == 0 {
		v.Reason = "no transfer to the custodial address"
		return v, nil
	}
	v.Amount = amount.FromMicro(totalMicro)

	if parsed.Memo != strconv.FormatInt(expectedUserID, 10) {
		v.Reason = "memo does not match the expected account"
		return v, nil
	}

	v.Valid = true
	return v, nil
}

// WithdrawalVerification is the outcome of checking a broadcast withdrawal.
type WithdrawalVerification struct {
	Valid        bool
	Reason       string
	ActualAmount amount.Amount
	Failed       bool // the chain reports the transaction as unsuccessful
}

// VerifyWithdrawal requires an exact sender+recipient transfer match with
// an Amount-exact value.
func (b *Bridge) VerifyWithdrawal(ctx context.Context, txHash, fromAddress, toAddress string, expected amount.Amount) (*WithdrawalVerification, error) {
	parsed, err := b.fetchParsed(ctx, txHash)
	if err != nil {
		return nil, err
	}

	v := &WithdrawalVerification{}
	if !parsed.Success {
		v.Reason = "transaction did not succeed on chain"
		v.Failed = true
		return v, nil
	}

	for _, tr := range parsed.Transfers {
		if tr.Sender == fromAddress && tr.Recipient == toAddress {
			v.ActualAmount = amount.FromMicro(tr.AmountMicro)
			if v.ActualAmount.Equal(expected) {
				v.Valid = true
				return v, nil
			}
		}
	}

	if v.ActualAmount.IsZero() {
		v.Reason = "no matching transfer found"
	} else {
		v.Reason = "transfer amount does not match"
	}
	return v, nil
}

// ClaimDeposit verifies a user-submitted deposit hash and credits the
// ledger. A valid payment whose memo cannot be matched to the claimant is
// credited to the unclaimed account rather than guessed; the credited
// account id is returned. Crediting is idempotent per hash.
func (b *Bridge) ClaimDeposit(ctx context.Context, txHash string, claimantID int64) (int64, amount.Amount, error) {
	v, err := b.VerifyDeposit(ctx, txHash, b.custodialAddress, claimantID)
	if err != nil {
		return 0, amount.Zero(), err
	}

	if !v.Valid {
		if v.Amount.IsZero() {
			// Nothing was paid to the custodial wallet; nothing to credit.
			return 0, amount.Zero(), fmt.Errorf("%w: %s", ErrVerificationFailed, v.Reason)
		}
		// Real payment, unmatched memo: park it on the unclaimed account.
		log.Warn().
			Str("tx_hash", txHash).
			Str("memo", v.Memo).
			Int64("claimant", claimantID).
			Msg("Deposit memo mismatch, routing to unclaimed")
		if _, err := b.ledger.Deposit(ctx, account.UnclaimedID, v.Amount, txHash, v.Sender, v.Memo, v.Height); err != nil {
			return 0, amount.Zero(), err
		}
		return account.UnclaimedID, v.Amount, nil
	}

	if _, err := b.ledger.Deposit(ctx, claimantID, v.Amount, txHash, v.Sender, v.Memo, v.Height); err != nil {
		return 0, amount.Zero(), err
	}
	return claimantID, v.Amount, nil
}

// BroadcastWithdrawal submits the signed transaction for a pending
// withdrawal row under an operation-level timeout. On success the chain
// hash is attached while the row stays pending for the watcher to confirm;
// on failure the row is left pending untouched for asynchronous retry. The
// caller holds the account's lock for the whole attempt.
func (b *Bridge) BroadcastWithdrawal(ctx context.Context, withdrawalTxID int64, signed []byte) (string, error) {
	bctx, cancel := context.WithTimeout(ctx, b.broadcastTimeout)
	defer cancel()

	hash, err := b.rpc.Broadcast(bctx, signed)
	if err != nil {
		log.Error().Err(err).Int64("tx_id", withdrawalTxID).Msg("Withdrawal broadcast failed, row left pending")
		return "", fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}

	if err := b.ledger.AttachWithdrawalHash(ctx, withdrawalTxID, hash); err != nil {
		return hash, err
	}

	log.Info().Int64("tx_id", withdrawalTxID).Str("tx_hash", hash).Msg("Withdrawal broadcast")
	return hash, nil
}

// ReconcileReport compares ledger totals with the custodial wallet.
type ReconcileReport struct {
	InternalTotal   amount.Amount
	OnChainTotal    amount.Amount
	DifferenceMicro int64 // on-chain minus internal, signed
	Matched         bool
}

// Reconcile sums all user-facing balances and compares them against the
// custodial wallet's on-chain balance. Read-only: a mismatch is reported,
// never corrected here; corrections go through the ledger's explicit
// reserve adjustment.
func (b *Bridge) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	internal, err := b.ledger.UserFacingTotal(ctx)
	if err != nil {
		return nil, err
	}

	onChainMicro, err := b.rpc.BalanceOf(ctx, b.custodialAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}
	onChain := amount.FromMicro(onChainMicro)

	diff := onChainMicro - internal.Micro()
	absDiff := diff
	if absDiff < 0 {
		absDiff = -absDiff
	}

	report := &ReconcileReport{
		InternalTotal:   internal,
		OnChainTotal:    onChain,
		DifferenceMicro: diff,
		Matched:         absDiff <= b.tolerance.Micro(),
	}

	evt := log.Info()
	if !report.Matched {
		evt = log.Error()
	}
	evt.
		Str("internal", internal.String()).
		Str("on_chain", onChain.String()).
		Int64("difference_micro", diff).
		Bool("matched", report.Matched).
		Msg("Reconciliation report")

	return report, nil
}

func (b *Bridge) fetchParsed(ctx context.Context, txHash string) (*ParsedTx, error) {
	raw, err := b.rpc.RawTransaction(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}

	parsed, err := ParseTransaction(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return parsed, nil
}

// RunReconciler runs Reconcile on a fixed schedule until the context ends.
func (b *Bridge) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Reconcile(ctx); err != nil {
				log.Error().Err(err).Msg("Reconciliation failed")
			}
		}
	}
}
