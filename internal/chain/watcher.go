package chain

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-wallet-bot/internal/amount"
	"telegram-wallet-bot/internal/model"
)

// watcherBatchSize bounds how many pending rows one tick examines.
const watcherBatchSize = 50

// maxBackoffShift caps the retry backoff at interval * 2^maxBackoffShift.
const maxBackoffShift = 6

type watchState struct {
	attempts  int
	nextRetry time.Time
}

// RunWithdrawalWatcher periodically re-verifies pending withdrawal rows.
// A confirmed transfer completes the row; a transaction the chain reports
// as failed fails the row (which refunds the debit); an unreachable chain
// backs the row off exponentially and tries again. A row whose broadcast
// never returned a chain hash cannot be verified or re-broadcast (the
// signed bytes are not persisted), so it is flagged every tick and failed
// once it is older than abandonAfter, refunding the debit.
func (b *Bridge) RunWithdrawalWatcher(ctx context.Context, interval, abandonAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	states := make(map[int64]*watchState)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.watchTick(ctx, interval, abandonAfter, states)
		}
	}
}

func (b *Bridge) watchTick(ctx context.Context, interval, abandonAfter time.Duration, states map[int64]*watchState) {
	pending, err := b.txs.ListPendingWithdrawals(ctx, watcherBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending withdrawals")
		return
	}

	seen := make(map[int64]bool, len(pending))
	now := time.Now()

	for _, row := range pending {
		seen[row.ID] = true

		st := states[row.ID]
		if st == nil {
			st = &watchState{}
			states[row.ID] = st
		}
		if now.Before(st.nextRetry) {
			continue
		}

		if row.ExternalTxHash == nil || row.ExternalAddress == nil {
			// Broadcast never returned a hash; nothing to verify against.
			age := now.Sub(row.CreatedAt)
			if abandonAfter > 0 && age > abandonAfter {
				if err := b.ledger.FailWithdrawal(ctx, row.ID); err != nil {
					log.Error().Err(err).Int64("tx_id", row.ID).Msg("Failed to abandon hashless withdrawal")
					continue
				}
				log.Warn().Int64("tx_id", row.ID).Dur("age", age).Msg("Withdrawal never broadcast, abandoned and refunded")
				delete(states, row.ID)
				continue
			}
			log.Warn().Int64("tx_id", row.ID).Dur("age", age).Msg("Pending withdrawal has no chain hash")
			continue
		}

		done := b.checkPending(ctx, row)
		if done {
			delete(states, row.ID)
			continue
		}

		st.attempts++
		shift := st.attempts
		if shift > maxBackoffShift {
			shift = maxBackoffShift
		}
		st.nextRetry = now.Add(interval << shift)
	}

	// Drop state for rows that reached a terminal status elsewhere.
	for id := range states {
		if !seen[id] {
			delete(states, id)
		}
	}
}

// checkPending verifies one pending withdrawal. Returns true when the row
// reached a terminal status.
func (b *Bridge) checkPending(ctx context.Context, row *model.Transaction) bool {
	v, err := b.VerifyWithdrawal(ctx, *row.ExternalTxHash, b.custodialAddress, *row.ExternalAddress, amount.FromMicro(row.AmountMicro))
	if err != nil {
		log.Warn().Err(err).Int64("tx_id", row.ID).Msg("Pending withdrawal verification unavailable, will retry")
		return false
	}

	switch {
	case v.Valid:
		if err := b.ledger.CompleteWithdrawal(ctx, row.ID, *row.ExternalTxHash); err != nil {
			log.Error().Err(err).Int64("tx_id", row.ID).Msg("Failed to complete withdrawal")
			return false
		}
		log.Info().Int64("tx_id", row.ID).Msg("Withdrawal confirmed on chain")
		return true

	case v.Failed:
		if err := b.ledger.FailWithdrawal(ctx, row.ID); err != nil {
			log.Error().Err(err).Int64("tx_id", row.ID).Msg("Failed to fail withdrawal")
			return false
		}
		log.Warn().Int64("tx_id", row.ID).Msg("Withdrawal failed on chain, refunded")
		return true

	default:
		// Parsed but not yet matching; likely not indexed yet.
		log.Debug().Int64("tx_id", row.ID).Str("reason", v.Reason).Msg("Pending withdrawal not confirmed yet")
		return false
	}
}
