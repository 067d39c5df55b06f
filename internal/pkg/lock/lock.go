// Package lock provides per-account transaction locks for concurrent
// financial operations. Locks are advisory and persistent: they live in the
// same database as the balances they guard, so they survive process
// restarts and hold across multiple service instances. Acquisition is
// non-blocking; callers retry or surface the conflict to the initiator.
package lock

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-wallet-bot/internal/amount"
	"telegram-wallet-bot/internal/model"
)

// DefaultTimeout is how old a lock must be before it is considered dead.
const DefaultTimeout = 60 * time.Second

// Lock type labels recorded on the lock row for introspection.
const (
	TypeTransfer   = "transfer"
	TypeWithdrawal = "withdrawal"
	TypeDeposit    = "deposit"
	TypeGambling   = "gambling"
	TypeGiveaway   = "giveaway"
	TypeAdjustment = "adjustment"
)

// Store is the persistence behind the manager. Implemented by
// repository.LockRepository; tests supply an in-memory store.
type Store interface {
	Insert(ctx context.Context, accountID int64, lockType string, amountMicro int64) (bool, error)
	Delete(ctx context.Context, accountID int64) error
	DeleteExpiredFor(ctx context.Context, accountID int64, before time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	Exists(ctx context.Context, accountID int64) (bool, error)
	List(ctx context.Context) ([]*model.TransactionLock, error)
}

// Manager serializes high-level financial operations per account.
type Manager struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// NewManager creates a Manager with the given expiry timeout.
// A non-positive timeout falls back to DefaultTimeout.
func NewManager(store Store, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// Acquire attempts to take the account's lock. Any expired lock for the
// account is swept first, including one left by a crashed holder. Returns
// false without blocking when a live lock exists.
func (m *Manager) Acquire(ctx context.Context, accountID int64, lockType string, amt amount.Amount) (bool, error) {
	cutoff := m.now().Add(-m.timeout)
	if _, err := m.store.DeleteExpiredFor(ctx, accountID, cutoff); err != nil {
		return false, err
	}

	return m.store.Insert(ctx, accountID, lockType, amt.Micro())
}

// Release deletes the account's lock unconditionally. Callers must release
// on every exit path of the operation they guarded.
func (m *Manager) Release(ctx context.Context, accountID int64) error {
	return m.store.Delete(ctx, accountID)
}

// AcquireMany locks several accounts in ascending id order, the fixed
// global order that prevents deadlocks between simultaneous
// opposite-direction transfers. On any failure the already-acquired subset
// is released in reverse order and false is returned.
func (m *Manager) AcquireMany(ctx context.Context, lockType string, amt amount.Amount, accountIDs ...int64) (bool, error) {
	ids := make([]int64, len(accountIDs))
	copy(ids, accountIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	acquired := make([]int64, 0, len(ids))
	for _, id := range ids {
		ok, err := m.Acquire(ctx, id, lockType, amt)
		if err != nil || !ok {
			m.releaseReverse(ctx, acquired)
			return false, err
		}
		acquired = append(acquired, id)
	}

	return true, nil
}

// ReleaseMany releases a set of accounts in descending id order, the
// reverse of acquisition.
func (m *Manager) ReleaseMany(ctx context.Context, accountIDs ...int64) {
	ids := make([]int64, len(accountIDs))
	copy(ids, accountIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	m.releaseReverse(ctx, ids)
}

func (m *Manager) releaseReverse(ctx context.Context, ascending []int64) {
	for i := len(ascending) - 1; i >= 0; i-- {
		if err := m.store.Delete(ctx, ascending[i]); err != nil {
			log.Error().Err(err).Int64("account_id", ascending[i]).Msg("Failed to release lock")
		}
	}
}

// SweepExpired deletes all locks older than the timeout and returns how
// many were removed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now().Add(-m.timeout))
}

// IsLocked reports whether the account currently has a lock row.
// Point-in-time check for operator tooling; may include an expired lock
// that has not been swept yet.
func (m *Manager) IsLocked(ctx context.Context, accountID int64) (bool, error) {
	return m.store.Exists(ctx, accountID)
}

// ListActive returns all current lock rows for operator tooling.
func (m *Manager) ListActive(ctx context.Context) ([]*model.TransactionLock, error) {
	return m.store.List(ctx)
}

// RunSweeper periodically sweeps expired locks until the context ends.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.SweepExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Lock sweep failed")
				continue
			}
			if n > 0 {
				log.Warn().Int("swept", n).Msg("Swept expired transaction locks")
			}
		}
	}
}
