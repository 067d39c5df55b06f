// Property-based tests for the wallet service's spend-permission rules.
package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"telegram-wallet-bot/internal/account"
)

// simulateSpendCheck mirrors WalletService.canSpendFrom without a database.
// sharedSpend maps shared account id -> user ids with spend rights.
func simulateSpendCheck(initiatorID, accountID int64, sharedSpend map[int64]map[int64]bool) bool {
	switch account.Classify(accountID) {
	case account.KindUser:
		return accountID == initiatorID
	case account.KindShared:
		return sharedSpend[accountID][initiatorID]
	default:
		return false
	}
}

// A user may spend from exactly their own account, never another user's.
func TestOwnAccountSpendProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1_000_000).Draw(t, "userID")
		otherID := rapid.Int64Range(1, 1_000_000).Filter(func(id int64) bool {
			return id != userID
		}).Draw(t, "otherID")

		if !simulateSpendCheck(userID, userID, nil) {
			t.Fatalf("user %d must be able to spend from own account", userID)
		}
		if simulateSpendCheck(userID, otherID, nil) {
			t.Fatalf("user %d must not spend from user %d", userID, otherID)
		}
	})
}

// System books and escrows are never directly spendable, for any initiator.
func TestSystemAccountsNeverSpendableProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initiatorID := rapid.Int64Range(1, 1_000_000).Draw(t, "initiatorID")
		giveawayID := rapid.Int64Range(1, 100_000).Draw(t, "giveawayID")

		for _, id := range []int64{
			account.TreasuryID,
			account.ReserveID,
			account.UnclaimedID,
			account.GiveawayEscrowID(giveawayID),
		} {
			if simulateSpendCheck(initiatorID, id, nil) {
				t.Fatalf("account %d must not be directly spendable", id)
			}
		}
	})
}

// Spending from a shared account requires an explicit grant.
func TestSharedSpendRequiresGrantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sharedID := rapid.Int64Range(account.SharedMinID, account.SharedMaxID).Draw(t, "sharedID")
		memberID := rapid.Int64Range(1, 1_000_000).Draw(t, "memberID")
		strangerID := rapid.Int64Range(1, 1_000_000).Filter(func(id int64) bool {
			return id != memberID
		}).Draw(t, "strangerID")

		grants := map[int64]map[int64]bool{
			sharedID: {memberID: true},
		}

		if !simulateSpendCheck(memberID, sharedID, grants) {
			t.Fatalf("granted member %d must be able to spend from %d", memberID, sharedID)
		}
		if simulateSpendCheck(strangerID, sharedID, grants) {
			t.Fatalf("stranger %d must not spend from %d", strangerID, sharedID)
		}
	})
}

func TestSpendCheckEdgeCases(t *testing.T) {
	// Account id 0 and the unassigned gap are not spendable
	assert.False(t, simulateSpendCheck(1, 0, nil))
	assert.False(t, simulateSpendCheck(1, -50, nil))

	// An ungranted shared account denies even with other grants present
	grants := map[int64]map[int64]bool{-100: {1: true}}
	assert.False(t, simulateSpendCheck(1, -101, grants))
}
