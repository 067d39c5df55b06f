// Package account maps ledger account identifiers to their semantic kind.
// Kind is a pure function of the numeric id and is never stored, so it can
// not desync from the id across migrations.
package account

import "errors"

// Directory errors.
var (
	// ErrCapacityExhausted is returned when the shared-account id band is full.
	ErrCapacityExhausted = errors.New("shared account id space exhausted")
)

// Well-known system account ids.
const (
	TreasuryID  int64 = -1 // fines, fees, house edge
	ReserveID   int64 = -2 // reconciliation adjustments only
	UnclaimedID int64 = -3 // deposits with unparseable memo
)

// Shared-account id band, allocated densely downward from SharedMaxID.
const (
	SharedMaxID int64 = -100
	SharedMinID int64 = -999
)

// giveawayEscrowBase anchors the escrow id derivation: id = base - giveawayID.
const giveawayEscrowBase int64 = -1000

// Kind is the semantic classification of an account id.
type Kind int

const (
	KindUnknown Kind = iota
	KindUser
	KindTreasury
	KindReserve
	KindUnclaimed
	KindShared
	KindGiveawayEscrow
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindTreasury:
		return "treasury"
	case KindReserve:
		return "reserve"
	case KindUnclaimed:
		return "unclaimed"
	case KindShared:
		return "shared"
	case KindGiveawayEscrow:
		return "giveaway_escrow"
	default:
		return "unknown"
	}
}

// Classify derives the account kind from the id. It is total over int64;
// the unused gap (-99..-4) classifies as KindUnknown.
func Classify(id int64) Kind {
	switch {
	case id > 0:
		return KindUser
	case id == TreasuryID:
		return KindTreasury
	case id == ReserveID:
		return KindReserve
	case id == UnclaimedID:
		return KindUnclaimed
	case id >= SharedMinID && id <= SharedMaxID:
		return KindShared
	case id <= giveawayEscrowBase:
		return KindGiveawayEscrow
	default:
		return KindUnknown
	}
}

// GiveawayEscrowID derives the escrow account id for a giveaway.
// One escrow account per giveaway, derivable everywhere, never persisted
// as a mapping.
func GiveawayEscrowID(giveawayID int64) int64 {
	return giveawayEscrowBase - giveawayID
}

// GiveawayID inverts GiveawayEscrowID. The second return is false when the
// id is not an escrow id.
func GiveawayID(accountID int64) (int64, bool) {
	if Classify(accountID) != KindGiveawayEscrow {
		return 0, false
	}
	return giveawayEscrowBase - accountID, true
}

// UserFacing reports whether the account's balance is backed by real user
// value and therefore counts toward reconciliation against the custodial
// wallet. Treasury, reserve, and unclaimed are internal books.
func UserFacing(id int64) bool {
	switch Classify(id) {
	case KindUser, KindShared, KindGiveawayEscrow:
		return true
	default:
		return false
	}
}

// IsSystem reports whether the id belongs to one of the internal books.
func IsSystem(id int64) bool {
	switch Classify(id) {
	case KindTreasury, KindReserve, KindUnclaimed:
		return true
	default:
		return false
	}
}

// MayGoNegative reports whether a balance for this account is allowed to
// drop below zero. Only the reserve may, and only through an explicit
// adjustment.
func MayGoNegative(id int64) bool {
	return id == ReserveID
}
