// Package chain bridges the ledger's account-id space and the custodial
// chain's address/transaction space: deposit verification, withdrawal
// broadcast and confirmation, and periodic reconciliation.
package chain

import "context"

// RPC is the capability the bridge needs from a chain node. The ledger and
// bridge depend only on this interface, never on a specific network client.
type RPC interface {
	// BalanceOf returns the address balance in micro-units.
	BalanceOf(ctx context.Context, address string) (int64, error)

	// RawTransaction fetches a settled transaction's execution outcome,
	// height, transfers, and memo in the envelope ParseTransaction reads.
	RawTransaction(ctx context.Context, txHash string) ([]byte, error)

	// Broadcast submits a signed transaction and returns its hash.
	Broadcast(ctx context.Context, signed []byte) (string, error)
}
