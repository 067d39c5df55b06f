package chain

import "errors"

// Chain bridge errors.
var (
	// ErrChainUnreachable means the RPC collaborator failed or timed out.
	// Retried with backoff, never assumed successful.
	ErrChainUnreachable = errors.New("chain rpc unreachable")

	// ErrVerificationFailed means the transaction could not be verified
	// against the expected address, memo, or amount.
	ErrVerificationFailed = errors.New("chain transaction verification failed")

	// ErrMalformedTransaction means the raw encoding could not be scanned.
	ErrMalformedTransaction = errors.New("malformed chain transaction")
)
