package chain

import "errors"

var (
	// ErrBroadcastUnauthorized indicates the broadcaster rejected the
	// bearer token.
	ErrBroadcastUnauthorized = errors.New("chain: broadcast unauthorized")

	// ErrBroadcastDuplicate indicates the transaction is already known
	// to the broadcaster.
	ErrBroadcastDuplicate = errors.New("chain: transaction already known")

	// ErrBroadcastMalformed indicates the broadcaster could not parse
	// the submitted transaction or its format.
	ErrBroadcastMalformed = errors.New("chain: malformed transaction format")

	// ErrBroadcastFeeTooLow indicates the transaction fee is below the
	// broadcaster's policy.
	ErrBroadcastFeeTooLow = errors.New("chain: fee too low")

	// ErrBroadcastCumulativeFee indicates cumulative fee validation over
	// the unmined ancestry failed.
	ErrBroadcastCumulativeFee = errors.New("chain: cumulative fee validation failed")

	// ErrUnreachable indicates a transport failure talking to a chain
	// service. Eligible for retry.
	ErrUnreachable = errors.New("chain: service unreachable")

	// ErrTxNotFound indicates the broadcaster has no record of the txid.
	ErrTxNotFound = errors.New("chain: transaction not found")

	// ErrInvalidResponse indicates a chain service returned a payload
	// that cannot be decoded.
	ErrInvalidResponse = errors.New("chain: invalid response")
)
