package spv

import "errors"

var (
	// ErrMalformedPath indicates the compact proof bytes cannot be parsed.
	ErrMalformedPath = errors.New("spv: malformed merkle path")

	// ErrTxidNotInPath indicates the leaf level carries no entry for the
	// requested transaction.
	ErrTxidNotInPath = errors.New("spv: txid not in merkle path")

	// ErrMissingSibling indicates a tree level lacks the sibling hash
	// needed to continue the root computation.
	ErrMissingSibling = errors.New("spv: missing sibling hash")

	// ErrRootMismatch indicates the computed Merkle root does not match
	// a trusted block header.
	ErrRootMismatch = errors.New("spv: merkle root mismatch")

	// ErrInvalidTxID indicates the transaction ID is not 32 bytes.
	ErrInvalidTxID = errors.New("spv: invalid transaction ID")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("spv: required parameter is nil")
)
