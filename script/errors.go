package script

import "errors"

var (
	// ErrInvalidAddress is returned when a destination address cannot be
	// decoded into a pubkey hash.
	ErrInvalidAddress = errors.New("script: invalid address")

	// ErrInvalidPubKey is returned when a public key has an unexpected length.
	ErrInvalidPubKey = errors.New("script: invalid public key")

	// ErrDataTooLarge is returned when an OP_RETURN push exceeds the
	// four-byte pushdata range.
	ErrDataTooLarge = errors.New("script: data push too large")

	// ErrEmptyScript is returned when a script operation requires a
	// non-empty script.
	ErrEmptyScript = errors.New("script: empty script")
)
