package keys

import "errors"

var (
	// ErrInvalidKey indicates malformed or out-of-range key material.
	ErrInvalidKey = errors.New("keys: invalid key")

	// ErrHardenedFromPublic indicates hardened derivation was requested
	// on a public-only extended key.
	ErrHardenedFromPublic = errors.New("keys: hardened derivation requires private key")

	// ErrInvalidSeed indicates the master seed length is out of range.
	ErrInvalidSeed = errors.New("keys: seed must be 16-64 bytes")

	// ErrInvalidAddress indicates an address fails decoding or checksum validation.
	ErrInvalidAddress = errors.New("keys: invalid address")

	// ErrInvalidWIF indicates a WIF string fails decoding.
	ErrInvalidWIF = errors.New("keys: invalid WIF")

	// ErrInvalidPath indicates a derivation path string cannot be parsed.
	ErrInvalidPath = errors.New("keys: invalid derivation path")
)
