package tx

import "errors"

var (
	// ErrMalformedTransaction indicates transaction bytes that cannot be
	// decoded: truncated, over-length, or structurally invalid.
	ErrMalformedTransaction = errors.New("tx: malformed transaction")

	// ErrMalformedEnvelope indicates an ancestry envelope that cannot be
	// decoded or whose internal references do not resolve.
	ErrMalformedEnvelope = errors.New("tx: malformed ancestry envelope")

	// ErrMissingSourceOutput indicates an input lacks the source amount
	// and locking script required by the extended format.
	ErrMissingSourceOutput = errors.New("tx: missing source output")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("tx: required parameter is nil")
)
