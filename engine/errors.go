package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when no combination of spendable
	// outputs covers the requested amount plus fee.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrUnknownDestination is returned when a draft output names no
	// resolvable destination.
	ErrUnknownDestination = errors.New("engine: unknown destination")

	// ErrDraftNotPending is returned when an operation requires an open
	// draft but the draft already completed, expired, or was canceled.
	ErrDraftNotPending = errors.New("engine: draft is not pending")

	// ErrNoOutputs is returned when a draft requests no payments.
	ErrNoOutputs = errors.New("engine: draft has no outputs")

	// ErrNilParam is returned when a required argument is nil.
	ErrNilParam = errors.New("engine: nil parameter")
)

// InsufficientFundsError carries the shortfall between what a draft
// needs and what the identity can spend.
type InsufficientFundsError struct {
	Needed    uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("engine: insufficient funds: need %d satoshis, have %d (short %d)",
		e.Needed, e.Available, e.Shortfall())
}

// Shortfall returns how many satoshis are missing.
func (e *InsufficientFundsError) Shortfall() uint64 {
	if e.Available >= e.Needed {
		return 0
	}
	return e.Needed - e.Available
}

// Unwrap lets callers match with errors.Is(err, ErrInsufficientFunds).
func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
