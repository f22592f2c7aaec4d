package datastore

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("datastore: not found")

	// ErrUtxoConflict indicates a double reservation or double spend
	// attempt on an unspent output.
	ErrUtxoConflict = errors.New("datastore: utxo conflict")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("datastore: required parameter is nil")
)
