// Package datastore defines the storage port for the transaction engine
// and a bbolt-backed implementation. The port exposes per-entity CRUD
// plus two atomic operations: reserving candidate UTXOs for a draft and
// applying a record mutation.
package datastore

import "time"

// Store is the storage boundary consumed by the engine.
type Store interface {
	// PutXPub registers or updates an identity.
	PutXPub(x *XPub) error

	// GetXPub fetches an identity by id, ErrNotFound when absent.
	GetXPub(id string) (*XPub, error)

	// PutDestination stores a watched destination.
	PutDestination(d *Destination) error

	// GetDestination fetches a destination by id, ErrNotFound when absent.
	GetDestination(id string) (*Destination, error)

	// GetDestinationByScript fetches the destination owning a locking
	// script, ErrNotFound when absent.
	GetDestinationByScript(lockingScript []byte) (*Destination, error)

	// ListDestinations returns an identity's destinations.
	ListDestinations(xpubID string) ([]*Destination, error)

	// PutUTXO stores an output row.
	PutUTXO(u *UTXO) error

	// GetUTXO fetches an output by (txid, vout), ErrNotFound when absent.
	GetUTXO(txid string, vout uint32) (*UTXO, error)

	// ListUTXOs returns an identity's unspent outputs, reserved ones
	// included.
	ListUTXOs(xpubID string) ([]*UTXO, error)

	// ReserveUTXOs atomically marks the given outputs as held by draftID
	// until the expiry. It fails with ErrUtxoConflict, reserving
	// nothing, if any output is spent or held by another live draft.
	ReserveUTXOs(draftID string, until time.Time, utxoIDs []string) error

	// ReleaseUTXOs clears the reservation held by draftID.
	ReleaseUTXOs(draftID string) error

	// PutDraft stores a draft.
	PutDraft(d *Draft) error

	// GetDraft fetches a draft by id, ErrNotFound when absent.
	GetDraft(id string) (*Draft, error)

	// ListDraftsByStatus returns drafts in the given status.
	ListDraftsByStatus(status DraftStatus) ([]*Draft, error)

	// ApplyRecord atomically stores the transaction record, marks the
	// spent inputs, and creates the owned output rows. Re-applying a
	// known txid returns the existing record unchanged with no further
	// mutation. A spend of an output already consumed by a different
	// transaction fails with ErrUtxoConflict.
	ApplyRecord(m *RecordMutation) (*TransactionRecord, bool, error)

	// NextDestinationIndex atomically allocates the next derivation
	// index on the identity's external (or internal) branch. Concurrent
	// callers never observe the same index.
	NextDestinationIndex(xpubID string, internal bool) (uint32, error)

	// AdvanceTransactionState atomically moves a record to next when
	// next supersedes the stored state, applying mutate to the record
	// inside the same transaction. It returns the stored record and
	// whether the transition was taken; a stale projection returns the
	// untouched record and false.
	AdvanceTransactionState(txid string, next TxState, mutate func(*TransactionRecord)) (*TransactionRecord, bool, error)

	// PutTransaction updates a transaction record.
	PutTransaction(r *TransactionRecord) error

	// GetTransaction fetches a record by txid, ErrNotFound when absent.
	GetTransaction(txid string) (*TransactionRecord, error)

	// ListTransactionsByState returns records in the given state.
	ListTransactionsByState(state TxState) ([]*TransactionRecord, error)

	// Close releases the underlying database.
	Close() error
}
