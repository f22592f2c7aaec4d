package datastore

import (
	"fmt"
	"time"
)

// TxState is the lifecycle state of a tracked transaction.
type TxState string

const (
	StateDraft         TxState = "draft"
	StateRecorded      TxState = "recorded"
	StateBroadcast     TxState = "broadcast"
	StateSeenOnNetwork TxState = "seen_on_network"
	StateMined         TxState = "mined"
	StateRejected      TxState = "rejected"
	StateExpired       TxState = "expired"
)

// stateRank orders forward progress; terminal rejection states sit above
// everything so they are always accepted.
var stateRank = map[TxState]int{
	StateDraft:         0,
	StateRecorded:      1,
	StateBroadcast:     2,
	StateSeenOnNetwork: 3,
	StateMined:         4,
	StateRejected:      100,
	StateExpired:       100,
}

// Supersedes reports whether moving to s from prev represents forward
// progress in the lifecycle ordering. Terminal states never move.
func (s TxState) Supersedes(prev TxState) bool {
	if prev.Terminal() {
		return false
	}
	return stateRank[s] > stateRank[prev]
}

// Terminal reports whether the state admits no further transitions.
func (s TxState) Terminal() bool {
	return s == StateRejected || s == StateExpired
}

// XPub is a registered identity keyed by the hash of its extended
// public key. The derivation counters allocate fresh addresses.
type XPub struct {
	ID           string
	NextExternal uint32
	NextInternal uint32
	CreatedAt    time.Time
}

// Destination is a derived or resolved locking script owned by an
// identity, watched for incoming outputs.
type Destination struct {
	ID            string // hex of the locking script hash
	XPubID        string
	LockingScript []byte
	Address       string
	Branch        uint32
	Index         uint32
	Reference     string // paymail reference, when resolved externally
	CreatedAt     time.Time
}

// UTXO is a spendable output. At most one unspent record exists per
// (txid, vout); a UTXO referenced by an open draft is reserved and
// excluded from selection until the draft completes or expires.
type UTXO struct {
	TxID               string // display-order hex
	Vout               uint32
	Satoshis           uint64
	LockingScript      []byte
	XPubID             string
	DestinationID      string
	Bucket             int
	EstimatedInputSize uint64

	SpendingTxID  string
	DraftID       string
	ReservedUntil time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UTXOID builds the canonical "txid:vout" identifier.
func UTXOID(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// ID returns the canonical identifier.
func (u *UTXO) ID() string { return UTXOID(u.TxID, u.Vout) }

// Spent reports whether the output is consumed by a recorded spend.
func (u *UTXO) Spent() bool { return u.SpendingTxID != "" }

// Reserved reports whether the output is held by an open draft at now.
func (u *UTXO) Reserved(now time.Time) bool {
	return u.DraftID != "" && now.Before(u.ReservedUntil)
}

// Spendable reports whether selection may consider the output.
func (u *UTXO) Spendable(now time.Time) bool {
	return !u.Spent() && !u.Reserved(now)
}

// BucketFor classifies an amount into a satoshi size bucket: the number
// of decimal orders of magnitude above 1000 sat, capped at 4. Selection
// groups candidates by bucket so small payments do not consume large
// outputs.
func BucketFor(satoshis uint64) int {
	bucket := 0
	for threshold := uint64(1000); satoshis > threshold && bucket < 4; threshold *= 10 {
		bucket++
	}
	return bucket
}

// DraftStatus tracks an unsigned draft template.
type DraftStatus string

const (
	DraftPending  DraftStatus = "pending"
	DraftCanceled DraftStatus = "canceled"
	DraftExpired  DraftStatus = "expired"
	DraftComplete DraftStatus = "complete"
)

// DraftOutput is one requested payment in a draft: exactly one of
// Script, Address, or Handle identifies the destination.
type DraftOutput struct {
	Script   []byte
	Address  string
	Handle   string
	Satoshis uint64

	// Resolved during draft creation.
	LockingScripts [][]byte
	Reference      string
}

// Draft is an open transaction outline holding UTXO reservations until
// it is recorded, canceled, or expires.
type Draft struct {
	ID          string
	XPubID      string
	Status      DraftStatus
	Outputs     []DraftOutput
	ReservedIDs []string // reserved UTXO ids
	TemplateHex string   // unsigned template, raw format
	Fee         uint64
	Change      uint64
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// TransactionRecord tracks a recorded transaction through the lifecycle.
type TransactionRecord struct {
	TxID        string
	XPubID      string
	Hex         string
	State       TxState
	DraftID     string
	Fee         uint64
	BlockHash   string
	BlockHeight uint64
	MerklePath  string // compact path hex, set when mined
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecordMutation is the atomic unit applied when a signed transaction is
// recorded: store the record, mark the inputs spent, create the owned
// output rows. Idempotent on the record's txid.
type RecordMutation struct {
	Record      *TransactionRecord
	SpendIDs    []string
	CreateUTXOs []*UTXO
}
