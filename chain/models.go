package chain

import (
	"time"

	"github.com/openspv/spv-engine-go/tx"
)

// TxStatus is a broadcaster-reported transaction status.
type TxStatus string

const (
	StatusQueued            TxStatus = "QUEUED"
	StatusReceived          TxStatus = "RECEIVED"
	StatusStored            TxStatus = "STORED"
	StatusAnnounced         TxStatus = "ANNOUNCED_TO_NETWORK"
	StatusRequestedByNet    TxStatus = "REQUESTED_BY_NETWORK"
	StatusSentToNetwork     TxStatus = "SENT_TO_NETWORK"
	StatusAcceptedByNetwork TxStatus = "ACCEPTED_BY_NETWORK"
	StatusSeenOnNetwork     TxStatus = "SEEN_ON_NETWORK"
	StatusMined             TxStatus = "MINED"
	StatusConfirmed         TxStatus = "CONFIRMED"
	StatusRejected          TxStatus = "REJECTED"
)

// TXInfo is the broadcaster's projection of a transaction, returned on
// submission and status queries and posted back on callbacks.
type TXInfo struct {
	TxID         string    `json:"txid"`
	TxStatus     TxStatus  `json:"txStatus"`
	BlockHash    string    `json:"blockHash,omitempty"`
	BlockHeight  uint64    `json:"blockHeight,omitempty"`
	MerklePath   string    `json:"merklePath,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
	CompetingTxs []string  `json:"competingTxs,omitempty"`
	ExtraInfo    string    `json:"extraInfo,omitempty"`
}

// Policy is the broadcaster's fee and acceptance policy.
type Policy struct {
	MaxScriptSizePolicy uint64     `json:"maxscriptsizepolicy"`
	MaxTxSizePolicy     uint64     `json:"maxtxsizepolicy"`
	MiningFee           tx.FeeUnit `json:"miningFee"`
}

// PolicyResponse wraps Policy on the wire.
type PolicyResponse struct {
	Policy    Policy    `json:"policy"`
	Timestamp time.Time `json:"timestamp"`
}

// MerkleRootConfirmationState is the header service's verdict on one
// (root, height) pair.
type MerkleRootConfirmationState string

const (
	ConfirmationConfirmed MerkleRootConfirmationState = "CONFIRMED"
	ConfirmationInvalid   MerkleRootConfirmationState = "INVALID"
	ConfirmationUnable    MerkleRootConfirmationState = "UNABLE_TO_VERIFY"
)

// MerkleRootRequest asks the header service to confirm one root.
type MerkleRootRequest struct {
	MerkleRoot  string `json:"merkleRoot"`
	BlockHeight uint64 `json:"blockHeight"`
}

// MerkleRootConfirmation is the per-root portion of a verification
// response.
type MerkleRootConfirmation struct {
	Hash         string                      `json:"blockHash"`
	BlockHeight  uint64                      `json:"blockHeight"`
	MerkleRoot   string                      `json:"merkleRoot"`
	Confirmation MerkleRootConfirmationState `json:"confirmation"`
}

// MerkleRootsConfirmations is the header service's batched verdict.
type MerkleRootsConfirmations struct {
	ConfirmationState MerkleRootConfirmationState `json:"confirmationState"`
	Confirmations     []MerkleRootConfirmation    `json:"confirmations"`
}

// MerkleRootsPage is one page of the header service's root listing.
type MerkleRootsPage struct {
	Content []MerkleRoot `json:"content"`
	Page    PageInfo     `json:"page"`
}

// MerkleRoot pairs a root with its block height.
type MerkleRoot struct {
	MerkleRoot  string `json:"merkleRoot"`
	BlockHeight uint64 `json:"blockHeight"`
}

// PageInfo carries the paging cursor of a root listing.
type PageInfo struct {
	TotalElements  int64 `json:"totalElements"`
	Size           int   `json:"size"`
	LastEvaluatedK int64 `json:"lastEvaluatedKey"`
}
