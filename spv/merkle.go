// Package spv implements compact Merkle path proofs over double-SHA256
// trees. A path carries a block height and, per tree level, the sibling
// hashes needed to fold a transaction hash up to the block's Merkle root.
package spv

import "crypto/sha256"

// DoubleHash computes SHA256(SHA256(data)).
func DoubleHash(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// combineHashes double-hashes left || right.
func combineHashes(left, right []byte) []byte {
	combined := make([]byte, 0, 64)
	combined = append(combined, left...)
	combined = append(combined, right...)
	return DoubleHash(combined)
}

// ReverseBytes returns a reversed copy of b. Transaction and block hashes
// travel the wire in internal byte order but are displayed reversed.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
