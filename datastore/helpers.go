package datastore

import (
	"crypto/sha256"
	"encoding/hex"
)

// DestinationID derives the canonical id of a destination from its
// locking script.
func DestinationID(lockingScript []byte) string {
	sum := sha256.Sum256(lockingScript)
	return hex.EncodeToString(sum[:])
}
