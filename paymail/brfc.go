package paymail

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeBRFCID computes a BRFC capability ID: the double-SHA256 of
// title + author + version, truncated to 6 bytes of hex.
func ComputeBRFCID(title, author, version string) string {
	data := []byte(title + author + version)
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return hex.EncodeToString(second[:6])
}

// Capability IDs consumed during destination resolution, as advertised
// in a server's .well-known/bsvalias document.
const (
	// CapPKI is the public key infrastructure capability.
	CapPKI = "pki"

	// CapP2PDestination is the P2P payment destination capability.
	CapP2PDestination = "2a40af698840"

	// CapP2PTransactions is the P2P raw transaction delivery capability.
	CapP2PTransactions = "5f1323cddf31"
)
