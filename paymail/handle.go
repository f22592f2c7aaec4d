// Package paymail implements the destination-resolution collaborator: it
// turns a human-readable alias@domain handle into locking-script outputs
// plus an opaque reference via capability discovery and the P2P payment
// destination protocol. The transaction engine treats it as a black box.
package paymail

import (
	"fmt"
	"strings"
)

// Handle is a parsed alias@domain paymail handle.
type Handle struct {
	Alias  string
	Domain string
}

// ParseHandle splits and normalizes an alias@domain handle.
func ParseHandle(s string) (Handle, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	at := strings.Index(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	h := Handle{Alias: trimmed[:at], Domain: trimmed[at+1:]}
	if strings.Contains(h.Domain, "@") || !strings.Contains(h.Domain, ".") {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return h, nil
}

// String returns the alias@domain form.
func (h Handle) String() string { return h.Alias + "@" + h.Domain }

// IsHandle reports whether s parses as a paymail handle. The engine uses
// this to distinguish handle destinations from addresses and raw scripts.
func IsHandle(s string) bool {
	_, err := ParseHandle(s)
	return err == nil
}
