package paymail

import "errors"

var (
	// ErrInvalidHandle indicates the handle is not of the alias@domain form.
	ErrInvalidHandle = errors.New("paymail: invalid handle")

	// ErrDiscovery indicates .well-known/bsvalias capability discovery failed.
	ErrDiscovery = errors.New("paymail: capability discovery failed")

	// ErrUnknownDestination indicates the handle could not be resolved to
	// a payment destination.
	ErrUnknownDestination = errors.New("paymail: unknown destination")

	// ErrDNSLookupFailed indicates a DNS SRV lookup failed.
	ErrDNSLookupFailed = errors.New("paymail: DNS lookup failed")

	// ErrDNSSECValidationFailed indicates the upstream resolver did not
	// authenticate the DNS response.
	ErrDNSSECValidationFailed = errors.New("paymail: DNSSEC validation failed")

	// ErrInvalidResponse indicates a paymail server returned a payload
	// that cannot be used.
	ErrInvalidResponse = errors.New("paymail: invalid response")
)
