package paymail

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxResponseSize caps paymail server response bodies.
const MaxResponseSize = 1 << 20

// HTTPClient is the transport used for capability and destination
// requests, mockable in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Output is one payment output returned by a destination resolution.
type Output struct {
	LockingScript []byte
	Satoshis      uint64
}

// Destination is a resolved payment destination: locking-script outputs
// plus an opaque reference to quote back when delivering the transaction.
type Destination struct {
	Outputs   []Output
	Reference string
}

// Capabilities maps BRFC capability IDs to endpoint URL templates.
type Capabilities struct {
	BSVAlias     string
	Capabilities map[string]string
}

// Has reports whether the capability ID is advertised.
func (c *Capabilities) Has(id string) bool {
	_, ok := c.Capabilities[id]
	return ok
}

// URL returns the endpoint template for a capability ID with {alias} and
// {domain.tld} substituted.
func (c *Capabilities) URL(id string, h Handle) string {
	template, ok := c.Capabilities[id]
	if !ok {
		return ""
	}
	out := strings.ReplaceAll(template, "{alias}", url.PathEscape(h.Alias))
	return strings.ReplaceAll(out, "{domain.tld}", url.PathEscape(h.Domain))
}

// Client resolves paymail handles to payment destinations.
type Client struct {
	http       HTTPClient
	dns        DNSResolver
	senderName string
}

// NewClient creates a resolution client. Nil transport or resolver fall
// back to the production defaults; senderName is quoted in destination
// requests.
func NewClient(transport HTTPClient, resolver DNSResolver, senderName string) *Client {
	if transport == nil {
		transport = &http.Client{Timeout: 30 * time.Second}
	}
	if resolver == nil {
		resolver = DefaultDNSResolver
	}
	if senderName == "" {
		senderName = "spv-engine"
	}
	return &Client{http: transport, dns: resolver, senderName: senderName}
}

// DiscoverCapabilities fetches the .well-known/bsvalias document for a
// domain, discovering the capability host via SRV first.
func (c *Client) DiscoverCapabilities(ctx context.Context, domain string) (*Capabilities, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrDiscovery)
	}

	host := discoverHost(domain, c.dns)
	wellKnownURL := "https://" + strings.TrimSuffix(host, ":443") + "/.well-known/bsvalias"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrDiscovery, wellKnownURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s returned status %d", ErrDiscovery, wellKnownURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrDiscovery, err)
	}

	var wire struct {
		BSVAlias     string                 `json:"bsvalias"`
		Capabilities map[string]interface{} `json:"capabilities"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing capabilities: %w", ErrDiscovery, err)
	}

	caps := &Capabilities{BSVAlias: wire.BSVAlias, Capabilities: make(map[string]string)}
	for id, v := range wire.Capabilities {
		if s, ok := v.(string); ok {
			caps.Capabilities[id] = s
		}
	}
	return caps, nil
}

// ResolveDestination resolves a handle into payment outputs for the
// given amount using the P2P payment destination capability. The
// returned reference identifies the payment to the receiving server.
func (c *Client) ResolveDestination(ctx context.Context, handle string, satoshis uint64) (*Destination, error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}

	caps, err := c.DiscoverCapabilities(ctx, h.Domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownDestination, handle, err)
	}
	destURL := caps.URL(CapP2PDestination, h)
	if destURL == "" {
		return nil, fmt.Errorf("%w: %s advertises no payment destination capability", ErrUnknownDestination, h.Domain)
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"satoshis":   satoshis,
		"senderName": c.senderName,
	})
	if err != nil {
		return nil, fmt.Errorf("paymail: marshal destination request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownDestination, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %w", ErrUnknownDestination, destURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: POST %s returned status %d", ErrUnknownDestination, destURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrInvalidResponse, err)
	}

	var wire struct {
		Outputs []struct {
			Script   string `json:"script"`
			Satoshis uint64 `json:"satoshis"`
		} `json:"outputs"`
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing destination response: %w", ErrInvalidResponse, err)
	}
	if len(wire.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs in response", ErrInvalidResponse)
	}

	dest := &Destination{Reference: wire.Reference}
	for i, out := range wire.Outputs {
		lockingScript, err := hex.DecodeString(out.Script)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d script: %w", ErrInvalidResponse, i, err)
		}
		dest.Outputs = append(dest.Outputs, Output{LockingScript: lockingScript, Satoshis: out.Satoshis})
	}
	return dest, nil
}
