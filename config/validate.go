// Copyright (c) 2026 The OpenSPV developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return ErrEmptyDataDir
	}

	if c.Network != "mainnet" && c.Network != "testnet" && c.Network != "regtest" {
		return ErrInvalidNetwork
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if c.Arc.URL == "" {
		return ErrMissingArcURL
	}
	if err := validateURL(c.Arc.URL); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingArcURL, err)
	}

	if c.BHS.URL == "" {
		return ErrMissingBHSURL
	}
	if err := validateURL(c.BHS.URL); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingBHSURL, err)
	}

	if c.DefaultFee.Satoshis == 0 || c.DefaultFee.Bytes == 0 {
		return ErrInvalidFee
	}

	return nil
}

// validateURL checks that raw parses as an absolute http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
