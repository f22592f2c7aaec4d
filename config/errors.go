// Copyright (c) 2026 The OpenSPV developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", or \"regtest\")")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrMissingArcURL indicates no broadcaster endpoint is configured.
	ErrMissingArcURL = errors.New("config: arc url must not be empty")

	// ErrMissingBHSURL indicates no header-service endpoint is configured.
	ErrMissingBHSURL = errors.New("config: bhs url must not be empty")

	// ErrInvalidFee indicates a malformed fee rate.
	ErrInvalidFee = errors.New("config: default fee must have positive satoshis and bytes")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)
