// Copyright (c) 2026 The OpenSPV developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config holds the engine's configuration: a single explicit
// struct loaded once from a file and environment, validated at
// construction, and never mutated afterwards.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openspv/spv-engine-go/tx"
)

// ArcConfig configures the transaction broadcaster.
type ArcConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	CallbackURL   string        `mapstructure:"callback_url"`
	CallbackToken string        `mapstructure:"callback_token"`
	WaitFor       string        `mapstructure:"wait_for"`
	DeploymentID  string        `mapstructure:"deployment_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// BHSConfig configures the block-header service.
type BHSConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PaymailConfig configures outbound destination resolution.
type PaymailConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SenderName string `mapstructure:"sender_name"`
}

// EngineConfig tunes the lifecycle manager.
type EngineConfig struct {
	DraftExpiry          time.Duration `mapstructure:"draft_expiry"`
	SyncAfter            time.Duration `mapstructure:"sync_after"`
	BroadcastTimeout     time.Duration `mapstructure:"broadcast_timeout"`
	PolicyCacheTTL       time.Duration `mapstructure:"policy_cache_ttl"`
	ReleaseUtxosOnReject bool          `mapstructure:"release_utxos_on_reject"`
}

// Config is the full engine configuration.
type Config struct {
	Network  string `mapstructure:"network"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`

	DefaultFee tx.FeeUnit `mapstructure:"default_fee"`

	Arc     ArcConfig     `mapstructure:"arc"`
	BHS     BHSConfig     `mapstructure:"bhs"`
	Paymail PaymailConfig `mapstructure:"paymail"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

// DefaultConfig returns the configuration used when nothing overrides
// it.
func DefaultConfig() Config {
	return Config{
		Network:    "mainnet",
		LogLevel:   "info",
		DataDir:    "data",
		DefaultFee: tx.DefaultFeeUnit,
		Arc: ArcConfig{
			WaitFor: "SEEN_ON_NETWORK",
			Timeout: 30 * time.Second,
		},
		BHS: BHSConfig{
			Timeout: 30 * time.Second,
		},
		Paymail: PaymailConfig{
			Enabled:    true,
			SenderName: "spv-engine",
		},
		Engine: EngineConfig{
			DraftExpiry:      20 * time.Second,
			SyncAfter:        time.Minute,
			BroadcastTimeout: 30 * time.Second,
			PolicyCacheTTL:   5 * time.Minute,
		},
	}
}

// Testnet reports whether the configured network uses testnet address
// versions.
func (c Config) Testnet() bool {
	return c.Network == "testnet" || c.Network == "regtest"
}

// DatastorePath is the bolt database location under the data
// directory.
func (c Config) DatastorePath() string {
	return filepath.Join(c.DataDir, "engine.db")
}

// Load reads configuration from the optional file at path and from
// SPV_ENGINE_* environment variables, layered over the defaults, and
// validates the result. Nested keys map to environment variables with
// underscores, e.g. arc.url becomes SPV_ENGINE_ARC_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPV_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrConfigNotFound, path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so AutomaticEnv can see
// it; viper only consults the environment for keys it knows about.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("network", cfg.Network)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("default_fee.satoshis", cfg.DefaultFee.Satoshis)
	v.SetDefault("default_fee.bytes", cfg.DefaultFee.Bytes)
	v.SetDefault("arc.url", cfg.Arc.URL)
	v.SetDefault("arc.token", cfg.Arc.Token)
	v.SetDefault("arc.callback_url", cfg.Arc.CallbackURL)
	v.SetDefault("arc.callback_token", cfg.Arc.CallbackToken)
	v.SetDefault("arc.wait_for", cfg.Arc.WaitFor)
	v.SetDefault("arc.deployment_id", cfg.Arc.DeploymentID)
	v.SetDefault("arc.timeout", cfg.Arc.Timeout)
	v.SetDefault("bhs.url", cfg.BHS.URL)
	v.SetDefault("bhs.token", cfg.BHS.Token)
	v.SetDefault("bhs.timeout", cfg.BHS.Timeout)
	v.SetDefault("paymail.enabled", cfg.Paymail.Enabled)
	v.SetDefault("paymail.sender_name", cfg.Paymail.SenderName)
	v.SetDefault("engine.draft_expiry", cfg.Engine.DraftExpiry)
	v.SetDefault("engine.sync_after", cfg.Engine.SyncAfter)
	v.SetDefault("engine.broadcast_timeout", cfg.Engine.BroadcastTimeout)
	v.SetDefault("engine.policy_cache_ttl", cfg.Engine.PolicyCacheTTL)
	v.SetDefault("engine.release_utxos_on_reject", cfg.Engine.ReleaseUtxosOnReject)
}
