// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/veilfi/veilvault/attest"
	"github.com/veilfi/veilvault/coproc"
)

// ConfigKey is the key used in json config files for the vault section.
const ConfigKey = "vaultConfig"

// Config is the deploy-time configuration of a vault.
type Config struct {
	Admin          common.Address `json:"admin"`
	CovalidatorKey common.Hash    `json:"covalidatorKey"`
	Coprocessor    common.Hash    `json:"coprocessor,omitempty"`
	MinLiquidity   uint64         `json:"minLiquidity,omitempty"`
	MaxLiquidity   uint64         `json:"maxLiquidity,omitempty"`
	MaxSlippageBps uint16         `json:"maxSlippageBps,omitempty"`
}

func (c *Config) Key() string {
	return ConfigKey
}

// Equal reports whether two configs describe the same deployment.
func (c *Config) Equal(other *Config) bool {
	if other == nil {
		return false
	}
	return *c == *other
}

// Verify checks the config for internal consistency before any vault is
// built from it.
func (c *Config) Verify() error {
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("%s: admin must be set", ConfigKey)
	}
	if c.CovalidatorKey == (common.Hash{}) {
		return fmt.Errorf("%s: covalidator key must be set", ConfigKey)
	}
	if c.MaxSlippageBps > MaxSlippageBps {
		return fmt.Errorf("%s: %w", ConfigKey, ErrInvalidSlippage)
	}
	if c.MaxLiquidity != 0 && c.MaxLiquidity <= c.minOrDefault() {
		return fmt.Errorf("%s: %w", ConfigKey, ErrInvalidBounds)
	}
	return nil
}

func (c *Config) minOrDefault() uint64 {
	if c.MinLiquidity != 0 {
		return c.MinLiquidity
	}
	return DefaultMinLiquidity
}

// ParseConfig reads a vault config from its JSON form and verifies it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := new(Config)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigKey, err)
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewFromConfig builds a vault from a verified config: the attestation
// verifier is pinned to the configured covalidator key and the numeric
// bounds override the defaults where set.
func NewFromConfig(cfg *Config, engine PoolEngine, enc *coproc.Client, logger log.Logger, opts ...Option) (*Vault, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}

	var key [32]byte
	copy(key[:], cfg.CovalidatorKey[:])
	v := New(cfg.Admin, engine, enc, attest.NewVerifier(key), logger, opts...)

	ctl := v.control
	ctl.mu.Lock()
	if cfg.MinLiquidity != 0 {
		ctl.minLiquidity = cfg.MinLiquidity
	}
	if cfg.MaxLiquidity != 0 {
		ctl.maxLiquidity = cfg.MaxLiquidity
	}
	if cfg.MaxSlippageBps != 0 {
		ctl.maxSlippageBps = cfg.MaxSlippageBps
	}
	ctl.mu.Unlock()
	return v, nil
}
