// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/veilfi/veilvault/coproc"
	"github.com/veilfi/veilvault/pool"
)

func validConfig() Config {
	return Config{
		Admin:          adminAddr,
		CovalidatorKey: common.HexToHash("0x11"),
	}
}

func TestConfigVerify(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing admin", func(c *Config) { c.Admin = common.Address{} }, false},
		{"missing covalidator", func(c *Config) { c.CovalidatorKey = common.Hash{} }, false},
		{"slippage at ceiling", func(c *Config) { c.MaxSlippageBps = 10_000 }, true},
		{"slippage above ceiling", func(c *Config) { c.MaxSlippageBps = 10_001 }, false},
		{"max below default min", func(c *Config) { c.MaxLiquidity = 500 }, false},
		{"explicit bounds", func(c *Config) { c.MinLiquidity = 10; c.MaxLiquidity = 20 }, true},
		{"inverted bounds", func(c *Config) { c.MinLiquidity = 20; c.MaxLiquidity = 10 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Verify()
			if tt.ok && err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("Verify accepted a bad config")
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	raw := []byte(`{
		"admin": "0x00000000000000000000000000000000000000ad",
		"covalidatorKey": "0x1100000000000000000000000000000000000000000000000000000000000000",
		"minLiquidity": 2000,
		"maxLiquidity": 4000,
		"maxSlippageBps": 50
	}`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Admin != adminAddr {
		t.Errorf("admin = %s, want %s", cfg.Admin, adminAddr)
	}
	if cfg.MinLiquidity != 2000 || cfg.MaxLiquidity != 4000 || cfg.MaxSlippageBps != 50 {
		t.Errorf("bounds not parsed: %+v", cfg)
	}

	if !cfg.Equal(cfg) {
		t.Error("config not equal to itself")
	}
	other := *cfg
	other.MaxSlippageBps = 51
	if cfg.Equal(&other) {
		t.Error("distinct configs reported equal")
	}

	if _, err := ParseConfig([]byte(`{"admin":"0x00"`)); err == nil {
		t.Error("malformed json accepted")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := validConfig()
	cfg.MinLiquidity = 2_000
	cfg.MaxLiquidity = 4_000

	m := pool.NewManager()
	client := coproc.NewClient(coproc.NewPlainService(), coproc.PlainProgram)
	v, err := NewFromConfig(&cfg, &stubEngine{Manager: m}, client, log.NewTestLogger(log.InfoLevel))
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	if got := v.Control().Admin(); got != adminAddr {
		t.Errorf("admin = %s, want %s", got, adminAddr)
	}
	if err := v.Control().ValidateLiquidity(big.NewInt(1_500)); !errors.Is(err, ErrLiquidityTooLow) {
		t.Errorf("configured min not applied: %v", err)
	}
	if err := v.Control().ValidateLiquidity(big.NewInt(5_000)); !errors.Is(err, ErrLiquidityTooHigh) {
		t.Errorf("configured max not applied: %v", err)
	}

	bad := validConfig()
	bad.Admin = common.Address{}
	if _, err := NewFromConfig(&bad, &stubEngine{Manager: m}, client, log.NewTestLogger(log.InfoLevel)); err == nil {
		t.Error("bad config accepted")
	}
}
