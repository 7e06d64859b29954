// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Default protocol bounds applied at initialization.
const (
	DefaultMinLiquidity   uint64 = 1_000
	DefaultMaxLiquidity   uint64 = 1_000_000_000_000_000
	DefaultMaxSlippageBps uint16 = 100

	// MaxSlippageBps is the config ceiling, 100%.
	MaxSlippageBps uint16 = 10_000
)

// Control is the global gate every fund-moving flow consults: admin
// identity with two-step rotation, the pause flag, and protocol-wide
// numeric bounds.
type Control struct {
	mu sync.Mutex

	admin        common.Address
	pendingAdmin common.Address
	paused       bool
	pauseTime    int64

	maxSlippageBps uint16
	minLiquidity   uint64
	maxLiquidity   uint64
}

// NewControl initializes global control with the default bounds.
func NewControl(admin common.Address) *Control {
	return &Control{
		admin:          admin,
		maxSlippageBps: DefaultMaxSlippageBps,
		minLiquidity:   DefaultMinLiquidity,
		maxLiquidity:   DefaultMaxLiquidity,
	}
}

// initialize claims global control for an admin. Valid once, on a
// control record built without one.
func (c *Control) initialize(admin common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.admin != (common.Address{}) {
		return ErrAlreadyInitialized
	}
	c.admin = admin
	return nil
}

// Admin returns the current admin principal.
func (c *Control) Admin() common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admin
}

// Paused reports the pause flag.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SlippageBps returns the default slippage bound in basis points.
func (c *Control) SlippageBps() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSlippageBps
}

// Pause sets the pause flag. Admin only.
func (c *Control) Pause(caller common.Address, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.admin {
		return ErrNotAdmin
	}
	c.paused = true
	c.pauseTime = now
	return nil
}

// Unpause clears the pause flag. Admin only.
func (c *Control) Unpause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.admin {
		return ErrNotAdmin
	}
	c.paused = false
	c.pauseTime = 0
	return nil
}

// ProposeAdmin records a rotation candidate. The proposal alone never
// changes authority.
func (c *Control) ProposeAdmin(caller, candidate common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.admin {
		return ErrNotAdmin
	}
	c.pendingAdmin = candidate
	return nil
}

// AcceptAdmin completes a rotation. Only the exact proposed principal may
// call it; on success the old admin loses all admin-gated capability.
func (c *Control) AcceptAdmin(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingAdmin == (common.Address{}) {
		return ErrNoPendingAdmin
	}
	if caller != c.pendingAdmin {
		return ErrNotPendingAdmin
	}
	c.admin = c.pendingAdmin
	c.pendingAdmin = common.Address{}
	return nil
}

// UpdateParams adjusts any subset of the numeric bounds. Admin only.
// When the update touches maxLiquidity, the max > min relation is
// re-checked against the post-update values.
func (c *Control) UpdateParams(caller common.Address, slippageBps *uint16, minLiquidity, maxLiquidity *uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.admin {
		return ErrNotAdmin
	}
	if slippageBps != nil && *slippageBps > MaxSlippageBps {
		return ErrInvalidSlippage
	}

	newMin := c.minLiquidity
	newMax := c.maxLiquidity
	if minLiquidity != nil {
		newMin = *minLiquidity
	}
	if maxLiquidity != nil {
		newMax = *maxLiquidity
		if newMax <= newMin {
			return ErrInvalidBounds
		}
	}

	if slippageBps != nil {
		c.maxSlippageBps = *slippageBps
	}
	c.minLiquidity = newMin
	c.maxLiquidity = newMax
	return nil
}

// RequireNotPaused gates every fund-moving flow.
func (c *Control) RequireNotPaused() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return ErrVaultPaused
	}
	return nil
}

// ValidateLiquidity checks a liquidity amount against the configured
// window.
func (c *Control) ValidateLiquidity(amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if amount == nil || amount.Cmp(new(big.Int).SetUint64(c.minLiquidity)) < 0 {
		return ErrLiquidityTooLow
	}
	if amount.Cmp(new(big.Int).SetUint64(c.maxLiquidity)) > 0 {
		return ErrLiquidityTooHigh
	}
	return nil
}

// applySlippage widens an amount by bps basis points:
// amount * (10000 + bps) / 10000. A result that does not fit u64 is a
// fatal Overflow.
func applySlippage(amount uint64, bps uint16) (uint64, error) {
	p := new(uint256.Int).Mul(
		uint256.NewInt(amount),
		uint256.NewInt(uint64(MaxSlippageBps)+uint64(bps)),
	)
	p.Div(p, uint256.NewInt(uint64(MaxSlippageBps)))
	if !p.IsUint64() {
		return 0, ErrOverflow
	}
	return p.Uint64(), nil
}
