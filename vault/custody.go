// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math"

	"github.com/luxfi/geth/common"
	"github.com/veilfi/veilvault/coproc"
)

// Custody is the per-user execution record. Its lock serializes every
// fund-moving flow for one user: a flow that finds the lock held fails
// with ErrVaultLocked immediately, it never waits.
type Custody struct {
	Owner         common.Address
	PositionCount uint32

	locked  bool
	ledgers map[common.Hash]*PositionLedger // by pool id
}

func newCustody(owner common.Address) *Custody {
	return &Custody{
		Owner:   owner,
		ledgers: make(map[common.Hash]*PositionLedger),
	}
}

// acquire takes the custody lock or fails fast.
func (c *Custody) acquire() error {
	if c.locked {
		return ErrVaultLocked
	}
	c.locked = true
	return nil
}

// release clears the lock unconditionally.
func (c *Custody) release() {
	c.locked = false
}

func (c *Custody) incrementPositions() {
	if c.PositionCount < math.MaxUint32 {
		c.PositionCount++
	}
}

func (c *Custody) decrementPositions() {
	if c.PositionCount > 0 {
		c.PositionCount--
	}
}

// PositionLedger is the vault-side record of one open position. All
// amount fields are coprocessor handles; the vault never stores a
// plaintext balance, and any change to one of these fields goes through
// coproc.Client, never local integer math.
type PositionLedger struct {
	User      common.Address
	Pool      common.Hash
	Receipt   common.Hash
	TickLower int32
	TickUpper int32

	DepositA coproc.Handle
	DepositB coproc.Handle

	ProfitA coproc.Handle
	ProfitB coproc.Handle
	Rewards [rewardSlots]coproc.Handle

	DepositTime    int64
	LastUpdate     int64
	RebalanceCount uint32
	Retired        bool
}

func (l *PositionLedger) incrementRebalances() {
	if l.RebalanceCount < math.MaxUint32 {
		l.RebalanceCount++
	}
}
