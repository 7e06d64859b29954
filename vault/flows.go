// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/veilfi/veilvault/coproc"
	"github.com/veilfi/veilvault/pool"
)

// beginFlow runs the common preamble: pause gate, custody resolution,
// lock acquisition. The returned release must run on every exit path.
func (v *Vault) beginFlow(owner common.Address) (*Custody, func(), error) {
	if err := v.control.RequireNotPaused(); err != nil {
		return nil, nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	c, err := v.custody(owner)
	if err != nil {
		return nil, nil, err
	}
	if err := c.acquire(); err != nil {
		return nil, nil, err
	}
	release := func() {
		v.mu.Lock()
		c.release()
		v.mu.Unlock()
	}
	return c, release, nil
}

// slippageBps resolves a per-call override against the global default.
func (v *Vault) slippageBps(override *uint16) (uint16, error) {
	if override == nil {
		return v.control.SlippageBps(), nil
	}
	if *override > MaxSlippageBps {
		return 0, ErrInvalidSlippage
	}
	return *override, nil
}

// CreatePosition opens a position receipt at [tickLower, tickUpper),
// deposits liquidity with slippage-widened bounds, and records the two
// deposit legs as fresh coprocessor handles in a new ledger entry.
func (v *Vault) CreatePosition(caller common.Address, poolID common.Hash, payloadA, payloadB []byte, tag uint8, tickLower, tickUpper int32, liquidity *big.Int, maxA, maxB uint64, slippageOverride *uint16) (common.Hash, error) {
	if err := v.control.RequireNotPaused(); err != nil {
		return common.Hash{}, err
	}
	if err := v.control.ValidateLiquidity(liquidity); err != nil {
		return common.Hash{}, err
	}
	if tickLower >= tickUpper {
		return common.Hash{}, ErrInvalidTickRange
	}

	c, release, err := v.beginFlow(caller)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	v.mu.Lock()
	if prev, ok := c.ledgers[poolID]; ok && !prev.Retired {
		v.mu.Unlock()
		return common.Hash{}, ErrPositionExists
	}
	v.mu.Unlock()

	bps, err := v.slippageBps(slippageOverride)
	if err != nil {
		return common.Hash{}, err
	}
	boundA, err := applySlippage(maxA, bps)
	if err != nil {
		return common.Hash{}, err
	}
	boundB, err := applySlippage(maxB, bps)
	if err != nil {
		return common.Hash{}, err
	}

	handleA, err := v.enc.NewHandle(payloadA, tag)
	if err != nil {
		return common.Hash{}, fmt.Errorf("deposit handle A: %w", err)
	}
	handleB, err := v.enc.NewHandle(payloadB, tag)
	if err != nil {
		return common.Hash{}, fmt.Errorf("deposit handle B: %w", err)
	}

	receipt, err := v.engine.OpenPosition(poolID, caller, tickLower, tickUpper)
	if err != nil {
		return common.Hash{}, engineErr("open position", err)
	}
	if err := v.engine.IncreaseLiquidity(receipt, caller, liquidity, boundA, boundB); err != nil {
		// the receipt carries no liquidity yet, retire it so the engine
		// does not accumulate orphans
		_ = v.engine.ClosePosition(receipt)
		return common.Hash{}, engineErr("deposit liquidity", err)
	}

	now := v.now()
	ledger := &PositionLedger{
		User:        caller,
		Pool:        poolID,
		Receipt:     receipt,
		TickLower:   tickLower,
		TickUpper:   tickUpper,
		DepositA:    handleA,
		DepositB:    handleB,
		DepositTime: now,
		LastUpdate:  now,
	}

	v.mu.Lock()
	c.ledgers[poolID] = ledger
	c.incrementPositions()
	v.mu.Unlock()

	v.log.Info("position created",
		"user", caller, "pool", poolID, "receipt", receipt,
		"tickLower", tickLower, "tickUpper", tickUpper)
	v.events.Emit(PositionCreatedEvent{
		User:      caller,
		Pool:      poolID,
		Receipt:   receipt,
		TickLower: tickLower,
		TickUpper: tickUpper,
		DepositA:  handleA,
		DepositB:  handleB,
		Timestamp: now,
	})
	return receipt, nil
}

// CollectProfits harvests fees on both legs and every configured reward
// slot, then folds each delta-measured amount into the matching encrypted
// accumulator.
func (v *Vault) CollectProfits(caller common.Address, poolID common.Hash) error {
	c, release, err := v.beginFlow(caller)
	if err != nil {
		return err
	}
	defer release()

	v.mu.Lock()
	l, err := v.ledger(c, poolID)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	receipt := l.Receipt
	profitA, profitB, rewards := l.ProfitA, l.ProfitB, l.Rewards
	v.mu.Unlock()

	deltaA, deltaB, err := v.harvestFees(receipt, poolID, caller)
	if err != nil {
		return err
	}
	profitA, err = v.foldAmount(profitA, deltaA)
	if err != nil {
		return err
	}
	profitB, err = v.foldAmount(profitB, deltaB)
	if err != nil {
		return err
	}

	for i := uint8(0); i < rewardSlots; i++ {
		delta, err := v.harvestReward(receipt, poolID, i, caller)
		if err != nil {
			return err
		}
		rewards[i], err = v.foldAmount(rewards[i], delta)
		if err != nil {
			return err
		}
	}

	now := v.now()
	v.mu.Lock()
	l.ProfitA, l.ProfitB, l.Rewards = profitA, profitB, rewards
	l.LastUpdate = now
	v.mu.Unlock()

	v.log.Info("profits collected", "user", caller, "pool", poolID, "receipt", receipt)
	v.events.Emit(ProfitsCollectedEvent{
		User:      caller,
		Pool:      poolID,
		Receipt:   receipt,
		ProfitA:   profitA,
		ProfitB:   profitB,
		Rewards:   rewards,
		Timestamp: now,
	})
	return nil
}

// WithdrawPosition removes liquidity with minimum-out bounds, after an
// implicit fee harvest so nothing owed is stranded on exit. With the
// close flag it also retires the receipt.
func (v *Vault) WithdrawPosition(caller common.Address, poolID common.Hash, liquidity *big.Int, minA, minB uint64, closePosition bool) error {
	if err := v.control.RequireNotPaused(); err != nil {
		return err
	}
	if err := v.control.ValidateLiquidity(liquidity); err != nil {
		return err
	}

	c, release, err := v.beginFlow(caller)
	if err != nil {
		return err
	}
	defer release()

	v.mu.Lock()
	l, err := v.ledger(c, poolID)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	receipt := l.Receipt
	profitA, profitB := l.ProfitA, l.ProfitB
	v.mu.Unlock()

	// A close must drain the position exactly. Checking up front keeps a
	// doomed request from harvesting fees only to throw the folds away
	// when the close is refused.
	if closePosition {
		remaining, err := v.engine.PositionLiquidity(receipt)
		if err != nil {
			return engineErr("position liquidity", err)
		}
		if remaining.Cmp(liquidity) != 0 {
			return pool.ErrLiquidityRemaining
		}
	}

	// fees first, so they are accounted before the principal leaves
	deltaA, deltaB, err := v.harvestFees(receipt, poolID, caller)
	if err != nil {
		return err
	}
	profitA, err = v.foldAmount(profitA, deltaA)
	if err != nil {
		return err
	}
	profitB, err = v.foldAmount(profitB, deltaB)
	if err != nil {
		return err
	}

	tokA, tokB, err := v.engine.PoolTokens(poolID)
	if err != nil {
		return engineErr("pool tokens", err)
	}
	preA := v.engine.Balance(caller, tokA)
	preB := v.engine.Balance(caller, tokB)
	if err := v.engine.DecreaseLiquidity(receipt, caller, liquidity, minA, minB); err != nil {
		return engineErr("remove liquidity", err)
	}
	outA := v.engine.Balance(caller, tokA) - preA
	outB := v.engine.Balance(caller, tokB) - preB

	if closePosition {
		if err := v.engine.ClosePosition(receipt); err != nil {
			return engineErr("close position", err)
		}
	}

	now := v.now()
	v.mu.Lock()
	l.ProfitA, l.ProfitB = profitA, profitB
	l.LastUpdate = now
	if closePosition {
		l.Retired = true
		c.decrementPositions()
	}
	v.mu.Unlock()

	v.log.Info("position withdrawn",
		"user", caller, "pool", poolID, "receipt", receipt, "closed", closePosition)
	v.events.Emit(PositionWithdrawnEvent{
		User:      caller,
		Pool:      poolID,
		Receipt:   receipt,
		AmountA:   outA,
		AmountB:   outB,
		Closed:    closePosition,
		Timestamp: now,
	})
	return nil
}

// RebalancePosition moves a position to a new tick range: harvest
// everything owed, pull all liquidity into a holding account, retire the
// old receipt, open the new one, and re-deposit the full recovered
// balances. The ledger keeps the old receipt and ticks until the new
// receipt is confirmed open, and once principal sits in the holding
// account every exit path returns the remainder to the caller, so a
// failure partway never strands funds or leaves the user without a proof
// object on the ledger.
func (v *Vault) RebalancePosition(caller common.Address, poolID common.Hash, newTickLower, newTickUpper int32, slippageOverride *uint16) error {
	if err := v.control.RequireNotPaused(); err != nil {
		return err
	}
	// The new range must be fully valid before the old receipt is
	// touched; the engine would reject it only after the old position
	// had already been destroyed.
	if newTickLower >= newTickUpper {
		return ErrInvalidTickRange
	}
	if newTickLower < pool.MinTick || newTickUpper > pool.MaxTick {
		return pool.ErrTickOutOfRange
	}

	c, release, err := v.beginFlow(caller)
	if err != nil {
		return err
	}
	defer release()

	v.mu.Lock()
	l, err := v.ledger(c, poolID)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	oldReceipt := l.Receipt
	profitA, profitB, rewards := l.ProfitA, l.ProfitB, l.Rewards
	v.mu.Unlock()

	if _, err := v.slippageBps(slippageOverride); err != nil {
		return err
	}

	// full harvest before the receipt goes away
	deltaA, deltaB, err := v.harvestFees(oldReceipt, poolID, caller)
	if err != nil {
		return err
	}
	profitA, err = v.foldAmount(profitA, deltaA)
	if err != nil {
		return err
	}
	profitB, err = v.foldAmount(profitB, deltaB)
	if err != nil {
		return err
	}
	for i := uint8(0); i < rewardSlots; i++ {
		delta, err := v.harvestReward(oldReceipt, poolID, i, caller)
		if err != nil {
			return err
		}
		rewards[i], err = v.foldAmount(rewards[i], delta)
		if err != nil {
			return err
		}
	}

	liquidity, err := v.engine.PositionLiquidity(oldReceipt)
	if err != nil {
		return engineErr("position liquidity", err)
	}

	tokA, tokB, err := v.engine.PoolTokens(poolID)
	if err != nil {
		return engineErr("pool tokens", err)
	}
	hold := pool.DeriveAccount(caller, poolID, "rebalance-hold")

	var recoveredA, recoveredB uint64
	if liquidity.Sign() > 0 {
		preA := v.engine.Balance(hold, tokA)
		preB := v.engine.Balance(hold, tokB)
		if err := v.engine.DecreaseLiquidity(oldReceipt, hold, liquidity, 0, 0); err != nil {
			return engineErr("remove liquidity", err)
		}
		recoveredA = v.engine.Balance(hold, tokA) - preA
		recoveredB = v.engine.Balance(hold, tokB) - preB

		// From here on the principal sits in the holding account.
		// Whatever remains there when the flow exits goes back to the
		// caller: nothing on success, the full recovered balances if a
		// later step aborts the flow.
		defer func() {
			if rem := v.engine.Balance(hold, tokA); rem > 0 {
				_ = v.engine.Transfer(hold, caller, tokA, rem)
			}
			if rem := v.engine.Balance(hold, tokB); rem > 0 {
				_ = v.engine.Transfer(hold, caller, tokB, rem)
			}
		}()
	}
	if err := v.engine.ClosePosition(oldReceipt); err != nil {
		return engineErr("close position", err)
	}

	newReceipt, err := v.engine.OpenPosition(poolID, caller, newTickLower, newTickUpper)
	if err != nil {
		return engineErr("open position", err)
	}

	if liquidity.Sign() > 0 {
		if err := v.engine.IncreaseLiquidity(newReceipt, hold, liquidity, recoveredA, recoveredB); err != nil {
			_ = v.engine.ClosePosition(newReceipt)
			return engineErr("re-deposit liquidity", err)
		}
	}

	now := v.now()
	v.mu.Lock()
	l.Receipt = newReceipt
	l.TickLower = newTickLower
	l.TickUpper = newTickUpper
	l.ProfitA, l.ProfitB, l.Rewards = profitA, profitB, rewards
	l.incrementRebalances()
	l.LastUpdate = now
	count := l.RebalanceCount
	v.mu.Unlock()

	v.log.Info("position rebalanced",
		"user", caller, "pool", poolID,
		"oldReceipt", oldReceipt, "newReceipt", newReceipt,
		"tickLower", newTickLower, "tickUpper", newTickUpper)
	v.events.Emit(PositionRebalancedEvent{
		User:           caller,
		Pool:           poolID,
		OldReceipt:     oldReceipt,
		NewReceipt:     newReceipt,
		TickLower:      newTickLower,
		TickUpper:      newTickUpper,
		RebalanceCount: count,
		Timestamp:      now,
	})
	return nil
}

// harvestFees collects both legs' fees into the destination account and
// returns the delta-measured amounts. The engine's own accounting is
// never trusted for the harvested size.
func (v *Vault) harvestFees(receipt, poolID common.Hash, dest common.Address) (uint64, uint64, error) {
	tokA, tokB, err := v.engine.PoolTokens(poolID)
	if err != nil {
		return 0, 0, engineErr("pool tokens", err)
	}
	preA := v.engine.Balance(dest, tokA)
	preB := v.engine.Balance(dest, tokB)
	if err := v.engine.CollectFees(receipt, dest, dest); err != nil {
		return 0, 0, engineErr("collect fees", err)
	}
	return v.engine.Balance(dest, tokA) - preA, v.engine.Balance(dest, tokB) - preB, nil
}

// harvestReward collects one reward slot into the destination account and
// returns the delta-measured amount. Slots with no reward mint configured
// harvest as zero.
func (v *Vault) harvestReward(receipt, poolID common.Hash, index uint8, dest common.Address) (uint64, error) {
	tok, err := v.engine.RewardToken(poolID, index)
	if err != nil {
		return 0, engineErr("reward token", err)
	}
	if tok == (pool.Currency{}) {
		return 0, nil
	}
	pre := v.engine.Balance(dest, tok)
	if err := v.engine.CollectReward(receipt, index, dest); err != nil {
		return 0, engineErr("collect reward", err)
	}
	return v.engine.Balance(dest, tok) - pre, nil
}

// foldAmount mints a handle for a harvested amount and folds it into the
// accumulator. Zero amounts leave the accumulator untouched, no handle is
// spent on them.
func (v *Vault) foldAmount(acc coproc.Handle, amount uint64) (coproc.Handle, error) {
	if amount == 0 {
		return acc, nil
	}
	h, err := v.enc.NewHandle(coproc.Uint64Payload(amount), coproc.TagCleartext)
	if err != nil {
		return acc, fmt.Errorf("mint handle: %w", err)
	}
	folded, err := v.enc.Add(acc, h)
	if err != nil {
		return acc, fmt.Errorf("fold handle: %w", err)
	}
	return folded, nil
}

// engineErr tags a pool-engine failure with ErrExternalCall while keeping
// the engine's reason in the chain for errors.Is.
func engineErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrExternalCall, err))
}
