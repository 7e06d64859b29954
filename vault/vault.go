// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault is the custodial position manager. It drives the pool
// engine and the encrypted compute coprocessor through four orchestration
// flows (create, collect, withdraw, rebalance), keeps a per-position
// ledger of encrypted accumulators, and verifies attested decryptions of
// those accumulators. The vault itself never holds a plaintext amount.
package vault

import (
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/veilfi/veilvault/attest"
	"github.com/veilfi/veilvault/coproc"
	"github.com/veilfi/veilvault/pool"
)

const rewardSlots = pool.RewardSlots

// PoolEngine is the concentrated-liquidity collaborator boundary. The
// vault treats it as untrusted for amounts: every harvested or withdrawn
// quantity is measured as a balance delta around the call, never taken
// from the engine's word.
type PoolEngine interface {
	OpenPosition(poolID common.Hash, owner common.Address, tickLower, tickUpper int32) (common.Hash, error)
	IncreaseLiquidity(receipt common.Hash, from common.Address, liquidity *big.Int, maxA, maxB uint64) error
	DecreaseLiquidity(receipt common.Hash, to common.Address, liquidity *big.Int, minA, minB uint64) error
	CollectFees(receipt common.Hash, toA, toB common.Address) error
	CollectReward(receipt common.Hash, index uint8, to common.Address) error
	ClosePosition(receipt common.Hash) error
	PositionLiquidity(receipt common.Hash) (*big.Int, error)

	PoolTokens(poolID common.Hash) (pool.Currency, pool.Currency, error)
	RewardToken(poolID common.Hash, index uint8) (pool.Currency, error)
	Balance(account common.Address, currency pool.Currency) uint64
	Transfer(from, to common.Address, currency pool.Currency, amount uint64) error
}

// Vault wires the collaborators together and owns all custody records.
type Vault struct {
	mu        sync.Mutex
	control   *Control
	custodies map[common.Address]*Custody

	engine   PoolEngine
	enc      *coproc.Client
	verifier *attest.Verifier

	log    log.Logger
	events EventSink
	now    func() int64
}

// Option tweaks vault construction.
type Option func(*Vault)

// WithClock replaces the timestamp source. Tests use this.
func WithClock(now func() int64) Option {
	return func(v *Vault) { v.now = now }
}

// WithEventSink replaces the event destination.
func WithEventSink(sink EventSink) Option {
	return func(v *Vault) { v.events = sink }
}

// New builds a vault around its collaborators.
func New(admin common.Address, engine PoolEngine, enc *coproc.Client, verifier *attest.Verifier, logger log.Logger, opts ...Option) *Vault {
	v := &Vault{
		control:   NewControl(admin),
		custodies: make(map[common.Address]*Custody),
		engine:    engine,
		enc:       enc,
		verifier:  verifier,
		log:       logger,
		events:    noopSink{},
		now:       func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Control exposes the global gate for reads.
func (v *Vault) Control() *Control {
	return v.control
}

// =========================================================================
// Admin surface
// =========================================================================

// InitGlobal claims the admin seat on a vault constructed without one.
// Fails once an admin exists.
func (v *Vault) InitGlobal(admin common.Address) error {
	if err := v.control.initialize(admin); err != nil {
		return err
	}
	v.log.Info("global control initialized", "admin", admin)
	v.events.Emit(GlobalInitializedEvent{Admin: admin, Timestamp: v.now()})
	return nil
}

// Pause halts every fund-moving flow.
func (v *Vault) Pause(caller common.Address) error {
	now := v.now()
	if err := v.control.Pause(caller, now); err != nil {
		return err
	}
	v.log.Info("vault paused", "admin", caller)
	v.events.Emit(PausedEvent{Admin: caller, Timestamp: now})
	return nil
}

// Unpause resumes fund-moving flows.
func (v *Vault) Unpause(caller common.Address) error {
	if err := v.control.Unpause(caller); err != nil {
		return err
	}
	v.log.Info("vault unpaused", "admin", caller)
	v.events.Emit(UnpausedEvent{Admin: caller, Timestamp: v.now()})
	return nil
}

// ProposeAdmin starts a two-step admin rotation.
func (v *Vault) ProposeAdmin(caller, candidate common.Address) error {
	if err := v.control.ProposeAdmin(caller, candidate); err != nil {
		return err
	}
	v.log.Info("admin rotation proposed", "current", caller, "candidate", candidate)
	v.events.Emit(AdminProposedEvent{Admin: caller, Candidate: candidate})
	return nil
}

// AcceptAdmin completes a rotation; only the proposed principal may call.
func (v *Vault) AcceptAdmin(caller common.Address) error {
	if err := v.control.AcceptAdmin(caller); err != nil {
		return err
	}
	v.log.Info("admin rotated", "admin", caller)
	v.events.Emit(AdminRotatedEvent{Admin: caller})
	return nil
}

// UpdateParams adjusts the protocol bounds.
func (v *Vault) UpdateParams(caller common.Address, slippageBps *uint16, minLiquidity, maxLiquidity *uint64) error {
	if err := v.control.UpdateParams(caller, slippageBps, minLiquidity, maxLiquidity); err != nil {
		return err
	}
	v.log.Info("params updated", "admin", caller)
	v.events.Emit(ParamsUpdatedEvent{
		Admin:       caller,
		SlippageBps: v.control.SlippageBps(),
	})
	return nil
}

// =========================================================================
// Custody
// =========================================================================

// InitCustody onboards a user, creating their custody record.
func (v *Vault) InitCustody(owner common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.custodies[owner]; exists {
		return ErrCustodyExists
	}
	v.custodies[owner] = newCustody(owner)
	v.log.Info("custody initialized", "owner", owner)
	v.events.Emit(CustodyCreatedEvent{Owner: owner, Timestamp: v.now()})
	return nil
}

// CustodyInfo returns a user's position count and lock state.
func (v *Vault) CustodyInfo(owner common.Address) (positions uint32, locked bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.custodies[owner]
	if !ok {
		return 0, false, ErrCustodyNotFound
	}
	return c.PositionCount, c.locked, nil
}

// Ledger returns a copy of the live position ledger for a user's pool.
func (v *Vault) Ledger(owner common.Address, poolID common.Hash) (PositionLedger, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.custodies[owner]
	if !ok {
		return PositionLedger{}, ErrCustodyNotFound
	}
	l, ok := c.ledgers[poolID]
	if !ok || l.Retired {
		return PositionLedger{}, ErrPositionNotFound
	}
	return *l, nil
}

// custody resolves an onboarded user. Callers hold v.mu.
func (v *Vault) custody(owner common.Address) (*Custody, error) {
	c, ok := v.custodies[owner]
	if !ok {
		return nil, ErrCustodyNotFound
	}
	return c, nil
}

// ledger resolves a live position. Callers hold v.mu.
func (v *Vault) ledger(c *Custody, poolID common.Hash) (*PositionLedger, error) {
	l, ok := c.ledgers[poolID]
	if !ok || l.Retired {
		return nil, ErrPositionNotFound
	}
	return l, nil
}

// =========================================================================
// Attestation
// =========================================================================

// VerifyDecryption checks an attested decryption of coprocessor handles
// against the trusted covalidator. Pure check: no custody or ledger state
// is touched.
func (v *Vault) VerifyDecryption(caller common.Address, instrs []attest.Instruction, numHandles uint8, handles, plaintexts [][attest.WordLen]byte) (*attest.DecryptionVerified, error) {
	ev, err := v.verifier.Verify(instrs, caller, numHandles, handles, plaintexts)
	if err != nil {
		return nil, err
	}
	v.log.Info("decryption verified", "authority", caller, "handles", numHandles)
	v.events.Emit(*ev)
	return ev, nil
}
