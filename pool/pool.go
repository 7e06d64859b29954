// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements the concentrated-liquidity engine the vault
// drives. Positions are keyed by receipt, live inside a tick range, and
// accrue fees on both legs plus up to three reward slots. The engine also
// keeps the token-account ledger the vault measures balance deltas
// against. Swap pricing and tick-crossing math are out of scope here;
// accrual is fed through the Accrue helpers.
package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	luxcrypto "github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Tick bounds for any position range.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// RewardSlots is the number of reward mints a pool can carry.
const RewardSlots = 3

var (
	ErrPoolExists            = errors.New("pool already exists")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrReceiptNotFound       = errors.New("position receipt not found")
	ErrReceiptRetired        = errors.New("position receipt already retired")
	ErrInvalidTickRange      = errors.New("invalid tick range")
	ErrTickOutOfRange        = errors.New("tick outside allowed range")
	ErrZeroLiquidity         = errors.New("liquidity delta must be positive")
	ErrInsufficientLiquidity = errors.New("insufficient position liquidity")
	ErrLiquidityRemaining    = errors.New("position still has liquidity")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrSlippageExceeded      = errors.New("amount outside slippage bound")
	ErrRewardIndex           = errors.New("reward index out of range")
)

// Currency identifies a token by its mint address.
type Currency struct {
	Address common.Address
}

// Pool is one two-sided market with optional reward emissions.
type Pool struct {
	ID       common.Hash
	TokenA   Currency
	TokenB   Currency
	Rewards  [RewardSlots]Currency
	TickSpc  int32
	openSeq  uint64
	receipts map[common.Hash]*Position
}

// Position is one open liquidity position, identified by its receipt.
type Position struct {
	Receipt   common.Hash
	Pool      common.Hash
	Owner     common.Address
	TickLower int32
	TickUpper int32
	Liquidity *big.Int

	// reserves deposited against this position, returned pro rata on
	// liquidity removal
	reserveA uint64
	reserveB uint64

	feeOwedA    uint64
	feeOwedB    uint64
	rewardsOwed [RewardSlots]uint64

	retired bool
}

// Manager owns all pools, positions, and the token-account ledger.
type Manager struct {
	mu       sync.Mutex
	locked   bool
	pools    map[common.Hash]*Pool
	receipts map[common.Hash]*Position
	balances map[common.Address]map[Currency]*uint256.Int
}

// NewManager returns an empty engine.
func NewManager() *Manager {
	return &Manager{
		pools:    make(map[common.Hash]*Pool),
		receipts: make(map[common.Hash]*Position),
		balances: make(map[common.Address]map[Currency]*uint256.Int),
	}
}

// lock guards every mutating entry point. Non-blocking by contract: a
// reentrant call is a bug in the caller, not something to wait out.
func (m *Manager) lock() error {
	m.mu.Lock()
	if m.locked {
		m.mu.Unlock()
		return errors.New("pool engine reentered")
	}
	m.locked = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) unlock() {
	m.mu.Lock()
	m.locked = false
	m.mu.Unlock()
}

// =========================================================================
// Pool lifecycle
// =========================================================================

// CreatePool registers a two-sided pool under a caller-supplied id.
func (m *Manager) CreatePool(id common.Hash, tokenA, tokenB Currency, rewards [RewardSlots]Currency, tickSpacing int32) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	if _, exists := m.pools[id]; exists {
		return ErrPoolExists
	}
	m.pools[id] = &Pool{
		ID:       id,
		TokenA:   tokenA,
		TokenB:   tokenB,
		Rewards:  rewards,
		TickSpc:  tickSpacing,
		receipts: make(map[common.Hash]*Position),
	}
	return nil
}

// PoolTokens returns the two leg currencies of a pool.
func (m *Manager) PoolTokens(id common.Hash) (Currency, Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[id]
	if !ok {
		return Currency{}, Currency{}, ErrPoolNotFound
	}
	return p.TokenA, p.TokenB, nil
}

// RewardToken returns the currency of one reward slot.
func (m *Manager) RewardToken(id common.Hash, index uint8) (Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[id]
	if !ok {
		return Currency{}, ErrPoolNotFound
	}
	if int(index) >= RewardSlots {
		return Currency{}, ErrRewardIndex
	}
	return p.Rewards[index], nil
}

// =========================================================================
// Position lifecycle
// =========================================================================

// OpenPosition mints a position receipt at [tickLower, tickUpper).
func (m *Manager) OpenPosition(poolID common.Hash, owner common.Address, tickLower, tickUpper int32) (common.Hash, error) {
	if err := m.lock(); err != nil {
		return common.Hash{}, err
	}
	defer m.unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return common.Hash{}, ErrPoolNotFound
	}
	if tickLower >= tickUpper {
		return common.Hash{}, ErrInvalidTickRange
	}
	if tickLower < MinTick || tickUpper > MaxTick {
		return common.Hash{}, ErrTickOutOfRange
	}

	p.openSeq++
	receipt := receiptKey(poolID, owner, tickLower, tickUpper, p.openSeq)

	pos := &Position{
		Receipt:   receipt,
		Pool:      poolID,
		Owner:     owner,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: big.NewInt(0),
	}
	p.receipts[receipt] = pos
	m.receipts[receipt] = pos
	return receipt, nil
}

// IncreaseLiquidity moves up to maxA/maxB from the funding account into
// the pool and credits the position with liquidity.
func (m *Manager) IncreaseLiquidity(receipt common.Hash, from common.Address, liquidity *big.Int, maxA, maxB uint64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	pos, p, err := m.position(receipt)
	if err != nil {
		return err
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return ErrZeroLiquidity
	}

	// both legs or neither
	if !m.hasBalance(from, p.TokenA, maxA) {
		return fmt.Errorf("%w: leg A", ErrInsufficientBalance)
	}
	if !m.hasBalance(from, p.TokenB, maxB) {
		return fmt.Errorf("%w: leg B", ErrInsufficientBalance)
	}
	if err := m.debit(from, p.TokenA, maxA); err != nil {
		return err
	}
	if err := m.debit(from, p.TokenB, maxB); err != nil {
		return err
	}

	pos.reserveA += maxA
	pos.reserveB += maxB
	pos.Liquidity = new(big.Int).Add(pos.Liquidity, liquidity)
	return nil
}

// DecreaseLiquidity removes liquidity and pays the pro-rata token share
// to the destination account, honoring minimum-out bounds.
func (m *Manager) DecreaseLiquidity(receipt common.Hash, to common.Address, liquidity *big.Int, minA, minB uint64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	pos, p, err := m.position(receipt)
	if err != nil {
		return err
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return ErrZeroLiquidity
	}
	if pos.Liquidity.Cmp(liquidity) < 0 {
		return ErrInsufficientLiquidity
	}

	outA := proRata(pos.reserveA, liquidity, pos.Liquidity)
	outB := proRata(pos.reserveB, liquidity, pos.Liquidity)
	if outA < minA || outB < minB {
		return ErrSlippageExceeded
	}

	pos.reserveA -= outA
	pos.reserveB -= outB
	pos.Liquidity = new(big.Int).Sub(pos.Liquidity, liquidity)

	m.credit(to, p.TokenA, outA)
	m.credit(to, p.TokenB, outB)
	return nil
}

// CollectFees pays the owed fee balances of both legs to the destination
// accounts and clears them.
func (m *Manager) CollectFees(receipt common.Hash, toA, toB common.Address) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	pos, p, err := m.position(receipt)
	if err != nil {
		return err
	}

	m.credit(toA, p.TokenA, pos.feeOwedA)
	m.credit(toB, p.TokenB, pos.feeOwedB)
	pos.feeOwedA = 0
	pos.feeOwedB = 0
	return nil
}

// CollectReward pays one reward slot's owed balance to the destination
// account and clears it.
func (m *Manager) CollectReward(receipt common.Hash, index uint8, to common.Address) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	pos, p, err := m.position(receipt)
	if err != nil {
		return err
	}
	if int(index) >= RewardSlots {
		return ErrRewardIndex
	}

	m.credit(to, p.Rewards[index], pos.rewardsOwed[index])
	pos.rewardsOwed[index] = 0
	return nil
}

// ClosePosition retires a receipt. All liquidity must be gone first.
func (m *Manager) ClosePosition(receipt common.Hash) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	pos, p, err := m.position(receipt)
	if err != nil {
		return err
	}
	if pos.Liquidity.Sign() != 0 {
		return ErrLiquidityRemaining
	}

	pos.retired = true
	delete(p.receipts, receipt)
	return nil
}

// PositionLiquidity returns the live liquidity behind a receipt.
func (m *Manager) PositionLiquidity(receipt common.Hash) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.receipts[receipt]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	if pos.retired {
		return nil, ErrReceiptRetired
	}
	return new(big.Int).Set(pos.Liquidity), nil
}

// position resolves a live receipt and its pool. Callers hold the lock.
func (m *Manager) position(receipt common.Hash) (*Position, *Pool, error) {
	pos, ok := m.receipts[receipt]
	if !ok {
		return nil, nil, ErrReceiptNotFound
	}
	if pos.retired {
		return nil, nil, ErrReceiptRetired
	}
	p, ok := m.pools[pos.Pool]
	if !ok {
		return nil, nil, ErrPoolNotFound
	}
	return pos, p, nil
}

// =========================================================================
// Accrual
// =========================================================================

// AccrueFees adds owed fees to a position. Stands in for the AMM's
// internal fee-growth math.
func (m *Manager) AccrueFees(receipt common.Hash, feeA, feeB uint64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	pos, _, err := m.position(receipt)
	if err != nil {
		return err
	}
	pos.feeOwedA += feeA
	pos.feeOwedB += feeB
	return nil
}

// AccrueReward adds an owed reward amount to one slot of a position.
func (m *Manager) AccrueReward(receipt common.Hash, index uint8, amount uint64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.unlock()

	pos, _, err := m.position(receipt)
	if err != nil {
		return err
	}
	if int(index) >= RewardSlots {
		return ErrRewardIndex
	}
	pos.rewardsOwed[index] += amount
	return nil
}

// =========================================================================
// Token-account ledger
// =========================================================================

// Balance reads an account's balance for a currency.
func (m *Manager) Balance(account common.Address, currency Currency) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	accts, ok := m.balances[account]
	if !ok {
		return 0
	}
	bal, ok := accts[currency]
	if !ok {
		return 0
	}
	return bal.Uint64()
}

// Transfer moves balance between two accounts of the same currency.
func (m *Manager) Transfer(from, to common.Address, currency Currency, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(from, currency, amount); err != nil {
		return err
	}
	m.credit(to, currency, amount)
	return nil
}

// Mint credits an account out of thin air. Onboarding and test funding.
func (m *Manager) Mint(account common.Address, currency Currency, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(account, currency, amount)
}

// credit adds to an account balance. Callers hold the lock.
func (m *Manager) credit(account common.Address, currency Currency, amount uint64) {
	if amount == 0 {
		return
	}
	accts, ok := m.balances[account]
	if !ok {
		accts = make(map[Currency]*uint256.Int)
		m.balances[account] = accts
	}
	bal, ok := accts[currency]
	if !ok {
		bal = uint256.NewInt(0)
		accts[currency] = bal
	}
	bal.Add(bal, uint256.NewInt(amount))
}

// hasBalance reports whether an account covers an amount. Callers hold
// the lock.
func (m *Manager) hasBalance(account common.Address, currency Currency, amount uint64) bool {
	if amount == 0 {
		return true
	}
	accts, ok := m.balances[account]
	if !ok {
		return false
	}
	bal, ok := accts[currency]
	return ok && bal.CmpUint64(amount) >= 0
}

// debit removes from an account balance. Callers hold the lock.
func (m *Manager) debit(account common.Address, currency Currency, amount uint64) error {
	if amount == 0 {
		return nil
	}
	accts, ok := m.balances[account]
	if !ok {
		return ErrInsufficientBalance
	}
	bal, ok := accts[currency]
	if !ok || bal.CmpUint64(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, uint256.NewInt(amount))
	return nil
}

// =========================================================================
// Derivations
// =========================================================================

// receiptKey derives a receipt id from the position's identity and an
// open sequence number, so reopening the same range yields a new receipt.
func receiptKey(poolID common.Hash, owner common.Address, tickLower, tickUpper int32, seq uint64) common.Hash {
	h := blake3.New()
	h.Write(poolID[:])
	h.Write(owner[:])

	var ticks [8]byte
	binary.BigEndian.PutUint32(ticks[0:4], uint32(tickLower))
	binary.BigEndian.PutUint32(ticks[4:8], uint32(tickUpper))
	h.Write(ticks[:])

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	h.Write(seqBuf[:])

	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// DeriveAccount derives a program-owned token-account address for one leg
// of a user's custody in a pool.
func DeriveAccount(owner common.Address, poolID common.Hash, leg string) common.Address {
	hash := luxcrypto.Keccak256(owner[:], poolID[:], []byte(leg))
	return common.BytesToAddress(hash[12:])
}

// proRata computes reserve * liquidity / total, saturating at the full
// reserve when liquidity equals total.
func proRata(reserve uint64, liquidity, total *big.Int) uint64 {
	if total.Sign() == 0 {
		return 0
	}
	out := new(big.Int).Mul(new(big.Int).SetUint64(reserve), liquidity)
	out.Div(out, total)
	if !out.IsUint64() {
		return reserve
	}
	v := out.Uint64()
	if v > reserve {
		return reserve
	}
	return v
}
