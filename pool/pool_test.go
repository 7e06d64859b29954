// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

var (
	testPoolID = common.HexToHash("0x01")
	tokenA     = Currency{Address: common.HexToAddress("0xaa")}
	tokenB     = Currency{Address: common.HexToAddress("0xbb")}
	rewardX    = Currency{Address: common.HexToAddress("0x1111")}
	alice      = common.HexToAddress("0xa11ce")
	bob        = common.HexToAddress("0xb0b")
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	rewards := [RewardSlots]Currency{rewardX, {}, {}}
	require.NoError(t, m.CreatePool(testPoolID, tokenA, tokenB, rewards, 64))
	return m
}

func TestCreatePoolDuplicate(t *testing.T) {
	m := newTestManager(t)
	err := m.CreatePool(testPoolID, tokenA, tokenB, [RewardSlots]Currency{}, 64)
	require.ErrorIs(t, err, ErrPoolExists)
}

func TestOpenPositionTickValidation(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name    string
		lower   int32
		upper   int32
		wantErr error
	}{
		{"valid range", -100, 100, nil},
		{"inverted", 100, -100, ErrInvalidTickRange},
		{"empty", 50, 50, ErrInvalidTickRange},
		{"below min", MinTick - 1, 0, ErrTickOutOfRange},
		{"above max", 0, MaxTick + 1, ErrTickOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.OpenPosition(testPoolID, alice, tt.lower, tt.upper)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOpenPositionDistinctReceipts(t *testing.T) {
	m := newTestManager(t)

	r1, err := m.OpenPosition(testPoolID, alice, -100, 100)
	require.NoError(t, err)
	r2, err := m.OpenPosition(testPoolID, alice, -100, 100)
	require.NoError(t, err)
	require.NotEqual(t, r1, r2, "same range must mint distinct receipts")
}

func TestLiquidityRoundTrip(t *testing.T) {
	m := newTestManager(t)
	m.Mint(alice, tokenA, 1_000_000)
	m.Mint(alice, tokenB, 2_000_000)

	receipt, err := m.OpenPosition(testPoolID, alice, -100, 100)
	require.NoError(t, err)

	liq := big.NewInt(500)
	require.NoError(t, m.IncreaseLiquidity(receipt, alice, liq, 400_000, 800_000))
	require.Equal(t, uint64(600_000), m.Balance(alice, tokenA))
	require.Equal(t, uint64(1_200_000), m.Balance(alice, tokenB))

	got, err := m.PositionLiquidity(receipt)
	require.NoError(t, err)
	require.Equal(t, 0, got.Cmp(liq))

	// removing half the liquidity returns half the reserves
	require.NoError(t, m.DecreaseLiquidity(receipt, alice, big.NewInt(250), 200_000, 400_000))
	require.Equal(t, uint64(800_000), m.Balance(alice, tokenA))
	require.Equal(t, uint64(1_600_000), m.Balance(alice, tokenB))

	// and the rest returns everything
	require.NoError(t, m.DecreaseLiquidity(receipt, alice, big.NewInt(250), 200_000, 400_000))
	require.Equal(t, uint64(1_000_000), m.Balance(alice, tokenA))
	require.Equal(t, uint64(2_000_000), m.Balance(alice, tokenB))
}

func TestDecreaseLiquiditySlippage(t *testing.T) {
	m := newTestManager(t)
	m.Mint(alice, tokenA, 100)
	m.Mint(alice, tokenB, 100)

	receipt, err := m.OpenPosition(testPoolID, alice, -10, 10)
	require.NoError(t, err)
	require.NoError(t, m.IncreaseLiquidity(receipt, alice, big.NewInt(100), 100, 100))

	err = m.DecreaseLiquidity(receipt, alice, big.NewInt(50), 51, 0)
	require.ErrorIs(t, err, ErrSlippageExceeded)

	// position untouched after the failed removal
	got, err := m.PositionLiquidity(receipt)
	require.NoError(t, err)
	require.Equal(t, int64(100), got.Int64())
}

func TestIncreaseLiquidityInsufficientBalance(t *testing.T) {
	m := newTestManager(t)
	m.Mint(alice, tokenA, 10)

	receipt, err := m.OpenPosition(testPoolID, alice, -10, 10)
	require.NoError(t, err)

	err = m.IncreaseLiquidity(receipt, alice, big.NewInt(1), 5, 5)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// the funded leg was not touched by the failed deposit
	require.Equal(t, uint64(10), m.Balance(alice, tokenA))
}

func TestCollectFees(t *testing.T) {
	m := newTestManager(t)

	receipt, err := m.OpenPosition(testPoolID, alice, -10, 10)
	require.NoError(t, err)
	require.NoError(t, m.AccrueFees(receipt, 700, 300))

	require.NoError(t, m.CollectFees(receipt, bob, bob))
	require.Equal(t, uint64(700), m.Balance(bob, tokenA))
	require.Equal(t, uint64(300), m.Balance(bob, tokenB))

	// owed balances cleared, second collect is a no-op
	require.NoError(t, m.CollectFees(receipt, bob, bob))
	require.Equal(t, uint64(700), m.Balance(bob, tokenA))
}

func TestCollectReward(t *testing.T) {
	m := newTestManager(t)

	receipt, err := m.OpenPosition(testPoolID, alice, -10, 10)
	require.NoError(t, err)
	require.NoError(t, m.AccrueReward(receipt, 0, 55))

	require.NoError(t, m.CollectReward(receipt, 0, bob))
	require.Equal(t, uint64(55), m.Balance(bob, rewardX))

	err = m.CollectReward(receipt, RewardSlots, bob)
	require.ErrorIs(t, err, ErrRewardIndex)
}

func TestClosePosition(t *testing.T) {
	m := newTestManager(t)
	m.Mint(alice, tokenA, 100)
	m.Mint(alice, tokenB, 100)

	receipt, err := m.OpenPosition(testPoolID, alice, -10, 10)
	require.NoError(t, err)
	require.NoError(t, m.IncreaseLiquidity(receipt, alice, big.NewInt(10), 100, 100))

	err = m.ClosePosition(receipt)
	require.ErrorIs(t, err, ErrLiquidityRemaining)

	require.NoError(t, m.DecreaseLiquidity(receipt, alice, big.NewInt(10), 0, 0))
	require.NoError(t, m.ClosePosition(receipt))

	_, err = m.PositionLiquidity(receipt)
	require.ErrorIs(t, err, ErrReceiptRetired)
	err = m.IncreaseLiquidity(receipt, alice, big.NewInt(1), 0, 0)
	require.ErrorIs(t, err, ErrReceiptRetired)
}

func TestUnknownReceipt(t *testing.T) {
	m := newTestManager(t)
	bogus := common.HexToHash("0xdead")

	require.ErrorIs(t, m.CollectFees(bogus, bob, bob), ErrReceiptNotFound)
	require.ErrorIs(t, m.ClosePosition(bogus), ErrReceiptNotFound)
	_, err := m.PositionLiquidity(bogus)
	require.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestDeriveAccountDeterministic(t *testing.T) {
	a1 := DeriveAccount(alice, testPoolID, "a")
	a2 := DeriveAccount(alice, testPoolID, "a")
	b := DeriveAccount(alice, testPoolID, "b")
	other := DeriveAccount(bob, testPoolID, "a")

	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, b)
	require.NotEqual(t, a1, other)
}
