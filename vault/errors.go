// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import "errors"

// Authorization errors.
var (
	ErrNotAdmin        = errors.New("caller is not the vault admin")
	ErrNotPendingAdmin = errors.New("caller is not the pending admin")
	ErrNoPendingAdmin  = errors.New("no admin rotation pending")
)

// State errors.
var (
	ErrVaultPaused = errors.New("vault is paused")
	ErrVaultLocked = errors.New("vault custody is locked")
)

// Validation errors.
var (
	ErrLiquidityTooLow  = errors.New("liquidity below configured minimum")
	ErrLiquidityTooHigh = errors.New("liquidity above configured maximum")
	ErrInvalidSlippage  = errors.New("slippage exceeds 10000 bps")
	ErrInvalidBounds    = errors.New("max liquidity must exceed min liquidity")
	ErrInvalidTickRange = errors.New("tick lower must be below tick upper")

	ErrAlreadyInitialized = errors.New("global control already initialized")

	ErrCustodyExists    = errors.New("custody already initialized")
	ErrCustodyNotFound  = errors.New("custody not initialized")
	ErrPositionExists   = errors.New("position already open for pool")
	ErrPositionNotFound = errors.New("no open position for pool")
)

// Arithmetic errors. Overflow in a slippage bound is fatal, never clamped:
// a silently shrunken bound would let a deposit through with the wrong
// protection.
var ErrOverflow = errors.New("arithmetic overflow in bound computation")

// ErrExternalCall marks any pool-engine failure; the engine's own reason
// stays attached so errors.Is still resolves the specific cause.
var ErrExternalCall = errors.New("external call failed")
