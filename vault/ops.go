// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/veilfi/veilvault/attest"
)

// Operation selectors. The wire format for Run is a 4-byte selector
// followed by a JSON request body.
var (
	SelInitGlobal   = [4]byte{0x01, 0x00, 0x00, 0x00}
	SelInitCustody  = [4]byte{0x02, 0x00, 0x00, 0x00}
	SelCreate       = [4]byte{0x03, 0x00, 0x00, 0x00}
	SelCollect      = [4]byte{0x04, 0x00, 0x00, 0x00}
	SelWithdraw     = [4]byte{0x05, 0x00, 0x00, 0x00}
	SelRebalance    = [4]byte{0x06, 0x00, 0x00, 0x00}
	SelVerify       = [4]byte{0x07, 0x00, 0x00, 0x00}
	SelPause        = [4]byte{0x08, 0x00, 0x00, 0x00}
	SelUnpause      = [4]byte{0x09, 0x00, 0x00, 0x00}
	SelProposeAdmin = [4]byte{0x0a, 0x00, 0x00, 0x00}
	SelAcceptAdmin  = [4]byte{0x0b, 0x00, 0x00, 0x00}
	SelUpdateParams = [4]byte{0x0c, 0x00, 0x00, 0x00}
)

// ErrInvalidInput rejects requests with no selector or an unknown one.
var ErrInvalidInput = errors.New("invalid operation input")

// InitGlobalInput claims the admin seat.
type InitGlobalInput struct {
	Admin common.Address `json:"admin"`
}

// InitCustodyInput onboards a user.
type InitCustodyInput struct {
	Owner common.Address `json:"owner"`
}

// CreateInput opens a position and deposits liquidity.
type CreateInput struct {
	Caller      common.Address `json:"caller"`
	Pool        common.Hash    `json:"pool"`
	PayloadA    []byte         `json:"payload_a"`
	PayloadB    []byte         `json:"payload_b"`
	Tag         uint8          `json:"tag"`
	TickLower   int32          `json:"tick_lower"`
	TickUpper   int32          `json:"tick_upper"`
	Liquidity   *big.Int       `json:"liquidity"`
	MaxA        uint64         `json:"max_a"`
	MaxB        uint64         `json:"max_b"`
	SlippageBps *uint16        `json:"slippage_bps,omitempty"`
}

// CreateOutput reports the minted receipt.
type CreateOutput struct {
	Receipt common.Hash `json:"receipt"`
}

// CollectInput harvests fees and rewards into the encrypted accumulators.
type CollectInput struct {
	Caller common.Address `json:"caller"`
	Pool   common.Hash    `json:"pool"`
}

// WithdrawInput removes liquidity, optionally closing the position.
type WithdrawInput struct {
	Caller    common.Address `json:"caller"`
	Pool      common.Hash    `json:"pool"`
	Liquidity *big.Int       `json:"liquidity"`
	MinA      uint64         `json:"min_a"`
	MinB      uint64         `json:"min_b"`
	Close     bool           `json:"close"`
}

// RebalanceInput moves a position to a new tick range.
type RebalanceInput struct {
	Caller      common.Address `json:"caller"`
	Pool        common.Hash    `json:"pool"`
	TickLower   int32          `json:"tick_lower"`
	TickUpper   int32          `json:"tick_upper"`
	SlippageBps *uint16        `json:"slippage_bps,omitempty"`
}

// VerifyInput checks an attested decryption.
type VerifyInput struct {
	Caller       common.Address         `json:"caller"`
	Instructions []attest.Instruction   `json:"instructions"`
	NumHandles   uint8                  `json:"num_handles"`
	Handles      [][attest.WordLen]byte `json:"handles"`
	Plaintexts   [][attest.WordLen]byte `json:"plaintexts"`
}

// AdminInput covers pause, unpause and accept-admin.
type AdminInput struct {
	Caller common.Address `json:"caller"`
}

// ProposeAdminInput starts a rotation.
type ProposeAdminInput struct {
	Caller    common.Address `json:"caller"`
	Candidate common.Address `json:"candidate"`
}

// UpdateParamsInput adjusts any subset of the bounds.
type UpdateParamsInput struct {
	Caller       common.Address `json:"caller"`
	SlippageBps  *uint16        `json:"slippage_bps,omitempty"`
	MinLiquidity *uint64        `json:"min_liquidity,omitempty"`
	MaxLiquidity *uint64        `json:"max_liquidity,omitempty"`
}

// AckOutput acknowledges an operation with no other result.
type AckOutput struct {
	OK bool `json:"ok"`
}

// Run dispatches one operation from its wire form. Every operation either
// succeeds with a JSON result or fails with one error from the package
// taxonomy; nothing is downgraded to a warning.
func (v *Vault) Run(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, ErrInvalidInput
	}
	var selector [4]byte
	copy(selector[:], input[:4])
	data := input[4:]

	switch selector {
	case SelInitGlobal:
		var in InitGlobalInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.InitGlobal(in.Admin))
	case SelInitCustody:
		var in InitCustodyInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.InitCustody(in.Owner))
	case SelCreate:
		var in CreateInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		receipt, err := v.CreatePosition(in.Caller, in.Pool, in.PayloadA, in.PayloadB, in.Tag,
			in.TickLower, in.TickUpper, in.Liquidity, in.MaxA, in.MaxB, in.SlippageBps)
		if err != nil {
			return nil, err
		}
		return encodeOutput(CreateOutput{Receipt: receipt})
	case SelCollect:
		var in CollectInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.CollectProfits(in.Caller, in.Pool))
	case SelWithdraw:
		var in WithdrawInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.WithdrawPosition(in.Caller, in.Pool, in.Liquidity, in.MinA, in.MinB, in.Close))
	case SelRebalance:
		var in RebalanceInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.RebalancePosition(in.Caller, in.Pool, in.TickLower, in.TickUpper, in.SlippageBps))
	case SelVerify:
		var in VerifyInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		ev, err := v.VerifyDecryption(in.Caller, in.Instructions, in.NumHandles, in.Handles, in.Plaintexts)
		if err != nil {
			return nil, err
		}
		return encodeOutput(ev)
	case SelPause:
		var in AdminInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.Pause(in.Caller))
	case SelUnpause:
		var in AdminInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.Unpause(in.Caller))
	case SelProposeAdmin:
		var in ProposeAdminInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.ProposeAdmin(in.Caller, in.Candidate))
	case SelAcceptAdmin:
		var in AdminInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.AcceptAdmin(in.Caller))
	case SelUpdateParams:
		var in UpdateParamsInput
		if err := decodeInput(data, &in); err != nil {
			return nil, err
		}
		return ack(v.UpdateParams(in.Caller, in.SlippageBps, in.MinLiquidity, in.MaxLiquidity))
	default:
		return nil, ErrInvalidInput
	}
}

func decodeInput(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(ErrInvalidInput, err)
	}
	return nil
}

func encodeOutput(v any) ([]byte, error) {
	return json.Marshal(v)
}

func ack(err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return encodeOutput(AckOutput{OK: true})
}
