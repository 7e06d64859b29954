// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coproc defines the call contract with the encrypted compute
// coprocessor. The vault never sees plaintext amounts: it submits payloads,
// receives opaque 128-bit handles back, and folds handles together through
// the coprocessor's homomorphic add. All arithmetic on ledger amounts goes
// through this package.
package coproc

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/geth/common"
)

// HandleLen is the wire size of a ciphertext handle.
const HandleLen = 16

// Payload tag constants. The tag tells the coprocessor how to interpret
// the payload bytes when minting a handle.
const (
	TagCleartext  uint8 = 0 // little-endian unsigned integer, encrypted by the service
	TagCiphertext uint8 = 1 // pre-encrypted payload produced client-side
)

var (
	ErrNoReturnData            = errors.New("no return data from coprocessor call")
	ErrInvalidReturnDataKey    = errors.New("return data not attributable to coprocessor")
	ErrInvalidReturnDataLength = errors.New("invalid return data length")
	ErrUnsupportedTag          = errors.New("unsupported payload tag")
	ErrUnknownHandle           = errors.New("unknown ciphertext handle")
)

// Handle is an opaque 128-bit reference to a ciphertext held by the
// coprocessor. It is equality-comparable and nothing else; in particular
// there is deliberately no arithmetic on Handle, so encrypted ledger
// fields cannot be mutated with plain integer math by accident.
type Handle [HandleLen]byte

// ZeroHandle means "no value recorded yet". The coprocessor treats it as
// an encrypted zero when used as an accumulator destination.
var ZeroHandle Handle

// IsZero reports whether the handle is the zero value.
func (h Handle) IsZero() bool {
	return h == ZeroHandle
}

// Bytes returns the handle's wire representation.
func (h Handle) Bytes() []byte {
	out := make([]byte, HandleLen)
	copy(out, h[:])
	return out
}

func (h Handle) String() string {
	return common.Bytes2Hex(h[:])
}

// HandleFromBytes parses a 16-byte wire handle.
func HandleFromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != HandleLen {
		return h, ErrInvalidReturnDataLength
	}
	copy(h[:], b)
	return h, nil
}

// Uint64Payload encodes an amount as the little-endian cleartext payload
// NewHandle expects under TagCleartext.
func Uint64Payload(v uint64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, v)
	return out
}

// handleFromUint64 builds the little-endian handle encoding used by the
// plaintext reference service.
func handleFromUint64(v uint64) Handle {
	var h Handle
	binary.LittleEndian.PutUint64(h[:8], v)
	return h
}

// ReturnData is what a coprocessor call leaves behind: the identity of the
// program that produced it and the raw payload. Callers must not trust the
// payload before checking the program identity.
type ReturnData struct {
	Program common.Hash
	Data    []byte
}

// Service is the raw coprocessor boundary. Implementations return the new
// handle out-of-band as ReturnData; validation of that data is the
// caller's job and is centralized in Client.
type Service interface {
	// NewHandle mints a handle for payload. For TagCleartext the payload
	// is a little-endian unsigned integer.
	NewHandle(payload []byte, tag uint8) (*ReturnData, error)

	// Add returns a handle for the homomorphic sum dst + src. Handles are
	// immutable; the inputs remain valid.
	Add(dst, src Handle) (*ReturnData, error)
}

// Client wraps a Service with return-data validation. It is the only path
// the vault uses to reach the coprocessor.
type Client struct {
	svc     Service
	program common.Hash
}

// NewClient builds a client that accepts return data only from the given
// coprocessor program identity.
func NewClient(svc Service, program common.Hash) *Client {
	return &Client{svc: svc, program: program}
}

// NewHandle mints a fresh handle for payload and validates the response.
func (c *Client) NewHandle(payload []byte, tag uint8) (Handle, error) {
	ret, err := c.svc.NewHandle(payload, tag)
	if err != nil {
		return ZeroHandle, err
	}
	return c.validate(ret)
}

// Add folds src into dst and returns the new accumulator handle.
func (c *Client) Add(dst, src Handle) (Handle, error) {
	ret, err := c.svc.Add(dst, src)
	if err != nil {
		return ZeroHandle, err
	}
	return c.validate(ret)
}

func (c *Client) validate(ret *ReturnData) (Handle, error) {
	if ret == nil || ret.Data == nil {
		return ZeroHandle, ErrNoReturnData
	}
	if ret.Program != c.program {
		return ZeroHandle, ErrInvalidReturnDataKey
	}
	if len(ret.Data) != HandleLen {
		return ZeroHandle, ErrInvalidReturnDataLength
	}
	return HandleFromBytes(ret.Data)
}
