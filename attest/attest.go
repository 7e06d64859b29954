// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

// Package attest verifies covalidator attestations of decrypted ledger
// values. The attestation arrives as an ed25519 signature-verification
// record placed at index 0 of the transaction's instruction log; the
// hosting runtime only admits such a record after the signature itself
// has validated, so the checks here are identity-of-signer and
// content-of-message, never signature math.
package attest

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/luxfi/geth/common"
)

// Ed25519Program is the identity of the native signature-verification
// facility. A record claiming any other program id is an impersonation.
var Ed25519Program = common.HexToHash("0x6564323535313973696776657269667900000000000000000000000000000001")

// WordLen is the width of one handle or plaintext element in the signed
// message.
const WordLen = 16

// Signature-verification record layout. All offsets are little-endian
// u16 and are a compatibility contract with the external signer format;
// they must never be derived by reflection or guessed.
const (
	posNumSignatures   = 0  // u8, must be 1
	posPadding         = 1  // u8
	posSignatureOffset = 2  // u16 LE
	posSignatureIxIdx  = 4  // u16 LE
	posPubkeyOffset    = 6  // u16 LE
	posPubkeyIxIdx     = 8  // u16 LE
	posMessageOffset   = 10 // u16 LE
	posMessageSize     = 12 // u16 LE
	posMessageIxIdx    = 14 // u16 LE

	headerLen    = 16
	pubkeyLen    = 32
	signatureLen = 64
)

var (
	ErrHandleCountMismatch       = errors.New("handle count does not match expected")
	ErrPlaintextCountMismatch    = errors.New("plaintext count does not match expected")
	ErrMissingEd25519Instruction = errors.New("missing ed25519 instruction at index 0")
	ErrInvalidEd25519Program     = errors.New("invalid ed25519 program id")
	ErrDataTooShort              = errors.New("ed25519 instruction data too short")
	ErrInvalidSignatureCount     = errors.New("invalid signature count, expected 1")
	ErrUnauthorizedCovalidator   = errors.New("unauthorized covalidator signer")
	ErrMessageLengthMismatch     = errors.New("message length does not match expected")
	ErrHandleMismatch            = errors.New("handle in message does not match claim")
	ErrPlaintextMismatch         = errors.New("plaintext in message does not match claim")
)

// Instruction is one entry of the transaction-scoped instruction log.
type Instruction struct {
	ProgramID common.Hash
	Data      []byte
}

// DecryptionVerified is emitted on a fully successful verification.
type DecryptionVerified struct {
	Authority  common.Address
	NumHandles uint8
	Timestamp  int64
}

// Verifier checks attestation records against a single trusted
// covalidator key. Exactly one key is trusted; rotating it means
// deploying a new verifier.
type Verifier struct {
	covalidator [pubkeyLen]byte
	now         func() int64
}

// NewVerifier builds a verifier anchored on the given covalidator
// public key.
func NewVerifier(covalidator [pubkeyLen]byte) *Verifier {
	return &Verifier{
		covalidator: covalidator,
		now:         func() int64 { return time.Now().Unix() },
	}
}

// Verify checks that the record at index 0 of the instruction log was
// produced by the trusted covalidator over exactly the claimed
// handle/plaintext pairs. It touches no vault state.
func (v *Verifier) Verify(
	log []Instruction,
	authority common.Address,
	numHandles uint8,
	handles [][WordLen]byte,
	plaintexts [][WordLen]byte,
) (*DecryptionVerified, error) {
	if len(handles) != int(numHandles) {
		return nil, ErrHandleCountMismatch
	}
	if len(plaintexts) != int(numHandles) {
		return nil, ErrPlaintextCountMismatch
	}

	// The attestation must be the first instruction in the transaction.
	// That is a calling-convention contract, not negotiable here.
	if len(log) == 0 {
		return nil, ErrMissingEd25519Instruction
	}
	record := log[0]

	if record.ProgramID != Ed25519Program {
		return nil, ErrInvalidEd25519Program
	}

	data := record.Data
	if len(data) < headerLen {
		return nil, ErrDataTooShort
	}

	if data[posNumSignatures] != 1 {
		return nil, ErrInvalidSignatureCount
	}

	pubkeyOffset := int(binary.LittleEndian.Uint16(data[posPubkeyOffset:]))
	messageOffset := int(binary.LittleEndian.Uint16(data[posMessageOffset:]))
	messageSize := int(binary.LittleEndian.Uint16(data[posMessageSize:]))

	if len(data) < messageOffset+messageSize {
		return nil, ErrDataTooShort
	}
	if len(data) < pubkeyOffset+pubkeyLen {
		return nil, ErrDataTooShort
	}

	// Trust anchor: only the configured covalidator's attestations count.
	var signer [pubkeyLen]byte
	copy(signer[:], data[pubkeyOffset:pubkeyOffset+pubkeyLen])
	if signer != v.covalidator {
		return nil, ErrUnauthorizedCovalidator
	}

	// Message format: handle0 || plaintext0 || handle1 || plaintext1 ...
	message := data[messageOffset : messageOffset+messageSize]
	if len(message) != int(numHandles)*2*WordLen {
		return nil, ErrMessageLengthMismatch
	}

	for i := 0; i < int(numHandles); i++ {
		pair := message[i*2*WordLen:]
		var msgHandle, msgPlaintext [WordLen]byte
		copy(msgHandle[:], pair[:WordLen])
		copy(msgPlaintext[:], pair[WordLen:2*WordLen])

		if msgHandle != handles[i] {
			return nil, ErrHandleMismatch
		}
		if msgPlaintext != plaintexts[i] {
			return nil, ErrPlaintextMismatch
		}
	}

	return &DecryptionVerified{
		Authority:  authority,
		NumHandles: numHandles,
		Timestamp:  v.now(),
	}, nil
}
