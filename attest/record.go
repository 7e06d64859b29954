// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package attest

import (
	"encoding/binary"
	"errors"

	"github.com/cloudflare/circl/sign/ed25519"
)

// ErrBadKeySize is returned when a signing key of the wrong width is
// supplied to the record builder.
var ErrBadKeySize = errors.New("ed25519 private key has wrong size")

// AttestationMessage builds the canonical signed message for a set of
// handle/plaintext pairs: handle0 || plaintext0 || handle1 || ...
func AttestationMessage(handles, plaintexts [][WordLen]byte) []byte {
	n := len(handles)
	if len(plaintexts) < n {
		n = len(plaintexts)
	}
	msg := make([]byte, 0, n*2*WordLen)
	for i := 0; i < n; i++ {
		msg = append(msg, handles[i][:]...)
		msg = append(msg, plaintexts[i][:]...)
	}
	return msg
}

// SignRecord produces a well-formed signature-verification record over the
// given handle/plaintext pairs, signed by the covalidator key. Callers
// place the result at index 0 of their transaction's instruction log; the
// layout matches what Verify parses byte for byte.
func SignRecord(priv ed25519.PrivateKey, handles, plaintexts [][WordLen]byte) (Instruction, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Instruction{}, ErrBadKeySize
	}

	message := AttestationMessage(handles, plaintexts)
	signature := ed25519.Sign(priv, message)
	pub := priv.Public().(ed25519.PublicKey)

	sigOffset := headerLen
	pubOffset := sigOffset + signatureLen
	msgOffset := pubOffset + pubkeyLen

	data := make([]byte, msgOffset+len(message))
	data[posNumSignatures] = 1
	binary.LittleEndian.PutUint16(data[posSignatureOffset:], uint16(sigOffset))
	binary.LittleEndian.PutUint16(data[posSignatureIxIdx:], 0)
	binary.LittleEndian.PutUint16(data[posPubkeyOffset:], uint16(pubOffset))
	binary.LittleEndian.PutUint16(data[posPubkeyIxIdx:], 0)
	binary.LittleEndian.PutUint16(data[posMessageOffset:], uint16(msgOffset))
	binary.LittleEndian.PutUint16(data[posMessageSize:], uint16(len(message)))
	binary.LittleEndian.PutUint16(data[posMessageIxIdx:], 0)

	copy(data[sigOffset:], signature)
	copy(data[pubOffset:], pub)
	copy(data[msgOffset:], message)

	return Instruction{ProgramID: Ed25519Program, Data: data}, nil
}

// CovalidatorKey extracts the fixed-width public key from an ed25519
// private key, in the form NewVerifier expects.
func CovalidatorKey(priv ed25519.PrivateKey) [pubkeyLen]byte {
	var key [pubkeyLen]byte
	copy(key[:], priv.Public().(ed25519.PublicKey))
	return key
}
