// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package coproc

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/luxfi/fhe"
	"github.com/luxfi/geth/common"
)

// TFHEProgram is the identity the TFHE-backed coprocessor stamps on its
// return data.
var TFHEProgram = common.HexToHash("0x74666865636f70726f630000000000000000000000000000000000000000c001")

var (
	// Singleton TFHE components, shared by every TFHEService instance.
	tfheOnce  sync.Once
	evaluator *fhe.BitwiseEvaluator
	encryptor *fhe.BitwiseEncryptor
	decryptor *fhe.BitwiseDecryptor
	secretKey *fhe.SecretKey
	publicKey *fhe.PublicKey
	params    fhe.Parameters
	initErr   error
)

func initTFHE() error {
	tfheOnce.Do(func() {
		var err error

		params, err = fhe.NewParametersFromLiteral(fhe.PN10QP27)
		if err != nil {
			initErr = err
			return
		}

		kg := fhe.NewKeyGenerator(params)
		secretKey, publicKey = kg.GenKeyPair()
		bsk := kg.GenBootstrapKey(secretKey)

		encryptor = fhe.NewBitwiseEncryptor(params, secretKey)
		decryptor = fhe.NewBitwiseDecryptor(params, secretKey)
		evaluator = fhe.NewBitwiseEvaluator(params, bsk, secretKey)
	})

	return initErr
}

// TFHEService is an in-process coprocessor backed by the TFHE engine. It
// holds ciphertexts in a runtime table keyed by handle; handles cross the
// boundary, ciphertexts never do. This is the service side of the trust
// boundary: Decrypt exists here because the covalidator needs plaintexts
// to produce attestations, not because the vault may call it.
type TFHEService struct {
	mu    sync.Mutex
	table map[Handle]*fhe.BitCiphertext
}

// NewTFHEService initializes the TFHE engine and returns an empty service.
func NewTFHEService() (*TFHEService, error) {
	if err := initTFHE(); err != nil {
		return nil, err
	}
	return &TFHEService{table: make(map[Handle]*fhe.BitCiphertext)}, nil
}

// NewHandle encrypts the payload and mints a handle for the ciphertext.
func (s *TFHEService) NewHandle(payload []byte, tag uint8) (*ReturnData, error) {
	if tag != TagCleartext {
		return nil, ErrUnsupportedTag
	}

	var buf [8]byte
	copy(buf[:], payload)
	value := binary.LittleEndian.Uint64(buf[:])

	ct := encryptor.EncryptUint64(value, fhe.FheUint128)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ct)
}

// Add computes the homomorphic sum and mints a handle for the result.
func (s *TFHEService) Add(dst, src Handle) (*ReturnData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctDst, err := s.lookup(dst)
	if err != nil {
		return nil, err
	}
	ctSrc, err := s.lookup(src)
	if err != nil {
		return nil, err
	}

	sum, err := evaluator.Add(ctDst, ctSrc)
	if err != nil {
		return nil, err
	}

	return s.store(sum)
}

// Decrypt reveals the plaintext behind a handle. Service-side only.
func (s *TFHEService) Decrypt(h Handle) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct, err := s.lookup(h)
	if err != nil {
		return 0, err
	}
	return decryptor.DecryptUint64(ct), nil
}

// lookup resolves a handle, treating the zero handle as an encrypted zero.
func (s *TFHEService) lookup(h Handle) (*fhe.BitCiphertext, error) {
	if h.IsZero() {
		return encryptor.EncryptUint64(0, fhe.FheUint128), nil
	}
	ct, ok := s.table[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return ct, nil
}

// store registers the ciphertext under a fresh random handle.
func (s *TFHEService) store(ct *fhe.BitCiphertext) (*ReturnData, error) {
	for {
		var h Handle
		if _, err := rand.Read(h[:]); err != nil {
			return nil, err
		}
		if h.IsZero() {
			continue
		}
		if _, taken := s.table[h]; taken {
			continue
		}
		s.table[h] = ct
		return &ReturnData{Program: TFHEProgram, Data: h.Bytes()}, nil
	}
}
