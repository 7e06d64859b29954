// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package coproc

import (
	"encoding/binary"
	"sync"

	"github.com/luxfi/geth/common"
)

// PlainProgram is the identity stamped by PlainService.
var PlainProgram = common.HexToHash("0x706c61696e636f70726f630000000000000000000000000000000000000cafe0")

// PlainService is a deterministic reference coprocessor. Handles encode
// the running sum directly in little-endian, which makes fold order
// irrelevant: Add(a, b) always yields the same handle for the same total.
// Useful in tests and as an executable statement of the accumulator
// contract; never suitable for production, since handles leak the values
// they stand for.
type PlainService struct {
	mu     sync.Mutex
	values map[Handle]uint64
}

// NewPlainService returns an empty plaintext reference service.
func NewPlainService() *PlainService {
	return &PlainService{values: make(map[Handle]uint64)}
}

func (s *PlainService) NewHandle(payload []byte, tag uint8) (*ReturnData, error) {
	if tag != TagCleartext {
		return nil, ErrUnsupportedTag
	}

	var buf [8]byte
	copy(buf[:], payload)
	value := binary.LittleEndian.Uint64(buf[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(value), nil
}

func (s *PlainService) Add(dst, src Handle) (*ReturnData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.value(dst)
	if err != nil {
		return nil, err
	}
	b, err := s.value(src)
	if err != nil {
		return nil, err
	}

	return s.store(a + b), nil
}

// Decrypt reveals the value behind a handle. Service-side only.
func (s *PlainService) Decrypt(h Handle) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value(h)
}

func (s *PlainService) value(h Handle) (uint64, error) {
	if h.IsZero() {
		return 0, nil
	}
	v, ok := s.values[h]
	if !ok {
		return 0, ErrUnknownHandle
	}
	return v, nil
}

func (s *PlainService) store(value uint64) *ReturnData {
	h := handleFromUint64(value)
	s.values[h] = value
	return &ReturnData{Program: PlainProgram, Data: h.Bytes()}
}
