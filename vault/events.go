// Copyright (C) 2025, Veil Finance Ltd. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/veilfi/veilvault/coproc"
)

// EventSink receives the structured completion event each operation emits
// on success.
type EventSink interface {
	Emit(event any)
}

type noopSink struct{}

func (noopSink) Emit(any) {}

// MemorySink records events in order. Test helper.
type MemorySink struct {
	mu     sync.Mutex
	events []any
}

func (s *MemorySink) Emit(event any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a snapshot of everything emitted so far.
func (s *MemorySink) Events() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.events))
	copy(out, s.events)
	return out
}

// PositionCreatedEvent is emitted when CreatePosition commits.
type PositionCreatedEvent struct {
	User      common.Address
	Pool      common.Hash
	Receipt   common.Hash
	TickLower int32
	TickUpper int32
	DepositA  coproc.Handle
	DepositB  coproc.Handle
	Timestamp int64
}

// ProfitsCollectedEvent is emitted when CollectProfits commits. The
// handles are the post-fold accumulator values; harvested amounts are
// never exposed in plaintext.
type ProfitsCollectedEvent struct {
	User      common.Address
	Pool      common.Hash
	Receipt   common.Hash
	ProfitA   coproc.Handle
	ProfitB   coproc.Handle
	Rewards   [rewardSlots]coproc.Handle
	Timestamp int64
}

// PositionWithdrawnEvent is emitted when WithdrawPosition commits.
// Amounts are the delta-measured tokens actually received, which land in
// the user's public token account anyway.
type PositionWithdrawnEvent struct {
	User      common.Address
	Pool      common.Hash
	Receipt   common.Hash
	AmountA   uint64
	AmountB   uint64
	Closed    bool
	Timestamp int64
}

// PositionRebalancedEvent is emitted when RebalancePosition commits.
type PositionRebalancedEvent struct {
	User           common.Address
	Pool           common.Hash
	OldReceipt     common.Hash
	NewReceipt     common.Hash
	TickLower      int32
	TickUpper      int32
	RebalanceCount uint32
	Timestamp      int64
}

// GlobalInitializedEvent is emitted when the admin seat is claimed.
type GlobalInitializedEvent struct {
	Admin     common.Address
	Timestamp int64
}

// CustodyCreatedEvent is emitted on user onboarding.
type CustodyCreatedEvent struct {
	Owner     common.Address
	Timestamp int64
}

// PausedEvent and UnpausedEvent track the global pause flag.
type PausedEvent struct {
	Admin     common.Address
	Timestamp int64
}

type UnpausedEvent struct {
	Admin     common.Address
	Timestamp int64
}

// AdminProposedEvent and AdminRotatedEvent track two-step rotation.
type AdminProposedEvent struct {
	Admin     common.Address
	Candidate common.Address
}

type AdminRotatedEvent struct {
	Admin common.Address
}

// ParamsUpdatedEvent is emitted on a successful bounds update.
type ParamsUpdatedEvent struct {
	Admin       common.Address
	SlippageBps uint16
}
