// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"math/big"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// consensusChange is a block at which a consensus change was signalled
type consensusChange[H comparable, N constraints.Unsigned] struct {
	Number N
	Hash   H
}

// ConsensusChanges Keeps track of the blocks on which a consensus change was
// signalled, sorted ascending by block number.
type ConsensusChanges[H comparable, N constraints.Unsigned] struct {
	pendingChanges []consensusChange[H, N]
}

// NewConsensusChanges creates an empty consensus changes log
func NewConsensusChanges[H comparable, N constraints.Unsigned]() ConsensusChanges[H, N] {
	return ConsensusChanges[H, N]{}
}

// NoteChange notes a consensus change at the given block, keeping the log ordered
func (cc *ConsensusChanges[H, N]) NoteChange(number N, hash H) {
	change := consensusChange[H, N]{Number: number, Hash: hash}
	idx, _ := slices.BinarySearchFunc(
		cc.pendingChanges,
		change,
		func(a, b consensusChange[H, N]) int {
			switch {
			case a.Number == b.Number:
				return 0
			case a.Number < b.Number:
				return -1
			default:
				return 1
			}
		},
	)
	cc.pendingChanges = slices.Insert(cc.pendingChanges, idx, change)
}

// PendingChanges returns the logged change points in ascending block number order
func (cc *ConsensusChanges[H, N]) PendingChanges() []consensusChange[H, N] {
	return cc.pendingChanges
}

// Encode implements parity scale codec for `ConsensusChanges`
func (cc ConsensusChanges[H, N]) Encode(encoder scale.Encoder) error {
	if err := encoder.EncodeUintCompact(*big.NewInt(int64(len(cc.pendingChanges)))); err != nil {
		return err
	}
	for _, change := range cc.pendingChanges {
		if err := encoder.Encode(change.Number); err != nil {
			return err
		}
		if err := encoder.Encode(change.Hash); err != nil {
			return err
		}
	}
	return nil
}

// Decode implements parity scale codec for `ConsensusChanges`
func (cc *ConsensusChanges[H, N]) Decode(decoder scale.Decoder) error {
	length, err := decoder.DecodeUintCompact()
	if err != nil {
		return err
	}
	cc.pendingChanges = nil
	for i := uint64(0); i < length.Uint64(); i++ {
		var change consensusChange[H, N]
		if err := decoder.Decode(&change.Number); err != nil {
			return err
		}
		if err := decoder.Decode(&change.Hash); err != nil {
			return err
		}
		cc.pendingChanges = append(cc.pendingChanges, change)
	}
	return nil
}

// SharedConsensusChanges A consensus changes log meant to be shared safely
// across multiple owners
type SharedConsensusChanges[H comparable, N constraints.Unsigned] struct {
	mtx   sync.Mutex
	inner ConsensusChanges[H, N]
}

// NewSharedConsensusChanges wraps a consensus changes log for concurrent access
func NewSharedConsensusChanges[H comparable, N constraints.Unsigned](
	changes ConsensusChanges[H, N]) *SharedConsensusChanges[H, N] {
	return &SharedConsensusChanges[H, N]{inner: changes}
}

// Lock acquires the log for update and returns it with its release function
func (scc *SharedConsensusChanges[H, N]) Lock() (*ConsensusChanges[H, N], func()) {
	scc.mtx.Lock()
	return &scc.inner, scc.mtx.Unlock
}

// Inner returns a copy of the underlying consensus changes log
func (scc *SharedConsensusChanges[H, N]) Inner() ConsensusChanges[H, N] {
	scc.mtx.Lock()
	defer scc.mtx.Unlock()
	inner := scc.inner
	inner.pendingChanges = slices.Clone(scc.inner.pendingChanges)
	return inner
}
