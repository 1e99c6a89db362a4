// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// RoundState is the state of the round.
type RoundState[Hash, Number any] struct {
	// The prevote-GHOST block.
	PrevoteGHOST *HashNumber[Hash, Number]
	// The finalized block.
	Finalized *HashNumber[Hash, Number]
	// The new round-estimate.
	Estimate *HashNumber[Hash, Number]
	// Whether the round is completable.
	Completable bool
}

// NewRoundState is constructor of `RoundState` from a given genesis state.
func NewRoundState[Hash, Number any](genesis HashNumber[Hash, Number]) RoundState[Hash, Number] {
	return RoundState[Hash, Number]{
		PrevoteGHOST: &genesis,
		Finalized:    &genesis,
		Estimate:     &genesis,
		Completable:  true,
	}
}

// Encode implements parity scale codec for `RoundState`
func (rs RoundState[H, N]) Encode(encoder scale.Encoder) error {
	if err := encodeOption(encoder, rs.PrevoteGHOST); err != nil {
		return err
	}
	if err := encodeOption(encoder, rs.Finalized); err != nil {
		return err
	}
	if err := encodeOption(encoder, rs.Estimate); err != nil {
		return err
	}
	return encoder.Encode(rs.Completable)
}

// Decode implements parity scale codec for `RoundState`
func (rs *RoundState[H, N]) Decode(decoder scale.Decoder) error {
	prevoteGHOST, err := decodeOption[HashNumber[H, N]](decoder)
	if err != nil {
		return err
	}
	rs.PrevoteGHOST = prevoteGHOST
	finalized, err := decodeOption[HashNumber[H, N]](decoder)
	if err != nil {
		return err
	}
	rs.Finalized = finalized
	estimate, err := decodeOption[HashNumber[H, N]](decoder)
	if err != nil {
		return err
	}
	rs.Estimate = estimate
	return decoder.Decode(&rs.Completable)
}
