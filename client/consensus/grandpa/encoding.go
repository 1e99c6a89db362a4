// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"bytes"
	"fmt"

	"github.com/ChainSafe/grandpa-client/client/api"
	grandpa "github.com/ChainSafe/grandpa-client/pkg/finality-grandpa"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/exp/constraints"
)

// scaleEncode returns the parity scale encoding of value
func scaleEncode(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := scale.NewEncoder(&buffer)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// scaleDecode decodes data into a value of type T
func scaleDecode[T any](data []byte) (T, error) {
	var value T
	decoder := scale.NewDecoder(bytes.NewReader(data))
	err := decoder.Decode(&value)
	return value, err
}

// loadDecode reads the value stored under key and decodes it. A missing key
// is not an error and returns nil, a present but undecodable value is
// reported as corruption.
func loadDecode[T any](store api.AuxStore, key []byte) (*T, error) {
	encoded, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	if encoded == nil {
		return nil, nil
	}

	value, err := scaleDecode[T](*encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding value for key 0x%x: GRANDPA DB is corrupted: %w", key, err)
	}
	return &value, nil
}

func encodeOption[T any](encoder scale.Encoder, value *T) error {
	if value == nil {
		return encoder.EncodeOption(false, nil)
	}
	return encoder.EncodeOption(true, *value)
}

func decodeOption[T any](decoder scale.Decoder) (*T, error) {
	var hasValue bool
	var value T
	if err := decoder.DecodeOption(&hasValue, &value); err != nil {
		return nil, err
	}
	if !hasValue {
		return nil, nil
	}
	return &value, nil
}

// v0PendingChange A pending change in the oldest on-disk format. Only
// standard changes existed then, so no delay kind is stored.
type v0PendingChange[H comparable, N constraints.Unsigned] struct {
	NextAuthorities []Authority
	Delay           N
	CanonHeight     N
	CanonHash       H
}

// v0AuthoritySet The oldest on-disk authority set format, with a flat list
// of pending changes instead of a fork-indexed tree.
type v0AuthoritySet[H comparable, N constraints.Unsigned] struct {
	CurrentAuthorities []Authority
	SetID              uint64
	PendingChanges     []v0PendingChange[H, N]
}

// migrate promotes the flat pending change list into the fork-indexed tree.
// Conflicting changes cannot be represented in the new format, they are
// dropped with a warning since only one pending change per fork was
// previously supported.
func (old v0AuthoritySet[H, N]) migrate() AuthoritySet[H, N] {
	pendingStandardChanges := NewChangeTree[H, N]()

	for _, oldChange := range old.PendingChanges {
		change := PendingChange[H, N]{
			NextAuthorities: oldChange.NextAuthorities,
			Delay:           oldChange.Delay,
			CanonHeight:     oldChange.CanonHeight,
			CanonHash:       oldChange.CanonHash,
			DelayKind:       newDelayKind[N](Finalized{}),
		}

		_, err := pendingStandardChanges.Import(
			change.CanonHash,
			change.CanonHeight,
			change,
			func(_, _ H) (bool, error) { return false, nil },
		)
		if err != nil {
			logger.Warnf("error migrating pending authority set change: %s", err)
			logger.Warnf("node is in a potentially inconsistent state")
		}
	}

	return AuthoritySet[H, N]{
		CurrentAuthorities:     old.CurrentAuthorities,
		SetID:                  old.SetID,
		PendingStandardChanges: pendingStandardChanges,
		PendingForcedChanges:   []PendingChange[H, N]{},
	}
}

// v0VoterSetState The oldest voter state format, a single round number and
// round state pair.
type v0VoterSetState[H comparable, N constraints.Unsigned] struct {
	Number uint64
	State  grandpa.RoundState[H, N]
}

// v1VoterSetState The second on-disk voter state format, a tagged single
// round snapshot with no historical window. The paused variant comes first
// in the encoding.
type v1VoterSetState[H comparable, N constraints.Unsigned] struct {
	Paused bool
	Number uint64
	State  grandpa.RoundState[H, N]
}

// Encode implements parity scale codec for `v1VoterSetState`
func (v v1VoterSetState[H, N]) Encode(encoder scale.Encoder) error {
	variant := byte(1)
	if v.Paused {
		variant = 0
	}
	if err := encoder.PushByte(variant); err != nil {
		return err
	}
	if err := encoder.Encode(v.Number); err != nil {
		return err
	}
	return encoder.Encode(v.State)
}

// Decode implements parity scale codec for `v1VoterSetState`
func (v *v1VoterSetState[H, N]) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch variant {
	case 0:
		v.Paused = true
	case 1:
		v.Paused = false
	default:
		return fmt.Errorf("invalid v1VoterSetState variant: %d", variant)
	}
	if err := decoder.Decode(&v.Number); err != nil {
		return err
	}
	return decoder.Decode(&v.State)
}

// v2CompletedRound A completed round in the third on-disk format, where the
// observed votes are a flat chronological list.
type v2CompletedRound[H comparable, N constraints.Unsigned] struct {
	Number uint64
	State  grandpa.RoundState[H, N]
	Base   grandpa.HashNumber[H, N]
	Votes  []grandpa.SignedMessage[H, N, AuthoritySignature, AuthorityID]
}

// v2VoterSetStateLive The voter is live, i.e. participating in rounds.
type v2VoterSetStateLive[H comparable, N constraints.Unsigned] struct {
	CompletedRounds []v2CompletedRound[H, N]
	CurrentRound    hasVoted[H, N]
}

// v2VoterSetStatePaused The voter is paused, i.e. not casting or importing any votes.
type v2VoterSetStatePaused[H comparable, N constraints.Unsigned] struct {
	CompletedRounds []v2CompletedRound[H, N]
}

// v2VoterSetState The third on-disk voter state format, which already has a
// historical window of completed rounds and the live/paused distinction but
// stores the per-round vote log flat.
type v2VoterSetState[H comparable, N constraints.Unsigned] struct {
	value any
}

// Encode implements parity scale codec for `v2VoterSetState`
func (v v2VoterSetState[H, N]) Encode(encoder scale.Encoder) error {
	switch val := v.value.(type) {
	case v2VoterSetStateLive[H, N]:
		if err := encoder.PushByte(0); err != nil {
			return err
		}
		if err := encoder.Encode(val.CompletedRounds); err != nil {
			return err
		}
		return encoder.Encode(val.CurrentRound)
	case v2VoterSetStatePaused[H, N]:
		if err := encoder.PushByte(1); err != nil {
			return err
		}
		return encoder.Encode(val.CompletedRounds)
	default:
		return fmt.Errorf("unsupported v2VoterSetState variant: %T", v.value)
	}
}

// Decode implements parity scale codec for `v2VoterSetState`
func (v *v2VoterSetState[H, N]) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch variant {
	case 0:
		live := v2VoterSetStateLive[H, N]{}
		if err := decoder.Decode(&live.CompletedRounds); err != nil {
			return err
		}
		if err := decoder.Decode(&live.CurrentRound); err != nil {
			return err
		}
		v.value = live
	case 1:
		paused := v2VoterSetStatePaused[H, N]{}
		if err := decoder.Decode(&paused.CompletedRounds); err != nil {
			return err
		}
		v.value = paused
	default:
		return fmt.Errorf("invalid v2VoterSetState variant: %d", variant)
	}
	return nil
}

// migrate reinterprets the flat vote logs into the structured per-round vote
// history and stamps the completed rounds window with the authority set's
// current set id and voters. The vote-cast record of a live state is carried
// over unchanged.
func (v v2VoterSetState[H, N]) migrate(set AuthoritySet[H, N]) (voterSetState[H, N], error) {
	setID, authorities := set.current()

	var voterIDs []AuthorityID
	for _, auth := range *authorities {
		voterIDs = append(voterIDs, auth.ID)
	}

	transform := func(oldRounds []v2CompletedRound[H, N]) completedRounds[H, N] {
		rounds := make([]completedRound[H, N], 0, len(oldRounds))
		for _, oldRound := range oldRounds {
			rounds = append(rounds, completedRound[H, N]{
				Number: oldRound.Number,
				State:  oldRound.State,
				Base:   oldRound.Base,
				Votes:  grandpa.NewHistoricalVotesWith(oldRound.Votes, nil, nil),
			})
		}
		return completedRounds[H, N]{
			Rounds: rounds,
			SetID:  setID,
			Voters: voterIDs,
		}
	}

	switch val := v.value.(type) {
	case v2VoterSetStateLive[H, N]:
		return newVoterSetState[H, N](voterSetStateLive[H, N]{
			CompletedRounds: transform(val.CompletedRounds),
			CurrentRound:    val.CurrentRound,
		}), nil
	case v2VoterSetStatePaused[H, N]:
		return newVoterSetState[H, N](voterSetStatePaused[H, N]{
			CompletedRounds: transform(val.CompletedRounds),
		}), nil
	default:
		return voterSetState[H, N]{}, fmt.Errorf("unsupported v2VoterSetState variant: %T", v.value)
	}
}
