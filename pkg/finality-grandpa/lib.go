// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// HashNumber contains a block hash and block number
type HashNumber[Hash, Number any] struct {
	Hash   Hash
	Number Number
}

type targetHashTargetNumber[Hash, Number any] struct {
	TargetHash   Hash
	TargetNumber Number
}

// Prevote is a prevote for a block and its ancestors.
type Prevote[Hash, Number any] targetHashTargetNumber[Hash, Number]

// Precommit is a precommit for a block and its ancestors.
type Precommit[Hash, Number any] targetHashTargetNumber[Hash, Number]

// PrimaryPropose is a primary proposed block, this is a broadcast of the last round's estimate.
type PrimaryPropose[Hash, Number any] targetHashTargetNumber[Hash, Number]

// Message is a protocol message or vote.
type Message[Hash, Number any] struct {
	value any
}

// Messages is the interface constraint for `Message`
type Messages[Hash, Number any] interface {
	Prevote[Hash, Number] | Precommit[Hash, Number] | PrimaryPropose[Hash, Number]
}

func setMessage[Hash, Number any, T Messages[Hash, Number]](m *Message[Hash, Number], val T) {
	m.value = val
}

// NewMessage is constructor for `Message`
func NewMessage[Hash, Number any, T Messages[Hash, Number]](val T) (m Message[Hash, Number]) {
	msg := Message[Hash, Number]{}
	setMessage(&msg, val)
	return msg
}

// Value returns the message constrained by `Messages`
func (m Message[H, N]) Value() any {
	return m.value
}

// Target returns the target block of the vote.
func (m Message[H, N]) Target() HashNumber[H, N] {
	switch message := m.value.(type) {
	case Prevote[H, N]:
		return HashNumber[H, N]{message.TargetHash, message.TargetNumber}
	case Precommit[H, N]:
		return HashNumber[H, N]{message.TargetHash, message.TargetNumber}
	case PrimaryPropose[H, N]:
		return HashNumber[H, N]{message.TargetHash, message.TargetNumber}
	default:
		panic("unsupported type")
	}
}

// Encode implements parity scale codec for `Message`
func (m Message[H, N]) Encode(encoder scale.Encoder) error {
	switch message := m.value.(type) {
	case Prevote[H, N]:
		if err := encoder.PushByte(0); err != nil {
			return err
		}
		return encoder.Encode(message)
	case Precommit[H, N]:
		if err := encoder.PushByte(1); err != nil {
			return err
		}
		return encoder.Encode(message)
	case PrimaryPropose[H, N]:
		if err := encoder.PushByte(2); err != nil {
			return err
		}
		return encoder.Encode(message)
	default:
		return fmt.Errorf("unsupported message variant: %T", m.value)
	}
}

// Decode implements parity scale codec for `Message`
func (m *Message[H, N]) Decode(decoder scale.Decoder) error {
	b, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch b {
	case 0:
		var prevote Prevote[H, N]
		if err := decoder.Decode(&prevote); err != nil {
			return err
		}
		m.value = prevote
	case 1:
		var precommit Precommit[H, N]
		if err := decoder.Decode(&precommit); err != nil {
			return err
		}
		m.value = precommit
	case 2:
		var primaryPropose PrimaryPropose[H, N]
		if err := decoder.Decode(&primaryPropose); err != nil {
			return err
		}
		m.value = primaryPropose
	default:
		return fmt.Errorf("unsupported message variant index: %d", b)
	}
	return nil
}

// SignedMessage is a signed message.
type SignedMessage[Hash, Number, Signature, ID any] struct {
	// The internal message which has been signed.
	Message Message[Hash, Number]
	// The signature on the message.
	Signature Signature
	// The Id of the signer
	ID ID
}

// HistoricalVotes contains the historical votes seen in a round.
type HistoricalVotes[Hash, Number, Signature, ID any] struct {
	SeenMessages []SignedMessage[Hash, Number, Signature, ID]
	PrevoteIdx   *uint64
	PrecommitIdx *uint64
}

// NewHistoricalVotes creates a new HistoricalVotes.
func NewHistoricalVotes[Hash, Number, Signature, ID any]() HistoricalVotes[Hash, Number, Signature, ID] {
	return HistoricalVotes[Hash, Number, Signature, ID]{
		SeenMessages: make([]SignedMessage[Hash, Number, Signature, ID], 0),
	}
}

// NewHistoricalVotesWith creates a new HistoricalVotes from the given seen messages and indices.
func NewHistoricalVotesWith[Hash, Number, Signature, ID any](
	seen []SignedMessage[Hash, Number, Signature, ID],
	prevoteIdx, precommitIdx *uint64,
) HistoricalVotes[Hash, Number, Signature, ID] {
	if seen == nil {
		seen = make([]SignedMessage[Hash, Number, Signature, ID], 0)
	}
	return HistoricalVotes[Hash, Number, Signature, ID]{
		SeenMessages: seen,
		PrevoteIdx:   prevoteIdx,
		PrecommitIdx: precommitIdx,
	}
}

// PushVote pushes a vote into the list. The value of `self` before this call
// is considered to be a prefix of the value post-call.
func (hv *HistoricalVotes[H, N, S, ID]) PushVote(msg SignedMessage[H, N, S, ID]) {
	hv.SeenMessages = append(hv.SeenMessages, msg)
}

// SetPrevotedIdx sets the number of messages seen before prevoting.
func (hv *HistoricalVotes[H, N, S, ID]) SetPrevotedIdx() {
	idx := uint64(len(hv.SeenMessages))
	hv.PrevoteIdx = &idx
}

// SetPrecommittedIdx sets the number of messages seen before precommiting.
func (hv *HistoricalVotes[H, N, S, ID]) SetPrecommittedIdx() {
	idx := uint64(len(hv.SeenMessages))
	hv.PrecommitIdx = &idx
}

// Encode implements parity scale codec for `HistoricalVotes`
func (hv HistoricalVotes[H, N, S, ID]) Encode(encoder scale.Encoder) error {
	if err := encoder.Encode(hv.SeenMessages); err != nil {
		return err
	}
	if err := encodeOption(encoder, hv.PrevoteIdx); err != nil {
		return err
	}
	return encodeOption(encoder, hv.PrecommitIdx)
}

// Decode implements parity scale codec for `HistoricalVotes`
func (hv *HistoricalVotes[H, N, S, ID]) Decode(decoder scale.Decoder) error {
	if err := decoder.Decode(&hv.SeenMessages); err != nil {
		return err
	}
	// an empty vector decodes to nil; keep the constructors' empty slice
	if hv.SeenMessages == nil {
		hv.SeenMessages = make([]SignedMessage[H, N, S, ID], 0)
	}
	prevoteIdx, err := decodeOption[uint64](decoder)
	if err != nil {
		return err
	}
	hv.PrevoteIdx = prevoteIdx
	precommitIdx, err := decodeOption[uint64](decoder)
	if err != nil {
		return err
	}
	hv.PrecommitIdx = precommitIdx
	return nil
}

func encodeOption[T any](encoder scale.Encoder, value *T) error {
	if value == nil {
		return encoder.EncodeOption(false, nil)
	}
	return encoder.EncodeOption(true, *value)
}

func decodeOption[T any](decoder scale.Decoder) (*T, error) {
	var (
		hasValue bool
		value    T
	)
	if err := decoder.DecodeOption(&hasValue, &value); err != nil {
		return nil, err
	}
	if !hasValue {
		return nil, nil //nolint:nilnil
	}
	return &value, nil
}
