// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/exp/constraints"
)

// Finalized Depth in finalized chain.
type Finalized struct{}

// Best Depth in best chain. The median last finalized block is calculated at the time the
// change was signalled.
type Best[N constraints.Unsigned] struct {
	medianLastFinalized N
}

// DelayKinds Kinds of delays for pending changes.
type DelayKinds[N constraints.Unsigned] interface {
	Finalized | Best[N]
}

// DelayKind struct to represent DelayKinds
type DelayKind[N constraints.Unsigned] struct {
	value any
}

func setDelayKind[N constraints.Unsigned, T DelayKinds[N]](delayKind *DelayKind[N], val T) {
	delayKind.value = val
}

func newDelayKind[N constraints.Unsigned, T DelayKinds[N]](val T) DelayKind[N] {
	delayKind := DelayKind[N]{}
	setDelayKind(&delayKind, val)
	return delayKind
}

// Value returns the current Finalized or Best value
func (dk DelayKind[N]) Value() any {
	return dk.value
}

// Encode implements parity scale codec for `DelayKind`
func (dk DelayKind[N]) Encode(encoder scale.Encoder) error {
	switch val := dk.value.(type) {
	case Finalized:
		return encoder.PushByte(0)
	case Best[N]:
		if err := encoder.PushByte(1); err != nil {
			return err
		}
		return encoder.Encode(val.medianLastFinalized)
	default:
		return fmt.Errorf("unsupported DelayKind variant: %T", dk.value)
	}
}

// Decode implements parity scale codec for `DelayKind`
func (dk *DelayKind[N]) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch variant {
	case 0:
		setDelayKind(dk, Finalized{})
	case 1:
		var median N
		if err := decoder.Decode(&median); err != nil {
			return err
		}
		setDelayKind(dk, Best[N]{medianLastFinalized: median})
	default:
		return fmt.Errorf("invalid DelayKind variant: %d", variant)
	}
	return nil
}
