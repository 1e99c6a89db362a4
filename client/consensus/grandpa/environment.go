// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"fmt"
	"sync"

	grandpa "github.com/ChainSafe/grandpa-client/pkg/finality-grandpa"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// completedRound Data about a completed round. The set of votes that is stored must be
// minimal, i.e. at most one equivocation is stored per voter.
type completedRound[H comparable, N constraints.Unsigned] struct {
	// The round number
	Number uint64
	// The round state (prevote ghost, estimate, finalized, etc.)
	State grandpa.RoundState[H, N]
	// The target block base used for voting in the round
	Base grandpa.HashNumber[H, N]
	// All the votes observed in the round
	Votes grandpa.HistoricalVotes[H, N, AuthoritySignature, AuthorityID]
}

// NewCompletedRound builds the record of a finished round. Rounds can only
// complete once a prevote-GHOST block is known, so a state without one is
// reported as an internal defect instead of being stored.
func NewCompletedRound[H comparable, N constraints.Unsigned](number uint64,
	state grandpa.RoundState[H, N],
	base grandpa.HashNumber[H, N],
	votes grandpa.HistoricalVotes[H, N, AuthoritySignature, AuthorityID],
) (*completedRound[H, N], error) {
	if state.PrevoteGHOST == nil {
		return nil, fmt.Errorf("%w: round %d", errMissingPrevoteGHOST, number)
	}
	return &completedRound[H, N]{
		Number: number,
		State:  state,
		Base:   base,
		Votes:  votes,
	}, nil
}

// NumLastCompletedRounds NOTE: the current strategy for persisting completed rounds is very naive
// (update everything) and we also rely on cloning to do atomic updates,
// therefore this value should be kept small for now.
const NumLastCompletedRounds = 2

// completedRounds Data about last completed rounds within a single voter set. Stores
// NumLastCompletedRounds and always contains data about at least one round
// (genesis).
type completedRounds[H comparable, N constraints.Unsigned] struct {
	Rounds []completedRound[H, N]
	SetID  uint64
	Voters []AuthorityID
}

// NewCompletedRounds Create a new completed rounds tracker with NumLastCompletedRounds capacity.
func NewCompletedRounds[H comparable, N constraints.Unsigned](genesis *completedRound[H, N],
	setID uint64,
	voters AuthoritySet[H, N]) completedRounds[H, N] {
	rounds := make([]completedRound[H, N], 0, NumLastCompletedRounds)
	if genesis != nil {
		rounds = append(rounds, *genesis)
	}

	var voterIDs []AuthorityID
	for _, auth := range voters.CurrentAuthorities {
		voterIDs = append(voterIDs, auth.ID)
	}

	return completedRounds[H, N]{
		rounds,
		setID,
		voterIDs,
	}
}

// last Returns the last (latest) completed round
func (compRounds *completedRounds[H, N]) last() completedRound[H, N] {
	if len(compRounds.Rounds) == 0 {
		panic("inner is never empty; always contains at least genesis; qed")
	}
	return compRounds.Rounds[len(compRounds.Rounds)-1]
}

// push a new completed round, oldest round is evicted if number of rounds
// is higher than NumLastCompletedRounds. Rounds are kept sorted oldest first.
func (compRounds *completedRounds[H, N]) push(compRound completedRound[H, N]) {
	idx, found := slices.BinarySearchFunc(
		compRounds.Rounds,
		compRound,
		func(a, b completedRound[H, N]) int {
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

	if found {
		compRounds.Rounds[idx] = compRound
	} else {
		compRounds.Rounds = slices.Insert(compRounds.Rounds, idx, compRound)
	}

	if len(compRounds.Rounds) > NumLastCompletedRounds {
		compRounds.Rounds = compRounds.Rounds[1:]
	}
}

// voterSetState The state of the current voting round in progress
type voterSetState[H comparable, N constraints.Unsigned] struct {
	value any
}

// voterSetStateLive The voter is live, i.e. participating in rounds.
type voterSetStateLive[H comparable, N constraints.Unsigned] struct {
	// The previously completed rounds
	CompletedRounds completedRounds[H, N]
	// Voter status for the active round
	CurrentRound hasVoted[H, N]
}

// voterSetStatePaused The voter is paused, i.e. not casting or importing any votes.
type voterSetStatePaused[H comparable, N constraints.Unsigned] struct {
	// The previously completed rounds
	CompletedRounds completedRounds[H, N]
}

// voterSetStates is the interface constraint of voterSetState
type voterSetStates[H comparable, N constraints.Unsigned] interface {
	voterSetStateLive[H, N] | voterSetStatePaused[H, N]
}

func setVoterSetState[H comparable, N constraints.Unsigned, T voterSetStates[H, N]](
	state *voterSetState[H, N], val T) {
	state.value = val
}

func newVoterSetState[H comparable, N constraints.Unsigned, T voterSetStates[H, N]](
	val T) voterSetState[H, N] {
	state := voterSetState[H, N]{}
	setVoterSetState(&state, val)
	return state
}

// Value returns the current live or paused value
func (vss voterSetState[H, N]) Value() any {
	return vss.value
}

// NewLiveVoterSetState Create a new live voterSetState with round 0 as a completed round using
// the given genesis state and the given authorities. Round 1 is the active
// round with no votes cast.
func NewLiveVoterSetState[H comparable, N constraints.Unsigned](setID uint64,
	authSet AuthoritySet[H, N],
	genesisState grandpa.HashNumber[H, N]) voterSetState[H, N] {
	state := grandpa.NewRoundState(genesisState)
	completedRounds := NewCompletedRounds(
		&completedRound[H, N]{
			State: state,
			Base:  genesisState,
			Votes: grandpa.NewHistoricalVotes[H, N, AuthoritySignature, AuthorityID](),
		},
		setID,
		authSet,
	)

	return newVoterSetState[H, N](voterSetStateLive[H, N]{
		CompletedRounds: completedRounds,
		CurrentRound:    newHasVoted[H, N](no{}),
	})
}

// completedRounds Returns the last completed rounds
func (vss *voterSetState[H, N]) completedRounds() (completedRounds[H, N], error) {
	switch v := vss.value.(type) {
	case voterSetStateLive[H, N]:
		return v.CompletedRounds, nil
	case voterSetStatePaused[H, N]:
		return v.CompletedRounds, nil
	default:
		return completedRounds[H, N]{}, fmt.Errorf("completedRounds: invalid voter set state: %T", vss.value)
	}
}

// lastCompletedRound Returns the last completed round
func (vss *voterSetState[H, N]) lastCompletedRound() (completedRound[H, N], error) {
	compRounds, err := vss.completedRounds()
	if err != nil {
		return completedRound[H, N]{}, err
	}
	return compRounds.last(), nil
}

// Encode implements parity scale codec for `voterSetState`
func (vss voterSetState[H, N]) Encode(encoder scale.Encoder) error {
	switch v := vss.value.(type) {
	case voterSetStateLive[H, N]:
		if err := encoder.PushByte(0); err != nil {
			return err
		}
		if err := encoder.Encode(v.CompletedRounds); err != nil {
			return err
		}
		return encoder.Encode(v.CurrentRound)
	case voterSetStatePaused[H, N]:
		if err := encoder.PushByte(1); err != nil {
			return err
		}
		return encoder.Encode(v.CompletedRounds)
	default:
		return fmt.Errorf("unsupported voterSetState variant: %T", vss.value)
	}
}

// Decode implements parity scale codec for `voterSetState`
func (vss *voterSetState[H, N]) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch variant {
	case 0:
		live := voterSetStateLive[H, N]{}
		if err := decoder.Decode(&live.CompletedRounds); err != nil {
			return err
		}
		if err := decoder.Decode(&live.CurrentRound); err != nil {
			return err
		}
		setVoterSetState(vss, live)
	case 1:
		paused := voterSetStatePaused[H, N]{}
		if err := decoder.Decode(&paused.CompletedRounds); err != nil {
			return err
		}
		setVoterSetState(vss, paused)
	default:
		return fmt.Errorf("invalid voterSetState variant: %d", variant)
	}
	return nil
}

// SharedVoterSetState A voter set state meant to be shared safely across multiple owners
type SharedVoterSetState[H comparable, N constraints.Unsigned] struct {
	mtx   sync.RWMutex
	inner voterSetState[H, N]
}

// NewSharedVoterSetState is constructor to create SharedVoterSetState
func NewSharedVoterSetState[H comparable, N constraints.Unsigned](
	state voterSetState[H, N]) SharedVoterSetState[H, N] {
	return SharedVoterSetState[H, N]{
		inner: state,
	}
}

// Read returns the voterSetState
func (svss *SharedVoterSetState[H, N]) Read() voterSetState[H, N] {
	svss.mtx.RLock()
	defer svss.mtx.RUnlock()
	return svss.inner
}

// hasVoted returns the voter status of the active round, or no when the
// voter is paused.
func (svss *SharedVoterSetState[H, N]) hasVoted() hasVoted[H, N] {
	svss.mtx.RLock()
	defer svss.mtx.RUnlock()

	switch v := svss.inner.value.(type) {
	case voterSetStateLive[H, N]:
		return v.CurrentRound
	default:
		return newHasVoted[H, N](no{})
	}
}

// hasVoted Whether we've voted already during a prior run of the program
type hasVoted[H comparable, N constraints.Unsigned] struct {
	value any
}

// no Has not voted already in this round
type no struct{}

// yes Has voted in this round
type yes[H comparable, N constraints.Unsigned] struct {
	AuthID AuthorityID
	Vote   vote[H, N]
}

// hasVotedKinds is the interface constraint of hasVoted
type hasVotedKinds[H comparable, N constraints.Unsigned] interface {
	no | yes[H, N]
}

func setHasVoted[H comparable, N constraints.Unsigned, T hasVotedKinds[H, N]](
	hv *hasVoted[H, N], val T) {
	hv.value = val
}

func newHasVoted[H comparable, N constraints.Unsigned, T hasVotedKinds[H, N]](val T) hasVoted[H, N] {
	hv := hasVoted[H, N]{}
	setHasVoted(&hv, val)
	return hv
}

// Propose Returns the proposal we should vote with (if any.)
func (hv *hasVoted[H, N]) Propose() *grandpa.PrimaryPropose[H, N] {
	switch v := hv.value.(type) {
	case yes[H, N]:
		switch vote := v.Vote.value.(type) {
		case propose[H, N]:
			return &vote.PrimaryPropose
		case prevote[H, N]:
			return vote.PrimaryPropose
		case precommit[H, N]:
			return vote.PrimaryPropose
		}
	}

	return nil
}

// Prevote Returns the prevote we should vote with (if any.)
func (hv *hasVoted[H, N]) Prevote() *grandpa.Prevote[H, N] {
	switch v := hv.value.(type) {
	case yes[H, N]:
		switch vote := v.Vote.value.(type) {
		case prevote[H, N]:
			return &vote.Vote
		case precommit[H, N]:
			return &vote.Vote
		}
	}

	return nil
}

// Precommit Returns the precommit we should vote with (if any.)
func (hv *hasVoted[H, N]) Precommit() *grandpa.Precommit[H, N] {
	switch v := hv.value.(type) {
	case yes[H, N]:
		switch vote := v.Vote.value.(type) {
		case precommit[H, N]:
			return &vote.Commit
		}
	}

	return nil
}

// CanPropose Returns true if the voter can still propose, false otherwise
func (hv *hasVoted[H, N]) CanPropose() bool {
	return hv.Propose() == nil
}

// CanPrevote Returns true if the voter can still prevote, false otherwise
func (hv *hasVoted[H, N]) CanPrevote() bool {
	return hv.Prevote() == nil
}

// CanPrecommit Returns true if the voter can still precommit, false otherwise
func (hv *hasVoted[H, N]) CanPrecommit() bool {
	return hv.Precommit() == nil
}

// Encode implements parity scale codec for `hasVoted`. The zero value
// encodes as no.
func (hv hasVoted[H, N]) Encode(encoder scale.Encoder) error {
	switch v := hv.value.(type) {
	case yes[H, N]:
		if err := encoder.PushByte(1); err != nil {
			return err
		}
		if err := encoder.Encode(v.AuthID); err != nil {
			return err
		}
		return encoder.Encode(v.Vote)
	default:
		return encoder.PushByte(0)
	}
}

// Decode implements parity scale codec for `hasVoted`
func (hv *hasVoted[H, N]) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch variant {
	case 0:
		setHasVoted(hv, no{})
	case 1:
		voted := yes[H, N]{}
		if err := decoder.Decode(&voted.AuthID); err != nil {
			return err
		}
		if err := decoder.Decode(&voted.Vote); err != nil {
			return err
		}
		setHasVoted(hv, voted)
	default:
		return fmt.Errorf("invalid hasVoted variant: %d", variant)
	}
	return nil
}

// vote Whether we've voted already during a prior run of the program
type vote[H comparable, N constraints.Unsigned] struct {
	value any
}

// propose Has cast a proposal
type propose[H comparable, N constraints.Unsigned] struct {
	PrimaryPropose grandpa.PrimaryPropose[H, N]
}

// prevote Has cast a prevote
type prevote[H comparable, N constraints.Unsigned] struct {
	PrimaryPropose *grandpa.PrimaryPropose[H, N]
	Vote           grandpa.Prevote[H, N]
}

// precommit Has cast a precommit (implies prevote.)
type precommit[H comparable, N constraints.Unsigned] struct {
	PrimaryPropose *grandpa.PrimaryPropose[H, N]
	Vote           grandpa.Prevote[H, N]
	Commit         grandpa.Precommit[H, N]
}

// votes is the interface constraint of vote
type votes[H comparable, N constraints.Unsigned] interface {
	propose[H, N] | prevote[H, N] | precommit[H, N]
}

func setVote[H comparable, N constraints.Unsigned, T votes[H, N]](v *vote[H, N], val T) {
	v.value = val
}

func newVote[H comparable, N constraints.Unsigned, T votes[H, N]](val T) vote[H, N] {
	v := vote[H, N]{}
	setVote(&v, val)
	return v
}

// Encode implements parity scale codec for `vote`
func (v vote[H, N]) Encode(encoder scale.Encoder) error {
	switch val := v.value.(type) {
	case propose[H, N]:
		if err := encoder.PushByte(0); err != nil {
			return err
		}
		return encoder.Encode(val.PrimaryPropose)
	case prevote[H, N]:
		if err := encoder.PushByte(1); err != nil {
			return err
		}
		if err := encodeOption(encoder, val.PrimaryPropose); err != nil {
			return err
		}
		return encoder.Encode(val.Vote)
	case precommit[H, N]:
		if err := encoder.PushByte(2); err != nil {
			return err
		}
		if err := encodeOption(encoder, val.PrimaryPropose); err != nil {
			return err
		}
		if err := encoder.Encode(val.Vote); err != nil {
			return err
		}
		return encoder.Encode(val.Commit)
	default:
		return fmt.Errorf("unsupported vote variant: %T", v.value)
	}
}

// Decode implements parity scale codec for `vote`
func (v *vote[H, N]) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch variant {
	case 0:
		proposed := propose[H, N]{}
		if err := decoder.Decode(&proposed.PrimaryPropose); err != nil {
			return err
		}
		setVote(v, proposed)
	case 1:
		prevoted := prevote[H, N]{}
		primaryPropose, err := decodeOption[grandpa.PrimaryPropose[H, N]](decoder)
		if err != nil {
			return err
		}
		prevoted.PrimaryPropose = primaryPropose
		if err := decoder.Decode(&prevoted.Vote); err != nil {
			return err
		}
		setVote(v, prevoted)
	case 2:
		precommitted := precommit[H, N]{}
		primaryPropose, err := decodeOption[grandpa.PrimaryPropose[H, N]](decoder)
		if err != nil {
			return err
		}
		precommitted.PrimaryPropose = primaryPropose
		if err := decoder.Decode(&precommitted.Vote); err != nil {
			return err
		}
		if err := decoder.Decode(&precommitted.Commit); err != nil {
			return err
		}
		setVote(v, precommitted)
	default:
		return fmt.Errorf("invalid vote variant: %d", variant)
	}
	return nil
}
