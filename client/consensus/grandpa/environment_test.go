// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"testing"

	grandpa "github.com/ChainSafe/grandpa-client/pkg/finality-grandpa"
	"github.com/stretchr/testify/require"
)

func testRoundState(hash string, number uint32) grandpa.RoundState[string, uint32] {
	return grandpa.RoundState[string, uint32]{
		PrevoteGHOST: &grandpa.HashNumber[string, uint32]{Hash: hash, Number: number},
		Completable:  true,
	}
}

func testCompletedRound(t *testing.T, number uint64) completedRound[string, uint32] {
	t.Helper()
	state := testRoundState("ghost", uint32(number))
	round, err := NewCompletedRound(number, state, *state.PrevoteGHOST,
		grandpa.NewHistoricalVotes[string, uint32, AuthoritySignature, AuthorityID]())
	require.NoError(t, err)
	return *round
}

func TestNewCompletedRoundRequiresPrevoteGHOST(t *testing.T) {
	state := grandpa.RoundState[string, uint32]{}
	_, err := NewCompletedRound(1, state, grandpa.HashNumber[string, uint32]{},
		grandpa.NewHistoricalVotes[string, uint32, AuthoritySignature, AuthorityID]())
	require.ErrorIs(t, err, errMissingPrevoteGHOST)
}

func TestCompletedRoundsLast(t *testing.T) {
	set, err := NewGenesisAuthoritySet[string, uint32](genesisAuthorities(t))
	require.NoError(t, err)

	genesisRound := testCompletedRound(t, 0)
	compRounds := NewCompletedRounds(&genesisRound, 1, *set)
	require.Equal(t, genesisRound, compRounds.last())

	nextRound := testCompletedRound(t, 1)
	compRounds.push(nextRound)
	require.Equal(t, nextRound, compRounds.last())
}

func TestCompletedRoundsPushEvictsOldest(t *testing.T) {
	set, err := NewGenesisAuthoritySet[string, uint32](genesisAuthorities(t))
	require.NoError(t, err)

	genesisRound := testCompletedRound(t, 0)
	compRounds := NewCompletedRounds(&genesisRound, 1, *set)

	for number := uint64(1); number <= 3; number++ {
		compRounds.push(testCompletedRound(t, number))
		require.LessOrEqual(t, len(compRounds.Rounds), NumLastCompletedRounds)
	}

	// only the newest rounds survive, oldest first
	require.Len(t, compRounds.Rounds, NumLastCompletedRounds)
	require.Equal(t, uint64(2), compRounds.Rounds[0].Number)
	require.Equal(t, uint64(3), compRounds.Rounds[1].Number)
	require.Equal(t, uint64(3), compRounds.last().Number)
}

func TestCompletedRoundsPushReplacesSameNumber(t *testing.T) {
	set, err := NewGenesisAuthoritySet[string, uint32](genesisAuthorities(t))
	require.NoError(t, err)

	genesisRound := testCompletedRound(t, 0)
	compRounds := NewCompletedRounds(&genesisRound, 1, *set)

	replacement := testCompletedRound(t, 0)
	replacement.State = testRoundState("other", 5)
	compRounds.push(replacement)

	require.Len(t, compRounds.Rounds, 1)
	require.Equal(t, replacement, compRounds.last())
}

func TestCompletedRoundsPushOutOfOrder(t *testing.T) {
	set, err := NewGenesisAuthoritySet[string, uint32](genesisAuthorities(t))
	require.NoError(t, err)

	genesisRound := testCompletedRound(t, 5)
	compRounds := NewCompletedRounds(&genesisRound, 1, *set)
	compRounds.push(testCompletedRound(t, 3))

	require.Equal(t, uint64(3), compRounds.Rounds[0].Number)
	require.Equal(t, uint64(5), compRounds.last().Number)
}

func TestNewLiveVoterSetState(t *testing.T) {
	set, err := NewGenesisAuthoritySet[string, uint32](genesisAuthorities(t))
	require.NoError(t, err)

	genesis := grandpa.HashNumber[string, uint32]{Hash: "genesis", Number: 1}
	state := NewLiveVoterSetState(3, *set, genesis)

	live, ok := state.Value().(voterSetStateLive[string, uint32])
	require.True(t, ok)
	require.Equal(t, uint64(3), live.CompletedRounds.SetID)
	require.Equal(t, []AuthorityID{{1}}, live.CompletedRounds.Voters)
	require.Equal(t, newHasVoted[string, uint32](no{}), live.CurrentRound)

	lastRound, err := state.lastCompletedRound()
	require.NoError(t, err)
	require.Equal(t, uint64(0), lastRound.Number)
	require.Equal(t, genesis, lastRound.Base)
	require.Equal(t, &genesis, lastRound.State.PrevoteGHOST)
	require.Equal(t, &genesis, lastRound.State.Finalized)
	require.Equal(t, &genesis, lastRound.State.Estimate)
	require.True(t, lastRound.State.Completable)
}

func TestVoterSetStateScaleRoundTrip(t *testing.T) {
	set, err := NewGenesisAuthoritySet[string, uint32](genesisAuthorities(t))
	require.NoError(t, err)

	genesis := grandpa.HashNumber[string, uint32]{Hash: "genesis", Number: 1}
	live := NewLiveVoterSetState(3, *set, genesis)

	encoded, err := scaleEncode(live)
	require.NoError(t, err)
	decoded, err := scaleDecode[voterSetState[string, uint32]](encoded)
	require.NoError(t, err)
	require.Equal(t, live, decoded)

	compRounds, err := live.completedRounds()
	require.NoError(t, err)
	paused := newVoterSetState[string, uint32](voterSetStatePaused[string, uint32]{
		CompletedRounds: compRounds,
	})

	encoded, err = scaleEncode(paused)
	require.NoError(t, err)
	decoded, err = scaleDecode[voterSetState[string, uint32]](encoded)
	require.NoError(t, err)
	require.Equal(t, paused, decoded)
}

func TestSharedVoterSetStateHasVoted(t *testing.T) {
	set, err := NewGenesisAuthoritySet[string, uint32](genesisAuthorities(t))
	require.NoError(t, err)

	genesis := grandpa.HashNumber[string, uint32]{Hash: "genesis", Number: 1}
	shared := NewSharedVoterSetState(NewLiveVoterSetState(0, *set, genesis))
	require.Equal(t, newHasVoted[string, uint32](no{}), shared.hasVoted())

	compRounds, err := shared.inner.completedRounds()
	require.NoError(t, err)
	shared.inner = newVoterSetState[string, uint32](voterSetStatePaused[string, uint32]{
		CompletedRounds: compRounds,
	})
	require.Equal(t, newHasVoted[string, uint32](no{}), shared.hasVoted())
}

func TestHasVoted(t *testing.T) {
	notVoted := newHasVoted[string, uint32](no{})
	require.True(t, notVoted.CanPropose())
	require.True(t, notVoted.CanPrevote())
	require.True(t, notVoted.CanPrecommit())
	require.Nil(t, notVoted.Propose())
	require.Nil(t, notVoted.Prevote())
	require.Nil(t, notVoted.Precommit())

	primaryPropose := grandpa.PrimaryPropose[string, uint32]{TargetHash: "a", TargetNumber: 1}
	proposed := newHasVoted[string, uint32](yes[string, uint32]{
		AuthID: AuthorityID{1},
		Vote:   newVote[string, uint32](propose[string, uint32]{PrimaryPropose: primaryPropose}),
	})
	require.False(t, proposed.CanPropose())
	require.True(t, proposed.CanPrevote())
	require.True(t, proposed.CanPrecommit())
	require.Equal(t, &primaryPropose, proposed.Propose())

	prevoteVote := grandpa.Prevote[string, uint32]{TargetHash: "b", TargetNumber: 2}
	prevoted := newHasVoted[string, uint32](yes[string, uint32]{
		AuthID: AuthorityID{1},
		Vote: newVote[string, uint32](prevote[string, uint32]{
			PrimaryPropose: &primaryPropose,
			Vote:           prevoteVote,
		}),
	})
	require.False(t, prevoted.CanPropose())
	require.False(t, prevoted.CanPrevote())
	require.True(t, prevoted.CanPrecommit())
	require.Equal(t, &primaryPropose, prevoted.Propose())
	require.Equal(t, &prevoteVote, prevoted.Prevote())

	precommitVote := grandpa.Precommit[string, uint32]{TargetHash: "b", TargetNumber: 2}
	precommitted := newHasVoted[string, uint32](yes[string, uint32]{
		AuthID: AuthorityID{1},
		Vote: newVote[string, uint32](precommit[string, uint32]{
			PrimaryPropose: &primaryPropose,
			Vote:           prevoteVote,
			Commit:         precommitVote,
		}),
	})
	require.False(t, precommitted.CanPropose())
	require.False(t, precommitted.CanPrevote())
	require.False(t, precommitted.CanPrecommit())
	require.Equal(t, &prevoteVote, precommitted.Prevote())
	require.Equal(t, &precommitVote, precommitted.Precommit())
}

func TestHasVotedScaleRoundTrip(t *testing.T) {
	primaryPropose := grandpa.PrimaryPropose[string, uint32]{TargetHash: "a", TargetNumber: 1}
	prevoteVote := grandpa.Prevote[string, uint32]{TargetHash: "b", TargetNumber: 2}
	precommitVote := grandpa.Precommit[string, uint32]{TargetHash: "b", TargetNumber: 2}

	cases := []hasVoted[string, uint32]{
		newHasVoted[string, uint32](no{}),
		newHasVoted[string, uint32](yes[string, uint32]{
			AuthID: AuthorityID{1},
			Vote:   newVote[string, uint32](propose[string, uint32]{PrimaryPropose: primaryPropose}),
		}),
		newHasVoted[string, uint32](yes[string, uint32]{
			AuthID: AuthorityID{1},
			Vote: newVote[string, uint32](prevote[string, uint32]{
				Vote: prevoteVote,
			}),
		}),
		newHasVoted[string, uint32](yes[string, uint32]{
			AuthID: AuthorityID{1},
			Vote: newVote[string, uint32](precommit[string, uint32]{
				PrimaryPropose: &primaryPropose,
				Vote:           prevoteVote,
				Commit:         precommitVote,
			}),
		}),
	}

	for _, hv := range cases {
		encoded, err := scaleEncode(hv)
		require.NoError(t, err)
		decoded, err := scaleDecode[hasVoted[string, uint32]](encoded)
		require.NoError(t, err)
		require.Equal(t, hv, decoded)
	}
}

func TestHasVotedZeroValueEncodesAsNo(t *testing.T) {
	encoded, err := scaleEncode(hasVoted[string, uint32]{})
	require.NoError(t, err)
	require.Equal(t, []byte{0}, encoded)

	decoded, err := scaleDecode[hasVoted[string, uint32]](encoded)
	require.NoError(t, err)
	require.Equal(t, newHasVoted[string, uint32](no{}), decoded)
}
