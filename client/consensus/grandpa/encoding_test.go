// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"testing"

	"github.com/ChainSafe/grandpa-client/client/api"
	grandpa "github.com/ChainSafe/grandpa-client/pkg/finality-grandpa"
	"github.com/stretchr/testify/require"
)

func TestLoadDecode(t *testing.T) {
	store := newDummyStore(t)

	// missing keys are not an error
	value, err := loadDecode[uint32](store, []byte("missing"))
	require.NoError(t, err)
	require.Nil(t, value)

	encoded, err := scaleEncode(uint32(42))
	require.NoError(t, err)
	err = store.Insert([]api.KeyValue{{Key: []byte("present"), Value: encoded}}, nil)
	require.NoError(t, err)

	value, err = loadDecode[uint32](store, []byte("present"))
	require.NoError(t, err)
	require.NotNil(t, value)
	require.Equal(t, uint32(42), *value)

	// an undecodable value is corruption
	err = store.Insert([]api.KeyValue{{Key: []byte("truncated"), Value: []byte{1}}}, nil)
	require.NoError(t, err)
	_, err = loadDecode[uint32](store, []byte("truncated"))
	require.ErrorContains(t, err, "GRANDPA DB is corrupted")
}

func TestDelayKindScaleRoundTrip(t *testing.T) {
	for _, dk := range []DelayKind[uint32]{
		newDelayKind[uint32](Finalized{}),
		newDelayKind[uint32](Best[uint32]{medianLastFinalized: 100}),
	} {
		encoded, err := scaleEncode(dk)
		require.NoError(t, err)
		decoded, err := scaleDecode[DelayKind[uint32]](encoded)
		require.NoError(t, err)
		require.Equal(t, dk, decoded)
	}
}

func TestV0AuthoritySetMigrate(t *testing.T) {
	authorities := []Authority{{ID: AuthorityID{1}, Weight: 1}}
	oldSet := v0AuthoritySet[string, uint32]{
		CurrentAuthorities: authorities,
		SetID:              3,
		PendingChanges: []v0PendingChange[string, uint32]{
			{NextAuthorities: authorities, Delay: 5, CanonHeight: 10, CanonHash: "a"},
			{NextAuthorities: authorities, Delay: 0, CanonHeight: 20, CanonHash: "b"},
			// duplicate block, dropped during the replay
			{NextAuthorities: authorities, Delay: 1, CanonHeight: 10, CanonHash: "a"},
		},
	}

	set := oldSet.migrate()
	require.Equal(t, authorities, set.CurrentAuthorities)
	require.Equal(t, uint64(3), set.SetID)
	require.Empty(t, set.PendingForcedChanges)

	pending := set.PendingStandardChanges.PendingChanges()
	require.Len(t, pending, 2)
	require.Equal(t, "a", pending[0].CanonHash)
	require.Equal(t, "b", pending[1].CanonHash)
	require.Equal(t, Finalized{}, pending[0].DelayKind.Value())
}

func TestV1VoterSetStateScaleRoundTrip(t *testing.T) {
	for _, state := range []v1VoterSetState[string, uint32]{
		{
			Paused: false,
			Number: 42,
			State:  testRoundState("ghost", 32),
		},
		{
			Paused: true,
			Number: 7,
			State:  testRoundState("other", 5),
		},
	} {
		encoded, err := scaleEncode(state)
		require.NoError(t, err)
		decoded, err := scaleDecode[v1VoterSetState[string, uint32]](encoded)
		require.NoError(t, err)
		require.Equal(t, state, decoded)
	}
}

func TestV2VoterSetStateScaleRoundTrip(t *testing.T) {
	signedMessage := grandpa.SignedMessage[string, uint32, AuthoritySignature, AuthorityID]{
		Message: grandpa.NewMessage[string, uint32](grandpa.Precommit[string, uint32]{
			TargetHash:   "b",
			TargetNumber: 2,
		}),
		Signature: AuthoritySignature{1},
		ID:        AuthorityID{2},
	}

	rounds := []v2CompletedRound[string, uint32]{{
		Number: 42,
		State:  testRoundState("ghost", 32),
		Base:   grandpa.HashNumber[string, uint32]{Hash: "base", Number: 30},
		Votes:  []grandpa.SignedMessage[string, uint32, AuthoritySignature, AuthorityID]{signedMessage},
	}}

	for _, state := range []v2VoterSetState[string, uint32]{
		{value: v2VoterSetStateLive[string, uint32]{
			CompletedRounds: rounds,
			CurrentRound:    newHasVoted[string, uint32](no{}),
		}},
		{value: v2VoterSetStatePaused[string, uint32]{
			CompletedRounds: rounds,
		}},
	} {
		encoded, err := scaleEncode(state)
		require.NoError(t, err)
		decoded, err := scaleDecode[v2VoterSetState[string, uint32]](encoded)
		require.NoError(t, err)
		require.Equal(t, state, decoded)
	}
}

func TestV2VoterSetStateMigrate(t *testing.T) {
	authorities := []Authority{{ID: AuthorityID{1}, Weight: 1}}
	set, err := NewAuthoritySet(authorities, 3, NewChangeTree[string, uint32](), nil)
	require.NoError(t, err)

	signedMessage := grandpa.SignedMessage[string, uint32, AuthoritySignature, AuthorityID]{
		Message: grandpa.NewMessage[string, uint32](grandpa.Prevote[string, uint32]{
			TargetHash:   "b",
			TargetNumber: 2,
		}),
		Signature: AuthoritySignature{1},
		ID:        AuthorityID{2},
	}

	old := v2VoterSetState[string, uint32]{
		value: v2VoterSetStatePaused[string, uint32]{
			CompletedRounds: []v2CompletedRound[string, uint32]{{
				Number: 42,
				State:  testRoundState("ghost", 32),
				Base:   grandpa.HashNumber[string, uint32]{Hash: "base", Number: 30},
				Votes:  []grandpa.SignedMessage[string, uint32, AuthoritySignature, AuthorityID]{signedMessage},
			}},
		},
	}

	migrated, err := old.migrate(*set)
	require.NoError(t, err)

	paused, ok := migrated.Value().(voterSetStatePaused[string, uint32])
	require.True(t, ok)
	require.Equal(t, uint64(3), paused.CompletedRounds.SetID)
	require.Equal(t, []AuthorityID{{1}}, paused.CompletedRounds.Voters)
	require.Len(t, paused.CompletedRounds.Rounds, 1)

	round := paused.CompletedRounds.Rounds[0]
	require.Equal(t, uint64(42), round.Number)
	require.Equal(t, []grandpa.SignedMessage[string, uint32, AuthoritySignature, AuthorityID]{signedMessage},
		round.Votes.SeenMessages)
	require.Nil(t, round.Votes.PrevoteIdx)
	require.Nil(t, round.Votes.PrecommitIdx)
}
