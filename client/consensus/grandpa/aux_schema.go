// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"fmt"

	"github.com/ChainSafe/grandpa-client/client/api"
	grandpa "github.com/ChainSafe/grandpa-client/pkg/finality-grandpa"
	"golang.org/x/exp/constraints"
)

var (
	versionKey          = []byte("grandpa_schema_version")
	setStateKey         = []byte("grandpa_completed_round")
	concludedRounds     = []byte("grandpa_concluded_rounds")
	authoritySetKey     = []byte("grandpa_voters")
	consensusChangesKey = []byte("grandpa_consensus_changes")
)

const currentVersion uint32 = 3

type writeAux func(insertions []api.KeyValue) error

type getGenesisAuthorities func() ([]Authority, error)

// PersistentData Persistent data kept between runs
type PersistentData[H comparable, N constraints.Unsigned] struct {
	AuthoritySet     *SharedAuthoritySet[H, N]
	ConsensusChanges *SharedConsensusChanges[H, N]
	SetState         *SharedVoterSetState[H, N]
}

// writeCurrentVersion marks the store as holding the current format. Every
// migration stage does this up front so that an interrupted migration is
// retried from the data it already transformed instead of re-reading it
// under the wrong version.
func writeCurrentVersion(store api.AuxStore) error {
	encodedVersion, err := scaleEncode(currentVersion)
	if err != nil {
		return err
	}
	return store.Insert([]api.KeyValue{{Key: versionKey, Value: encodedVersion}}, nil)
}

// migrateFromVersion0 migrates the oldest on-disk format directly to the
// current one. Returns nil when no authority set is present, which the
// loader treats as a first run.
func migrateFromVersion0[H comparable, N constraints.Unsigned](store api.AuxStore,
	genesisRound func() grandpa.RoundState[H, N],
) (*AuthoritySet[H, N], *voterSetState[H, N], error) {
	if err := writeCurrentVersion(store); err != nil {
		return nil, nil, err
	}

	oldSet, err := loadDecode[v0AuthoritySet[H, N]](store, authoritySetKey)
	if err != nil {
		return nil, nil, err
	}
	if oldSet == nil {
		return nil, nil, nil
	}

	newSet := oldSet.migrate()
	encodedSet, err := scaleEncode(newSet)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Insert([]api.KeyValue{{Key: authoritySetKey, Value: encodedSet}}, nil); err != nil {
		return nil, nil, err
	}

	var lastRoundNumber uint64
	var lastRoundState grandpa.RoundState[H, N]
	oldState, err := loadDecode[v0VoterSetState[H, N]](store, setStateKey)
	if err != nil {
		return nil, nil, err
	}
	if oldState != nil {
		lastRoundNumber = oldState.Number
		lastRoundState = oldState.State
	} else {
		lastRoundState = genesisRound()
	}

	if lastRoundState.PrevoteGHOST == nil {
		return nil, nil, fmt.Errorf("%w: round %d", errMissingPrevoteGHOST, lastRoundNumber)
	}

	round, err := NewCompletedRound(lastRoundNumber, lastRoundState, *lastRoundState.PrevoteGHOST,
		grandpa.NewHistoricalVotes[H, N, AuthoritySignature, AuthorityID]())
	if err != nil {
		return nil, nil, err
	}

	setID, _ := newSet.current()
	setState := newVoterSetState[H, N](voterSetStateLive[H, N]{
		CompletedRounds: NewCompletedRounds(round, setID, newSet),
		CurrentRound:    newHasVoted[H, N](no{}),
	})

	encodedState, err := scaleEncode(setState)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Insert([]api.KeyValue{{Key: setStateKey, Value: encodedState}}, nil); err != nil {
		return nil, nil, err
	}

	logger.Infof("migrated GRANDPA auxiliary schema from version 0 to version %d", currentVersion)
	return &newSet, &setState, nil
}

// migrateFromVersion1 synthesizes a one-element completed rounds window out
// of the single round snapshot stored by the second format. The authority
// set encoding did not change.
func migrateFromVersion1[H comparable, N constraints.Unsigned](store api.AuxStore,
	genesisRound func() grandpa.RoundState[H, N],
) (*AuthoritySet[H, N], *voterSetState[H, N], error) {
	if err := writeCurrentVersion(store); err != nil {
		return nil, nil, err
	}

	set, err := loadDecode[AuthoritySet[H, N]](store, authoritySetKey)
	if err != nil {
		return nil, nil, err
	}
	if set == nil {
		return nil, nil, nil
	}

	setID, _ := set.current()

	completedRoundsOf := func(number uint64, state grandpa.RoundState[H, N]) (completedRounds[H, N], error) {
		if state.PrevoteGHOST == nil {
			return completedRounds[H, N]{}, fmt.Errorf("%w: round %d", errMissingPrevoteGHOST, number)
		}
		round, err := NewCompletedRound(number, state, *state.PrevoteGHOST,
			grandpa.NewHistoricalVotes[H, N, AuthoritySignature, AuthorityID]())
		if err != nil {
			return completedRounds[H, N]{}, err
		}
		return NewCompletedRounds(round, setID, *set), nil
	}

	var setState voterSetState[H, N]
	oldState, err := loadDecode[v1VoterSetState[H, N]](store, setStateKey)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case oldState != nil && oldState.Paused:
		compRounds, err := completedRoundsOf(oldState.Number, oldState.State)
		if err != nil {
			return nil, nil, err
		}
		setState = newVoterSetState[H, N](voterSetStatePaused[H, N]{
			CompletedRounds: compRounds,
		})
	case oldState != nil:
		compRounds, err := completedRoundsOf(oldState.Number, oldState.State)
		if err != nil {
			return nil, nil, err
		}
		setState = newVoterSetState[H, N](voterSetStateLive[H, N]{
			CompletedRounds: compRounds,
			CurrentRound:    newHasVoted[H, N](no{}),
		})
	default:
		compRounds, err := completedRoundsOf(0, genesisRound())
		if err != nil {
			return nil, nil, err
		}
		setState = newVoterSetState[H, N](voterSetStateLive[H, N]{
			CompletedRounds: compRounds,
			CurrentRound:    newHasVoted[H, N](no{}),
		})
	}

	encodedState, err := scaleEncode(setState)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Insert([]api.KeyValue{{Key: setStateKey, Value: encodedState}}, nil); err != nil {
		return nil, nil, err
	}

	logger.Infof("migrated GRANDPA auxiliary schema from version 1 to version %d", currentVersion)
	return set, &setState, nil
}

// migrateFromVersion2 reinterprets the flat per-round vote logs of the third
// format into the structured vote history used by the current one.
func migrateFromVersion2[H comparable, N constraints.Unsigned](store api.AuxStore,
	genesisRound func() grandpa.RoundState[H, N],
) (*AuthoritySet[H, N], *voterSetState[H, N], error) {
	if err := writeCurrentVersion(store); err != nil {
		return nil, nil, err
	}

	set, err := loadDecode[AuthoritySet[H, N]](store, authoritySetKey)
	if err != nil {
		return nil, nil, err
	}
	if set == nil {
		return nil, nil, nil
	}

	var setState voterSetState[H, N]
	oldState, err := loadDecode[v2VoterSetState[H, N]](store, setStateKey)
	if err != nil {
		return nil, nil, err
	}
	if oldState != nil {
		setState, err = oldState.migrate(*set)
		if err != nil {
			return nil, nil, err
		}
	} else {
		state := genesisRound()
		if state.PrevoteGHOST == nil {
			return nil, nil, fmt.Errorf("%w: genesis round", errMissingPrevoteGHOST)
		}
		round, err := NewCompletedRound(0, state, *state.PrevoteGHOST,
			grandpa.NewHistoricalVotes[H, N, AuthoritySignature, AuthorityID]())
		if err != nil {
			return nil, nil, err
		}
		setID, _ := set.current()
		setState = newVoterSetState[H, N](voterSetStateLive[H, N]{
			CompletedRounds: NewCompletedRounds(round, setID, *set),
			CurrentRound:    newHasVoted[H, N](no{}),
		})
	}

	encodedState, err := scaleEncode(setState)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Insert([]api.KeyValue{{Key: setStateKey, Value: encodedState}}, nil); err != nil {
		return nil, nil, err
	}

	logger.Infof("migrated GRANDPA auxiliary schema from version 2 to version %d", currentVersion)
	return set, &setState, nil
}

// LoadPersistent loads or initializes persistent data from the store,
// migrating older on-disk formats to the current one as needed. The
// authorities supplier is only invoked on what looks like a first startup.
func LoadPersistent[H comparable, N constraints.Unsigned](store api.AuxStore,
	genesisHash H,
	genesisNumber N,
	genesisAuths getGenesisAuthorities,
) (*PersistentData[H, N], error) {
	version, err := loadDecode[uint32](store, versionKey)
	if err != nil {
		return nil, err
	}

	consensusChanges := NewConsensusChanges[H, N]()
	storedChanges, err := loadDecode[ConsensusChanges[H, N]](store, consensusChangesKey)
	if err != nil {
		return nil, err
	}
	if storedChanges != nil {
		consensusChanges = *storedChanges
	}

	genesis := grandpa.HashNumber[H, N]{Hash: genesisHash, Number: genesisNumber}
	makeGenesisRound := func() grandpa.RoundState[H, N] {
		return grandpa.NewRoundState(genesis)
	}

	var set *AuthoritySet[H, N]
	var setState *voterSetState[H, N]

	switch {
	case version == nil:
		set, setState, err = migrateFromVersion0(store, makeGenesisRound)
		if err != nil {
			return nil, err
		}
	case *version == 1:
		set, setState, err = migrateFromVersion1(store, makeGenesisRound)
		if err != nil {
			return nil, err
		}
	case *version == 2:
		set, setState, err = migrateFromVersion2(store, makeGenesisRound)
		if err != nil {
			return nil, err
		}
	case *version == currentVersion:
		set, err = loadDecode[AuthoritySet[H, N]](store, authoritySetKey)
		if err != nil {
			return nil, err
		}
		if set != nil {
			setState, err = loadDecode[voterSetState[H, N]](store, setStateKey)
			if err != nil {
				return nil, err
			}
			if setState == nil {
				state := NewLiveVoterSetState(set.SetID, *set, genesis)
				setState = &state
			}
		}
	default:
		return nil, fmt.Errorf("%w: %d", errUnsupportedVersion, *version)
	}

	if set != nil && setState != nil {
		return newPersistentData(*set, consensusChanges, *setState), nil
	}

	// genesis.
	logger.Info("👴 Loading GRANDPA authority set from genesis on what appears to be first startup")

	genesisAuthorities, err := genesisAuths()
	if err != nil {
		return nil, err
	}
	genesisSet, err := NewGenesisAuthoritySet[H, N](genesisAuthorities)
	if err != nil {
		return nil, err
	}

	genesisState := NewLiveVoterSetState(0, *genesisSet, genesis)

	encodedSet, err := scaleEncode(*genesisSet)
	if err != nil {
		return nil, err
	}
	encodedState, err := scaleEncode(genesisState)
	if err != nil {
		return nil, err
	}

	insert := []api.KeyValue{
		{Key: authoritySetKey, Value: encodedSet},
		{Key: setStateKey, Value: encodedState},
	}
	if err := store.Insert(insert, nil); err != nil {
		return nil, err
	}

	return newPersistentData(*genesisSet, consensusChanges, genesisState), nil
}

func newPersistentData[H comparable, N constraints.Unsigned](set AuthoritySet[H, N],
	changes ConsensusChanges[H, N],
	setState voterSetState[H, N],
) *PersistentData[H, N] {
	sharedState := NewSharedVoterSetState(setState)
	return &PersistentData[H, N]{
		AuthoritySet:     NewSharedAuthoritySet(set),
		ConsensusChanges: NewSharedConsensusChanges(changes),
		SetState:         &sharedState,
	}
}

// UpdateAuthoritySet Update the authority set on disk after a change.
//
// If there has just been a handoff, pass a `newSet` parameter that describes the
// handoff. `set` in all cases should reflect the current authority set, with all
// changes and handoffs applied.
func UpdateAuthoritySet[H comparable, N constraints.Unsigned](set AuthoritySet[H, N],
	newSet *NewAuthoritySetStruct[H, N],
	write writeAux) error {
	encodedAuthSet, err := scaleEncode(set)
	if err != nil {
		return err
	}

	if newSet == nil {
		return write([]api.KeyValue{
			{Key: authoritySetKey, Value: encodedAuthSet},
		})
	}

	// we also overwrite the "last completed round" entry with a blank slate
	// because from the perspective of the finality gadget, the chain has
	// reset.
	genesisState := grandpa.HashNumber[H, N]{
		Hash:   newSet.CanonHash,
		Number: newSet.CanonNumber,
	}
	setState := NewLiveVoterSetState(newSet.SetID, set, genesisState)

	encodedVoterSet, err := scaleEncode(setState)
	if err != nil {
		return err
	}

	return write([]api.KeyValue{
		{Key: authoritySetKey, Value: encodedAuthSet},
		{Key: setStateKey, Value: encodedVoterSet},
	})
}

// UpdateVoterSetState persists the given state and only then swaps the
// shared value, so concurrent readers never observe a state that is not
// on disk.
func (svss *SharedVoterSetState[H, N]) UpdateVoterSetState(store api.AuxStore,
	state voterSetState[H, N]) error {
	svss.mtx.Lock()
	defer svss.mtx.Unlock()
	if err := WriteVoterSetState(store, state); err != nil {
		return err
	}
	svss.inner = state
	return nil
}

// WriteVoterSetState Write voter set state.
func WriteVoterSetState[H comparable, N constraints.Unsigned](store api.AuxStore,
	setState voterSetState[H, N]) error {
	encodedVoterSet, err := scaleEncode(setState)
	if err != nil {
		return err
	}
	return store.Insert([]api.KeyValue{
		{Key: setStateKey, Value: encodedVoterSet},
	}, nil)
}

// UpdateConsensusChanges Update the consensus changes.
func UpdateConsensusChanges[H comparable, N constraints.Unsigned](changes ConsensusChanges[H, N],
	write writeAux) error {
	encodedChanges, err := scaleEncode(changes)
	if err != nil {
		return err
	}
	return write([]api.KeyValue{
		{Key: consensusChangesKey, Value: encodedChanges},
	})
}

// WriteConcludedRound Write a concluded round under its own key, keyed by
// round number.
func WriteConcludedRound[H comparable, N constraints.Unsigned](roundData completedRound[H, N],
	write writeAux) error {
	encodedRoundNumber, err := scaleEncode(roundData.Number)
	if err != nil {
		return err
	}
	key := append([]byte{}, concludedRounds...)
	key = append(key, encodedRoundNumber...)

	encodedRoundData, err := scaleEncode(roundData)
	if err != nil {
		return err
	}

	return write([]api.KeyValue{
		{Key: key, Value: encodedRoundData},
	})
}

// loadAuthorities reads the current authority set, if any.
func loadAuthorities[H comparable, N constraints.Unsigned](store api.AuxStore) (*AuthoritySet[H, N], error) {
	return loadDecode[AuthoritySet[H, N]](store, authoritySetKey)
}
