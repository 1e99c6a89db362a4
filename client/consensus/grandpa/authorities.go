// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"errors"
	"fmt"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

var errMultiplePendingForcedAuthoritySetChanges = errors.New("multiple pending forced authority set " +
	"changes are not allowed")

// IsDescendentOf is the function definition to determine if target is a descendant of base
type IsDescendentOf[H comparable] func(base, target H) (bool, error)

// SharedAuthoritySet A shared authority set
type SharedAuthoritySet[H comparable, N constraints.Unsigned] struct {
	mtx   sync.Mutex
	inner AuthoritySet[H, N]
}

// NewSharedAuthoritySet wraps an authority set so it can be accessed concurrently
func NewSharedAuthoritySet[H comparable, N constraints.Unsigned](
	set AuthoritySet[H, N]) *SharedAuthoritySet[H, N] {
	return &SharedAuthoritySet[H, N]{inner: set}
}

// Current Get the current set id and a reference to the current authority set.
func (sas *SharedAuthoritySet[H, N]) Current() (uint64, *[]Authority) {
	sas.mtx.Lock()
	defer sas.mtx.Unlock()
	return sas.inner.current()
}

// Inner returns a copy of the underlying authority set
func (sas *SharedAuthoritySet[H, N]) Inner() AuthoritySet[H, N] {
	sas.mtx.Lock()
	defer sas.mtx.Unlock()
	return sas.inner
}

func (sas *SharedAuthoritySet[H, N]) addStandardChange(pending PendingChange[H, N],
	isDescendentOf IsDescendentOf[H]) error {
	sas.mtx.Lock()
	defer sas.mtx.Unlock()
	return sas.inner.addStandardChange(pending, isDescendentOf)
}

func (sas *SharedAuthoritySet[H, N]) addForcedChange(pending PendingChange[H, N],
	isDescendentOf IsDescendentOf[H]) error {
	sas.mtx.Lock()
	defer sas.mtx.Unlock()
	return sas.inner.addForcedChange(pending, isDescendentOf)
}

// AddPendingChange notes an upcoming pending transition
func (sas *SharedAuthoritySet[H, N]) AddPendingChange(pending PendingChange[H, N],
	isDescendentOf IsDescendentOf[H]) error {
	sas.mtx.Lock()
	defer sas.mtx.Unlock()
	return sas.inner.addPendingChange(pending, isDescendentOf)
}

// PendingChanges Inspect pending changes. Standard pending changes are iterated first,
// and the changes in the roots are traversed in pre-order, afterwards all
// forced changes are iterated.
func (sas *SharedAuthoritySet[H, N]) PendingChanges() []PendingChange[H, N] {
	sas.mtx.Lock()
	defer sas.mtx.Unlock()
	return sas.inner.pendingChanges()
}

// AuthoritySet A set of authorities.
type AuthoritySet[H comparable, N constraints.Unsigned] struct {
	// The current active authorities.
	CurrentAuthorities []Authority
	// The current set id.
	SetID uint64
	// Tree of pending standard changes across forks. Standard changes are
	// enacted on finality and must be enacted (i.e. finalised) in-order across
	// a given branch
	PendingStandardChanges ChangeTree[H, N]
	// Pending forced changes across different forks (at most one per fork).
	// Forced changes are enacted on block depth (not finality), for this
	// reason only one forced change should exist per fork.
	PendingForcedChanges []PendingChange[H, N]
}

// invalidAuthorityList authority sets must be non-empty and all weights must be greater than 0
func invalidAuthorityList(authorities []Authority) bool { //skipcq:  RVV-B0001
	if len(authorities) == 0 {
		return true
	}

	for _, authority := range authorities {
		if authority.Weight == 0 {
			return true
		}
	}
	return false
}

// NewGenesisAuthoritySet Get a genesis set with given authorities.
func NewGenesisAuthoritySet[H comparable, N constraints.Unsigned](
	initial []Authority) (authSet *AuthoritySet[H, N], err error) {
	if invalidAuthorityList(initial) {
		return nil, errInvalidAuthoritySet
	}

	return &AuthoritySet[H, N]{
		CurrentAuthorities:   initial,
		PendingForcedChanges: []PendingChange[H, N]{},
	}, nil
}

// NewAuthoritySet creates a new AuthoritySet
func NewAuthoritySet[H comparable, N constraints.Unsigned](authorities []Authority,
	setID uint64,
	pendingStandardChanges ChangeTree[H, N],
	pendingForcedChanges []PendingChange[H, N],
) (authSet *AuthoritySet[H, N], err error) {
	if invalidAuthorityList(authorities) {
		return nil, errInvalidAuthoritySet
	}

	if pendingForcedChanges == nil {
		pendingForcedChanges = []PendingChange[H, N]{}
	}

	return &AuthoritySet[H, N]{
		CurrentAuthorities:     authorities,
		SetID:                  setID,
		PendingStandardChanges: pendingStandardChanges,
		PendingForcedChanges:   pendingForcedChanges,
	}, nil
}

// Decode implements parity scale codec for AuthoritySet
func (authSet *AuthoritySet[H, N]) Decode(decoder scale.Decoder) error {
	if err := decoder.Decode(&authSet.CurrentAuthorities); err != nil {
		return err
	}
	if err := decoder.Decode(&authSet.SetID); err != nil {
		return err
	}
	if err := authSet.PendingStandardChanges.Decode(decoder); err != nil {
		return err
	}
	if err := decoder.Decode(&authSet.PendingForcedChanges); err != nil {
		return err
	}
	// empty vectors decode to nil; keep the constructors' empty slice
	if authSet.PendingForcedChanges == nil {
		authSet.PendingForcedChanges = []PendingChange[H, N]{}
	}
	return nil
}

// current Get the current set id and a reference to the current authority set.
func (authSet *AuthoritySet[H, N]) current() (uint64, *[]Authority) {
	return authSet.SetID, &authSet.CurrentAuthorities
}

func (authSet *AuthoritySet[H, N]) addStandardChange(pending PendingChange[H, N],
	isDescendentOf IsDescendentOf[H]) error {
	hash := pending.CanonHash
	number := pending.CanonHeight

	logger.Debugf(
		"inserting potential standard set change signalled at block %v (delayed by %v blocks).",
		number, pending.Delay,
	)

	_, err := authSet.PendingStandardChanges.Import(hash, number, pending, isDescendentOf)
	if err != nil {
		return err
	}

	logger.Debugf(
		"there are now %d alternatives for the next pending standard change (roots), "+
			"and a total of %d pending standard changes (across all forks)",
		len(authSet.PendingStandardChanges.Roots()), len(authSet.PendingStandardChanges.PendingChanges()),
	)

	return nil
}

func (authSet *AuthoritySet[H, N]) addForcedChange(pending PendingChange[H, N],
	isDescendentOf IsDescendentOf[H]) error {
	for _, change := range authSet.PendingForcedChanges {
		if change.CanonHash == pending.CanonHash {
			return errDuplicateAuthoritySetChanges
		}

		isDescendent, err := isDescendentOf(change.CanonHash, pending.CanonHash)
		if err != nil {
			return fmt.Errorf("addForcedChange: checking isDescendentOf: %w", err)
		}

		if isDescendent {
			return errMultiplePendingForcedAuthoritySetChanges
		}
	}

	// Changes are inserted in ascending order
	idx, _ := slices.BinarySearchFunc(
		authSet.PendingForcedChanges,
		pending,
		func(change, toInsert PendingChange[H, N]) int {
			switch {
			case toInsert.LessThan(change):
				return 1
			case toInsert.GreaterThan(change):
				return -1
			default:
				return 0
			}
		},
	)

	logger.Debugf(
		"inserting potential forced set change at block number %v (delayed by %v blocks).",
		pending.CanonHeight, pending.Delay,
	)

	authSet.PendingForcedChanges = slices.Insert(authSet.PendingForcedChanges, idx, pending)

	logger.Debugf(
		"there are now %d pending forced changes",
		len(authSet.PendingForcedChanges),
	)

	return nil
}

// addPendingChange Note an upcoming pending transition. Multiple pending standard changes
// on the same branch can be added as long as they don't overlap. Forced
// changes are restricted to one per fork. This method assumes that changes
// on the same branch will be added in-order. The given function
// `isDescendentOf` should return `true` if the second hash (target) is a
// descendent of the first hash (base).
func (authSet *AuthoritySet[H, N]) addPendingChange(pending PendingChange[H, N],
	isDescendentOf IsDescendentOf[H]) error {
	if invalidAuthorityList(pending.NextAuthorities) {
		return errInvalidAuthoritySet
	}

	switch pending.DelayKind.value.(type) {
	case Finalized:
		return authSet.addStandardChange(pending, isDescendentOf)
	case Best[N]:
		return authSet.addForcedChange(pending, isDescendentOf)
	default:
		panic("DelayKind is invalid type")
	}
}

// pendingChanges Inspect pending changes. Standard pending changes are iterated first,
// and the changes in the tree are traversed in pre-order, afterwards all
// forced changes are iterated.
func (authSet *AuthoritySet[H, N]) pendingChanges() []PendingChange[H, N] {
	// get everything from standard hashNumber roots
	changes := authSet.PendingStandardChanges.PendingChanges()

	// append forced changes
	changes = append(changes, authSet.PendingForcedChanges...)

	return changes
}

// PendingChange A pending change to the authority set.
//
// This will be applied when the announcing block is at some depth within
// the finalised or unfinalised chain.
type PendingChange[H comparable, N constraints.Unsigned] struct {
	// The new authorities and weights to apply.
	NextAuthorities []Authority
	// How deep in the chain the announcing block must be
	// before the change is applied.
	Delay N
	// The announcing block's height.
	CanonHeight N
	// The announcing block's hash.
	CanonHash H
	// The delay kind.
	DelayKind DelayKind[N]
}

// EffectiveNumber Returns the effective number this change will be applied at.
func (pc *PendingChange[H, N]) EffectiveNumber() N {
	return pc.CanonHeight + pc.Delay
}

func (pc PendingChange[H, N]) GreaterThan(other PendingChange[H, N]) bool {
	effectiveNumberGreaterThan := pc.EffectiveNumber() > other.EffectiveNumber()
	canonHeightGreaterThan := pc.EffectiveNumber() == other.EffectiveNumber() &&
		pc.CanonHeight > other.CanonHeight

	return effectiveNumberGreaterThan || canonHeightGreaterThan
}

func (pc PendingChange[H, N]) LessThan(other PendingChange[H, N]) bool {
	effectiveNumberLessThan := pc.EffectiveNumber() < other.EffectiveNumber()
	canonHeightLessThan := pc.EffectiveNumber() == other.EffectiveNumber() &&
		pc.CanonHeight < other.CanonHeight

	return effectiveNumberLessThan || canonHeightLessThan
}
