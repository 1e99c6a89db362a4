// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/exp/constraints"
)

var logger = logging.Logger("grandpa")

// AuthorityID is the identity of a grandpa authority
type AuthorityID [32]byte

// AuthoritySignature is the signature for a grandpa message
type AuthoritySignature [64]byte

// Authority represents a grandpa authority
type Authority struct {
	ID     AuthorityID
	Weight uint64
}

// NewAuthoritySetStruct A new authority set along with the canonical block it changed at.
type NewAuthoritySetStruct[H comparable, N constraints.Unsigned] struct {
	CanonNumber N
	CanonHash   H
	SetID       uint64
	Authorities []Authority
}

var (
	// errInvalidAuthoritySet is returned when an authority set with no entries or
	// a zero-weight entry is supplied.
	errInvalidAuthoritySet = errors.New("current state of blockchain has invalid authority set")
	// errDuplicateAuthoritySetChanges is returned when a pending change is
	// already registered for the given block.
	errDuplicateAuthoritySetChanges = errors.New("duplicate authority set change")
	// errUnsupportedVersion is returned when the database holds a schema version
	// this client does not know how to read.
	errUnsupportedVersion = errors.New("unsupported grandpa database version")
	// errValueNotFound is returned when a value is missing from the database.
	errValueNotFound = errors.New("value not found")
	// errMissingPrevoteGHOST is returned when a round is recorded as completed
	// without a prevote-GHOST block, which indicates an internal defect.
	errMissingPrevoteGHOST = errors.New("completed round without a prevote-GHOST block")
)
