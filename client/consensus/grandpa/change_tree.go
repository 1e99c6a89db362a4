// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/exp/constraints"
)

/*
	The grandpa ChangeTree is a structure built to track pending changes across forks.
	This structure is intended to represent an acyclic directed graph where the children are
	placed in descending order and number, you can ensure node ancestry using the `IsDescendentOf`.
*/

var errDuplicateHashes = errors.New("duplicated hashes")

// ChangeTree keeps track of changes across forks
type ChangeTree[H comparable, N constraints.Unsigned] struct {
	roots               []*PendingChangeNode[H, N]
	bestFinalizedNumber *N
}

// NewChangeTree create an empty ChangeTree
func NewChangeTree[H comparable, N constraints.Unsigned]() ChangeTree[H, N] {
	return ChangeTree[H, N]{}
}

// PendingChangeNode Represents a node in the ChangeTree
type PendingChangeNode[H comparable, N constraints.Unsigned] struct {
	Change   *PendingChange[H, N]
	Children []*PendingChangeNode[H, N]
}

// Roots returns the roots of each fork in the ChangeTree
// This is the equivalent of the slice in the outermost layer of the roots
func (ct *ChangeTree[H, N]) Roots() []*PendingChangeNode[H, N] { //skipcq: RVV-B0011
	return ct.roots
}

// Import a new node into the tree.
//
// The given function `isDescendentOf` should return `true` if the second
// hash (target) is a descendent of the first hash (base).
//
// Importing a change for a block that already has one registered, or for a
// block on the same fork as an already registered change, is an error and
// leaves the tree unchanged.
//
// Returns `true` if the imported node is a root.
func (ct *ChangeTree[H, N]) Import(hash H,
	number N,
	change PendingChange[H, N],
	isDescendentOf IsDescendentOf[H]) (bool, error) {
	for _, node := range ct.getPreOrderChangeNodes() {
		if node.Change.CanonHash == hash {
			return false, errDuplicateHashes
		}

		isDescendent, err := isDescendentOf(node.Change.CanonHash, hash)
		if err != nil {
			return false, fmt.Errorf("checking ancestry of block %v: %w", hash, err)
		}

		if isDescendent {
			return false, fmt.Errorf("%w: for block %v there is already a pending change on block %v",
				errDuplicateAuthoritySetChanges, hash, node.Change.CanonHash)
		}
	}

	pendingChangeNode := &PendingChangeNode[H, N]{
		Change: &change,
	}

	ct.roots = append(ct.roots, pendingChangeNode)
	logger.Debugf("changes on header %v (%v) imported successfully", hash, number)
	return true, nil
}

// PendingChanges does a preorder traversal of the ChangeTree to get all pending changes
func (ct *ChangeTree[H, N]) PendingChanges() []PendingChange[H, N] {
	if len(ct.roots) == 0 {
		return nil
	}

	changes := make([]PendingChange[H, N], 0, len(ct.roots))

	for _, node := range ct.getPreOrderChangeNodes() {
		changes = append(changes, *node.Change)
	}

	return changes
}

// getPreOrderChangeNodes does a preorder traversal of the ChangeTree to get all change nodes
func (ct *ChangeTree[H, N]) getPreOrderChangeNodes() []*PendingChangeNode[H, N] {
	if len(ct.roots) == 0 {
		return nil
	}

	nodes := &[]*PendingChangeNode[H, N]{}

	for i := 0; i < len(ct.roots); i++ {
		accumulatePreOrder(nodes, ct.roots[i])
	}

	return *nodes
}

func accumulatePreOrder[H comparable, N constraints.Unsigned](
	nodes *[]*PendingChangeNode[H, N], changeNode *PendingChangeNode[H, N]) {
	if changeNode == nil {
		return
	}

	*nodes = append(*nodes, changeNode)

	for i := 0; i < len(changeNode.Children); i++ {
		accumulatePreOrder(nodes, changeNode.Children[i])
	}
}

// Encode implements parity scale codec for `ChangeTree`
func (ct ChangeTree[H, N]) Encode(encoder scale.Encoder) error {
	if err := encodeChangeNodes(encoder, ct.roots); err != nil {
		return err
	}
	return encodeOption(encoder, ct.bestFinalizedNumber)
}

// Decode implements parity scale codec for `ChangeTree`
func (ct *ChangeTree[H, N]) Decode(decoder scale.Decoder) error {
	roots, err := decodeChangeNodes[H, N](decoder)
	if err != nil {
		return err
	}
	ct.roots = roots
	bestFinalizedNumber, err := decodeOption[N](decoder)
	if err != nil {
		return err
	}
	ct.bestFinalizedNumber = bestFinalizedNumber
	return nil
}

func encodeChangeNodes[H comparable, N constraints.Unsigned](
	encoder scale.Encoder, nodes []*PendingChangeNode[H, N]) error {
	if err := encoder.EncodeUintCompact(*big.NewInt(int64(len(nodes)))); err != nil {
		return err
	}
	for _, node := range nodes {
		if err := node.Encode(encoder); err != nil {
			return err
		}
	}
	return nil
}

func decodeChangeNodes[H comparable, N constraints.Unsigned](
	decoder scale.Decoder) ([]*PendingChangeNode[H, N], error) {
	length, err := decoder.DecodeUintCompact()
	if err != nil {
		return nil, err
	}
	if length.Uint64() == 0 {
		return nil, nil
	}
	nodes := make([]*PendingChangeNode[H, N], length.Uint64())
	for i := range nodes {
		node := &PendingChangeNode[H, N]{}
		if err := node.Decode(decoder); err != nil {
			return nil, err
		}
		nodes[i] = node
	}
	return nodes, nil
}

// Encode implements parity scale codec for `PendingChangeNode`. Nodes are
// written as the canonical hash and number followed by the change and children.
func (pcn *PendingChangeNode[H, N]) Encode(encoder scale.Encoder) error {
	if err := encoder.Encode(pcn.Change.CanonHash); err != nil {
		return err
	}
	if err := encoder.Encode(pcn.Change.CanonHeight); err != nil {
		return err
	}
	if err := encoder.Encode(*pcn.Change); err != nil {
		return err
	}
	return encodeChangeNodes(encoder, pcn.Children)
}

// Decode implements parity scale codec for `PendingChangeNode`
func (pcn *PendingChangeNode[H, N]) Decode(decoder scale.Decoder) error {
	var hash H
	if err := decoder.Decode(&hash); err != nil {
		return err
	}
	var number N
	if err := decoder.Decode(&number); err != nil {
		return err
	}
	change := PendingChange[H, N]{}
	if err := decoder.Decode(&change); err != nil {
		return err
	}
	pcn.Change = &change
	children, err := decodeChangeNodes[H, N](decoder)
	if err != nil {
		return err
	}
	pcn.Children = children
	return nil
}
