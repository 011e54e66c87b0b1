package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/types/params"
)

// ErrInvalidProof is returned when a proof does not fold to its roots.
var ErrInvalidProof = errors.New("invalid state proof")

// ProofKind tells which operation produced a proof.
type ProofKind int

const (
	// Exclusion proves the current content of an index, the tree is unchanged.
	Exclusion ProofKind = iota
	// Insert adds a leaf at an unused index.
	Insert
	// Update replaces the leaf at an index.
	Update
)

func (k ProofKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	default:
		return "exclusion"
	}
}

// Proof is a state tree proof in circom form: Siblings are ordered from the
// root down and padded with zeros. OldKey and OldValue describe the leaf
// found on the path of Key before the operation; IsOld0 is set when there is
// none. For Exclusion proofs of an existing index Value holds its leaf.
type Proof struct {
	Kind       ProofKind
	RootBefore *big.Int
	RootAfter  *big.Int
	Key        *big.Int
	Value      *big.Int
	Siblings   [params.StateDepth]*big.Int
	IsOld0     bool
	OldKey     *big.Int
	OldValue   *big.Int
}

// Existence reports whether an Exclusion proof found Key in the tree.
func (p *Proof) Existence() bool {
	return p.Kind == Exclusion && p.Value.Sign() != 0
}

// IsOld0Int returns IsOld0 as the 0/1 circuit signal.
func (p *Proof) IsOld0Int() *big.Int {
	if p.IsOld0 {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

func keyBit(key *big.Int, level int) uint {
	return key.Bit(level)
}

// levels returns the depth of the leaf the siblings lead to.
func (p *Proof) levels() int {
	for n := params.StateDepth - 1; n >= 0; n-- {
		if p.Siblings[n] != nil && p.Siblings[n].Sign() != 0 {
			return n + 1
		}
	}
	return 0
}

func leafHash(h *poseidon.Hasher, key, value *big.Int) (*big.Int, error) {
	return h.Hash(key, value, big.NewInt(1))
}

// fold hashes node from level depth up to the root along key.
func (p *Proof) fold(h *poseidon.Hasher, node *big.Int, depth int) (*big.Int, error) {
	var err error
	for lvl := depth - 1; lvl >= 0; lvl-- {
		sib := p.Siblings[lvl]
		if sib == nil {
			sib = new(big.Int)
		}
		if keyBit(p.Key, lvl) == 0 {
			node, err = h.Hash(node, sib)
		} else {
			node, err = h.Hash(sib, node)
		}
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// oldNode returns the node at the end of the path before the operation.
func (p *Proof) oldNode(h *poseidon.Hasher) (*big.Int, error) {
	switch {
	case p.Kind == Exclusion && p.Value.Sign() != 0:
		return leafHash(h, p.Key, p.Value)
	case p.IsOld0:
		return new(big.Int), nil
	default:
		return leafHash(h, p.OldKey, p.OldValue)
	}
}

// newNode returns the root of the subtree at depth after the operation.
func (p *Proof) newNode(h *poseidon.Hasher, depth int) (*big.Int, error) {
	leaf, err := leafHash(h, p.Key, p.Value)
	if err != nil {
		return nil, err
	}
	if p.Kind == Update || p.IsOld0 {
		return leaf, nil
	}
	// The old leaf is pushed down to the first level where both keys
	// diverge; the levels in between get empty siblings.
	old, err := leafHash(h, p.OldKey, p.OldValue)
	if err != nil {
		return nil, err
	}
	split := depth
	for split < params.StateDepth && keyBit(p.Key, split) == keyBit(p.OldKey, split) {
		split++
	}
	if split == params.StateDepth {
		return nil, fmt.Errorf("%w: keys do not diverge", ErrInvalidProof)
	}
	var node *big.Int
	if keyBit(p.Key, split) == 0 {
		node, err = h.Hash(leaf, old)
	} else {
		node, err = h.Hash(old, leaf)
	}
	if err != nil {
		return nil, err
	}
	for lvl := split - 1; lvl >= depth; lvl-- {
		if keyBit(p.Key, lvl) == 0 {
			node, err = h.Hash(node, new(big.Int))
		} else {
			node, err = h.Hash(new(big.Int), node)
		}
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Apply checks that the proof folds to RootBefore and returns the root
// after the operation. Exclusion proofs leave the root unchanged.
func (p *Proof) Apply(h *poseidon.Hasher) (*big.Int, error) {
	if p.Key == nil || p.Value == nil || p.RootBefore == nil {
		return nil, fmt.Errorf("%w: incomplete proof", ErrInvalidProof)
	}
	depth := p.levels()
	old, err := p.oldNode(h)
	if err != nil {
		return nil, err
	}
	root, err := p.fold(h, old, depth)
	if err != nil {
		return nil, err
	}
	if root.Cmp(p.RootBefore) != 0 {
		return nil, fmt.Errorf("%w: %s proof does not match the root before", ErrInvalidProof, p.Kind)
	}
	if p.Kind == Exclusion {
		return root, nil
	}
	node, err := p.newNode(h, depth)
	if err != nil {
		return nil, err
	}
	return p.fold(h, node, depth)
}

// Verify checks that the proof folds to RootBefore and, for insertions and
// updates, that applying it yields RootAfter.
func (p *Proof) Verify(h *poseidon.Hasher) error {
	if p.RootAfter == nil {
		return fmt.Errorf("%w: incomplete proof", ErrInvalidProof)
	}
	root, err := p.Apply(h)
	if err != nil {
		return err
	}
	if root.Cmp(p.RootAfter) != 0 {
		if p.Kind == Exclusion {
			return fmt.Errorf("%w: exclusion changes the root", ErrInvalidProof)
		}
		return fmt.Errorf("%w: %s proof does not match the root after", ErrInvalidProof, p.Kind)
	}
	return nil
}
