// Package state implements the nullifier state tree: a sparse Merkle tree of
// StateDepth levels keyed by nullifier index, where every leaf commits to the
// current choice and revoting key of one voter.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/vocdoni/arbo"
	"github.com/vocdoni/arbo/memdb"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/types/params"
)

// HashFn is the hash function of the state tree. Leaves hash as
// hash(key, value, 1) and middle nodes as hash(left, right), the circom SMT
// rules.
var HashFn = arbo.HashFunctionPoseidon

const (
	keyLen   = params.StateDepth / 8
	valueLen = params.WordSize
)

// Leaf is the content of an occupied index.
type Leaf struct {
	Choice      *big.Int
	RevotingKey bjj.Point
}

// EmptyLeaf returns the implicit content of an unused index: choice 0 and
// the zero revoting key.
func EmptyLeaf() Leaf {
	return Leaf{Choice: new(big.Int), RevotingKey: bjj.Zero()}
}

// Hash returns hash(choice, key.x, key.y), the value stored in the tree.
func (l Leaf) Hash(h *poseidon.Hasher) (*big.Int, error) {
	choice := l.Choice
	if choice == nil {
		choice = new(big.Int)
	}
	key := l.RevotingKey.Coordinates()
	return h.Hash(choice, key[0], key[1])
}

// Tree is a state tree held in memory. It is not safe for concurrent use;
// the tally engine builds a fresh one for each batch.
type Tree struct {
	h    *poseidon.Hasher
	tree *arbo.Tree
}

// New returns an empty tree.
func New(h *poseidon.Hasher) (*Tree, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     memdb.New(),
		MaxLevels:    params.StateDepth,
		HashFunction: HashFn,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create state tree: %w", err)
	}
	return &Tree{h: h, tree: tree}, nil
}

// FromLeaves builds a tree holding the given leaf hashes by index. The
// insertion order is fixed so equal inputs always give the same root.
func FromLeaves(h *poseidon.Hasher, leaves map[uint64]*big.Int) (*Tree, error) {
	t, err := New(h)
	if err != nil {
		return nil, err
	}
	indexes := make([]uint64, 0, len(leaves))
	for idx := range leaves {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, idx := range indexes {
		if err := t.tree.Add(EncodeKey(idx), encodeValue(leaves[idx])); err != nil {
			return nil, fmt.Errorf("add leaf %d: %w", idx, err)
		}
	}
	return t, nil
}

// EncodeKey returns the arbo key of an index.
func EncodeKey(index uint64) []byte {
	return arbo.BigIntToBytes(keyLen, new(big.Int).SetUint64(index))
}

func encodeValue(v *big.Int) []byte {
	return arbo.BigIntToBytes(valueLen, v)
}

// Root returns the current root. The empty tree has root 0.
func (t *Tree) Root() (*big.Int, error) {
	root, err := t.tree.Root()
	if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(root), nil
}

// Get returns the value stored at index and whether it exists.
func (t *Tree) Get(index uint64) (*big.Int, bool, error) {
	_, v, err := t.tree.Get(EncodeKey(index))
	if errors.Is(err, arbo.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return arbo.BytesToBigInt(v), true, nil
}

// path returns the current root and the proof material of index.
func (t *Tree) path(index uint64) (*pathProof, error) {
	root, err := t.Root()
	if err != nil {
		return nil, err
	}
	leafK, leafV, packed, existence, err := t.tree.GenProof(EncodeKey(index))
	if err != nil {
		return nil, fmt.Errorf("generate proof for %d: %w", index, err)
	}
	unpacked, err := arbo.UnpackSiblings(HashFn, packed)
	if err != nil {
		return nil, fmt.Errorf("unpack siblings: %w", err)
	}
	if len(unpacked) > params.StateDepth {
		return nil, fmt.Errorf("proof has %d siblings", len(unpacked))
	}
	p := &pathProof{root: root, existence: existence, empty: len(leafK) == 0}
	for n := range p.siblings {
		p.siblings[n] = new(big.Int)
		if n < len(unpacked) {
			p.siblings[n] = arbo.BytesToBigInt(unpacked[n])
		}
	}
	p.leafKey, p.leafValue = new(big.Int), new(big.Int)
	if !p.empty {
		p.leafKey = arbo.BytesToBigInt(leafK)
		p.leafValue = arbo.BytesToBigInt(leafV)
	}
	return p, nil
}

type pathProof struct {
	root      *big.Int
	siblings  [params.StateDepth]*big.Int
	existence bool
	empty     bool
	leafKey   *big.Int
	leafValue *big.Int
}

// InsertOrUpdate sets index to value. It inserts when the index is unused
// and updates otherwise. The returned proof carries the siblings of the tree
// before the change.
func (t *Tree) InsertOrUpdate(index uint64, value *big.Int) (*Proof, error) {
	if !t.h.InField(value) {
		return nil, fmt.Errorf("leaf value is not a field element")
	}
	before, err := t.path(index)
	if err != nil {
		return nil, err
	}
	p := &Proof{
		Kind:       Insert,
		RootBefore: before.root,
		Key:        new(big.Int).SetUint64(index),
		Value:      new(big.Int).Set(value),
		Siblings:   before.siblings,
		IsOld0:     before.empty,
		OldKey:     before.leafKey,
		OldValue:   before.leafValue,
	}
	if before.existence {
		p.Kind = Update
		if err := t.tree.Update(EncodeKey(index), encodeValue(value)); err != nil {
			return nil, fmt.Errorf("update leaf %d: %w", index, err)
		}
	} else if err := t.tree.Add(EncodeKey(index), encodeValue(value)); err != nil {
		return nil, fmt.Errorf("add leaf %d: %w", index, err)
	}
	if p.RootAfter, err = t.Root(); err != nil {
		return nil, err
	}
	return p, nil
}

// ProveNonMembership proves the current content of index without changing
// the tree: the leaf itself when it exists, or the leaf (if any) that
// occupies its path otherwise.
func (t *Tree) ProveNonMembership(index uint64) (*Proof, error) {
	cur, err := t.path(index)
	if err != nil {
		return nil, err
	}
	p := &Proof{
		Kind:       Exclusion,
		RootBefore: cur.root,
		RootAfter:  cur.root,
		Key:        new(big.Int).SetUint64(index),
		Value:      new(big.Int),
		Siblings:   cur.siblings,
		IsOld0:     true,
		OldKey:     new(big.Int),
		OldValue:   new(big.Int),
	}
	switch {
	case cur.existence:
		p.Value = cur.leafValue
	case !cur.empty:
		p.IsOld0 = false
		p.OldKey = cur.leafKey
		p.OldValue = cur.leafValue
	}
	return p, nil
}
