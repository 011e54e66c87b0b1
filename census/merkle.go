// Package census builds the fixed depth Merkle tree over the ordered list of
// registered voter leaves and produces the membership proofs consumed by the
// vote circuit.
package census

import (
	"errors"
	"fmt"
	"math/big"

	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/types/params"
)

var (
	// ErrEmptyCensus is returned when a tree is built over no leaves.
	ErrEmptyCensus = errors.New("census has no leaves")
	// ErrIndexOutOfRange is returned for proofs of non existing leaves.
	ErrIndexOutOfRange = errors.New("leaf index out of range")
	// ErrLeafNotFound is returned when a key is not registered in the census.
	ErrLeafNotFound = errors.New("leaf not found in census")
)

// Leaf returns the census leaf of a public key, hash(pk.x, pk.y).
func Leaf(h *poseidon.Hasher, pk bjj.Point) (*big.Int, error) {
	return h.Hash(pk.Coordinates()...)
}

// Proof is a membership proof for the leaf at Index. PathBits[k] is 1 when
// the node at level k is a right child.
type Proof struct {
	Leaf     *big.Int
	Index    uint64
	Siblings [params.CensusDepth]*big.Int
	PathBits [params.CensusDepth]uint8
}

// Root folds the proof from the leaf upwards.
func (p *Proof) Root(h *poseidon.Hasher) (*big.Int, error) {
	cur := p.Leaf
	for k := range params.CensusDepth {
		var err error
		if p.PathBits[k] == 0 {
			cur, err = h.Hash(cur, p.Siblings[k])
		} else {
			cur, err = h.Hash(p.Siblings[k], cur)
		}
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", k, err)
		}
	}
	return cur, nil
}

// Verify reports whether the proof folds up to root.
func (p *Proof) Verify(h *poseidon.Hasher, root *big.Int) (bool, error) {
	got, err := p.Root(h)
	if err != nil {
		return false, err
	}
	return got.Cmp(root) == 0, nil
}

// Tree is an immutable census of up to 2^CensusDepth leaves. Levels shorter
// than a full power of two are completed with the per-level default values,
// so the leaf list is never padded.
type Tree struct {
	h        *poseidon.Hasher
	leaves   []*big.Int
	defaults []*big.Int
	root     *big.Int
}

// New builds the census tree over leaves and computes its root.
func New(h *poseidon.Hasher, leaves []*big.Int) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyCensus
	}
	if uint64(len(leaves)) > uint64(1)<<params.CensusDepth {
		return nil, fmt.Errorf("census too large: %d leaves", len(leaves))
	}
	for n, leaf := range leaves {
		if !h.InField(leaf) {
			return nil, fmt.Errorf("leaf %d is not a field element", n)
		}
	}
	defaults, err := defaultNodes(h)
	if err != nil {
		return nil, err
	}
	t := &Tree{h: h, leaves: leaves, defaults: defaults}
	level := leaves
	for k := range params.CensusDepth {
		if level, err = t.fold(level, k); err != nil {
			return nil, err
		}
	}
	t.root = level[0]
	return t, nil
}

// defaultNodes returns the empty subtree value of every level:
// hash(0) for the leaves and hash(d, d) above.
func defaultNodes(h *poseidon.Hasher) ([]*big.Int, error) {
	defaults := make([]*big.Int, params.CensusDepth+1)
	d, err := h.Hash(big.NewInt(0))
	if err != nil {
		return nil, err
	}
	defaults[0] = d
	for k := 1; k <= params.CensusDepth; k++ {
		if d, err = h.Hash(d, d); err != nil {
			return nil, err
		}
		defaults[k] = d
	}
	return defaults, nil
}

func (t *Tree) node(level []*big.Int, i int, k int) *big.Int {
	if i < len(level) {
		return level[i]
	}
	return t.defaults[k]
}

func (t *Tree) fold(level []*big.Int, k int) ([]*big.Int, error) {
	next := make([]*big.Int, (len(level)+1)/2)
	for i := range next {
		parent, err := t.h.Hash(level[2*i], t.node(level, 2*i+1, k))
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", k, err)
		}
		next[i] = parent
	}
	return next, nil
}

// Root returns the census root.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.root)
}

// Size returns the number of registered leaves.
func (t *Tree) Size() int {
	return len(t.leaves)
}

// Leaves returns the registered leaves in order.
func (t *Tree) Leaves() []*big.Int {
	return append([]*big.Int(nil), t.leaves...)
}

// IndexOf returns the position of leaf in the census.
func (t *Tree) IndexOf(leaf *big.Int) (int, error) {
	for n, l := range t.leaves {
		if l.Cmp(leaf) == 0 {
			return n, nil
		}
	}
	return -1, ErrLeafNotFound
}

// Proof returns the membership proof of the leaf at index.
func (t *Tree) Proof(index int) (*Proof, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(t.leaves))
	}
	p := &Proof{Leaf: t.leaves[index], Index: uint64(index)}
	level := t.leaves
	idx := index
	for k := range params.CensusDepth {
		p.Siblings[k] = t.node(level, idx^1, k)
		p.PathBits[k] = uint8(idx & 1)
		var err error
		if level, err = t.fold(level, k); err != nil {
			return nil, err
		}
		idx >>= 1
	}
	return p, nil
}

// BuildRoot computes the root of the census over leaves.
func BuildRoot(h *poseidon.Hasher, leaves []*big.Int) (*big.Int, error) {
	t, err := New(h, leaves)
	if err != nil {
		return nil, err
	}
	return t.Root(), nil
}

// BuildProof computes the membership proof of the leaf at index.
func BuildProof(h *poseidon.Hasher, leaves []*big.Int, index int) (*Proof, error) {
	t, err := New(h, leaves)
	if err != nil {
		return nil, err
	}
	return t.Proof(index)
}
