package census

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/types/params"
)

func randomLeaves(c *qt.C, h *poseidon.Hasher, n int) []*big.Int {
	leaves := make([]*big.Int, n)
	for i := range leaves {
		s, err := bjj.RandomScalar()
		c.Assert(err, qt.IsNil)
		leaf, err := Leaf(h, bjj.BaseMul(s))
		c.Assert(err, qt.IsNil)
		leaves[i] = leaf
	}
	return leaves
}

func TestProofFoldsToRoot(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()

	for _, size := range []int{1, 2, 3, 5, 8, 13} {
		leaves := randomLeaves(c, h, size)
		root, err := BuildRoot(h, leaves)
		c.Assert(err, qt.IsNil)
		for idx := range leaves {
			proof, err := BuildProof(h, leaves, idx)
			c.Assert(err, qt.IsNil)
			ok, err := proof.Verify(h, root)
			c.Assert(err, qt.IsNil)
			c.Assert(ok, qt.IsTrue, qt.Commentf("size %d index %d", size, idx))
			c.Assert(proof.Index, qt.Equals, uint64(idx))
		}
	}
}

func TestSingleLeafUsesDefaults(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	leaf := big.NewInt(12345)

	defaults, err := defaultNodes(h)
	c.Assert(err, qt.IsNil)
	expected := leaf
	for k := range params.CensusDepth {
		expected, err = h.Hash(expected, defaults[k])
		c.Assert(err, qt.IsNil)
	}
	root, err := BuildRoot(h, []*big.Int{leaf})
	c.Assert(err, qt.IsNil)
	c.Assert(root.Cmp(expected), qt.Equals, 0)

	d0, err := h.Hash(big.NewInt(0))
	c.Assert(err, qt.IsNil)
	c.Assert(defaults[0].Cmp(d0), qt.Equals, 0)
}

func TestProofPathBits(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	leaves := randomLeaves(c, h, 6)

	proof, err := BuildProof(h, leaves, 5)
	c.Assert(err, qt.IsNil)
	c.Assert(proof.PathBits[0], qt.Equals, uint8(1))
	c.Assert(proof.PathBits[1], qt.Equals, uint8(0))
	c.Assert(proof.PathBits[2], qt.Equals, uint8(1))
	c.Assert(proof.PathBits[3], qt.Equals, uint8(0))
	c.Assert(proof.Siblings[0].Cmp(leaves[4]), qt.Equals, 0)
}

func TestWrongRootFails(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	leaves := randomLeaves(c, h, 3)

	tree, err := New(h, leaves)
	c.Assert(err, qt.IsNil)
	proof, err := tree.Proof(1)
	c.Assert(err, qt.IsNil)
	ok, err := proof.Verify(h, new(big.Int).Add(tree.Root(), big.NewInt(1)))
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	proof.Leaf = leaves[0]
	ok, err = proof.Verify(h, tree.Root())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestDegenerateInputs(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()

	_, err := BuildRoot(h, nil)
	c.Assert(err, qt.ErrorIs, ErrEmptyCensus)

	leaves := randomLeaves(c, h, 3)
	_, err = BuildProof(h, leaves, 3)
	c.Assert(err, qt.ErrorIs, ErrIndexOutOfRange)
	_, err = BuildProof(h, leaves, -1)
	c.Assert(err, qt.ErrorIs, ErrIndexOutOfRange)

	_, err = New(h, []*big.Int{h.Field()})
	c.Assert(err, qt.IsNotNil)
}

func TestIndexOf(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	leaves := randomLeaves(c, h, 4)
	tree, err := New(h, leaves)
	c.Assert(err, qt.IsNil)

	idx, err := tree.IndexOf(leaves[2])
	c.Assert(err, qt.IsNil)
	c.Assert(idx, qt.Equals, 2)
	_, err = tree.IndexOf(big.NewInt(1))
	c.Assert(err, qt.ErrorIs, ErrLeafNotFound)
}
