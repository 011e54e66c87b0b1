package poseidon

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHashKnownVector(t *testing.T) {
	c := qt.New(t)
	h := New()
	got, err := h.Hash(big.NewInt(1), big.NewInt(2))
	c.Assert(err, qt.IsNil)
	c.Assert(got.String(), qt.Equals, "7853200120776062878684798364095072458815029376092732009249414926327459813530")
}

func TestHashInputValidation(t *testing.T) {
	c := qt.New(t)
	h := New()

	_, err := h.Hash()
	c.Assert(err, qt.IsNotNil)
	_, err = h.Hash(make([]*big.Int, 17)...)
	c.Assert(err, qt.IsNotNil)
	_, err = h.Hash(big.NewInt(1), nil)
	c.Assert(err, qt.ErrorMatches, "input 1 is nil")
	_, err = h.Hash(h.Field())
	c.Assert(err, qt.ErrorMatches, "input 0 is not a field element")
}

func TestMultiHash(t *testing.T) {
	c := qt.New(t)
	h := New()

	small := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	direct, err := h.Hash(small...)
	c.Assert(err, qt.IsNil)
	multi, err := h.MultiHash(small...)
	c.Assert(err, qt.IsNil)
	c.Assert(multi.Cmp(direct), qt.Equals, 0)

	large := make([]*big.Int, 40)
	for i := range large {
		large[i] = big.NewInt(int64(i))
	}
	first, err := h.Hash(large[:16]...)
	c.Assert(err, qt.IsNil)
	second, err := h.Hash(large[16:32]...)
	c.Assert(err, qt.IsNil)
	third, err := h.Hash(large[32:]...)
	c.Assert(err, qt.IsNil)
	want, err := h.Hash(first, second, third)
	c.Assert(err, qt.IsNil)
	got, err := h.MultiHash(large...)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(want), qt.Equals, 0)
}

func TestPermuteMatchesHash(t *testing.T) {
	c := qt.New(t)
	h := New()

	// the sponge hash of 3 inputs is the first limb of the permutation of
	// [0, in0, in1, in2]
	state := [PermutationWidth]*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	out, err := h.Permute(state)
	c.Assert(err, qt.IsNil)
	want, err := h.Hash(big.NewInt(1), big.NewInt(2), big.NewInt(3))
	c.Assert(err, qt.IsNil)
	c.Assert(out[0].Cmp(want), qt.Equals, 0)
	for _, limb := range out {
		c.Assert(h.InField(limb), qt.IsTrue)
	}
	// input state is left untouched
	c.Assert(state[1].Int64(), qt.Equals, int64(1))
}

func TestFieldArithmetic(t *testing.T) {
	c := qt.New(t)
	h := New()
	pMinus1 := new(big.Int).Sub(h.Field(), big.NewInt(1))
	c.Assert(h.Add(pMinus1, big.NewInt(2)).Int64(), qt.Equals, int64(1))
	c.Assert(h.Sub(big.NewInt(1), big.NewInt(2)).Cmp(pMinus1), qt.Equals, 0)
}
