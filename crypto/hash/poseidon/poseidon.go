// Package poseidon wraps the circom compatible Poseidon hash over the BN254
// scalar field. Components receive a *Hasher at construction time instead of
// calling package level functions, so tests can share or replace it and no
// component depends on hidden initialization order.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/vocdoni/anonvote-node/types/params"
)

// MaxInputs is the largest number of inputs a single Poseidon call accepts.
const MaxInputs = 16

// PermutationWidth is the state width of the permutation used by the cipher.
const PermutationWidth = 4

// Hasher computes Poseidon hashes and permutations. It holds no mutable state
// and is safe for concurrent use.
type Hasher struct {
	field *big.Int
}

// New returns a Hasher over the BN254 scalar field.
func New() *Hasher {
	return &Hasher{field: params.FieldModulus()}
}

// Field returns a copy of the field modulus.
func (h *Hasher) Field() *big.Int {
	return new(big.Int).Set(h.field)
}

// InField reports whether x is a canonical field element.
func (h *Hasher) InField(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(h.field) < 0
}

func (h *Hasher) checkInputs(inputs []*big.Int) error {
	for n, in := range inputs {
		if in == nil {
			return fmt.Errorf("input %d is nil", n)
		}
		if !h.InField(in) {
			return fmt.Errorf("input %d is not a field element", n)
		}
	}
	return nil
}

// Hash returns the Poseidon hash of 1 to 16 field elements.
func (h *Hasher) Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 || len(inputs) > MaxInputs {
		return nil, fmt.Errorf("poseidon accepts 1 to %d inputs, got %d", MaxInputs, len(inputs))
	}
	if err := h.checkInputs(inputs); err != nil {
		return nil, err
	}
	return poseidon.Hash(inputs)
}

// MultiHash hashes any number of inputs by hashing chunks of 16 and then the
// chunk hashes, recursively. For 16 or fewer inputs it equals Hash.
func (h *Hasher) MultiHash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs) <= MaxInputs {
		return h.Hash(inputs...)
	}
	hashes := make([]*big.Int, 0, (len(inputs)+MaxInputs-1)/MaxInputs)
	for i := 0; i < len(inputs); i += MaxInputs {
		hash, err := h.Hash(inputs[i:min(i+MaxInputs, len(inputs))]...)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return h.MultiHash(hashes...)
}

// Permute applies the width-4 Poseidon permutation to state.
func (h *Hasher) Permute(state [PermutationWidth]*big.Int) ([PermutationWidth]*big.Int, error) {
	var out [PermutationWidth]*big.Int
	if err := h.checkInputs(state[:]); err != nil {
		return out, err
	}
	res, err := poseidon.HashWithStateEx(state[1:], state[0], PermutationWidth)
	if err != nil {
		return out, fmt.Errorf("poseidon permutation: %w", err)
	}
	copy(out[:], res)
	return out, nil
}

// Add returns a+b mod p.
func (h *Hasher) Add(a, b *big.Int) *big.Int {
	r := new(big.Int).Add(a, b)
	return r.Mod(r, h.field)
}

// Sub returns a-b mod p, always in [0, p).
func (h *Hasher) Sub(a, b *big.Int) *big.Int {
	r := new(big.Int).Sub(a, b)
	return r.Mod(r, h.field)
}
