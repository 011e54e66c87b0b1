// Package poseidoncipher implements the Poseidon duplex sponge stream cipher
// used for ballots. The key is a shared BabyJubJub point, the nonce must be
// below 2^128, and every ciphertext carries one extra authentication limb.
package poseidoncipher

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
)

var (
	// ErrInvalidNonce is returned for nonces outside [0, 2^128).
	ErrInvalidNonce = errors.New("nonce must be below 2^128")
	// ErrInvalidLength is returned when the ciphertext framing does not match
	// the expected plaintext length.
	ErrInvalidLength = errors.New("ciphertext length does not match plaintext length")
	// ErrAuthentication is returned when the authentication limb or the
	// padding does not verify.
	ErrAuthentication = errors.New("ciphertext authentication failed")
)

var two128 = new(big.Int).Lsh(big.NewInt(1), 128)

// CiphertextLength returns the number of limbs of the ciphertext of a
// plaintext of n limbs.
func CiphertextLength(n int) int {
	return (n+2)/3*3 + 1
}

func initialState(h *poseidon.Hasher, key [2]*big.Int, nonce *big.Int, length int) ([poseidon.PermutationWidth]*big.Int, error) {
	var state [poseidon.PermutationWidth]*big.Int
	if nonce == nil || nonce.Sign() < 0 || nonce.Cmp(two128) >= 0 {
		return state, ErrInvalidNonce
	}
	for n, k := range key {
		if !h.InField(k) {
			return state, fmt.Errorf("key limb %d is not a field element", n)
		}
	}
	framing := new(big.Int).Mul(big.NewInt(int64(length)), two128)
	framing.Add(framing, nonce)
	state[0] = big.NewInt(0)
	state[1] = new(big.Int).Set(key[0])
	state[2] = new(big.Int).Set(key[1])
	state[3] = framing
	return state, nil
}

// Encrypt encrypts msg under key and nonce. The result has
// CiphertextLength(len(msg)) limbs.
func Encrypt(h *poseidon.Hasher, msg []*big.Int, key [2]*big.Int, nonce *big.Int) ([]*big.Int, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	state, err := initialState(h, key, nonce, len(msg))
	if err != nil {
		return nil, err
	}
	padded := make([]*big.Int, (len(msg)+2)/3*3)
	for n := range padded {
		if n < len(msg) {
			if !h.InField(msg[n]) {
				return nil, fmt.Errorf("message limb %d is not a field element", n)
			}
			padded[n] = msg[n]
			continue
		}
		padded[n] = big.NewInt(0)
	}

	out := make([]*big.Int, 0, len(padded)+1)
	for i := 0; i < len(padded); i += 3 {
		if state, err = h.Permute(state); err != nil {
			return nil, err
		}
		for j := range 3 {
			state[j+1] = h.Add(state[j+1], padded[i+j])
			out = append(out, new(big.Int).Set(state[j+1]))
		}
	}
	if state, err = h.Permute(state); err != nil {
		return nil, err
	}
	return append(out, state[1]), nil
}

// Decrypt inverts Encrypt for a plaintext of length limbs. It never returns
// a partial or unauthenticated result.
func Decrypt(h *poseidon.Hasher, ct []*big.Int, key [2]*big.Int, nonce *big.Int, length int) ([]*big.Int, error) {
	if length <= 0 || len(ct) != CiphertextLength(length) {
		return nil, fmt.Errorf("%w: %d limbs for %d", ErrInvalidLength, len(ct), length)
	}
	for n, c := range ct {
		if !h.InField(c) {
			return nil, fmt.Errorf("ciphertext limb %d is not a field element", n)
		}
	}
	state, err := initialState(h, key, nonce, length)
	if err != nil {
		return nil, err
	}

	body := ct[:len(ct)-1]
	msg := make([]*big.Int, 0, len(body))
	for i := 0; i < len(body); i += 3 {
		if state, err = h.Permute(state); err != nil {
			return nil, err
		}
		for j := range 3 {
			msg = append(msg, h.Sub(body[i+j], state[j+1]))
			state[j+1] = new(big.Int).Set(body[i+j])
		}
	}
	for _, pad := range msg[length:] {
		if pad.Sign() != 0 {
			return nil, ErrAuthentication
		}
	}
	if state, err = h.Permute(state); err != nil {
		return nil, err
	}
	if state[1].Cmp(ct[len(ct)-1]) != 0 {
		return nil, ErrAuthentication
	}
	return msg[:length], nil
}
