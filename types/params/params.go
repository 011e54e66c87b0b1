// Package params holds the protocol constants shared by voters, talliers and
// the ledger. Changing any of them breaks compatibility with existing polls and
// with the proving circuits.
package params

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	// MaxChoices is the fixed number of tally counters. Polls use the first
	// nChoices of them, the rest stay at zero.
	MaxChoices = 8
	// CensusDepth is the depth of the census Merkle tree.
	CensusDepth = 40
	// StateDepth is the depth of the nullifier state tree.
	StateDepth = 64
	// MaxBatch is the number of ballots folded by a single tally proof.
	MaxBatch = 6
	// PlaintextLimbs is the number of field elements of a ballot plaintext.
	PlaintextLimbs = 6
	// CiphertextLimbs is the number of field elements of a ballot ciphertext:
	// the plaintext rounded up to a multiple of 3 plus the authentication limb.
	CiphertextLimbs = 7
	// WordSize is the size in bytes of an encoded field element.
	WordSize = 32
	// SaltBits is the size of the random tally salt.
	SaltBits = 64
)

// PlatformTag is the domain separator mixed into every signed message
// ("AnonVote" read as a big-endian integer).
var PlatformTag = big.NewInt(4714828379590718565)

// FieldModulus returns the BN254 scalar field modulus every hash input and
// ciphertext limb lives in.
func FieldModulus() *big.Int {
	return fr.Modulus()
}

// StateIndexMask returns 2^StateDepth - 1.
func StateIndexMask() *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), StateDepth)
	return m.Sub(m, big.NewInt(1))
}
