package ballot

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

// Nullifier holds the values derived from a voter's signature over the
// poll: the signature proves census membership in the vote circuit while
// Seed, which only the coordinator learns, indexes the state tree.
type Nullifier struct {
	Signature *eddsa.Signature
	SigHash   *big.Int
	Seed      *big.Int
}

// Index returns the state tree index of the nullifier.
func (n *Nullifier) Index() uint64 {
	return NullifierIndex(n.Seed)
}

// NullifierIndex returns seed mod 2^StateDepth.
func NullifierIndex(seed *big.Int) uint64 {
	if seed == nil {
		return 0
	}
	return new(big.Int).And(seed, params.StateIndexMask()).Uint64()
}

// NullifierMessage returns hash(PlatformTag, pollID), the message every voter
// signs for a poll.
func NullifierMessage(h *poseidon.Hasher, pollID types.PollID) (*big.Int, error) {
	return h.Hash(params.PlatformTag, new(big.Int).SetUint64(uint64(pollID)))
}

// DeriveNullifier signs the poll message with the voter identity. The
// signature is deterministic so the same voter always lands on the same
// index for a poll.
func DeriveNullifier(h *poseidon.Hasher, identity *eddsa.Keypair, pollID types.PollID) (*Nullifier, error) {
	msg, err := NullifierMessage(h, pollID)
	if err != nil {
		return nil, err
	}
	sig := identity.Sign(msg)
	sigHash, err := sig.Hash(h)
	if err != nil {
		return nil, fmt.Errorf("signature hash: %w", err)
	}
	seed, err := h.Hash(sigHash)
	if err != nil {
		return nil, err
	}
	return &Nullifier{Signature: sig, SigHash: sigHash, Seed: seed}, nil
}

// RevotingMessage returns hash(PlatformTag, sigHash, choice, newKey.x,
// newKey.y), the message the previous revoting key signs to authorize a
// revote.
func RevotingMessage(h *poseidon.Hasher, sigHash, choice *big.Int, newKey []*big.Int) (*big.Int, error) {
	if len(newKey) != 2 {
		return nil, fmt.Errorf("revoting key must have 2 coordinates")
	}
	return h.Hash(params.PlatformTag, sigHash, choice, newKey[0], newKey[1])
}
