package ballot

import (
	"math/big"

	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/types/params"
)

// MessageHash returns hash(eph.x, eph.y, nonce, ct[0..6]), the value the vote
// proof binds and the running hash chains.
func MessageHash(h *poseidon.Hasher, e *Encrypted) (*big.Int, error) {
	inputs := make([]*big.Int, 0, 3+params.CiphertextLimbs)
	inputs = append(inputs, e.EphemeralKey.Coordinates()...)
	inputs = append(inputs, new(big.Int).SetUint64(e.Nonce))
	inputs = append(inputs, e.Ciphertext[:]...)
	return h.Hash(inputs...)
}

// ChainHash extends the running message hash with one message.
func ChainHash(h *poseidon.Hasher, prev, msgHash *big.Int) (*big.Int, error) {
	return h.Hash(prev, msgHash)
}

// TallyCommitment returns hash(salt, counts...) over exactly MaxChoices
// counters; missing counters are zero.
func TallyCommitment(h *poseidon.Hasher, salt *big.Int, counts []*big.Int) (*big.Int, error) {
	inputs := make([]*big.Int, 1+params.MaxChoices)
	inputs[0] = salt
	for n := range params.MaxChoices {
		if n < len(counts) && counts[n] != nil {
			inputs[n+1] = counts[n]
		} else {
			inputs[n+1] = new(big.Int)
		}
	}
	return h.Hash(inputs...)
}
