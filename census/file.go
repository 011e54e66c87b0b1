package census

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/types"
)

// ParseFile decodes a census file: a headerless concatenation of 32-byte
// big-endian leaves.
func ParseFile(h *poseidon.Hasher, data []byte) ([]*big.Int, error) {
	leaves, err := types.ParseWords(data)
	if err != nil {
		return nil, fmt.Errorf("malformed census file: %w", err)
	}
	if len(leaves) == 0 {
		return nil, ErrEmptyCensus
	}
	for n, leaf := range leaves {
		if !h.InField(leaf) {
			return nil, fmt.Errorf("malformed census file: leaf %d is not a field element", n)
		}
	}
	return leaves, nil
}

// EncodeFile encodes leaves in the census file format.
func EncodeFile(leaves []*big.Int) ([]byte, error) {
	return types.EncodeWords(leaves)
}
