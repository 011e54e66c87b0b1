package types

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/vocdoni/anonvote-node/types/params"
)

// ErrMalformedWords is returned when a byte blob is not a whole number of
// 32-byte words.
var ErrMalformedWords = fmt.Errorf("length is not a multiple of %d bytes", params.WordSize)

// Word encodes x as a 32-byte big-endian value. It fails if x is negative or
// does not fit in 256 bits.
func Word(x *big.Int) (HexBytes, error) {
	if x == nil {
		return make(HexBytes, params.WordSize), nil
	}
	u, overflow := uint256.FromBig(x)
	if overflow || x.Sign() < 0 {
		return nil, fmt.Errorf("value %s does not fit in a word", x)
	}
	w := u.Bytes32()
	return w[:], nil
}

// MustWord is like Word but panics on error. Only for values known to be
// field elements.
func MustWord(x *big.Int) HexBytes {
	w, err := Word(x)
	if err != nil {
		panic(err)
	}
	return w
}

// ParseWords splits b into 32-byte big-endian words.
func ParseWords(b []byte) ([]*big.Int, error) {
	if len(b)%params.WordSize != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrMalformedWords, len(b))
	}
	out := make([]*big.Int, 0, len(b)/params.WordSize)
	for off := 0; off < len(b); off += params.WordSize {
		out = append(out, new(uint256.Int).SetBytes32(b[off:off+params.WordSize]).ToBig())
	}
	return out, nil
}

// EncodeWords concatenates the 32-byte big-endian encodings of xs.
func EncodeWords(xs []*big.Int) (HexBytes, error) {
	out := make(HexBytes, 0, len(xs)*params.WordSize)
	for n, x := range xs {
		w, err := Word(x)
		if err != nil {
			return nil, fmt.Errorf("word %d: %w", n, err)
		}
		out = append(out, w...)
	}
	return out, nil
}
