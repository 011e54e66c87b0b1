package ballot

import (
	"math/big"

	"github.com/google/go-cmp/cmp"
)

var bigComparer = cmp.Comparer(func(a, b *big.Int) bool {
	return a.Cmp(b) == 0
})
