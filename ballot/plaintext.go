// Package ballot encrypts and decrypts votes for a poll's coordinator and
// builds the inputs of the vote circuit on the voter side.
package ballot

import (
	"fmt"
	"math/big"

	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/types/params"
)

// Plaintext is the content of a ballot only the coordinator can read.
// Choice 0 is reserved for a no-op vote.
type Plaintext struct {
	Nullifier      *big.Int
	Choice         *big.Int
	RevotingKeyOld bjj.Point
	RevotingKeyNew bjj.Point
}

// Limbs returns the plaintext in its cipher order:
// nullifier, choice, old key x and y, new key x and y.
func (p *Plaintext) Limbs() [params.PlaintextLimbs]*big.Int {
	old := p.RevotingKeyOld.Coordinates()
	next := p.RevotingKeyNew.Coordinates()
	return [params.PlaintextLimbs]*big.Int{
		orZero(p.Nullifier), orZero(p.Choice), old[0], old[1], next[0], next[1],
	}
}

// PlaintextFromLimbs is the inverse of Limbs.
func PlaintextFromLimbs(limbs [params.PlaintextLimbs]*big.Int) *Plaintext {
	return &Plaintext{
		Nullifier:      orZero(limbs[0]),
		Choice:         orZero(limbs[1]),
		RevotingKeyOld: bjj.NewPoint(limbs[2], limbs[3]),
		RevotingKeyNew: bjj.NewPoint(limbs[4], limbs[5]),
	}
}

// Index returns the state tree index of the plaintext nullifier.
func (p *Plaintext) Index() uint64 {
	return NullifierIndex(p.Nullifier)
}

// ChoiceIndex returns the choice as a small integer and whether it lies in
// [0, MaxChoices].
func (p *Plaintext) ChoiceIndex() (int, bool) {
	if p.Choice == nil || !p.Choice.IsUint64() || p.Choice.Uint64() > params.MaxChoices {
		return 0, false
	}
	return int(p.Choice.Uint64()), true
}

func (p *Plaintext) String() string {
	return fmt.Sprintf("nullifier=%s choice=%s old=%s new=%s",
		orZero(p.Nullifier), orZero(p.Choice), p.RevotingKeyOld, p.RevotingKeyNew)
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
