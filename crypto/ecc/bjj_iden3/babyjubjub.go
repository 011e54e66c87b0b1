// Package bjj provides BabyJubJub point helpers on top of the iden3
// implementation: affine points with a zero sentinel, the 32-byte wire
// encoding and random scalars of the prime order subgroup.
package bjj

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/vocdoni/anonvote-node/types"
)

// Point is an affine BabyJubJub point. The zero value (0, 0), which is not on
// the curve, stands for "no key".
type Point struct {
	X *big.Int
	Y *big.Int
}

// Zero returns the (0, 0) sentinel.
func Zero() Point {
	return Point{X: new(big.Int), Y: new(big.Int)}
}

// NewPoint copies x and y into a Point. Nil coordinates become zero.
func NewPoint(x, y *big.Int) Point {
	p := Zero()
	if x != nil {
		p.X.Set(x)
	}
	if y != nil {
		p.Y.Set(y)
	}
	return p
}

// FromIden3 converts an iden3 point.
func FromIden3(p *babyjub.Point) Point {
	return NewPoint(p.X, p.Y)
}

// Iden3 returns the point in the iden3 representation.
func (p Point) Iden3() *babyjub.Point {
	return &babyjub.Point{X: new(big.Int).Set(p.x()), Y: new(big.Int).Set(p.y())}
}

func (p Point) x() *big.Int {
	if p.X == nil {
		return new(big.Int)
	}
	return p.X
}

func (p Point) y() *big.Int {
	if p.Y == nil {
		return new(big.Int)
	}
	return p.Y
}

// IsZero reports whether p is the (0, 0) sentinel.
func (p Point) IsZero() bool {
	return p.x().Sign() == 0 && p.y().Sign() == 0
}

// Equal compares both coordinates.
func (p Point) Equal(q Point) bool {
	return p.x().Cmp(q.x()) == 0 && p.y().Cmp(q.y()) == 0
}

// InCurve reports whether p satisfies the curve equation.
func (p Point) InCurve() bool {
	return p.Iden3().InCurve()
}

// Mul returns s·p.
func (p Point) Mul(s *big.Int) Point {
	return FromIden3(babyjub.NewPoint().Mul(s, p.Iden3()))
}

// BaseMul returns s·B8, the subgroup generator.
func BaseMul(s *big.Int) Point {
	return FromIden3(babyjub.NewPoint().Mul(s, babyjub.B8))
}

// Coordinates returns the two coordinates as a slice, the order hashes use.
func (p Point) Coordinates() []*big.Int {
	return []*big.Int{new(big.Int).Set(p.x()), new(big.Int).Set(p.y())}
}

// String returns a short human readable form.
func (p Point) String() string {
	return fmt.Sprintf("(%s, %s)", p.x(), p.y())
}

// Wire encodes the point as two 32-byte big-endian words.
func (p Point) Wire() (types.Point, error) {
	return types.NewPoint(p.x(), p.y())
}

// FromWire decodes a wire point and checks it is on the curve.
func FromWire(w types.Point) (Point, error) {
	x, y := w.Coordinates()
	p := NewPoint(x, y)
	if !p.InCurve() {
		return Point{}, fmt.Errorf("point %s is not on the curve", p)
	}
	return p, nil
}

// RandomScalar draws a uniformly random non-zero scalar of the subgroup
// order.
func RandomScalar() (*big.Int, error) {
	for {
		r, err := rand.Int(rand.Reader, babyjub.SubOrder)
		if err != nil {
			return nil, fmt.Errorf("random scalar: %w", err)
		}
		if r.Sign() != 0 {
			return r, nil
		}
	}
}
