package types

import (
	"math/big"
)

// Point is a curve point in its wire form: both coordinates as 32-byte
// big-endian words.
type Point struct {
	X HexBytes `json:"x" cbor:"0,keyasint"`
	Y HexBytes `json:"y" cbor:"1,keyasint"`
}

// NewPoint encodes the coordinates x and y.
func NewPoint(x, y *big.Int) (Point, error) {
	wx, err := Word(x)
	if err != nil {
		return Point{}, err
	}
	wy, err := Word(y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: wx, Y: wy}, nil
}

// Coordinates decodes the point into its two integers.
func (p Point) Coordinates() (*big.Int, *big.Int) {
	return p.X.BigInt(), p.Y.BigInt()
}
