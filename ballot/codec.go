package ballot

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/poseidoncipher"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

// ErrMalformedBallot is returned for ballots whose keys or ciphertext cannot
// be decoded.
var ErrMalformedBallot = errors.New("malformed ballot")

// Encrypted is a ballot in its decoded form. Randomness is the ephemeral
// scalar, only known to the voter that produced the ballot.
type Encrypted struct {
	EphemeralKey bjj.Point
	Nonce        uint64
	Ciphertext   [params.CiphertextLimbs]*big.Int
	Randomness   *big.Int
}

// Ballot encodes e in its ledger form.
func (e *Encrypted) Ballot() (*types.Ballot, error) {
	eph, err := e.EphemeralKey.Wire()
	if err != nil {
		return nil, err
	}
	ct, err := types.EncodeWords(e.Ciphertext[:])
	if err != nil {
		return nil, err
	}
	return &types.Ballot{EphemeralKey: eph, Nonce: e.Nonce, Ciphertext: ct}, nil
}

// Decode parses a ledger ballot. It checks the ciphertext framing, the
// field range of every limb and that the ephemeral key is on the curve.
func Decode(h *poseidon.Hasher, b *types.Ballot) (*Encrypted, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil ballot", ErrMalformedBallot)
	}
	limbs, err := types.ParseWords(b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBallot, err)
	}
	if len(limbs) != params.CiphertextLimbs {
		return nil, fmt.Errorf("%w: ciphertext has %d limbs, expected %d",
			ErrMalformedBallot, len(limbs), params.CiphertextLimbs)
	}
	e := &Encrypted{Nonce: b.Nonce}
	for n, l := range limbs {
		if !h.InField(l) {
			return nil, fmt.Errorf("%w: limb %d is not a field element", ErrMalformedBallot, n)
		}
		e.Ciphertext[n] = l
	}
	if e.EphemeralKey, err = bjj.FromWire(b.EphemeralKey); err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %w", ErrMalformedBallot, err)
	}
	return e, nil
}

// Codec encrypts plaintexts for a coordinator key.
type Codec struct {
	h *poseidon.Hasher
}

// NewCodec returns a Codec using h.
func NewCodec(h *poseidon.Hasher) *Codec {
	return &Codec{h: h}
}

func randomNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("random nonce: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Encrypt draws a fresh ephemeral scalar and nonce and encrypts pt for
// recipient.
func (c *Codec) Encrypt(pt *Plaintext, recipient bjj.Point) (*Encrypted, error) {
	r, err := bjj.RandomScalar()
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	return c.EncryptWith(pt, recipient, r, nonce)
}

// EncryptWith encrypts pt with the given ephemeral scalar and nonce.
func (c *Codec) EncryptWith(pt *Plaintext, recipient bjj.Point, r *big.Int, nonce uint64) (*Encrypted, error) {
	if !recipient.InCurve() {
		return nil, fmt.Errorf("recipient key %s is not on the curve", recipient)
	}
	if r == nil || r.Sign() <= 0 {
		return nil, fmt.Errorf("ephemeral scalar must be positive")
	}
	shared := recipient.Mul(r)
	limbs := pt.Limbs()
	ct, err := poseidoncipher.Encrypt(c.h, limbs[:], [2]*big.Int{shared.X, shared.Y},
		new(big.Int).SetUint64(nonce))
	if err != nil {
		return nil, err
	}
	e := &Encrypted{
		EphemeralKey: bjj.BaseMul(r),
		Nonce:        nonce,
		Randomness:   new(big.Int).Set(r),
	}
	copy(e.Ciphertext[:], ct)
	return e, nil
}

// Decrypt recovers the plaintext of e with the recipient secret scalar.
func (c *Codec) Decrypt(e *Encrypted, secret *big.Int) (*Plaintext, error) {
	shared := e.EphemeralKey.Mul(secret)
	limbs, err := poseidoncipher.Decrypt(c.h, e.Ciphertext[:], [2]*big.Int{shared.X, shared.Y},
		new(big.Int).SetUint64(e.Nonce), params.PlaintextLimbs)
	if err != nil {
		return nil, err
	}
	var fixed [params.PlaintextLimbs]*big.Int
	copy(fixed[:], limbs)
	return PlaintextFromLimbs(fixed), nil
}

// DecryptBallot decodes and decrypts a ledger ballot.
func (c *Codec) DecryptBallot(b *types.Ballot, secret *big.Int) (*Plaintext, *Encrypted, error) {
	e, err := Decode(c.h, b)
	if err != nil {
		return nil, nil, err
	}
	pt, err := c.Decrypt(e, secret)
	if err != nil {
		return nil, nil, err
	}
	return pt, e, nil
}
