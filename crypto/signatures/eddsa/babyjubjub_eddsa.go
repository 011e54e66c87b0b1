// Package eddsa implements the BabyJubJub EdDSA-Poseidon identity keys used by
// voters (to derive nullifiers and authorize revotes) and by talliers (whose
// secret scalar decrypts ballots).
package eddsa

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
)

// Keypair is a BabyJubJub private key and its derived public point.
type Keypair struct {
	privKey babyjub.PrivateKey
}

// Signature is an EdDSA-Poseidon signature.
type Signature struct {
	R8 bjj.Point
	S  *big.Int
}

// Generate creates a new random keypair.
func Generate() *Keypair {
	return &Keypair{privKey: babyjub.NewRandPrivKey()}
}

// FromBytes builds a keypair from a 32-byte private key.
func FromBytes(b []byte) (*Keypair, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	k := &Keypair{}
	copy(k.privKey[:], b)
	return k, nil
}

// FromHex builds a keypair from the hex form of a 32-byte private key.
func FromHex(s string) (*Keypair, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return FromBytes(b)
}

// Bytes returns a copy of the raw private key.
func (k *Keypair) Bytes() []byte {
	out := make([]byte, len(k.privKey))
	copy(out, k.privKey[:])
	return out
}

// Hex returns the private key hex encoded.
func (k *Keypair) Hex() string {
	return hex.EncodeToString(k.privKey[:])
}

// Public returns the public point, Scalar()·B8.
func (k *Keypair) Public() bjj.Point {
	return bjj.FromIden3(k.privKey.Public().Point())
}

// Scalar returns the secret scalar derived from the private key (pruned
// blake512 digest shifted right by 3), the value that multiplies ephemeral
// keys when decrypting ballots.
func (k *Keypair) Scalar() *big.Int {
	return k.privKey.Scalar().BigInt()
}

// Sign signs a field element with EdDSA-Poseidon.
func (k *Keypair) Sign(msg *big.Int) *Signature {
	sig := k.privKey.SignPoseidon(msg)
	return &Signature{R8: bjj.FromIden3(sig.R8), S: new(big.Int).Set(sig.S)}
}

// Verify checks sig over msg against the public point pub.
func Verify(pub bjj.Point, msg *big.Int, sig *Signature) bool {
	if sig == nil || sig.S == nil || pub.IsZero() {
		return false
	}
	pk := babyjub.PublicKey(*pub.Iden3())
	return pk.VerifyPoseidon(msg, &babyjub.Signature{R8: sig.R8.Iden3(), S: sig.S})
}

// Hash returns hash(S, R8.x, R8.y), the compact digest of a signature.
func (s *Signature) Hash(h *poseidon.Hasher) (*big.Int, error) {
	return h.Hash(s.S, s.R8.X, s.R8.Y)
}

// Identity returns hash(pk.x, pk.y) hex encoded. It is the census leaf of
// the key and the name under which a tallier's progress is stored.
func (k *Keypair) Identity(h *poseidon.Hasher) (string, error) {
	leaf, err := h.Hash(k.Public().Coordinates()...)
	if err != nil {
		return "", fmt.Errorf("identity hash: %w", err)
	}
	return fmt.Sprintf("%064x", leaf), nil
}
