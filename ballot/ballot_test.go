package ballot

import (
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/census"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

func TestCodecRoundTrip(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	codec := NewCodec(h)

	for range 5 {
		coordinator := eddsa.Generate()
		seed, err := bjj.RandomScalar()
		c.Assert(err, qt.IsNil)
		pt := &Plaintext{
			Nullifier:      seed,
			Choice:         big.NewInt(3),
			RevotingKeyOld: bjj.Zero(),
			RevotingKeyNew: eddsa.Generate().Public(),
		}
		enc, err := codec.Encrypt(pt, coordinator.Public())
		c.Assert(err, qt.IsNil)

		wire, err := enc.Ballot()
		c.Assert(err, qt.IsNil)
		c.Assert(wire.Ciphertext, qt.HasLen, params.CiphertextLimbs*params.WordSize)

		got, _, err := codec.DecryptBallot(wire, coordinator.Scalar())
		c.Assert(err, qt.IsNil)
		c.Assert(got.Limbs(), qt.CmpEquals(bigComparer), pt.Limbs())
		c.Assert(got.Index(), qt.Equals, pt.Index())
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	codec := NewCodec(h)
	coordinator := eddsa.Generate()

	pt := &Plaintext{Nullifier: big.NewInt(9), Choice: big.NewInt(1)}
	enc, err := codec.Encrypt(pt, coordinator.Public())
	c.Assert(err, qt.IsNil)
	_, err = codec.Decrypt(enc, eddsa.Generate().Scalar())
	c.Assert(err, qt.IsNotNil)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	codec := NewCodec(h)
	coordinator := eddsa.Generate()

	enc, err := codec.Encrypt(&Plaintext{Choice: big.NewInt(1)}, coordinator.Public())
	c.Assert(err, qt.IsNil)
	wire, err := enc.Ballot()
	c.Assert(err, qt.IsNil)

	short := *wire
	short.Ciphertext = wire.Ciphertext[:6*params.WordSize]
	_, err = Decode(h, &short)
	c.Assert(err, qt.ErrorIs, ErrMalformedBallot)

	ragged := *wire
	ragged.Ciphertext = wire.Ciphertext[:len(wire.Ciphertext)-1]
	_, err = Decode(h, &ragged)
	c.Assert(err, qt.ErrorIs, ErrMalformedBallot)

	offCurve := *wire
	offCurve.EphemeralKey = types.Point{X: types.MustWord(big.NewInt(1)), Y: types.MustWord(big.NewInt(2))}
	_, err = Decode(h, &offCurve)
	c.Assert(err, qt.ErrorIs, ErrMalformedBallot)
}

func TestMessageHashChain(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	codec := NewCodec(h)
	coordinator := eddsa.Generate()

	enc, err := codec.EncryptWith(&Plaintext{Choice: big.NewInt(2)}, coordinator.Public(), big.NewInt(11), 5)
	c.Assert(err, qt.IsNil)
	msg, err := MessageHash(h, enc)
	c.Assert(err, qt.IsNil)

	inputs := append(enc.EphemeralKey.Coordinates(), big.NewInt(5))
	inputs = append(inputs, enc.Ciphertext[:]...)
	expected, err := h.Hash(inputs...)
	c.Assert(err, qt.IsNil)
	c.Assert(msg.Cmp(expected), qt.Equals, 0)

	chained, err := ChainHash(h, big.NewInt(0), msg)
	c.Assert(err, qt.IsNil)
	expected, err = h.Hash(big.NewInt(0), msg)
	c.Assert(err, qt.IsNil)
	c.Assert(chained.Cmp(expected), qt.Equals, 0)
}

func TestTallyCommitmentPadsCounts(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	salt := big.NewInt(99)

	short, err := TallyCommitment(h, salt, []*big.Int{big.NewInt(1), big.NewInt(2)})
	c.Assert(err, qt.IsNil)
	full := make([]*big.Int, params.MaxChoices)
	for n := range full {
		full[n] = new(big.Int)
	}
	full[0], full[1] = big.NewInt(1), big.NewInt(2)
	padded, err := TallyCommitment(h, salt, full)
	c.Assert(err, qt.IsNil)
	c.Assert(short.Cmp(padded), qt.Equals, 0)

	other, err := TallyCommitment(h, big.NewInt(100), full)
	c.Assert(err, qt.IsNil)
	c.Assert(other.Cmp(padded), qt.Not(qt.Equals), 0)
}

func TestNullifierIsDeterministic(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	voter := eddsa.Generate()

	n1, err := DeriveNullifier(h, voter, 7)
	c.Assert(err, qt.IsNil)
	n2, err := DeriveNullifier(h, voter, 7)
	c.Assert(err, qt.IsNil)
	c.Assert(n1.Seed.Cmp(n2.Seed), qt.Equals, 0)
	c.Assert(n1.Index(), qt.Equals, n2.Index())

	other, err := DeriveNullifier(h, voter, 8)
	c.Assert(err, qt.IsNil)
	c.Assert(other.Seed.Cmp(n1.Seed), qt.Not(qt.Equals), 0)

	msg, err := NullifierMessage(h, 7)
	c.Assert(err, qt.IsNil)
	c.Assert(eddsa.Verify(voter.Public(), msg, n1.Signature), qt.IsTrue)

	c.Assert(NullifierIndex(new(big.Int).Lsh(big.NewInt(1), 64)), qt.Equals, uint64(0))
	c.Assert(NullifierIndex(new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(5))), qt.Equals, uint64(5))
}

func testPoll(c *qt.C, h *poseidon.Hasher, voters []*eddsa.Keypair, coordinator *eddsa.Keypair) (*types.Poll, *census.Tree) {
	leaves := make([]*big.Int, len(voters))
	for n, v := range voters {
		leaf, err := census.Leaf(h, v.Public())
		c.Assert(err, qt.IsNil)
		leaves[n] = leaf
	}
	tree, err := census.New(h, leaves)
	c.Assert(err, qt.IsNil)
	ck, err := coordinator.Public().Wire()
	c.Assert(err, qt.IsNil)
	return &types.Poll{
		ID:             42,
		NChoices:       4,
		CoordinatorKey: ck,
		CensusRoot:     types.MustWord(tree.Root()),
		VotingStart:    time.Now().Add(-time.Hour),
		VotingEnd:      time.Now().Add(time.Hour),
	}, tree
}

func TestBuilder(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	voters := []*eddsa.Keypair{eddsa.Generate(), eddsa.Generate(), eddsa.Generate()}
	coordinator := eddsa.Generate()
	poll, tree := testPoll(c, h, voters, coordinator)
	b := NewBuilder(h)

	first := eddsa.Generate()
	vote, err := b.Build(&VoteRequest{
		Identity: voters[1], Poll: poll, Census: tree, RevotingKeyNew: first, Choice: 3,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(vote.Plaintext.RevotingKeyOld.IsZero(), qt.IsTrue)
	c.Assert(vote.Inputs.RevotingSignatureScalar.String(), qt.Equals, "0")
	c.Assert(vote.Inputs.Path, qt.HasLen, params.CensusDepth)
	c.Assert(vote.Inputs.PathPos[0].String(), qt.Equals, "1")

	pt, _, err := NewCodec(h).DecryptBallot(vote.Ballot, coordinator.Scalar())
	c.Assert(err, qt.IsNil)
	c.Assert(pt.Choice.Int64(), qt.Equals, int64(3))
	c.Assert(pt.RevotingKeyNew.Equal(first.Public()), qt.IsTrue)
	c.Assert(pt.Nullifier.Cmp(vote.Nullifier.Seed), qt.Equals, 0)

	second := eddsa.Generate()
	revote, err := b.Build(&VoteRequest{
		Identity: voters[1], Poll: poll, Census: tree,
		RevotingKeyOld: first, RevotingKeyNew: second, Choice: 4,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(revote.Nullifier.Index(), qt.Equals, vote.Nullifier.Index())
	c.Assert(revote.Plaintext.RevotingKeyOld.Equal(first.Public()), qt.IsTrue)

	msg, err := RevotingMessage(h, revote.Nullifier.SigHash, big.NewInt(4), second.Public().Coordinates())
	c.Assert(err, qt.IsNil)
	sig := &eddsa.Signature{
		R8: bjj.NewPoint(revote.Inputs.RevotingSignaturePoint[0].MathBigInt(), revote.Inputs.RevotingSignaturePoint[1].MathBigInt()),
		S:  revote.Inputs.RevotingSignatureScalar.MathBigInt(),
	}
	c.Assert(eddsa.Verify(first.Public(), msg, sig), qt.IsTrue)

	public := VotePublicInputs(revote.MessageHash, poll)
	c.Assert(public, qt.HasLen, 9)
	c.Assert(public[2].Cmp(tree.Root()), qt.Equals, 0)
}

func TestBuilderRejectsBadRequests(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	voters := []*eddsa.Keypair{eddsa.Generate(), eddsa.Generate()}
	poll, tree := testPoll(c, h, voters, eddsa.Generate())
	b := NewBuilder(h)

	_, err := b.Build(&VoteRequest{Identity: voters[0], Poll: poll, Census: tree, RevotingKeyNew: eddsa.Generate(), Choice: 0})
	c.Assert(err, qt.ErrorIs, ErrInvalidChoice)
	_, err = b.Build(&VoteRequest{Identity: voters[0], Poll: poll, Census: tree, RevotingKeyNew: eddsa.Generate(), Choice: 5})
	c.Assert(err, qt.ErrorIs, ErrInvalidChoice)
	_, err = b.Build(&VoteRequest{Identity: eddsa.Generate(), Poll: poll, Census: tree, RevotingKeyNew: eddsa.Generate(), Choice: 1})
	c.Assert(err, qt.ErrorIs, ErrNotInCensus)
	_, err = b.Build(&VoteRequest{Identity: voters[0], Poll: poll, Census: tree, Choice: 1})
	c.Assert(err, qt.ErrorIs, ErrMissingRevotingKey)
}
