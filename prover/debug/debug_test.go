package debug

import (
	"context"
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/anonvote-node/ballot"
	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/types"
)

func buildVote(c *qt.C, h *poseidon.Hasher) (*ballot.Vote, *types.Poll) {
	voters := []*eddsa.Keypair{eddsa.Generate(), eddsa.Generate()}
	leaves := make([]*big.Int, len(voters))
	for n, v := range voters {
		leaf, err := census.Leaf(h, v.Public())
		c.Assert(err, qt.IsNil)
		leaves[n] = leaf
	}
	tree, err := census.New(h, leaves)
	c.Assert(err, qt.IsNil)
	ck, err := eddsa.Generate().Public().Wire()
	c.Assert(err, qt.IsNil)
	poll := &types.Poll{
		ID: 5, NChoices: 3, CoordinatorKey: ck, CensusRoot: types.MustWord(tree.Root()),
		VotingStart: time.Now(), VotingEnd: time.Now().Add(time.Hour),
	}
	old := eddsa.Generate()
	vote, err := ballot.NewBuilder(h).Build(&ballot.VoteRequest{
		Identity: voters[1], Poll: poll, Census: tree,
		RevotingKeyOld: old, RevotingKeyNew: eddsa.Generate(), Choice: 2,
	})
	c.Assert(err, qt.IsNil)
	return vote, poll
}

func TestProveVote(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	vote, poll := buildVote(c, h)

	proof, err := New(h).ProveVote(context.Background(), vote.Inputs)
	c.Assert(err, qt.IsNil)
	c.Assert(proof.Circuit, qt.Equals, prover.CircuitVote)

	public := ballot.VotePublicInputs(vote.MessageHash, poll)
	c.Assert(Verifier{}.Verify(context.Background(), prover.CircuitVote, proof, public), qt.IsNil)

	// a proof for another message does not verify
	public[0] = big.NewInt(1)
	c.Assert(Verifier{}.Verify(context.Background(), prover.CircuitVote, proof, public), qt.ErrorIs, prover.ErrPublicSignalsMismatch)
	c.Assert(Verifier{}.Verify(context.Background(), prover.CircuitTally, proof, public), qt.ErrorIs, prover.ErrInvalidProof)
}

func TestProveVoteRejectsBadInputs(t *testing.T) {
	c := qt.New(t)
	h := poseidon.New()
	p := New(h)

	vote, _ := buildVote(c, h)
	vote.Inputs.Ciphertext[3] = types.NewInt(1)
	_, err := p.ProveVote(context.Background(), vote.Inputs)
	c.Assert(err, qt.ErrorMatches, "ciphertext limb 3 .*")

	vote, _ = buildVote(c, h)
	vote.Inputs.Choice = types.NewInt(4)
	_, err = p.ProveVote(context.Background(), vote.Inputs)
	c.Assert(err, qt.ErrorMatches, "choice 4 not in .*")

	vote, _ = buildVote(c, h)
	vote.Inputs.Path[0] = types.NewInt(7)
	_, err = p.ProveVote(context.Background(), vote.Inputs)
	c.Assert(err, qt.ErrorMatches, "key is not in the census")

	vote, _ = buildVote(c, h)
	vote.Inputs.RevotingSignatureScalar = types.NewInt(9)
	_, err = p.ProveVote(context.Background(), vote.Inputs)
	c.Assert(err, qt.ErrorMatches, "invalid revoting signature")

	vote, _ = buildVote(c, h)
	vote.Inputs.PollID = types.NewInt(6)
	_, err = p.ProveVote(context.Background(), vote.Inputs)
	c.Assert(err, qt.ErrorMatches, "invalid nullifier signature")
}

func TestProveTallyRejectsMalformedWitness(t *testing.T) {
	c := qt.New(t)
	_, err := New(poseidon.New()).ProveTally(context.Background(), &prover.TallyWitness{})
	c.Assert(err, qt.ErrorMatches, "incomplete tally witness")
}
