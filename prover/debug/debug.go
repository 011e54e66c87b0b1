// Package debug implements a prover that replays the circuit constraints in
// Go instead of producing a zero-knowledge proof. Its proofs only carry the
// public signals, so it must never be used against a production ledger. The
// matching Verifier accepts any debug proof with the expected signals.
package debug

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/ballot"
	"github.com/vocdoni/anonvote-node/census"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/state"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

// Prover replays the vote and tally circuits.
type Prover struct {
	h     *poseidon.Hasher
	codec *ballot.Codec
}

var _ prover.Prover = (*Prover)(nil)

// ErrPaddingNotNoop is returned when a padding entry would change the state
// tree.
var ErrPaddingNotNoop = errors.New("padding entry changes the state tree")

// New returns a debug Prover using h.
func New(h *poseidon.Hasher) *Prover {
	return &Prover{h: h, codec: ballot.NewCodec(h)}
}

func newProof(circuit prover.Circuit, signals []*big.Int) *prover.Proof {
	return &prover.Proof{
		Protocol:      prover.ProtocolDebug,
		Circuit:       circuit,
		PublicSignals: types.BigInts(signals),
	}
}

func point(xs []*types.BigInt) (bjj.Point, error) {
	if len(xs) != 2 {
		return bjj.Point{}, fmt.Errorf("point needs 2 coordinates, got %d", len(xs))
	}
	return bjj.NewPoint(xs[0].MathBigInt(), xs[1].MathBigInt()), nil
}

// ProveVote checks the vote circuit constraints: census membership of the
// key, the nullifier signature, the choice range, the revoting signature
// and that the ciphertext encrypts the claimed plaintext.
func (p *Prover) ProveVote(ctx context.Context, in *ballot.VoteInputs) (*prover.Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Path) != params.CensusDepth || len(in.PathPos) != params.CensusDepth {
		return nil, fmt.Errorf("census path must have %d levels", params.CensusDepth)
	}
	if len(in.Ciphertext) != params.CiphertextLimbs {
		return nil, fmt.Errorf("ciphertext must have %d limbs", params.CiphertextLimbs)
	}
	key, err := point(in.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	leaf, err := census.Leaf(p.h, key)
	if err != nil {
		return nil, err
	}
	cp := &census.Proof{Leaf: leaf}
	for k := range params.CensusDepth {
		cp.Siblings[k] = in.Path[k].MathBigInt()
		cp.PathBits[k] = uint8(in.PathPos[k].MathBigInt().Uint64())
	}
	ok, err := cp.Verify(p.h, in.CensusRoot.MathBigInt())
	if err != nil {
		return nil, fmt.Errorf("census proof: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("key is not in the census")
	}

	pollID := types.PollID(in.PollID.MathBigInt().Uint64())
	msg, err := ballot.NullifierMessage(p.h, pollID)
	if err != nil {
		return nil, err
	}
	r8, err := point(in.SignaturePoint)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	sig := &eddsa.Signature{R8: r8, S: in.SignatureScalar.MathBigInt()}
	if !eddsa.Verify(key, msg, sig) {
		return nil, fmt.Errorf("invalid nullifier signature")
	}
	sigHash, err := sig.Hash(p.h)
	if err != nil {
		return nil, err
	}
	seed, err := p.h.Hash(sigHash)
	if err != nil {
		return nil, err
	}

	nChoices := in.NChoices.MathBigInt()
	choice := in.Choice.MathBigInt()
	if choice.Sign() <= 0 || choice.Cmp(nChoices) > 0 || nChoices.Cmp(big.NewInt(params.MaxChoices)) > 0 {
		return nil, fmt.Errorf("choice %s not in [1, %s]", choice, nChoices)
	}

	oldKey, err := point(in.RevotingKeyOld)
	if err != nil {
		return nil, fmt.Errorf("old revoting key: %w", err)
	}
	newKey, err := point(in.RevotingKeyNew)
	if err != nil {
		return nil, fmt.Errorf("new revoting key: %w", err)
	}
	if !oldKey.IsZero() {
		revMsg, err := ballot.RevotingMessage(p.h, sigHash, choice, newKey.Coordinates())
		if err != nil {
			return nil, err
		}
		revR8, err := point(in.RevotingSignaturePoint)
		if err != nil {
			return nil, fmt.Errorf("revoting signature: %w", err)
		}
		if !eddsa.Verify(oldKey, revMsg, &eddsa.Signature{R8: revR8, S: in.RevotingSignatureScalar.MathBigInt()}) {
			return nil, fmt.Errorf("invalid revoting signature")
		}
	}

	coordinator, err := point(in.CoordinatorPK)
	if err != nil {
		return nil, fmt.Errorf("coordinator key: %w", err)
	}
	pt := &ballot.Plaintext{Nullifier: seed, Choice: choice, RevotingKeyOld: oldKey, RevotingKeyNew: newKey}
	enc, err := p.codec.EncryptWith(pt, coordinator, in.EphemeralScalar.MathBigInt(), in.Nonce.MathBigInt().Uint64())
	if err != nil {
		return nil, err
	}
	for n, limb := range in.Ciphertext {
		if enc.Ciphertext[n].Cmp(limb.MathBigInt()) != 0 {
			return nil, fmt.Errorf("ciphertext limb %d does not encrypt the vote", n)
		}
	}
	msgHash, err := ballot.MessageHash(p.h, enc)
	if err != nil {
		return nil, err
	}
	wire, err := coordinator.Wire()
	if err != nil {
		return nil, err
	}
	signals := ballot.VotePublicInputs(msgHash, &types.Poll{
		ID:             pollID,
		NChoices:       uint8(nChoices.Uint64()),
		CoordinatorKey: wire,
		CensusRoot:     types.MustWord(in.CensusRoot.MathBigInt()),
	})
	return newProof(prover.CircuitVote, signals), nil
}

// ProveTally replays the batch: every real ballot is decrypted, admitted or
// excluded against its state proof and folded into the running hash and the
// counts. Padding entries repeat the last real one: each is replayed from the
// root that entry started from and must land on the same root, so its leaf is
// already at the target value. Padding never touches the running hash or the
// counts.
func (p *Prover) ProveTally(ctx context.Context, w *prover.TallyWitness) (*prover.Proof, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	counts := w.TallyBefore
	commitment, err := ballot.TallyCommitment(p.h, w.SaltBefore.MathBigInt(), types.MathBigInts(counts))
	if err != nil {
		return nil, err
	}
	if commitment.Cmp(w.CommitmentBefore.MathBigInt()) != 0 {
		return nil, fmt.Errorf("tally before does not open the commitment before")
	}

	tally := types.MathBigInts(counts)
	root := w.RootBefore.Clone()
	running := w.HashBefore.Clone()
	lastBefore := root
	for i := range w.Len() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lastBefore = root
		if root, running, err = p.replay(w, i, root, running, tally); err != nil {
			return nil, fmt.Errorf("ballot %d: %w", i, err)
		}
	}
	for i := w.Len(); i < len(w.Nonce); i++ {
		scratch := types.MathBigInts(types.BigInts(tally))
		again, _, err := p.replay(w, i, lastBefore, running, scratch)
		if err != nil {
			return nil, fmt.Errorf("padding %d: %w", i, err)
		}
		if again.Cmp(root) != 0 {
			return nil, fmt.Errorf("padding %d: %w", i, ErrPaddingNotNoop)
		}
	}

	commitmentAfter, err := ballot.TallyCommitment(p.h, w.SaltAfter.MathBigInt(), tally)
	if err != nil {
		return nil, err
	}
	out := &prover.TallyOutputs{
		RootAfter: root, HashAfter: running, CommitmentAfter: commitmentAfter,
		RootBefore:       w.RootBefore.Clone(),
		HashBefore:       w.HashBefore.Clone(),
		CommitmentBefore: w.CommitmentBefore.Clone(),
	}
	log.Debugw("debug tally proof", "batch", w.Len(), "root", root.String())
	return newProof(prover.CircuitTally, out.Signals()), nil
}

// replay applies ballot i to root, running and tally.
func (p *Prover) replay(w *prover.TallyWitness, i int, root, running *big.Int, tally []*big.Int) (*big.Int, *big.Int, error) {
	e := &ballot.Encrypted{Nonce: w.Nonce[i].MathBigInt().Uint64()}
	var err error
	if e.EphemeralKey, err = point(w.EphemeralKey[i]); err != nil {
		return nil, nil, err
	}
	copy(e.Ciphertext[:], types.MathBigInts(w.Ciphertext[i]))
	pt, err := p.codec.Decrypt(e, w.SecretKey.MathBigInt())
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt: %w", err)
	}
	prevKey, err := point(w.PrevRevoteKey[i])
	if err != nil {
		return nil, nil, err
	}
	prevChoice := w.PrevChoice[i].MathBigInt()
	prevLeaf, err := state.Leaf{Choice: prevChoice, RevotingKey: prevKey}.Hash(p.h)
	if err != nil {
		return nil, nil, err
	}

	proof := &state.Proof{
		RootBefore: root,
		Key:        new(big.Int).SetUint64(pt.Index()),
		IsOld0:     w.NoAux[i].MathBigInt().Sign() != 0,
		OldKey:     w.AuxKey[i].MathBigInt(),
		OldValue:   w.AuxValue[i].MathBigInt(),
	}
	for n := range proof.Siblings {
		proof.Siblings[n] = w.Siblings[i][n].MathBigInt()
	}

	choice, choiceOK := pt.ChoiceIndex()
	if !choiceOK || !pt.RevotingKeyOld.Equal(prevKey) {
		// The witness does not tell whether the index is occupied, so the
		// exclusion must hold for one of both readings.
		proof.Kind = state.Exclusion
		proof.Value = prevLeaf
		if _, err := proof.Apply(p.h); err != nil {
			proof.Value = new(big.Int)
			if _, err := proof.Apply(p.h); err != nil {
				return nil, nil, fmt.Errorf("exclusion: %w", err)
			}
		}
	} else {
		if proof.Value, err = (state.Leaf{Choice: pt.Choice, RevotingKey: pt.RevotingKeyNew}).Hash(p.h); err != nil {
			return nil, nil, err
		}
		proof.Kind = state.Insert
		if w.IsPrevEmpty[i].MathBigInt().Sign() == 0 {
			proof.Kind = state.Update
			if proof.OldKey.Cmp(proof.Key) != 0 || proof.OldValue.Cmp(prevLeaf) != 0 {
				return nil, nil, fmt.Errorf("update does not replace the recorded leaf")
			}
		} else if prevChoice.Sign() != 0 || !prevKey.IsZero() {
			return nil, nil, fmt.Errorf("insertion over a recorded leaf")
		}
		if root, err = proof.Apply(p.h); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", proof.Kind, err)
		}
		if prevChoice.Sign() != 0 {
			if !prevChoice.IsUint64() || prevChoice.Uint64() > params.MaxChoices {
				return nil, nil, fmt.Errorf("previous choice %s out of range", prevChoice)
			}
			prev := tally[prevChoice.Uint64()-1]
			if prev.Sign() == 0 {
				return nil, nil, fmt.Errorf("count of choice %s would become negative", prevChoice)
			}
			prev.Sub(prev, big.NewInt(1))
		}
		if choice != 0 {
			tally[choice-1].Add(tally[choice-1], big.NewInt(1))
		}
	}

	msgHash, err := ballot.MessageHash(p.h, e)
	if err != nil {
		return nil, nil, err
	}
	if running, err = ballot.ChainHash(p.h, running, msgHash); err != nil {
		return nil, nil, err
	}
	return root, running, nil
}

// Verifier accepts debug proofs carrying the expected public signals.
type Verifier struct{}

var _ prover.Verifier = Verifier{}

// Verify implements prover.Verifier.
func (Verifier) Verify(_ context.Context, circuit prover.Circuit, proof *prover.Proof, public []*big.Int) error {
	if proof == nil || proof.Protocol != prover.ProtocolDebug {
		return fmt.Errorf("%w: not a debug proof", prover.ErrInvalidProof)
	}
	if proof.Circuit != circuit {
		return fmt.Errorf("%w: proof is for circuit %q, expected %q", prover.ErrInvalidProof, proof.Circuit, circuit)
	}
	return prover.CheckPublicSignals(proof, public)
}
