package tally

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/ballot"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/state"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

// batch is the outcome of folding fetched ballots into a checkpoint, before
// anything is proven or persisted.
type batch struct {
	witness    *prover.TallyWitness
	outputs    *prover.TallyOutputs
	counts     []*big.Int
	salt       *big.Int
	leaves     map[uint64]*storage.CheckpointLeaf
	first      uint64
	last       uint64
	admitted   int
	excluded   int
	realLength int
}

// loadTree rebuilds the state tree from the shadow leaves and checks it
// against the checkpoint root.
func (e *Engine) loadTree(cp *storage.Checkpoint) (*state.Tree, error) {
	hashes := make(map[uint64]*big.Int, len(cp.Leaves))
	for idx, l := range cp.Leaves {
		var err error
		leaf := state.Leaf{Choice: l.Choice.Clone(), RevotingKey: leafKey(l)}
		if hashes[idx], err = leaf.Hash(e.h); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", idx, err)
		}
	}
	tree, err := state.FromLeaves(e.h, hashes)
	if err != nil {
		return nil, err
	}
	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	if root.Cmp(cp.StateRoot.BigInt()) != 0 {
		return nil, fmt.Errorf("shadow leaves give root %s, checkpoint has %s", root, cp.StateRoot.BigInt())
	}
	return tree, nil
}

// leafKey returns the revoting key of a shadow leaf. Keys are field pairs
// decrypted from ballots and are not required to be curve points; (0, 0)
// marks a slot that can no longer be revoted.
func leafKey(l *storage.CheckpointLeaf) bjj.Point {
	return bjj.NewPoint(l.RevotingKey.Coordinates())
}

// fold decrypts and applies every ballot in order and assembles the padded
// witness. cp is not modified.
func (e *Engine) fold(cp *storage.Checkpoint, ballots []*types.Ballot) (*batch, error) {
	tree, err := e.loadTree(cp)
	if err != nil {
		return nil, stepError(StepState, err)
	}
	counts := make([]*big.Int, params.MaxChoices)
	for n := range counts {
		counts[n] = new(big.Int)
		if n < len(cp.TallyCounts) {
			counts[n] = cp.TallyCounts[n].Clone()
		}
	}
	b := &batch{
		counts:     counts,
		leaves:     make(map[uint64]*storage.CheckpointLeaf, len(cp.Leaves)+len(ballots)),
		first:      ballots[0].SequenceID,
		realLength: len(ballots),
		witness: &prover.TallyWitness{
			RootBefore:       types.NewBigInt(cp.StateRoot.BigInt()),
			HashBefore:       types.NewBigInt(cp.RunningMessageHash.BigInt()),
			CommitmentBefore: types.NewBigInt(cp.TallyCommitment.BigInt()),
			SaltBefore:       types.NewBigInt(cp.TallySalt.Clone()),
			TallyBefore:      types.BigInts(counts),
			BatchLen:         types.NewInt(int64(len(ballots))),
			SecretKey:        types.NewBigInt(e.identity.Scalar()),
		},
	}
	for idx, l := range cp.Leaves {
		b.leaves[idx] = l
	}
	running := cp.RunningMessageHash.BigInt()
	w := b.witness

	for _, item := range ballots {
		pt, enc, err := e.codec.DecryptBallot(item, e.identity.Scalar())
		if err != nil {
			return nil, stepError(StepDecrypt, fmt.Errorf("ballot %d: %w", item.SequenceID, err))
		}
		idx := pt.Index()
		prevChoice, prevKey := new(big.Int), bjj.Zero()
		if rec, ok := b.leaves[idx]; ok {
			prevChoice = rec.Choice.Clone()
			prevKey = leafKey(rec)
		}

		choice, choiceOK := pt.ChoiceIndex()
		var proof *state.Proof
		if choiceOK && pt.RevotingKeyOld.Equal(prevKey) {
			value, err := (state.Leaf{Choice: pt.Choice, RevotingKey: pt.RevotingKeyNew}).Hash(e.h)
			if err != nil {
				return nil, stepError(StepState, err)
			}
			if proof, err = tree.InsertOrUpdate(idx, value); err != nil {
				return nil, stepError(StepState, err)
			}
			if prevChoice.Sign() != 0 {
				prev := counts[prevChoice.Uint64()-1]
				if prev.Sign() == 0 {
					return nil, stepError(StepState, fmt.Errorf("count of choice %s would become negative", prevChoice))
				}
				prev.Sub(prev, big.NewInt(1))
			}
			if choice != 0 {
				counts[choice-1].Add(counts[choice-1], big.NewInt(1))
			}
			newKey, err := pt.RevotingKeyNew.Wire()
			if err != nil {
				return nil, stepError(StepState, err)
			}
			b.leaves[idx] = &storage.CheckpointLeaf{Choice: types.NewBigInt(pt.Choice), RevotingKey: newKey}
			b.admitted++
		} else {
			if proof, err = tree.ProveNonMembership(idx); err != nil {
				return nil, stepError(StepState, err)
			}
			b.excluded++
			e.log.Debugw("ballot excluded", "seq", item.SequenceID, "choiceInRange", choiceOK)
		}

		msgHash, err := ballot.MessageHash(e.h, enc)
		if err != nil {
			return nil, stepError(StepState, err)
		}
		if running, err = ballot.ChainHash(e.h, running, msgHash); err != nil {
			return nil, stepError(StepState, err)
		}

		isPrevEmpty := types.NewInt(0)
		if proof.Kind == state.Insert {
			isPrevEmpty = types.NewInt(1)
		}
		w.EphemeralKey = append(w.EphemeralKey, types.BigInts(enc.EphemeralKey.Coordinates()))
		w.Nonce = append(w.Nonce, new(types.BigInt).SetUint64(enc.Nonce))
		w.Ciphertext = append(w.Ciphertext, types.BigInts(enc.Ciphertext[:]))
		w.Siblings = append(w.Siblings, types.BigInts(proof.Siblings[:]))
		w.PrevChoice = append(w.PrevChoice, types.NewBigInt(prevChoice))
		w.PrevRevoteKey = append(w.PrevRevoteKey, types.BigInts(prevKey.Coordinates()))
		w.NoAux = append(w.NoAux, types.NewBigInt(proof.IsOld0Int()))
		w.AuxKey = append(w.AuxKey, types.NewBigInt(proof.OldKey))
		w.AuxValue = append(w.AuxValue, types.NewBigInt(proof.OldValue))
		w.IsPrevEmpty = append(w.IsPrevEmpty, isPrevEmpty)
		b.last = item.SequenceID
	}
	pad(w)

	root, err := tree.Root()
	if err != nil {
		return nil, stepError(StepState, err)
	}
	if b.salt, err = randomSalt(); err != nil {
		return nil, stepError(StepState, err)
	}
	commitment, err := ballot.TallyCommitment(e.h, b.salt, counts)
	if err != nil {
		return nil, stepError(StepState, err)
	}
	w.SaltAfter = types.NewBigInt(b.salt)
	b.outputs = &prover.TallyOutputs{
		RootAfter:        root,
		HashAfter:        running,
		CommitmentAfter:  commitment,
		RootBefore:       w.RootBefore.Clone(),
		HashBefore:       w.HashBefore.Clone(),
		CommitmentBefore: w.CommitmentBefore.Clone(),
	}
	return b, nil
}

// pad repeats the last real entry of every per-ballot row until the batch
// holds MaxBatch entries.
func pad(w *prover.TallyWitness) {
	for len(w.Nonce) < params.MaxBatch {
		last := len(w.Nonce) - 1
		w.EphemeralKey = append(w.EphemeralKey, w.EphemeralKey[last])
		w.Nonce = append(w.Nonce, w.Nonce[last])
		w.Ciphertext = append(w.Ciphertext, w.Ciphertext[last])
		w.Siblings = append(w.Siblings, w.Siblings[last])
		w.PrevChoice = append(w.PrevChoice, w.PrevChoice[last])
		w.PrevRevoteKey = append(w.PrevRevoteKey, w.PrevRevoteKey[last])
		w.NoAux = append(w.NoAux, w.NoAux[last])
		w.AuxKey = append(w.AuxKey, w.AuxKey[last])
		w.AuxValue = append(w.AuxValue, w.AuxValue[last])
		w.IsPrevEmpty = append(w.IsPrevEmpty, w.IsPrevEmpty[last])
	}
}
