// Package prover defines the proving collaborator of the node: the inputs of
// the vote and batch tally circuits, the proof envelope exchanged with the
// ledger and the Prover and Verifier interfaces. Implementations live in the
// debug and circom subpackages.
package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/anonvote-node/ballot"
	"github.com/vocdoni/anonvote-node/types"
)

var (
	// ErrPublicSignalsMismatch is returned when a proof does not carry the
	// expected public signals.
	ErrPublicSignalsMismatch = errors.New("public signals mismatch")
	// ErrInvalidProof is returned when a proof fails verification.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrUnknownCircuit is returned for circuits a backend has no artifacts for.
	ErrUnknownCircuit = errors.New("unknown circuit")
)

// Circuit names a circuit.
type Circuit string

const (
	CircuitVote  Circuit = "vote"
	CircuitTally Circuit = "tally"
)

// Protocol names of the proof envelope.
const (
	ProtocolDebug   = "debug"
	ProtocolGroth16 = "groth16"
)

// TallyPublicSignals is the number of public signals of the tally circuit.
const TallyPublicSignals = 6

// Prover produces proofs for both circuits.
type Prover interface {
	ProveVote(ctx context.Context, inputs *ballot.VoteInputs) (*Proof, error)
	ProveTally(ctx context.Context, witness *TallyWitness) (*Proof, error)
}

// Verifier checks a proof against the public signals computed by the
// verifying party.
type Verifier interface {
	Verify(ctx context.Context, circuit Circuit, proof *Proof, public []*big.Int) error
}

// Proof is the envelope of a proof. Data holds the backend specific proof
// object and is opaque to everything but the matching Verifier.
type Proof struct {
	Protocol      string          `json:"protocol"`
	Circuit       Circuit         `json:"circuit"`
	Data          json.RawMessage `json:"data,omitempty"`
	PublicSignals []*types.BigInt `json:"publicSignals"`
}

// Marshal encodes the proof as it is stored on the ledger.
func (p *Proof) Marshal() (types.HexBytes, error) {
	return json.Marshal(p)
}

// Unmarshal decodes a proof stored on the ledger.
func Unmarshal(data []byte) (*Proof, error) {
	p := &Proof{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	return p, nil
}

// Signals returns the public signals as math/big values.
func (p *Proof) Signals() []*big.Int {
	return types.MathBigInts(p.PublicSignals)
}

// CheckPublicSignals compares the proof signals with the expected ones.
func CheckPublicSignals(p *Proof, public []*big.Int) error {
	if len(p.PublicSignals) != len(public) {
		return fmt.Errorf("%w: got %d signals, expected %d", ErrPublicSignalsMismatch, len(p.PublicSignals), len(public))
	}
	for n, s := range p.PublicSignals {
		if s.MathBigInt().Cmp(public[n]) != 0 {
			return fmt.Errorf("%w: signal %d is %s, expected %s", ErrPublicSignalsMismatch, n, s, public[n])
		}
	}
	return nil
}

// TallyOutputs are the public signals of the tally circuit, in circuit
// order: the values after the batch and then the values before it.
type TallyOutputs struct {
	RootAfter       *big.Int
	HashAfter       *big.Int
	CommitmentAfter *big.Int

	RootBefore       *big.Int
	HashBefore       *big.Int
	CommitmentBefore *big.Int
}

// Signals returns the outputs as the public signal vector.
func (o *TallyOutputs) Signals() []*big.Int {
	return []*big.Int{
		o.RootAfter, o.HashAfter, o.CommitmentAfter,
		o.RootBefore, o.HashBefore, o.CommitmentBefore,
	}
}

// TallyOutputs decodes the public signals of a tally proof.
func (p *Proof) TallyOutputs() (*TallyOutputs, error) {
	if len(p.PublicSignals) != TallyPublicSignals {
		return nil, fmt.Errorf("%w: tally proof has %d public signals", ErrPublicSignalsMismatch, len(p.PublicSignals))
	}
	s := p.Signals()
	return &TallyOutputs{
		RootAfter: s[0], HashAfter: s[1], CommitmentAfter: s[2],
		RootBefore: s[3], HashBefore: s[4], CommitmentBefore: s[5],
	}, nil
}
