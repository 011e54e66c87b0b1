// Package circom proves and verifies with compiled circom artifacts: the
// wasm witness calculator, the Groth16 proving key and the verification key
// of each circuit. Proving runs through rapidsnark.
package circom

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	rapidprover "github.com/iden3/go-rapidsnark/prover"
	rapidtypes "github.com/iden3/go-rapidsnark/types"
	rapidverifier "github.com/iden3/go-rapidsnark/verifier"
	"github.com/iden3/go-rapidsnark/witness"

	"github.com/vocdoni/anonvote-node/ballot"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/types"
)

// Artifacts of one circuit. Any of them may be empty when the party only
// proves or only verifies.
type Artifacts struct {
	Wasm            []byte
	ProvingKey      []byte
	VerificationKey []byte
}

// LoadArtifacts reads the artifacts from disk. Empty paths are skipped.
func LoadArtifacts(wasmPath, zkeyPath, vkeyPath string) (*Artifacts, error) {
	a := &Artifacts{}
	for _, f := range []struct {
		path string
		dst  *[]byte
	}{
		{wasmPath, &a.Wasm},
		{zkeyPath, &a.ProvingKey},
		{vkeyPath, &a.VerificationKey},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read circuit artifact: %w", err)
		}
		*f.dst = data
	}
	return a, nil
}

// proverMu serializes calls to the rapidsnark Groth16 prover, which is not
// safe for concurrent use.
var proverMu sync.Mutex

// Prover is a rapidsnark backed prover.Prover and prover.Verifier.
type Prover struct {
	circuits map[prover.Circuit]*Artifacts

	calcMu sync.Mutex
	calcs  map[prover.Circuit]*witness.Circom2WitnessCalculator
}

var (
	_ prover.Prover   = (*Prover)(nil)
	_ prover.Verifier = (*Prover)(nil)
)

// New returns a Prover for the given circuits. A nil entry disables that
// circuit.
func New(vote, tally *Artifacts) *Prover {
	p := &Prover{
		circuits: map[prover.Circuit]*Artifacts{},
		calcs:    map[prover.Circuit]*witness.Circom2WitnessCalculator{},
	}
	if vote != nil {
		p.circuits[prover.CircuitVote] = vote
	}
	if tally != nil {
		p.circuits[prover.CircuitTally] = tally
	}
	return p
}

// calculator returns the cached witness calculator of the circuit, reusing
// its wasm runtime across proofs.
func (p *Prover) calculator(circuit prover.Circuit) (*witness.Circom2WitnessCalculator, error) {
	p.calcMu.Lock()
	defer p.calcMu.Unlock()
	if calc, ok := p.calcs[circuit]; ok {
		return calc, nil
	}
	a, ok := p.circuits[circuit]
	if !ok || len(a.Wasm) == 0 || len(a.ProvingKey) == 0 {
		return nil, fmt.Errorf("%w: no proving artifacts for %s", prover.ErrUnknownCircuit, circuit)
	}
	calc, err := witness.NewCircom2WitnessCalculator(a.Wasm, true)
	if err != nil {
		return nil, fmt.Errorf("instance witness calculator: %w", err)
	}
	p.calcs[circuit] = calc
	return calc, nil
}

type result struct {
	proof *prover.Proof
	err   error
}

// prove computes the witness and the proof in a goroutine so the caller can
// give up on ctx. The native prover itself cannot be interrupted.
func (p *Prover) prove(ctx context.Context, circuit prover.Circuit, inputs any) (*prover.Proof, error) {
	calc, err := p.calculator(circuit)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encode circom inputs: %w", err)
	}
	done := make(chan result, 1)
	go func() {
		proof, err := p.proveRaw(circuit, calc, raw)
		done <- result{proof, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.proof, r.err
	}
}

func (p *Prover) proveRaw(circuit prover.Circuit, calc *witness.Circom2WitnessCalculator, raw []byte) (*prover.Proof, error) {
	start := time.Now()
	finalInputs, err := witness.ParseInputs(raw)
	if err != nil {
		return nil, fmt.Errorf("circom inputs: %w", err)
	}
	p.calcMu.Lock()
	wtns, err := calc.CalculateWTNSBin(finalInputs, true)
	p.calcMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("calculate witness: %w", err)
	}
	proverMu.Lock()
	zk, err := rapidprover.Groth16Prover(p.circuits[circuit].ProvingKey, wtns)
	proverMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("groth16 prover: %w", err)
	}
	data, err := json.Marshal(zk.Proof)
	if err != nil {
		return nil, err
	}
	signals := make([]*types.BigInt, len(zk.PubSignals))
	for n, s := range zk.PubSignals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("malformed public signal %q", s)
		}
		signals[n] = types.NewBigInt(v)
	}
	log.Debugw("circom proof generated", "circuit", circuit, "took", log.Since(start))
	return &prover.Proof{
		Protocol:      prover.ProtocolGroth16,
		Circuit:       circuit,
		Data:          data,
		PublicSignals: signals,
	}, nil
}

// ProveVote implements prover.Prover.
func (p *Prover) ProveVote(ctx context.Context, inputs *ballot.VoteInputs) (*prover.Proof, error) {
	return p.prove(ctx, prover.CircuitVote, inputs)
}

// ProveTally implements prover.Prover.
func (p *Prover) ProveTally(ctx context.Context, w *prover.TallyWitness) (*prover.Proof, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return p.prove(ctx, prover.CircuitTally, w)
}

// Verify implements prover.Verifier. The proof is checked against public,
// not against the signals it carries.
func (p *Prover) Verify(_ context.Context, circuit prover.Circuit, proof *prover.Proof, public []*big.Int) error {
	a, ok := p.circuits[circuit]
	if !ok || len(a.VerificationKey) == 0 {
		return fmt.Errorf("%w: no verification key for %s", prover.ErrUnknownCircuit, circuit)
	}
	if proof == nil || proof.Protocol != prover.ProtocolGroth16 {
		return fmt.Errorf("%w: not a groth16 proof", prover.ErrInvalidProof)
	}
	data := &rapidtypes.ProofData{}
	if err := json.Unmarshal(proof.Data, data); err != nil {
		return fmt.Errorf("%w: %w", prover.ErrInvalidProof, err)
	}
	signals := make([]string, len(public))
	for n, s := range public {
		signals[n] = s.String()
	}
	if err := rapidverifier.VerifyGroth16(rapidtypes.ZKProof{Proof: data, PubSignals: signals}, a.VerificationKey); err != nil {
		return fmt.Errorf("%w: %w", prover.ErrInvalidProof, err)
	}
	return nil
}
