// Package tally implements the batch tally engine of one tallier on one poll.
// Ballots are fetched from the ledger in sequence order, decrypted with the
// tallier key, folded into the nullifier state tree and the blinded tally
// commitment, proven and committed back to the ledger. Progress survives
// restarts through a checkpoint that is only written once a batch has been
// fully validated.
package tally

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vocdoni/anonvote-node/ballot"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

// DefaultProveTimeout bounds a proof request when no timeout is configured.
const DefaultProveTimeout = 10 * time.Minute

// State of a tally.
type State int

const (
	Uninitialized State = iota
	Active
	Finalized
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Finalized:
		return "finalized"
	default:
		return "uninitialized"
	}
}

// CheckpointStore persists checkpoints. Save always overwrites the whole
// record.
type CheckpointStore interface {
	LoadCheckpoint(pollID types.PollID, tallier string) (*storage.Checkpoint, error)
	SaveCheckpoint(cp *storage.Checkpoint) error
	DeleteCheckpoint(pollID types.PollID, tallier string) error
}

// Config of an Engine. Hasher must be shared with the rest of the node.
type Config struct {
	PollID       types.PollID
	Identity     *eddsa.Keypair
	Ledger       ledger.Tally
	Store        CheckpointStore
	Prover       prover.Prover
	Hasher       *poseidon.Hasher
	ProveTimeout time.Duration
}

// Engine runs the tally of one poll under one tallier identity. Operations
// are serialized: a call made while another is running fails with ErrBusy.
type Engine struct {
	pollID       types.PollID
	identity     *eddsa.Keypair
	tallier      string
	ledger       ledger.Tally
	store        CheckpointStore
	prover       prover.Prover
	h            *poseidon.Hasher
	codec        *ballot.Codec
	proveTimeout time.Duration
	log          *log.Scoped

	busy atomic.Bool
}

// New returns an Engine for cfg.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Identity == nil || cfg.Ledger == nil || cfg.Store == nil ||
		cfg.Prover == nil || cfg.Hasher == nil {
		return nil, fmt.Errorf("incomplete tally engine config")
	}
	tallier, err := cfg.Identity.Identity(cfg.Hasher)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		pollID:       cfg.PollID,
		identity:     cfg.Identity,
		tallier:      tallier,
		ledger:       cfg.Ledger,
		store:        cfg.Store,
		prover:       cfg.Prover,
		h:            cfg.Hasher,
		codec:        ballot.NewCodec(cfg.Hasher),
		proveTimeout: cfg.ProveTimeout,
		log:          log.With("poll", cfg.PollID, "tallier", tallier[:16]),
	}
	if e.proveTimeout <= 0 {
		e.proveTimeout = DefaultProveTimeout
	}
	return e, nil
}

// Tallier returns the tallier identity the engine runs under.
func (e *Engine) Tallier() string {
	return e.tallier
}

// PollID returns the poll the engine tallies.
func (e *Engine) PollID() types.PollID {
	return e.pollID
}

func (e *Engine) acquire() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (e *Engine) release() {
	e.busy.Store(false)
}

// load returns the checkpoint, or ErrNotStarted.
func (e *Engine) load() (*storage.Checkpoint, error) {
	cp, err := e.store.LoadCheckpoint(e.pollID, e.tallier)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotStarted
	}
	if err != nil {
		return nil, stepError(StepLoad, err)
	}
	return cp, nil
}

// randomSalt draws a fresh 64-bit commitment salt.
func randomSalt() (*big.Int, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("random salt: %w", err)
	}
	return new(big.Int).SetUint64(binary.BigEndian.Uint64(b[:])), nil
}

// Status describes a tally.
type Status struct {
	PollID                  types.PollID    `json:"pollId"`
	Tallier                 string          `json:"tallier"`
	State                   string          `json:"state"`
	Session                 string          `json:"session,omitempty"`
	LastProcessedSequenceID uint64          `json:"lastProcessedSequenceId"`
	ProcessedCount          uint64          `json:"processedCount"`
	Remaining               uint64          `json:"remaining"`
	PendingCommit           bool            `json:"pendingCommit"`
	Results                 []*types.BigInt `json:"results,omitempty"`
}

// Status reports the state of the tally. It reads the checkpoint and the
// ledger poll but changes nothing.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	poll, err := e.ledger.Poll(ctx, e.pollID)
	if err != nil {
		return nil, stepError(StepFetch, err)
	}
	st := &Status{PollID: e.pollID, Tallier: e.tallier, State: Uninitialized.String()}
	cp, err := e.load()
	switch {
	case errors.Is(err, ErrNotStarted):
		if poll.Finished() {
			st.State = Finalized.String()
			st.Results = poll.Results
		}
		return st, nil
	case err != nil:
		return nil, err
	}
	st.State = Active.String()
	st.Session = cp.Session.String()
	st.LastProcessedSequenceID = cp.LastProcessedSequenceID
	st.ProcessedCount = cp.ProcessedCount
	st.PendingCommit = cp.Pending != nil
	if poll.BallotCount > cp.LastProcessedSequenceID {
		st.Remaining = poll.BallotCount - cp.LastProcessedSequenceID
	}
	return st, nil
}

// StartTally creates the checkpoint of a new tally and opens it on the
// ledger. The counts start at zero under a fresh random salt.
func (e *Engine) StartTally(ctx context.Context) (*storage.Checkpoint, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	if _, err := e.load(); err == nil {
		return nil, ErrAlreadyStarted
	} else if !errors.Is(err, ErrNotStarted) {
		return nil, err
	}
	poll, err := e.ledger.Poll(ctx, e.pollID)
	if err != nil {
		return nil, stepError(StepFetch, err)
	}
	coordinator, err := bjj.FromWire(poll.CoordinatorKey)
	if err != nil {
		return nil, stepError(StepFetch, err)
	}
	if !coordinator.Equal(e.identity.Public()) {
		return nil, ErrNotCoordinator
	}

	salt, err := randomSalt()
	if err != nil {
		return nil, stepError(StepState, err)
	}
	counts := make([]*big.Int, params.MaxChoices)
	for n := range counts {
		counts[n] = new(big.Int)
	}
	commitment, err := ballot.TallyCommitment(e.h, salt, counts)
	if err != nil {
		return nil, stepError(StepState, err)
	}
	cp := &storage.Checkpoint{
		PollID:             e.pollID,
		Tallier:            e.tallier,
		Session:            uuid.New(),
		StateRoot:          types.MustWord(new(big.Int)),
		RunningMessageHash: types.MustWord(new(big.Int)),
		TallyCommitment:    types.MustWord(commitment),
		TallySalt:          types.NewBigInt(salt),
		TallyCounts:        types.BigInts(counts),
		Leaves:             map[uint64]*storage.CheckpointLeaf{},
	}
	if err := e.store.SaveCheckpoint(cp); err != nil {
		return nil, stepError(StepPersist, err)
	}
	if err := e.ledger.OpenTally(ctx, &types.TallyAccount{
		PollID:             e.pollID,
		Tallier:            e.tallier,
		StateRoot:          cp.StateRoot,
		RunningMessageHash: cp.RunningMessageHash,
		TallyCommitment:    cp.TallyCommitment,
	}); err != nil {
		if derr := e.store.DeleteCheckpoint(e.pollID, e.tallier); derr != nil {
			e.log.Warnw("could not discard checkpoint", "error", derr)
		}
		return nil, stepError(StepSubmit, err)
	}
	e.log.Infow("tally started", "session", cp.Session)
	return cp, nil
}

// BatchResult describes a processed batch.
type BatchResult struct {
	FirstSequenceID uint64             `json:"firstSequenceId"`
	LastSequenceID  uint64             `json:"lastSequenceId"`
	Ballots         int                `json:"ballots"`
	Admitted        int                `json:"admitted"`
	Excluded        int                `json:"excluded"`
	Resubmitted     bool               `json:"resubmitted"`
	Commit          *types.BatchCommit `json:"commit"`
}

// ProcessNextBatch folds up to MaxBatch unprocessed ballots into the tally.
// A commit left pending by an earlier call is submitted first, and the call
// returns after it. Nothing is persisted until the proof outputs match the
// local computation; a failed call can simply be repeated.
func (e *Engine) ProcessNextBatch(ctx context.Context) (*BatchResult, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	cp, err := e.load()
	if err != nil {
		return nil, err
	}
	if cp.Pending != nil {
		commit := cp.Pending
		if err := e.submit(ctx, cp); err != nil {
			return nil, err
		}
		return &BatchResult{
			LastSequenceID: cp.LastProcessedSequenceID,
			Resubmitted:    true,
			Commit:         commit,
		}, nil
	}

	page, err := e.ledger.ListBallots(ctx, e.pollID, cp.LastProcessedSequenceID, params.MaxBatch)
	if err != nil {
		return nil, stepError(StepFetch, err)
	}
	if len(page.Items) == 0 {
		return nil, ErrNothingToDo
	}
	if len(page.Items) > params.MaxBatch {
		page.Items = page.Items[:params.MaxBatch]
	}
	prev := cp.LastProcessedSequenceID
	for _, b := range page.Items {
		if b.SequenceID <= prev {
			return nil, stepError(StepFetch, fmt.Errorf("ballot %d out of order after %d", b.SequenceID, prev))
		}
		prev = b.SequenceID
	}
	start := time.Now()

	b, err := e.fold(cp, page.Items)
	if err != nil {
		return nil, err
	}
	e.log.Debugw("batch folded", "step", StepState, "first", b.first, "last", b.last,
		"admitted", b.admitted, "excluded", b.excluded)

	proveCtx, cancel := context.WithTimeout(ctx, e.proveTimeout)
	defer cancel()
	proof, err := e.prover.ProveTally(proveCtx, b.witness)
	if err != nil {
		return nil, stepError(StepProve, err)
	}
	if err := e.validate(proof, b.outputs); err != nil {
		return nil, stepError(StepValidate, err)
	}
	encoded, err := proof.Marshal()
	if err != nil {
		return nil, stepError(StepValidate, err)
	}

	commit := &types.BatchCommit{
		PollID:                e.pollID,
		Tallier:               e.tallier,
		Proof:                 encoded,
		NewStateRoot:          types.MustWord(b.outputs.RootAfter),
		NewRunningMessageHash: types.MustWord(b.outputs.HashAfter),
		NewTallyCommitment:    types.MustWord(b.outputs.CommitmentAfter),
	}
	cp.LastProcessedSequenceID = b.last
	cp.ProcessedCount += uint64(b.realLength)
	cp.StateRoot = commit.NewStateRoot
	cp.RunningMessageHash = commit.NewRunningMessageHash
	cp.TallyCommitment = commit.NewTallyCommitment
	cp.TallySalt = types.NewBigInt(b.salt)
	cp.TallyCounts = types.BigInts(b.counts)
	cp.Leaves = b.leaves
	cp.Pending = commit
	if err := e.store.SaveCheckpoint(cp); err != nil {
		return nil, stepError(StepPersist, err)
	}
	if err := e.submit(ctx, cp); err != nil {
		return nil, err
	}
	e.log.Infow("batch committed", "first", b.first, "last", b.last, "ballots", b.realLength,
		"admitted", b.admitted, "excluded", b.excluded, "took", log.Since(start))
	return &BatchResult{
		FirstSequenceID: b.first,
		LastSequenceID:  b.last,
		Ballots:         b.realLength,
		Admitted:        b.admitted,
		Excluded:        b.excluded,
		Commit:          commit,
	}, nil
}

// validate compares the public outputs claimed by the proof with the values
// computed locally.
func (e *Engine) validate(proof *prover.Proof, want *prover.TallyOutputs) error {
	if proof.Circuit != prover.CircuitTally {
		return fmt.Errorf("%w: proof is for circuit %q", ErrOutputMismatch, proof.Circuit)
	}
	got, err := proof.TallyOutputs()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputMismatch, err)
	}
	gs, ws := got.Signals(), want.Signals()
	for n := range ws {
		if gs[n].Cmp(ws[n]) != 0 {
			return fmt.Errorf("%w: signal %d is %s, expected %s", ErrOutputMismatch, n, gs[n], ws[n])
		}
	}
	return nil
}

// submit sends the pending commit of cp to the ledger and clears it.
func (e *Engine) submit(ctx context.Context, cp *storage.Checkpoint) error {
	if err := e.ledger.SubmitBatch(ctx, cp.Pending); err != nil {
		return stepError(StepSubmit, err)
	}
	cp.Pending = nil
	if err := e.store.SaveCheckpoint(cp); err != nil {
		return stepError(StepPersist, err)
	}
	return nil
}

// Finalize reveals the counts and the salt of the last commitment to the
// ledger. Every ballot must have been processed. The checkpoint is deleted
// once the ledger accepts the results.
func (e *Engine) Finalize(ctx context.Context) (*types.Finalization, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	cp, err := e.load()
	if err != nil {
		return nil, err
	}
	if cp.Pending != nil {
		if err := e.submit(ctx, cp); err != nil {
			return nil, err
		}
	}
	page, err := e.ledger.ListBallots(ctx, e.pollID, cp.LastProcessedSequenceID, 1)
	if err != nil {
		return nil, stepError(StepFetch, err)
	}
	if len(page.Items) > 0 {
		return nil, stepError(StepFinalize, fmt.Errorf("%w: %d of %d processed",
			ErrPendingBallots, cp.ProcessedCount, page.Total))
	}
	fin := &types.Finalization{
		PollID:  e.pollID,
		Tallier: e.tallier,
		Counts:  cp.TallyCounts,
		Salt:    cp.TallySalt,
	}
	if err := e.ledger.Finalize(ctx, fin); err != nil {
		return nil, stepError(StepFinalize, err)
	}
	if err := e.store.DeleteCheckpoint(e.pollID, e.tallier); err != nil {
		return nil, stepError(StepPersist, err)
	}
	e.log.Infow("tally finalized", "step", StepFinalize, "processed", cp.ProcessedCount,
		"counts", types.MathBigInts(cp.TallyCounts))
	return fin, nil
}

// ResetProgress discards the checkpoint and closes the ledger tally so a
// new one can be started. It is destructive and needs confirm set.
func (e *Engine) ResetProgress(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if err := e.store.DeleteCheckpoint(e.pollID, e.tallier); err != nil {
		return stepError(StepPersist, err)
	}
	if err := e.ledger.CloseTally(ctx, e.pollID, e.tallier); err != nil {
		return stepError(StepSubmit, err)
	}
	e.log.Warnw("tally progress reset")
	return nil
}
