package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vocdoni/anonvote-node/ballot"
	bjj "github.com/vocdoni/anonvote-node/crypto/ecc/bjj_iden3"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/types/params"
)

// Local is a ledger kept in the node storage. Vote and batch proofs are
// checked with the configured verifier.
type Local struct {
	stg      *storage.Storage
	h        *poseidon.Hasher
	verifier prover.Verifier
	now      func() time.Time

	tallyLock sync.Mutex
}

var _ Ledger = (*Local)(nil)

// Option configures a Local ledger.
type Option func(*Local)

// WithClock replaces the clock used to check voting windows.
func WithClock(now func() time.Time) Option {
	return func(l *Local) { l.now = now }
}

// NewLocal returns a ledger over stg.
func NewLocal(stg *storage.Storage, h *poseidon.Hasher, verifier prover.Verifier, opts ...Option) *Local {
	l := &Local{stg: stg, h: h, verifier: verifier, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) poll(pollID types.PollID) (*types.Poll, error) {
	poll, err := l.stg.Poll(pollID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPollNotFound, pollID)
	}
	return poll, err
}

func (l *Local) account(pollID types.PollID, tallier string) (*types.TallyAccount, error) {
	acc, err := l.stg.TallyAccount(pollID, tallier)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrTallyNotFound, pollID, tallier)
	}
	return acc, err
}

// CreatePoll validates and stores a new poll. The ballot counters and the
// running hash always start at zero.
func (l *Local) CreatePoll(_ context.Context, poll *types.Poll) (*types.Poll, error) {
	if poll == nil {
		return nil, fmt.Errorf("%w: empty poll", ErrInvalidPoll)
	}
	if poll.NChoices < 1 || poll.NChoices > params.MaxChoices {
		return nil, fmt.Errorf("%w: nChoices must be in [1, %d]", ErrInvalidPoll, params.MaxChoices)
	}
	if _, err := bjj.FromWire(poll.CoordinatorKey); err != nil {
		return nil, fmt.Errorf("%w: coordinator key: %w", ErrInvalidPoll, err)
	}
	if len(poll.CensusRoot) != params.WordSize || !l.h.InField(poll.CensusRoot.BigInt()) {
		return nil, fmt.Errorf("%w: census root must be a 32-byte field element", ErrInvalidPoll)
	}
	if !poll.VotingStart.Before(poll.VotingEnd) {
		return nil, fmt.Errorf("%w: voting must start before it ends", ErrInvalidPoll)
	}
	stored := *poll
	stored.RunningMessageHash = types.MustWord(new(big.Int))
	stored.BallotCount = 0
	stored.Results = nil
	id, err := l.stg.CreatePoll(&stored)
	if errors.Is(err, storage.ErrKeyAlreadyExists) {
		return nil, fmt.Errorf("%w: poll %s already exists", ErrInvalidPoll, poll.ID)
	}
	if err != nil {
		return nil, err
	}
	log.Infow("poll created", "poll", id, "choices", stored.NChoices, "votingEnd", stored.VotingEnd)
	return &stored, nil
}

// Poll implements Tally.
func (l *Local) Poll(_ context.Context, pollID types.PollID) (*types.Poll, error) {
	return l.poll(pollID)
}

// CastBallot verifies a vote and appends its ballot to the poll. The vote
// proof must bind the ballot message hash to this poll.
func (l *Local) CastBallot(ctx context.Context, pollID types.PollID, sub *types.VoteSubmission) (*types.Ballot, error) {
	if sub == nil || sub.Ballot == nil {
		return nil, fmt.Errorf("%w: empty submission", ErrInvalidBallot)
	}
	poll, err := l.poll(pollID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if now.Before(poll.VotingStart) || !now.Before(poll.VotingEnd) {
		return nil, fmt.Errorf("%w: poll %s", ErrVotingClosed, pollID)
	}
	enc, err := ballot.Decode(l.h, sub.Ballot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBallot, err)
	}
	msgHash, err := ballot.MessageHash(l.h, enc)
	if err != nil {
		return nil, err
	}
	proof, err := prover.Unmarshal(sub.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if err := l.verifier.Verify(ctx, prover.CircuitVote, proof, ballot.VotePublicInputs(msgHash, poll)); err != nil {
		return nil, fmt.Errorf("%w: vote: %w", ErrInvalidProof, err)
	}
	stored, err := l.stg.AppendBallot(pollID, sub.Ballot, func(prev types.HexBytes) (types.HexBytes, error) {
		next, err := ballot.ChainHash(l.h, prev.BigInt(), msgHash)
		if err != nil {
			return nil, err
		}
		return types.Word(next)
	})
	if err != nil {
		return nil, err
	}
	log.Debugw("ballot cast", "poll", pollID, "seq", stored.SequenceID)
	return stored, nil
}

// ListBallots implements Tally.
func (l *Local) ListBallots(_ context.Context, pollID types.PollID, after uint64, limit int) (*types.BallotPage, error) {
	page, err := l.stg.Ballots(pollID, after, limit)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPollNotFound, pollID)
	}
	return page, err
}

// TallyAccount implements Tally.
func (l *Local) TallyAccount(_ context.Context, pollID types.PollID, tallier string) (*types.TallyAccount, error) {
	return l.account(pollID, tallier)
}

// OpenTally registers a tally. The state root and running hash must start at
// zero; the commitment is the blinded commitment of all-zero counts.
func (l *Local) OpenTally(_ context.Context, acc *types.TallyAccount) error {
	if acc == nil || acc.Tallier == "" {
		return fmt.Errorf("%w: missing tallier", ErrInvalidTally)
	}
	l.tallyLock.Lock()
	defer l.tallyLock.Unlock()
	if _, err := l.poll(acc.PollID); err != nil {
		return err
	}
	if _, err := l.stg.TallyAccount(acc.PollID, acc.Tallier); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrTallyExists, acc.PollID, acc.Tallier)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if acc.StateRoot.BigInt().Sign() != 0 || acc.RunningMessageHash.BigInt().Sign() != 0 {
		return fmt.Errorf("%w: a tally starts from the empty state", ErrInvalidTally)
	}
	if len(acc.TallyCommitment) != params.WordSize {
		return fmt.Errorf("%w: commitment must be a 32-byte word", ErrInvalidTally)
	}
	stored := &types.TallyAccount{
		PollID:             acc.PollID,
		Tallier:            acc.Tallier,
		StateRoot:          types.MustWord(new(big.Int)),
		RunningMessageHash: types.MustWord(new(big.Int)),
		TallyCommitment:    acc.TallyCommitment,
	}
	if err := l.stg.SetTallyAccount(stored); err != nil {
		return err
	}
	log.Infow("tally opened", "poll", acc.PollID, "tallier", acc.Tallier)
	return nil
}

// SubmitBatch checks the batch proof against the committed values and the
// submitted ones, then advances the tally.
func (l *Local) SubmitBatch(ctx context.Context, commit *types.BatchCommit) error {
	if commit == nil {
		return fmt.Errorf("%w: empty commit", ErrInvalidTally)
	}
	l.tallyLock.Lock()
	defer l.tallyLock.Unlock()
	acc, err := l.account(commit.PollID, commit.Tallier)
	if err != nil {
		return err
	}
	if sameWord(acc.StateRoot, commit.NewStateRoot) &&
		sameWord(acc.RunningMessageHash, commit.NewRunningMessageHash) &&
		sameWord(acc.TallyCommitment, commit.NewTallyCommitment) {
		log.Debugw("batch already committed", "poll", commit.PollID, "tallier", commit.Tallier)
		return nil
	}
	proof, err := prover.Unmarshal(commit.Proof)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	public := wordSignals(
		commit.NewStateRoot, commit.NewRunningMessageHash, commit.NewTallyCommitment,
		acc.StateRoot, acc.RunningMessageHash, acc.TallyCommitment,
	)
	if err := l.verifier.Verify(ctx, prover.CircuitTally, proof, public); err != nil {
		if errors.Is(err, prover.ErrPublicSignalsMismatch) {
			return fmt.Errorf("%w: %w", ErrStaleBatch, err)
		}
		return fmt.Errorf("%w: batch: %w", ErrInvalidProof, err)
	}
	acc.StateRoot = commit.NewStateRoot
	acc.RunningMessageHash = commit.NewRunningMessageHash
	acc.TallyCommitment = commit.NewTallyCommitment
	if err := l.stg.SetTallyAccount(acc); err != nil {
		return err
	}
	log.Infow("batch committed", "poll", commit.PollID, "tallier", commit.Tallier,
		"root", commit.NewStateRoot.String())
	return nil
}

// Finalize opens the tally commitment and publishes the counts as the poll
// results. Publishing the same results twice succeeds.
func (l *Local) Finalize(_ context.Context, fin *types.Finalization) error {
	if fin == nil || fin.Salt == nil {
		return fmt.Errorf("%w: missing salt", ErrInvalidTally)
	}
	l.tallyLock.Lock()
	defer l.tallyLock.Unlock()
	poll, err := l.poll(fin.PollID)
	if err != nil {
		return err
	}
	if l.now().Before(poll.VotingEnd) {
		return fmt.Errorf("%w: poll %s ends at %s", ErrVotingOpen, poll.ID, poll.VotingEnd.Format(time.RFC3339))
	}
	acc, err := l.account(fin.PollID, fin.Tallier)
	if err != nil {
		return err
	}
	if !sameWord(acc.RunningMessageHash, poll.RunningMessageHash) {
		return fmt.Errorf("%w: %d ballots cast", ErrPendingBallots, poll.BallotCount)
	}
	if len(fin.Counts) != params.MaxChoices {
		return fmt.Errorf("%w: expected %d counts, got %d", ErrInvalidTally, params.MaxChoices, len(fin.Counts))
	}
	counts := types.MathBigInts(fin.Counts)
	for n, c := range counts {
		if c.Sign() < 0 {
			return fmt.Errorf("%w: negative count for choice %d", ErrInvalidTally, n+1)
		}
		if n >= int(poll.NChoices) && c.Sign() != 0 {
			return fmt.Errorf("%w: count for unused choice %d", ErrInvalidTally, n+1)
		}
	}
	commitment, err := ballot.TallyCommitment(l.h, fin.Salt.MathBigInt(), counts)
	if err != nil {
		return err
	}
	if commitment.Cmp(acc.TallyCommitment.BigInt()) != 0 {
		return ErrCommitmentMismatch
	}
	if poll.Finished() {
		for n, c := range poll.Results {
			if !c.Equal(fin.Counts[n]) {
				return ErrResultsConflict
			}
		}
		return nil
	}
	if err := l.stg.UpdatePoll(fin.PollID, func(p *types.Poll) error {
		p.Results = fin.Counts
		return nil
	}); err != nil {
		return err
	}
	log.Infow("poll finalized", "poll", fin.PollID, "tallier", fin.Tallier, "results", counts)
	return nil
}

// CloseTally implements Tally. Closing a missing tally succeeds.
func (l *Local) CloseTally(_ context.Context, pollID types.PollID, tallier string) error {
	l.tallyLock.Lock()
	defer l.tallyLock.Unlock()
	if err := l.stg.DeleteTallyAccount(pollID, tallier); err != nil {
		return err
	}
	log.Infow("tally closed", "poll", pollID, "tallier", tallier)
	return nil
}

// Results returns the published results of a poll.
func (l *Local) Results(_ context.Context, pollID types.PollID) ([]*types.BigInt, error) {
	poll, err := l.poll(pollID)
	if err != nil {
		return nil, err
	}
	if !poll.Finished() {
		return nil, ErrNoResults
	}
	return poll.Results, nil
}
