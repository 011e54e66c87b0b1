// Package ledger defines the settlement layer the tally engine reads ballots
// from and commits batches to, and provides a storage backed implementation
// that enforces the same rules an on-chain ledger would.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/vocdoni/anonvote-node/types"
)

var (
	ErrPollNotFound       = errors.New("poll not found")
	ErrInvalidPoll        = errors.New("invalid poll")
	ErrVotingClosed       = errors.New("poll is not accepting votes")
	ErrVotingOpen         = errors.New("voting period has not ended")
	ErrInvalidBallot      = errors.New("invalid ballot")
	ErrInvalidProof       = errors.New("invalid proof")
	ErrTallyExists        = errors.New("tally already opened")
	ErrTallyNotFound      = errors.New("tally not found")
	ErrInvalidTally       = errors.New("invalid tally")
	ErrStaleBatch         = errors.New("batch does not extend the committed tally")
	ErrPendingBallots     = errors.New("tally does not include every ballot")
	ErrCommitmentMismatch = errors.New("counts do not open the tally commitment")
	ErrResultsConflict    = errors.New("poll already has different results")
	ErrNoResults          = errors.New("poll has no results yet")
)

// Tally is the part of the ledger a tallier uses.
type Tally interface {
	// Poll returns the current view of a poll.
	Poll(ctx context.Context, pollID types.PollID) (*types.Poll, error)
	// ListBallots returns up to limit ballots with a sequence id above after,
	// in sequence order.
	ListBallots(ctx context.Context, pollID types.PollID, after uint64, limit int) (*types.BallotPage, error)
	// TallyAccount returns the committed values of a tally.
	TallyAccount(ctx context.Context, pollID types.PollID, tallier string) (*types.TallyAccount, error)
	// OpenTally registers the initial values of a tally.
	OpenTally(ctx context.Context, acc *types.TallyAccount) error
	// SubmitBatch advances a tally. Submitting the values the tally already
	// holds succeeds without effect.
	SubmitBatch(ctx context.Context, commit *types.BatchCommit) error
	// Finalize opens the last commitment of a tally and publishes the
	// results.
	Finalize(ctx context.Context, fin *types.Finalization) error
	// CloseTally discards a tally account.
	CloseTally(ctx context.Context, pollID types.PollID, tallier string) error
}

// Ledger is the full ledger, including the voter and organizer side.
type Ledger interface {
	Tally
	CreatePoll(ctx context.Context, poll *types.Poll) (*types.Poll, error)
	CastBallot(ctx context.Context, pollID types.PollID, sub *types.VoteSubmission) (*types.Ballot, error)
	Results(ctx context.Context, pollID types.PollID) ([]*types.BigInt, error)
}

// sameWord compares two 32-byte words by value, so that a missing word and
// a zero word are equal.
func sameWord(a, b types.HexBytes) bool {
	return a.BigInt().Cmp(b.BigInt()) == 0
}

func wordSignals(words ...types.HexBytes) []*big.Int {
	out := make([]*big.Int, len(words))
	for n, w := range words {
		out[n] = w.BigInt()
	}
	return out
}
