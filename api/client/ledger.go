package client

import (
	"context"
	"strconv"

	"github.com/vocdoni/anonvote-node/api"
	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/types"
)

var _ ledger.Ledger = (*HTTPclient)(nil)

func pollPath(endpoint string, pollID types.PollID) string {
	return api.EndpointWithParam(endpoint, api.PollURLParam, pollID.String())
}

func tallyPath(endpoint string, pollID types.PollID, tallier string) string {
	return api.EndpointWithParam(pollPath(endpoint, pollID), api.TallierURLParam, tallier)
}

// CreatePoll implements ledger.Ledger.
func (c *HTTPclient) CreatePoll(ctx context.Context, poll *types.Poll) (*types.Poll, error) {
	created := &types.Poll{}
	if err := c.call(ctx, HTTPPOST, poll, created, nil, api.PollsEndpoint); err != nil {
		return nil, err
	}
	return created, nil
}

// Poll implements ledger.Tally.
func (c *HTTPclient) Poll(ctx context.Context, pollID types.PollID) (*types.Poll, error) {
	poll := &types.Poll{}
	if err := c.call(ctx, HTTPGET, nil, poll, nil, pollPath(api.PollEndpoint, pollID)); err != nil {
		return nil, err
	}
	return poll, nil
}

// CastBallot implements ledger.Ledger.
func (c *HTTPclient) CastBallot(ctx context.Context, pollID types.PollID, sub *types.VoteSubmission) (*types.Ballot, error) {
	stored := &types.Ballot{}
	if err := c.call(ctx, HTTPPOST, sub, stored, nil, pollPath(api.VotesEndpoint, pollID)); err != nil {
		return nil, err
	}
	return stored, nil
}

// ListBallots implements ledger.Tally. The server clamps limit to its own
// page bounds.
func (c *HTTPclient) ListBallots(ctx context.Context, pollID types.PollID, after uint64, limit int) (*types.BallotPage, error) {
	params := []string{
		api.AfterQueryParam, strconv.FormatUint(after, 10),
		api.LimitQueryParam, strconv.Itoa(max(limit, 1)),
	}
	page := &types.BallotPage{}
	if err := c.call(ctx, HTTPGET, nil, page, params, pollPath(api.VotesEndpoint, pollID)); err != nil {
		return nil, err
	}
	return page, nil
}

// TallyAccount implements ledger.Tally.
func (c *HTTPclient) TallyAccount(ctx context.Context, pollID types.PollID, tallier string) (*types.TallyAccount, error) {
	acc := &types.TallyAccount{}
	if err := c.call(ctx, HTTPGET, nil, acc, nil, tallyPath(api.TallyEndpoint, pollID, tallier)); err != nil {
		return nil, err
	}
	return acc, nil
}

// OpenTally implements ledger.Tally.
func (c *HTTPclient) OpenTally(ctx context.Context, acc *types.TallyAccount) error {
	return c.call(ctx, HTTPPOST, acc, nil, nil, tallyPath(api.TallyEndpoint, acc.PollID, acc.Tallier))
}

// SubmitBatch implements ledger.Tally.
func (c *HTTPclient) SubmitBatch(ctx context.Context, commit *types.BatchCommit) error {
	return c.callWith(ctx, true, HTTPPOST, commit, nil, nil, tallyPath(api.TallyBatchesEndpoint, commit.PollID, commit.Tallier))
}

// Finalize implements ledger.Tally.
func (c *HTTPclient) Finalize(ctx context.Context, fin *types.Finalization) error {
	return c.callWith(ctx, true, HTTPPOST, fin, nil, nil, tallyPath(api.TallyFinalizeEndpoint, fin.PollID, fin.Tallier))
}

// CloseTally implements ledger.Tally.
func (c *HTTPclient) CloseTally(ctx context.Context, pollID types.PollID, tallier string) error {
	return c.call(ctx, HTTPDELETE, nil, nil, nil, tallyPath(api.TallyEndpoint, pollID, tallier))
}

// Results implements ledger.Ledger.
func (c *HTTPclient) Results(ctx context.Context, pollID types.PollID) ([]*types.BigInt, error) {
	res := &api.ResultsResponse{}
	if err := c.call(ctx, HTTPGET, nil, res, nil, pollPath(api.ResultsEndpoint, pollID)); err != nil {
		return nil, err
	}
	return res.Results, nil
}
