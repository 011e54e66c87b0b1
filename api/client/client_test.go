package client

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/anonvote-node/api"
	"github.com/vocdoni/anonvote-node/ballot"
	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/prover/debug"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/tally"
	"github.com/vocdoni/anonvote-node/types"
)

type fixture struct {
	ctx         context.Context
	h           *poseidon.Hasher
	stg         *storage.Storage
	now         atomic.Pointer[time.Time]
	handler     http.Handler
	unavailable atomic.Int32
}

func newFixture(c *qt.C) *fixture {
	f := &fixture{ctx: context.Background(), h: poseidon.New()}
	start := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	f.now.Store(&start)
	f.stg = storage.New(metadb.NewTest())
	c.Cleanup(f.stg.Close)
	local := ledger.NewLocal(f.stg, f.h, debug.Verifier{}, ledger.WithClock(func() time.Time { return *f.now.Load() }))
	a, err := api.New(&api.APIConfig{Ledger: local})
	c.Assert(err, qt.IsNil)
	f.handler = a.Router()
	return f
}

// ServeHTTP answers 503 while unavailable is positive.
func (f *fixture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.unavailable.Add(-1) >= 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	f.handler.ServeHTTP(w, r)
}

func (f *fixture) advance(d time.Duration) {
	next := f.now.Load().Add(d)
	f.now.Store(&next)
}

func (f *fixture) client(c *qt.C) *HTTPclient {
	srv := httptest.NewServer(f)
	c.Cleanup(srv.Close)
	cli, err := New(f.ctx, srv.URL)
	c.Assert(err, qt.IsNil)
	cli.SetRetries(3, time.Millisecond)
	return cli
}

func TestErrorsMapToLedgerErrors(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	cli := f.client(c)

	_, err := cli.Poll(f.ctx, 99)
	c.Assert(err, qt.ErrorIs, ledger.ErrPollNotFound)

	_, err = cli.TallyAccount(f.ctx, 99, "t1")
	c.Assert(err, qt.ErrorIs, ledger.ErrTallyNotFound)

	_, err = cli.CreatePoll(f.ctx, &types.Poll{NChoices: 12})
	c.Assert(err, qt.ErrorIs, ledger.ErrInvalidPoll)
}

func TestRetriesUnavailableServer(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	cli := f.client(c)

	f.unavailable.Store(2)
	_, err := cli.Poll(f.ctx, 1)
	c.Assert(err, qt.ErrorIs, ledger.ErrPollNotFound)

	f.unavailable.Store(5)
	_, err = cli.Poll(f.ctx, 1)
	c.Assert(err, qt.ErrorMatches, "API error: 503.*")
	c.Assert(errors.Is(err, ledger.ErrPollNotFound), qt.IsFalse)
}

func TestPostIsSentOnce(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	cli := f.client(c)

	f.unavailable.Store(3)
	_, err := cli.CreatePoll(f.ctx, &types.Poll{NChoices: 2})
	c.Assert(err, qt.ErrorMatches, "API error: 503.*")
	c.Assert(f.unavailable.Load(), qt.Equals, int32(2))

	// batches and finalizations are applied at most once by the ledger, so
	// they are retried
	f.unavailable.Store(2)
	err = cli.SubmitBatch(f.ctx, &types.BatchCommit{PollID: 1, Tallier: "t1"})
	c.Assert(err, qt.ErrorIs, ledger.ErrTallyNotFound)
	c.Assert(f.unavailable.Load() < 0, qt.IsTrue)
}

func TestTallyOverHTTP(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	cli := f.client(c)
	start := *f.now.Load()

	voters := []*eddsa.Keypair{eddsa.Generate(), eddsa.Generate()}
	leaves := make([]*big.Int, len(voters))
	for n, v := range voters {
		var err error
		leaves[n], err = census.Leaf(f.h, v.Public())
		c.Assert(err, qt.IsNil)
	}
	tree, err := census.New(f.h, leaves)
	c.Assert(err, qt.IsNil)

	coordinator := eddsa.Generate()
	ck, err := coordinator.Public().Wire()
	c.Assert(err, qt.IsNil)
	poll, err := cli.CreatePoll(f.ctx, &types.Poll{
		NChoices:       3,
		CoordinatorKey: ck,
		CensusRoot:     types.MustWord(tree.Root()),
		VotingStart:    start,
		VotingEnd:      start.Add(time.Hour),
	})
	c.Assert(err, qt.IsNil)

	keys := map[int]*eddsa.Keypair{}
	cast := func(voter, choice int) {
		next := eddsa.Generate()
		vote, err := ballot.NewBuilder(f.h).Build(&ballot.VoteRequest{
			Identity:       voters[voter],
			Poll:           poll,
			Census:         tree,
			RevotingKeyOld: keys[voter],
			RevotingKeyNew: next,
			Choice:         choice,
		})
		c.Assert(err, qt.IsNil)
		proof, err := debug.New(f.h).ProveVote(f.ctx, vote.Inputs)
		c.Assert(err, qt.IsNil)
		data, err := proof.Marshal()
		c.Assert(err, qt.IsNil)
		_, err = cli.CastBallot(f.ctx, poll.ID, &types.VoteSubmission{Ballot: vote.Ballot, Proof: data})
		c.Assert(err, qt.IsNil)
		keys[voter] = next
	}
	cast(0, 2)
	cast(1, 3)
	cast(0, 1)

	engine, err := tally.New(&tally.Config{
		PollID:   poll.ID,
		Identity: coordinator,
		Ledger:   cli,
		Store:    f.stg,
		Prover:   debug.New(f.h),
		Hasher:   f.h,
	})
	c.Assert(err, qt.IsNil)
	_, err = engine.StartTally(f.ctx)
	c.Assert(err, qt.IsNil)
	res, err := engine.ProcessNextBatch(f.ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Ballots, qt.Equals, 3)
	_, err = engine.ProcessNextBatch(f.ctx)
	c.Assert(err, qt.ErrorIs, tally.ErrNothingToDo)

	_, err = cli.Results(f.ctx, poll.ID)
	c.Assert(err, qt.ErrorIs, ledger.ErrNoResults)

	f.advance(2 * time.Hour)
	_, err = engine.Finalize(f.ctx)
	c.Assert(err, qt.IsNil)

	results, err := cli.Results(f.ctx, poll.ID)
	c.Assert(err, qt.IsNil)
	got := make([]int64, len(results))
	for n, r := range results {
		got[n] = r.MathBigInt().Int64()
	}
	c.Assert(got, qt.DeepEquals, []int64{1, 0, 1, 0, 0, 0, 0, 0})
}
