package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/anonvote-node/ballot"
	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/prover/debug"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
)

type testAPI struct {
	srv    *httptest.Server
	h      *poseidon.Hasher
	now    time.Time
	voters []*eddsa.Keypair
	census *census.Tree
	poll   *types.Poll
}

func newTestAPI(c *qt.C, nVoters int) *testAPI {
	ta := &testAPI{
		h:   poseidon.New(),
		now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	stg := storage.New(metadb.NewTest())
	c.Cleanup(stg.Close)
	local := ledger.NewLocal(stg, ta.h, debug.Verifier{}, ledger.WithClock(func() time.Time { return ta.now }))
	a, err := New(&APIConfig{Host: "127.0.0.1", Port: 0, Ledger: local})
	c.Assert(err, qt.IsNil)
	ta.srv = httptest.NewServer(a.Router())
	c.Cleanup(ta.srv.Close)

	leaves := make([]*big.Int, nVoters)
	for n := range nVoters {
		voter := eddsa.Generate()
		leaves[n], err = census.Leaf(ta.h, voter.Public())
		c.Assert(err, qt.IsNil)
		ta.voters = append(ta.voters, voter)
	}
	ta.census, err = census.New(ta.h, leaves)
	c.Assert(err, qt.IsNil)

	ck, err := eddsa.Generate().Public().Wire()
	c.Assert(err, qt.IsNil)
	ta.poll = &types.Poll{}
	status, body := ta.do(c, http.MethodPost, PollsEndpoint, &types.Poll{
		NChoices:       4,
		CoordinatorKey: ck,
		CensusRoot:     types.MustWord(ta.census.Root()),
		VotingStart:    ta.now,
		VotingEnd:      ta.now.Add(time.Hour),
	})
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("%s", body))
	c.Assert(json.Unmarshal(body, ta.poll), qt.IsNil)
	return ta
}

func (ta *testAPI) do(c *qt.C, method, path string, payload any) (int, []byte) {
	var body bytes.Buffer
	if payload != nil {
		c.Assert(json.NewEncoder(&body).Encode(payload), qt.IsNil)
	}
	req, err := http.NewRequest(method, ta.srv.URL+path, &body)
	c.Assert(err, qt.IsNil)
	resp, err := ta.srv.Client().Do(req)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	c.Assert(err, qt.IsNil)
	return resp.StatusCode, out.Bytes()
}

func (ta *testAPI) pollPath(endpoint string) string {
	return EndpointWithParam(endpoint, PollURLParam, ta.poll.ID.String())
}

func (ta *testAPI) submission(c *qt.C, voter int) *types.VoteSubmission {
	vote, err := ballot.NewBuilder(ta.h).Build(&ballot.VoteRequest{
		Identity:       ta.voters[voter],
		Poll:           ta.poll,
		Census:         ta.census,
		RevotingKeyNew: eddsa.Generate(),
		Choice:         1,
	})
	c.Assert(err, qt.IsNil)
	proof, err := debug.New(ta.h).ProveVote(context.Background(), vote.Inputs)
	c.Assert(err, qt.IsNil)
	data, err := proof.Marshal()
	c.Assert(err, qt.IsNil)
	return &types.VoteSubmission{Ballot: vote.Ballot, Proof: data}
}

func errorCode(c *qt.C, body []byte) int {
	var resp ErrorResponse
	c.Assert(json.Unmarshal(body, &resp), qt.IsNil, qt.Commentf("%s", body))
	return resp.Code
}

func TestPing(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(c, 1)
	status, _ := ta.do(c, http.MethodGet, PingEndpoint, nil)
	c.Assert(status, qt.Equals, http.StatusOK)

	status, body := ta.do(c, http.MethodGet, "/nothing/here", nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, body), qt.Equals, ErrResourceNotFound.Code)
}

func TestPollEndpoints(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(c, 1)

	status, body := ta.do(c, http.MethodGet, ta.pollPath(PollEndpoint), nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	got := &types.Poll{}
	c.Assert(json.Unmarshal(body, got), qt.IsNil)
	c.Assert(got.ID, qt.Equals, ta.poll.ID)
	c.Assert(got.NChoices, qt.Equals, uint8(4))

	status, body = ta.do(c, http.MethodGet, EndpointWithParam(PollEndpoint, PollURLParam, "abc"), nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, ErrMalformedPollID.Code)

	status, body = ta.do(c, http.MethodGet, EndpointWithParam(PollEndpoint, PollURLParam, "77"), nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, body), qt.Equals, ErrPollNotFound.Code)

	bad := *ta.poll
	bad.ID = 0
	bad.NChoices = 0
	status, body = ta.do(c, http.MethodPost, PollsEndpoint, &bad)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, ErrInvalidPoll.Code)

	status, body = ta.do(c, http.MethodPost, PollsEndpoint, map[string]any{"unknown": true})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, ErrMalformedBody.Code)

	status, body = ta.do(c, http.MethodGet, ta.pollPath(ResultsEndpoint), nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, body), qt.Equals, ErrNoResults.Code)
}

func TestVotesEndpoints(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(c, 3)

	for n := range ta.voters {
		status, body := ta.do(c, http.MethodPost, ta.pollPath(VotesEndpoint), ta.submission(c, n))
		c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("%s", body))
		stored := &types.Ballot{}
		c.Assert(json.Unmarshal(body, stored), qt.IsNil)
		c.Assert(stored.SequenceID, qt.Equals, uint64(n+1))
	}

	page := &types.BallotPage{}
	status, body := ta.do(c, http.MethodGet, ta.pollPath(VotesEndpoint)+"?limit=2", nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(json.Unmarshal(body, page), qt.IsNil)
	c.Assert(page.Items, qt.HasLen, 2)
	c.Assert(page.Total, qt.Equals, uint64(3))
	c.Assert(page.NextAfter, qt.IsNotNil)
	c.Assert(*page.NextAfter, qt.Equals, uint64(2))

	page = &types.BallotPage{}
	status, body = ta.do(c, http.MethodGet, ta.pollPath(VotesEndpoint)+"?after=2&limit=0", nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(json.Unmarshal(body, page), qt.IsNil)
	c.Assert(page.Items, qt.HasLen, 1)
	c.Assert(page.Items[0].SequenceID, qt.Equals, uint64(3))

	status, body = ta.do(c, http.MethodGet, ta.pollPath(VotesEndpoint)+"?after=-1", nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, ErrMalformedParam.Code)

	sub := ta.submission(c, 0)
	sub.Proof = ta.submission(c, 1).Proof
	status, body = ta.do(c, http.MethodPost, ta.pollPath(VotesEndpoint), sub)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, ErrInvalidProof.Code)

	ta.now = ta.now.Add(2 * time.Hour)
	status, body = ta.do(c, http.MethodPost, ta.pollPath(VotesEndpoint), ta.submission(c, 0))
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, body), qt.Equals, ErrPollNotAcceptingVotes.Code)
}

func TestTallyEndpoints(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(c, 1)
	path := EndpointWithParam(ta.pollPath(TallyEndpoint), TallierURLParam, "t1")

	status, body := ta.do(c, http.MethodGet, path, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, body), qt.Equals, ErrTallyNotFound.Code)

	zero := make([]*big.Int, 8)
	for n := range zero {
		zero[n] = new(big.Int)
	}
	commitment, err := ballot.TallyCommitment(ta.h, big.NewInt(5), zero)
	c.Assert(err, qt.IsNil)
	acc := &types.TallyAccount{
		PollID:             99, // the route wins
		Tallier:            "someone-else",
		StateRoot:          types.MustWord(new(big.Int)),
		RunningMessageHash: types.MustWord(new(big.Int)),
		TallyCommitment:    types.MustWord(commitment),
	}
	status, body = ta.do(c, http.MethodPost, path, acc)
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("%s", body))
	status, body = ta.do(c, http.MethodPost, path, acc)
	c.Assert(status, qt.Equals, http.StatusConflict)
	c.Assert(errorCode(c, body), qt.Equals, ErrTallyExists.Code)

	got := &types.TallyAccount{}
	status, body = ta.do(c, http.MethodGet, path, nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(json.Unmarshal(body, got), qt.IsNil)
	c.Assert(got.Tallier, qt.Equals, "t1")
	c.Assert(got.PollID, qt.Equals, ta.poll.ID)

	fin := &types.Finalization{Counts: types.BigInts(zero), Salt: types.NewInt(5)}
	status, body = ta.do(c, http.MethodPost, path+"/finalize", fin)
	c.Assert(status, qt.Equals, http.StatusConflict)
	c.Assert(errorCode(c, body), qt.Equals, ErrVotingOpen.Code)

	ta.now = ta.now.Add(2 * time.Hour)
	status, body = ta.do(c, http.MethodPost, path+"/finalize", fin)
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("%s", body))

	results := &ResultsResponse{}
	status, body = ta.do(c, http.MethodGet, ta.pollPath(ResultsEndpoint), nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(json.Unmarshal(body, results), qt.IsNil)
	c.Assert(results.Results, qt.HasLen, 8)

	status, _ = ta.do(c, http.MethodDelete, path, nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	status, _ = ta.do(c, http.MethodGet, path, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
}

func TestLedgerErrorCodes(t *testing.T) {
	c := qt.New(t)
	seen := map[int]bool{}
	for _, e := range ledgerErrors {
		c.Assert(seen[e.Code], qt.IsFalse, qt.Commentf("code %d reused", e.Code))
		seen[e.Code] = true
		c.Assert(LedgerError(e.Code), qt.Equals, e.Err)
	}
	c.Assert(LedgerError(ErrMalformedBody.Code), qt.IsNil)

	apiErr := errorFromLedger(ledger.ErrStaleBatch)
	c.Assert(apiErr.Code, qt.Equals, ErrStaleBatch.Code)
	c.Assert(apiErr.HTTPstatus, qt.Equals, http.StatusConflict)
	c.Assert(errorFromLedger(context.Canceled).Code, qt.Equals, ErrGenericInternalServerError.Code)

	rec := httptest.NewRecorder()
	ErrMalformedParam.Withf("limit %q", "x").Write(rec)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
	c.Assert(strings.TrimSpace(rec.Body.String()), qt.Equals, `{"error":"malformed parameter: limit \"x\"","code":40003}`)
}
