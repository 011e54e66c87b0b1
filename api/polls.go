package api

import (
	"net/http"

	"github.com/vocdoni/anonvote-node/types"
)

// ResultsResponse is the response of the results endpoint.
type ResultsResponse struct {
	PollID  types.PollID    `json:"pollId"`
	Results []*types.BigInt `json:"results"`
}

// newPoll registers a poll on the ledger.
// POST /polls
func (a *API) newPoll(w http.ResponseWriter, r *http.Request) {
	p := &types.Poll{}
	if !decodeBody(w, r, p) {
		return
	}
	created, err := a.ledger.CreatePoll(r.Context(), p)
	if err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteJSON(w, created)
}

// poll returns the ledger view of a poll.
// GET /polls/{pollId}
func (a *API) poll(w http.ResponseWriter, r *http.Request) {
	p, err := a.ledger.Poll(r.Context(), pollID(r))
	if err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteJSON(w, p)
}

// results returns the published counts of a finished poll.
// GET /polls/{pollId}/results
func (a *API) results(w http.ResponseWriter, r *http.Request) {
	id := pollID(r)
	res, err := a.ledger.Results(r.Context(), id)
	if err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteJSON(w, &ResultsResponse{PollID: id, Results: res})
}
