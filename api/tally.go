package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/anonvote-node/types"
)

func tallier(r *http.Request) string {
	return chi.URLParam(r, TallierURLParam)
}

// tallyAccount returns the committed values of a tally.
// GET /polls/{pollId}/tallies/{tallier}
func (a *API) tallyAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.ledger.TallyAccount(r.Context(), pollID(r), tallier(r))
	if err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteJSON(w, acc)
}

// openTally registers the initial values of a tally. The poll and tallier of
// the route take precedence over the body.
// POST /polls/{pollId}/tallies/{tallier}
func (a *API) openTally(w http.ResponseWriter, r *http.Request) {
	acc := &types.TallyAccount{}
	if !decodeBody(w, r, acc) {
		return
	}
	acc.PollID, acc.Tallier = pollID(r), tallier(r)
	if err := a.ledger.OpenTally(r.Context(), acc); err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// submitBatch advances a tally with a proven batch.
// POST /polls/{pollId}/tallies/{tallier}/batches
func (a *API) submitBatch(w http.ResponseWriter, r *http.Request) {
	commit := &types.BatchCommit{}
	if !decodeBody(w, r, commit) {
		return
	}
	commit.PollID, commit.Tallier = pollID(r), tallier(r)
	if err := a.ledger.SubmitBatch(r.Context(), commit); err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// finalize opens the last commitment of a tally and publishes the results.
// POST /polls/{pollId}/tallies/{tallier}/finalize
func (a *API) finalize(w http.ResponseWriter, r *http.Request) {
	fin := &types.Finalization{}
	if !decodeBody(w, r, fin) {
		return
	}
	fin.PollID, fin.Tallier = pollID(r), tallier(r)
	if err := a.ledger.Finalize(r.Context(), fin); err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// closeTally discards a tally account.
// DELETE /polls/{pollId}/tallies/{tallier}
func (a *API) closeTally(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.CloseTally(r.Context(), pollID(r), tallier(r)); err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteOK(w)
}
