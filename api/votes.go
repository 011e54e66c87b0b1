package api

import (
	"net/http"

	"github.com/vocdoni/anonvote-node/types"
)

// castBallot records an encrypted ballot together with its vote proof. The
// response is the stored ballot with its sequence id.
// POST /polls/{pollId}/votes
func (a *API) castBallot(w http.ResponseWriter, r *http.Request) {
	sub := &types.VoteSubmission{}
	if !decodeBody(w, r, sub) {
		return
	}
	if sub.Ballot == nil {
		ErrMalformedBody.Withf("missing ballot").Write(w)
		return
	}
	stored, err := a.ledger.CastBallot(r.Context(), pollID(r), sub)
	if err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteJSON(w, stored)
}

// ballots lists the ballots of a poll after a sequence id.
// GET /polls/{pollId}/votes?after=<seq>&limit=<n>
func (a *API) ballots(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, AfterQueryParam, 0)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	limit, err := queryUint(r, LimitQueryParam, DefaultPageLimit)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	page, err := a.ledger.ListBallots(r.Context(), pollID(r), after, pageLimit(limit))
	if err != nil {
		errorFromLedger(err).Write(w)
		return
	}
	httpWriteJSON(w, page)
}
