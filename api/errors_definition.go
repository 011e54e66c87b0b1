//nolint:lll
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vocdoni/anonvote-node/ledger"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXXX or 5XXXX.
// Clients map the codes back to ledger errors, so a reused code would change their meaning.
var (
	ErrResourceNotFound      = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody         = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedParam        = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrMalformedPollID       = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed poll ID")}
	ErrPollNotFound          = Error{Code: 40005, HTTPstatus: http.StatusNotFound, Err: ledger.ErrPollNotFound}
	ErrInvalidPoll           = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: ledger.ErrInvalidPoll}
	ErrPollNotAcceptingVotes = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: ledger.ErrVotingClosed}
	ErrVotingOpen            = Error{Code: 40008, HTTPstatus: http.StatusConflict, Err: ledger.ErrVotingOpen}
	ErrInvalidBallot         = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: ledger.ErrInvalidBallot}
	ErrInvalidProof          = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Err: ledger.ErrInvalidProof}
	ErrTallyExists           = Error{Code: 40011, HTTPstatus: http.StatusConflict, Err: ledger.ErrTallyExists}
	ErrTallyNotFound         = Error{Code: 40012, HTTPstatus: http.StatusNotFound, Err: ledger.ErrTallyNotFound}
	ErrInvalidTally          = Error{Code: 40013, HTTPstatus: http.StatusBadRequest, Err: ledger.ErrInvalidTally}
	ErrStaleBatch            = Error{Code: 40014, HTTPstatus: http.StatusConflict, Err: ledger.ErrStaleBatch}
	ErrPendingBallots        = Error{Code: 40015, HTTPstatus: http.StatusConflict, Err: ledger.ErrPendingBallots}
	ErrCommitmentMismatch    = Error{Code: 40016, HTTPstatus: http.StatusBadRequest, Err: ledger.ErrCommitmentMismatch}
	ErrResultsConflict       = Error{Code: 40017, HTTPstatus: http.StatusConflict, Err: ledger.ErrResultsConflict}
	ErrNoResults             = Error{Code: 40018, HTTPstatus: http.StatusNotFound, Err: ledger.ErrNoResults}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)

// ledgerErrors lists the table entries that carry a ledger error.
var ledgerErrors = []Error{
	ErrPollNotFound,
	ErrInvalidPoll,
	ErrPollNotAcceptingVotes,
	ErrVotingOpen,
	ErrInvalidBallot,
	ErrInvalidProof,
	ErrTallyExists,
	ErrTallyNotFound,
	ErrInvalidTally,
	ErrStaleBatch,
	ErrPendingBallots,
	ErrCommitmentMismatch,
	ErrResultsConflict,
	ErrNoResults,
}

// errorFromLedger picks the table entry for an error returned by the
// ledger. Unknown errors are internal server errors.
func errorFromLedger(err error) Error {
	for _, e := range ledgerErrors {
		if errors.Is(err, e.Err) {
			return Error{Err: err, Code: e.Code, HTTPstatus: e.HTTPstatus}
		}
	}
	return ErrGenericInternalServerError.WithErr(err)
}

// LedgerError returns the ledger error behind an API error code, or nil if
// the code does not stand for one.
func LedgerError(code int) error {
	for _, e := range ledgerErrors {
		if e.Code == code {
			return e.Err
		}
	}
	return nil
}
