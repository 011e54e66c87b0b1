package api

import (
	"fmt"
	"net/url"
	"strings"
)

// Route constants for the API endpoints

const (
	// Health endpoints
	PingEndpoint = "/ping" // Health check endpoint

	// Poll endpoints
	PollURLParam    = "pollId"                                  // URL parameter for poll ID
	TallierURLParam = "tallier"                                 // URL parameter for the tallier identity
	PollsEndpoint   = "/polls"                                  // POST: Create poll
	PollEndpoint    = PollsEndpoint + "/{" + PollURLParam + "}" // GET: Get poll info
	ResultsEndpoint = PollEndpoint + "/results"                 // GET: Published results of a poll

	// Vote endpoints
	VotesEndpoint    = PollEndpoint + "/votes" // GET: List ballots, POST: Cast a ballot
	AfterQueryParam  = "after"                 // URL query param for the last seen sequence id
	LimitQueryParam  = "limit"                 // URL query param for the page size
	DefaultPageLimit = 100
	MaxPageLimit     = 1000

	// Tally endpoints
	TallyEndpoint         = PollEndpoint + "/tallies/{" + TallierURLParam + "}" // GET: Tally account, POST: Open tally, DELETE: Close tally
	TallyBatchesEndpoint  = TallyEndpoint + "/batches"                          // POST: Submit a batch commit
	TallyFinalizeEndpoint = TallyEndpoint + "/finalize"                         // POST: Finalize the tally
)

// EndpointWithParam creates an endpoint URL by replacing the parameter
// placeholder with the actual value. Used to build fully qualified
// endpoint URLs.
func EndpointWithParam(path, key, param string) string {
	rawKey := fmt.Sprintf("{%s}", key)

	// Always try to replace the placeholder, even if it's after the '?'
	if strings.Contains(path, rawKey) {
		return strings.Replace(path, rawKey, url.PathEscape(param), 1)
	}

	// Fallback: add as query param
	escapedKey := url.QueryEscape(key)
	escapedVal := url.QueryEscape(param)

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return fmt.Sprintf("%s%s%s=%s", path, sep, escapedKey, escapedVal)
}

// LogExcludedPrefixes defines URL prefixes to exclude from request logging
var LogExcludedPrefixes = []string{
	PingEndpoint,
}
