// Package client is an HTTP implementation of ledger.Ledger that talks to the
// api package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vocdoni/anonvote-node/api"
	"github.com/vocdoni/anonvote-node/log"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = http.MethodGet
	// HTTPPOST is the method string used for calling Request()
	HTTPPOST = http.MethodPost
	// HTTPDELETE is the method string used for calling Request()
	HTTPDELETE = http.MethodDelete

	errCodeNot200 = "API error"

	// DefaultRetries is the number of attempts a request gets when the
	// connection fails or the server is temporarily unavailable.
	DefaultRetries = 3
	// DefaultRetryDelay is the wait between two attempts.
	DefaultRetryDelay = 500 * time.Millisecond
	// DefaultTimeout is the default timeout for the HTTP client
	DefaultTimeout = 30 * time.Second
)

// HTTPclient is the anonvote ledger HTTP client.
type HTTPclient struct {
	c          *http.Client
	host       *url.URL
	retries    int
	retryDelay time.Duration
}

// New creates a client for the API at host and checks that it answers.
func New(ctx context.Context, host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		IdleConnTimeout:    DefaultTimeout,
		DisableCompression: false,
		WriteBufferSize:    1 * 1024 * 1024, // 1 MiB
		ReadBufferSize:     1 * 1024 * 1024, // 1 MiB
	}
	c := &HTTPclient{
		c:          &http.Client{Transport: tr, Timeout: DefaultTimeout},
		host:       hostURL,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}
	log.Debugw("http client created", "host", hostURL.String())
	data, status, err := c.Request(ctx, HTTPGET, nil, nil, api.PingEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	return c, nil
}

// SetRetries configures the number of attempts per request.
func (c *HTTPclient) SetRetries(n int, delay time.Duration) {
	c.retries = max(n, 1)
	c.retryDelay = delay
}

// SetTimeout configures the timeout for the HTTP client.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.c.Timeout = d
	if tr, ok := c.c.Transport.(*http.Transport); ok {
		tr.ResponseHeaderTimeout = d
	}
}

// retryable reports whether a response status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout ||
		status == http.StatusTooManyRequests
}

// idempotent reports whether a request with method can be sent again
// without changing its effect.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// Request performs a `method` type raw request to the endpoint specified in urlPath parameter.
// If jsonBody is not nil it is sent as JSON. Returns the response, the status code and an error.
// Only idempotent methods are retried; a POST is sent once.
//
// Supports query parameters via `params` slice. If the slice is not empty, it should contain pairs of strings;
// the first element of each pair is the key, and the second element is the value.
func (c *HTTPclient) Request(ctx context.Context, method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	return c.request(ctx, idempotent(method), method, jsonBody, params, urlPath...)
}

func (c *HTTPclient) request(ctx context.Context, retry bool, method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		if body, err = json.Marshal(jsonBody); err != nil {
			return nil, 0, fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}

	u := *c.host
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	if len(params) > 0 {
		values := url.Values{}
		for i := 0; i < len(params)-1; i += 2 {
			values.Set(params[i], params[i+1])
		}
		u.RawQuery = values.Encode()
	}

	log.Debugw("http client request",
		"type", method,
		"url", u.String(),
		"body", func() string {
			if len(body) > 512 {
				return string(body[:512]) + "..."
			}
			return string(body)
		}(),
	)

	attempts := c.retries
	if !retry {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.c.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lastErr = err
			log.Warnw("http request failed", "error", err.Error(), "attempt", attempt, "attempts", attempts)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnw("failed to close response body", "error", cerr.Error())
		}
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
		}
		if retryable(resp.StatusCode) && attempt < attempts {
			lastErr = fmt.Errorf("%s: %d", errCodeNot200, resp.StatusCode)
			log.Warnw("http request unavailable", "status", resp.StatusCode, "attempt", attempt, "attempts", attempts)
			continue
		}
		return data, resp.StatusCode, nil
	}
	return nil, 0, fmt.Errorf("http request failed after %d attempts: %w", attempts, lastErr)
}

// call performs a request and decodes a successful response into out, if
// out is not nil. API errors that stand for a ledger error are returned
// wrapping that error.
func (c *HTTPclient) call(ctx context.Context, method string, jsonBody, out any, params []string, urlPath string) error {
	return c.callWith(ctx, idempotent(method), method, jsonBody, out, params, urlPath)
}

// callWith is call with an explicit retry choice, for POST endpoints the
// ledger applies at most once.
func (c *HTTPclient) callWith(ctx context.Context, retry bool, method string, jsonBody, out any, params []string, urlPath string) error {
	data, status, err := c.request(ctx, retry, method, jsonBody, params, urlPath)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return responseError(status, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

// responseError rebuilds the error of a failed response.
func responseError(status int, data []byte) error {
	var apiErr api.ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Code == 0 {
		return fmt.Errorf("%s: %d (%s)", errCodeNot200, status, strings.TrimSpace(string(data)))
	}
	if sentinel := api.LedgerError(apiErr.Code); sentinel != nil {
		return fmt.Errorf("%w (code %d): %s", sentinel, apiErr.Code, apiErr.Err)
	}
	return fmt.Errorf("%s %d: %w", errCodeNot200, apiErr.Code, errors.New(apiErr.Err))
}
