// Package api serves a ledger over HTTP and JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/log"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log
	shutdownTimeout   = 10 * time.Second
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host   string
	Port   int
	Ledger ledger.Ledger
}

// API type represents the API HTTP server.
type API struct {
	router *chi.Mux
	ledger ledger.Ledger
	addr   string
}

// New creates a new API instance with the given configuration. The server
// does not listen until ListenAndServe is called.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Ledger == nil {
		return nil, fmt.Errorf("missing ledger")
	}
	a := &API{
		ledger: conf.Ledger,
		addr:   net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
	}
	a.initRouter()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// ListenAndServe serves the API until ctx is done, then shuts the server
// down gracefully.
func (a *API) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("starting API server", "addr", a.addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("API server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Infow("API server stopped", "addr", a.addr)
	return nil
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	// polls endpoints
	log.Infow("register handler", "endpoint", PollsEndpoint, "method", "POST")
	a.router.Post(PollsEndpoint, a.newPoll)

	polls := a.router.With(pollIDMiddleware)
	log.Infow("register handler", "endpoint", PollEndpoint, "method", "GET")
	polls.Get(PollEndpoint, a.poll)
	log.Infow("register handler", "endpoint", ResultsEndpoint, "method", "GET")
	polls.Get(ResultsEndpoint, a.results)
	// votes endpoints
	log.Infow("register handler", "endpoint", VotesEndpoint, "method", "GET", "parameters", "after,limit")
	polls.Get(VotesEndpoint, a.ballots)
	log.Infow("register handler", "endpoint", VotesEndpoint, "method", "POST")
	polls.Post(VotesEndpoint, a.castBallot)
	// tally endpoints
	log.Infow("register handler", "endpoint", TallyEndpoint, "method", "GET")
	polls.Get(TallyEndpoint, a.tallyAccount)
	log.Infow("register handler", "endpoint", TallyEndpoint, "method", "POST")
	polls.Post(TallyEndpoint, a.openTally)
	log.Infow("register handler", "endpoint", TallyEndpoint, "method", "DELETE")
	polls.Delete(TallyEndpoint, a.closeTally)
	log.Infow("register handler", "endpoint", TallyBatchesEndpoint, "method", "POST")
	polls.Post(TallyBatchesEndpoint, a.submitBatch)
	log.Infow("register handler", "endpoint", TallyFinalizeEndpoint, "method", "POST")
	polls.Post(TallyFinalizeEndpoint, a.finalize)

	a.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrResourceNotFound.Withf("%s %s", r.Method, r.URL.Path).Write(w)
	})
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)
	a.router.Use(requestIDMiddleware)
	a.router.Use(loggingMiddleware(LoggingConfig{
		MaxBodyLog:       maxRequestBodyLog,
		ExcludedPrefixes: LogExcludedPrefixes,
	}))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
