package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocdoni/anonvote-node/api"
	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/log"
)

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	ledger ledger.Ledger
	API    *api.API
	mu     sync.Mutex
	cancel context.CancelFunc
	errCh  chan error
	host   string
	port   int
}

// NewAPI creates a new APIService instance.
func NewAPI(l ledger.Ledger, host string, port int, disableLogging bool) *APIService {
	if disableLogging {
		api.DisabledLogging = disableLogging
		log.Debugw("API logging is disabled")
	}
	return &APIService{
		ledger: l,
		host:   host,
		port:   port,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}
	var err error
	as.API, err = api.New(&api.APIConfig{
		Host:   as.host,
		Port:   as.port,
		Ledger: as.ledger,
	})
	if err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	ctx, as.cancel = context.WithCancel(ctx)
	as.errCh = make(chan error, 1)
	go func() {
		as.errCh <- as.API.ListenAndServe(ctx)
	}()
	return nil
}

// Err returns a channel that receives the result of the server once it
// stops, either because of a failure or because the service was stopped.
func (as *APIService) Err() <-chan error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.errCh
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
	}
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
