// Package service wires the engine's components (accounts persistence,
// the scheduler's worker/job managers, and the admin HTTP API) into a
// single process-lifecycle unit, the way a long-running service
// package wires storage and the HTTP API together.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/askexperts/askexperts/accounts"
	"github.com/askexperts/askexperts/api"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/scheduler"
)

// APIService manages the admin HTTP API's lifecycle (§6), including the
// /health endpoint's stopping flag and the scheduler's worker/job
// managers it exposes over the /workers duplex endpoint (§4.8).
type APIService struct {
	accounts *accounts.Store
	signer   *codec.Signer
	host     string
	port     int

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping atomic.Bool

	API      *api.API
	Workers  *scheduler.WorkerManager
	Jobs     *scheduler.JobsManager
}

// NewAPI creates a new APIService instance bound to accts and signer.
func NewAPI(accts *accounts.Store, signer *codec.Signer, host string, port int, disableLogging bool) *APIService {
	if disableLogging {
		api.DisabledLogging = disableLogging
		log.Debugw("API logging is disabled")
	}
	return &APIService{
		accounts: accts,
		signer:   signer,
		host:     host,
		port:     port,
	}
}

// Start begins the API server, serving the given worker/job managers; the
// caller starts and stops the managers themselves. It returns an error if
// the service is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context, workers *scheduler.WorkerManager, jobs *scheduler.JobsManager) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}

	apiCtx, cancel := context.WithCancel(ctx)
	as.cancel = cancel
	as.stopping.Store(false)
	as.Workers = workers
	as.Jobs = jobs

	var err error
	as.API, err = api.New(apiCtx, &api.APIConfig{
		Host:     as.host,
		Port:     as.port,
		Signer:   as.signer,
		Accounts: as.accounts,
		Workers:  workers,
		Jobs:     jobs,
		Stopping: as.stopping.Load,
	})
	if err != nil {
		as.cancel = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop flags the service as stopping (so /health starts returning 503)
// and then cancels the API server's context.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.stopping.Store(true)
	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
	}
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
