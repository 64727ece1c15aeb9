package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/askexperts/askexperts/accounts"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/scheduler"
	"github.com/askexperts/askexperts/types"
)

const maxRequestBodyLog = 512 // Maximum length of request body to log

// APIConfig is the configuration for the admin HTTP server (§6).
type APIConfig struct {
	Host     string
	Port     int
	Signer   *codec.Signer // This instance's identity; also the scheduler pubkey workers authenticate against
	Accounts *accounts.Store
	Workers  *scheduler.WorkerManager
	Jobs     *scheduler.JobsManager
	// Stopping, when set, makes /health report 503 instead of 200 — flipped
	// during graceful shutdown so a load balancer stops routing new traffic.
	Stopping func() bool
	// CheckPerms, when set, is consulted on wallet listing to optionally
	// restrict the result to a subset of wallet ids for the requesting
	// user (§6's "permissions hook").
	CheckPerms func(userID string, r *http.Request) (listIDs []string, ok bool)
}

// API is the admin HTTP server: wallet and expert CRUD, health, and the
// /workers duplex upgrade endpoint that scheduler.AcceptWorker consumes.
type API struct {
	router     *chi.Mux
	signer     *codec.Signer
	accounts   *accounts.Store
	workers    *scheduler.WorkerManager
	jobs       *scheduler.JobsManager
	stopping   func() bool
	checkPerms func(userID string, r *http.Request) ([]string, bool)
	upgrader   websocket.Upgrader
	parentCtx  context.Context
}

// New creates and starts the admin API server in the background.
func New(ctx context.Context, conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Accounts == nil {
		return nil, fmt.Errorf("missing accounts store")
	}
	if conf.Signer == nil {
		return nil, fmt.Errorf("missing signer")
	}

	a := &API{
		signer:     conf.Signer,
		accounts:   conf.Accounts,
		workers:    conf.Workers,
		jobs:       conf.Jobs,
		stopping:   conf.Stopping,
		checkPerms: conf.CheckPerms,
		parentCtx:  ctx,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	if a.stopping == nil {
		a.stopping = func() bool { return false }
	}

	a.initRouter()

	go func() {
		log.Infow("starting admin API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the admin API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes.
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers every route of the admin HTTP surface (§6).
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", HealthEndpoint, "method", "GET")
	a.router.Get(HealthEndpoint, a.health)

	log.Infow("register handler", "endpoint", WalletsEndpoint, "method", "GET,POST")
	a.router.Get(WalletsEndpoint, requireAuth(a.listWallets))
	a.router.Post(WalletsEndpoint, requireAuth(a.createWallet))
	log.Infow("register handler", "endpoint", WalletDefaultEndpoint, "method", "GET")
	a.router.Get(WalletDefaultEndpoint, requireAuth(a.getDefaultWallet))
	log.Infow("register handler", "endpoint", WalletByNameEndpoint, "method", "GET")
	a.router.Get(WalletByNameEndpoint, requireAuth(a.getWalletByName))
	log.Infow("register handler", "endpoint", WalletEndpoint, "method", "GET,PUT,DELETE")
	a.router.Get(WalletEndpoint, requireAuth(a.getWallet))
	a.router.Put(WalletEndpoint, requireAuth(a.updateWallet))
	a.router.Delete(WalletEndpoint, requireAuth(a.deleteWallet))

	log.Infow("register handler", "endpoint", ExpertsEndpoint, "method", "GET,POST")
	a.router.Get(ExpertsEndpoint, requireAuth(a.listExperts))
	a.router.Post(ExpertsEndpoint, requireAuth(a.createExpert))
	log.Infow("register handler", "endpoint", ExpertEndpoint, "method", "GET,PUT,DELETE")
	a.router.Get(ExpertEndpoint, requireAuth(a.getExpert))
	a.router.Put(ExpertEndpoint, requireAuth(a.updateExpert))
	a.router.Delete(ExpertEndpoint, requireAuth(a.deleteExpert))
	log.Infow("register handler", "endpoint", ExpertDisabledEndpoint, "method", "PATCH")
	a.router.Patch(ExpertDisabledEndpoint, requireAuth(a.setExpertDisabled))

	log.Infow("register handler", "endpoint", WorkersEndpoint, "method", "GET")
	a.router.Get(WorkersEndpoint, a.acceptWorker)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}

// health reports whether the instance is currently stopping (§6).
func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	if a.stopping() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"stopping"}` + "\n"))
		return
	}
	httpWriteJSON(w, HealthResponse{Status: "ok"})
}

// acceptWorker upgrades the connection and hands it to the scheduler's
// duplex worker session acceptor (§4.8).
func (a *API) acceptWorker(w http.ResponseWriter, r *http.Request) {
	if a.workers == nil {
		ErrGenericInternalServerError.Write(w)
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("worker upgrade failed", "error", err)
		return
	}
	sc, err := scheduler.AcceptWorker(conn, a.signer.Pubkey(), a.workers)
	if err != nil {
		log.Warnw("worker handshake failed", "error", err)
		_ = conn.Close()
		return
	}
	sc.OnStatus = func(promptID types.HexBytes, status string) {
		log.Debugw("worker job status", "promptId", promptID.String(), "status", status)
	}
	go func() {
		if err := sc.Serve(a.parentCtx); err != nil {
			log.Debugw("worker session ended", "worker", sc.Worker().Pubkey.String(), "error", err)
		}
	}()
}
