// Package api exposes the poll lifecycle over HTTP: poll creation, ballot
// casting, closing, audit endpoints (roots, inclusion proofs, releases) and
// differentially private release queries. All handlers answer JSON and wrap
// failures in typed errors with stable codes.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/choices-project/pollcore/log"
	"github.com/choices-project/pollcore/orchestrator"
)

// APIConfig type represents the configuration for the API HTTP server.
// It includes the host, port and the orchestrator instance to serve.
type APIConfig struct {
	Host         string
	Port         int
	Orchestrator *orchestrator.Orchestrator
}

// API type represents the API HTTP server.
type API struct {
	router       *chi.Mux
	orchestrator *orchestrator.Orchestrator
}

// New creates a new API instance with the given configuration and starts the
// HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Orchestrator == nil {
		return nil, fmt.Errorf("missing orchestrator instance")
	}
	a := &API{
		orchestrator: conf.Orchestrator,
	}

	// Initialize router
	a.initRouter()
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", PollsEndpoint, "method", "POST")
	a.router.Post(PollsEndpoint, a.newPoll)
	log.Infow("register handler", "endpoint", PollsEndpoint, "method", "GET")
	a.router.Get(PollsEndpoint, a.listPolls)
	log.Infow("register handler", "endpoint", PollEndpoint, "method", "GET")
	a.router.Get(PollEndpoint, a.poll)
	log.Infow("register handler", "endpoint", VotesEndpoint, "method", "POST")
	a.router.Post(VotesEndpoint, a.castBallot)
	log.Infow("register handler", "endpoint", CloseEndpoint, "method", "POST")
	a.router.Post(CloseEndpoint, a.closePoll)
	log.Infow("register handler", "endpoint", ResultEndpoint, "method", "GET")
	a.router.Get(ResultEndpoint, a.result)
	log.Infow("register handler", "endpoint", RootEndpoint, "method", "GET")
	a.router.Get(RootEndpoint, a.root)
	log.Infow("register handler", "endpoint", ProofEndpoint, "method", "GET")
	a.router.Get(ProofEndpoint, a.inclusionProof)
	log.Infow("register handler", "endpoint", QueriesEndpoint, "method", "POST")
	a.router.Post(QueriesEndpoint, a.query)
	log.Infow("register handler", "endpoint", ReleasesEndpoint, "method", "GET")
	a.router.Get(ReleasesEndpoint, a.releases)
	log.Infow("register handler", "endpoint", BudgetEndpoint, "method", "GET")
	a.router.Get(BudgetEndpoint, a.budget)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	// Register the API handlers
	a.registerHandlers()
}
