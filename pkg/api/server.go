// Package api exposes the HTTP boundary: experiment submission and
// lifecycle endpoints, the findings report, the strategy and breaker
// catalogues, the live WebSocket stream, and the health probe.
package api

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	echo "github.com/labstack/echo/v5"

	"github.com/redloop-ai/redloop/pkg/breaker"
	"github.com/redloop-ai/redloop/pkg/config"
	"github.com/redloop-ai/redloop/pkg/events"
	"github.com/redloop-ai/redloop/pkg/queue"
	"github.com/redloop-ai/redloop/pkg/services"
)

// Server wires the HTTP routes to the experiment service and the live
// event stream. Construct with NewServer, run with Start, stop with
// Shutdown.
type Server struct {
	cfg         *config.Config
	experiments *services.ExperimentService
	workerPool  *queue.WorkerPool
	dbPool      *pgxpool.Pool
	connManager *events.ConnectionManager
	breakers    *breaker.Registry

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer builds the server and registers all routes. workerPool,
// dbPool, connManager, and breakers may be nil in reduced deployments;
// the corresponding endpoints then degrade or report unavailable.
func NewServer(
	cfg *config.Config,
	experiments *services.ExperimentService,
	workerPool *queue.WorkerPool,
	dbPool *pgxpool.Pool,
	connManager *events.ConnectionManager,
	breakers *breaker.Registry,
) *Server {
	s := &Server{
		cfg:         cfg,
		experiments: experiments,
		workerPool:  workerPool,
		dbPool:      dbPool,
		connManager: connManager,
		breakers:    breakers,
		echo:        echo.New(),
	}
	s.registerRoutes()
	s.httpServer = &http.Server{Handler: s.echo}
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.Use(securityHeaders())
	if len(s.cfg.CORSOrigins) > 0 {
		e.Use(corsMiddleware(s.cfg.CORSOrigins))
	}

	// The health probe stays reachable without credentials so the
	// orchestrating platform can always see it.
	e.GET("/healthz", s.healthHandler)

	api := e.Group("/api/v1")
	if s.cfg.RateLimitEnabled {
		api.Use(rateLimitMiddleware(newRateLimiter(s.cfg.RequestsPerMinute)))
	}
	if s.cfg.APIKeyEnabled {
		api.Use(apiKeyAuth(s.cfg.APIKey))
	}

	api.POST("/experiments", s.submitExperimentHandler)
	api.GET("/experiments", s.listExperimentsHandler)
	api.GET("/experiments/:id", s.getExperimentHandler)
	api.POST("/experiments/:id/start", s.startExperimentHandler)
	api.POST("/experiments/:id/cancel", s.cancelExperimentHandler)
	api.GET("/experiments/:id/iterations", s.listIterationsHandler)
	api.GET("/experiments/:id/vulnerabilities", s.listVulnerabilitiesHandler)
	api.GET("/experiments/:id/report", s.reportHandler)

	api.GET("/strategies", s.listStrategiesHandler)
	api.GET("/providers", s.listProvidersHandler)
	api.GET("/breakers", s.listBreakersHandler)
	api.POST("/breakers/:provider/:role/reset", s.resetBreakerHandler)

	ws := e.Group("/ws")
	if s.cfg.APIKeyEnabled {
		ws.Use(apiKeyAuth(s.cfg.APIKey))
	}
	ws.GET("/experiments/:id", s.wsHandler)
}

// Handler returns the root http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves until Shutdown or a listener error.
// Returns http.ErrServerClosed after a clean Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
