// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/models"
)

// SessionServiceInterface is the session surface the handlers call.
// *job.SessionService satisfies it.
type SessionServiceInterface interface {
	CreateHunt(ctx context.Context, targets []string) (*models.HuntSession, error)
	GetHunt(ctx context.Context, id string) (*models.HuntSession, error)
	CreateAudit(ctx context.Context) (*models.AuditSession, error)
	GetAudit(ctx context.Context, id string) (*models.AuditSession, error)
	CancelAudit(ctx context.Context, id string) (*models.AuditSession, error)
}

// HealthChecker is a dependency checked by /health
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	sessions   SessionServiceInterface
	checks     map[string]HealthChecker
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance. checks are run by /health.
func NewServer(
	config *ServerConfig,
	sessions SessionServiceInterface,
	checks map[string]HealthChecker,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		sessions: sessions,
		checks:   checks,
		logger:   logger,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Order matters: recovery must wrap everything below logging
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(rateLimiter))
	// A subrouter reports its own misses; without these it falls back to 404
	api.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	api.HandleFunc("/hunts", s.handleCreateHunt).Methods(http.MethodPost)
	api.HandleFunc("/hunts/{id}", s.handleGetHunt).Methods(http.MethodGet)
	api.HandleFunc("/audits", s.handleCreateAudit).Methods(http.MethodPost)
	api.HandleFunc("/audits/{id}", s.handleGetAudit).Methods(http.MethodGet)
	api.HandleFunc("/audits/{id}/cancel", s.handleCancelAudit).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports every dependency; any failure gives 503
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       overall,
		"service":      "lead-engine",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
