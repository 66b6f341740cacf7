// Package server provides the worker-facing HTTP API: claim, heartbeat,
// status, complete, fail, and activity endpoints that a worker process
// calls against the shared ticket backlog.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/daglabs/ticketwright/internal/claimsvc"
	"github.com/daglabs/ticketwright/internal/db"
	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds the server configuration.
type Config struct {
	// Port is the TCP port to listen on (default 18080).
	Port int

	// Host is the address to bind to (default "localhost").
	Host string

	// DB is the database connection.
	DB *sql.DB

	// AgentKey is the shared secret every worker must present in the
	// X-Agent-Key header. Empty disables the check (local/dev use).
	AgentKey string

	// Logger for server events. A no-op logger is used if nil.
	Logger *zap.Logger
}

// Server is the worker-facing HTTP API server.
type Server struct {
	config     Config
	httpServer *http.Server
	router     chi.Router
	logger     *zap.Logger

	ticketRepo  *db.TicketRepo
	claimRepo   *db.ClaimRepo
	projectRepo *db.ProjectRepo
	eventRepo   *db.EventRepo
	attemptRepo *db.AttemptRepo
	claims      *claimsvc.Service
}

// New creates a new Server with the given configuration.
func New(config Config) (*Server, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if config.Port == 0 {
		config.Port = 18080
	}
	if config.Host == "" {
		config.Host = "localhost"
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:      config,
		logger:      logger,
		ticketRepo:  db.NewTicketRepo(config.DB),
		claimRepo:   db.NewClaimRepo(config.DB),
		projectRepo: db.NewProjectRepo(config.DB),
		eventRepo:   db.NewEventRepo(config.DB),
		attemptRepo: db.NewAttemptRepo(config.DB),
		claims:      claimsvc.New(config.DB),
	}

	s.router = s.newRouter()

	return s, nil
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.agentKeyMiddleware)
		r.Post("/claim", s.handleClaim)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/status", s.handleStatus)
		r.Post("/complete", s.handleComplete)
		r.Post("/fail", s.handleFail)
		r.Route("/tickets/{id}/activity", func(r chi.Router) {
			r.Get("/", s.handleGetActivity)
			r.Post("/", s.handlePostActivity)
		})
		r.Post("/tickets/{id}/attempts", s.handleRecordAttempt)
	})

	return r
}

// agentKeyMiddleware rejects worker-facing requests that do not present
// the shared X-Agent-Key header. A blank configured AgentKey disables
// the check, for local development against an unsecured database.
func (s *Server) agentKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AgentKey == "" || r.Header.Get("X-Agent-Key") == s.config.AgentKey {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, tkterrors.Unauthorized("missing or invalid X-Agent-Key"))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Start starts the HTTP server. Blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", zap.String("addr", listener.Addr().String()))

	return s.httpServer.Serve(listener)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server address (e.g., "localhost:18080").
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
