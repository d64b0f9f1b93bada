package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cwfork/internal/models"

	"github.com/holiman/uint256"
)

// Session is the part of a sandbox session the API reads from
type Session interface {
	SessionID() string
	Prefix() string
	Sender() string
	Block() models.BlockInfo
	Balance(ctx context.Context, addr, denom string) (*uint256.Int, error)
	AllBalances(ctx context.Context, addr string) (models.Coins, error)
	Code(ctx context.Context, addr string) (*models.ContractRecord, error)
	Query(ctx context.Context, addr string, msg []byte) ([]byte, error)
	Simulations(ctx context.Context, limit, offset int) ([]*models.SimulationRecord, int, error)
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server
// Provides endpoints for Prometheus metrics, health checks, and read-only session queries
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	session    Session
	port       int
}

// NewServer creates a new API server instance
func NewServer(port int, session Session) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		mux:     mux,
		session: session,
		port:    port,
	}

	// Register all HTTP routes
	s.registerRoutes()

	return s
}

// Handler exposes the route table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	// Core endpoints
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.handleMetrics())

	// Session endpoints
	s.mux.HandleFunc("/session", s.getOnly(s.handleSession))
	s.mux.HandleFunc("/simulations", s.getOnly(s.handleListSimulations))
	s.mux.HandleFunc("/balances/", s.getOnly(s.handleBalance))
	s.mux.HandleFunc("/contracts/", s.getOnly(s.handleContractRoutes))
}

func (s *Server) getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// handleContractRoutes routes contract sub-endpoints
func (s *Server) handleContractRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/contracts/")
	parts := strings.Split(path, "/")

	// GET /contracts/{address}
	if len(parts) == 1 {
		s.handleGetContract(w, r, parts[0])
		return
	}

	// GET /contracts/{address}/query?msg={json}
	if len(parts) == 2 && parts[1] == "query" {
		s.handleQueryContract(w, r, parts[0])
		return
	}

	s.sendError(w, "Endpoint not found", http.StatusNotFound)
}

// Start starts the HTTP server in a goroutine
// Returns immediately after starting the server
func (s *Server) Start() error {
	go func() {
		slog.Info("API server starting",
			"port", s.port,
			"endpoints", []string{"/", "/health", "/metrics", "/session", "/simulations"},
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
