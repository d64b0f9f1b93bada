package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cwfork/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]interface{}{
		"service":     "cwfork",
		"version":     "1.0.0",
		"description": "CosmWasm execution sandbox over a forked chain",
		"endpoints": map[string]string{
			"GET /":                               "This page - Service information",
			"GET /health":                         "Health check endpoint",
			"GET /metrics":                        "Prometheus metrics for monitoring",
			"GET /session":                        "Fork point, current block and sender",
			"GET /simulations":                    "Archived call results (supports ?limit=, ?offset=)",
			"GET /balances/{address}":             "All balances, or one with ?denom=",
			"GET /contracts/{address}":            "Code bound to a contract address",
			"GET /contracts/{address}/query?msg=": "Smart query against the forked state",
		},
	}

	s.sendJSON(w, info)
}

// handleHealth returns health status
// GET /health - Health check for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Ping(r.Context()); err != nil {
		slog.Error("Repository unhealthy", "error", err)
		s.sendError(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "cwfork",
		"session":   s.session.SessionID(),
	}

	s.sendJSON(w, health)
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// handleSession describes the fork the server runs against
// GET /session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, BuildSessionResponse(s.session))
}

// handleListSimulations lists archived call results
// GET /simulations?limit=50&offset=0
func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParsePagination(r.URL.Query())

	records, total, err := s.session.Simulations(r.Context(), limit, offset)
	if err != nil {
		slog.Error("Failed to list simulations", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, models.SimulationListResponse{
		Simulations: records,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// handleBalance returns the balances of an address
// GET /balances/{address}?denom=uatom
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.Path, "/balances/")
	if addr == "" || strings.Contains(addr, "/") {
		s.sendError(w, "Address required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	denom := r.URL.Query().Get("denom")
	if denom == "" {
		coins, err := s.session.AllBalances(ctx, addr)
		if err != nil {
			slog.Error("Failed to get balances", "address", addr, "error", err)
			s.sendError(w, err.Error(), StatusForError(err))
			return
		}
		s.sendJSON(w, map[string]interface{}{"address": addr, "coins": coins.NonNil()})
		return
	}

	amount, err := s.session.Balance(ctx, addr, denom)
	if err != nil {
		slog.Error("Failed to get balance", "address", addr, "denom", denom, "error", err)
		s.sendError(w, err.Error(), StatusForError(err))
		return
	}

	s.sendJSON(w, models.BalanceResponseBody{
		Address: addr,
		Coin:    models.NewCoin(denom, amount),
	})
}

// handleGetContract returns the code bound to an address
// GET /contracts/{address}
func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request, addr string) {
	if addr == "" {
		s.sendError(w, "Contract address required", http.StatusBadRequest)
		return
	}

	rec, err := s.session.Code(r.Context(), addr)
	if err != nil {
		slog.Error("Failed to get contract", "address", addr, "error", err)
		s.sendError(w, err.Error(), StatusForError(err))
		return
	}

	s.sendJSON(w, BuildContractResponse(rec))
}

// handleQueryContract runs a smart query. Queries never mutate the session.
// GET /contracts/{address}/query?msg={"balance":{...}}
func (s *Server) handleQueryContract(w http.ResponseWriter, r *http.Request, addr string) {
	msg := r.URL.Query().Get("msg")
	if msg == "" {
		s.sendError(w, "Query parameter msg is required", http.StatusBadRequest)
		return
	}
	if !json.Valid([]byte(msg)) {
		s.sendError(w, "Query parameter msg must be JSON", http.StatusBadRequest)
		return
	}

	out, err := s.session.Query(r.Context(), addr, []byte(msg))
	if err != nil {
		slog.Debug("Query failed", "address", addr, "error", err)
		s.sendError(w, err.Error(), StatusForError(err))
		return
	}

	s.sendJSON(w, BuildQueryResponse(out))
}

// sendJSON writes v with a 200 status
func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}
