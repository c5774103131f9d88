// Package health serves liveness, readiness, status and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stablezap/stablezap/pkg/blockchain"
	"github.com/stablezap/stablezap/pkg/circuitbreaker"
	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/models"
)

const readinessTimeout = 5 * time.Second

// Pinger is a backend the service cannot work without
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// PendingLister lists the stored pending intents
type PendingLister interface {
	List(ctx context.Context) ([]*models.PendingIntent, error)
}

// Dependencies are the components reported by the server
type Dependencies struct {
	Chain    blockchain.ChainClient
	Backends map[string]Pinger
	Breakers *circuitbreaker.Set
	Nonces   *blockchain.NonceManager
	Pending  PendingLister
}

// Server represents a health check HTTP server
type Server struct {
	port          string
	deps          Dependencies
	metricsAPIKey string
	logger        logger.Logger
	server        *http.Server
}

// NewServer creates a new health check server
func NewServer(port, metricsAPIKey string, deps Dependencies, log logger.Logger) *Server {
	if deps.Breakers == nil {
		deps.Breakers = circuitbreaker.NewSet()
	}
	return &Server{
		port:          port,
		deps:          deps,
		metricsAPIKey: metricsAPIKey,
		logger:        log,
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/circuit/reset", s.handleCircuitReset)
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return mux
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady checks the chain and every backend
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if s.deps.Chain == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Chain client not connected"))
		return
	}
	if _, err := s.deps.Chain.HeaderByNumber(ctx, nil); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(fmt.Sprintf("Chain unreachable: %v", err)))
		return
	}

	for _, name := range s.backendNames() {
		if err := s.deps.Backends[name].Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("%s unreachable: %v", name, err)))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"circuits": s.deps.Breakers.States(),
	}

	if s.deps.Chain != nil {
		if header, err := s.deps.Chain.HeaderByNumber(r.Context(), nil); err == nil {
			status["latest_block"] = header.Number.Uint64()
		}
	}
	if s.deps.Nonces != nil {
		status["pending_transactions"] = s.deps.Nonces.PendingCounts()
	}
	if s.deps.Pending != nil {
		if pending, err := s.deps.Pending.List(r.Context()); err == nil {
			live := 0
			now := time.Now()
			for _, p := range pending {
				if !p.Expired(now) {
					live++
				}
			}
			status["pending_intents"] = live
		} else {
			s.logger.Error("Failed to list pending intents: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

// handleCircuitReset resets one breaker, or all of them without a name
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		s.deps.Breakers.ResetAll()
		s.logger.Notice("All circuit breakers reset")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("All circuit breakers reset"))
		return
	}

	cb, ok := s.deps.Breakers.Get(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker named %s", name)))
		return
	}

	cb.Reset()
	s.logger.Notice("Circuit breaker %s reset", name)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker %s reset", name)))
}

func (s *Server) backendNames() []string {
	names := make([]string, 0, len(s.deps.Backends))
	for name := range s.deps.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	s.server = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health server shutdown error: %v", err)
		}
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Health server error: %v", err)
	}
}
