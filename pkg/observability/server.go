package observability

import (
	"context"
	"net/http"
	"time"
)

// Server provides HTTP endpoints for observability
type Server struct {
	httpServer *http.Server
	checker    *HealthChecker
	addr       string
}

// NewServer creates a new observability server
func NewServer(addr string, checker *HealthChecker) *Server {
	if checker == nil {
		checker = NewHealthChecker()
	}
	return &Server{
		addr:    addr,
		checker: checker,
	}
}

// Start starts the observability server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.checker.HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", s.checker.ReadinessHandler())

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
