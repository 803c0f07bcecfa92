package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthFunc reports per-dependency connectivity for the health endpoint.
type HealthFunc func() map[string]bool

// Server serves /metrics and /health.
type Server struct {
	server *http.Server
	port   int
	logger zerolog.Logger
}

// NewServer creates the observability server. health may be nil.
func NewServer(port int, health HealthFunc, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]bool{}
		if health != nil {
			status = health()
		}
		healthy := true
		for _, ok := range status {
			healthy = healthy && ok
		}
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"healthy":      healthy,
			"dependencies": status,
		})
	})

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		port:   port,
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start serves in the background.
func (s *Server) Start() {
	s.logger.Info().Int("port", s.port).Msg("Starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
