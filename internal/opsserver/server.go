// Package opsserver exposes the station client's operational surface over
// HTTP: liveness for discovery probes, a status snapshot for dashboards, and
// Prometheus metrics.
package opsserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transitops/stationlink/pkg/client"
	"github.com/transitops/stationlink/pkg/discovery"
)

// Server serves /healthz, /status, and /metrics next to a sync client.
type Server struct {
	client   *client.Client
	registry *prometheus.Registry
	logger   *slog.Logger
}

// New creates a Server and registers the client's Prometheus collector.
func New(c *client.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(client.NewPromCollector(c))
	return &Server{client: c, registry: registry, logger: logger}
}

// statusResponse is the /status payload.
type statusResponse struct {
	State         string                 `json:"state"`
	Subscriptions []string               `json:"subscriptions"`
	Candidates    []discovery.Candidate  `json:"candidates"`
	Metrics       client.MetricsSnapshot `json:"metrics"`
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		resp := statusResponse{
			State:         s.client.State().String(),
			Subscriptions: s.client.Subscriptions(),
			Candidates:    s.client.Candidates(),
			Metrics:       s.client.Metrics(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Error("status encode failed", "error", err)
		}
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.registry, promhttp.HandlerOpts{}))

	return r
}

// ListenAndServe runs the server until the context is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("ops server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
