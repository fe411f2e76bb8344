// Package api serves the ops endpoints: liveness and readiness for the
// worker deployment.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/pkg/httputil"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/queue"
)

// Version is stamped at build time.
var Version = "dev"

// Server is the ops HTTP server.
type Server struct {
	cfg       *config.Config
	queues    queue.Queue
	startedAt time.Time
	http      *http.Server
}

// NewServer builds the ops server over the queue fabric used for
// readiness probes.
func NewServer(cfg *config.Config, queues queue.Queue) *Server {
	s := &Server{
		cfg:       cfg,
		queues:    queues,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	logger.Info("ops server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleReady reports ready once the operational queues are reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, url := range map[string]string{
		"ingress":  s.cfg.Queues.IngressURL,
		"outbound": s.cfg.Queues.OutboundURL,
	} {
		if url == "" {
			continue
		}
		ok, err := s.queues.Exists(ctx, url)
		if err != nil {
			httputil.Unavailable(w, fmt.Sprintf("checking %s queue: %v", name, err))
			return
		}
		if !ok {
			httputil.Unavailable(w, fmt.Sprintf("%s queue does not exist", name))
			return
		}
	}
	httputil.OK(w, map[string]any{"status": "ready"})
}
