package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reviewq/internal/config"
	"reviewq/internal/ports"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const ssePath = "/api/jobs/sse"

type Server struct {
	router *chi.Mux
	queue  ports.JobQueue
	cfg    config.HTTP
}

func NewServer(q ports.JobQueue, cfg config.HTTP) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	s := &Server{router: chi.NewRouter(), queue: q, cfg: cfg}

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/reviews/update-status", s.updateStatus)
		r.Post("/reviews/bulk-update-status", s.bulkUpdateStatus)
		r.Get("/jobs/sse", s.streamJobs)
		r.Get("/jobs/stats", s.jobStats)
		r.Get("/jobs/{id}", s.getJob)
	})
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == ssePath
		}),
		realIPHandler,
		requestIDHandler,
		corsHandler(s.cfg.CORSOrigin),
	)
}

// Run serves HTTP on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("server serving on port %d", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Server is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
