// Package controller contains the HTTP API server.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"opsplane/internal/controller/handlers"
	"opsplane/internal/controller/middleware"

	"golang.org/x/time/rate"
)

// Server is the HTTP server for the orchestration API.
type Server struct {
	httpServer *http.Server
}

// Options configures optional server behavior.
type Options struct {
	// MetricsHandler serves GET /metrics when non-nil.
	MetricsHandler http.Handler
	// SubmitRateLimit caps job submissions per client address per
	// second; 0 disables limiting.
	SubmitRateLimit float64
	SubmitBurst     int
}

// New creates a new API server.
func New(addr string, svc handlers.Service, pinger handlers.Pinger, logger *slog.Logger, opts Options) *Server {
	h := handlers.New(svc, pinger)
	limitMW := middleware.RateLimitMiddleware(rate.Limit(opts.SubmitRateLimit), opts.SubmitBurst)
	logMW := middleware.LoggingMiddleware(logger)

	mux := http.NewServeMux()

	// Submission endpoints are rate limited; reads are not.
	mux.Handle("POST /jobs", limitMW(http.HandlerFunc(h.RunPlaybook)))
	mux.Handle("POST /jobs/batch", limitMW(http.HandlerFunc(h.RunBatch)))

	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/stats", h.Stats)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /jobs/{id}/logs", h.GetJobLogs)
	mux.HandleFunc("POST /jobs/{id}/cancel", h.CancelJob)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      logMW(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
