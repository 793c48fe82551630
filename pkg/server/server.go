// Package server exposes the answer engine over HTTP: a blocking ask
// endpoint, an NDJSON streaming variant, health and history.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/history"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
	"github.com/jllopis/ecomentor/pkg/router"
)

// Engine is the part of the orchestrator the server needs.
type Engine interface {
	Ask(ctx context.Context, req orchestrator.AskRequest, sink core.EventSink) (*orchestrator.AskResponse, error)
	Route(ctx context.Context, req orchestrator.AskRequest) (router.Decision, error)
}

// Options configures the HTTP surface.
type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigin     string
	HistoryLimit   int
}

// Server serves the HTTP API.
type Server struct {
	engine  Engine
	health  *core.HealthRegistry
	history history.Store
	opts    Options
	logger  *slog.Logger
}

// New creates a server. health and store may be nil.
func New(engine Engine, health *core.HealthRegistry, store history.Store, opts Options, logger *slog.Logger) *Server {
	if health == nil {
		health = core.NewHealthRegistry(0)
	}
	if store == nil {
		store = history.Discard{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, health: health, history: store, opts: opts, logger: logger}
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /ask/stream", s.handleAskStream)
	mux.HandleFunc("POST /route", s.handleRoute)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /history", s.handleHistory)

	// recovery -> cors -> request id -> logging -> mux
	var h http.Handler = mux
	h = logMiddleware(s.logger, h)
	h = requestIDMiddleware(h)
	h = corsMiddleware(s.opts.CORSOrigin, h)
	h = recoveryMiddleware(s.logger, h)
	return h
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
