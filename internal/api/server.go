// Package api exposes the REST surface: the translation endpoint plus the
// stats, cache, and provider status endpoints, all under /api/v1.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/transgate/internal/costctl"
	"github.com/allaspectsdev/transgate/internal/extdata"
	"github.com/allaspectsdev/transgate/internal/pipeline"
	"github.com/allaspectsdev/transgate/internal/store"
)

// Server is the HTTP front end. It owns no business logic; everything is
// delegated to the pipeline, store, cost controller, and extdata service.
type Server struct {
	httpServer *http.Server
	pipeline   *pipeline.Pipeline
	store      *store.Store
	costs      *costctl.Controller
	extdata    *extdata.Service
}

// New builds a Server listening on addr.
func New(addr string, p *pipeline.Pipeline, s *store.Store, c *costctl.Controller, e *extdata.Service) *Server {
	srv := &Server{
		pipeline: p,
		store:    s,
		costs:    c,
		extdata:  e,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/translate", srv.handleTranslate)
		r.Get("/health", srv.handleHealth)
		r.Get("/stats", srv.handleStats)
		r.Get("/stats/dashboard", srv.handleDashboard)
		r.Get("/providers", srv.handleProviders)
		r.Get("/translations", srv.handleTranslations)
		r.Get("/languages", srv.handleLanguages)
	})

	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
