// Package server exposes stream resolution over HTTP. It uses chi for
// routing with CORS support, and a WebSocket endpoint that pushes per-source
// statuses while a resolution is running.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"cinefetch/internal/provider"
	"cinefetch/internal/resolve"
)

// Server is the HTTP front end of the resolution engine.
type Server struct {
	engine     *resolve.Engine
	registry   *provider.Registry
	public     any
	logger     logrus.FieldLogger
	httpServer *http.Server
	router     chi.Router
}

// New creates a server listening on addr. public is served as-is from
// /api/config, so it must not carry secrets.
func New(addr string, engine *resolve.Engine, registry *provider.Registry, public any, logger logrus.FieldLogger) *Server {
	s := &Server{
		engine:   engine,
		registry: registry,
		public:   public,
		logger:   logger,
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware())
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Get("/sources", s.handleSources)
		r.Get("/order", s.handleOrder)
		r.Get("/resolve", s.handleResolve)
		r.Delete("/cache", s.handleCacheClear)
	})

	s.router.Get("/ws/resolve", s.handleWebSocket)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("address", s.httpServer.Addr).Info("starting HTTP server")

	errc := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop waits up to 10 seconds for active requests to finish.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("shutting down HTTP server")
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) loggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			s.logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}
