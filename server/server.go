package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Lina-go/backend-delfos-sub000/cache"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/engine"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/pool"
)

// Pipeline is the part of the engine the HTTP surface drives.
type Pipeline interface {
	Process(ctx context.Context, req engine.Request) (*engine.Response, error)
	Stream(ctx context.Context, req engine.Request) (string, <-chan core.Event)
	Cancel(requestID string) error
	CacheStats() map[string]cache.Stats
	ClearCaches()
}

// Resources reports on the long-lived resources behind the pipeline.
type Resources interface {
	PoolStats() []pool.Stats
	HealthCheck(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string
	// RequestTimeout bounds non-streaming requests. Zero disables it.
	RequestTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown. Defaults to 15s.
	ShutdownTimeout time.Duration
	Logger          logging.Logger
}

// Server is the HTTP surface of the pipeline.
type Server struct {
	Router    *chi.Mux
	pipeline  Pipeline
	resources Resources
	opts      Options
}

// New creates a server with all routes mounted.
func New(pipeline Pipeline, resources Resources, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            ":8080",
		ShutdownTimeout: 15 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		Router:    chi.NewRouter(),
		pipeline:  pipeline,
		resources: resources,
		opts:      opts,
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "delfos")
	})

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/stream", s.handleStream)
		r.Delete("/requests/{requestID}", s.handleCancel)

		r.Group(func(r chi.Router) {
			if opts.RequestTimeout > 0 {
				r.Use(middleware.Timeout(opts.RequestTimeout))
			}
			r.Post("/chat", s.handleChat)
			r.Get("/cache/stats", s.handleCacheStats)
			r.Delete("/cache", s.handleClearCache)
			r.Get("/pools", s.handlePools)
		})
	})
	return s
}

// ServeHTTP makes the server usable as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("Starting server", "addr", s.opts.Addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.opts.Logger.Info("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
