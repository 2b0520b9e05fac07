package server

import (
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/genjobs/internal/gateway"
	httpmiddleware "github.com/wolfeidau/genjobs/internal/http"
	"github.com/wolfeidau/genjobs/internal/logger"
	"github.com/wolfeidau/genjobs/internal/store"
)

// Config wires the HTTP surface.
type Config struct {
	Store   store.JobStore
	Gateway *gateway.Gateway

	// Objects serves stored result images under /objects, optional.
	Objects http.Handler

	// ListMaxAge is the client cache lifetime of generation job lists.
	ListMaxAge time.Duration

	// Auth guards /api and the change stream, optional.
	Auth func(http.Handler) http.Handler
}

// Server wraps the HTTP API and the change stream.
type Server struct {
	cfg     Config
	changes *ChangeService
}

// NewServer creates a new server with the given store and gateway
func NewServer(cfg Config) *Server {
	if cfg.Auth == nil {
		cfg.Auth = func(next http.Handler) http.Handler { return next }
	}
	return &Server{
		cfg:     cfg,
		changes: NewChangeService(cfg.Store),
	}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger, interceptors ...connect.Interceptor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httpmiddleware.ClientIPMiddleware())
	r.Use(logger.HTTPRequests(log))
	r.Use(middleware.Recoverer)

	// Health check endpoint for load balancer
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.cfg.Auth)
		r.Use(gzip)

		if s.cfg.Gateway != nil {
			s.cfg.Gateway.Routes(r)
		}

		listCache := fmt.Sprintf("private, max-age=%d", int(s.cfg.ListMaxAge.Seconds()))
		r.With(httpmiddleware.CacheControl(listCache)).Get("/generations/{generationID}/jobs", s.listJobs)
		r.With(httpmiddleware.CacheControl("no-store")).Get("/jobs/{jobID}", s.getJob)
	})

	if s.cfg.Objects != nil {
		r.Mount("/objects", http.StripPrefix("/objects", s.cfg.Objects))
	}

	// streams are not compressed, connect negotiates its own compression
	path, handler := s.changes.Handler(connect.WithInterceptors(interceptors...))
	r.With(s.cfg.Auth).Handle(path, handler)

	return r
}

func gzip(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
