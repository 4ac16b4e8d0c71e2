// Package server provides the HTTP API for kiku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/pkg/utils"
)

// Server is the HTTP server for the kiku API. Either engine may be nil when
// its corpus is disabled; its routes are then not mounted.
type Server struct {
	knowledge   *rag.Engine[*models.Knowledge]
	products    *rag.Engine[*models.Product]
	config      *config.ServerConfig
	logger      *zap.Logger
	metrics     *metrics.Metrics
	metricsPath string
	version     string
	store       storage.Storage
	server      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m at path.
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithStorage lets /health ping the database and report its size.
func WithStorage(st storage.Storage) Option {
	return func(s *Server) { s.store = st }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	knowledge *rag.Engine[*models.Knowledge],
	products *rag.Engine[*models.Product],
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		knowledge: knowledge,
		products:  products,
		config:    cfg,
		logger:    utils.OrNop(logger),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/conversations/{sessionID}", s.handleConversation)
		if s.knowledge != nil {
			r.Route("/knowledge", func(r chi.Router) {
				mountCorpus(r, s, s.knowledge, knowledgeAPI)
			})
		}
		if s.products != nil {
			r.Route("/products", func(r chi.Router) {
				mountCorpus(r, s, s.products, productAPI)
			})
		}
	})
	if s.metrics != nil && s.metricsPath != "" {
		r.Handle(s.metricsPath, s.metrics.Handler())
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
