// Package api serves layout conversion and detection over HTTP.
package api

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/WinkyTy/layout-converter/internal/convert"
	"github.com/WinkyTy/layout-converter/internal/detect"
	"github.com/WinkyTy/layout-converter/internal/health"
	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/logging"
	"github.com/WinkyTy/layout-converter/internal/metrics"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// LayoutStore persists layouts installed through the API.
type LayoutStore interface {
	SaveLayout(ctx context.Context, d layout.Descriptor, source string) error
	DeleteLayout(ctx context.Context, id string) (bool, error)
}

// Config wires a Server to its collaborators. Only Registry is required.
type Config struct {
	Registry *registry.Registry
	Store    LayoutStore
	Metrics  *metrics.Metrics
	Health   *health.Checker
	Logger   *logging.Logger

	Detection   detect.Config
	Lenient     bool
	Concurrency int

	// MaxBatch limits the texts in one batch request.
	MaxBatch int
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64
}

// Server holds the HTTP handlers.
type Server struct {
	reg     *registry.Registry
	engine  *convert.Engine
	scorer  atomic.Pointer[detect.Scorer]
	lenient atomic.Bool
	store   LayoutStore
	metrics *metrics.Metrics
	health  *health.Checker
	logger  *logging.Logger

	maxBatch     int
	maxBodyBytes int64
	router       chi.Router
}

const (
	defaultMaxBatch     = 1000
	defaultMaxBodyBytes = 1 << 20
)

// New builds a Server. Without a health checker it creates one that only
// checks the registry and reports ready immediately.
func New(cfg Config) *Server {
	s := &Server{
		reg:          cfg.Registry,
		engine:       convert.New(cfg.Registry, convert.Options{Concurrency: cfg.Concurrency}),
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		health:       cfg.Health,
		logger:       cfg.Logger,
		maxBatch:     cfg.MaxBatch,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if s.maxBatch <= 0 {
		s.maxBatch = defaultMaxBatch
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("api")
	if s.health == nil {
		s.health = health.NewChecker()
		s.health.SetReady(true)
	}
	s.health.RegisterFunc("registry", true, health.CountCheck("layouts", 1, s.reg.Len))

	s.SetDetection(cfg.Detection)
	s.lenient.Store(cfg.Lenient)
	s.router = s.routes()
	return s
}

// SetDetection swaps the scorer configuration. In-flight requests finish
// with the previous one.
func (s *Server) SetDetection(cfg detect.Config) {
	s.scorer.Store(detect.New(s.reg, cfg))
}

// SetLenient changes the default leniency for unknown layouts.
func (s *Server) SetLenient(lenient bool) {
	s.lenient.Store(lenient)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.instrument)

	r.Method(http.MethodGet, "/healthz", s.health.LivenessHandler())
	r.Method(http.MethodGet, "/readyz", s.health.ReadinessHandler())
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/layouts", s.handleListLayouts)
		r.Get("/layouts/{id}", s.handleGetLayout)
		r.Put("/layouts/{id}", s.handlePutLayout)
		r.Delete("/layouts/{id}", s.handleDeleteLayout)

		r.Post("/convert", s.handleConvert)
		r.Post("/convert/batch", s.handleConvertBatch)
		r.Post("/detect", s.handleDetect)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, &requestError{status: http.StatusNotFound, code: "not_found", msg: "no such endpoint"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, &requestError{status: http.StatusMethodNotAllowed, code: "method_not_allowed", msg: r.Method + " not allowed"})
	})
	return r
}
