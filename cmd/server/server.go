package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/rules"
	"github.com/liamcoop/ruleops/rules/facts"
	"github.com/liamcoop/ruleops/schema"
)

// slowRequestThreshold marks requests worth a warning.
const slowRequestThreshold = 2 * time.Second

// actorHeader names the caller recorded on rule changes.
const actorHeader = "X-User"

type Server struct {
	engine  *rules.Engine
	db      *sql.DB // nil when rules are kept in memory
	schemas *schema.Registry
	metrics prometheus.Gatherer
	router  *chi.Mux
}

// NewServer creates the HTTP API over engine. db is pinged by the health
// check when set.
func NewServer(engine *rules.Engine, db *sql.DB, metrics prometheus.Gatherer, requestTimeout time.Duration) *Server {
	if metrics == nil {
		metrics = prometheus.NewRegistry()
	}
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	s := &Server{
		engine:  engine,
		db:      db,
		schemas: facts.Registry(),
		metrics: metrics,
	}

	s.setupRoutes(requestTimeout)

	return s
}

func (s *Server) setupRoutes(requestTimeout time.Duration) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", s.handleHealth)

		// Fact types rules are written against
		r.Get("/schemas", s.handleListSchemas)
		r.Get("/schemas/{name}", s.handleGetSchema)

		// Execution
		r.Post("/evaluate", s.handleEvaluate)

		// Loaded rule set
		r.Get("/container", s.handleContainer)
		r.Post("/container/reload", s.handleReload)

		// Rule management
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)

			r.Get("/active", s.handleActiveRules)
			r.Get("/errors", s.handleRulesWithErrors)
			r.Get("/recent", s.handleRecentRules)
			r.Get("/categories", s.handleCategories)
			r.Get("/statistics", s.handleStatistics)
			r.Get("/templates", s.handleTemplates)
			r.Post("/validate", s.handleValidate)
			r.Post("/execute", s.handleExecute)

			r.Route("/{ruleId}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/activate", s.handleActivate)
				r.Post("/deactivate", s.handleDeactivate)
				r.Post("/validate", s.handleValidateRule)
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request and feeds the logger's HTTP counters.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		}

		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
			logger.Logger.Error("request failed", attrs...)
		case status >= 400:
			logger.WarnHttp4xx(status)
			logger.Debug("request rejected", attrs...)
		default:
			logger.Debug("request served", attrs...)
		}

		if elapsed > slowRequestThreshold {
			logger.WarnSlowRequest()
			logger.Logger.Warn("slow request", attrs...)
		}
	})
}

// newMetricsRegistry creates the registry served on /metrics, with the
// runtime collectors and the logger's counters.
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counters := []struct {
		name, help string
		value      func() int64
	}{
		{"log_errors_total", "Errors logged, before sampling", logger.TotalErrors.Load},
		{"log_warnings_total", "Warnings logged, before sampling", logger.TotalWarnings.Load},
		{"http_5xx_total", "HTTP responses with a 5xx status", logger.Total5xxErrors.Load},
		{"http_4xx_total", "HTTP responses with a 4xx status", logger.Total4xxErrors.Load},
		{"http_404_total", "HTTP responses with status 404", logger.Total404Errors.Load},
		{"http_slow_requests_total", "HTTP requests slower than the slow request threshold", logger.SlowRequests.Load},
	}
	for _, c := range counters {
		value := c.value
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "ruleops",
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(value()) }))
	}
	return reg
}
