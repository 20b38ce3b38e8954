// Package api exposes the HTTP surface: pipeline and connection CRUD,
// run triggers, execution inspection, alert management and the alert
// evaluation endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowforge/flowforge/internal/alert"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/worker"
	"github.com/flowforge/flowforge/pkg/logger"
)

// Server holds the handler dependencies
type Server struct {
	store     *store.Store
	trigger   *worker.Trigger
	evaluator *alert.Evaluator
	secret    string // bearer token for the evaluation trigger, empty disables auth
	logger    *zap.Logger
}

// NewServer wires a server
func NewServer(st *store.Store, trigger *worker.Trigger, evaluator *alert.Evaluator, triggerSecret string) *Server {
	return &Server{
		store:     st,
		trigger:   trigger,
		evaluator: evaluator,
		secret:    triggerSecret,
		logger:    logger.Get().With(zap.String("component", "api")),
	}
}

// Router builds the chi handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", s.createPipeline)
			r.Get("/", s.listPipelines)
			r.Get("/{id}", s.getPipeline)
			r.Delete("/{id}", s.deletePipeline)
			r.Post("/{id}/run", s.runPipeline)
			r.Get("/{id}/executions", s.listExecutions)
		})
		r.Get("/executions/{id}", s.getExecution)

		r.Route("/connections", func(r chi.Router) {
			r.Post("/", s.createConnection)
			r.Get("/", s.listConnections)
			r.Post("/test", s.testConnection)
			r.Get("/{id}/schema", s.fetchSchema)
		})
		r.Get("/connectors", s.listConnectors)

		r.Post("/queries", s.createSavedQuery)
		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", s.createAlert)
			r.Get("/{id}/history", s.listAlertHistory)
			r.Post("/evaluate", s.evaluateAlerts)
		})
	})

	return r
}

// requestLogger logs one line per request in the service's structured
// format.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
