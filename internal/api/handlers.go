package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	var p models.Pipeline
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if p.Name == "" || p.SourceType == "" || p.Query == "" || p.SourceConfig == nil {
		writeError(w, errors.New(errors.ErrorTypeValidation,
			"name, sourceType, sourceConfig and query are required"))
		return
	}
	if p.Mode == "" {
		p.Mode = models.ModeETL
	}
	if p.Mode != models.ModeETL && p.Mode != models.ModeELT {
		writeError(w, errors.Newf(errors.ErrorTypeValidation, "unknown mode %q", p.Mode))
		return
	}

	p.ID = uuid.NewString()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastRunAt = nil
	p.LastStatus = ""

	if err := s.store.CreatePipeline(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.store.ListPipelines(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPipeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePipeline(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runPipeline creates a PENDING execution and enqueues the job
func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	exec, err := s.trigger.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	executions, err := s.store.ListExecutions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var c models.Connection
	if err := decodeBody(r, &c); err != nil {
		writeError(w, err)
		return
	}
	if c.Type == "" || c.Config == nil {
		writeError(w, errors.New(errors.ErrorTypeValidation, "type and config are required"))
		return
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()

	if err := s.store.CreateConnection(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := s.store.ListConnections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connections)
}

// testConnection validates and probes a connector config without
// persisting anything
func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type   string                   `json:"type"`
		Config *config.ConnectionConfig `json:"config"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Type == "" || body.Config == nil {
		writeError(w, errors.New(errors.ErrorTypeValidation, "type and config are required"))
		return
	}

	conn, err := registry.Create(body.Type, body.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	defer conn.Disconnect(r.Context())

	result, err := conn.TestConnection(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// fetchSchema returns the tables a saved connection exposes
func (s *Server) fetchSchema(w http.ResponseWriter, r *http.Request) {
	saved, err := s.store.GetConnection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := registry.Create(saved.Type, saved.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	defer conn.Disconnect(r.Context())

	schema, err := conn.FetchSchema(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) listConnectors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"connectors": registry.List()})
}

func (s *Server) createSavedQuery(w http.ResponseWriter, r *http.Request) {
	var q models.SavedQuery
	if err := decodeBody(r, &q); err != nil {
		writeError(w, err)
		return
	}
	if q.SQL == "" || q.SourceType == "" || q.Source == nil {
		writeError(w, errors.New(errors.ErrorTypeValidation, "sql, sourceType and source are required"))
		return
	}
	q.ID = uuid.NewString()

	if err := s.store.CreateSavedQuery(r.Context(), &q); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	var a models.Alert
	if err := decodeBody(r, &a); err != nil {
		writeError(w, err)
		return
	}
	if a.QueryID == "" || a.Column == "" || a.Operator == "" {
		writeError(w, errors.New(errors.ErrorTypeValidation, "queryId, column and operator are required"))
		return
	}
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now().UTC()
	a.IsActive = true

	if err := s.store.CreateAlert(r.Context(), &a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) listAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.store.ListAlertHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// evaluateAlerts triggers one evaluation cycle. When a shared secret is
// configured, the request must carry it as a bearer token.
func (s *Server) evaluateAlerts(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if auth == token || token != s.secret {
			writeError(w, errors.New(errors.ErrorTypeAuthentication, "invalid or missing bearer token"))
			return
		}
	}

	if err := s.evaluator.EvaluateAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "evaluated"})
}
