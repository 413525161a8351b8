package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/schedulekit/constraints/constraint"
	"github.com/schedulekit/constraints/engine"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": s.engine.Metrics().Uptime.String(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ConstraintID == "" {
		respondError(w, http.StatusBadRequest, "constraintId is required", nil)
		return
	}
	if req.Context == nil {
		respondError(w, http.StatusBadRequest, "context is required", nil)
		return
	}

	result := s.engine.Evaluate(r.Context(), req.ConstraintID, req.Context, engine.Options{
		SkipCache: req.SkipCache,
	})
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Context == nil {
		respondError(w, http.StatusBadRequest, "context is required", nil)
		return
	}

	opts := engine.Options{
		SkipCache:        req.SkipCache,
		ResolveConflicts: req.ResolveConflicts,
	}

	var (
		batch *engine.BatchResult
		err   error
	)
	switch {
	case len(req.Constraints) > 0:
		batch = s.engine.EvaluateBatch(r.Context(), req.Constraints, req.Context, opts)
	case req.Kind != "":
		batch, err = s.engine.EvaluateByKind(r.Context(), constraint.Kind(req.Kind), req.Context, opts)
	case req.Priority != nil:
		batch, err = s.engine.EvaluateByPriority(r.Context(), *req.Priority, req.Context, opts)
	default:
		respondError(w, http.StatusBadRequest, "one of constraints, kind or priority is required", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "batch evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, batch)
}

func (s *Server) handleEngineMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Metrics())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since timestamp", err)
			return
		}
		since = parsed
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alerts": s.engine.Monitor().Alerts(since),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.CacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConstraints(w http.ResponseWriter, r *http.Request) {
	defs, err := s.registry.ListActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list constraints", err)
		return
	}
	if defs == nil {
		defs = []constraint.Definition{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"constraints": defs})
}

func (s *Server) handleCreateConstraint(w http.ResponseWriter, r *http.Request) {
	var req CreateConstraintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || req.Expression == "" {
		respondError(w, http.StatusBadRequest, "name and expression are required", nil)
		return
	}

	def := constraint.Definition{
		ID:                "constraint-" + uuid.NewString(),
		Name:              req.Name,
		Kind:              req.Kind,
		Priority:          req.Priority,
		Expression:        req.Expression,
		ViolationMessage:  req.ViolationMessage,
		ViolationSeverity: req.ViolationSeverity,
		Metadata:          req.Metadata,
		Active:            req.Active,
	}

	if err := s.registry.Add(def); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add constraint", err)
		return
	}

	respondJSON(w, http.StatusCreated, def)
}

func (s *Server) handleGetConstraint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "constraintId")

	def, err := s.registry.Definition(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "constraint not found", err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpdateConstraint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "constraintId")

	var req UpdateConstraintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	def := constraint.Definition{
		ID:                id,
		Name:              req.Name,
		Kind:              req.Kind,
		Priority:          req.Priority,
		Expression:        req.Expression,
		ViolationMessage:  req.ViolationMessage,
		ViolationSeverity: req.ViolationSeverity,
		Metadata:          req.Metadata,
		Active:            req.Active,
	}

	if err := s.registry.Update(def); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, constraint.ErrNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, status, "failed to update constraint", err)
		return
	}

	// Stored definition changed; memoized results for it are stale.
	s.engine.InvalidateCache(id, nil)

	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteConstraint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "constraintId")

	if err := s.registry.Delete(id); err != nil {
		respondError(w, http.StatusNotFound, "constraint not found", err)
		return
	}

	s.engine.InvalidateCache(id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
