package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gantry/internal/catalog"
	"github.com/seantiz/gantry/internal/engine"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/store"
	"github.com/seantiz/gantry/internal/taskerr"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.TaskRun `json:"runs"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type cancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req model.TaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	desc, err := s.engine.Prepare(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "application not found")
		case taskerr.KindOf(err) == taskerr.KindConfiguration:
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("prepare task", "application_id", req.ApplicationID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to prepare task")
		}
		return
	}

	run, err := s.engine.Submit(r.Context(), desc)
	if errors.Is(err, engine.ErrTaskActive) {
		s.writeError(w, http.StatusConflict, "task is already running")
		return
	}
	if err != nil {
		s.logger.Error("submit task", "task_id", desc.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetLatestRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.TaskRun{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.engine.Cancel(id) {
		s.writeJSON(w, http.StatusAccepted, cancelResponse{TaskID: id, Status: "cancelling"})
		return
	}

	_, err := s.store.GetLatestRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task for cancel", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	s.writeError(w, http.StatusConflict, "task is not running")
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
