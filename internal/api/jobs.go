package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gantry/internal/jobstatus"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/store"
)

// jobStatusRequest is the JSON body for PUT /v1/jobs/{id}/status.
type jobStatusRequest struct {
	BackendCode *int `json:"backend_code"`
}

func (s *Server) handlePutJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req jobStatusRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BackendCode == nil {
		s.writeError(w, http.StatusBadRequest, "backend_code is required")
		return
	}

	state := jobstatus.Map(*req.BackendCode)
	if state == jobstatus.Unknown {
		s.logger.Warn("unrecognized backend status code", "job_id", id, "backend_code", *req.BackendCode)
	}

	job := &model.Job{
		ID:          id,
		State:       state.String(),
		BackendCode: *req.BackendCode,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.PutJob(r.Context(), job); err != nil {
		s.logger.Error("put job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}
