package api

import (
	"errors"
	"net/http"

	"github.com/seantiz/gantry/internal/store"
)

func (s *Server) handleGetDataProduct(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	p, err := s.store.GetDataProduct(r.Context(), uri)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "data product not found")
		return
	}
	if err != nil {
		s.logger.Error("get data product", "uri", uri, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get data product")
		return
	}

	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProtocols(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.protocols.List())
}
