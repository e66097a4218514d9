package api

import (
	"net/http"

	"github.com/seantiz/gantry/internal/model"
)

// statsResponse summarises recorded runs. SuccessRate is the share of
// finished runs that succeeded; InFlight counts tasks executing on this
// instance right now, which may differ from runs not yet finished in the
// database when several instances share it.
type statsResponse struct {
	Total         int            `json:"total"`
	InFlight      int            `json:"in_flight"`
	ByState       map[string]int `json:"by_state"`
	ByErrorKind   map[string]int `json:"by_error_kind"`
	SuccessRate   float64        `json:"success_rate"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	var finished int
	for state, n := range stats.CountByState {
		if model.IsTerminal(state) {
			finished += n
		}
	}
	var rate float64
	if finished > 0 {
		rate = float64(stats.CountByState[model.StateSucceeded]) / float64(finished)
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		InFlight:      s.engine.InFlight(),
		ByState:       stats.CountByState,
		ByErrorKind:   stats.CountByKind,
		SuccessRate:   rate,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
