package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type healthCheck struct {
	name  string
	probe func(context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// AddHealthCheck registers a dependency probe reported by /healthz. Checks
// must be added before the server starts.
func (s *Server) AddHealthCheck(name string, probe func(context.Context) error) {
	s.checks = append(s.checks, healthCheck{name: name, probe: probe})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp.Checks = make(map[string]string, len(s.checks))
		for _, c := range s.checks {
			if err := c.probe(ctx); err != nil {
				resp.Checks[c.name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.name] = "ok"
		}
	}

	s.writeJSON(w, status, resp)
}
