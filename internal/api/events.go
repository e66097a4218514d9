package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/store"
)

// latestRun resolves the task in the URL to its most recent run, writing
// the error response itself when that fails.
func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) (*model.TaskRun, bool) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetLatestRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get task for events", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return nil, false
	}
	return run, true
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.latestRun(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if model.IsTerminal(run.State) {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Long-lived stream; lift the server write timeout for this response.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing to a run that finished since the check above yields a
	// closed channel, so the loop ends immediately.
	ch, unsub := s.engine.Broker().Subscribe(run.ID)
	defer unsub()
	eventStreamsOpen.Inc()
	defer eventStreamsOpen.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEData(w, ev.Seq, ev.Line); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

type eventHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

type eventHistoryResponse struct {
	TaskID string             `json:"task_id"`
	RunID  string             `json:"run_id"`
	Events []eventHistoryLine `json:"events"`
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	run, ok := s.latestRun(w, r)
	if !ok {
		return
	}

	events, err := s.store.GetEvents(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("get events", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}

	lines := make([]eventHistoryLine, len(events))
	for i, ev := range events {
		lines[i] = eventHistoryLine{
			Seq:       ev.Seq,
			Line:      ev.Line,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{
		TaskID: run.TaskID,
		RunID:  run.ID,
		Events: lines,
	})
}

// writeSSEData writes one event with its sequence number as the event ID.
// Multi-line text gets one "data:" field per line.
func writeSSEData(w http.ResponseWriter, seq int, line string) error {
	if _, err := fmt.Fprintf(w, "id: %s\n", strconv.Itoa(seq)); err != nil {
		return err
	}
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
