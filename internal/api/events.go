package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"faultline/internal/model"
	"faultline/internal/store"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the run exists.
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// If already in a terminal state, return empty stream immediately.
	if run.Status == model.StatusCompleted || run.Status == model.StatusFailed || run.Status == model.StatusCanceled {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe to the event stream. This is safe even if the run finished
	// between the status check above and this call — Subscribe on a closed topic
	// returns a closed channel, causing the loop below to exit immediately.
	ch, unsub := s.harness.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Run finished; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			payload, merr := json.Marshal(ev)
			if merr != nil {
				s.logger.Error("marshal run event", "error", merr)
				continue
			}
			if err := writeSSEData(w, string(payload)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// eventHistoryEntry is a single persisted event in the history response.
type eventHistoryEntry struct {
	Seq   int             `json:"seq"`
	Event json.RawMessage `json:"event"`
}

// eventHistoryResponse is the JSON response for GET /v1/runs/:id/events/history.
type eventHistoryResponse struct {
	RunID  string              `json:"run_id"`
	Events []eventHistoryEntry `json:"events"`
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the run exists.
	_, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for event history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	stored, err := s.store.GetEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("get run events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run events")
		return
	}

	events := make([]eventHistoryEntry, len(stored))
	for i, ev := range stored {
		events[i] = eventHistoryEntry{
			Seq:   ev.Seq,
			Event: json.RawMessage(ev.Payload),
		}
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{
		RunID:  id,
		Events: events,
	})
}

// writeSSEData writes an event payload as an SSE data event. Multi-line
// strings are split so that each segment gets its own "data:" prefix, per the
// SSE spec.
func writeSSEData(w http.ResponseWriter, payload string) error {
	for _, seg := range strings.Split(payload, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
