package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vib3/photomesh/internal/progress"
)

func writeEvent(w io.Writer, e progress.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.State, payload)
	return err
}

// streamEvents issues Server-Sent Events for reconstruction progress. The
// optional run query parameter replays that run's recent events first.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.broker.Subscribe()
	defer s.broker.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	if runID := r.URL.Query().Get("run"); runID != "" {
		for _, e := range s.broker.Recent(runID) {
			if err := writeEvent(w, e); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	for {
		select {
		case e, ok := <-c:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
