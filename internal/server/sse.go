package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nevindra/bigcontext"
)

// handleStream serves GET /chunk-process/{id}/stream: a server-sent-event
// feed of the job's progress, polled at bigcontext.PublishInterval until the
// job reaches a terminal state.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	if _, err := s.deps.Store.GetJob(ctx, jobID); err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	defer s.deps.Publisher.Forget(jobID)

	ticker := time.NewTicker(bigcontext.PublishInterval)
	defer ticker.Stop()

	for {
		snap, err := s.deps.Publisher.Snapshot(ctx, jobID)
		if err != nil {
			writeSSEError(w, err)
			flusher.Flush()
			return
		}
		if err := writeSSE(w, snap); err != nil {
			return
		}
		flusher.Flush()

		if snap.Done {
			fmt.Fprint(w, "data: {\"done\":true}\n\n")
			flusher.Flush()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeSSE(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeSSEError(w http.ResponseWriter, err error) {
	fmt.Fprintf(w, "data: {\"error\": %q}\n\n", err.Error())
}
