package streamhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/avohra/agentrelay/internal/conv"
)

// sseWriter frames server-sent events over a flushing response writer.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// send writes one event. Multi-line payloads get one data: line each,
// per the SSE framing rules.
func (s *sseWriter) send(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) sendBatch(batchID int64, patch conv.Patch) error {
	payload, err := json.Marshal(conv.Batch{BatchID: batchID, Patches: patch})
	if err != nil {
		return err
	}
	return s.send("batch", payload)
}
