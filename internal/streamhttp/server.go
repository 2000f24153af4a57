// Package streamhttp serves execution output over HTTP: the raw log
// stream and the normalized entry stream, both as server-sent events
// with a resumption cursor.
package streamhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/orchestrate"
	"github.com/avohra/agentrelay/internal/store"
)

// Server exposes executions over HTTP. Live executions stream from the
// orchestrator's bus; finished ones from a replay bus rebuilt off the
// persisted logs.
type Server struct {
	orch   *orchestrate.Orchestrator
	st     *store.Store
	listen string

	mu   sync.Mutex
	srv  *http.Server
	addr string
	cold map[string]*coldSession

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the streaming server.
func New(orch *orchestrate.Orchestrator, st *store.Store, listen string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		orch:   orch,
		st:     st,
		listen: listen,
		cold:   make(map[string]*coldSession),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins listening. Returns the actual address.
func (s *Server) Start() (string, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/executions", s.handleList)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/executions/{id}/raw", s.handleRaw)
	mux.HandleFunc("GET /v1/executions/{id}/entries", s.handleEntries)
	mux.HandleFunc("POST /v1/executions/{id}/stop", s.handleStop)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.listen, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: mux}
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("stream server error", "error", err)
		}
	}()

	slog.Info("stream server started", "addr", s.addr)
	return s.addr, nil
}

// Stop gracefully shuts down the server and its replay sessions.
func (s *Server) Stop() error {
	s.cancel()
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Addr returns the listening address after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	list, err := s.st.ListExecutions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, executionsJSON(list))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, ok := s.findExecution(w, r)
	if !ok {
		return
	}
	writeJSON(w, executionJSON(e))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.orch.Stop(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, map[string]string{"status": "stopping"})
	case errors.Is(err, orchestrate.ErrNotRunning):
		writeError(w, http.StatusConflict, "execution is not running")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleRaw streams raw stdout/stderr as SSE events. Replays the full
// retained history, then follows live output until the execution ends.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	e, ok := s.findExecution(w, r)
	if !ok {
		return
	}
	b := s.busFor(e)

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}
	for msg := range b.HistoryPlusStream(r.Context()) {
		switch msg.Type {
		case bus.MsgStdout, bus.MsgStderr:
			if err := sse.send(string(msg.Type), []byte(msg.Text)); err != nil {
				return
			}
		case bus.MsgFinished:
			_ = sse.send("finished", []byte("{}"))
			return
		}
	}
}

// handleEntries streams normalized entry patches as numbered batches.
// since_batch_id resumes after the given cursor: batch ids count
// patch messages from the start of the execution, so the numbering is
// stable across reconnects.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	e, ok := s.findExecution(w, r)
	if !ok {
		return
	}
	since := int64(0)
	if v := r.URL.Query().Get("since_batch_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid since_batch_id")
			return
		}
		since = n
	}
	b := s.busFor(e)

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}
	var batchID int64
	for msg := range b.HistoryPlusStream(r.Context()) {
		switch msg.Type {
		case bus.MsgJSONPatch:
			batchID++
			if batchID <= since {
				continue
			}
			if err := sse.sendBatch(batchID, msg.Patch); err != nil {
				return
			}
		case bus.MsgSessionID:
			if err := sse.send("session", []byte(msg.Text)); err != nil {
				return
			}
		case bus.MsgFinished:
			_ = sse.send("finished", []byte("{}"))
			return
		}
	}
}

// busFor returns the live bus when the orchestrator still holds one,
// otherwise the shared replay session for this execution.
func (s *Server) busFor(e *store.Execution) *bus.Store {
	if b := s.orch.Bus(e.ID); b != nil {
		return b
	}
	return s.coldBus(e)
}

func (s *Server) findExecution(w http.ResponseWriter, r *http.Request) (*store.Execution, bool) {
	e, err := s.st.FindExecution(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such execution")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return e, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
