//go:build !windows

package streamhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avohra/agentrelay/internal/action"
	"github.com/avohra/agentrelay/internal/config"
	"github.com/avohra/agentrelay/internal/conv"
	"github.com/avohra/agentrelay/internal/orchestrate"
	"github.com/avohra/agentrelay/internal/store"
)

func newTestServer(t *testing.T) (*Server, *orchestrate.Orchestrator, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Settings{DataDir: dir, StopGrace: 100 * time.Millisecond}
	orch := orchestrate.New(st, cfg)

	srv := New(orch, st, "127.0.0.1:0")
	addr, err := srv.Start()
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, orch, st, "http://" + addr
}

type sseEvent struct {
	name string
	data string
}

// readEvents consumes SSE events from the response until a "finished"
// event or EOF.
func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var cur sseEvent
	var data []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		case line == "":
			cur.data = strings.Join(data, "\n")
			events = append(events, cur)
			if cur.name == "finished" {
				return events
			}
			cur, data = sseEvent{}, nil
		}
	}
	return events
}

func getWithTimeout(t *testing.T, url string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, _, _, base := newTestServer(t)
	resp := getWithTimeout(t, base+"/health")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListAndGetExecutions(t *testing.T) {
	_, _, st, base := newTestServer(t)
	if err := st.CreateExecution(&store.Execution{ID: "exec-1", ExecutorType: "claude", Prompt: "hi"}); err != nil {
		t.Fatal(err)
	}

	resp := getWithTimeout(t, base+"/v1/executions")
	defer resp.Body.Close()
	var list []executionPayload
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "exec-1" {
		t.Fatalf("list = %+v", list)
	}

	resp = getWithTimeout(t, base+"/v1/executions/exec-1")
	defer resp.Body.Close()
	var one executionPayload
	if err := json.NewDecoder(resp.Body).Decode(&one); err != nil {
		t.Fatal(err)
	}
	if one.ExecutorType != "claude" || one.Status != store.StatusRunning {
		t.Errorf("payload = %+v", one)
	}

	resp = getWithTimeout(t, base+"/v1/executions/missing")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing id status = %d", resp.StatusCode)
	}
}

func TestStopNotRunning(t *testing.T) {
	_, _, st, base := newTestServer(t)
	if err := st.CreateExecution(&store.Execution{ID: "exec-1", ExecutorType: "claude"}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(base+"/v1/executions/exec-1/stop", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRawStreamLiveExecution(t *testing.T) {
	_, orch, _, base := newTestServer(t)

	step := action.Step{Kind: action.KindScriptRequest, Script: "echo streamed output"}
	id, err := orch.Start(context.Background(), action.Chain(step), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	resp := getWithTimeout(t, fmt.Sprintf("%s/v1/executions/%s/raw", base, id))
	events := readEvents(t, resp)

	var out strings.Builder
	finished := false
	for _, ev := range events {
		switch ev.name {
		case "stdout":
			out.WriteString(ev.data)
		case "finished":
			finished = true
		}
	}
	if !strings.Contains(out.String(), "streamed output") {
		t.Errorf("stdout events = %q", out.String())
	}
	if !finished {
		t.Error("stream did not terminate with finished event")
	}
}

// seedFinishedExecution writes a completed row plus its stdout log so
// requests take the replay path.
func seedFinishedExecution(t *testing.T, st *store.Store, id, content string) {
	t.Helper()
	if err := st.CreateExecution(&store.Execution{ID: id, ExecutorType: "script"}); err != nil {
		t.Fatal(err)
	}
	w, err := st.OpenLog(id, store.StreamStdout)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if err := st.UpdateCompletion(id, store.StatusCompleted, 0); err != nil {
		t.Fatal(err)
	}
}

func collectBatches(events []sseEvent) []conv.Batch {
	var batches []conv.Batch
	for _, ev := range events {
		if ev.name != "batch" {
			continue
		}
		var b conv.Batch
		if json.Unmarshal([]byte(ev.data), &b) == nil {
			batches = append(batches, b)
		}
	}
	return batches
}

func TestEntriesColdReplay(t *testing.T) {
	_, _, st, base := newTestServer(t)
	seedFinishedExecution(t, st, "exec-cold", "alpha line\nbeta line\n")

	resp := getWithTimeout(t, base+"/v1/executions/exec-cold/entries")
	events := readEvents(t, resp)

	batches := collectBatches(events)
	if len(batches) == 0 {
		t.Fatal("no batch events in replay")
	}

	c := &conv.Conversation{}
	for _, b := range batches {
		if err := c.Apply(b.Patches); err != nil {
			t.Fatalf("apply patch: %v", err)
		}
	}
	joined := ""
	for _, e := range c.Entries {
		joined += e.Content + "\n"
	}
	if !strings.Contains(joined, "alpha line") || !strings.Contains(joined, "beta line") {
		t.Errorf("replayed entries = %q", joined)
	}
}

func TestBatchWireShapeIsFlatOperationList(t *testing.T) {
	_, _, st, base := newTestServer(t)
	seedFinishedExecution(t, st, "exec-shape", "one line\n")

	events := readEvents(t, getWithTimeout(t, base+"/v1/executions/exec-shape/entries"))
	found := false
	for _, ev := range events {
		if ev.name != "batch" {
			continue
		}
		found = true
		var frame struct {
			BatchID int64                    `json:"batch_id"`
			Patches []map[string]json.RawMessage `json:"patches"`
		}
		if err := json.Unmarshal([]byte(ev.data), &frame); err != nil {
			t.Fatalf("patches is not a flat operation list: %v in %q", err, ev.data)
		}
		for _, op := range frame.Patches {
			if _, ok := op["op"]; !ok {
				t.Errorf("operation missing op field: %q", ev.data)
			}
		}
	}
	if !found {
		t.Fatal("no batch events")
	}
}

func TestEntriesResumeFromCursor(t *testing.T) {
	_, _, st, base := newTestServer(t)
	seedFinishedExecution(t, st, "exec-resume", "alpha line\nbeta line\n")

	full := collectBatches(readEvents(t, getWithTimeout(t, base+"/v1/executions/exec-resume/entries")))
	if len(full) == 0 {
		t.Fatal("no batches")
	}
	last := full[len(full)-1].BatchID

	// Resuming after the last batch yields nothing new.
	url := fmt.Sprintf("%s/v1/executions/exec-resume/entries?since_batch_id=%d", base, last)
	rest := collectBatches(readEvents(t, getWithTimeout(t, url)))
	if len(rest) != 0 {
		t.Errorf("resume after last cursor returned %d batches", len(rest))
	}

	// Resuming one earlier replays exactly the final batch with the
	// same id.
	url = fmt.Sprintf("%s/v1/executions/exec-resume/entries?since_batch_id=%d", base, last-1)
	tail := collectBatches(readEvents(t, getWithTimeout(t, url)))
	if len(tail) != 1 || tail[0].BatchID != last {
		t.Errorf("tail = %+v, want single batch %d", tail, last)
	}
}

func TestEntriesRejectsBadCursor(t *testing.T) {
	_, _, st, base := newTestServer(t)
	seedFinishedExecution(t, st, "exec-bad", "x\n")

	resp := getWithTimeout(t, base+"/v1/executions/exec-bad/entries?since_batch_id=banana")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
