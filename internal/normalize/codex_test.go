package normalize

import (
	"strings"
	"testing"
	"time"

	"context"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/conv"
)

func TestCodexNormalizerCommandLifecycle(t *testing.T) {
	store := bus.NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	For(ExecutorCodex).Start(ctx, store, "")

	pushLines(store,
		`{"type":"thread.started","thread_id":"th-777"}`,
		`{"type":"item.started","item":{"id":"it-1","type":"command_execution","command":"go test ./..."}}`,
		`{"type":"item.completed","item":{"id":"it-1","type":"command_execution","command":"go test ./...","status":"success"}}`,
		`{"type":"item.completed","item":{"id":"it-2","type":"agent_message","text":"tests pass"}}`,
		`{"type":"turn.completed"}`,
	)
	store.Push(bus.Finished())

	c := collectConversation(t, store, 3)

	// thread started, command (started then replaced in place), message.
	if len(c.Entries) != 3 {
		t.Fatalf("entries = %+v", c.Entries)
	}
	cmd := c.Entries[1]
	if cmd.Type != conv.EntryToolUse || cmd.Action == nil || cmd.Action.Kind != conv.ActionCommandRun {
		t.Fatalf("command entry = %+v", cmd)
	}
	if !strings.Contains(cmd.Content, "(success)") {
		t.Errorf("completion did not replace the started entry: %q", cmd.Content)
	}
	if c.Entries[2].Content != "tests pass" {
		t.Errorf("message entry = %+v", c.Entries[2])
	}

	found := false
	for _, m := range store.History() {
		if m.Type == bus.MsgSessionID && m.Text == "th-777" {
			found = true
		}
	}
	if !found {
		t.Error("thread id not published as session id")
	}
}

func TestCodexNormalizerTurnFailed(t *testing.T) {
	store := bus.NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	For(ExecutorCodex).Start(ctx, store, "")
	pushLines(store,
		`{"type":"item.completed","item":{"id":"r1","type":"reasoning","text":"hmm"}}`,
		`{"type":"turn.failed","error":{"message":"model overloaded"}}`,
	)
	store.Push(bus.Finished())

	c := collectConversation(t, store, 2)
	if c.Entries[0].Type != conv.EntryThinking {
		t.Errorf("entry 0 = %+v", c.Entries[0])
	}
	last := c.Entries[len(c.Entries)-1]
	if last.Type != conv.EntryErrorMessage || !strings.Contains(last.Content, "model overloaded") {
		t.Errorf("failure entry = %+v", last)
	}
}

func TestCodexStdoutAndStderrPatchesArriveInIndexOrder(t *testing.T) {
	store := bus.NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := For(ExecutorCodex).Start(ctx, store, "")

	// A stdout entry followed shortly by an oversized stderr block,
	// which flushes its accumulator at once. Both patches must land
	// on the bus in index order even though they race through
	// different drains.
	store.Push(bus.Stdout(`{"type":"item.started","item":{"id":"it-1","type":"command_execution","command":"make"}}` + "\n"))
	time.Sleep(50 * time.Millisecond)
	store.Push(bus.Stderr(strings.Repeat("e", 20*1024) + "\n"))
	store.Push(bus.StreamEnd())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("normalizer did not finish")
	}
	store.Push(bus.Finished())

	var c conv.Conversation
	for _, m := range store.History() {
		if m.Type != bus.MsgJSONPatch {
			continue
		}
		if err := c.Apply(m.Patch); err != nil {
			t.Fatalf("replaying patches in bus order: %v", err)
		}
	}
	if len(c.Entries) < 2 {
		t.Fatalf("entries = %+v", c.Entries)
	}
	if c.Entries[0].Type != conv.EntryToolUse {
		t.Errorf("entry 0 = %+v, want the stdout command entry first", c.Entries[0])
	}
	if c.Entries[1].Type != conv.EntryErrorMessage {
		t.Errorf("entry 1 = %+v, want the stderr block second", c.Entries[1])
	}
}

func TestBatcherCompactsWhenOverCaps(t *testing.T) {
	var out []conv.Patch
	b := newBatcher(3, 1<<20, time.Hour, func(p conv.Patch) {
		out = append(out, p)
	})

	for i := 0; i < 10; i++ {
		b.add(conv.AddEntry(i, conv.Entry{Type: conv.EntryAssistantMessage, Content: "x"}))
	}

	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	if pending > 3 {
		t.Errorf("pending batches = %d, want <= 3", pending)
	}

	b.stop()

	// Compaction merges, never drops: all ten adds survive in order.
	var c conv.Conversation
	for _, p := range out {
		if err := c.Apply(p); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if len(c.Entries) != 10 {
		t.Errorf("entries after compaction = %d, want 10", len(c.Entries))
	}
}

func TestBatcherFlushesWhenOverByteCap(t *testing.T) {
	var out []conv.Patch
	b := newBatcher(256, 128, time.Hour, func(p conv.Patch) {
		out = append(out, p)
	})
	defer b.stop()

	small := conv.AddEntry(0, conv.Entry{Type: conv.EntryAssistantMessage, Content: "a"})
	big := conv.AddEntry(1, conv.Entry{Type: conv.EntryAssistantMessage, Content: strings.Repeat("b", 256)})
	b.add(small)
	b.add(big)

	// Crossing the byte cap drains the buffer immediately, before any
	// cadence tick, with order preserved.
	if len(out) != 2 {
		t.Fatalf("flushed patches = %d, want 2", len(out))
	}
	b.mu.Lock()
	pending, bytes := len(b.pending), b.bytes
	b.mu.Unlock()
	if pending != 0 || bytes != 0 {
		t.Errorf("buffer not drained: pending=%d bytes=%d", pending, bytes)
	}

	var c conv.Conversation
	for _, p := range out {
		if err := c.Apply(p); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if len(c.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(c.Entries))
	}
}

func TestBatcherFlushesOnCadence(t *testing.T) {
	got := make(chan conv.Patch, 8)
	b := newBatcher(256, 1<<20, 20*time.Millisecond, func(p conv.Patch) {
		got <- p
	})
	defer b.stop()

	b.add(conv.AddEntry(0, conv.Entry{Type: conv.EntryAssistantMessage}))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("batcher never flushed")
	}
}

func TestCodexPollIntervalFasterThanDefault(t *testing.T) {
	if For(ExecutorCodex).PollInterval() >= For(ExecutorClaude).PollInterval() {
		t.Error("codex should poll faster than claude")
	}
}
