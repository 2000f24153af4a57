package normalize

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/conv"
)

func TestAccumulatorMergesWithinGapSplitsAcross(t *testing.T) {
	var flushed []string
	acc := newAccumulator(100*time.Millisecond, 1<<20, func(text string) {
		flushed = append(flushed, text)
	})
	defer acc.stop()

	// Two chunks inside the latency window, a third after a long gap.
	acc.add("first")
	time.Sleep(30 * time.Millisecond)
	acc.add("second")
	time.Sleep(300 * time.Millisecond)
	acc.add("third")
	time.Sleep(300 * time.Millisecond)

	if len(flushed) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %v", len(flushed), flushed)
	}
	if flushed[0] != "first\nsecond" {
		t.Errorf("first block = %q", flushed[0])
	}
	if flushed[1] != "third" {
		t.Errorf("second block = %q", flushed[1])
	}
}

func TestAccumulatorSizeThreshold(t *testing.T) {
	var flushed []string
	acc := newAccumulator(time.Hour, 64, func(text string) {
		flushed = append(flushed, text)
	})
	defer acc.stop()

	acc.add(strings.Repeat("a", 40))
	if len(flushed) != 0 {
		t.Fatal("flushed below threshold")
	}
	acc.add(strings.Repeat("b", 40))
	if len(flushed) != 1 {
		t.Fatalf("expected size-triggered flush, got %d blocks", len(flushed))
	}
}

func TestAccumulatorStopFlushesRemainder(t *testing.T) {
	var flushed []string
	acc := newAccumulator(time.Hour, 1<<20, func(text string) {
		flushed = append(flushed, text)
	})
	acc.add("tail")
	acc.stop()
	if len(flushed) != 1 || flushed[0] != "tail" {
		t.Errorf("flushed = %v", flushed)
	}
}

func TestPlainNormalizerStderrBecomesErrorEntries(t *testing.T) {
	store := bus.NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := For("script")
	if n.ExecutorType() != "script" {
		t.Fatalf("executor type = %q", n.ExecutorType())
	}
	n.Start(ctx, store, "")

	store.Push(bus.Stderr("panic: something broke\n"))
	store.Push(bus.Stdout("plain progress output\n"))
	store.Push(bus.Stderr("⠙\n")) // spinner, filtered
	store.Push(bus.Finished())

	c := collectConversation(t, store, 2)

	var errContent, outContent string
	for _, e := range c.Entries {
		switch e.Type {
		case conv.EntryErrorMessage:
			errContent = e.Content
		case conv.EntryAssistantMessage:
			outContent = e.Content
		}
	}
	if !strings.Contains(errContent, "panic: something broke") {
		t.Errorf("error entry = %q", errContent)
	}
	if !strings.Contains(outContent, "plain progress output") {
		t.Errorf("assistant entry = %q", outContent)
	}
}

func TestPlainNormalizerExtractsSessionID(t *testing.T) {
	store := bus.NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	For("opencode").Start(ctx, store, "")
	store.Push(bus.Stdout("starting session_id=deadbeef1234 model=big\n"))
	store.Push(bus.Finished())

	deadline := time.After(5 * time.Second)
	for {
		for _, m := range store.History() {
			if m.Type == bus.MsgSessionID {
				if m.Text != "deadbeef1234" {
					t.Fatalf("session id = %q", m.Text)
				}
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("session id never extracted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// collectConversation waits until the bus holds at least want entry-add
// patches, then applies every patch in order and returns the result.
func collectConversation(t *testing.T, store *bus.Store, want int) *conv.Conversation {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		var c conv.Conversation
		for _, m := range store.History() {
			if m.Type != bus.MsgJSONPatch {
				continue
			}
			if err := c.Apply(m.Patch); err != nil {
				t.Fatalf("apply: %v", err)
			}
		}
		if len(c.Entries) >= want {
			return &c
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d entries, have %d", want, len(c.Entries))
		case <-time.After(20 * time.Millisecond):
		}
	}
}
