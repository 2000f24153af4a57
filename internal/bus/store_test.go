package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avohra/agentrelay/internal/conv"
)

func TestHistoryPlusStreamOrdered(t *testing.T) {
	s := NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := s.HistoryPlusStream(ctx)

	for i := 0; i < 10; i++ {
		s.Push(Stdout(fmt.Sprintf("chunk-%d", i)))
	}
	s.Push(Finished())

	var got []string
	for msg := range stream {
		if msg.Type == MsgStdout {
			got = append(got, msg.Text)
		}
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 chunks, got %d", len(got))
	}
	for i, text := range got {
		if want := fmt.Sprintf("chunk-%d", i); text != want {
			t.Errorf("chunk %d = %q, want %q", i, text, want)
		}
	}
}

func TestHistoryPlusStreamLateSubscriberSeesHistory(t *testing.T) {
	s := NewStore(0)
	s.Push(Stdout("early"))
	s.Push(Stderr("warn"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := s.HistoryPlusStream(ctx)

	s.Push(Stdout("late"))
	s.Push(Finished())

	var got []string
	for msg := range stream {
		if msg.Type == MsgStdout || msg.Type == MsgStderr {
			got = append(got, msg.Text)
		}
	}
	want := []string{"early", "warn", "late"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("msg %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHistoryPlusStreamNoGapNoDuplicateUnderConcurrentPush(t *testing.T) {
	s := NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const producers = 4
	const perProducer = 50

	stream := s.HistoryPlusStream(ctx)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Push(Stdout(fmt.Sprintf("p%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	s.Push(Finished())

	seen := make(map[string]int)
	total := 0
	for msg := range stream {
		if msg.Type != MsgStdout {
			continue
		}
		seen[msg.Text]++
		total++
	}
	if total != producers*perProducer {
		t.Fatalf("expected %d messages, got %d", producers*perProducer, total)
	}
	for text, n := range seen {
		if n != 1 {
			t.Errorf("message %q delivered %d times", text, n)
		}
	}
}

func TestEvictionKeepsBudgetAndNewestMessages(t *testing.T) {
	// Budget fits a handful of 1 KB chunks.
	s := NewStore(4096)
	payload := strings.Repeat("x", 1024)
	for i := 0; i < 20; i++ {
		s.Push(Stdout(fmt.Sprintf("%02d-", i) + payload))
	}

	if got := s.TotalBytes(); got > 4096 {
		t.Errorf("total bytes %d exceeds budget", got)
	}

	msgs := s.History()
	if len(msgs) == 0 {
		t.Fatal("history empty after eviction")
	}
	// Retained messages must be exactly the most recent, contiguous.
	last := msgs[len(msgs)-1]
	if !strings.HasPrefix(last.Text, "19-") {
		t.Errorf("newest message missing, tail is %q", last.Text[:3])
	}
	for i := 1; i < len(msgs); i++ {
		var a, b int
		fmt.Sscanf(msgs[i-1].Text[:2], "%d", &a)
		fmt.Sscanf(msgs[i].Text[:2], "%d", &b)
		if b != a+1 {
			t.Errorf("retained history not contiguous: %d then %d", a, b)
		}
	}
}

func TestEvictionDropsMessageLargerThanBudget(t *testing.T) {
	s := NewStore(1024)
	s.Push(Stdout("small"))
	s.Push(Stdout(strings.Repeat("z", 8192)))

	if got := s.TotalBytes(); got > 1024 {
		t.Errorf("total bytes %d exceeds budget after oversized push", got)
	}
	if msgs := s.History(); len(msgs) != 0 {
		t.Errorf("expected empty history, got %d messages", len(msgs))
	}

	// The store keeps accepting messages that fit.
	s.Push(Stdout("after"))
	if msgs := s.History(); len(msgs) != 1 || msgs[0].Text != "after" {
		t.Errorf("store did not recover after oversized message: %+v", msgs)
	}
}

func TestTotalBytesMatchesHistorySum(t *testing.T) {
	s := NewStore(2048)
	for i := 0; i < 50; i++ {
		s.Push(Stdout(strings.Repeat("y", 100)))
	}
	s.mu.Lock()
	sum := 0
	for _, sm := range s.history {
		sum += sm.bytes
	}
	total := s.totalBytes
	s.mu.Unlock()
	if sum != total {
		t.Errorf("totalBytes %d != sum of stored sizes %d", total, sum)
	}
}

func TestChunkedStreamsFilterAndTerminate(t *testing.T) {
	s := NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Push(Stdout("out-1"))
	s.Push(Stderr("err-1"))
	s.Push(Stdout("out-2"))
	s.Push(Finished())

	var outs []string
	for c := range s.StdoutChunked(ctx) {
		outs = append(outs, c)
	}
	if len(outs) != 2 || outs[0] != "out-1" || outs[1] != "out-2" {
		t.Errorf("stdout chunks = %v", outs)
	}

	var errs []string
	for c := range s.StderrChunked(ctx) {
		errs = append(errs, c)
	}
	if len(errs) != 1 || errs[0] != "err-1" {
		t.Errorf("stderr chunks = %v", errs)
	}
}

func TestChunkedStreamsTerminateAtStreamEnd(t *testing.T) {
	s := NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Push(Stdout("before"))
	s.Push(StreamEnd())
	// Entry patches may trail the raw stream; chunk consumers must not
	// wait for Finished to observe the end of input.
	s.Push(JSONPatch(nil))
	s.Push(Finished())

	var outs []string
	for c := range s.StdoutChunked(ctx) {
		outs = append(outs, c)
	}
	if len(outs) != 1 || outs[0] != "before" {
		t.Errorf("stdout chunks = %v", outs)
	}
}

func TestLinesReframing(t *testing.T) {
	ctx := context.Background()
	chunks := make(chan string, 8)
	chunks <- "partial"
	chunks <- " line\nsecond line\nthird"
	chunks <- " part\n"
	chunks <- "tail without newline"
	close(chunks)

	var lines []string
	for line := range Lines(ctx, chunks) {
		lines = append(lines, line)
	}
	want := []string{"partial line", "second line", "third part", "tail without newline"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestCopyFromConvertsErrors(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()

	s.CopyFrom(ctx, &failingReader{data: "some data"}, MsgStdout)
	s.Push(Finished())

	msgs := s.History()
	if msgs[0].Type != MsgStdout || msgs[0].Text != "some data" {
		t.Errorf("expected data chunk first, got %+v", msgs[0])
	}
	foundErr := false
	for _, m := range msgs {
		if m.Type == MsgStderr && strings.Contains(m.Text, "boom") {
			foundErr = true
		}
	}
	if !foundErr {
		t.Error("read error was not converted to a stderr message")
	}
}

func TestJSONPatchMessageSize(t *testing.T) {
	p := conv.AddEntry(0, conv.Entry{Type: conv.EntryAssistantMessage, Content: "hello"})
	m := JSONPatch(p)
	if m.approxSize() <= 0 {
		t.Error("patch message has non-positive size")
	}
}

func TestSlowSubscriberDoesNotBlockPush(t *testing.T) {
	s := NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe but never read.
	_ = s.HistoryPlusStream(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			s.Push(Stdout("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("push blocked on slow subscriber")
	}
}

type failingReader struct {
	data string
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		n := copy(p, r.data)
		return n, nil
	}
	return 0, fmt.Errorf("boom")
}
