package normalize

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/conv"
)

const (
	// defaultFlushLatency is the silence gap that closes an accumulated
	// plain-text entry.
	defaultFlushLatency = 2 * time.Second
	// defaultFlushBytes closes an entry early once it grows this large.
	defaultFlushBytes = 16 * 1024
)

// accumulator gathers raw lines into blocks and flushes one entry per
// block when either the latency gap elapses with no new data or the
// size threshold is hit, whichever comes first.
type accumulator struct {
	mu       sync.Mutex
	buf      strings.Builder
	latency  time.Duration
	maxBytes int
	timer    *time.Timer
	emit     func(text string)
}

func newAccumulator(latency time.Duration, maxBytes int, emit func(string)) *accumulator {
	if latency <= 0 {
		latency = defaultFlushLatency
	}
	if maxBytes <= 0 {
		maxBytes = defaultFlushBytes
	}
	return &accumulator{latency: latency, maxBytes: maxBytes, emit: emit}
}

// add appends one line. The flush timer restarts on every add, so a
// block closes only after latency of silence.
func (a *accumulator) add(line string) {
	a.mu.Lock()
	if a.buf.Len() > 0 {
		a.buf.WriteByte('\n')
	}
	a.buf.WriteString(line)
	if a.buf.Len() >= a.maxBytes {
		a.flushLocked()
		a.mu.Unlock()
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.latency, a.flush)
	} else {
		a.timer.Reset(a.latency)
	}
	a.mu.Unlock()
}

// flush closes the current block, if any.
func (a *accumulator) flush() {
	a.mu.Lock()
	a.flushLocked()
	a.mu.Unlock()
}

func (a *accumulator) flushLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.buf.Len() == 0 {
		return
	}
	text := a.buf.String()
	a.buf.Reset()
	a.emit(text)
}

// stop halts the timer and flushes the remainder.
func (a *accumulator) stop() {
	a.flush()
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()
}

// plainNormalizer is the fallback strategy for dialects with no
// structured output: stdout blocks become assistant messages, stderr
// blocks become error messages, both gated by the noise filter.
type plainNormalizer struct {
	executorType string
}

func (n *plainNormalizer) ExecutorType() string { return n.executorType }

func (n *plainNormalizer) PollInterval() time.Duration { return time.Second }

func (n *plainNormalizer) Start(ctx context.Context, store *bus.Store, worktree string) <-chan struct{} {
	em := newEmitter(store)
	return spawnDrains(
		func() { drainPlain(ctx, store.StdoutLines(ctx), store, em, conv.EntryAssistantMessage) },
		func() { drainPlain(ctx, store.StderrLines(ctx), store, em, conv.EntryErrorMessage) },
	)
}

// drainPlain runs the plain-text strategy over one line stream.
func drainPlain(ctx context.Context, lines <-chan string, store *bus.Store, em *emitter, typ conv.EntryType) {
	acc := newAccumulator(defaultFlushLatency, defaultFlushBytes, func(text string) {
		em.add(conv.Entry{Timestamp: now(), Type: typ, Content: text})
	})
	defer acc.stop()

	for line := range lines {
		if id, ok := ExtractSessionID(line); ok {
			store.Push(bus.SessionID(id))
		}
		if IsNoise(line) {
			continue
		}
		acc.add(StripANSI(line))
	}
}
