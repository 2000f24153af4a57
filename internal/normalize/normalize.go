// Package normalize converts per-dialect agent output streams into the
// canonical conversation entry schema. One normalizer per executor
// dialect drains the execution's bus, parses incrementally, and pushes
// JSON Patch messages back onto the same bus. Parse failures degrade to
// verbatim fallback entries; a malformed line never aborts the stream.
package normalize

import (
	"context"
	"sync"
	"time"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/conv"
)

// Executor type names. The set is closed: adding a dialect means adding
// a case to For and a normalizer implementation.
const (
	ExecutorClaude   = "claude"
	ExecutorCodex    = "codex"
	ExecutorGemini   = "gemini"
	ExecutorOpencode = "opencode"
	ExecutorScript   = "script"
)

// Normalizer turns one dialect's raw output into normalized entries.
type Normalizer interface {
	// ExecutorType names the dialect this normalizer handles.
	ExecutorType() string
	// Start spawns the drain goroutines for store's stdout/stderr
	// streams and returns immediately. The goroutines exit when the
	// raw streams end or ctx is cancelled; the returned channel closes
	// once every pending entry patch has been pushed. worktree is the
	// execution's working directory, used to relativize file paths.
	Start(ctx context.Context, store *bus.Store, worktree string) <-chan struct{}
	// PollInterval is the suggested client poll cadence for this
	// dialect. High-frequency dialects warrant a faster tick.
	PollInterval() time.Duration
}

// For returns the normalizer for an executor type. Unknown types fall
// back to the plain-text strategy.
func For(executorType string) Normalizer {
	switch executorType {
	case ExecutorClaude:
		return &claudeNormalizer{}
	case ExecutorCodex:
		return &codexNormalizer{}
	case ExecutorGemini:
		return &geminiNormalizer{}
	default:
		return &plainNormalizer{executorType: executorType}
	}
}

// spawnDrains runs each drain in its own goroutine and returns a
// channel that closes when all of them have exited.
func spawnDrains(fns ...func()) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for _, fn := range fns {
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// emitter assigns indices and publishes entry patches onto the bus. It
// is shared by all drain goroutines of one normalizer so stdout and
// stderr entries interleave without index collisions. Claiming an index
// and publishing its patch happen under one lock: patches reach the bus
// in index order no matter which drain produced them.
type emitter struct {
	store *bus.Store
	mu    sync.Mutex
	idx   *conv.IndexProvider
	batch *batcher // optional; routes patches for high-frequency dialects
}

// newEmitter seeds the index provider from patches already on the bus,
// so a normalizer attached mid-stream continues numbering instead of
// colliding with published entries.
func newEmitter(store *bus.Store) *emitter {
	var history []conv.Patch
	for _, msg := range store.History() {
		if msg.Type == bus.MsgJSONPatch {
			history = append(history, msg.Patch)
		}
	}
	return &emitter{store: store, idx: conv.SeededIndexProvider(history)}
}

// add publishes e as a new entry and returns its index.
func (em *emitter) add(e conv.Entry) int {
	em.mu.Lock()
	defer em.mu.Unlock()
	i := em.idx.Next()
	em.publish(conv.AddEntry(i, e))
	return i
}

// replace republishes the entry at index i.
func (em *emitter) replace(i int, e conv.Entry) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.publish(conv.ReplaceEntry(i, e))
}

func (em *emitter) publish(p conv.Patch) {
	if em.batch != nil {
		em.batch.add(p)
		return
	}
	em.store.Push(bus.JSONPatch(p))
}

func now() *time.Time {
	t := time.Now().UTC()
	return &t
}
