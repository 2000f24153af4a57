package normalize

import (
	"sync"
	"time"

	"github.com/avohra/agentrelay/internal/conv"
)

const (
	// defaultMaxBatches caps buffered-but-unflushed patches.
	defaultMaxBatches = 256
	// defaultMaxBatchBytes caps their cumulative payload size.
	defaultMaxBatchBytes = 1 << 20 // 1 MB
	// defaultBatchFlush is the cadence at which buffered patches drain.
	defaultBatchFlush = 100 * time.Millisecond
)

// batcher buffers patches from a high-frequency dialect and drains them
// on a fixed cadence. Past the count cap, the two oldest buffered
// patches merge into one with operation order preserved, so applying
// the merged patch is equivalent to applying both. Past the byte cap,
// the buffer flushes immediately: no patch is ever dropped, and the
// buffered payload never exceeds maxBytes between calls.
type batcher struct {
	mu       sync.Mutex
	pending  []conv.Patch
	bytes    int
	maxCount int
	maxBytes int
	out      func(conv.Patch)
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func newBatcher(maxCount, maxBytes int, flushEvery time.Duration, out func(conv.Patch)) *batcher {
	b := &batcher{
		maxCount: maxCount,
		maxBytes: maxBytes,
		out:      out,
		ticker:   time.NewTicker(flushEvery),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *batcher) run() {
	for {
		select {
		case <-b.ticker.C:
			b.flush()
		case <-b.done:
			return
		}
	}
}

// add buffers one patch, compacting past the count cap and flushing
// past the byte cap.
func (b *batcher) add(p conv.Patch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, p)
	b.bytes += patchSize(p)
	for len(b.pending) > b.maxCount && len(b.pending) > 1 {
		b.pending[1] = append(b.pending[0], b.pending[1]...)
		b.pending = b.pending[1:]
	}
	if b.bytes > b.maxBytes {
		b.flushLocked()
	}
}

// flush drains every buffered patch in order. out runs under the lock
// so a concurrent add cannot interleave with the drain; it must not
// call back into the batcher.
func (b *batcher) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *batcher) flushLocked() {
	for _, p := range b.pending {
		b.out(p)
	}
	b.pending = nil
	b.bytes = 0
}

// stop flushes the remainder and halts the drain goroutine.
func (b *batcher) stop() {
	b.stopOnce.Do(func() {
		b.ticker.Stop()
		close(b.done)
		b.flush()
	})
}

func patchSize(p conv.Patch) int {
	size := 0
	for _, op := range p {
		size += len(op.Op) + len(op.Path) + len(op.Value)
	}
	return size
}
