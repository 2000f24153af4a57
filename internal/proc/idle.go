package proc

import (
	"io"
	"sync"
	"time"
)

// IdleReader wraps a process output stream and fires cancel when no
// bytes arrive for the configured timeout. An agent that has wedged
// without exiting is indistinguishable from a slow one except by
// silence, so silence is the trigger.
//
// A watch goroutine polls the last-activity timestamp; the read hot
// path only bumps the timestamp.
type IdleReader struct {
	r       io.Reader
	timeout time.Duration

	mu       sync.Mutex
	lastRead time.Time
	idled    bool

	quit     chan struct{}
	stopOnce sync.Once
}

// NewIdleReader builds an idle-detecting reader. A timeout <= 0
// disables detection and reads pass through untouched.
func NewIdleReader(r io.Reader, timeout time.Duration, cancel func()) *IdleReader {
	ir := &IdleReader{
		r:        r,
		timeout:  timeout,
		lastRead: time.Now(),
		quit:     make(chan struct{}),
	}
	if timeout > 0 {
		go ir.watch(cancel)
	}
	return ir
}

func (ir *IdleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.mu.Lock()
		ir.lastRead = time.Now()
		ir.mu.Unlock()
	}
	return n, err
}

// watch checks for silence at a quarter of the timeout, clamped so
// short timeouts still get several checks before firing.
func (ir *IdleReader) watch(cancel func()) {
	tick := ir.timeout / 4
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ir.quit:
			return
		case <-t.C:
		}
		ir.mu.Lock()
		silent := time.Since(ir.lastRead) >= ir.timeout
		if silent {
			ir.idled = true
		}
		ir.mu.Unlock()
		if silent {
			if cancel != nil {
				cancel()
			}
			return
		}
	}
}

// Idled reports whether the timeout fired.
func (ir *IdleReader) Idled() bool {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.idled
}

// Stop halts the watch goroutine. Defer after the stream is fully
// drained.
func (ir *IdleReader) Stop() {
	ir.stopOnce.Do(func() { close(ir.quit) })
}
