package conv

import "sync/atomic"

// IndexProvider hands out monotonically increasing entry indices. It is
// shared between the normalizer goroutines of one execution so concurrent
// producers never collide on a position.
type IndexProvider struct {
	next atomic.Int64
}

// NewIndexProvider returns a provider counting from zero.
func NewIndexProvider() *IndexProvider {
	return &IndexProvider{}
}

// SeededIndexProvider scans previously emitted patches for the highest
// entry index referenced by an "add" operation and resumes numbering
// after it. A restarted normalizer picks up where the last one stopped
// instead of colliding with already-published entries.
func SeededIndexProvider(history []Patch) *IndexProvider {
	p := &IndexProvider{}
	max := -1
	for _, patch := range history {
		for _, op := range patch {
			if op.Op != "add" {
				continue
			}
			if n, ok := op.EntryIndex(); ok && n > max {
				max = n
			}
		}
	}
	p.next.Store(int64(max) + 1)
	return p
}

// Next claims and returns the next free index.
func (p *IndexProvider) Next() int {
	return int(p.next.Add(1) - 1)
}

// Current returns the next index without claiming it.
func (p *IndexProvider) Current() int {
	return int(p.next.Load())
}

// Reset rewinds the counter to zero. Test isolation only; production
// code never rewinds a live conversation.
func (p *IndexProvider) Reset() {
	p.next.Store(0)
}
