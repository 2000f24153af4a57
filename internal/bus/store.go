package bus

import (
	"context"
	"sync"
)

// DefaultByteBudget bounds retained history per execution.
const DefaultByteBudget = 100 << 20 // 100 MB

// subscriber channel depth. Live delivery is lossy for consumers slower
// than this backlog; history remains lossless.
const subscriberBuffer = 1024

// Store owns the ordered message history of one execution and fans out
// live messages to subscribers. Push never blocks and never fails: slow
// subscribers miss live delivery instead of stalling the producer.
type Store struct {
	mu         sync.Mutex
	history    []stored
	totalBytes int
	budget     int
	nextSeq    uint64

	subs    map[uint64]chan stored
	nextSub uint64
}

// NewStore creates a bus with the given history byte budget. A budget
// <= 0 selects DefaultByteBudget.
func NewStore(budget int) *Store {
	if budget <= 0 {
		budget = DefaultByteBudget
	}
	return &Store{
		budget: budget,
		subs:   make(map[uint64]chan stored),
	}
}

// Push appends msg to history, evicting the oldest entries while the
// byte budget is exceeded, and broadcasts it best-effort to every live
// subscriber.
func (s *Store) Push(msg Msg) {
	sm := stored{msg: msg, bytes: msg.approxSize()}

	s.mu.Lock()
	sm.seq = s.nextSeq
	s.nextSeq++

	s.history = append(s.history, sm)
	s.totalBytes += sm.bytes
	// A single message larger than the budget evicts everything,
	// itself included; retained bytes never exceed the budget.
	for s.totalBytes > s.budget && len(s.history) > 0 {
		s.totalBytes -= s.history[0].bytes
		s.history = s.history[1:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- sm:
		default:
			// Slow subscriber: drop the live copy rather than block.
		}
	}
	s.mu.Unlock()
}

// History returns a snapshot of the retained messages in order.
func (s *Store) History() []Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Msg, len(s.history))
	for i, sm := range s.history {
		msgs[i] = sm.msg
	}
	return msgs
}

// TotalBytes reports the current history accounting total.
func (s *Store) TotalBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// Len reports the number of retained messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// subscribe registers a live channel and returns it together with an
// unsubscribe func. Callers must subscribe before snapshotting history
// so the merged view has no gap.
func (s *Store) subscribe() (<-chan stored, func()) {
	ch := make(chan stored, subscriberBuffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// snapshot returns the retained history including sequence numbers.
func (s *Store) snapshot() []stored {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stored, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryPlusStream returns one logical stream: the history at the
// moment of the call, followed by everything pushed afterwards, with no
// gap and no duplicate across the seam. The channel closes after a
// Finished message is delivered or when ctx is cancelled.
func (s *Store) HistoryPlusStream(ctx context.Context) <-chan Msg {
	// Subscribe first, then snapshot: anything pushed in between shows
	// up in both and is deduplicated by sequence number. The reverse
	// order would open a window where a message is in neither.
	live, unsub := s.subscribe()
	hist := s.snapshot()

	out := make(chan Msg, subscriberBuffer)
	go func() {
		defer close(out)
		defer unsub()

		var lastSeq uint64
		seen := false
		for _, sm := range hist {
			select {
			case out <- sm.msg:
			case <-ctx.Done():
				return
			}
			lastSeq, seen = sm.seq, true
			if sm.msg.Type == MsgFinished {
				return
			}
		}
		for {
			select {
			case sm, ok := <-live:
				if !ok {
					return
				}
				if seen && sm.seq <= lastSeq {
					continue // overlap with the snapshot
				}
				select {
				case out <- sm.msg:
				case <-ctx.Done():
					return
				}
				lastSeq, seen = sm.seq, true
				if sm.msg.Type == MsgFinished {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
