package streamhttp

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/normalize"
	"github.com/avohra/agentrelay/internal/store"
)

// coldSession rebuilds an execution's streams from the persisted log
// files when the orchestrator no longer holds a live bus (typically
// after a daemon restart). The session is shared: the replay and
// normalization run once per execution no matter how many clients
// attach, and each client reads the same bus history.
type coldSession struct {
	bus *bus.Store
}

func (s *Server) coldBus(e *store.Execution) *bus.Store {
	s.mu.Lock()
	if cs, ok := s.cold[e.ID]; ok {
		s.mu.Unlock()
		return cs.bus
	}
	b := bus.NewStore(0)
	s.cold[e.ID] = &coldSession{bus: b}
	s.mu.Unlock()

	n := normalize.For(e.ExecutorType)
	done := n.Start(s.ctx, b, e.WorkDir)
	go s.replayLogs(e, b, n.PollInterval(), done)
	return b
}

// replayLogs pumps the stdout log into the bus, tailing it until the
// execution reaches a terminal status. A file watcher wakes the loop
// as soon as new bytes land; the dialect's poll interval is the
// fallback when watching is unavailable.
func (s *Server) replayLogs(e *store.Execution, b *bus.Store, tick time.Duration, normDone <-chan struct{}) {
	path := s.st.LogPath(e.ID, store.StreamStdout)

	var events <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err == nil {
			events = watcher.Events
		}
	} else {
		slog.Debug("log watcher unavailable, polling", "execution", e.ID, "error", err)
	}
	if tick <= 0 {
		tick = time.Second
	}

	var offset int64
	cur := e
	for {
		offset = pumpFile(path, offset, b)
		if cur.Finished() {
			pumpFile(path, offset, b)
			// The persisted logs keep no cross-stream timeline, so the
			// stderr file replays as one block after stdout. Entry
			// numbering matches the live run only when stderr produced
			// no entries of its own.
			if data, err := s.st.ReadLog(e.ID, store.StreamStderr); err == nil && len(data) > 0 {
				b.Push(bus.Stderr(string(data)))
			}
			b.Push(bus.StreamEnd())
			select {
			case <-normDone:
			case <-s.ctx.Done():
			}
			b.Push(bus.Finished())
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-events:
		case <-time.After(tick):
		}

		next, err := s.st.FindExecution(e.ID)
		if err != nil {
			b.Push(bus.StreamEnd())
			b.Push(bus.Finished())
			return
		}
		cur = next
	}
}

// pumpFile pushes any bytes past offset onto the bus and returns the
// new offset. A missing file reads as empty.
func pumpFile(path string, offset int64, b *bus.Store) int64 {
	f, err := os.Open(path)
	if err != nil {
		return offset
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}

	buf := make([]byte, 32<<10)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			offset += int64(n)
			b.Push(bus.Stdout(string(buf[:n])))
		}
		if err != nil {
			return offset
		}
	}
}
