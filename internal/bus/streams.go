package bus

import (
	"context"
	"io"
	"strings"
)

// StdoutChunked returns the raw stdout chunks in order, terminating at
// StreamEnd, Finished or ctx cancellation.
func (s *Store) StdoutChunked(ctx context.Context) <-chan string {
	return s.chunked(ctx, MsgStdout)
}

// StderrChunked returns the raw stderr chunks in order, terminating at
// StreamEnd, Finished or ctx cancellation.
func (s *Store) StderrChunked(ctx context.Context) <-chan string {
	return s.chunked(ctx, MsgStderr)
}

func (s *Store) chunked(ctx context.Context, want MsgType) <-chan string {
	src := s.HistoryPlusStream(ctx)
	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range src {
			if msg.Type == MsgStreamEnd {
				return
			}
			if msg.Type != want {
				continue
			}
			select {
			case out <- msg.Text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// StdoutLines frames the stdout chunk stream on newline boundaries.
func (s *Store) StdoutLines(ctx context.Context) <-chan string {
	return Lines(ctx, s.StdoutChunked(ctx))
}

// StderrLines frames the stderr chunk stream on newline boundaries.
func (s *Store) StderrLines(ctx context.Context) <-chan string {
	return Lines(ctx, s.StderrChunked(ctx))
}

// Lines reframes arbitrary chunks into complete lines without their
// trailing newline. A non-empty remainder is flushed when the source
// closes.
func Lines(ctx context.Context, chunks <-chan string) <-chan string {
	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		var pending strings.Builder
		for chunk := range chunks {
			for {
				i := strings.IndexByte(chunk, '\n')
				if i < 0 {
					pending.WriteString(chunk)
					break
				}
				line := chunk[:i]
				if pending.Len() > 0 {
					line = pending.String() + line
					pending.Reset()
				}
				select {
				case out <- strings.TrimSuffix(line, "\r"):
				case <-ctx.Done():
					return
				}
				chunk = chunk[i+1:]
			}
		}
		if pending.Len() > 0 {
			select {
			case out <- pending.String():
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// copyChunkSize is the read granularity when pumping a process pipe
// onto the bus.
const copyChunkSize = 4096

// CopyFrom drains r onto the bus as messages of the given type until
// EOF or ctx cancellation. Read errors become Stderr messages rather
// than terminating the bus; the producer side stays alive for the other
// stream.
func (s *Store) CopyFrom(ctx context.Context, r io.Reader, typ MsgType) {
	buf := make([]byte, copyChunkSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := r.Read(buf)
		if n > 0 {
			s.Push(Msg{Type: typ, Text: string(buf[:n])})
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.Push(Stderr("stream error: " + err.Error() + "\n"))
			}
			return
		}
	}
}
