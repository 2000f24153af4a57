package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/avohra/agentrelay/internal/conv"
)

// streamEvent is one decoded server-sent event from the entries stream.
type streamEvent struct {
	batch    *conv.Batch
	session  string
	finished bool
	err      error
}

// streamEntries connects to the entries endpoint and decodes its SSE
// frames onto a channel. The channel closes after a finished event or a
// terminal error (delivered as the last event).
func streamEntries(ctx context.Context, baseURL, execID string, since int64) (<-chan streamEvent, error) {
	url := fmt.Sprintf("%s/v1/executions/%s/entries?since_batch_id=%d", baseURL, execID, since)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("entries stream: HTTP %d", resp.StatusCode)
	}

	ch := make(chan streamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var event string
		var data []string
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = append(data, strings.TrimPrefix(line, "data: "))
			case line == "":
				ev, terminal := decodeEvent(event, strings.Join(data, "\n"))
				event, data = "", nil
				if ev == nil {
					continue
				}
				select {
				case ch <- *ev:
				case <-ctx.Done():
					return
				}
				if terminal {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			ch <- streamEvent{err: err}
		}
	}()
	return ch, nil
}

func decodeEvent(event, data string) (*streamEvent, bool) {
	switch event {
	case "batch":
		var b conv.Batch
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return &streamEvent{err: fmt.Errorf("decode batch: %w", err)}, false
		}
		return &streamEvent{batch: &b}, false
	case "session":
		return &streamEvent{session: data}, false
	case "finished":
		return &streamEvent{finished: true}, true
	default:
		return nil, false
	}
}
