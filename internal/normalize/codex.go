package normalize

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/conv"
)

// codexEvent is one line of `codex exec --json` output.
type codexEvent struct {
	Type     string      `json:"type"` // thread.started, item.started, item.completed, turn.completed, turn.failed
	ThreadID string      `json:"thread_id,omitempty"`
	Item     *codexItem  `json:"item,omitempty"`
	Error    *codexError `json:"error,omitempty"`
}

// codexItem is a unit of work within a turn.
type codexItem struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"` // reasoning, agent_message, command_execution, file_change, web_search
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
	Command string `json:"command,omitempty"`
	Status  string `json:"status,omitempty"`
	Path    string `json:"path,omitempty"`
	Query   string `json:"query,omitempty"`
}

type codexError struct {
	Message string `json:"message"`
}

// codexNormalizer parses the codex exec JSONL dialect. Codex emits at a
// much higher event rate than the other dialects, so patches route
// through the bounded batcher and clients are told to poll faster.
type codexNormalizer struct{}

func (n *codexNormalizer) ExecutorType() string { return ExecutorCodex }

func (n *codexNormalizer) PollInterval() time.Duration { return 250 * time.Millisecond }

func (n *codexNormalizer) Start(ctx context.Context, store *bus.Store, worktree string) <-chan struct{} {
	em := newEmitter(store)
	// All patches, stderr's included, route through one batcher so
	// bursts coalesce and publish order matches index order.
	em.batch = newBatcher(defaultMaxBatches, defaultMaxBatchBytes, defaultBatchFlush, func(p conv.Patch) {
		store.Push(bus.JSONPatch(p))
	})
	drained := spawnDrains(
		func() { n.drainStdout(ctx, store, em, worktree) },
		func() { drainPlain(ctx, store.StderrLines(ctx), store, em, conv.EntryErrorMessage) },
	)
	done := make(chan struct{})
	go func() {
		<-drained
		em.batch.stop()
		close(done)
	}()
	return done
}

func (n *codexNormalizer) drainStdout(ctx context.Context, store *bus.Store, em *emitter, worktree string) {
	// item id -> entry index, for in-place completion updates.
	open := make(map[string]int)
	for line := range store.StdoutLines(ctx) {
		if IsNoise(line) {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			em.add(conv.Entry{Timestamp: now(), Type: conv.EntryAssistantMessage, Content: StripANSI(line)})
			continue
		}
		n.handleEvent(store, ev, worktree, open, em)
	}
}

func (n *codexNormalizer) handleEvent(store *bus.Store, ev codexEvent, worktree string, open map[string]int, em *emitter) {
	switch ev.Type {
	case "thread.started":
		if ev.ThreadID != "" {
			store.Push(bus.SessionID(ev.ThreadID))
		}
		em.add(conv.Entry{Timestamp: now(), Type: conv.EntrySystemMessage, Content: "thread started"})
	case "item.started":
		if ev.Item == nil {
			return
		}
		entry, trackable := codexItemEntry(ev.Item, worktree, false)
		i := em.add(entry)
		if trackable && ev.Item.ID != "" {
			open[ev.Item.ID] = i
		}
	case "item.completed":
		if ev.Item == nil {
			return
		}
		entry, _ := codexItemEntry(ev.Item, worktree, true)
		if i, ok := open[ev.Item.ID]; ok {
			em.replace(i, entry)
			delete(open, ev.Item.ID)
			return
		}
		em.add(entry)
	case "turn.completed":
		// Bookkeeping only; the result entry comes from the items.
	case "turn.failed":
		content := "turn failed"
		if ev.Error != nil && ev.Error.Message != "" {
			content += ": " + ev.Error.Message
		}
		em.add(conv.Entry{Timestamp: now(), Type: conv.EntryErrorMessage, Content: content})
	}
}

// codexItemEntry maps one codex item to a normalized entry. The second
// return reports whether the item type gets a completion update worth
// tracking.
func codexItemEntry(item *codexItem, worktree string, completed bool) (conv.Entry, bool) {
	text := item.Text
	if text == "" {
		text = item.Content
	}
	switch item.Type {
	case "reasoning":
		return conv.Entry{Timestamp: now(), Type: conv.EntryThinking, Content: text}, false
	case "agent_message":
		return conv.Entry{Timestamp: now(), Type: conv.EntryAssistantMessage, Content: text}, false
	case "command_execution":
		content := "`" + item.Command + "`"
		if completed && item.Status != "" {
			content += " (" + item.Status + ")"
		}
		return conv.Entry{
			Timestamp: now(),
			Type:      conv.EntryToolUse,
			Content:   content,
			ToolName:  "shell",
			Action:    &conv.Action{Kind: conv.ActionCommandRun, Command: item.Command},
		}, true
	case "file_change":
		path := relPath(worktree, item.Path)
		return conv.Entry{
			Timestamp: now(),
			Type:      conv.EntryToolUse,
			Content:   "write " + path,
			ToolName:  "apply_patch",
			Action:    &conv.Action{Kind: conv.ActionFileWrite, Path: path},
		}, true
	case "web_search":
		return conv.Entry{
			Timestamp: now(),
			Type:      conv.EntryToolUse,
			Content:   "search " + item.Query,
			ToolName:  "search",
			Action:    &conv.Action{Kind: conv.ActionSearch, Query: item.Query},
		}, false
	case "error":
		return conv.Entry{Timestamp: now(), Type: conv.EntryErrorMessage, Content: text}, false
	default:
		return conv.Entry{Timestamp: now(), Type: conv.EntrySystemMessage, Content: item.Type + ": " + text}, false
	}
}
