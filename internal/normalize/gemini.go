package normalize

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/conv"
)

// geminiEvent is one line of Gemini CLI's stream-json output. The
// dialect is flatter than the others: content is a plain string, there
// is no thinking channel, and tools surface as function call events.
type geminiEvent struct {
	Type    string          `json:"type"` // "init", "message", "tool", "result"
	Role    string          `json:"role,omitempty"`
	Content string          `json:"content,omitempty"`
	Status  string          `json:"status,omitempty"`
	Name    string          `json:"name,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

type geminiNormalizer struct{}

func (n *geminiNormalizer) ExecutorType() string { return ExecutorGemini }

func (n *geminiNormalizer) PollInterval() time.Duration { return time.Second }

func (n *geminiNormalizer) Start(ctx context.Context, store *bus.Store, worktree string) <-chan struct{} {
	em := newEmitter(store)
	return spawnDrains(
		func() { n.drainStdout(ctx, store, em, worktree) },
		func() { drainPlain(ctx, store.StderrLines(ctx), store, em, conv.EntryErrorMessage) },
	)
}

func (n *geminiNormalizer) drainStdout(ctx context.Context, store *bus.Store, em *emitter, worktree string) {
	for line := range store.StdoutLines(ctx) {
		if IsNoise(line) {
			continue
		}
		if id, ok := ExtractSessionID(line); ok {
			store.Push(bus.SessionID(id))
		}
		var ev geminiEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			em.add(conv.Entry{Timestamp: now(), Type: conv.EntryAssistantMessage, Content: StripANSI(line)})
			continue
		}
		n.handleEvent(em, ev, worktree)
	}
}

func (n *geminiNormalizer) handleEvent(em *emitter, ev geminiEvent, worktree string) {
	switch ev.Type {
	case "init":
		em.add(conv.Entry{Timestamp: now(), Type: conv.EntrySystemMessage, Content: "session started"})
	case "message":
		typ := conv.EntryAssistantMessage
		if ev.Role == "user" {
			typ = conv.EntryUserMessage
		}
		if ev.Content != "" {
			em.add(conv.Entry{Timestamp: now(), Type: typ, Content: ev.Content})
		}
	case "tool":
		em.add(toolEntry(ev.Name, ev.Args, worktree))
	case "result":
		if ev.Status == "error" {
			em.add(conv.Entry{Timestamp: now(), Type: conv.EntryErrorMessage, Content: "result: error"})
			return
		}
		em.add(conv.Entry{Timestamp: now(), Type: conv.EntrySystemMessage, Content: "result: " + ev.Status})
	}
}
