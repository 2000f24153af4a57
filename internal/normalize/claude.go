package normalize

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/conv"
)

// claudeEvent is one line of Claude Code's stream-json output.
type claudeEvent struct {
	Type      string         `json:"type"` // "system", "user", "assistant", "result"
	Subtype   string         `json:"subtype,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Model     string         `json:"model,omitempty"`
	Message   *claudeMessage `json:"message,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Result    string         `json:"result,omitempty"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

// claudeBlock is one content block inside a user or assistant turn.
type claudeBlock struct {
	Type     string          `json:"type"` // "text", "thinking", "tool_use", "tool_result"
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// claudeNormalizer parses the Claude Code stream-json dialect.
type claudeNormalizer struct{}

func (n *claudeNormalizer) ExecutorType() string { return ExecutorClaude }

func (n *claudeNormalizer) PollInterval() time.Duration { return time.Second }

func (n *claudeNormalizer) Start(ctx context.Context, store *bus.Store, worktree string) <-chan struct{} {
	em := newEmitter(store)
	return spawnDrains(
		func() { n.drainStdout(ctx, store, em, worktree) },
		func() { drainPlain(ctx, store.StderrLines(ctx), store, em, conv.EntryErrorMessage) },
	)
}

func (n *claudeNormalizer) drainStdout(ctx context.Context, store *bus.Store, em *emitter, worktree string) {
	for line := range store.StdoutLines(ctx) {
		if IsNoise(line) {
			continue
		}
		var ev claudeEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			// One malformed line must not drop the rest of the
			// session: surface it verbatim instead.
			em.add(conv.Entry{Timestamp: now(), Type: conv.EntryAssistantMessage, Content: StripANSI(line)})
			continue
		}
		n.handleEvent(store, em, ev, worktree)
	}
}

func (n *claudeNormalizer) handleEvent(store *bus.Store, em *emitter, ev claudeEvent, worktree string) {
	switch ev.Type {
	case "system":
		if ev.SessionID != "" {
			store.Push(bus.SessionID(ev.SessionID))
		}
		content := "session started"
		if ev.Model != "" {
			content += " (" + ev.Model + ")"
		}
		if ev.Subtype == "init" || ev.Subtype == "" {
			em.add(conv.Entry{Timestamp: now(), Type: conv.EntrySystemMessage, Content: content})
		}
	case "user":
		if text := blockText(ev.Message); text != "" {
			em.add(conv.Entry{Timestamp: now(), Type: conv.EntryUserMessage, Content: text})
		}
	case "assistant":
		n.handleAssistant(em, ev, worktree)
	case "result":
		typ := conv.EntrySystemMessage
		content := "result: success"
		if ev.IsError || ev.Subtype == "error" {
			typ = conv.EntryErrorMessage
			content = "result: error"
			if ev.Result != "" {
				content += ": " + ev.Result
			}
		}
		em.add(conv.Entry{Timestamp: now(), Type: typ, Content: content})
	}
}

func (n *claudeNormalizer) handleAssistant(em *emitter, ev claudeEvent, worktree string) {
	if ev.Message == nil {
		return
	}
	for _, block := range ev.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				em.add(conv.Entry{Timestamp: now(), Type: conv.EntryAssistantMessage, Content: block.Text})
			}
		case "thinking":
			if block.Thinking != "" {
				em.add(conv.Entry{Timestamp: now(), Type: conv.EntryThinking, Content: block.Thinking})
			}
		case "tool_use":
			em.add(toolEntry(block.Name, block.Input, worktree))
		}
	}
}

// toolEntry builds a tool_use entry from a dialect tool name and raw
// input arguments.
func toolEntry(name string, rawInput json.RawMessage, worktree string) conv.Entry {
	canonical := CanonicalToolName(name)
	var input toolInput
	_ = json.Unmarshal(rawInput, &input)
	action := deriveAction(canonical, input, worktree)
	return conv.Entry{
		Timestamp: now(),
		Type:      conv.EntryToolUse,
		Content:   toolContent(canonical, action, input),
		ToolName:  canonical,
		Action:    action,
	}
}

// blockText concatenates the text blocks of a message, skipping tool
// results and other non-text payloads.
func blockText(msg *claudeMessage) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
