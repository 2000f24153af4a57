// Package conv defines the normalized conversation model shared by all
// executor dialects: entries, the JSON Patch operations that describe
// incremental changes to the entry list, and the index provider that
// assigns stable entry positions.
package conv

import (
	"encoding/json"
	"time"
)

// EntryType identifies the kind of a normalized conversation entry.
type EntryType string

const (
	EntryUserMessage      EntryType = "user_message"
	EntryAssistantMessage EntryType = "assistant_message"
	EntryToolUse          EntryType = "tool_use"
	EntrySystemMessage    EntryType = "system_message"
	EntryErrorMessage     EntryType = "error_message"
	EntryThinking         EntryType = "thinking"
)

// ActionKind classifies what a tool invocation did.
type ActionKind string

const (
	ActionFileRead         ActionKind = "file_read"
	ActionFileWrite        ActionKind = "file_write"
	ActionCommandRun       ActionKind = "command_run"
	ActionSearch           ActionKind = "search"
	ActionWebFetch         ActionKind = "web_fetch"
	ActionTaskCreate       ActionKind = "task_create"
	ActionPlanPresentation ActionKind = "plan_presentation"
	ActionOther            ActionKind = "other"
)

// Action describes a tool invocation in dialect-independent terms.
// Exactly one of the payload fields is meaningful for a given Kind.
type Action struct {
	Kind        ActionKind `json:"kind"`
	Path        string     `json:"path,omitempty"`        // file_read, file_write
	Command     string     `json:"command,omitempty"`     // command_run
	Query       string     `json:"query,omitempty"`       // search
	URL         string     `json:"url,omitempty"`         // web_fetch
	Description string     `json:"description,omitempty"` // task_create, other
	Plan        string     `json:"plan,omitempty"`        // plan_presentation
}

// Entry is one normalized unit of agent conversation. Entries are
// append-only and addressed by their zero-based index within one
// execution's log.
type Entry struct {
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Type      EntryType       `json:"type"`
	Content   string          `json:"content"`
	ToolName  string          `json:"tool_name,omitempty"` // set for tool_use entries
	Action    *Action         `json:"action,omitempty"`    // set for tool_use entries
	Metadata  json.RawMessage `json:"metadata,omitempty"`  // opaque dialect payload
}

// Conversation is the fully materialized view a client reconstructs by
// applying every patch in order.
type Conversation struct {
	Entries      []Entry `json:"entries"`
	SessionID    string  `json:"session_id,omitempty"`
	ExecutorType string  `json:"executor_type"`
	Prompt       string  `json:"prompt,omitempty"`
	Summary      string  `json:"summary,omitempty"`
}
