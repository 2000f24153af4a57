package normalize

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/avohra/agentrelay/internal/conv"
)

// CanonicalToolName collapses dialect spellings of the same tool into
// one canonical name, so downstream consumers match on a single string.
func CanonicalToolName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch lower {
	case "todowrite", "todo_write", "update_todos", "todoread", "todo_read":
		return "todo"
	case "multiedit", "multi_edit":
		return "edit"
	case "websearch", "web_search":
		return "search"
	case "webfetch", "web_fetch", "fetch":
		return "fetch"
	default:
		return lower
	}
}

// toolInput is the loose argument bag a dialect passes to a tool.
type toolInput struct {
	FilePath    string          `json:"file_path"`
	Path        string          `json:"path"`
	Command     string          `json:"command"`
	Pattern     string          `json:"pattern"`
	Query       string          `json:"query"`
	URL         string          `json:"url"`
	Plan        string          `json:"plan"`
	Description string          `json:"description"`
	Todos       []todoItem      `json:"todos"`
	Raw         json.RawMessage `json:"-"`
}

type todoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// deriveAction computes the dialect-independent action for a tool
// invocation from its canonical name and input arguments. File paths
// are rewritten relative to the execution's worktree.
func deriveAction(canonical string, input toolInput, worktree string) *conv.Action {
	path := input.FilePath
	if path == "" {
		path = input.Path
	}
	path = relPath(worktree, path)

	switch canonical {
	case "read", "view", "cat", "notebookread":
		return &conv.Action{Kind: conv.ActionFileRead, Path: path}
	case "write", "edit", "create", "notebookedit":
		return &conv.Action{Kind: conv.ActionFileWrite, Path: path}
	case "bash", "shell", "run", "run_command":
		return &conv.Action{Kind: conv.ActionCommandRun, Command: input.Command}
	case "grep", "glob", "search", "ls", "find":
		query := input.Pattern
		if query == "" {
			query = input.Query
		}
		return &conv.Action{Kind: conv.ActionSearch, Query: query}
	case "fetch":
		return &conv.Action{Kind: conv.ActionWebFetch, URL: input.URL}
	case "todo", "task", "task_create":
		return &conv.Action{Kind: conv.ActionTaskCreate, Description: todoSummary(input.Todos, input.Description)}
	case "exitplanmode", "exit_plan_mode", "plan":
		return &conv.Action{Kind: conv.ActionPlanPresentation, Plan: input.Plan}
	default:
		return &conv.Action{Kind: conv.ActionOther, Description: canonical}
	}
}

// toolContent renders a short human-readable summary of a tool
// invocation instead of the raw argument dump.
func toolContent(canonical string, action *conv.Action, input toolInput) string {
	switch action.Kind {
	case conv.ActionFileRead:
		return fmt.Sprintf("read %s", action.Path)
	case conv.ActionFileWrite:
		return fmt.Sprintf("write %s", action.Path)
	case conv.ActionCommandRun:
		return "`" + action.Command + "`"
	case conv.ActionSearch:
		return fmt.Sprintf("search %q", action.Query)
	case conv.ActionWebFetch:
		return fmt.Sprintf("fetch %s", action.URL)
	case conv.ActionTaskCreate:
		if len(input.Todos) > 0 {
			return renderTodos(input.Todos)
		}
		return action.Description
	case conv.ActionPlanPresentation:
		return action.Plan
	default:
		return canonical
	}
}

// todoStatusGlyph maps a todo status to its checklist marker.
func todoStatusGlyph(status string) string {
	switch status {
	case "completed", "done":
		return "●"
	case "in_progress":
		return "◐"
	default:
		return "○"
	}
}

// renderTodos draws the checklist the way a terminal UI would, one
// glyph-prefixed line per item.
func renderTodos(todos []todoItem) string {
	var b strings.Builder
	for i, item := range todos {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(todoStatusGlyph(item.Status))
		b.WriteByte(' ')
		b.WriteString(item.Content)
	}
	return b.String()
}

func todoSummary(todos []todoItem, fallback string) string {
	if len(todos) == 0 {
		return fallback
	}
	done := 0
	for _, item := range todos {
		if item.Status == "completed" || item.Status == "done" {
			done++
		}
	}
	return fmt.Sprintf("%d tasks (%d done)", len(todos), done)
}

// relPath rewrites an absolute path inside worktree as a relative one.
// Paths outside the worktree, relative paths, and empty paths pass
// through unchanged.
func relPath(worktree, path string) string {
	if worktree == "" || path == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(worktree, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
