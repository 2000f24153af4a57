package streamhttp

import (
	"time"

	"github.com/avohra/agentrelay/internal/store"
)

type executionPayload struct {
	ID           string     `json:"id"`
	ExecutorType string     `json:"executor_type"`
	Prompt       string     `json:"prompt,omitempty"`
	WorkDir      string     `json:"work_dir,omitempty"`
	Status       string     `json:"status"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func executionJSON(e *store.Execution) executionPayload {
	return executionPayload{
		ID:           e.ID,
		ExecutorType: e.ExecutorType,
		Prompt:       e.Prompt,
		WorkDir:      e.WorkDir,
		Status:       e.Status,
		ExitCode:     e.ExitCode,
		SessionID:    e.SessionID,
		StartedAt:    e.StartedAt,
		FinishedAt:   e.FinishedAt,
	}
}

func executionsJSON(list []*store.Execution) []executionPayload {
	out := make([]executionPayload, 0, len(list))
	for _, e := range list {
		out = append(out, executionJSON(e))
	}
	return out
}
