// Package action models the work submitted for one task attempt: an
// owned, finite chain of process-spawn steps (setup, agent run,
// cleanup) executed strictly in order, plus the per-dialect command
// line each step translates into.
package action

import "errors"

// ErrFollowUpNotSupported is returned when a dialect has no way to
// resume an earlier agent session. Surfaced as a typed rejection before
// any process is spawned.
var ErrFollowUpNotSupported = errors.New("action: executor does not support follow-up requests")

// Kind discriminates the step union.
type Kind string

const (
	// KindInitialRequest starts a fresh coding-agent session.
	KindInitialRequest Kind = "initial_request"
	// KindFollowUpRequest resumes an existing agent session.
	KindFollowUpRequest Kind = "follow_up_request"
	// KindScriptRequest runs a shell script between or after agent runs.
	KindScriptRequest Kind = "script_request"
)

// Step is one process spawn. Fields beyond Kind are meaningful per
// kind: ExecutorType+Prompt for agent requests, SessionID additionally
// for follow-ups, Script for script requests.
type Step struct {
	Kind         Kind
	ExecutorType string
	Prompt       string
	SessionID    string
	Script       string
	Model        string            // optional model override
	Env          map[string]string // extra env for the spawned process
}

// Action is one link of the chain. The chain is built once at
// submission time and only traversed afterwards, so it is acyclic by
// construction. Each link runs to process exit before the next spawns.
type Action struct {
	Step Step
	Next *Action
}

// Chain links steps into an action list. Returns nil for no steps.
func Chain(steps ...Step) *Action {
	var head, tail *Action
	for _, step := range steps {
		node := &Action{Step: step}
		if head == nil {
			head = node
		} else {
			tail.Next = node
		}
		tail = node
	}
	return head
}

// Len counts the links in the chain.
func (a *Action) Len() int {
	n := 0
	for node := a; node != nil; node = node.Next {
		n++
	}
	return n
}
