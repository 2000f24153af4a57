package action

import (
	"fmt"

	"github.com/avohra/agentrelay/internal/normalize"
	"github.com/avohra/agentrelay/internal/proc"
)

// BuildSpec translates one step into the process spec for its dialect.
// The command shapes are per-dialect conventions, not invariants: each
// agent CLI decides its own flags, output format, and whether the
// prompt travels on stdin or as an argument.
func BuildSpec(step Step, workdir string) (proc.Spec, error) {
	spec := proc.Spec{Dir: workdir, Env: step.Env}

	switch step.Kind {
	case KindScriptRequest:
		spec.Program = "sh"
		spec.Args = []string{"-c", step.Script}
		return spec, nil
	case KindInitialRequest, KindFollowUpRequest:
		return buildAgentSpec(step, spec)
	default:
		return proc.Spec{}, fmt.Errorf("action: unknown step kind %q", step.Kind)
	}
}

func buildAgentSpec(step Step, spec proc.Spec) (proc.Spec, error) {
	followUp := step.Kind == KindFollowUpRequest

	switch step.ExecutorType {
	case normalize.ExecutorClaude:
		spec.Program = "claude"
		spec.Args = []string{
			"-p",
			"--output-format", "stream-json",
			"--verbose",
			"--dangerously-skip-permissions",
		}
		if step.Model != "" {
			spec.Args = append(spec.Args, "--model", step.Model)
		}
		if followUp {
			if step.SessionID == "" {
				return proc.Spec{}, fmt.Errorf("action: claude follow-up without session id")
			}
			spec.Args = append(spec.Args, "--resume", step.SessionID)
		}
		// Prompt on stdin: -p reads it there, and stdin never shows up
		// in process listings the way an argv prompt does.
		spec.Stdin = []byte(step.Prompt)
		return spec, nil

	case normalize.ExecutorCodex:
		spec.Program = "codex"
		if followUp {
			if step.SessionID == "" {
				return proc.Spec{}, fmt.Errorf("action: codex follow-up without session id")
			}
			spec.Args = []string{"exec", "resume", step.SessionID, "--json"}
		} else {
			spec.Args = []string{"exec", "--json"}
		}
		if step.Model != "" {
			spec.Args = append(spec.Args, "--model", step.Model)
		}
		spec.Args = append(spec.Args, step.Prompt)
		return spec, nil

	case normalize.ExecutorGemini:
		if followUp {
			return proc.Spec{}, fmt.Errorf("gemini: %w", ErrFollowUpNotSupported)
		}
		spec.Program = "gemini"
		spec.Args = []string{
			"--approval-mode=yolo",
			"--output-format", "stream-json",
		}
		if step.Model != "" {
			spec.Args = append(spec.Args, "--model", step.Model)
		}
		spec.Args = append(spec.Args, step.Prompt)
		return spec, nil

	case normalize.ExecutorOpencode:
		if followUp {
			return proc.Spec{}, fmt.Errorf("opencode: %w", ErrFollowUpNotSupported)
		}
		spec.Program = "opencode"
		spec.Args = []string{"run", step.Prompt}
		if step.Model != "" {
			spec.Args = append(spec.Args, "--model", step.Model)
		}
		return spec, nil

	default:
		return proc.Spec{}, fmt.Errorf("action: unknown executor type %q", step.ExecutorType)
	}
}
