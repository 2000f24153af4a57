package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avohra/agentrelay/internal/action"
	"github.com/avohra/agentrelay/internal/bus"
	"github.com/avohra/agentrelay/internal/orchestrate"
	"github.com/avohra/agentrelay/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		executor  string
		workdir   string
		model     string
		sessionID string
		followUps []string
		scripts   []string
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Execute a prompt through a coding agent",
		Long: "run spawns the agent process for the prompt, streams its output to the\n" +
			"terminal, and walks any follow-up prompts or scripts in order. Each link\n" +
			"of the chain is recorded as its own execution.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain := buildChain(args[0], executor, model, sessionID, followUps, scripts)

			st, err := store.Open(settings.DBPath(), settings.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			stopProxy, err := startProxy(settings)
			if err != nil {
				return err
			}
			defer stopProxy()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			orch := orchestrate.New(st, settings)
			links := make(chan *bus.Store, chain.Len())
			orch.LinkStarted = func(id string, b *bus.Store) {
				fmt.Fprintf(os.Stderr, "execution %s\n", id)
				links <- b
			}

			if _, err := orch.Start(ctx, chain, workdir); err != nil {
				return err
			}
			go func() {
				orch.Wait()
				close(links)
			}()

			for b := range links {
				printBus(ctx, b)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&executor, "executor", "e", "claude", "executor type (claude, codex, gemini, opencode)")
	cmd.Flags().StringVarP(&workdir, "dir", "C", ".", "working directory for the agent")
	cmd.Flags().StringVar(&model, "model", "", "model override for the executor")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing agent session")
	cmd.Flags().StringArrayVar(&followUps, "follow-up", nil, "follow-up prompt in the same session (repeatable)")
	cmd.Flags().StringArrayVar(&scripts, "then", nil, "shell script to run after the agent finishes (repeatable)")

	return cmd
}

// buildChain assembles the action chain: the initial request, then
// follow-ups in the same session, then scripts.
func buildChain(prompt, executor, model, sessionID string, followUps, scripts []string) *action.Action {
	kind := action.KindInitialRequest
	if sessionID != "" {
		kind = action.KindFollowUpRequest
	}
	steps := []action.Step{{
		Kind:         kind,
		ExecutorType: executor,
		Prompt:       prompt,
		SessionID:    sessionID,
		Model:        model,
	}}
	for _, p := range followUps {
		steps = append(steps, action.Step{
			Kind:         action.KindFollowUpRequest,
			ExecutorType: executor,
			Prompt:       p,
			Model:        model,
		})
	}
	for _, s := range scripts {
		steps = append(steps, action.Step{Kind: action.KindScriptRequest, Script: s})
	}
	return action.Chain(steps...)
}

// printBus copies one execution's raw output to the terminal until it
// finishes.
func printBus(ctx context.Context, b *bus.Store) {
	for msg := range b.HistoryPlusStream(ctx) {
		switch msg.Type {
		case bus.MsgStdout:
			fmt.Fprint(os.Stdout, msg.Text)
		case bus.MsgStderr:
			fmt.Fprint(os.Stderr, msg.Text)
		}
	}
}
