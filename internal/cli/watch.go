package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/avohra/agentrelay/internal/tui"
)

func newWatchCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "watch <execution-id>",
		Short: "Follow an execution's conversation in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := tui.NewWatchModel(serverBaseURL(addr), args[0])
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (default from config)")
	return cmd
}

func serverBaseURL(addr string) string {
	if addr == "" {
		addr = settings.Listen
	}
	return fmt.Sprintf("http://%s", addr)
}
