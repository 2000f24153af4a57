// Package cli wires the agentrelay commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/avohra/agentrelay/internal/config"
	"github.com/avohra/agentrelay/internal/logger"
)

// Version, Commit and BuildDate are set via LDFLAGS at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	verbose    bool
	configFile string
	settings   *config.Settings
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentrelay",
		Short: "Run and stream autonomous coding agents",
		Long: "agentrelay spawns coding-agent CLI processes, normalizes their output\n" +
			"into a common conversation format, and streams both raw and normalized\n" +
			"views over HTTP with resumable cursors.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Setup(verbose)
			path := configFile
			if path == "" {
				path = config.DefaultPath()
			}
			var err error
			settings, err = config.Load(path)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.agentrelay.yaml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newVersionCmd())

	return root
}
