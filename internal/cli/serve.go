package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avohra/agentrelay/internal/orchestrate"
	"github.com/avohra/agentrelay/internal/store"
	"github.com/avohra/agentrelay/internal/streamhttp"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming HTTP server",
		Long: "serve exposes executions over HTTP: raw log and normalized entry\n" +
			"streams with resumable cursors. Executions left running by a previous\n" +
			"daemon are marked failed on startup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = settings.Listen
			}

			stopProxy, err := startProxy(settings)
			if err != nil {
				return err
			}
			defer stopProxy()

			st, err := store.Open(settings.DBPath(), settings.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			orch := orchestrate.New(st, settings)
			if err := orch.RecoverOrphans(); err != nil {
				return err
			}

			srv := streamhttp.New(orch, st, listen)
			addr, err := srv.Start()
			if err != nil {
				return err
			}
			fmt.Printf("listening on %s\n", addr)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			<-ctx.Done()

			orch.Shutdown(cmd.Context())
			return srv.Stop()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	return cmd
}
