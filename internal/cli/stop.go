package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "stop <execution-id>",
		Short: "Stop a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/executions/%s/stop", serverBaseURL(addr), args[0])
			resp, err := http.Post(url, "application/json", nil)
			if err != nil {
				return fmt.Errorf("contact server: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				var body struct {
					Error string `json:"error"`
				}
				_ = json.NewDecoder(resp.Body).Decode(&body)
				if body.Error == "" {
					body.Error = resp.Status
				}
				return fmt.Errorf("stop %s: %s", args[0], body.Error)
			}
			fmt.Printf("stopping %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (default from config)")
	return cmd
}
