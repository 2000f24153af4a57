package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/avohra/agentrelay/internal/store"
)

func newListCmd() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(settings.DBPath(), settings.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.ListExecutions(limit)
			if err != nil {
				return err
			}
			if format == "" {
				format = "table"
				if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
					format = "plain"
				}
			}
			return writeExecutions(os.Stdout, list, format)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of executions to show")
	cmd.Flags().StringVar(&format, "format", "", "output format: table or plain (default by terminal)")
	return cmd
}

func writeExecutions(w io.Writer, list []*store.Execution, format string) error {
	switch format {
	case "table":
		return writeExecutionsTable(w, list)
	case "plain":
		return writeExecutionsPlain(w, list)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeExecutionsPlain(w io.Writer, list []*store.Execution) error {
	if _, err := fmt.Fprintln(w, "id\texecutor\tstatus\tstarted\tduration\tprompt"); err != nil {
		return err
	}
	for _, e := range list {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
			e.ID, e.ExecutorType, e.Status,
			e.StartedAt.Format(time.RFC3339),
			formatDuration(e),
			escapeNewlines(truncate(e.Prompt, 120)),
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeExecutionsTable(w io.Writer, list []*store.Execution) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 6, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 60},
	})
	tw.AppendHeader(table.Row{"ID", "Executor", "Status", "Started", "Duration", "Prompt"})

	for _, e := range list {
		tw.AppendRow(table.Row{
			e.ID,
			e.ExecutorType,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04:05"),
			formatDuration(e),
			escapeNewlines(truncate(e.Prompt, 60)),
		})
	}
	if len(list) == 0 {
		tw.AppendRow(table.Row{"(no executions)", "-", "-", "-", "-", "-"})
	}

	_ = tw.Render()
	return nil
}

func formatDuration(e *store.Execution) string {
	if e.FinishedAt == nil {
		return "-"
	}
	return e.FinishedAt.Sub(e.StartedAt).Round(time.Second).String()
}

func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
