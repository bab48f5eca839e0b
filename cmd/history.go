package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/pkg/audit"
)

var (
	historyOperation string
	historyLimit     int
)

// NewHistoryCommand creates the 'history' command.
func NewHistoryCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently recorded operations",
		Long: `Show operations recorded in the audit log, newest first.

Every state-changing command (link, sale changes, overrides, reconcile and
research actions) is recorded with its actor, arguments, outcome and
duration when audit.enabled is set.

Examples:
  salelink history
  salelink history --operation "cli reconcile bulk" --limit 5`,
		Example: `  salelink history --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				if !e.Config.Audit.Enabled {
					fmt.Fprintln(cmd.ErrOrStderr(), "Audit log is disabled; set audit.enabled in config.yaml.")
				}
				entries, err := e.Audit.History(ctx, historyOperation, historyLimit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, entries, func(w io.Writer) error {
					return writeHistory(w, entries)
				})
			})
		},
	}
	cmd.Flags().StringVar(&historyOperation, "operation", "", "Only show this operation")
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum entries")
	return cmd
}

func writeHistory(w io.Writer, entries []audit.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No recorded operations.")
		return nil
	}
	fmt.Fprintf(w, "%-19s  %-26s %-12s %-8s %9s  %s\n", "TIME", "OPERATION", "ACTOR", "RESULT", "DURATION", "ERROR")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = "failed"
		}
		fmt.Fprintf(w, "%-19s  %-26s %-12s %-8s %9s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(e.Operation, 26),
			truncate(valueOrDash(e.Actor), 12),
			result,
			e.Duration.Round(time.Millisecond),
			truncate(e.Error, 60))
	}
	return nil
}
