package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/config"
	"github.com/otherjamesbrown/salelink/pkg/reconcile"
)

// Reconcile command flags.
var (
	reconcileCounty   string
	reconcileLimit    int
	reconcileAfter    int64
	reconcilePageSize int
	reconcileQuiet    bool
)

// NewReconcileCommand creates the 'reconcile' command group.
func NewReconcileCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run bulk linkage and status audits",
		Long: `Run bulk jobs over the property table.

  bulk       Link every unlinked property to its matching sale
  statuses   Recompute stored statuses that drifted from the calculator

Both jobs page through properties in id order and print a cursor that
resumes an interrupted run with --after. They ignore --timeout; stop them
with Ctrl-C and resume from the cursor.`,
	}

	cmd.PersistentFlags().StringVar(&reconcileCounty, "county", "", "Limit the run to one county (e.g. \"Blair, PA\")")
	cmd.PersistentFlags().Int64Var(&reconcileAfter, "after", 0, "Resume after this property id")
	cmd.PersistentFlags().IntVar(&reconcilePageSize, "page-size", 0, "Properties fetched per page (default from config)")

	cmd.AddCommand(newReconcileBulkCommand(deps))
	cmd.AddCommand(newReconcileStatusesCommand(deps))
	return cmd
}

func newReconcileBulkCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Link all unlinked properties",
		Long: `Attempt to link every unlinked property, optionally scoped to a county.

The run is idempotent: properties linked by an earlier run are counted as
already linked and never re-linked. Individual failures are collected in
the summary without stopping the run. Use --limit to process a bounded
batch and --after with the printed cursor to continue.

Examples:
  salelink reconcile bulk
  salelink reconcile bulk --county "Blair, PA"
  salelink reconcile bulk --limit 1000
  salelink reconcile bulk --after 52011 --output json`,
		Example: `  salelink reconcile bulk --county "Blair, PA"
  salelink reconcile bulk --limit 1000 --after 52011`,
		Annotations: map[string]string{annotationTimeout: "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				opts := reconcile.Options{
					County:   reconcileCounty,
					Limit:    reconcileLimit,
					AfterID:  reconcileAfter,
					PageSize: reconcilePageSize,
				}
				if !reconcileQuiet && e.Config.OutputFormat == config.OutputFormatText {
					errOut := cmd.ErrOrStderr()
					opts.OnProgress = func(s reconcile.ProgressSnapshot) {
						printer.Fprintf(errOut, "  %d processed, %d linked, %d unlinked, %d failed (%.0f/s)\n",
							s.Processed, s.Linked, s.Unlinked, s.Failed, s.Rate())
					}
				}
				summary, err := track(ctx, e, deps, "reconcile bulk", reconcileArgs(), func() (*reconcile.Summary, error) {
					return e.Reconciler.BulkLink(ctx, opts)
				})
				if summary != nil {
					if rerr := render(cmd.OutOrStdout(), e.Config.OutputFormat, summary, func(w io.Writer) error {
						return writeBulkSummary(w, summary)
					}); rerr != nil && err == nil {
						err = rerr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&reconcileLimit, "limit", 0, "Maximum unlinked properties to process (0 = all)")
	cmd.Flags().BoolVarP(&reconcileQuiet, "quiet", "q", false, "Suppress progress lines")
	return cmd
}

func newReconcileStatusesCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "statuses",
		Short: "Recompute drifted property statuses",
		Long: `Recompute auction_status for every property and correct any value that
no longer matches the status rules at the current time.

Stored statuses only change when a property or its sale is written, so a
judicial sale whose date has passed keeps its properties "active" until
this audit runs. Schedule it daily.

Examples:
  salelink reconcile statuses
  salelink reconcile statuses --county "Wayne, PA" --output json`,
		Example: `  salelink reconcile statuses
  salelink reconcile statuses --county "Wayne, PA"`,
		Annotations: map[string]string{annotationTimeout: "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				summary, err := track(ctx, e, deps, "reconcile statuses", reconcileArgs(), func() (*reconcile.AuditSummary, error) {
					return e.Reconciler.RecomputeStatuses(ctx, reconcile.AuditOptions{
						County:   reconcileCounty,
						AfterID:  reconcileAfter,
						PageSize: reconcilePageSize,
					})
				})
				if summary != nil {
					if rerr := render(cmd.OutOrStdout(), e.Config.OutputFormat, summary, func(w io.Writer) error {
						return writeAuditSummary(w, summary)
					}); rerr != nil && err == nil {
						err = rerr
					}
				}
				return err
			})
		},
	}
}

func reconcileArgs() []string {
	var args []string
	if reconcileCounty != "" {
		args = append(args, "--county", reconcileCounty)
	}
	if reconcileLimit > 0 {
		args = append(args, "--limit", strconv.Itoa(reconcileLimit))
	}
	if reconcileAfter > 0 {
		args = append(args, "--after", strconv.FormatInt(reconcileAfter, 10))
	}
	return args
}

func writeBulkSummary(w io.Writer, s *reconcile.Summary) error {
	scope := "all counties"
	if s.County != "" {
		scope = s.County
	}
	fmt.Fprintf(w, "Bulk link %s (%s)\n", s.RunID, scope)
	printer.Fprintf(w, "  Processed:       %d\n", s.TotalProcessed)
	printer.Fprintf(w, "  Linked:          %d\n", s.Linked)
	printer.Fprintf(w, "  Unlinked:        %d\n", s.Unlinked)
	printer.Fprintf(w, "  Already linked:  %d\n", s.AlreadyLinked)
	printer.Fprintf(w, "  Failed:          %d\n", s.Failed)
	fmt.Fprintf(w, "  Duration:        %.1fs\n", s.DurationSeconds)
	for _, ie := range s.Errors {
		fmt.Fprintf(w, "    property %d: %s\n", ie.PropertyID, truncate(ie.Error, 100))
	}
	if s.ErrorsTruncated > 0 {
		fmt.Fprintf(w, "    ... %d more errors\n", s.ErrorsTruncated)
	}
	if !s.Complete {
		fmt.Fprintf(w, "Run incomplete; resume with --after %d\n", s.NextCursor)
	}
	return nil
}

func writeAuditSummary(w io.Writer, s *reconcile.AuditSummary) error {
	fmt.Fprintf(w, "Status audit %s\n", s.RunID)
	printer.Fprintf(w, "  Scanned:    %d\n", s.Scanned)
	printer.Fprintf(w, "  Corrected:  %d\n", s.Corrected)
	for i, c := range s.Changes {
		if i == 20 {
			printer.Fprintf(w, "    ... %d more\n", s.Corrected-i)
			break
		}
		fmt.Fprintf(w, "    property %d: %s -> %s\n", c.PropertyID, c.From, c.To)
	}
	if !s.Complete {
		fmt.Fprintf(w, "Audit incomplete; resume with --after %d\n", s.NextCursor)
	}
	return nil
}
