package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/research"
)

// Research command flags.
var (
	researchAgent  string
	researchSaleID int64
	researchNotes  string
	researchReason string
	researchStatus string
	researchCounty string
	researchLimit  int
)

// NewResearchCommand creates the 'research' command group.
func NewResearchCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "research",
		Short: "Manage the research queue for unresolved properties",
		Long: `Manage the research queue.

Unlinked properties with unknown status are grouped by county, sale date
hint and sale type hint. Each group gets one research entry that an agent
claims, researches and resolves to a sale. Resolving links every unlinked
property in the group.

Workflow:
  salelink research queue              Queue unresolved groups
  salelink research work               Show pending work by priority
  salelink research assign 7 --agent monitor
  salelink research resolve 7 --sale 12 --notes "county site"
  salelink research fail 7 --reason "no listing published"`,
	}
	cmd.AddCommand(newResearchQueueCommand(deps))
	cmd.AddCommand(newResearchWorkCommand(deps))
	cmd.AddCommand(newResearchListCommand(deps))
	cmd.AddCommand(newResearchShowCommand(deps))
	cmd.AddCommand(newResearchAssignCommand(deps))
	cmd.AddCommand(newResearchResolveCommand(deps))
	cmd.AddCommand(newResearchFailCommand(deps))
	return cmd
}

func newResearchQueueCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Queue every unresolved property group",
		Long: `Find unlinked properties with unknown status, group them and create a
pending research entry for each group that has no active entry yet.
Running it again does not duplicate entries.

Examples:
  salelink research queue`,
		Example: `  salelink research queue --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				summary, err := track(ctx, e, deps, "research queue", nil, func() (*research.QueueSummary, error) {
					return e.Research.QueueUnlinked(ctx)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, summary, func(w io.Writer) error {
					_, err := printer.Fprintf(w, "%d groups found: %d queued, %d already queued\n",
						summary.GroupsFound, summary.Queued, summary.AlreadyQueued)
					return err
				})
			})
		},
	}
}

func newResearchWorkCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Show pending entries by priority",
		Long: `Show pending research entries, largest groups first, with a priority
tier and a task description.

Examples:
  salelink research work
  salelink research work --limit 5 --output json`,
		Example: `  salelink research work --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				items, err := e.Research.WorkQueue(ctx, researchLimit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, items, func(w io.Writer) error {
					return writeWorkItems(w, items)
				})
			})
		},
	}
	cmd.Flags().IntVar(&researchLimit, "limit", 0, "Maximum entries (default from config)")
	return cmd
}

func newResearchListCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List research entries",
		Long: `List research entries, optionally filtered by status and county.

Examples:
  salelink research list --status researching
  salelink research list --county "Wayne, PA"`,
		Example: `  salelink research list --status pending`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := auction.QueueFilter{County: researchCounty, Limit: researchLimit}
			if researchStatus != "" {
				st, err := auction.ParseQueueStatus(researchStatus)
				if err != nil {
					return err
				}
				f.Status = &st
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				entries, err := e.Research.Entries(ctx, f)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, entries, func(w io.Writer) error {
					return writeEntries(w, entries)
				})
			})
		},
	}
	cmd.Flags().StringVar(&researchStatus, "status", "", "Filter by status: pending, researching, resolved, failed")
	cmd.Flags().StringVar(&researchCounty, "county", "", "Filter by county")
	cmd.Flags().IntVar(&researchLimit, "limit", 0, "Maximum entries")
	return cmd
}

func newResearchShowCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show a research entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				entry, err := e.Research.Entry(ctx, id)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, entry, func(w io.Writer) error {
					return writeEntry(w, entry)
				})
			})
		},
	}
}

func newResearchAssignCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <entry-id>",
		Short: "Claim a pending entry for an agent",
		Long: `Claim a pending entry. Only one agent can claim an entry; a losing claim
reports who holds it and changes nothing.

Examples:
  salelink research assign 7 --agent auction-monitor`,
		Example: `  salelink research assign 7 --agent auction-monitor`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				res, err := track(ctx, e, deps, "research assign", append(args, "--agent", researchAgent), func() (*research.AssignResult, error) {
					return e.Research.Assign(ctx, id, researchAgent)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, res, func(w io.Writer) error {
					if !res.Assigned {
						_, err := fmt.Fprintf(w, "Not assigned: %s\n", res.Notice)
						return err
					}
					_, err := fmt.Fprintf(w, "Entry %d assigned to %s\n", id, researchAgent)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&researchAgent, "agent", "", "Agent claiming the entry (required)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newResearchResolveCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <entry-id>",
		Short: "Resolve an entry to a sale",
		Long: `Resolve an active entry to a sale. Every unlinked property in the entry's
group is linked to the sale and recomputed in the same transaction.
Resolving an entry that is already resolved or failed changes nothing.

Examples:
  salelink research resolve 7 --sale 12 --notes "found on county site"`,
		Example: `  salelink research resolve 7 --sale 12`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			if researchSaleID <= 0 {
				return fmt.Errorf("--sale is required: %w", slerrors.ErrValidation)
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				trackArgs := append(args, "--sale", strconv.FormatInt(researchSaleID, 10))
				res, err := track(ctx, e, deps, "research resolve", trackArgs, func() (*research.ResolveResult, error) {
					return e.Research.Resolve(ctx, id, researchSaleID, researchNotes)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, res, func(w io.Writer) error {
					if !res.Resolved {
						_, err := fmt.Fprintf(w, "Not resolved: %s\n", res.Notice)
						return err
					}
					if _, err := printer.Fprintf(w, "Entry %d resolved to sale %d; linked %d properties\n", id, researchSaleID, res.LinkedCount); err != nil {
						return err
					}
					if len(res.Absorbed) > 0 {
						_, err := fmt.Fprintf(w, "Also resolved entries with no properties left: %s\n", joinIDs(res.Absorbed))
						return err
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().Int64Var(&researchSaleID, "sale", 0, "Sale id the group belongs to (required)")
	cmd.Flags().StringVar(&researchNotes, "notes", "", "Resolution notes")
	return cmd
}

func newResearchFailCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fail <entry-id>",
		Short: "Mark an entry as failed",
		Long: `Mark an active entry as failed. The group can be queued again later.

Examples:
  salelink research fail 7 --reason "no listing published"`,
		Example: `  salelink research fail 7 --reason "no listing published"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				res, err := track(ctx, e, deps, "research fail", args, func() (*research.FailResult, error) {
					return e.Research.Fail(ctx, id, researchReason)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, res, func(w io.Writer) error {
					if !res.Failed {
						_, err := fmt.Fprintf(w, "Unchanged: %s\n", res.Notice)
						return err
					}
					_, err := fmt.Fprintf(w, "Entry %d marked failed\n", id)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&researchReason, "reason", "", "Why research failed")
	return cmd
}

func writeWorkItems(w io.Writer, items []research.WorkItem) error {
	if len(items) == 0 {
		fmt.Fprintln(w, "No pending research.")
		return nil
	}
	fmt.Fprintf(w, "%-6s %-8s %s\n", "ID", "PRIORITY", "TASK")
	for _, it := range items {
		fmt.Fprintf(w, "%-6d %-8s %s\n", it.Entry.ID, it.Priority, it.Description)
	}
	return nil
}

func writeEntries(w io.Writer, entries []auction.QueueEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No research entries.")
		return nil
	}
	fmt.Fprintf(w, "%-6s %-12s %-20s %-12s %-14s %10s  %s\n", "ID", "STATUS", "COUNTY", "DATE HINT", "TYPE HINT", "PROPERTIES", "AGENT")
	for _, e := range entries {
		typ := "-"
		if e.Key.SaleType != nil {
			typ = e.Key.SaleType.Label()
		}
		printer.Fprintf(w, "%-6d %-12s %-20s %-12s %-14s %10d  %s\n",
			e.ID, e.Status, truncate(e.Key.County, 20), formatDate(e.Key.SaleDate), typ, e.PropertyCount, valueOrDash(e.AssignedAgent))
	}
	return nil
}

func writeEntry(w io.Writer, e *auction.QueueEntry) error {
	fmt.Fprintf(w, "Research entry %d\n", e.ID)
	fmt.Fprintf(w, "  Task:        %s\n", auction.Describe(*e))
	fmt.Fprintf(w, "  Status:      %s\n", e.Status)
	fmt.Fprintf(w, "  Agent:       %s\n", valueOrDash(e.AssignedAgent))
	fmt.Fprintf(w, "  Sale:        %s\n", formatID(e.ResolvedSaleID))
	fmt.Fprintf(w, "  Notes:       %s\n", valueOrDash(e.ResolutionNotes))
	fmt.Fprintf(w, "  Created:     %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
