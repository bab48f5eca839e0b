package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/otherjamesbrown/salelink/pkg/linker"
)

// printer formats counts with thousands separators.
var printer = message.NewPrinter(language.English)

// NewLinkCommand creates the 'link' command.
func NewLinkCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "link <property-id>...",
		Short: "Link properties to their matching sale",
		Long: `Link one or more properties to the canonical sale event matching their
extracted sale type and date hints.

A property is matched only against sales in its own county. When the
property has no hints, or no sale matches, it stays unlinked with status
"unknown" and becomes eligible for the research queue. Linking an already
linked property is a no-op.

Examples:
  salelink link 1042
  salelink link 1042 1043 1044 --output json`,
		Example: `  salelink link 1042
  salelink link 1042 1043 --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a, "property")
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				results, err := track(ctx, e, deps, "link", args, func() ([]*linker.Result, error) {
					out := make([]*linker.Result, 0, len(ids))
					cache := linker.NewSaleCache(e.Repo)
					for _, id := range ids {
						prop, err := e.Repo.GetProperty(ctx, id)
						if err != nil {
							return out, err
						}
						res, err := e.Linker.LinkLoaded(ctx, *prop, cache)
						if err != nil {
							return out, err
						}
						out = append(out, res)
					}
					return out, nil
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, results, func(w io.Writer) error {
					return writeLinkResults(w, results)
				})
			})
		},
	}
}

func writeLinkResults(w io.Writer, results []*linker.Result) error {
	fmt.Fprintf(w, "%-10s %-15s %-8s %-10s %s\n", "PROPERTY", "OUTCOME", "SALE", "STATUS", "REASON")
	for _, r := range results {
		outcome := string(r.Outcome)
		if r.RaceLost {
			outcome += "*"
		}
		fmt.Fprintf(w, "%-10d %-15s %-8s %-10s %s\n", r.PropertyID, outcome, formatID(r.SaleID), r.Status, r.Reason)
	}
	return nil
}
