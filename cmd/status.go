package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/catalog"
)

var statusCounty string

// NewStatusCommand creates the 'status' command group.
func NewStatusCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect and override property auction status",
		Long: `Inspect property auction status and set manual overrides.

A property's auction_status is derived, in order, from:
  1. a manual override (sold or withdrawn)
  2. its linked sale: cancelled -> withdrawn, repository / sealed bid /
     private sale -> active, past sale date -> expired, otherwise active
  3. no linked sale -> unknown`,
	}
	cmd.AddCommand(newStatusShowCommand(deps))
	cmd.AddCommand(newStatusBreakdownCommand(deps))
	cmd.AddCommand(newStatusOverrideCommand(deps))
	return cmd
}

func newStatusShowCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <property-id>",
		Short: "Show a property's status and linked sale",
		Long: `Show a property's auction status, hints, override and linked sale.

Examples:
  salelink status show 1042
  salelink status show 1042 --output json`,
		Example: `  salelink status show 1042`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "property")
			if err != nil {
				return err
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				view, err := e.Catalog.Property(ctx, id)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, view, func(w io.Writer) error {
					return writePropertyView(w, view)
				})
			})
		},
	}
}

func newStatusBreakdownCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Show status counts per county",
		Long: `Show how many properties are in each auction status, per county, with
percentages rounded to one decimal place.

Examples:
  salelink status breakdown
  salelink status breakdown --county "Blair, PA"`,
		Example: `  salelink status breakdown --county "Blair, PA"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				breakdown, err := e.Catalog.Breakdown(ctx, statusCounty)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, breakdown, func(w io.Writer) error {
					return writeBreakdown(w, breakdown)
				})
			})
		},
	}
	cmd.Flags().StringVar(&statusCounty, "county", "", "Limit to one county")
	return cmd
}

func newStatusOverrideCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "override <property-id> <sold|withdrawn|none>",
		Short: "Set or clear a manual status override",
		Long: `Set a manual override that takes precedence over the linked sale, or
clear it with "none". The property's status is recomputed immediately.

Examples:
  salelink status override 1042 sold
  salelink status override 1042 none`,
		Example: `  salelink status override 1042 sold
  salelink status override 1042 none`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "property")
			if err != nil {
				return err
			}
			override, err := auction.ParseOverride(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				prop, err := track(ctx, e, deps, "status override", args, func() (*auction.Property, error) {
					return e.Catalog.SetOverride(ctx, id, override)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, prop, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Property %d is now %s\n", prop.ID, prop.Status)
					return err
				})
			})
		},
	}
}

func writePropertyView(w io.Writer, v *catalog.PropertyView) error {
	p := v.Property
	fmt.Fprintf(w, "Property %d\n", p.ID)
	fmt.Fprintf(w, "  County:          %s\n", valueOrDash(p.County))
	fmt.Fprintf(w, "  Parcel:          %s\n", valueOrDash(p.ParcelID))
	hint := "-"
	if p.SaleTypeHint != nil {
		hint = p.SaleTypeHint.Label()
	}
	fmt.Fprintf(w, "  Type hint:       %s\n", hint)
	fmt.Fprintf(w, "  Date hint:       %s\n", formatDate(p.SaleDateHint))
	override := "-"
	if p.Override != nil {
		override = string(*p.Override)
	}
	fmt.Fprintf(w, "  Override:        %s\n", override)
	fmt.Fprintf(w, "  Auction status:  %s\n", p.Status)
	if v.Sale == nil {
		fmt.Fprintln(w, "  Linked sale:     -")
		return nil
	}
	s := v.Sale
	fmt.Fprintf(w, "  Linked sale:     %d (%s, %s, %s)\n", s.ID, s.Type.Label(), formatDate(s.Date), s.Status)
	return nil
}

func writeBreakdown(w io.Writer, breakdown []catalog.CountyBreakdown) error {
	if len(breakdown) == 0 {
		fmt.Fprintln(w, "No properties found.")
		return nil
	}
	for _, b := range breakdown {
		printer.Fprintf(w, "%s (%d properties)\n", b.County, b.Total)
		for _, s := range b.Statuses {
			printer.Fprintf(w, "  %-10s %10d  %6s%%\n", s.Status, s.Count, s.Percent.StringFixed(1))
		}
	}
	return nil
}
