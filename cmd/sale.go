package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/catalog"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

// Sale command flags.
var (
	saleCounty    string
	saleType      string
	saleDate      string
	saleStatus    string
	saleClearDate bool
)

// NewSaleCommand creates the 'sale' command group.
func NewSaleCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Manage canonical sale events",
		Long: `Manage the canonical sale events properties are linked to.

Changing a sale's status, type or date recomputes the status of every
linked property in the same transaction. Deleting a sale unlinks its
properties, which fall back to "unknown".

Sale types: upset, judicial, repository, sealed_bid, private_sale
Sale statuses: scheduled, cancelled, completed`,
	}
	cmd.AddCommand(newSaleAddCommand(deps))
	cmd.AddCommand(newSaleUpdateCommand(deps))
	cmd.AddCommand(newSaleDeleteCommand(deps))
	cmd.AddCommand(newSaleListCommand(deps))
	return cmd
}

func newSaleAddCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a sale event",
		Long: `Register a sale event for a county.

Examples:
  salelink sale add --county "Blair, PA" --type judicial --date 2026-02-19
  salelink sale add --county "Wayne, PA" --type repository`,
		Example: `  salelink sale add --county "Blair, PA" --type judicial --date 2026-02-19`,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := auction.ParseSaleType(saleType)
			if err != nil {
				return err
			}
			date, err := parseDate(saleDate)
			if err != nil {
				return err
			}
			ns := auction.NewSale{County: saleCounty, Type: typ, Date: date, Status: auction.SaleStatusScheduled}
			if saleStatus != "" {
				if ns.Status, err = auction.ParseSaleStatus(saleStatus); err != nil {
					return err
				}
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				sale, err := track(ctx, e, deps, "sale add", saleArgs(), func() (*auction.Sale, error) {
					return e.Catalog.CreateSale(ctx, ns)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, sale, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Created sale %d (%s %s in %s)\n", sale.ID, sale.Type.Label(), formatDate(sale.Date), sale.County)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&saleCounty, "county", "", "County the sale belongs to (required)")
	cmd.Flags().StringVar(&saleType, "type", "", "Sale type (required)")
	cmd.Flags().StringVar(&saleDate, "date", "", "Sale date, YYYY-MM-DD")
	cmd.Flags().StringVar(&saleStatus, "status", "", "Sale status (default scheduled)")
	_ = cmd.MarkFlagRequired("county")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newSaleUpdateCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <sale-id>",
		Short: "Change a sale and recompute linked properties",
		Long: `Change a sale's status, type or date. Every linked property's status is
recomputed.

Examples:
  salelink sale update 12 --status cancelled
  salelink sale update 12 --date 2026-03-05
  salelink sale update 12 --clear-date`,
		Example: `  salelink sale update 12 --status cancelled`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "sale")
			if err != nil {
				return err
			}
			u, err := saleUpdateFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				change, err := track(ctx, e, deps, "sale update", append(args, saleArgs()...), func() (*catalog.SaleChange, error) {
					return e.Catalog.UpdateSale(ctx, id, u)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, change, func(w io.Writer) error {
					_, err := printer.Fprintf(w, "Updated sale %d; recomputed %d properties\n", id, change.Recomputed)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&saleType, "type", "", "New sale type")
	cmd.Flags().StringVar(&saleDate, "date", "", "New sale date, YYYY-MM-DD")
	cmd.Flags().StringVar(&saleStatus, "status", "", "New sale status")
	cmd.Flags().BoolVar(&saleClearDate, "clear-date", false, "Remove the sale date")
	return cmd
}

func newSaleDeleteCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <sale-id>",
		Short: "Delete a sale and unlink its properties",
		Long: `Delete a sale. Linked properties are unlinked and their status
recomputed (normally to "unknown").

Examples:
  salelink sale delete 12`,
		Example: `  salelink sale delete 12`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "sale")
			if err != nil {
				return err
			}
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				change, err := track(ctx, e, deps, "sale delete", args, func() (*catalog.SaleChange, error) {
					return e.Catalog.DeleteSale(ctx, id)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, change, func(w io.Writer) error {
					_, err := printer.Fprintf(w, "Deleted sale %d; unlinked %d properties\n", id, change.Recomputed)
					return err
				})
			})
		},
	}
}

func newSaleListCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a county's sales",
		Long: `List the sale events registered for a county.

Examples:
  salelink sale list --county "Blair, PA"`,
		Example: `  salelink sale list --county "Blair, PA"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				sales, err := e.Catalog.Sales(ctx, saleCounty)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), e.Config.OutputFormat, sales, func(w io.Writer) error {
					return writeSales(w, sales)
				})
			})
		},
	}
	cmd.Flags().StringVar(&saleCounty, "county", "", "County to list (required)")
	_ = cmd.MarkFlagRequired("county")
	return cmd
}

func saleUpdateFromFlags() (auction.SaleUpdate, error) {
	var u auction.SaleUpdate
	if saleType != "" {
		t, err := auction.ParseSaleType(saleType)
		if err != nil {
			return u, err
		}
		u.Type = &t
	}
	if saleStatus != "" {
		st, err := auction.ParseSaleStatus(saleStatus)
		if err != nil {
			return u, err
		}
		u.Status = &st
	}
	date, err := parseDate(saleDate)
	if err != nil {
		return u, err
	}
	u.Date = date
	u.ClearDate = saleClearDate
	if u.Type == nil && u.Status == nil && u.Date == nil && !u.ClearDate {
		return u, fmt.Errorf("nothing to update; pass --status, --type, --date or --clear-date: %w", slerrors.ErrValidation)
	}
	return u, u.Validate()
}

func saleArgs() []string {
	var args []string
	for _, kv := range [][2]string{
		{"--county", saleCounty}, {"--type", saleType}, {"--date", saleDate}, {"--status", saleStatus},
	} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	if saleClearDate {
		args = append(args, "--clear-date")
	}
	return args
}

func writeSales(w io.Writer, sales []auction.Sale) error {
	if len(sales) == 0 {
		fmt.Fprintln(w, "No sales found.")
		return nil
	}
	fmt.Fprintf(w, "%-8s %-14s %-12s %-10s %s\n", "ID", "TYPE", "DATE", "STATUS", "COUNTY")
	for _, s := range sales {
		fmt.Fprintf(w, "%-8d %-14s %-12s %-10s %s\n", s.ID, s.Type.Label(), formatDate(s.Date), s.Status, s.County)
	}
	return nil
}
