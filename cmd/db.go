package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/config"
	"github.com/otherjamesbrown/salelink/migrations"
	"github.com/otherjamesbrown/salelink/pkg/db"
	"github.com/otherjamesbrown/salelink/pkg/logging"
)

// Database command flags
var (
	dbDryRun       bool
	dbYes          bool
	dbTarget       string
	dbMigrationDir string
)

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	LoadConfig  func() (*config.Config, error)
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)
	// Migrations is used when --migrations is not set.
	Migrations fs.FS
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps(deps *Deps) *DbCommandDeps {
	return &DbCommandDeps{
		LoadConfig:  deps.LoadConfig,
		ConnectToDB: connectToDatabase,
		Migrations:  migrations.FS,
	}
}

// connectToDatabase opens the postgres pool named by cfg.Database.
func connectToDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return nil, fmt.Errorf("db commands need the postgres store (store.driver is %q); the sqlite store creates its schema on open", cfg.Store.Driver)
	}
	applyStoredCredentials(cfg, logging.MustGlobal())
	return db.ConnectWithRetry(ctx, cfg.Database, logging.MustGlobal())
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Manage the PostgreSQL schema.

The schema ships inside the binary. Migrations are applied in version order
and tracked in the schema_migrations table. Connection settings come from
the database section of the config file, DATABASE_URL or DB_* variables.

Examples:
  # Show migration status
  salelink db status

  # Apply all pending migrations
  salelink db migrate --yes

  # Preview migrations without applying
  salelink db migrate --dry-run

  # Apply migrations up to a specific version
  salelink db migrate --target 002`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.PersistentFlags().StringVarP(&dbMigrationDir, "migrations", "m", "", "Read migrations from this directory instead of the built-in set")

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

func newDbMigrateCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Each migration runs in its
own transaction; the first failure rolls back and stops the run.

Examples:
  salelink db migrate
  salelink db migrate --dry-run
  salelink db migrate --target 002 --yes`,
		Example: `  salelink db migrate
  salelink db migrate --dry-run
  salelink db migrate --target 002`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&dbDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&dbYes, "yes", "y", false, "Apply without asking for confirmation")
	cmd.Flags().StringVarP(&dbTarget, "target", "t", "", "Target version to migrate to (e.g., 002)")

	return cmd
}

func newDbStatusCommand(deps *DbCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show applied, pending and drifted migrations.

Drift lists versions recorded in schema_migrations that have no matching
file, usually because the binary is older than the database.

Examples:
  salelink db status
  salelink db status --output json`,
		Example: `  salelink db status
  salelink db status --output yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps, cmd.OutOrStdout())
		},
	}
}

func (d *DbCommandDeps) migrationFS() fs.FS {
	if dbMigrationDir != "" {
		return os.DirFS(dbMigrationDir)
	}
	return d.Migrations
}

func runDbMigrate(ctx context.Context, deps *DbCommandDeps, in io.Reader, out io.Writer) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close(pool)

	fsys := deps.migrationFS()
	status, err := db.GetMigrationStatus(ctx, pool, fsys)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}
	pending := status.Pending

	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(pending))
	for _, m := range pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if dbDryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !dbYes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	var result *db.MigrationResult
	if dbTarget != "" {
		fmt.Fprintf(out, "Applying migrations up to version %s...\n", dbTarget)
		result, err = db.RunMigrationsToTarget(ctx, pool, fsys, dbTarget)
	} else {
		fmt.Fprintln(out, "Applying all pending migrations...")
		result, err = db.RunMigrations(ctx, pool, fsys)
	}

	if err != nil {
		fmt.Fprintf(out, "\nMigration failed: %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "\nApplied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  ✓ %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintln(out)
	if len(result.Applied) > 0 {
		fmt.Fprintf(out, "Applied %d migration(s):\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  ✓ %s\n", v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}
	return nil
}

func runDbStatus(ctx context.Context, deps *DbCommandDeps, out io.Writer) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close(pool)

	status, err := db.GetMigrationStatus(ctx, pool, deps.migrationFS())
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return render(out, cfg.OutputFormat, status, func(w io.Writer) error {
		return writeMigrationStatus(w, status)
	})
}

func writeMigrationStatus(w io.Writer, status *db.MigrationStatus) error {
	writeRows := func(title string, rows []db.MigrationStatusEntry, withTime bool) {
		if len(rows) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(rows))
		for _, m := range rows {
			appliedAt := ""
			if withTime {
				appliedAt = "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
			}
			fmt.Fprintf(w, "  %-26s %-33s %s\n", truncate(m.Version, 26), truncate(m.Name, 33), appliedAt)
		}
		fmt.Fprintln(w)
	}
	writeRows("Applied Migrations", status.Applied, true)
	writeRows("Pending Migrations", status.Pending, false)
	writeRows("Drift - applied but file missing", status.Drift, true)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", %d drift", len(status.Drift))
	}
	fmt.Fprintln(w)
	return nil
}
