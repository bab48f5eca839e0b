// Package main provides the salelink CLI entry point.
// salelink links scraped tax-sale properties to canonical sale events and
// keeps their auction status reconciled.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/cmd"
	"github.com/otherjamesbrown/salelink/config"
	"github.com/otherjamesbrown/salelink/pkg/buildinfo"
	"github.com/otherjamesbrown/salelink/pkg/logging"
)

// Global flags.
var (
	cfgFile      string
	timeout      time.Duration
	outputFormat string
	storeDriver  string
	logLevel     string
	debug        bool

	versionJSON bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "salelink",
	Short: "Link tax-sale properties to sale events and reconcile auction status",
	Long: `salelink links scraped tax-sale properties to the canonical sale events
they belong to and keeps each property's auction status consistent with
its sale.

Commands support --output json for structured data. Run
'salelink <command> --help' for subcommands, flags and examples.

COMMON WORKFLOWS:
  Register sales:   salelink sale add --county "Blair, PA" --type judicial --date 2026-02-19
  Link properties:  salelink reconcile bulk  ->  salelink status breakdown
  Daily upkeep:     salelink reconcile statuses
  Research gaps:    salelink research queue  ->  salelink research work
  Run the API:      salelink serve

SETUP:
  salelink config init     Write ~/.salelink/config.yaml
  salelink db migrate      Apply the PostgreSQL schema
  salelink auth set token  Store the API bearer token`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if outputFormat != "" && !config.OutputFormat(outputFormat).IsValid() {
			return fmt.Errorf("invalid --output %q (want text, json or yaml)", outputFormat)
		}
		if storeDriver != "" && storeDriver != config.StoreDriverPostgres && storeDriver != config.StoreDriverSQLite {
			return fmt.Errorf("invalid --store %q (want postgres or sqlite)", storeDriver)
		}
		return nil
	},
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the salelink version, commit and build time.

Examples:
  salelink version
  salelink version --json`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get("salelink")
		if versionJSON {
			enc := json.NewEncoder(c.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		fmt.Fprintf(c.OutOrStdout(), "salelink %s\n", info)
		fmt.Fprintf(c.OutOrStdout(), "  go:       %s\n", info.GoVersion)
		fmt.Fprintf(c.OutOrStdout(), "  platform: %s\n", info.Platform)
		return nil
	},
}

// configCmd manages the configuration file.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage salelink configuration",
	Long:  `View and initialize the salelink configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after the config file, .env files, environment
variables and flags are applied, as YAML. Secrets are never shown.`,
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path, _ = config.ConfigPath()
		}
		fmt.Fprintf(c.ErrOrStderr(), "# %s\n", path)
		return writeConfig(c, cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write ~/.salelink/config.yaml with default values. An existing file is
left alone.

Examples:
  salelink config init
  salelink config init --store sqlite`,
	RunE: func(c *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(c.OutOrStdout(), "Config already exists: %s\n", path)
			return nil
		}
		cfg := config.DefaultConfig()
		if storeDriver != "" {
			cfg.Store.Driver = storeDriver
		}
		if err := config.SaveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(c.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

// loadConfig reads configuration and applies command-line overrides. It also
// installs the global logger so the engine logs at the configured level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadConfigFrom(cfgFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if timeout != 0 {
		cfg.Timeout = timeout
	}
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if debug {
		cfg.Debug = true
		cfg.Log.Level = string(logging.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.Log.Level)
	logCfg.JSONFormat = cfg.Log.JSON
	logging.SetGlobal(logging.NewLogger(logCfg))
	return cfg, nil
}

// writeConfig prints cfg as YAML, whose tags omit secrets, with passwords
// in connection URLs redacted.
func writeConfig(c *cobra.Command, cfg *config.Config) error {
	shown := *cfg
	if cfg.Database != nil {
		dbCfg := *cfg.Database
		dbCfg.URL = redactURL(dbCfg.URL)
		shown.Database = &dbCfg
	}
	shown.Audit.URL = redactURL(shown.Audit.URL)
	return cmd.Render(c.OutOrStdout(), config.OutputFormatYAML, &shown)
}

func redactURL(s string) string {
	u, err := url.Parse(s)
	if s == "" || err != nil {
		return s
	}
	return u.Redacted()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.salelink/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "operation timeout (e.g., 30s, 1m)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "store driver: postgres, sqlite")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print build info as JSON")

	deps := cmd.DefaultDeps()
	deps.LoadConfig = loadConfig

	rootCmd.AddGroup(
		&cobra.Group{ID: "engine", Title: "Linkage & Status:"},
		&cobra.Group{ID: "research", Title: "Research:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	for _, c := range []struct {
		group string
		cmd   *cobra.Command
	}{
		{"engine", cmd.NewLinkCommand(deps)},
		{"engine", cmd.NewSaleCommand(deps)},
		{"engine", cmd.NewStatusCommand(deps)},
		{"engine", cmd.NewReconcileCommand(deps)},
		{"research", cmd.NewResearchCommand(deps)},
		{"ops", cmd.NewServeCommand(deps)},
		{"ops", cmd.NewHistoryCommand(deps)},
		{"setup", cmd.NewDbCommand(cmd.DefaultDbDeps(deps))},
		{"setup", cmd.NewAuthCommand(cmd.DefaultAuthDeps())},
		{"setup", configCmd},
		{"setup", versionCmd},
	} {
		c.cmd.GroupID = c.group
		rootCmd.AddCommand(c.cmd)
	}

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
