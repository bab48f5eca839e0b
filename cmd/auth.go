package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/salelink/credentials"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
)

// Auth command flags.
var (
	authValue          string
	authNonInteractive bool
)

// AuthDeps holds the dependencies for credential commands.
type AuthDeps struct {
	OpenStore func() (*credentials.Store, error)
	// ReadSecret prompts for a value without echo.
	ReadSecret func(prompt string, in io.Reader, out io.Writer) (string, error)
}

// DefaultAuthDeps returns the default dependencies for production use.
func DefaultAuthDeps() *AuthDeps {
	return &AuthDeps{
		OpenStore:  credentials.NewStore,
		ReadSecret: readSecret,
	}
}

// secretFields maps the 'auth set' names onto credential fields.
var secretFields = map[string]func(*credentials.Credentials) *string{
	"token":          func(c *credentials.Credentials) *string { return &c.APIToken },
	"db-password":    func(c *credentials.Credentials) *string { return &c.DatabasePassword },
	"redis-password": func(c *credentials.Credentials) *string { return &c.RedisPassword },
	"amqp-url":       func(c *credentials.Credentials) *string { return &c.AMQPURL },
}

func secretNames() []string {
	names := make([]string, 0, len(secretFields))
	for n := range secretFields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewAuthCommand creates the 'auth' command group.
func NewAuthCommand(deps *AuthDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored secrets",
		Long: `Manage the secrets salelink needs at runtime.

Secrets are stored in ~/.salelink/credentials.yaml, encrypted with AES-GCM.
The key comes from SALELINK_ENCRYPTION_KEY, SALELINK_PASSPHRASE or the
system keyring. Environment variables always take precedence over stored
values, and secrets are never written to config.yaml.

Secrets:
  token            Bearer token required by 'salelink serve'
  db-password      PostgreSQL password
  redis-password   Redis event bus password
  amqp-url         RabbitMQ connection URL`,
	}
	cmd.AddCommand(newAuthSetCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthLogoutCommand(deps))
	return cmd
}

func newAuthSetCommand(deps *AuthDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "set <" + strings.Join(secretNames(), "|") + ">",
		Short:     "Store a secret",
		ValidArgs: secretNames(),
		Args:      cobra.ExactArgs(1),
		Long: `Store one secret in the encrypted credential store. Without --value the
secret is read from the terminal without echo.

Examples:
  salelink auth set token
  salelink auth set db-password --value "$PGPASSWORD"`,
		Example: `  salelink auth set token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			field, ok := secretFields[args[0]]
			if !ok {
				return fmt.Errorf("unknown secret %q (want one of %s): %w", args[0], strings.Join(secretNames(), ", "), slerrors.ErrValidation)
			}
			value := authValue
			if value == "" {
				if authNonInteractive {
					return fmt.Errorf("--value is required with --non-interactive: %w", slerrors.ErrValidation)
				}
				var err error
				value, err = deps.ReadSecret(fmt.Sprintf("Enter %s: ", args[0]), cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("reading %s: %w", args[0], err)
				}
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("%s cannot be empty: %w", args[0], slerrors.ErrValidation)
			}

			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			if err := store.Update(func(c *credentials.Credentials) { *field(c) = value }); err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s)\n", args[0], credentials.Mask(value))
			return nil
		},
	}
	cmd.Flags().StringVar(&authValue, "value", "", "Secret value (prompted when omitted)")
	cmd.Flags().BoolVar(&authNonInteractive, "non-interactive", false, "Fail instead of prompting for input")
	return cmd
}

func newAuthStatusCommand(deps *AuthDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which secrets are stored",
		Long: `Show each stored secret, masked, and the key source protecting them.

Examples:
  salelink auth status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			creds, err := store.Load()
			if errors.Is(err, credentials.ErrNoCredentials) {
				fmt.Fprintln(out, "No stored credentials.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Credentials: %s\n", store.Path())
			fmt.Fprintf(out, "Key source:  %s\n", store.KeyDescription())
			for _, name := range secretNames() {
				v := *secretFields[name](creds)
				shown := "-"
				if v != "" {
					shown = credentials.Mask(v)
				}
				fmt.Fprintf(out, "  %-15s %s\n", name, shown)
			}
			if !creds.LastUpdated.IsZero() {
				fmt.Fprintf(out, "Updated:     %s\n", creds.LastUpdated.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newAuthLogoutCommand(deps *AuthDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete all stored secrets",
		Long: `Delete the credential store. Environment variables are not affected.

Examples:
  salelink auth logout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			if !store.Exists() {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored credentials.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stored credentials removed.")
			return nil
		},
	}
}

// readSecret reads without echo from a terminal, or a line from in otherwise.
func readSecret(prompt string, in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, prompt)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		return string(b), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}
