package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/salelink/pkg/api"
	"github.com/otherjamesbrown/salelink/pkg/db"
	"github.com/otherjamesbrown/salelink/pkg/logging"
)

const (
	shutdownTimeout = 15 * time.Second
	readyTimeout    = 30 * time.Second
	readyPoll       = 500 * time.Millisecond
)

var serveListen string

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP",
		Long: `Run the HTTP API over the configured store.

Routes under /v1 expose linking, sale changes, status overrides, bulk
reconciliation and the research queue. /healthz, /version and /metrics
are unauthenticated. When a token is stored ('salelink auth set token')
or SALELINK_API_TOKEN is set, /v1 requires it as a bearer token.

Examples:
  salelink serve
  salelink serve --listen 127.0.0.1:9090`,
		Example:     `  salelink serve --listen :8080`,
		Annotations: map[string]string{annotationTimeout: "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, deps, func(ctx context.Context, e *Engine) error {
				addr := e.Config.Server.ListenAddr
				if serveListen != "" {
					addr = serveListen
				}
				if e.Config.Server.Token == "" {
					e.Logger.Warn("No API token configured; /v1 routes are unauthenticated")
				}

				if e.Health != nil {
					readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
					err := db.WaitForReady(readyCtx, e.Health, readyPoll)
					cancel()
					if err != nil {
						return err
					}
				}

				srv := api.NewServer(api.Deps{
					Catalog:    e.Catalog,
					Linker:     e.Linker,
					Reconciler: e.Reconciler,
					Research:   e.Research,
					Audit:      e.Audit,
					Gatherer:   e.Registry,
					Health:     e.Health,
				}, api.Options{Token: e.Config.Server.Token}, e.Logger)

				return serveHTTP(ctx, &http.Server{
					Addr:              addr,
					Handler:           srv.Router(),
					ReadHeaderTimeout: 10 * time.Second,
				}, e.Logger)
			})
		},
	}
	cmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config, :8080)")
	return cmd
}

// serveHTTP runs srv until ctx is cancelled, then drains in-flight requests.
func serveHTTP(ctx context.Context, srv *http.Server, logger logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", logging.F("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
