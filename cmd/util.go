// Package cmd provides the salelink CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/salelink/config"
	"github.com/otherjamesbrown/salelink/credentials"
	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/auction/postgres"
	"github.com/otherjamesbrown/salelink/pkg/auction/sqlite"
	"github.com/otherjamesbrown/salelink/pkg/audit"
	"github.com/otherjamesbrown/salelink/pkg/catalog"
	"github.com/otherjamesbrown/salelink/pkg/db"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/linker"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
	"github.com/otherjamesbrown/salelink/pkg/reconcile"
	"github.com/otherjamesbrown/salelink/pkg/research"
)

// MetricsNamespace prefixes the pool collector metrics.
const MetricsNamespace = "salelink"

// annotationTimeout set to "none" exempts a long-running command from
// the configured timeout.
const annotationTimeout = "salelink/timeout"

// Deps holds what every engine command needs. Tests swap the functions.
type Deps struct {
	LoadConfig func() (*config.Config, error)
	OpenEngine func(ctx context.Context, cfg *config.Config) (*Engine, error)
	// Actor is recorded in the operation audit log.
	Actor string
}

// DefaultDeps returns the production dependencies.
func DefaultDeps() *Deps {
	actor := os.Getenv("USER")
	if actor == "" {
		actor = "cli"
	}
	return &Deps{
		LoadConfig: config.LoadConfig,
		OpenEngine: OpenEngine,
		Actor:      actor,
	}
}

// Engine bundles the wired services a command runs against.
type Engine struct {
	Config     *config.Config
	Logger     logging.Logger
	Repo       auction.Repository
	Catalog    *catalog.Catalog
	Linker     *linker.Linker
	Reconciler *reconcile.Reconciler
	Research   *research.Manager
	Audit      audit.Recorder
	Publisher  events.Publisher
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry
	// Pool is set for the postgres store only.
	Pool *pgxpool.Pool
	// Health reports store readiness and connection counts.
	Health db.CheckFunc

	closers []func() error
}

// EngineOptions are the pluggable parts of NewEngine.
type EngineOptions struct {
	Publisher events.Publisher
	Audit     audit.Recorder
	Registry  *prometheus.Registry
	Now       func() time.Time
}

// NewEngine builds the services over repo using the policy in cfg.
func NewEngine(cfg *config.Config, repo auction.Repository, logger logging.Logger, opts EngineOptions) (*Engine, error) {
	matchPolicy, err := cfg.MatchPolicy()
	if err != nil {
		return nil, err
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.NopRecorder{}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	metrics := observability.NewMetrics(opts.Registry)
	tracer := observability.NewTracer()

	l := linker.New(repo, logger,
		linker.WithPolicy(matchPolicy),
		linker.WithClock(opts.Now),
		linker.WithMetrics(metrics),
		linker.WithTracer(tracer))

	return &Engine{
		Config:  cfg,
		Logger:  logger,
		Repo:    repo,
		Catalog: catalog.New(repo, opts.Publisher, logger, opts.Now),
		Linker:  l,
		Reconciler: reconcile.New(repo, l, logger,
			reconcile.WithPublisher(opts.Publisher),
			reconcile.WithMetrics(metrics),
			reconcile.WithTracer(tracer),
			reconcile.WithClock(opts.Now),
			reconcile.WithPageSize(cfg.Policy.PageSize),
			reconcile.WithProgressInterval(cfg.Policy.ProgressInterval)),
		Research: research.NewManager(repo, logger,
			research.WithPriorityPolicy(cfg.PriorityPolicy()),
			research.WithDefaultLimit(cfg.Policy.QueueLimit),
			research.WithPublisher(opts.Publisher),
			research.WithMetrics(metrics),
			research.WithTracer(tracer),
			research.WithClock(opts.Now)),
		Audit:     opts.Audit,
		Publisher: opts.Publisher,
		Metrics:   metrics,
		Registry:  opts.Registry,
	}, nil
}

// OnClose registers fn to run when the engine is closed, last registered first.
func (e *Engine) OnClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Close releases the publisher, audit recorder and store.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// OpenEngine connects the configured store, event bus and audit log.
func OpenEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	logger := logging.MustGlobal()
	applyStoredCredentials(cfg, logger)

	registry := prometheus.NewRegistry()

	var (
		repo   auction.Repository
		pool   *pgxpool.Pool
		health db.CheckFunc
		closer func() error
	)
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		path, err := config.ExpandPath(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		repo, closer = store, store.Close
		health = func(ctx context.Context) db.HealthStatus {
			return db.CheckSQL(ctx, store.DB(), config.StoreDriverSQLite)
		}
	default:
		p, err := db.ConnectWithRetry(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if _, err := db.RegisterPoolStatsCollector(p, MetricsNamespace, "salelink", registry); err != nil {
			logger.Warn("Failed to register pool metrics", logging.Err(err))
		}
		pool, repo = p, postgres.NewRepository(p)
		health = func(ctx context.Context) db.HealthStatus { return db.Check(ctx, p) }
		closer = func() error { db.Close(p); return nil }
	}

	publisher, err := openPublisher(ctx, cfg, logger)
	if err != nil {
		_ = closer()
		return nil, err
	}

	engine, err := NewEngine(cfg, repo, logger, EngineOptions{
		Publisher: publisher,
		Audit:     openAudit(cfg, logger),
		Registry:  registry,
	})
	if err != nil {
		_ = publisher.Close()
		_ = closer()
		return nil, err
	}
	engine.Pool = pool
	engine.Health = health
	engine.OnClose(closer)
	engine.OnClose(publisher.Close)
	engine.OnClose(engine.Audit.Close)
	return engine, nil
}

// openPublisher dials the configured event bus.
func openPublisher(ctx context.Context, cfg *config.Config, logger logging.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case config.EventsDriverRedis:
		p, err := events.DialRedis(ctx, cfg.Events.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to event bus: %w", err)
		}
		return p, nil
	case config.EventsDriverAMQP:
		p, err := events.DialAMQP(cfg.Events.AMQP, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to event bus: %w", err)
		}
		return p, nil
	default:
		return events.NopPublisher{}, nil
	}
}

// openAudit returns the operation recorder. An unreachable audit database
// downgrades to a no-op recorder rather than failing the command.
func openAudit(cfg *config.Config, logger logging.Logger) audit.Recorder {
	if !cfg.Audit.Enabled {
		return audit.NopRecorder{}
	}
	conn := cfg.AuditConnString()
	if conn == "" {
		logger.Warn("Audit enabled but no postgres connection configured")
		return audit.NopRecorder{}
	}
	rec, err := audit.Open(conn)
	if err != nil {
		logger.Warn("Audit log unavailable", logging.Err(err))
		return audit.NopRecorder{}
	}
	return rec
}

// applyStoredCredentials fills secrets missing from cfg from the encrypted
// credential store. Environment variables always win.
func applyStoredCredentials(cfg *config.Config, logger logging.Logger) {
	dir, err := credentials.CredentialsDir()
	if err != nil {
		return
	}
	if _, err := os.Stat(filepath.Join(dir, credentials.DefaultCredentialsFile)); err != nil {
		return
	}
	store, err := credentials.NewStore()
	if err != nil {
		logger.Debug("Credential store unavailable", logging.Err(err))
		return
	}
	creds, err := store.Load()
	if err != nil {
		logger.Warn("Failed to load stored credentials", logging.Err(err))
		return
	}
	if cfg.Database != nil && cfg.Database.Password == "" {
		cfg.Database.Password = creds.DatabasePassword
	}
	if cfg.Server.Token == "" {
		cfg.Server.Token = creds.APIToken
	}
	if cfg.Events.Redis.Password == "" {
		cfg.Events.Redis.Password = creds.RedisPassword
	}
	if cfg.Events.AMQP.URL == "" {
		cfg.Events.AMQP.URL = creds.AMQPURL
	}
}

// withEngine loads config, opens the engine, runs fn and closes it.
func withEngine(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, e *Engine) error) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout > 0 && cmd.Annotations[annotationTimeout] != "none" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	e, err := deps.OpenEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil {
			e.Logger.Warn("Failed to close engine", logging.Err(cerr))
		}
	}()
	return fn(ctx, e)
}

// track records a CLI operation in the audit log.
func track[T any](ctx context.Context, e *Engine, deps *Deps, operation string, args []string, fn func() (T, error)) (T, error) {
	return audit.Track(ctx, e.Audit, e.Logger, "cli "+operation, deps.Actor, args, fn)
}

// render writes v in the configured format; text falls back to textFn.
func render(w io.Writer, format config.OutputFormat, v interface{}, textFn func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return textFn(w)
	}
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q: %w", what, s, slerrors.ErrValidation)
	}
	return id, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(auction.DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, slerrors.ErrValidation)
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(auction.DateLayout)
}

func formatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Render writes v as JSON, or YAML for any other format.
func Render(w io.Writer, format config.OutputFormat, v interface{}) error {
	if format != config.OutputFormatJSON {
		format = config.OutputFormatYAML
	}
	return render(w, format, v, nil)
}
