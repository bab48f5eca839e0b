// Package config provides configuration management for the salelink engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/db"
	"github.com/otherjamesbrown/salelink/pkg/events"
)

// OutputFormat represents the output format for CLI commands.
type OutputFormat string

const (
	// OutputFormatText outputs human-readable text.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON outputs JSON.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML outputs YAML.
	OutputFormatYAML OutputFormat = "yaml"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Event bus drivers.
const (
	EventsDriverNone  = "none"
	EventsDriverRedis = "redis"
	EventsDriverAMQP  = "amqp"
)

// Default configuration values.
const (
	DefaultTimeout          = 5 * time.Minute
	DefaultOutputFormat     = OutputFormatText
	DefaultConfigDir        = ".salelink"
	DefaultConfigFile       = "config.yaml"
	DefaultEnvFile          = ".env"
	DefaultSQLitePath       = "~/.salelink/salelink.db"
	DefaultListenAddr       = ":8080"
	DefaultPageSize         = 500
	DefaultProgressInterval = 100
	DefaultQueueLimit       = 20
	DefaultTimezone         = "UTC"
)

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// EventsConfig selects and configures the event bus.
type EventsConfig struct {
	Driver string             `yaml:"driver"`
	Redis  events.RedisConfig `yaml:"redis,omitempty"`
	AMQP   events.AMQPConfig  `yaml:"amqp,omitempty"`
}

// PolicyConfig holds the tunable engine thresholds.
type PolicyConfig struct {
	HighThreshold    int    `yaml:"high_threshold"`
	MediumThreshold  int    `yaml:"medium_threshold"`
	PageSize         int    `yaml:"page_size"`
	ProgressInterval int    `yaml:"progress_interval"`
	QueueLimit       int    `yaml:"queue_limit"`
	Timezone         string `yaml:"timezone"`
}

// ServerConfig configures the agent HTTP API.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// Token is the bearer token agents present. Prefer the credential store.
	Token string `yaml:"-"`
}

// AuditConfig controls the operation audit log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// URL overrides the database connection used for the audit table.
	URL string `yaml:"url,omitempty"`
}

// LogConfig controls logger output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds the engine configuration.
type Config struct {
	Store        StoreConfig   `yaml:"store"`
	Database     *db.Config    `yaml:"database"`
	Events       EventsConfig  `yaml:"events"`
	Policy       PolicyConfig  `yaml:"policy"`
	Server       ServerConfig  `yaml:"server"`
	Audit        AuditConfig   `yaml:"audit"`
	Log          LogConfig     `yaml:"log"`
	OutputFormat OutputFormat  `yaml:"output_format"`
	Timeout      time.Duration `yaml:"-"`
	Debug        bool          `yaml:"debug"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	priority := auction.DefaultPriorityPolicy()
	return &Config{
		Store: StoreConfig{
			Driver:     StoreDriverPostgres,
			SQLitePath: DefaultSQLitePath,
		},
		Database: db.DefaultConfig(),
		Events: EventsConfig{
			Driver: EventsDriverNone,
			Redis:  events.RedisConfig{Addr: "localhost:6379"},
			AMQP:   events.DefaultAMQPConfig(),
		},
		Policy: PolicyConfig{
			HighThreshold:    priority.HighThreshold,
			MediumThreshold:  priority.MediumThreshold,
			PageSize:         DefaultPageSize,
			ProgressInterval: DefaultProgressInterval,
			QueueLimit:       DefaultQueueLimit,
			Timezone:         DefaultTimezone,
		},
		Server:       ServerConfig{ListenAddr: DefaultListenAddr},
		Log:          LogConfig{Level: "info"},
		OutputFormat: DefaultOutputFormat,
		Timeout:      DefaultTimeout,
	}
}

// ConfigDir returns the configuration directory path.
// Uses SALELINK_CONFIG_DIR if set, otherwise ~/.salelink.
func ConfigDir() (string, error) {
	if dir := os.Getenv("SALELINK_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads configuration from the config file, any .env files and
// the environment. Missing files are not an error.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	if err := loadFromFile(cfg, filepath.Join(dir, DefaultConfigFile)); err != nil {
		return nil, err
	}

	// The working-directory .env wins over the config-dir one; neither
	// overrides variables already set in the process environment.
	if err := loadEnvFiles(DefaultEnvFile, filepath.Join(dir, DefaultEnvFile)); err != nil {
		return nil, err
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigFrom loads configuration from an explicit file path, then
// applies the environment overlay.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFromFile(cfg, path); err != nil {
		return nil, err
	}
	if err := loadEnvFiles(DefaultEnvFile); err != nil {
		return nil, err
	}
	loadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// configFile mirrors Config with durations as strings.
type configFile struct {
	Store        StoreConfig  `yaml:"store"`
	Database     *db.Config   `yaml:"database,omitempty"`
	Events       EventsConfig `yaml:"events"`
	Policy       PolicyConfig `yaml:"policy"`
	Server       ServerConfig `yaml:"server"`
	Audit        AuditConfig  `yaml:"audit"`
	Log          LogConfig    `yaml:"log"`
	OutputFormat OutputFormat `yaml:"output_format"`
	Timeout      string       `yaml:"timeout"`
	Debug        bool         `yaml:"debug,omitempty"`
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	// Seed with the current values so absent keys keep their defaults.
	fileCfg := configFile{
		Store:        cfg.Store,
		Database:     cfg.Database,
		Events:       cfg.Events,
		Policy:       cfg.Policy,
		Server:       cfg.Server,
		Audit:        cfg.Audit,
		Log:          cfg.Log,
		OutputFormat: cfg.OutputFormat,
		Debug:        cfg.Debug,
	}
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store = fileCfg.Store
	if fileCfg.Database != nil {
		cfg.Database = fileCfg.Database
	}
	cfg.Events = fileCfg.Events
	cfg.Policy = fileCfg.Policy
	cfg.Server.ListenAddr = fileCfg.Server.ListenAddr
	cfg.Audit = fileCfg.Audit
	cfg.Log = fileCfg.Log
	cfg.OutputFormat = fileCfg.OutputFormat
	cfg.Debug = fileCfg.Debug
	if fileCfg.Timeout != "" {
		timeout, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("SALELINK_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SALELINK_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}

	if cfg.Database == nil {
		cfg.Database = db.ConfigFromEnv()
	} else {
		cfg.Database.ApplyEnv()
	}

	if v := os.Getenv("SALELINK_EVENTS_DRIVER"); v != "" {
		cfg.Events.Driver = v
	}
	if v := os.Getenv("SALELINK_REDIS_ADDR"); v != "" {
		cfg.Events.Redis.Addr = v
	}
	if v := os.Getenv("SALELINK_REDIS_PASSWORD"); v != "" {
		cfg.Events.Redis.Password = v
	}
	envInt("SALELINK_REDIS_DB", &cfg.Events.Redis.DB)
	if v := os.Getenv("SALELINK_AMQP_URL"); v != "" {
		cfg.Events.AMQP.URL = v
	}
	if v := os.Getenv("SALELINK_AMQP_EXCHANGE"); v != "" {
		cfg.Events.AMQP.Exchange = v
	}

	envInt("SALELINK_HIGH_THRESHOLD", &cfg.Policy.HighThreshold)
	envInt("SALELINK_MEDIUM_THRESHOLD", &cfg.Policy.MediumThreshold)
	envInt("SALELINK_PAGE_SIZE", &cfg.Policy.PageSize)
	envInt("SALELINK_PROGRESS_INTERVAL", &cfg.Policy.ProgressInterval)
	envInt("SALELINK_QUEUE_LIMIT", &cfg.Policy.QueueLimit)
	if v := os.Getenv("SALELINK_TIMEZONE"); v != "" {
		cfg.Policy.Timezone = v
	}

	if v := os.Getenv("SALELINK_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("SALELINK_API_TOKEN"); v != "" {
		cfg.Server.Token = v
	}

	if v := os.Getenv("SALELINK_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = isTrue(v)
	}
	if v := os.Getenv("SALELINK_AUDIT_URL"); v != "" {
		cfg.Audit.URL = v
	}

	if v := os.Getenv("SALELINK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SALELINK_LOG_JSON"); v != "" {
		cfg.Log.JSON = isTrue(v)
	}

	if v := os.Getenv("SALELINK_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("SALELINK_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}
	if v := os.Getenv("SALELINK_DEBUG"); isTrue(v) {
		cfg.Debug = true
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database == nil {
			return fmt.Errorf("database section is required for the postgres store")
		}
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("invalid store.driver: %q (must be postgres or sqlite)", c.Store.Driver)
	}

	switch c.Events.Driver {
	case "", EventsDriverNone:
	case EventsDriverRedis:
		if c.Events.Redis.Addr == "" {
			return fmt.Errorf("events.redis.addr is required for the redis driver")
		}
	case EventsDriverAMQP:
		if c.Events.AMQP.Exchange == "" {
			return fmt.Errorf("events.amqp.exchange is required for the amqp driver")
		}
	default:
		return fmt.Errorf("invalid events.driver: %q (must be none, redis, or amqp)", c.Events.Driver)
	}

	if err := c.PriorityPolicy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if c.Policy.PageSize <= 0 {
		return fmt.Errorf("policy.page_size must be positive")
	}
	if c.Policy.ProgressInterval <= 0 {
		return fmt.Errorf("policy.progress_interval must be positive")
	}
	if c.Policy.QueueLimit <= 0 {
		return fmt.Errorf("policy.queue_limit must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}
	return nil
}

// PriorityPolicy returns the research queue tiers.
func (c *Config) PriorityPolicy() auction.PriorityPolicy {
	return auction.PriorityPolicy{
		HighThreshold:   c.Policy.HighThreshold,
		MediumThreshold: c.Policy.MediumThreshold,
	}
}

// Location resolves the policy timezone used for sale-date matching.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Policy.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid policy.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// MatchPolicy returns the linker's date matching policy.
func (c *Config) MatchPolicy() (auction.MatchPolicy, error) {
	loc, err := c.Location()
	if err != nil {
		return auction.MatchPolicy{}, err
	}
	return auction.MatchPolicy{Location: loc}, nil
}

// AuditConnString returns the connection string for the audit table,
// falling back to the main database.
func (c *Config) AuditConnString() string {
	if c.Audit.URL != "" {
		return c.Audit.URL
	}
	if c.Store.Driver != StoreDriverPostgres || c.Database == nil {
		return ""
	}
	return c.Database.ConnectionString()
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
// Secrets (passwords, tokens, broker URLs) are never written.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	fileCfg := configFile{
		Store:        cfg.Store,
		Database:     cfg.Database,
		Events:       cfg.Events,
		Policy:       cfg.Policy,
		Server:       cfg.Server,
		Audit:        cfg.Audit,
		Log:          cfg.Log,
		OutputFormat: cfg.OutputFormat,
		Timeout:      cfg.Timeout.String(),
		Debug:        cfg.Debug,
	}

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, DefaultConfigFile), data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
