package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the config dir at a temp dir and clears SALELINK_* and DB_*
// variables for the duration of the test.
func isolate(t *testing.T) string {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "SALELINK_") || strings.HasPrefix(key, "DB_") || key == "DATABASE_URL" {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	dir := t.TempDir()
	t.Setenv("SALELINK_CONFIG_DIR", dir)
	chdir(t, dir)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Driver != StoreDriverPostgres {
		t.Errorf("Store.Driver = %v, want postgres", cfg.Store.Driver)
	}
	if cfg.Events.Driver != EventsDriverNone {
		t.Errorf("Events.Driver = %v, want none", cfg.Events.Driver)
	}
	if cfg.Policy.HighThreshold != 100 || cfg.Policy.MediumThreshold != 25 {
		t.Errorf("thresholds = %d/%d, want 100/25", cfg.Policy.HighThreshold, cfg.Policy.MediumThreshold)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.OutputFormat != OutputFormatText {
		t.Errorf("OutputFormat = %v, want text", cfg.OutputFormat)
	}
	if cfg.Audit.Enabled {
		t.Error("Audit should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"invalid", false},
		{"", false},
		{"JSON", false},
	}

	for _, tc := range tests {
		if got := tc.format.IsValid(); got != tc.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tc.format, got, tc.valid)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "sqlite store", mutate: func(c *Config) { c.Store.Driver = StoreDriverSQLite }},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "mysql" }, errMsg: "store.driver"},
		{name: "sqlite without path", mutate: func(c *Config) {
			c.Store.Driver = StoreDriverSQLite
			c.Store.SQLitePath = ""
		}, errMsg: "sqlite_path"},
		{name: "unknown events driver", mutate: func(c *Config) { c.Events.Driver = "kafka" }, errMsg: "events.driver"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Events.Driver = EventsDriverRedis
			c.Events.Redis.Addr = ""
		}, errMsg: "redis.addr"},
		{name: "inverted thresholds", mutate: func(c *Config) { c.Policy.HighThreshold = 10 }, errMsg: "policy"},
		{name: "zero page size", mutate: func(c *Config) { c.Policy.PageSize = 0 }, errMsg: "page_size"},
		{name: "bad timezone", mutate: func(c *Config) { c.Policy.Timezone = "Mars/Olympus" }, errMsg: "timezone"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, errMsg: "timeout"},
		{name: "bad output format", mutate: func(c *Config) { c.OutputFormat = "xml" }, errMsg: "output_format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("Validate() error = %v, want containing %q", err, tc.errMsg)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	dir := isolate(t)

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath() error: %v", err)
	}
	if want := filepath.Join(dir, DefaultConfigFile); path != want {
		t.Errorf("ConfigPath() = %v, want %v", path, want)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverPostgres {
		t.Errorf("Store.Driver = %v, want postgres", cfg.Store.Driver)
	}
	if cfg.Policy.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %v, want %v", cfg.Policy.PageSize, DefaultPageSize)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := isolate(t)

	data := `
store:
  driver: sqlite
  sqlite_path: /tmp/salelink.db
events:
  driver: amqp
  amqp:
    exchange: auctions
    exchange_type: topic
policy:
  high_threshold: 50
  medium_threshold: 10
  page_size: 200
  progress_interval: 25
  queue_limit: 5
  timezone: America/New_York
audit:
  enabled: true
output_format: json
timeout: 90s
`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverSQLite || cfg.Store.SQLitePath != "/tmp/salelink.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Events.Driver != EventsDriverAMQP || cfg.Events.AMQP.Exchange != "auctions" {
		t.Errorf("Events = %+v", cfg.Events)
	}
	if p := cfg.PriorityPolicy(); p.HighThreshold != 50 || p.MediumThreshold != 10 {
		t.Errorf("PriorityPolicy() = %+v", p)
	}
	if cfg.Policy.QueueLimit != 5 {
		t.Errorf("QueueLimit = %d, want 5", cfg.Policy.QueueLimit)
	}
	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled should be true")
	}
	if cfg.OutputFormat != OutputFormatJSON {
		t.Errorf("OutputFormat = %v, want json", cfg.OutputFormat)
	}
	if cfg.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.Timeout)
	}
	mp, err := cfg.MatchPolicy()
	if err != nil {
		t.Fatalf("MatchPolicy() error: %v", err)
	}
	if mp.Location.String() != "America/New_York" {
		t.Errorf("Location = %v", mp.Location)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %v, want default", cfg.Server.ListenAddr)
	}
	if cfg.Database.MaxConnLifetime != time.Hour {
		t.Errorf("MaxConnLifetime = %v, want 1h", cfg.Database.MaxConnLifetime)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("store: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() should fail on malformed YAML")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)

	t.Setenv("SALELINK_STORE_DRIVER", "sqlite")
	t.Setenv("SALELINK_EVENTS_DRIVER", "redis")
	t.Setenv("SALELINK_REDIS_ADDR", "cache:6380")
	t.Setenv("SALELINK_HIGH_THRESHOLD", "200")
	t.Setenv("SALELINK_API_TOKEN", "secret")
	t.Setenv("SALELINK_AUDIT_ENABLED", "1")
	t.Setenv("SALELINK_OUTPUT_FORMAT", "yaml")
	t.Setenv("SALELINK_TIMEOUT", "45s")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverSQLite {
		t.Errorf("Store.Driver = %v, want sqlite", cfg.Store.Driver)
	}
	if cfg.Events.Redis.Addr != "cache:6380" {
		t.Errorf("Redis.Addr = %v", cfg.Events.Redis.Addr)
	}
	if cfg.Policy.HighThreshold != 200 {
		t.Errorf("HighThreshold = %d, want 200", cfg.Policy.HighThreshold)
	}
	if cfg.Server.Token != "secret" {
		t.Errorf("Token = %q, want secret", cfg.Server.Token)
	}
	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled should be true")
	}
	if cfg.OutputFormat != OutputFormatYAML {
		t.Errorf("OutputFormat = %v, want yaml", cfg.OutputFormat)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.Timeout)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %v, want db.internal", cfg.Database.Host)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, DefaultEnvFile), []byte("SALELINK_QUEUE_LIMIT=7\nSALELINK_LOG_LEVEL=debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv sets process variables; register them so they are restored.
	t.Setenv("SALELINK_QUEUE_LIMIT", "")
	os.Unsetenv("SALELINK_QUEUE_LIMIT")
	t.Setenv("SALELINK_LOG_LEVEL", "")
	os.Unsetenv("SALELINK_LOG_LEVEL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Policy.QueueLimit != 7 {
		t.Errorf("QueueLimit = %d, want 7", cfg.Policy.QueueLimit)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %v, want debug", cfg.Log.Level)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	isolate(t)

	cfg := DefaultConfig()
	cfg.Store.Driver = StoreDriverSQLite
	cfg.Policy.QueueLimit = 42
	cfg.Server.Token = "never-written"
	cfg.Timeout = 2 * time.Minute

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	path, _ := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "never-written") {
		t.Error("saved config must not contain the API token")
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.Store.Driver != StoreDriverSQLite || loaded.Policy.QueueLimit != 42 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Timeout != 2*time.Minute {
		t.Errorf("Timeout = %v, want 2m", loaded.Timeout)
	}
}

func TestAuditConnString(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.AuditConnString(); !strings.HasPrefix(got, "postgres://") {
		t.Errorf("AuditConnString() = %q, want postgres DSN", got)
	}

	cfg.Store.Driver = StoreDriverSQLite
	if got := cfg.AuditConnString(); got != "" {
		t.Errorf("AuditConnString() = %q, want empty for sqlite", got)
	}

	cfg.Audit.URL = "postgres://audit@host/db"
	if got := cfg.AuditConnString(); got != "postgres://audit@host/db" {
		t.Errorf("AuditConnString() = %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/x.db")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "x.db") {
		t.Errorf("ExpandPath() = %v", got)
	}
	if got, _ := ExpandPath("/abs"); got != "/abs" {
		t.Errorf("ExpandPath(/abs) = %v", got)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
