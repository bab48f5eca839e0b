package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/salelink/config"
	"github.com/otherjamesbrown/salelink/pkg/db"
)

func testDbDeps() *DbCommandDeps {
	return DefaultDbDeps(&Deps{LoadConfig: func() (*config.Config, error) { return config.DefaultConfig(), nil }})
}

func TestDbCommand(t *testing.T) {
	cmd := NewDbCommand(testDbDeps())

	assert.Equal(t, "db", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
}

func TestDbCommand_HasSubcommands(t *testing.T) {
	cmd := NewDbCommand(testDbDeps())

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Use] = true
	}
	assert.True(t, names["migrate"], "db command should have 'migrate' subcommand")
	assert.True(t, names["status"], "db command should have 'status' subcommand")
}

func TestDbMigrateCommand_Flags(t *testing.T) {
	cmd := NewDbCommand(testDbDeps())

	migrateCmd, _, err := cmd.Find([]string{"migrate"})
	require.NoError(t, err)

	for name, typ := range map[string]string{"dry-run": "bool", "yes": "bool", "target": "string"} {
		f := migrateCmd.Flags().Lookup(name)
		require.NotNil(t, f, "migrate command should have --%s", name)
		assert.Equal(t, typ, f.Value.Type())
		assert.NotEmpty(t, f.Usage)
	}
	assert.NotEmpty(t, migrateCmd.Example)
}

func TestDbCommand_DefaultsToEmbeddedMigrations(t *testing.T) {
	dbMigrationDir = ""
	deps := testDbDeps()

	found, err := db.FindMigrations(deps.migrationFS())
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, "001_sales_properties", found[0].Version)
}

func TestConnectToDatabase_RejectsSQLiteStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.StoreDriverSQLite

	_, err := connectToDatabase(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres store")
}

func TestWriteMigrationStatus(t *testing.T) {
	applied := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	status := &db.MigrationStatus{
		Applied: []db.MigrationStatusEntry{{Version: "001", Name: "sales_properties", AppliedAt: &applied}},
		Pending: []db.MigrationStatusEntry{{Version: "002", Name: "research_queue"}},
		Drift:   []db.MigrationStatusEntry{{Version: "009", Name: "gone", AppliedAt: &applied}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeMigrationStatus(&buf, status))

	out := buf.String()
	assert.Contains(t, out, "Applied Migrations (1)")
	assert.Contains(t, out, "2026-01-05 09:30:00")
	assert.Contains(t, out, "Pending Migrations (1)")
	assert.Contains(t, out, "Summary: 1 applied, 1 pending, 1 drift")
}

func TestWriteMigrationStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMigrationStatus(&buf, &db.MigrationStatus{}))
	assert.Equal(t, "No migrations found.\n", buf.String())
}
