// Package testutil starts disposable backing services for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"

	"github.com/pwannenmacher/MetaRate/internal/database"
	"github.com/pwannenmacher/MetaRate/migrations"
)

// TestContainers holds references to test containers
type TestContainers struct {
	PostgresContainer *postgres.PostgresContainer
	DB                *sql.DB
	DBConnString      string
}

// SetupPostgres starts a PostgreSQL container and applies the embedded migrations.
// The test is skipped under -short.
func SetupPostgres(t *testing.T) *TestContainers {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:18",
		postgres.WithDatabase("metarate_test"),
		postgres.WithUsername("metarate_test"),
		postgres.WithPassword("metarate_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	tc := &TestContainers{PostgresContainer: postgresContainer}
	t.Cleanup(func() { tc.Cleanup(t) })

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	tc.DBConnString = connStr

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	tc.DB = db

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	sub, err := fs.Sub(migrations.FS, string(database.Postgres))
	if err != nil {
		t.Fatalf("Failed to open migrations: %v", err)
	}
	if err := database.NewMigrationExecutor(db, database.Postgres).RunMigrations(sub); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return tc
}

// Cleanup terminates all test containers
func (tc *TestContainers) Cleanup(t *testing.T) {
	t.Helper()

	if tc.DB != nil {
		tc.DB.Close()
	}

	if tc.PostgresContainer != nil {
		if err := tc.PostgresContainer.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
}

// CleanupTables truncates the application tables between tests
func (tc *TestContainers) CleanupTables(t *testing.T) {
	t.Helper()
	if _, err := tc.DB.Exec(`TRUNCATE review_sessions, action_logs, users RESTART IDENTITY`); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}
