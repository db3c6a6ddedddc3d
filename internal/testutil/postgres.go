//go:build integration

// Package testutil starts the containers used by integration tests.
package testutil

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/clover/pkg/database"
)

const databaseName = "clover"

// Logger discards every message.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// MigrationsPath is the absolute path of db/pg.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "pg")
}

// Postgres starts a postgres container, applies the migrations and returns a connected DB. The
// container is terminated when the test ends.
func Postgres(t *testing.T) database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(databaseName),
		postgres.WithUsername("clover"),
		postgres.WithPassword("clover"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	logger := Logger()
	db := database.NewDatabaseInstance(conn, logger)
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: MigrationsPath()})
	require.NoError(t, migrations.Migrate(databaseName, db.SQL()))
	return db
}
