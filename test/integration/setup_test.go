//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labportal/labportal/internal/platform/db"
	"github.com/labportal/labportal/migrations"
)

// globalPool is the migrated test database, initialized once in TestMain.
var globalPool *pgxpool.Pool

// TestMain uses LABPORTAL_TEST_DATABASE_URL when set and otherwise starts a
// throwaway Postgres container.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("LABPORTAL_TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, connStr, 4, 1)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// truncateCache empties the response cache between tests.
func truncateCache(t *testing.T) {
	t.Helper()
	if _, err := globalPool.Exec(context.Background(), "TRUNCATE response_cache"); err != nil {
		t.Fatalf("truncate response_cache: %v", err)
	}
}
