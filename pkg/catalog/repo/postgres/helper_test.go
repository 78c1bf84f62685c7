package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/tendant/product-catalog/pkg/catalog/repo/postgres"
)

const testSchema = "catalog_test"

// testDB is a pool whose sessions use an isolated schema
type testDB struct {
	Pool *pgxpool.Pool
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()

	connString := os.Getenv("CATALOG_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("CATALOG_TEST_DATABASE_URL not set")
	}
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", testSchema))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")

	_, err = pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", testSchema))
	require.NoError(t, err)
	require.NoError(t, postgres.EnsureSchema(ctx, pool))

	db := &testDB{Pool: pool}
	db.truncate(t)
	t.Cleanup(pool.Close)
	return db
}

func (db *testDB) truncate(t *testing.T) {
	t.Helper()
	_, err := db.Pool.Exec(context.Background(), `
		TRUNCATE catalog_collection_member, catalog_collection, catalog_lineage,
			catalog_product_source, catalog_product, catalog_source CASCADE`)
	require.NoError(t, err, "Failed to truncate catalog tables")
}
