//go:build integration

// Package dbtest starts a disposable PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
)

// NewPool runs a postgres container with every migration applied and returns
// a pool connected to it. Tests are skipped when no container runtime is
// reachable.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("container runtime not available, skipping integration test")
	}
	_ = provider.Close()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("odyssey_test"),
		postgres.WithUsername("odyssey"),
		postgres.WithPassword("odyssey"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.New(ctx, dsn, db.Options{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.RunMigrations(ctx, pool))
	return pool
}
