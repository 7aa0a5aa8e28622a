package e2e_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	testPool     *pgxpool.Pool
	testPoolOnce sync.Once
	testCleanup  func()
	testDSN      string
	testPoolErr  error
)

// getSharedPostgresDatabase returns a shared PostgreSQL database for E2E tests.
// The container is reused across all tests and terminated by TestMain.
func getSharedPostgresDatabase(t *testing.T) (string, *pgxpool.Pool) {
	t.Helper()

	testPoolOnce.Do(func() {
		ctx := context.Background()

		pgContainer, err := pgcontainer.Run(ctx,
			"postgres:18-alpine",
			pgcontainer.WithDatabase("testdb"),
			pgcontainer.WithUsername("testuser"),
			pgcontainer.WithPassword("testpass"),
			pgcontainer.BasicWaitStrategies(),
		)
		if err != nil {
			testPoolErr = err
			return
		}

		testCleanup = func() {
			if testPool != nil {
				testPool.Close()
			}
			_ = testcontainers.TerminateContainer(pgContainer)
		}

		connectionStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			testPoolErr = err
			return
		}

		pool, err := pgxpool.New(ctx, connectionStr)
		if err != nil {
			testPoolErr = err
			return
		}

		testPool = pool
		testDSN = connectionStr
	})

	if testPoolErr != nil {
		t.Fatalf("failed to start postgres: %v", testPoolErr)
	}

	return testDSN, testPool
}
