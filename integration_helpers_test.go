//go:build integration

package dcquery_test

import (
	"context"
	"os"
	"testing"

	dcquery "github.com/datacommons-io/query-compiler"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

// acquireTestDB locks a dedicated database instance from the shared pgflock
// pool for the duration of the test, so integration tests that introspect or
// query a live schema can run in parallel without clobbering each other.
func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultTestConfig() dcquery.Config {
	cfg := dcquery.DefaultServerConfig()
	return cfg.Config
}

func newTestEngine(t *testing.T, config dcquery.Config) *dcquery.Engine {
	t.Helper()
	connStr := acquireTestDB(t)
	ctx := context.Background()
	e, err := dcquery.NewEngine(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}
