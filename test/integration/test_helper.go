//go:build integration

// Package integration runs the postgres-backed store against a real
// database: TEST_DATABASE_DSN when set, otherwise a throwaway container.
package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"tradeledger/pkg/config"
)

var (
	dbOnce    sync.Once
	testDB    *gorm.DB
	dbErr     error
	container *tcpostgres.PostgresContainer
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = container.Terminate(context.Background())
	}
	os.Exit(code)
}

func startContainer(ctx context.Context) (string, error) {
	c, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tradeledger_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", err
	}
	container = c
	return c.ConnectionString(ctx, "sslmode=disable", "TimeZone=UTC")
}

func openDB(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		dsn, dbErr = startContainer(context.Background())
		if dbErr != nil {
			return
		}
	}
	if testDB, dbErr = config.OpenDB(dsn); dbErr != nil {
		return
	}
	dbErr = config.ExecuteMigrations(testDB, "../../migrations")
}

// requireDB returns the shared database with every ledger table emptied.
func requireDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbOnce.Do(func() { openDB(t) })
	if testDB == nil && dbErr == nil {
		t.Skip("no database available")
	}
	if dbErr != nil {
		t.Fatalf("test database: %v", dbErr)
	}
	err := testDB.Exec(`TRUNCATE tracked_address, chain_cursor, trade_record, position_lot,
		realized_close, agent_stats RESTART IDENTITY`).Error
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return testDB
}
