// Package testdb starts a throwaway PostgreSQL for ledger integration tests.
package testdb

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	infrapg "github.com/kislikjeka/festpay/internal/infra/postgres"
	"github.com/kislikjeka/festpay/pkg/logger"
)

const image = "postgres:16-alpine"

// ledgerTables lists every table the migrations create, children first
const ledgerTables = "sync_items, transactions, wallets"

// TestDB is a migrated ledger database in a container
type TestDB struct {
	*infrapg.DB
	Container *postgres.PostgresContainer
	ConnStr   string
}

// Start runs a PostgreSQL container, applies the ledger migrations and
// connects through the same pool constructor the ledger binary uses
func Start(ctx context.Context) (*TestDB, error) {
	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase("festpay_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	tdb := &TestDB{Container: container}
	fail := func(step string, err error) (*TestDB, error) {
		tdb.Close(ctx)
		return nil, fmt.Errorf("failed to %s: %w", step, err)
	}

	tdb.ConnStr, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fail("get connection string", err)
	}

	if err := infrapg.Migrate(tdb.ConnStr, logger.Nop()); err != nil {
		return fail("migrate", err)
	}

	tdb.DB, err = infrapg.NewPool(ctx, infrapg.Config{URL: tdb.ConnStr, MaxConns: 10}, logger.Nop())
	if err != nil {
		return fail("connect", err)
	}

	return tdb, nil
}

// Reset empties every ledger table
func (db *TestDB) Reset(ctx context.Context) error {
	if _, err := db.Exec(ctx, "TRUNCATE TABLE "+ledgerTables+" CASCADE"); err != nil {
		return fmt.Errorf("failed to truncate ledger tables: %w", err)
	}
	return nil
}

// Close closes the pool and terminates the container
func (db *TestDB) Close(ctx context.Context) error {
	if db.DB != nil {
		db.DB.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}
