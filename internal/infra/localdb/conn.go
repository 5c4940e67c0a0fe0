package localdb

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/kislikjeka/festpay/pkg/logger"
)

// Config holds local database configuration
type Config struct {
	Path     string
	PoolSize int
}

// Pool is a fixed-size pool of SQLite connections in WAL mode: concurrent
// readers, one writer
type Pool struct {
	inner  *sqlitex.Pool
	logger *logger.Logger
	path   string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// OpenPool opens the database file, creating it and the schema if needed
func OpenPool(cfg Config, log *logger.Logger) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("localdb: path is required")
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database %s: %w", cfg.Path, err)
	}

	log.Info("local database opened", "path", cfg.Path, "pool_size", size)

	return &Pool{inner: inner, logger: log, path: cfg.Path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("localdb: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("localdb: failed to apply schema: %w", err)
	}
	return nil
}

// Take borrows a connection; callers must Put it back
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take local database connection: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes every connection, waiting for borrowed ones to come back
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("failed to close local database", "path", p.path, "error", err)
		return fmt.Errorf("failed to close local database: %w", err)
	}
	p.logger.Info("local database closed", "path", p.path)
	return nil
}
