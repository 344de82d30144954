// Package store is the Snapshot Store Gateway of spec §4.2: the sole typed
// access path to coin_data, indicator_data, and sync_log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/aristath/coinwatch/internal/errs"
)

// Config controls how the gateway opens its backing SQLite file.
type Config struct {
	Path             string
	MaxOpenConns     int
	StatementTimeout time.Duration
	SubBatchSize     int // B, max rows per atomic upsert
}

// Gateway wraps the shared *sql.DB, mirroring the teacher's DB wrapper:
// WAL mode, bounded pool, PRAGMA tuning via the connection string.
type Gateway struct {
	conn             *sql.DB
	statementTimeout time.Duration
	subBatchSize     int
	log              zerolog.Logger
}

// New opens the database, applies PRAGMAs, and runs the schema migration.
func New(cfg Config, log zerolog.Logger) (*Gateway, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		cfg.Path = absPath
	}

	connStr := cfg.Path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=cache_size(-64000)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)
	conn.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := conn.ExecContext(pingCtx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	subBatch := cfg.SubBatchSize
	if subBatch <= 0 {
		subBatch = 1000
	}
	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Gateway{
		conn:             conn,
		statementTimeout: timeout,
		subBatchSize:     subBatch,
		log:              log.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the underlying connection pool.
func (g *Gateway) Close() error {
	return g.conn.Close()
}

// classify turns a raw sqlite error into the transient/permanent taxonomy
// per §4.2 ("Transient connectivity errors ... Constraint violations ...
// surface as permanent").
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "no such table") {
		return errs.Wrap(errs.Permanent, op, err)
	}
	return errs.Wrap(errs.Transient, op, err)
}
