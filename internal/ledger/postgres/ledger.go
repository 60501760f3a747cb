// Package postgres records archived order documents in a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/orderscraper/internal/scraper"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "order_artifacts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Ledger writes one row per created artifact.
type Ledger struct {
	pool  execCloser
	table string
}

// New connects to Postgres and prepares the ledger table.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := l.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Ledger, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{pool: pool, table: table}, nil
}

// EnsureSchema creates the ledger table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	record_id TEXT PRIMARY KEY,
	order_date DATE NOT NULL,
	path TEXT NOT NULL,
	mirror_uri TEXT,
	run_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Record upserts the row for entry.RecordID.
func (l *Ledger) Record(ctx context.Context, entry scraper.LedgerEntry) error {
	if l == nil || l.pool == nil {
		return errors.New("ledger is not configured")
	}
	if entry.RecordID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (record_id, order_date, path, mirror_uri, run_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (record_id) DO UPDATE SET
	order_date = EXCLUDED.order_date,
	path = EXCLUDED.path,
	mirror_uri = EXCLUDED.mirror_uri,
	run_id = EXCLUDED.run_id,
	created_at = EXCLUDED.created_at`, l.table)

	var mirror any
	if entry.MirrorURI != "" {
		mirror = entry.MirrorURI
	}
	if _, err := l.pool.Exec(ctx, query,
		entry.RecordID,
		entry.OrderDate,
		entry.Path,
		mirror,
		entry.RunID,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}
