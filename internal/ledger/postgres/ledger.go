// Package postgres keeps the batch ledger in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

const defaultTable = "batch_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Ledger implements fleet.BatchLedger on Postgres.
type Ledger struct {
	pool  pool
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: p, table: table}, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: p, table: t}, nil
}

func tableName(t string) (string, error) {
	if t == "" {
		t = defaultTable
	}
	if !validTableName.MatchString(t) {
		return "", fmt.Errorf("invalid table name %q", t)
	}
	return t, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema creates the ledger table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	expected     BIGINT NOT NULL,
	completed    BIGINT NOT NULL DEFAULT 0,
	armed_at     TIMESTAMPTZ NOT NULL,
	finalized_at TIMESTAMPTZ
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// RecordArmed inserts a batch row, resetting it if the id already exists.
func (l *Ledger) RecordArmed(ctx context.Context, batch fleet.Batch) error {
	if batch.ID == "" {
		return fmt.Errorf("batch id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, expected, completed, armed_at, finalized_at)
VALUES ($1, $2, 0, $3, NULL)
ON CONFLICT (id) DO UPDATE SET
	expected = EXCLUDED.expected,
	completed = 0,
	armed_at = EXCLUDED.armed_at,
	finalized_at = NULL`, l.table)
	if _, err := l.pool.Exec(ctx, query, batch.ID, batch.Expected, batch.ArmedAt); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// RecordFinalized stamps the batch row.
func (l *Ledger) RecordFinalized(ctx context.Context, batchID string, completed int64, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET completed = $2, finalized_at = $3 WHERE id = $1`, l.table)
	tag, err := l.pool.Exec(ctx, query, batchID, completed, at)
	if err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize batch %s: %w", batchID, fleet.ErrUnknownBatch)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]fleet.BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT id, expected, completed, armed_at, finalized_at
FROM %s
ORDER BY armed_at DESC
LIMIT $1`, l.table)
	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []fleet.BatchRun
	for rows.Next() {
		var (
			run       fleet.BatchRun
			finalized pgtype.Timestamptz
		)
		if err := rows.Scan(&run.ID, &run.Expected, &run.Completed, &run.ArmedAt, &finalized); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if finalized.Valid {
			t := finalized.Time
			run.FinalizedAt = &t
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}
