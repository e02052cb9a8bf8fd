// Package postgres stores resource records as JSONB rows in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitescout/internal/resource"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
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
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Backend is a resource.Backend over a pgx pool.
type Backend struct {
	pool  pool
	table string
}

// New connects to Postgres and creates the records table if needed.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
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
	b := &Backend{pool: p, table: table}
	if err := b.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return b, nil
}

// NewWithPool constructs a backend from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Backend, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Backend{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Migrate creates the records table.
func (b *Backend) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	resource   TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (resource, id)
)`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Put upserts one record.
func (b *Backend) Put(ctx context.Context, res, id string, data []byte) error {
	query := fmt.Sprintf(`
INSERT INTO %s (resource, id, data, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (resource, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, b.table)
	if _, err := b.pool.Exec(ctx, query, res, id, data); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Get reads one record.
func (b *Backend) Get(ctx context.Context, res, id string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE resource = $1 AND id = $2`, b.table)
	var data []byte
	err := b.pool.QueryRow(ctx, query, res, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, resource.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return data, nil
}

// Delete removes one record.
func (b *Backend) Delete(ctx context.Context, res, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE resource = $1 AND id = $2`, b.table)
	tag, err := b.pool.Exec(ctx, query, res, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return resource.ErrNotFound
	}
	return nil
}

// List returns every record of res ordered by id.
func (b *Backend) List(ctx context.Context, res string) ([][]byte, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE resource = $1 ORDER BY id`, b.table)
	rows, err := b.pool.Query(ctx, query, res)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Resources lists distinct resource names.
func (b *Backend) Resources(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT resource FROM %s ORDER BY resource`, b.table)
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select resources: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool resources.
func (b *Backend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}
