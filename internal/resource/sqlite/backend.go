// Package sqlite stores resource records in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/sitescout/internal/resource"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls where records are written.
type Config struct {
	Path  string
	Table string
}

// Backend is a resource.Backend over database/sql.
type Backend struct {
	db    *sql.DB
	table string
}

// Open opens (creating if needed) the database file and its records table.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage.sqlite.path is required")
	}
	table := cfg.Table
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	resource   TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (resource, id)
)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &Backend{db: db, table: table}, nil
}

// Put upserts one record.
func (b *Backend) Put(ctx context.Context, res, id string, data []byte) error {
	query := fmt.Sprintf(`
INSERT INTO %s (resource, id, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (resource, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, b.table)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := b.db.ExecContext(ctx, query, res, id, string(data), now); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Get reads one record.
func (b *Backend) Get(ctx context.Context, res, id string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE resource = ? AND id = ?`, b.table)
	var data string
	err := b.db.QueryRowContext(ctx, query, res, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resource.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return []byte(data), nil
}

// Delete removes one record.
func (b *Backend) Delete(ctx context.Context, res, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE resource = ? AND id = ?`, b.table)
	result, err := b.db.ExecContext(ctx, query, res, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return resource.ErrNotFound
	}
	return nil
}

// List returns every record of res ordered by id.
func (b *Backend) List(ctx context.Context, res string) ([][]byte, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE resource = ? ORDER BY id`, b.table)
	rows, err := b.db.QueryContext(ctx, query, res)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, []byte(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Resources lists distinct resource names.
func (b *Backend) Resources(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT resource FROM %s ORDER BY resource`, b.table)
	rows, err := b.db.QueryContext(ctx, query)
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

// Close closes the database handle.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
