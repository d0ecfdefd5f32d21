// Package catalog persists table metadata in catalog.db. The catalog is
// the authority on which tables exist, their schemas, and where their
// latest snapshot lives in object storage.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tabulon/tabulon/pkg/types"
)

// Catalog manages table metadata.
type Catalog interface {
	// Register adds a new table to the catalog and returns its assigned ID.
	Register(ctx context.Context, name string, schema types.Schema) (string, error)

	// Get retrieves a single table record by name.
	Get(ctx context.Context, name string) (*TableRecord, error)

	// List returns all registered tables, ordered by name.
	List(ctx context.Context) ([]*TableRecord, error)

	// UpdateSnapshot records the latest snapshot of a table.
	UpdateSnapshot(ctx context.Context, name, snapshotKey, etag string, generation uint64, rowCount int) error

	// UpdateSchema replaces the stored schema and generation after a
	// structural change.
	UpdateSchema(ctx context.Context, name string, schema types.Schema, generation uint64) error

	// Remove deletes a table from the catalog.
	Remove(ctx context.Context, name string) error

	// Close closes the catalog database connection.
	Close() error
}

// TableRecord is one table's catalog entry.
type TableRecord struct {
	TableID     string
	Name        string
	Schema      types.Schema
	Generation  uint64
	SnapshotKey string
	SnapshotTag string
	RowCount    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
	mu sync.Mutex // serializes writes; SQLite allows one writer
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tables (
	table_id     TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	schema_json  TEXT NOT NULL,
	generation   INTEGER NOT NULL DEFAULT 0,
	snapshot_key TEXT NOT NULL DEFAULT '',
	snapshot_tag TEXT NOT NULL DEFAULT '',
	row_count    INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tables_name ON tables(name);
`

// NewCatalog opens (or creates) the catalog database at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

// Register adds a new table to the catalog.
func (c *SQLiteCatalog) Register(ctx context.Context, name string, schema types.Schema) (string, error) {
	if err := schema.Validate(); err != nil {
		return "", err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("catalog: marshal schema: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	now := time.Now().UnixMilli()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tables (table_id, name, schema_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, name, string(schemaJSON), now, now)
	if err != nil {
		return "", fmt.Errorf("catalog: register table %q: %w", name, err)
	}
	return id, nil
}

// Get retrieves a single table record by name.
func (c *SQLiteCatalog) Get(ctx context.Context, name string) (*TableRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT table_id, name, schema_json, generation, snapshot_key, snapshot_tag,
		       row_count, created_at, updated_at
		FROM tables WHERE name = ?`, name)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, types.NewStorageError(types.CodeTableNotFound,
			fmt.Sprintf("table %q not in catalog", name), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get table %q: %w", name, err)
	}
	return rec, nil
}

// List returns all registered tables, ordered by name.
func (c *SQLiteCatalog) List(ctx context.Context) ([]*TableRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_id, name, schema_json, generation, snapshot_key, snapshot_tag,
		       row_count, created_at, updated_at
		FROM tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list tables: %w", err)
	}
	defer rows.Close()

	var records []*TableRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan table record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list tables: %w", err)
	}
	return records, nil
}

// UpdateSnapshot records the latest snapshot of a table.
func (c *SQLiteCatalog) UpdateSnapshot(ctx context.Context, name, snapshotKey, etag string, generation uint64, rowCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
		UPDATE tables
		SET snapshot_key = ?, snapshot_tag = ?, generation = ?, row_count = ?, updated_at = ?
		WHERE name = ?`,
		snapshotKey, etag, int64(generation), rowCount, time.Now().UnixMilli(), name)
	if err != nil {
		return fmt.Errorf("catalog: update snapshot for %q: %w", name, err)
	}
	return requireHit(res, name)
}

// UpdateSchema replaces the stored schema and generation.
func (c *SQLiteCatalog) UpdateSchema(ctx context.Context, name string, schema types.Schema, generation uint64) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("catalog: marshal schema: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
		UPDATE tables SET schema_json = ?, generation = ?, updated_at = ? WHERE name = ?`,
		string(schemaJSON), int64(generation), time.Now().UnixMilli(), name)
	if err != nil {
		return fmt.Errorf("catalog: update schema for %q: %w", name, err)
	}
	return requireHit(res, name)
}

// Remove deletes a table from the catalog.
func (c *SQLiteCatalog) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM tables WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("catalog: remove table %q: %w", name, err)
	}
	return requireHit(res, name)
}

// Close closes the catalog database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*TableRecord, error) {
	var (
		rec        TableRecord
		schemaJSON string
		generation int64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&rec.TableID, &rec.Name, &schemaJSON, &generation,
		&rec.SnapshotKey, &rec.SnapshotTag, &rec.RowCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schemaJSON), &rec.Schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	rec.Generation = uint64(generation)
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

func requireHit(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: rows affected: %w", err)
	}
	if n == 0 {
		return types.NewStorageError(types.CodeTableNotFound,
			fmt.Sprintf("table %q not in catalog", name), nil)
	}
	return nil
}
