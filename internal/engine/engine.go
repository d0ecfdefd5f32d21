// Package engine hosts the live tables and coordinates them with the
// catalog and snapshot storage. Tables perform no locking of their own;
// the engine's mutex is the serialization boundary every caller goes
// through.
package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tabulon/tabulon/internal/catalog"
	"github.com/tabulon/tabulon/internal/observability"
	"github.com/tabulon/tabulon/internal/qlang"
	"github.com/tabulon/tabulon/internal/snapshot"
	"github.com/tabulon/tabulon/pkg/query"
	"github.com/tabulon/tabulon/pkg/table"
	"github.com/tabulon/tabulon/pkg/types"
)

// Engine owns the in-memory tables and their persistence.
type Engine struct {
	mu      sync.Mutex
	tables  map[string]*table.Table
	dirty   map[string]bool
	cat     catalog.Catalog
	snapper *snapshot.Snapshotter
	stats   *observability.QueryStats
}

// Result is one query's materialized output, shaped for transport.
type Result struct {
	Table   string          `json:"table"`
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
	RowIDs  []string        `json:"row_ids"`
	Total   int             `json:"total"`
}

// New creates an engine over the given catalog and snapshotter.
func New(cat catalog.Catalog, snapper *snapshot.Snapshotter) *Engine {
	return &Engine{
		tables:  make(map[string]*table.Table),
		dirty:   make(map[string]bool),
		cat:     cat,
		snapper: snapper,
		stats:   observability.NewQueryStats(time.Hour),
	}
}

// Stats returns the engine's query statistics collector.
func (e *Engine) Stats() *observability.QueryStats {
	return e.stats
}

// CreateTable registers a new table in the catalog and brings it live.
func (e *Engine) CreateTable(ctx context.Context, name string, schema types.Schema) error {
	t, err := table.New(name, schema)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tables[name]; ok {
		return types.NewSchemaError(types.CodeInvalidSchema,
			fmt.Sprintf("table %q already exists", name))
	}
	if _, err := e.cat.Register(ctx, name, schema); err != nil {
		return err
	}
	e.tables[name] = t
	log.Printf("engine: created table %q (%d columns)", name, t.ColumnCount())
	return nil
}

// get returns the live table, loading it from its snapshot on first
// access. Callers must hold e.mu.
func (e *Engine) get(ctx context.Context, name string) (*table.Table, error) {
	if t, ok := e.tables[name]; ok {
		return t, nil
	}

	// Not in memory; the catalog decides whether it exists at all.
	rec, err := e.cat.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	var t *table.Table
	if rec.SnapshotKey == "" {
		t, err = table.New(name, rec.Schema)
	} else {
		t, err = e.snapper.Load(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	e.tables[name] = t
	log.Printf("engine: loaded table %q (%d rows)", name, t.RowCount())
	return t, nil
}

// ListTables returns the catalog records of all tables.
func (e *Engine) ListTables(ctx context.Context) ([]*catalog.TableRecord, error) {
	return e.cat.List(ctx)
}

// TableSchema returns the live schema of a table.
func (e *Engine) TableSchema(ctx context.Context, name string) (types.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.get(ctx, name)
	if err != nil {
		return types.Schema{}, err
	}
	return t.Schema(), nil
}

// Append adds one row to a table.
func (e *Engine) Append(ctx context.Context, name string, values ...interface{}) (types.RowID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.get(ctx, name)
	if err != nil {
		return types.ZeroRowID, err
	}
	id, err := t.Append(values...)
	if err != nil {
		return types.ZeroRowID, err
	}
	e.dirty[name] = true
	return id, nil
}

// AddColumn appends a column to a table's schema and records the new
// schema in the catalog.
func (e *Engine) AddColumn(ctx context.Context, name string, def types.ColumnDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.get(ctx, name)
	if err != nil {
		return err
	}
	if err := t.AddColumn(def); err != nil {
		return err
	}
	e.dirty[name] = true
	return e.cat.UpdateSchema(ctx, name, t.Schema(), t.Generation())
}

// RemoveColumn drops a column from a table's schema and records the new
// schema in the catalog.
func (e *Engine) RemoveColumn(ctx context.Context, name string, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.get(ctx, name)
	if err != nil {
		return err
	}
	if err := t.RemoveColumn(index); err != nil {
		return err
	}
	e.dirty[name] = true
	return e.cat.UpdateSchema(ctx, name, t.Schema(), t.Generation())
}

// BuildFilter builds a column membership filter used by equality queries
// to prove absence without a scan.
func (e *Engine) BuildFilter(ctx context.Context, name string, column int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.get(ctx, name)
	if err != nil {
		return err
	}
	return t.BuildFilter(column)
}

// Query runs a filter expression against a table and materializes the
// matching rows. An empty filter matches everything. The sort column may
// be empty; limit <= 0 means no limit.
func (e *Engine) Query(ctx context.Context, name, filter, sortColumn string, sortDesc bool, limit int) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.get(ctx, name)
	if err != nil {
		return nil, err
	}

	q, err := qlang.Filter(t, filter)
	if err != nil {
		return nil, err
	}
	q.Observe(e.stats)

	if sortColumn != "" {
		idx, err := t.ColumnIndex(sortColumn)
		if err != nil {
			return nil, err
		}
		q.Sort(idx, sortDesc)
	}

	view, err := q.Run()
	if err != nil {
		return nil, err
	}
	return materialize(t, view, limit)
}

// RemoveRows deletes every row matching the filter expression. It returns
// the number of rows removed. An empty filter empties the table.
func (e *Engine) RemoveRows(ctx context.Context, name, filter string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.get(ctx, name)
	if err != nil {
		return 0, err
	}

	q, err := qlang.Filter(t, filter)
	if err != nil {
		return 0, err
	}
	view, err := q.Run()
	if err != nil {
		return 0, err
	}

	matched := view.RowCount()
	if matched == 0 {
		return 0, nil
	}
	if err := view.RemoveAllRows(); err != nil {
		// Partial failures still removed rows; the table must be persisted.
		e.dirty[name] = true
		return matched - view.RowCount(), err
	}
	e.dirty[name] = true
	return matched, nil
}

// Snapshot persists a table to object storage and records the snapshot in
// the catalog.
func (e *Engine) Snapshot(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(ctx, name)
}

func (e *Engine) snapshotLocked(ctx context.Context, name string) error {
	t, err := e.get(ctx, name)
	if err != nil {
		return err
	}
	key, etag, err := e.snapper.Save(ctx, t)
	if err != nil {
		return err
	}
	if err := e.cat.UpdateSnapshot(ctx, name, key, etag, t.Generation(), t.RowCount()); err != nil {
		return err
	}
	delete(e.dirty, name)
	return nil
}

// snapshotAsyncLocked encodes the table under the engine lock and hands the
// upload to the snapshotter's worker pool. The catalog is updated when the
// upload lands; a failed upload re-marks the table dirty so the next pass
// retries it. Callers must hold e.mu.
func (e *Engine) snapshotAsyncLocked(ctx context.Context, name string) error {
	t, err := e.get(ctx, name)
	if err != nil {
		return err
	}
	gen := t.Generation()
	rows := t.RowCount()
	err = e.snapper.SaveAsync(ctx, t, func(key, etag string, saveErr error) {
		if saveErr == nil {
			saveErr = e.cat.UpdateSnapshot(ctx, name, key, etag, gen, rows)
		}
		if saveErr != nil {
			log.Printf("engine: background snapshot %q: %v", name, saveErr)
			e.mu.Lock()
			e.dirty[name] = true
			e.mu.Unlock()
		}
	})
	if err != nil {
		return err
	}
	delete(e.dirty, name)
	return nil
}

// SnapshotDirty synchronously persists every table mutated since its last
// snapshot. It is the shutdown path; the background loop uses
// SnapshotDirtyAsync instead.
func (e *Engine) SnapshotDirty(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name := range e.dirty {
		if err := e.snapshotLocked(ctx, name); err != nil {
			log.Printf("engine: snapshot %q failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SnapshotDirtyAsync schedules a background snapshot of every dirty table.
// Encoding happens inline so each blob reflects a consistent point in time;
// the uploads overlap on the snapshotter's worker pool.
func (e *Engine) SnapshotDirtyAsync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name := range e.dirty {
		if err := e.snapshotAsyncLocked(ctx, name); err != nil {
			log.Printf("engine: snapshot %q failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunSnapshotLoop snapshots dirty tables on the given interval until the
// context is canceled, uploading in the background. Each tick also prunes
// idle predicate statistics. Close still performs a final synchronous
// flush.
func (e *Engine) RunSnapshotLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SnapshotDirtyAsync(ctx); err != nil {
				log.Printf("engine: background snapshot: %v", err)
			}
			e.stats.Prune()
		}
	}
}

// DropTable closes a table and removes it from the catalog and storage.
func (e *Engine) DropTable(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.cat.Get(ctx, name); err != nil {
		return err
	}
	if t, ok := e.tables[name]; ok {
		t.Close()
		delete(e.tables, name)
	}
	delete(e.dirty, name)
	if err := e.cat.Remove(ctx, name); err != nil {
		return err
	}
	if err := e.snapper.Delete(ctx, name); err != nil {
		return err
	}
	log.Printf("engine: dropped table %q", name)
	return nil
}

// Close flushes dirty tables and closes every live table.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.SnapshotDirty(ctx)

	e.mu.Lock()
	for name, t := range e.tables {
		t.Close()
		delete(e.tables, name)
	}
	e.mu.Unlock()
	return err
}

// materialize copies a view's rows out of the table into a Result. Values
// that do not transport as JSON primitives are re-encoded.
func materialize(t *table.Table, view *query.View, limit int) (*Result, error) {
	schema := t.Schema()
	res := &Result{
		Table:   t.Name(),
		Columns: schema.ColumnNames(),
		Total:   view.RowCount(),
		Rows:    [][]interface{}{},
		RowIDs:  []string{},
	}

	n := view.RowCount()
	if limit > 0 && limit < n {
		n = limit
	}
	for p := 0; p < n; p++ {
		id, err := view.RowIDAt(p)
		if err != nil {
			return nil, err
		}
		values, ok := t.Values(id)
		if !ok {
			return nil, types.NewTableError(types.CodeRowNotFound,
				fmt.Sprintf("no row with identity %s", id))
		}

		row := make([]interface{}, len(values))
		for i, v := range values {
			row[i] = transportValue(v)
		}
		res.Rows = append(res.Rows, row)
		res.RowIDs = append(res.RowIDs, id.String())
	}
	return res, nil
}

func transportValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case types.RowID:
		return tv.String()
	case []byte:
		return base64.StdEncoding.EncodeToString(tv)
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
