// Package table implements the base table collaborator: an in-memory,
// column-typed row store with stable row identities.
//
// A row's identity (types.RowID) survives insertion and deletion of other
// rows; its position does not. Schema changes (column add/remove) bump the
// table's generation counter, which invalidates views and queries built
// against the old schema.
//
// The table performs no internal locking. Concurrent mutation from multiple
// goroutines requires an external serialization boundary; this matches the
// single-writer discipline of the engine the table fronts.
package table

import (
	"fmt"
	"time"

	"github.com/tabulon/tabulon/internal/bloom"
	"github.com/tabulon/tabulon/pkg/types"
)

// Table is an ordered, column-typed store of rows. Views and queries hold
// a non-owning reference to it together with a generation stamp.
type Table struct {
	name   string
	schema types.Schema
	gen    uint64
	closed bool

	idgen *types.RowIDGenerator
	order []types.RowID
	pos   map[types.RowID]int
	rows  map[types.RowID][]interface{}

	// Optional per-column membership filters, keyed by column index.
	// Kept up to date on Append, dropped on schema change.
	filters map[int]*bloom.ColumnFilter
}

// New creates an empty table with the given schema.
func New(name string, schema types.Schema) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Table{
		name:    name,
		schema:  schema,
		idgen:   types.NewRowIDGenerator(),
		pos:     make(map[types.RowID]int),
		rows:    make(map[types.RowID][]interface{}),
		filters: make(map[int]*bloom.ColumnFilter),
	}, nil
}

// Restore creates an empty table resuming at a previously persisted
// generation, so views and catalog records stamped before persistence stay
// consistent with the restored table. Rows are replayed with RestoreRow.
func Restore(name string, schema types.Schema, generation uint64) (*Table, error) {
	t, err := New(name, schema)
	if err != nil {
		return nil, err
	}
	t.gen = generation
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Schema returns a copy of the table's schema.
func (t *Table) Schema() types.Schema {
	cols := make([]types.ColumnDef, len(t.schema.Columns))
	copy(cols, t.schema.Columns)
	return types.Schema{Columns: cols}
}

// Generation returns the schema generation stamp. It increments on every
// structural change (column add/remove, close); row mutation leaves it
// unchanged, which is what keeps outstanding views identity-stable.
func (t *Table) Generation() uint64 {
	return t.gen
}

// IsClosed reports whether the table has been closed.
func (t *Table) IsClosed() bool {
	return t.closed
}

// Close marks the table closed. Outstanding views and queries fail fast on
// their next operation instead of touching freed state.
func (t *Table) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.gen++
	t.order = nil
	t.pos = nil
	t.rows = nil
	t.filters = nil
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	return len(t.order)
}

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int {
	return len(t.schema.Columns)
}

// ColumnType returns the type of the column at the given index.
func (t *Table) ColumnType(index int) (types.Type, error) {
	if index < 0 || index >= len(t.schema.Columns) {
		return 0, types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("column index %d outside [0, %d)", index, len(t.schema.Columns)))
	}
	return t.schema.Columns[index].Type, nil
}

// ColumnName returns the name of the column at the given index.
func (t *Table) ColumnName(index int) (string, error) {
	if index < 0 || index >= len(t.schema.Columns) {
		return "", types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("column index %d outside [0, %d)", index, len(t.schema.Columns)))
	}
	return t.schema.Columns[index].Name, nil
}

// ColumnIndex returns the index of the named column.
func (t *Table) ColumnIndex(name string) (int, error) {
	idx := t.schema.ColumnIndex(name)
	if idx < 0 {
		return 0, types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("no column named %q", name))
	}
	return idx, nil
}

// Append adds a row with one value per column, in schema order, and
// returns its identity. Values are type checked against the schema before
// anything is stored.
func (t *Table) Append(values ...interface{}) (types.RowID, error) {
	if t.closed {
		return types.ZeroRowID, types.NewTableError(types.CodeTableClosed, "append on closed table")
	}
	if len(values) != len(t.schema.Columns) {
		return types.ZeroRowID, types.NewSchemaError(types.CodeTypeMismatch,
			fmt.Sprintf("got %d values for %d columns", len(values), len(t.schema.Columns)))
	}

	row := make([]interface{}, len(values))
	for i, v := range values {
		cv, err := t.checkValue(i, v)
		if err != nil {
			return types.ZeroRowID, err
		}
		row[i] = cv
	}

	id, err := t.idgen.Next()
	if err != nil {
		return types.ZeroRowID, types.NewInternalError("assign row identity", err)
	}

	t.pos[id] = len(t.order)
	t.order = append(t.order, id)
	t.rows[id] = row

	for col, f := range t.filters {
		f.Add(row[col])
	}

	return id, nil
}

// RestoreRow appends a row under a caller-supplied identity. Snapshot
// recovery uses it to rebuild a table whose row identities must match the
// ones that were persisted.
func (t *Table) RestoreRow(id types.RowID, values ...interface{}) error {
	if t.closed {
		return types.NewTableError(types.CodeTableClosed, "restore on closed table")
	}
	if id.IsZero() {
		return types.NewTableError(types.CodeRowNotFound, "restore with zero identity")
	}
	if _, ok := t.pos[id]; ok {
		return types.NewTableError(types.CodeRowNotFound,
			fmt.Sprintf("identity %s already present", id))
	}
	if len(values) != len(t.schema.Columns) {
		return types.NewSchemaError(types.CodeTypeMismatch,
			fmt.Sprintf("got %d values for %d columns", len(values), len(t.schema.Columns)))
	}

	row := make([]interface{}, len(values))
	for i, v := range values {
		cv, err := t.checkValue(i, v)
		if err != nil {
			return err
		}
		row[i] = cv
	}

	t.pos[id] = len(t.order)
	t.order = append(t.order, id)
	t.rows[id] = row

	for col, f := range t.filters {
		f.Add(row[col])
	}
	return nil
}

// DeleteRow removes the row with the given identity. Positions of rows
// after it shift down by one; their identities are unaffected.
func (t *Table) DeleteRow(id types.RowID) error {
	if t.closed {
		return types.NewTableError(types.CodeTableClosed, "delete on closed table")
	}
	p, ok := t.pos[id]
	if !ok {
		return types.NewTableError(types.CodeRowNotFound,
			fmt.Sprintf("no row with identity %s", id))
	}

	t.order = append(t.order[:p], t.order[p+1:]...)
	for i := p; i < len(t.order); i++ {
		t.pos[t.order[i]] = i
	}
	delete(t.pos, id)
	delete(t.rows, id)
	return nil
}

// HasRow reports whether a row with the given identity exists.
func (t *Table) HasRow(id types.RowID) bool {
	_, ok := t.pos[id]
	return ok
}

// PositionOf returns the current physical position of the row, or an error
// if the identity is not present.
func (t *Table) PositionOf(id types.RowID) (int, error) {
	p, ok := t.pos[id]
	if !ok {
		return 0, types.NewTableError(types.CodeRowNotFound,
			fmt.Sprintf("no row with identity %s", id))
	}
	return p, nil
}

// RowIDAt returns the identity of the row at the given physical position.
func (t *Table) RowIDAt(position int) (types.RowID, error) {
	if position < 0 || position >= len(t.order) {
		return types.ZeroRowID, types.NewViewError(types.CodeOutOfRange,
			fmt.Sprintf("position %d outside [0, %d)", position, len(t.order)))
	}
	return t.order[position], nil
}

// Values returns the stored values of a row. The returned slice is the
// table's own storage; callers must not modify or retain it.
func (t *Table) Values(id types.RowID) ([]interface{}, bool) {
	row, ok := t.rows[id]
	return row, ok
}

// Value returns one cell of a row.
func (t *Table) Value(id types.RowID, column int) (interface{}, error) {
	if column < 0 || column >= len(t.schema.Columns) {
		return nil, types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("column index %d outside [0, %d)", column, len(t.schema.Columns)))
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, types.NewTableError(types.CodeRowNotFound,
			fmt.Sprintf("no row with identity %s", id))
	}
	return row[column], nil
}

// SetValue replaces one cell of a row, type checked against the schema.
func (t *Table) SetValue(id types.RowID, column int, value interface{}) error {
	if t.closed {
		return types.NewTableError(types.CodeTableClosed, "set on closed table")
	}
	row, ok := t.rows[id]
	if !ok {
		return types.NewTableError(types.CodeRowNotFound,
			fmt.Sprintf("no row with identity %s", id))
	}
	cv, err := t.checkValue(column, value)
	if err != nil {
		return err
	}
	row[column] = cv
	if f, ok := t.filters[column]; ok {
		// The filter keeps its no-false-negative guarantee by also
		// holding the new value; the old one becomes a false positive.
		f.Add(cv)
	}
	return nil
}

// Scan walks every row once in physical order, calling fn with the row's
// identity and values. Returning false from fn stops the scan. The values
// slice is the table's own storage and must not be retained.
func (t *Table) Scan(fn func(id types.RowID, values []interface{}) bool) {
	for _, id := range t.order {
		if !fn(id, t.rows[id]) {
			return
		}
	}
}

// AddColumn appends a column to the schema, filling existing rows with the
// type's zero value. Outstanding views become stale.
func (t *Table) AddColumn(def types.ColumnDef) error {
	if t.closed {
		return types.NewTableError(types.CodeTableClosed, "schema change on closed table")
	}
	if def.Name == "" {
		return types.NewSchemaError(types.CodeInvalidSchema, "column name must not be empty")
	}
	if t.schema.ColumnIndex(def.Name) >= 0 {
		return types.NewSchemaError(types.CodeInvalidSchema,
			fmt.Sprintf("duplicate column name %q", def.Name))
	}

	t.schema.Columns = append(t.schema.Columns, def)
	zero := zeroValue(def.Type)
	for id := range t.rows {
		t.rows[id] = append(t.rows[id], zero)
	}
	t.invalidateSchema()
	return nil
}

// RemoveColumn removes the column at the given index, dropping its values
// from every row. Outstanding views become stale.
func (t *Table) RemoveColumn(index int) error {
	if t.closed {
		return types.NewTableError(types.CodeTableClosed, "schema change on closed table")
	}
	if index < 0 || index >= len(t.schema.Columns) {
		return types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("column index %d outside [0, %d)", index, len(t.schema.Columns)))
	}

	t.schema.Columns = append(t.schema.Columns[:index], t.schema.Columns[index+1:]...)
	for id, row := range t.rows {
		t.rows[id] = append(row[:index], row[index+1:]...)
	}
	t.invalidateSchema()
	return nil
}

// BuildFilter builds a membership filter over the current values of a
// column. The executor uses it to prove absence of an equality match.
// Later appends keep the filter current; schema changes drop it.
func (t *Table) BuildFilter(column int) error {
	if t.closed {
		return types.NewTableError(types.CodeTableClosed, "build filter on closed table")
	}
	if column < 0 || column >= len(t.schema.Columns) {
		return types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("column index %d outside [0, %d)", column, len(t.schema.Columns)))
	}

	f := bloom.NewColumnFilter(len(t.order), 0.01)
	for _, id := range t.order {
		f.Add(t.rows[id][column])
	}
	t.filters[column] = f
	return nil
}

// Filter returns the membership filter for a column, or nil if none was built.
func (t *Table) Filter(column int) *bloom.ColumnFilter {
	return t.filters[column]
}

// invalidateSchema bumps the generation and drops column filters whose
// column indices no longer line up.
func (t *Table) invalidateSchema() {
	t.gen++
	t.filters = make(map[int]*bloom.ColumnFilter)
}

// checkValue canonicalizes a value and checks it against the column type.
func (t *Table) checkValue(column int, value interface{}) (interface{}, error) {
	if column < 0 || column >= len(t.schema.Columns) {
		return nil, types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("column index %d outside [0, %d)", column, len(t.schema.Columns)))
	}
	col := t.schema.Columns[column]

	cv, vt, err := types.Canonical(value)
	if err != nil {
		return nil, err
	}
	if !types.AssignableTo(vt, col.Type) {
		return nil, types.NewSchemaError(types.CodeTypeMismatch,
			fmt.Sprintf("%s value for %s column %q", vt, col.Type, col.Name))
	}
	if vt == types.TypeInt && col.Type == types.TypeFloat {
		cv = float64(cv.(int64))
	}
	return cv, nil
}

// zeroValue returns the canonical zero value for a column type.
func zeroValue(t types.Type) interface{} {
	switch t {
	case types.TypeInt:
		return int64(0)
	case types.TypeFloat:
		return float64(0)
	case types.TypeString:
		return ""
	case types.TypeBool:
		return false
	case types.TypeDate:
		return time.Time{}
	case types.TypeBinary:
		return []byte(nil)
	case types.TypeLink:
		return types.ZeroRowID
	default:
		// Mixed columns default to integer zero.
		return int64(0)
	}
}
