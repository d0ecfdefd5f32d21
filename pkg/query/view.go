package query

import (
	"fmt"

	"github.com/tabulon/tabulon/pkg/table"
	"github.com/tabulon/tabulon/pkg/types"
)

// TabularView is the capability set shared by every view kind: an ordered,
// position-indexable sequence of row identities with read, removal and
// re-query operations. Both the all-rows view of a table and the filtered
// result of a query implement it through the one View type.
type TabularView interface {
	RowCount() int
	ColumnCount() int
	RowAt(position int) (*table.Row, error)
	At(position int) (*table.Row, error)
	FirstRow() (*table.Row, error)
	LastRow() (*table.Row, error)
	ColumnType(index int) (types.Type, error)
	RowIDAt(position int) (types.RowID, error)
	RemoveRowAt(position int) error
	RemoveAllRows() error
	Where() *Query
}

// View is a snapshot sequence of row identities over a base table. It
// reflects the table's row set as of execute time: row deletions elsewhere
// do not reorder it, and schema changes on the table make it stale.
//
// The view holds a non-owning reference to its table; it never outlives
// the table silently — operations on a view of a closed table fail with
// TABLE_CLOSED, and on a schema-drifted table with STALE_VIEW.
type View struct {
	t    *table.Table
	rows []types.RowID
	gen  uint64
}

var _ TabularView = (*View)(nil)

// All returns the view of every row of the table, in physical order.
func All(t *table.Table) *View {
	rows := make([]types.RowID, 0, t.RowCount())
	t.Scan(func(id types.RowID, _ []interface{}) bool {
		rows = append(rows, id)
		return true
	})
	return &View{t: t, rows: rows, gen: t.Generation()}
}

// Table returns the view's base table.
func (v *View) Table() *table.Table {
	return v.t
}

// RowCount returns the number of rows in the view. O(1).
func (v *View) RowCount() int {
	return len(v.rows)
}

// ColumnCount returns the number of columns of the base table.
func (v *View) ColumnCount() int {
	return v.t.ColumnCount()
}

// IDs returns a copy of the view's row identity sequence.
func (v *View) IDs() []types.RowID {
	ids := make([]types.RowID, len(v.rows))
	copy(ids, v.rows)
	return ids
}

// RowIDAt resolves a view position to the row's stable identity. O(1).
func (v *View) RowIDAt(position int) (types.RowID, error) {
	if err := v.check(); err != nil {
		return types.ZeroRowID, err
	}
	if position < 0 || position >= len(v.rows) {
		return types.ZeroRowID, v.outOfRange(position)
	}
	return v.rows[position], nil
}

// RowAt materializes the row at the given position.
func (v *View) RowAt(position int) (*table.Row, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	if position < 0 || position >= len(v.rows) {
		return nil, v.outOfRange(position)
	}
	return table.NewRow(v.t, v.rows[position])
}

// At is index-based materialization sugar with semantics identical to RowAt.
func (v *View) At(position int) (*table.Row, error) {
	return v.RowAt(position)
}

// FirstRow materializes the row at position 0. On an empty view it returns
// (nil, nil): no row is not an error for callers probing speculatively.
func (v *View) FirstRow() (*table.Row, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	if len(v.rows) == 0 {
		return nil, nil
	}
	return v.RowAt(0)
}

// LastRow materializes the row at position RowCount-1, or (nil, nil) on an
// empty view.
func (v *View) LastRow() (*table.Row, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	if len(v.rows) == 0 {
		return nil, nil
	}
	return v.RowAt(len(v.rows) - 1)
}

// ColumnType returns the type of the base table column at the given index.
func (v *View) ColumnType(index int) (types.Type, error) {
	if err := v.check(); err != nil {
		return 0, err
	}
	return v.t.ColumnType(index)
}

// RemoveRowAt removes the row at the given position from the view and
// deletes it from the underlying table. This is a destructive table
// operation, not merely a filter withdrawal. Positions after the removed
// one shift down by one; identities of the remaining rows are unaffected.
func (v *View) RemoveRowAt(position int) error {
	if err := v.check(); err != nil {
		return err
	}
	if position < 0 || position >= len(v.rows) {
		return v.outOfRange(position)
	}
	if err := v.t.DeleteRow(v.rows[position]); err != nil {
		return err
	}
	v.rows = append(v.rows[:position], v.rows[position+1:]...)
	return nil
}

// RemoveAllRows deletes every row referenced by the view from the
// underlying table and empties the view. The operation is atomic with
// respect to observers of the table: identities are validated up front, so
// either every row disappears or nothing is removed and PARTIAL_REMOVE
// reports the failure.
func (v *View) RemoveAllRows() error {
	if err := v.check(); err != nil {
		return err
	}

	for _, id := range v.rows {
		if !v.t.HasRow(id) {
			return types.NewViewError(types.CodePartialRemove,
				fmt.Sprintf("row %s no longer in table; no rows removed", id))
		}
	}

	for i, id := range v.rows {
		if err := v.t.DeleteRow(id); err != nil {
			v.rows = v.rows[i:]
			return types.Wrap(types.ErrCategoryView, types.CodePartialRemove,
				fmt.Sprintf("removed %d rows before failing", i), err)
		}
	}
	v.rows = nil
	return nil
}

// Where returns a new query scoped to the view's current result set, so a
// view can be refined further without re-materializing the base table.
func (v *View) Where() *Query {
	q := New(v.t)
	q.gen = v.gen
	q.scope = v.IDs()
	return q
}

// check fails fast when the base table was closed or its schema changed
// after the view was built.
func (v *View) check() error {
	if v.t.IsClosed() {
		return types.NewTableError(types.CodeTableClosed, "view on closed table")
	}
	if v.gen != v.t.Generation() {
		return types.NewViewError(types.CodeStaleView,
			"table schema changed since the view was built")
	}
	return nil
}

func (v *View) outOfRange(position int) error {
	return types.NewViewError(types.CodeOutOfRange,
		fmt.Sprintf("position %d outside [0, %d)", position, len(v.rows)))
}
